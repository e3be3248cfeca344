package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domain "github.com/Zhima-Mochi/minishop-reservation/internal/domain/order"
)

type OrderRepository struct {
	db *sql.DB
	tx *Transactor
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db, tx: NewTransactor(db)}
}

const orderColumns = `id, user_id, idempotency_key, total, payment_method, status,
        inventory_reserved, customer, payment_url, created_at, updated_at`

func (r *OrderRepository) Insert(ctx context.Context, order *domain.Order) error {
	if order == nil || order.ID == "" {
		return fmt.Errorf("order repository: id is required")
	}
	customer, err := json.Marshal(order.Customer)
	if err != nil {
		return fmt.Errorf("order repository: encode customer: %w", err)
	}

	return r.tx.WithinTx(ctx, func(ctx context.Context) error {
		q := `
            insert into orders (` + orderColumns + `)
            values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        `
		db := conn(ctx, r.db)
		if _, err := db.ExecContext(ctx, q,
			order.ID,
			order.UserID,
			nullable(order.IdempotencyKey),
			order.Total,
			string(order.PaymentMethod),
			string(order.Status),
			order.InventoryReserved,
			customer,
			order.PaymentURL,
			order.CreatedAt,
			order.UpdatedAt,
		); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrConflict
			}
			return err
		}

		lq := `
            insert into order_lines (order_id, product_id, quantity, price, name)
            values ($1,$2,$3,$4,$5)
        `
		for _, l := range order.Lines {
			if _, err := db.ExecContext(ctx, lq, order.ID, l.ProductID, l.Quantity, l.Price, l.Name); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	q := `select ` + orderColumns + ` from orders where id = $1`
	return r.one(ctx, q, id)
}

func (r *OrderRepository) FindByIdempotency(ctx context.Context, userID, key string) (*domain.Order, error) {
	if key == "" {
		return nil, domain.ErrNotFound
	}
	q := `select ` + orderColumns + ` from orders where user_id = $1 and idempotency_key = $2`
	return r.one(ctx, q, userID, key)
}

func (r *OrderRepository) Update(ctx context.Context, order *domain.Order, expected domain.Status) error {
	if order == nil || order.ID == "" {
		return fmt.Errorf("order repository: id is required")
	}
	q := `
        update orders
        set status = $2, inventory_reserved = $3, payment_url = $4, updated_at = $5
        where id = $1 and status = $6
    `
	res, err := conn(ctx, r.db).ExecContext(ctx, q,
		order.ID,
		string(order.Status),
		order.InventoryReserved,
		order.PaymentURL,
		order.UpdatedAt,
		string(expected),
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 1 {
		return nil
	}

	current, err := r.Get(ctx, order.ID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: expected status %s, found %s", domain.ErrConflict, expected, current.Status)
}

// Delete removes the order; its lines go with it through the foreign key.
func (r *OrderRepository) Delete(ctx context.Context, id string) error {
	res, err := conn(ctx, r.db).ExecContext(ctx, `delete from orders where id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *OrderRepository) ListStaleReservations(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `
        select ` + orderColumns + `
        from orders
        where status = $1 and inventory_reserved and created_at < $2
        order by created_at
        limit $3
    `
	rows, err := conn(ctx, r.db).QueryContext(ctx, q, string(domain.StatusPending), olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadLines(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *OrderRepository) one(ctx context.Context, q string, args ...any) (*domain.Order, error) {
	o, err := scanOrder(conn(ctx, r.db).QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadLines(ctx, []*domain.Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *OrderRepository) loadLines(ctx context.Context, orders []*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	byID := make(map[string]*domain.Order, len(orders))
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	q := `
        select order_id, product_id, quantity, price, name
        from order_lines
        where order_id = any($1)
        order by order_id, product_id
    `
	rows, err := conn(ctx, r.db).QueryContext(ctx, q, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var orderID string
		var l domain.Line
		if err := rows.Scan(&orderID, &l.ProductID, &l.Quantity, &l.Price, &l.Name); err != nil {
			return err
		}
		if o, ok := byID[orderID]; ok {
			o.Lines = append(o.Lines, l)
		}
	}
	return rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (*domain.Order, error) {
	var (
		o        domain.Order
		key      sql.NullString
		method   string
		status   string
		customer []byte
	)
	if err := s.Scan(
		&o.ID,
		&o.UserID,
		&key,
		&o.Total,
		&method,
		&status,
		&o.InventoryReserved,
		&customer,
		&o.PaymentURL,
		&o.CreatedAt,
		&o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	o.IdempotencyKey = key.String
	o.PaymentMethod = domain.PaymentMethod(method)
	o.Status = domain.Status(status)
	if len(customer) > 0 {
		if err := json.Unmarshal(customer, &o.Customer); err != nil {
			return nil, fmt.Errorf("order repository: decode customer: %w", err)
		}
	}
	return &o, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
