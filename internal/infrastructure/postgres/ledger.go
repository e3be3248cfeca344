package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	domain "github.com/Zhima-Mochi/minishop-reservation/internal/domain/inventory"
)

// Ledger keeps product counters in the products table. Each operation is a
// single conditional statement, so the row lock Postgres takes for the
// update is the only mutual exclusion needed.
type Ledger struct {
	db *sql.DB
}

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) Reserve(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	q := `
        update products
        set reserved = reserved + $2, updated_at = now()
        where id = $1 and stock - reserved >= $2
    `
	res, err := conn(ctx, l.db).ExecContext(ctx, q, productID, qty)
	if err != nil {
		return fmt.Errorf("postgres ledger: reserve %s: %w", productID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 1 {
		return nil
	}

	a, err := l.Availability(ctx, productID)
	if err != nil {
		return err
	}
	return &domain.InsufficientStockError{ProductID: productID, Requested: qty, Available: a.Available}
}

func (l *Ledger) Release(ctx context.Context, productID string, qty int) (int, error) {
	if qty <= 0 {
		return 0, nil
	}
	q := `
        with cur as (
            select id, least($2::integer, reserved) as n
            from products
            where id = $1
            for update
        )
        update products p
        set reserved = p.reserved - cur.n, updated_at = now()
        from cur
        where p.id = cur.id
        returning cur.n
    `
	return l.clamped(ctx, "release", q, productID, qty)
}

func (l *Ledger) Confirm(ctx context.Context, productID string, qty int) (int, error) {
	if qty <= 0 {
		return 0, nil
	}
	q := `
        with cur as (
            select id, least($2::integer, reserved) as n
            from products
            where id = $1
            for update
        )
        update products p
        set stock = p.stock - cur.n, reserved = p.reserved - cur.n, updated_at = now()
        from cur
        where p.id = cur.id
        returning cur.n
    `
	return l.clamped(ctx, "confirm", q, productID, qty)
}

func (l *Ledger) clamped(ctx context.Context, op, q, productID string, qty int) (int, error) {
	var n int
	err := conn(ctx, l.db).QueryRowContext(ctx, q, productID, qty).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("postgres ledger: %s %s: %w", op, productID, err)
	}
	return n, nil
}

func (l *Ledger) Availability(ctx context.Context, productID string) (domain.Availability, error) {
	q := `select stock, reserved, updated_at from products where id = $1`
	p := domain.Product{ID: productID}
	err := conn(ctx, l.db).QueryRowContext(ctx, q, productID).Scan(&p.Stock, &p.Reserved, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Availability{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Availability{}, fmt.Errorf("postgres ledger: availability %s: %w", productID, err)
	}
	return p.Snapshot(), nil
}

// SetStock creates the product when missing and refuses to drop stock below
// what is currently reserved.
func (l *Ledger) SetStock(ctx context.Context, productID string, stock int) (domain.Availability, error) {
	if stock < 0 {
		return domain.Availability{}, domain.ErrInvalidQuantity
	}
	q := `
        insert into products (id, stock, reserved, updated_at)
        values ($1, $2, 0, now())
        on conflict (id) do update
        set stock = excluded.stock, updated_at = excluded.updated_at
        where products.reserved <= excluded.stock
        returning stock, reserved
    `
	p := domain.Product{ID: productID}
	err := conn(ctx, l.db).QueryRowContext(ctx, q, productID, stock).Scan(&p.Stock, &p.Reserved)
	if errors.Is(err, sql.ErrNoRows) {
		a, aerr := l.Availability(ctx, productID)
		if aerr != nil {
			return domain.Availability{}, aerr
		}
		return domain.Availability{}, fmt.Errorf("%w: reserved %d, requested stock %d", domain.ErrStockBelowReserved, a.Reserved, stock)
	}
	if err != nil {
		return domain.Availability{}, fmt.Errorf("postgres ledger: set stock %s: %w", productID, err)
	}
	return p.Snapshot(), nil
}
