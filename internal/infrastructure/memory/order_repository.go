package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	domain "github.com/Zhima-Mochi/minishop-reservation/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-reservation/internal/pkg/saga"
)

type OrderRepository struct {
	mu          sync.RWMutex
	orders      map[string]*domain.Order
	idempotency map[string]string
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders:      make(map[string]*domain.Order),
		idempotency: make(map[string]string),
	}
}

func idempotencyKey(userID, key string) string {
	return userID + "\x00" + key
}

func (r *OrderRepository) Insert(ctx context.Context, order *domain.Order) error {
	if order == nil || order.ID == "" {
		return fmt.Errorf("order repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return domain.ErrConflict
	}
	if key := order.IdempotencyKey; key != "" {
		if existingID, exists := r.idempotency[idempotencyKey(order.UserID, key)]; exists {
			if _, ok := r.orders[existingID]; ok {
				return domain.ErrConflict
			}
		}
	}

	r.orders[order.ID] = order.Clone()
	if key := order.IdempotencyKey; key != "" {
		r.idempotency[idempotencyKey(order.UserID, key)] = order.ID
	}

	id := order.ID
	saga.Record(ctx, "uninsert order "+id, func(context.Context) error {
		r.remove(id)
		return nil
	})
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return order.Clone(), nil
}

func (r *OrderRepository) FindByIdempotency(ctx context.Context, userID, key string) (*domain.Order, error) {
	_ = ctx
	if key == "" {
		return nil, domain.ErrNotFound
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	orderID, ok := r.idempotency[idempotencyKey(userID, key)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	order, found := r.orders[orderID]
	if !found {
		return nil, domain.ErrNotFound
	}
	return order.Clone(), nil
}

func (r *OrderRepository) Update(ctx context.Context, order *domain.Order, expected domain.Status) error {
	if order == nil || order.ID == "" {
		return fmt.Errorf("order repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, exists := r.orders[order.ID]
	if !exists {
		return domain.ErrNotFound
	}
	if prev.Status != expected {
		return fmt.Errorf("%w: expected status %s, found %s", domain.ErrConflict, expected, prev.Status)
	}
	r.orders[order.ID] = order.Clone()

	saga.Record(ctx, "restore order "+order.ID, func(context.Context) error {
		r.mu.Lock()
		r.orders[prev.ID] = prev
		r.mu.Unlock()
		return nil
	})
	return nil
}

func (r *OrderRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	prev, exists := r.orders[id]
	if !exists {
		r.mu.Unlock()
		return domain.ErrNotFound
	}
	r.removeLocked(id)
	r.mu.Unlock()

	saga.Record(ctx, "undelete order "+id, func(context.Context) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.orders[prev.ID] = prev
		if prev.IdempotencyKey != "" {
			r.idempotency[idempotencyKey(prev.UserID, prev.IdempotencyKey)] = prev.ID
		}
		return nil
	})
	return nil
}

func (r *OrderRepository) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(id)
}

func (r *OrderRepository) removeLocked(id string) {
	o, ok := r.orders[id]
	if !ok {
		return
	}
	delete(r.orders, id)
	if o.IdempotencyKey != "" {
		delete(r.idempotency, idempotencyKey(o.UserID, o.IdempotencyKey))
	}
}

func (r *OrderRepository) ListStaleReservations(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Order, error) {
	_ = ctx

	r.mu.RLock()
	out := make([]*domain.Order, 0)
	for _, o := range r.orders {
		if o.Status == domain.StatusPending && o.InventoryReserved && o.CreatedAt.Before(olderThan) {
			out = append(out, o.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
