package order

import (
	"context"
	"time"
)

type Repository interface {
	Insert(ctx context.Context, order *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	FindByIdempotency(ctx context.Context, userID, key string) (*Order, error)
	// Update persists order only while the stored status still equals
	// expected; otherwise it returns ErrConflict.
	Update(ctx context.Context, order *Order, expected Status) error
	Delete(ctx context.Context, id string) error
	// ListStaleReservations returns pending orders created before olderThan
	// that still hold a reservation, oldest first.
	ListStaleReservations(ctx context.Context, olderThan time.Time, limit int) ([]*Order, error)
}
