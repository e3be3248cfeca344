package inventory

import "context"

// Ledger owns the stock and reserved counters. Every call is a single atomic
// read-modify-write against one product; callers never touch the counters
// directly.
type Ledger interface {
	// Reserve holds qty units, failing with *InsufficientStockError when
	// stock - reserved < qty.
	Reserve(ctx context.Context, productID string, qty int) error
	// Release drops up to qty held units. Releasing more than is held is a
	// no-op for the excess; the returned count is what was actually released.
	Release(ctx context.Context, productID string, qty int) (int, error)
	// Confirm decrements both stock and reserved by min(qty, reserved).
	Confirm(ctx context.Context, productID string, qty int) (int, error)
	Availability(ctx context.Context, productID string) (Availability, error)
}

// Stocker is the admin side of the ledger used for restocking.
type Stocker interface {
	SetStock(ctx context.Context, productID string, stock int) (Availability, error)
}

// Store is a ledger that can also be restocked.
type Store interface {
	Ledger
	Stocker
}

// Ledger operation names, used as metric labels.
const (
	OpReserve  = "reserve"
	OpRelease  = "release"
	OpConfirm  = "confirm"
	OpSetStock = "set_stock"
)
