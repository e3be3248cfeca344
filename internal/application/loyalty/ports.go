package loyalty

import "context"

// Accruer credits loyalty points. Accrue must be idempotent per order and
// reports whether this call credited anything.
type Accruer interface {
	Accrue(ctx context.Context, userID, orderID string, amount int64) (bool, error)
}
