package checkout

import "context"

// CartClearer empties a shopper's cart once checkout succeeded.
type CartClearer interface {
	Clear(ctx context.Context, userID string) error
}
