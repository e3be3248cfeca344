package memory

import (
	"context"
	"sync"

	domorder "github.com/Zhima-Mochi/minishop-reservation/internal/domain/order"
)

// CartStore stands in for the shopper cart service.
type CartStore struct {
	mu    sync.Mutex
	carts map[string][]domorder.Line
}

func NewCartStore() *CartStore {
	return &CartStore{carts: make(map[string][]domorder.Line)}
}

func (c *CartStore) Put(userID string, lines ...domorder.Line) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.carts[userID] = append(c.carts[userID], lines...)
}

func (c *CartStore) Items(userID string) []domorder.Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domorder.Line(nil), c.carts[userID]...)
}

func (c *CartStore) Clear(ctx context.Context, userID string) error {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.carts, userID)
	return nil
}
