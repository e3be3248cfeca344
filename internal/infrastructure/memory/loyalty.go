package memory

import (
	"context"
	"sync"
)

// LoyaltyStore accumulates completed order totals per user. Accrual is
// idempotent per order.
type LoyaltyStore struct {
	mu      sync.Mutex
	totals  map[string]int64
	accrued map[string]struct{}
}

func NewLoyaltyStore() *LoyaltyStore {
	return &LoyaltyStore{
		totals:  make(map[string]int64),
		accrued: make(map[string]struct{}),
	}
}

func (s *LoyaltyStore) Accrue(ctx context.Context, userID, orderID string, amount int64) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, done := s.accrued[orderID]; done {
		return false, nil
	}
	s.accrued[orderID] = struct{}{}
	s.totals[userID] += amount
	return true, nil
}

func (s *LoyaltyStore) Balance(userID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totals[userID]
}
