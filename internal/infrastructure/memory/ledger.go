package memory

import (
	"context"
	"sync"

	domain "github.com/Zhima-Mochi/minishop-reservation/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-reservation/internal/pkg/saga"
)

// Ledger keeps product counters in memory. Each product has its own mutex;
// the map lock only guards membership.
type Ledger struct {
	mu       sync.RWMutex
	products map[string]*slot
}

type slot struct {
	mu sync.Mutex
	p  domain.Product
}

func NewLedger() *Ledger {
	return &Ledger{
		products: make(map[string]*slot),
	}
}

func (l *Ledger) lookup(productID string) (*slot, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s, ok := l.products[productID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s, nil
}

func (l *Ledger) Reserve(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	s, err := l.lookup(productID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	err = s.p.Reserve(qty)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	saga.Record(ctx, "unreserve "+productID, func(context.Context) error {
		s.mu.Lock()
		s.p.Release(qty)
		s.mu.Unlock()
		return nil
	})
	return nil
}

func (l *Ledger) Release(ctx context.Context, productID string, qty int) (int, error) {
	if qty <= 0 {
		return 0, nil
	}
	s, err := l.lookup(productID)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	n := s.p.Release(qty)
	s.mu.Unlock()

	if n > 0 {
		saga.Record(ctx, "restore "+productID, func(context.Context) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			return s.p.Restore(n)
		})
	}
	return n, nil
}

func (l *Ledger) Confirm(ctx context.Context, productID string, qty int) (int, error) {
	if qty <= 0 {
		return 0, nil
	}
	s, err := l.lookup(productID)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	n := s.p.Confirm(qty)
	s.mu.Unlock()

	if n > 0 {
		saga.Record(ctx, "unconfirm "+productID, func(context.Context) error {
			s.mu.Lock()
			s.p.Unconfirm(n)
			s.mu.Unlock()
			return nil
		})
	}
	return n, nil
}

func (l *Ledger) Availability(ctx context.Context, productID string) (domain.Availability, error) {
	_ = ctx
	s, err := l.lookup(productID)
	if err != nil {
		return domain.Availability{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p.Snapshot(), nil
}

// SetStock creates the product when missing.
func (l *Ledger) SetStock(ctx context.Context, productID string, stock int) (domain.Availability, error) {
	_ = ctx
	if stock < 0 {
		return domain.Availability{}, domain.ErrInvalidQuantity
	}

	l.mu.Lock()
	s, ok := l.products[productID]
	if !ok {
		p, err := domain.NewProduct(productID, stock)
		if err != nil {
			l.mu.Unlock()
			return domain.Availability{}, err
		}
		s = &slot{p: *p}
		l.products[productID] = s
		l.mu.Unlock()

		s.mu.Lock()
		defer s.mu.Unlock()
		return s.p.Snapshot(), nil
	}
	l.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.p.SetStock(stock); err != nil {
		return domain.Availability{}, err
	}
	return s.p.Snapshot(), nil
}
