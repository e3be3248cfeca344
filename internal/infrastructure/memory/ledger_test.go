package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	domain "github.com/Zhima-Mochi/minishop-reservation/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-reservation/internal/pkg/saga"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededLedger(t *testing.T, stock map[string]int) *Ledger {
	t.Helper()
	l := NewLedger()
	for id, n := range stock {
		_, err := l.SetStock(context.Background(), id, n)
		require.NoError(t, err)
	}
	return l
}

func TestLedgerNoOversell(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := seededLedger(t, map[string]int{"A": 5})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = l.Reserve(ctx, "A", 5)
		}(i)
	}
	wg.Wait()

	succeeded, insufficient := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrInsufficientStock):
			insufficient++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, insufficient)

	a, err := l.Availability(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 5, a.Reserved)
	assert.Equal(t, 0, a.Available)
	assert.False(t, a.IsAvailable)
}

func TestLedgerManyConcurrentReservesKeepInvariant(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := seededLedger(t, map[string]int{"A": 37})

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Reserve(ctx, "A", 2); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	a, _ := l.Availability(ctx, "A")
	assert.Equal(t, 18, ok)
	assert.Equal(t, 36, a.Reserved)
	assert.LessOrEqual(t, a.Reserved, a.Stock)
}

func TestLedgerScenarioCancelThenComplete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := seededLedger(t, map[string]int{"A": 10})

	require.NoError(t, l.Reserve(ctx, "A", 3))
	a, _ := l.Availability(ctx, "A")
	assert.Equal(t, 3, a.Reserved)
	assert.Equal(t, 7, a.Available)

	n, err := l.Release(ctx, "A", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	a, _ = l.Availability(ctx, "A")
	assert.Equal(t, 0, a.Reserved)
	assert.Equal(t, 10, a.Stock)

	require.NoError(t, l.Reserve(ctx, "A", 3))
	n, err = l.Confirm(ctx, "A", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	a, _ = l.Availability(ctx, "A")
	assert.Equal(t, 7, a.Stock)
	assert.Equal(t, 0, a.Reserved)
}

func TestLedgerReleaseIsClamped(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := seededLedger(t, map[string]int{"A": 4})
	require.NoError(t, l.Reserve(ctx, "A", 2))

	n, err := l.Release(ctx, "A", 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = l.Release(ctx, "A", 1)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = l.Confirm(ctx, "A", 1)
	require.NoError(t, err)
	assert.Zero(t, n)

	a, _ := l.Availability(ctx, "A")
	assert.Equal(t, domain.Availability{ProductID: "A", Stock: 4, Available: 4, IsAvailable: true}, a)
}

func TestLedgerUnknownProduct(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := NewLedger()
	assert.ErrorIs(t, l.Reserve(ctx, "nope", 1), domain.ErrNotFound)
	_, err := l.Availability(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, l.Reserve(ctx, "nope", 0), domain.ErrInvalidQuantity)
}

func TestLedgerJournalUndoesMutations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := seededLedger(t, map[string]int{"A": 10, "B": 5})
	require.NoError(t, l.Reserve(ctx, "B", 2))

	fail := errors.New("persist failed")
	err := saga.Transactor{}.WithinTx(ctx, func(ctx context.Context) error {
		require.NoError(t, l.Reserve(ctx, "A", 4))
		_, err := l.Release(ctx, "B", 2)
		require.NoError(t, err)
		require.NoError(t, l.Reserve(ctx, "A", 1))
		_, err = l.Confirm(ctx, "A", 5)
		require.NoError(t, err)
		return fail
	})
	require.ErrorIs(t, err, fail)

	a, _ := l.Availability(ctx, "A")
	b, _ := l.Availability(ctx, "B")
	assert.Equal(t, 10, a.Stock)
	assert.Equal(t, 0, a.Reserved)
	assert.Equal(t, 5, b.Stock)
	assert.Equal(t, 2, b.Reserved)
}

func TestLedgerSetStock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := seededLedger(t, map[string]int{"A": 3})
	require.NoError(t, l.Reserve(ctx, "A", 3))

	_, err := l.SetStock(ctx, "A", 2)
	assert.ErrorIs(t, err, domain.ErrStockBelowReserved)

	a, err := l.SetStock(ctx, "A", 9)
	require.NoError(t, err)
	assert.Equal(t, 6, a.Available)

	_, err = l.SetStock(ctx, "B", -1)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
}
