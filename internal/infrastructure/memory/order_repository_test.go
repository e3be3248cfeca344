package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/Zhima-Mochi/minishop-reservation/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-reservation/internal/pkg/saga"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrder(t *testing.T, id string) *domain.Order {
	t.Helper()
	o, err := domain.New(id, "u-1", domain.PaymentCOD, domain.Customer{}, []domain.Line{{ProductID: "A", Quantity: 1, Price: 10}}, 0)
	require.NoError(t, err)
	return o
}

func TestOrderRepositoryInsertGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := NewOrderRepository()
	o := newOrder(t, "o-1")
	o.IdempotencyKey = "k-1"
	require.NoError(t, r.Insert(ctx, o))
	assert.ErrorIs(t, r.Insert(ctx, o), domain.ErrConflict)

	got, err := r.Get(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	got.Lines[0].Quantity = 50
	again, _ := r.Get(ctx, "o-1")
	assert.Equal(t, 1, again.Lines[0].Quantity)

	byKey, err := r.FindByIdempotency(ctx, "u-1", "k-1")
	require.NoError(t, err)
	assert.Equal(t, "o-1", byKey.ID)
	_, err = r.FindByIdempotency(ctx, "u-2", "k-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = r.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOrderRepositoryUpdateRejectsStaleStatus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := NewOrderRepository()
	o := newOrder(t, "o-1")
	require.NoError(t, r.Insert(ctx, o))

	first := o.Clone()
	_, err := first.TransitionTo(domain.StatusConfirmed)
	require.NoError(t, err)
	require.NoError(t, r.Update(ctx, first, domain.StatusPending))

	stale := o.Clone()
	_, err = stale.TransitionTo(domain.StatusCanceled)
	require.NoError(t, err)
	assert.ErrorIs(t, r.Update(ctx, stale, domain.StatusPending), domain.ErrConflict)

	got, _ := r.Get(ctx, "o-1")
	assert.Equal(t, domain.StatusConfirmed, got.Status)
}

func TestOrderRepositoryJournal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := NewOrderRepository()
	kept := newOrder(t, "kept")
	require.NoError(t, r.Insert(ctx, kept))

	err := saga.Transactor{}.WithinTx(ctx, func(ctx context.Context) error {
		require.NoError(t, r.Insert(ctx, newOrder(t, "new")))
		updated := kept.Clone()
		_, err := updated.TransitionTo(domain.StatusProcessing)
		require.NoError(t, err)
		require.NoError(t, r.Update(ctx, updated, domain.StatusPending))
		require.NoError(t, r.Delete(ctx, "kept"))
		return errors.New("abort")
	})
	require.Error(t, err)

	_, err = r.Get(ctx, "new")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	got, err := r.Get(ctx, "kept")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
}

func TestOrderRepositoryListStaleReservations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := NewOrderRepository()
	now := time.Now().UTC()

	for i, id := range []string{"old-2", "old-1", "fresh", "unreserved", "confirmed"} {
		o := newOrder(t, id)
		o.CreatedAt = now.Add(-time.Duration(10-i) * time.Hour)
		switch id {
		case "fresh":
			o.CreatedAt = now
			o.MarkReserved()
		case "unreserved":
		case "confirmed":
			o.MarkReserved()
			_, err := o.TransitionTo(domain.StatusConfirmed)
			require.NoError(t, err)
		default:
			o.MarkReserved()
		}
		require.NoError(t, r.Insert(ctx, o))
	}

	stale, err := r.ListStaleReservations(ctx, now.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	assert.Equal(t, "old-2", stale[0].ID)
	assert.Equal(t, "old-1", stale[1].ID)

	limited, err := r.ListStaleReservations(ctx, now.Add(-time.Hour), 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestCartAndLoyaltyStores(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewCartStore()
	c.Put("u-1", domain.Line{ProductID: "A", Quantity: 1})
	assert.Len(t, c.Items("u-1"), 1)
	require.NoError(t, c.Clear(ctx, "u-1"))
	assert.Empty(t, c.Items("u-1"))

	l := NewLoyaltyStore()
	ok, err := l.Accrue(ctx, "u-1", "o-1", 500)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = l.Accrue(ctx, "u-1", "o-1", 500)
	assert.False(t, ok)
	assert.Equal(t, int64(500), l.Balance("u-1"))
}
