package saga

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompensateRunsNewestFirst(t *testing.T) {
	t.Parallel()

	var order []string
	s := New("checkout")
	for _, name := range []string{"create_order", "reserve_a", "reserve_b"} {
		name := name
		s.Add(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, s.Compensate(context.Background()))
	assert.Equal(t, []string{"reserve_b", "reserve_a", "create_order"}, order)
	assert.Zero(t, s.Len())
}

func TestCompensateContinuesPastFailures(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	ran := 0
	s := New("checkout")
	s.Add("delete_order", func(context.Context) error { ran++; return nil })
	s.Add("release_a", func(context.Context) error { ran++; return boom })

	err := s.Compensate(context.Background())
	require.ErrorIs(t, err, ErrCompensationFailed)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 2, ran)

	var ce *CompensationError
	require.True(t, errors.As(err, &ce))
	require.Len(t, ce.Failures, 1)
	assert.Equal(t, "release_a", ce.Failures[0].Step)
	assert.Contains(t, err.Error(), "saga checkout")
}

func TestCompensateIgnoresCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New("tx")
	s.Add("undo", func(ctx context.Context) error { return ctx.Err() })
	assert.NoError(t, s.Compensate(ctx))
}

func TestTransactorRollsBackOnError(t *testing.T) {
	t.Parallel()

	undone := false
	fail := errors.New("persist failed")
	err := Transactor{}.WithinTx(context.Background(), func(ctx context.Context) error {
		Record(ctx, "release", func(context.Context) error { undone = true; return nil })
		return fail
	})
	assert.ErrorIs(t, err, fail)
	assert.True(t, undone)
}

func TestTransactorCommitForgets(t *testing.T) {
	t.Parallel()

	undone := false
	err := Transactor{}.WithinTx(context.Background(), func(ctx context.Context) error {
		Record(ctx, "release", func(context.Context) error { undone = true; return nil })
		return nil
	})
	require.NoError(t, err)
	assert.False(t, undone)
}

func TestTransactorNestedJoinsOuter(t *testing.T) {
	t.Parallel()

	var undone []string
	tx := Transactor{Name: "outer"}
	err := tx.WithinTx(context.Background(), func(ctx context.Context) error {
		Record(ctx, "first", func(context.Context) error { undone = append(undone, "first"); return nil })
		require.NoError(t, tx.WithinTx(ctx, func(ctx context.Context) error {
			Record(ctx, "second", func(context.Context) error { undone = append(undone, "second"); return nil })
			return nil
		}))
		return errors.New("late failure")
	})
	require.Error(t, err)
	assert.Equal(t, []string{"second", "first"}, undone)
}

func TestTransactorReportsCompensationFailure(t *testing.T) {
	t.Parallel()

	err := Transactor{}.WithinTx(context.Background(), func(ctx context.Context) error {
		Record(ctx, "restore", func(context.Context) error { return errors.New("stock gone") })
		return errors.New("persist failed")
	})
	assert.ErrorIs(t, err, ErrCompensationFailed)
}

func TestRecordOutsideJournalIsNoop(t *testing.T) {
	t.Parallel()

	Record(context.Background(), "x", func(context.Context) error { return nil })
	assert.Nil(t, JournalFrom(context.Background()))
}
