package order

import (
	"context"
	"errors"
	"sync"
	"testing"

	domorder "github.com/Zhima-Mochi/minishop-reservation/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-reservation/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-reservation/internal/infrastructure/memory"
	"github.com/Zhima-Mochi/minishop-reservation/internal/observability/obstest"
	"github.com/Zhima-Mochi/minishop-reservation/internal/pkg/keylock"
	"github.com/Zhima-Mochi/minishop-reservation/internal/pkg/saga"

	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domoutbox.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e domoutbox.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventName()
	}
	return out
}

type env struct {
	ledger     *memory.Ledger
	repo       *memory.OrderRepository
	locks      *keylock.Locker
	tel        *obstest.Recorder
	publisher  *recordingPublisher
	transition *TransitionUseCase
}

func newEnv(t *testing.T, stock map[string]int) *env {
	t.Helper()

	e := &env{
		ledger:    memory.NewLedger(),
		repo:      memory.NewOrderRepository(),
		locks:     keylock.New(),
		tel:       obstest.New(),
		publisher: &recordingPublisher{},
	}
	for id, n := range stock {
		_, err := e.ledger.SetStock(context.Background(), id, n)
		require.NoError(t, err)
	}
	e.transition = NewTransitionUseCase(e.repo, e.ledger, saga.Transactor{Name: "test"}, e.locks, e.publisher, e.tel)
	return e
}

// placeReserved stores a pending order whose lines already hold stock.
func (e *env) placeReserved(t *testing.T, id string, lines ...domorder.Line) *domorder.Order {
	t.Helper()
	ctx := context.Background()

	o, err := domorder.New(id, "user-"+id, domorder.PaymentCOD, domorder.Customer{Name: "Ann"}, lines, 0)
	require.NoError(t, err)
	for _, l := range o.Lines {
		require.NoError(t, e.ledger.Reserve(ctx, l.ProductID, l.Quantity))
	}
	o.MarkReserved()
	require.NoError(t, e.repo.Insert(ctx, o))
	return o
}

func (e *env) counters(t *testing.T, productID string) (stock, reserved int) {
	t.Helper()
	a, err := e.ledger.Availability(context.Background(), productID)
	require.NoError(t, err)
	return a.Stock, a.Reserved
}

func (e *env) move(t *testing.T, orderID string, path ...domorder.Status) {
	t.Helper()
	for _, s := range path {
		_, err := e.transition.Execute(context.Background(), TransitionInput{OrderID: orderID, Status: s})
		require.NoError(t, err, "moving to %s", s)
	}
}

// faultyLedger fails the named operation for one product and can plant a
// rollback step that itself fails.
type faultyLedger struct {
	*memory.Ledger
	failConfirm   string
	failRelease   string
	brokenInverse string
}

var errLedgerDown = errors.New("ledger unavailable")

func (l *faultyLedger) Confirm(ctx context.Context, productID string, qty int) (int, error) {
	if productID == l.failConfirm {
		return 0, errLedgerDown
	}
	n, err := l.Ledger.Confirm(ctx, productID, qty)
	if err == nil && productID == l.brokenInverse {
		saga.Record(ctx, "broken inverse "+productID, func(context.Context) error { return errLedgerDown })
	}
	return n, err
}

func (l *faultyLedger) Release(ctx context.Context, productID string, qty int) (int, error) {
	if productID == l.failRelease {
		return 0, errLedgerDown
	}
	return l.Ledger.Release(ctx, productID, qty)
}

// conflictingRepo rejects every status write as stale.
type conflictingRepo struct {
	*memory.OrderRepository
}

func (conflictingRepo) Update(context.Context, *domorder.Order, domorder.Status) error {
	return domorder.ErrConflict
}
