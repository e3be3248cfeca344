package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/Zhima-Mochi/minishop-reservation/internal/application"
	dominventory "github.com/Zhima-Mochi/minishop-reservation/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/minishop-reservation/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-reservation/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-reservation/internal/observability"
	"github.com/Zhima-Mochi/minishop-reservation/internal/pkg/keylock"

	"go.opentelemetry.io/otel/attribute"
)

const (
	orderService         = "order-service"
	useCaseTransition    = "order.transition"
	useCasePaymentFailed = "order.payment_failed"
)

var (
	ErrConflict   = domorder.ErrConflict
	ErrNotFound   = domorder.ErrNotFound
	ErrRepository = errors.New("order: repository failure")
)

type TransitionInput struct {
	OrderID string
	Status  domorder.Status
}

type TransitionResult struct {
	Order  *domorder.Order
	From   domorder.Status
	Effect domorder.Effect
}

// TransitionUseCase moves an order through the state machine and applies the
// matching inventory effect in the same unit of work. Transitions of one order
// are serialized by a per-order lock; the repository compare-and-set on the
// previous status rejects anything that slipped past it.
type TransitionUseCase struct {
	repo      domorder.Repository
	ledger    dominventory.Ledger
	tx        application.Transactor
	locks     *keylock.Locker
	publisher domoutbox.Publisher

	obs         application.Instruments
	transitions observability.Counter // order_transitions_total{from,to,outcome}
	stockOps    observability.Counter // stock_operations_total{op,outcome}
}

func NewTransitionUseCase(
	repo domorder.Repository,
	ledger dominventory.Ledger,
	tx application.Transactor,
	locks *keylock.Locker,
	publisher domoutbox.Publisher,
	tel observability.Observability,
) *TransitionUseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	if locks == nil {
		locks = keylock.New()
	}
	return &TransitionUseCase{
		repo:        repo,
		ledger:      ledger,
		tx:          tx,
		locks:       locks,
		publisher:   publisher,
		obs:         application.NewInstruments(tel, orderService),
		transitions: tel.Metrics().Counter(observability.MOrderTransitions),
		stockOps:    tel.Metrics().Counter(observability.MStockOperations),
	}
}

// Execute applies an admin or gateway requested status change.
func (uc *TransitionUseCase) Execute(ctx context.Context, cmd TransitionInput) (_ *TransitionResult, err error) {
	ctx, call := uc.obs.Begin(ctx, useCaseTransition, "RequestTransition",
		attribute.String("order.id", cmd.OrderID),
		attribute.String("order.requested_status", string(cmd.Status)),
	)
	defer func() { call.End(err) }()

	if cmd.OrderID == "" {
		call.Fail("ORDER_ID_REQUIRED")
		return nil, application.Validation("order id is required")
	}
	if !cmd.Status.Valid() {
		call.Fail("UNKNOWN_STATUS")
		return nil, fmt.Errorf("%w: %q", domorder.ErrUnknownStatus, cmd.Status)
	}

	return uc.mutate(ctx, call, cmd.OrderID, cmd.Status, func(o *domorder.Order) (domorder.Effect, error) {
		return o.TransitionTo(cmd.Status)
	})
}

// FailPayment records a declined payment: the order becomes failed and its
// reservation is released. A replay on an already failed order returns
// ErrNoOpTransition and changes nothing.
func (uc *TransitionUseCase) FailPayment(ctx context.Context, orderID string) (_ *TransitionResult, err error) {
	ctx, call := uc.obs.Begin(ctx, useCasePaymentFailed, "FailPayment",
		attribute.String("order.id", orderID),
	)
	defer func() { call.End(err) }()

	if orderID == "" {
		call.Fail("ORDER_ID_REQUIRED")
		return nil, application.Validation("order id is required")
	}
	return uc.mutate(ctx, call, orderID, domorder.StatusFailed, (*domorder.Order).FailPayment)
}

func (uc *TransitionUseCase) mutate(
	ctx context.Context,
	call *application.Call,
	orderID string,
	to domorder.Status,
	change func(o *domorder.Order) (domorder.Effect, error),
) (*TransitionResult, error) {
	unlock := uc.locks.Lock(orderID)
	defer unlock()

	current, err := uc.repo.Get(ctx, orderID)
	if err != nil {
		call.Fail("ORDER_LOAD_FAILED")
		return nil, wrapRepositoryError(err)
	}
	from := current.Status
	call.Span().SetAttributes(attribute.String("order.status", string(from)))

	next := current.Clone()
	effect, err := change(next)
	if err != nil {
		uc.count(from, to, "rejected")
		call.Fail(rejectionStatus(err))
		return nil, err
	}

	err = uc.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := ApplyEffect(ctx, uc.ledger, next, effect, uc.stockOps); err != nil {
			return err
		}
		return uc.repo.Update(ctx, next, from)
	})
	if err != nil {
		uc.count(from, to, "error")
		call.Fail("UNIT_OF_WORK_FAILED")
		call.CheckCompensation(err)
		return nil, wrapRepositoryError(err)
	}
	uc.count(from, to, "success")

	call.Field("order_id", orderID)
	call.Field("from", string(from))
	call.Field("to", string(next.Status))
	call.Field("effect", effect.String())

	call.Publish(ctx, uc.publisher, domorder.NewOrderStatusChangedEvent(next, from, effect))
	if next.Status == domorder.StatusCompleted {
		call.Publish(ctx, uc.publisher, domorder.NewOrderCompletedEvent(next))
	}

	return &TransitionResult{Order: next, From: from, Effect: effect}, nil
}

func (uc *TransitionUseCase) count(from, to domorder.Status, outcome string) {
	uc.transitions.Add(1,
		observability.L("from", string(from)),
		observability.L("to", string(to)),
		observability.L("outcome", outcome),
	)
}

func rejectionStatus(err error) string {
	switch {
	case errors.Is(err, domorder.ErrOrderFinalized):
		return "ORDER_FINALIZED"
	case errors.Is(err, domorder.ErrNoOpTransition):
		return "NOOP_TRANSITION"
	case errors.Is(err, domorder.ErrIllegalTransition):
		return "ILLEGAL_TRANSITION"
	default:
		return "TRANSITION_REJECTED"
	}
}

// wrapRepositoryError keeps domain sentinels visible and tags everything
// else as a repository failure. Ledger errors from a rolled back effect pass
// through untouched.
func wrapRepositoryError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domorder.ErrNotFound),
		errors.Is(err, domorder.ErrConflict),
		errors.Is(err, dominventory.ErrNotFound),
		errors.Is(err, dominventory.ErrInsufficientStock):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrRepository, err)
	}
}
