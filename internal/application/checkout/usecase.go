package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-reservation/internal/application"
	dominventory "github.com/Zhima-Mochi/minishop-reservation/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/minishop-reservation/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-reservation/internal/domain/outbox"
	dompayment "github.com/Zhima-Mochi/minishop-reservation/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-reservation/internal/observability"
	"github.com/Zhima-Mochi/minishop-reservation/internal/pkg/keylock"
	"github.com/Zhima-Mochi/minishop-reservation/internal/pkg/saga"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	checkoutService     = "checkout-service"
	useCasePlaceOrder   = "checkout.place_order"
	gatewayPeer         = "payment_gateway"
	gatewayEndpoint     = "create_link"
	availabilityWorkers = 8
)

var (
	ErrPaymentLinkFailed = dompayment.ErrLinkFailed
	ErrRepository        = errors.New("checkout: repository failure")
)

type PlaceOrderInput struct {
	IdempotencyKey string
	UserID         string
	PaymentMethod  domorder.PaymentMethod
	Customer       domorder.Customer
	Lines          []domorder.Line
	// Total in minor units; zero means sum of the lines.
	Total int64
}

type PlaceOrderResult struct {
	Order    *domorder.Order
	Replayed bool
}

// PlaceOrderUseCase turns a cart into a pending order holding stock for every
// line. A failure after the order exists is compensated before returning, so
// callers never observe a half-reserved order. Once the reservation is
// recorded on the order, stock belongs to the order's status transitions and
// checkout only compensates while the order is still pending and reserved.
type PlaceOrderUseCase struct {
	repo        domorder.Repository
	ledger      dominventory.Ledger
	gateway     dompayment.Gateway
	cart        CartClearer
	idGenerator application.IDGenerator
	publisher   domoutbox.Publisher
	locks       *keylock.Locker

	obs      application.Instruments
	stockOps observability.Counter // stock_operations_total{op,outcome}
}

func NewPlaceOrderUseCase(
	repo domorder.Repository,
	ledger dominventory.Ledger,
	gateway dompayment.Gateway,
	cart CartClearer,
	idGen application.IDGenerator,
	publisher domoutbox.Publisher,
	locks *keylock.Locker,
	tel observability.Observability,
) *PlaceOrderUseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	if locks == nil {
		locks = keylock.New()
	}
	return &PlaceOrderUseCase{
		repo:        repo,
		ledger:      ledger,
		gateway:     gateway,
		cart:        cart,
		idGenerator: idGen,
		publisher:   publisher,
		locks:       locks,
		obs:         application.NewInstruments(tel, checkoutService),
		stockOps:    tel.Metrics().Counter(observability.MStockOperations),
	}
}

func (uc *PlaceOrderUseCase) Execute(ctx context.Context, cmd PlaceOrderInput) (_ *PlaceOrderResult, err error) {
	ctx, call := uc.obs.Begin(ctx, useCasePlaceOrder, "PlaceOrder",
		attribute.String("order.user_id", cmd.UserID),
		attribute.String("order.payment_method", string(cmd.PaymentMethod)),
		attribute.Int("order.lines", len(cmd.Lines)),
	)
	defer func() { call.End(err) }()

	if cmd.UserID == "" {
		call.Fail("USER_ID_REQUIRED")
		return nil, application.Validation("user id is required")
	}
	if err := ctx.Err(); err != nil {
		call.Fail("CONTEXT_CANCELED")
		return nil, err
	}

	if cmd.IdempotencyKey != "" {
		existing, repoErr := uc.repo.FindByIdempotency(ctx, cmd.UserID, cmd.IdempotencyKey)
		switch {
		case repoErr == nil:
			uc.replayed(call, existing)
			return &PlaceOrderResult{Order: existing, Replayed: true}, nil
		case errors.Is(repoErr, domorder.ErrNotFound):
			// continue
		default:
			call.Fail("IDEMPOTENCY_LOOKUP_FAILED")
			return nil, fmt.Errorf("%w: %w", ErrRepository, repoErr)
		}
	}

	entity, err := domorder.New(uc.idGenerator.NewID(), cmd.UserID, cmd.PaymentMethod, cmd.Customer, cmd.Lines, cmd.Total)
	if err != nil {
		call.Fail("DOMAIN_CONSTRUCTION_FAILED")
		return nil, err
	}
	entity.IdempotencyKey = cmd.IdempotencyKey
	call.Field("order_id", entity.ID)
	call.Span().SetAttributes(attribute.String("order.id", entity.ID))

	if err := uc.checkAvailability(ctx, entity.Lines); err != nil {
		call.Fail("AVAILABILITY_CHECK_FAILED")
		return nil, err
	}

	// Shared with status transitions and deletes, so nothing touches the
	// order until its reservation is recorded.
	unlock := uc.locks.Lock(entity.ID)
	defer func() { unlock() }()

	if err := uc.repo.Insert(ctx, entity); err != nil {
		if errors.Is(err, domorder.ErrConflict) && cmd.IdempotencyKey != "" {
			if existing, lookupErr := uc.repo.FindByIdempotency(ctx, cmd.UserID, cmd.IdempotencyKey); lookupErr == nil {
				uc.replayed(call, existing)
				return &PlaceOrderResult{Order: existing, Replayed: true}, nil
			}
		}
		call.Fail("REPO_INSERT_FAILED")
		return nil, fmt.Errorf("%w: %w", ErrRepository, err)
	}

	rollback := saga.New("checkout " + entity.ID)
	rollback.Add("delete order "+entity.ID, func(ctx context.Context) error {
		return uc.repo.Delete(ctx, entity.ID)
	})
	// compensate undoes everything recorded so far and folds a failed
	// rollback into the returned error.
	compensate := func(cause error, status string) error {
		call.Fail(status)
		if cerr := rollback.Compensate(ctx); cerr != nil {
			joined := errors.Join(cause, cerr)
			call.CheckCompensation(joined)
			return joined
		}
		call.Span().AddEvent("checkout.compensated")
		return cause
	}

	for _, l := range entity.Lines {
		if err := uc.ledger.Reserve(ctx, l.ProductID, l.Quantity); err != nil {
			uc.countStock(dominventory.OpReserve, "error")
			return nil, compensate(err, "RESERVATION_FAILED")
		}
		uc.countStock(dominventory.OpReserve, "success")

		productID, qty := l.ProductID, l.Quantity
		rollback.Add("release "+productID, func(ctx context.Context) error {
			_, err := uc.ledger.Release(ctx, productID, qty)
			uc.countStock(dominventory.OpRelease, observability.Outcome(err))
			return err
		})
	}

	entity.MarkReserved()
	if err := uc.repo.Update(ctx, entity, domorder.StatusPending); err != nil {
		return nil, compensate(fmt.Errorf("%w: %w", ErrRepository, err), "MARK_RESERVED_FAILED")
	}

	if entity.PaymentMethod == domorder.PaymentOnline {
		// The provider may call back before CreateLink returns, and the
		// webhook needs this lock.
		unlock()
		unlock = func() {}
		link, linkErr := uc.createLink(ctx, entity)
		unlock = uc.locks.Lock(entity.ID)

		current, err := uc.repo.Get(ctx, entity.ID)
		if err != nil {
			// Deleted meanwhile; the delete released the stock.
			rollback.Forget()
			call.Fail("ORDER_RELOAD_FAILED")
			return nil, fmt.Errorf("%w: %w", ErrRepository, err)
		}
		switch {
		case current.Status != domorder.StatusPending || !current.InventoryReserved:
			uc.movedOn(call, current, linkErr)
		case linkErr != nil:
			return nil, compensate(fmt.Errorf("%w: %w", ErrPaymentLinkFailed, linkErr), "PAYMENT_LINK_FAILED")
		default:
			current.SetPaymentURL(link.URL)
			if err := uc.repo.Update(ctx, current, domorder.StatusPending); err != nil {
				if !errors.Is(err, domorder.ErrConflict) {
					return nil, compensate(fmt.Errorf("%w: %w", ErrRepository, err), "PAYMENT_URL_SAVE_FAILED")
				}
				if current, err = uc.repo.Get(ctx, entity.ID); err != nil {
					rollback.Forget()
					call.Fail("ORDER_RELOAD_FAILED")
					return nil, fmt.Errorf("%w: %w", ErrRepository, err)
				}
				uc.movedOn(call, current, nil)
			}
		}
		entity = current
	}
	rollback.Forget()

	if uc.cart != nil {
		if err := uc.cart.Clear(ctx, entity.UserID); err != nil {
			call.Logger().Warn("cart_clear_failed",
				observability.F("user_id", entity.UserID),
				observability.F("error", err.Error()),
			)
		}
	}

	call.Publish(ctx, uc.publisher, domorder.NewOrderCreatedEvent(entity))
	call.Span().SetAttributes(attribute.String("order.status", string(entity.Status)))
	call.Span().AddEvent("order.created",
		trace.WithAttributes(attribute.String("order.id", entity.ID)),
	)

	return &PlaceOrderResult{Order: entity}, nil
}

// checkAvailability rejects the checkout before anything is written when any
// line cannot be served right now. Reserve re-checks atomically later.
func (uc *PlaceOrderUseCase) checkAvailability(ctx context.Context, lines []domorder.Line) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(availabilityWorkers)
	for _, l := range lines {
		g.Go(func() error {
			a, err := uc.ledger.Availability(gctx, l.ProductID)
			if err != nil {
				return err
			}
			if a.Available < l.Quantity {
				return &dominventory.InsufficientStockError{
					ProductID: l.ProductID,
					Requested: l.Quantity,
					Available: a.Available,
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func (uc *PlaceOrderUseCase) createLink(ctx context.Context, o *domorder.Order) (dompayment.Link, error) {
	if uc.gateway == nil {
		return dompayment.Link{}, errors.New("checkout: no payment gateway configured")
	}
	start := time.Now()
	link, err := uc.gateway.CreateLink(ctx, dompayment.LinkRequest{
		OrderID:     o.ID,
		RequestID:   uc.idGenerator.NewID(),
		Amount:      o.Total,
		Description: "Payment for order " + o.ID,
	})
	uc.obs.External(gatewayPeer, gatewayEndpoint, observability.Outcome(err), start)
	return link, err
}

// movedOn records that the order left pending while the payment link was
// being created. Its transitions own the reservation from here on.
func (uc *PlaceOrderUseCase) movedOn(call *application.Call, current *domorder.Order, linkErr error) {
	call.Field("moved_to", string(current.Status))
	call.Span().AddEvent("order.moved_during_checkout",
		trace.WithAttributes(attribute.String("order.status", string(current.Status))),
	)
	if linkErr != nil {
		call.Logger().Warn("payment_link_failed_after_callback",
			observability.F("order_id", current.ID),
			observability.F("status", string(current.Status)),
			observability.F("error", linkErr.Error()),
		)
	}
}

func (uc *PlaceOrderUseCase) replayed(call *application.Call, existing *domorder.Order) {
	call.Note("success", "IDEMPOTENT_REPLAY")
	call.Field("order_id", existing.ID)
	call.Span().SetAttributes(attribute.String("order.status", string(existing.Status)))
	call.Span().AddEvent("order.idempotent_replay",
		trace.WithAttributes(attribute.String("order.id", existing.ID)),
	)
}

func (uc *PlaceOrderUseCase) countStock(op, outcome string) {
	uc.stockOps.Add(1, observability.L("op", op), observability.L("outcome", outcome))
}
