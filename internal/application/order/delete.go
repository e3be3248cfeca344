package order

import (
	"context"

	"github.com/Zhima-Mochi/minishop-reservation/internal/application"
	dominventory "github.com/Zhima-Mochi/minishop-reservation/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/minishop-reservation/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-reservation/internal/observability"
	"github.com/Zhima-Mochi/minishop-reservation/internal/pkg/keylock"

	"go.opentelemetry.io/otel/attribute"
)

const useCaseDelete = "order.delete"

// DeleteOrderUseCase removes an order, giving back any stock it still holds.
type DeleteOrderUseCase struct {
	repo     domorder.Repository
	ledger   dominventory.Ledger
	tx       application.Transactor
	locks    *keylock.Locker
	obs      application.Instruments
	stockOps observability.Counter
}

// NewDeleteOrderUseCase must share locks with the TransitionUseCase so a
// delete never races a transition of the same order.
func NewDeleteOrderUseCase(
	repo domorder.Repository,
	ledger dominventory.Ledger,
	tx application.Transactor,
	locks *keylock.Locker,
	tel observability.Observability,
) *DeleteOrderUseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	if locks == nil {
		locks = keylock.New()
	}
	return &DeleteOrderUseCase{
		repo:     repo,
		ledger:   ledger,
		tx:       tx,
		locks:    locks,
		obs:      application.NewInstruments(tel, orderService),
		stockOps: tel.Metrics().Counter(observability.MStockOperations),
	}
}

func (uc *DeleteOrderUseCase) Execute(ctx context.Context, orderID string) (err error) {
	ctx, call := uc.obs.Begin(ctx, useCaseDelete, "DeleteOrder", attribute.String("order.id", orderID))
	defer func() { call.End(err) }()

	if orderID == "" {
		call.Fail("ORDER_ID_REQUIRED")
		return application.Validation("order id is required")
	}

	unlock := uc.locks.Lock(orderID)
	defer unlock()

	o, err := uc.repo.Get(ctx, orderID)
	if err != nil {
		call.Fail("ORDER_LOAD_FAILED")
		return wrapRepositoryError(err)
	}
	effect := domorder.EffectNone
	if o.InventoryReserved {
		effect = domorder.EffectRelease
	}
	call.Field("effect", effect.String())

	err = uc.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := ApplyEffect(ctx, uc.ledger, o, effect, uc.stockOps); err != nil {
			return err
		}
		return uc.repo.Delete(ctx, orderID)
	})
	if err != nil {
		call.Fail("UNIT_OF_WORK_FAILED")
		call.CheckCompensation(err)
		return wrapRepositoryError(err)
	}
	return nil
}
