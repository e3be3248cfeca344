package inventory

import (
	"context"

	"github.com/Zhima-Mochi/minishop-reservation/internal/application"
	dominventory "github.com/Zhima-Mochi/minishop-reservation/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-reservation/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const (
	inventoryService    = "inventory-service"
	useCaseAvailability = "inventory.availability"
	useCaseSetStock     = "inventory.set_stock"
)

type SetStockInput struct {
	ProductID string
	Stock     int
}

// StockUseCase exposes the read side of the ledger and admin restocking.
type StockUseCase struct {
	store    dominventory.Store
	obs      application.Instruments
	stockOps observability.Counter
}

func NewStockUseCase(store dominventory.Store, tel observability.Observability) *StockUseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	return &StockUseCase{
		store:    store,
		obs:      application.NewInstruments(tel, inventoryService),
		stockOps: tel.Metrics().Counter(observability.MStockOperations),
	}
}

func (uc *StockUseCase) Availability(ctx context.Context, productID string) (_ dominventory.Availability, err error) {
	ctx, call := uc.obs.Begin(ctx, useCaseAvailability, "Availability", attribute.String("product.id", productID))
	defer func() { call.End(err) }()

	if productID == "" {
		call.Fail("PRODUCT_ID_REQUIRED")
		return dominventory.Availability{}, application.Validation("product id is required")
	}
	a, err := uc.store.Availability(ctx, productID)
	if err != nil {
		call.Fail("AVAILABILITY_FAILED")
		return dominventory.Availability{}, err
	}
	call.Field("available", a.Available)
	return a, nil
}

// SetStock restocks a product, creating it when absent. Stock can never be
// set below what is currently reserved.
func (uc *StockUseCase) SetStock(ctx context.Context, cmd SetStockInput) (_ dominventory.Availability, err error) {
	ctx, call := uc.obs.Begin(ctx, useCaseSetStock, "SetStock",
		attribute.String("product.id", cmd.ProductID),
		attribute.Int("product.stock", cmd.Stock),
	)
	defer func() { call.End(err) }()

	if cmd.ProductID == "" {
		call.Fail("PRODUCT_ID_REQUIRED")
		return dominventory.Availability{}, application.Validation("product id is required")
	}
	if cmd.Stock < 0 {
		call.Fail("NEGATIVE_STOCK")
		return dominventory.Availability{}, application.Validation("stock must be zero or greater")
	}

	a, err := uc.store.SetStock(ctx, cmd.ProductID, cmd.Stock)
	if err != nil {
		call.Fail("SET_STOCK_FAILED")
	}
	uc.stockOps.Add(1, observability.L("op", dominventory.OpSetStock), observability.L("outcome", observability.Outcome(err)))
	if err != nil {
		return dominventory.Availability{}, err
	}
	call.Field("product_id", a.ProductID)
	call.Field("stock", a.Stock)
	return a, nil
}
