package order

import (
	"context"

	"github.com/Zhima-Mochi/minishop-reservation/internal/application"
	domorder "github.com/Zhima-Mochi/minishop-reservation/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-reservation/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const useCaseGet = "order.get"

type GetOrderUseCase struct {
	repo domorder.Repository
	obs  application.Instruments
}

func NewGetOrderUseCase(repo domorder.Repository, tel observability.Observability) *GetOrderUseCase {
	return &GetOrderUseCase{repo: repo, obs: application.NewInstruments(tel, orderService)}
}

func (uc *GetOrderUseCase) Execute(ctx context.Context, orderID string) (_ *domorder.Order, err error) {
	ctx, call := uc.obs.Begin(ctx, useCaseGet, "GetOrder", attribute.String("order.id", orderID))
	defer func() { call.End(err) }()

	if orderID == "" {
		call.Fail("ORDER_ID_REQUIRED")
		return nil, application.Validation("order id is required")
	}
	o, err := uc.repo.Get(ctx, orderID)
	if err != nil {
		call.Fail("ORDER_LOAD_FAILED")
		return nil, wrapRepositoryError(err)
	}
	return o, nil
}
