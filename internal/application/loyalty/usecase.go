package loyalty

import (
	"context"
	"fmt"

	"github.com/Zhima-Mochi/minishop-reservation/internal/application"
	domorder "github.com/Zhima-Mochi/minishop-reservation/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-reservation/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const (
	loyaltyService = "loyalty-service"
	useCaseAccrue  = "loyalty.accrue"
)

type AccrualResult struct {
	OrderID  string
	Credited bool
}

// AccrueUseCase credits the buyer of a completed order.
type AccrueUseCase struct {
	accruer Accruer
	obs     application.Instruments
}

func NewAccrueUseCase(accruer Accruer, tel observability.Observability) *AccrueUseCase {
	return &AccrueUseCase{accruer: accruer, obs: application.NewInstruments(tel, loyaltyService)}
}

func (uc *AccrueUseCase) Execute(ctx context.Context, evt domorder.OrderCompletedEvent) (_ *AccrualResult, err error) {
	ctx, call := uc.obs.Begin(ctx, useCaseAccrue, "AccrueLoyalty",
		attribute.String("order.id", evt.OrderID),
		attribute.String("order.user_id", evt.UserID),
	)
	defer func() { call.End(err) }()

	call.Field("order_id", evt.OrderID)
	if evt.OrderID == "" || evt.UserID == "" {
		call.Fail("EVENT_INCOMPLETE")
		return nil, application.Validation("order and user id are required")
	}

	credited, err := uc.accruer.Accrue(ctx, evt.UserID, evt.OrderID, evt.Total)
	if err != nil {
		call.Fail("ACCRUE_FAILED")
		return nil, fmt.Errorf("loyalty: accrue: %w", err)
	}
	if !credited {
		call.Note("success", "ALREADY_CREDITED")
	}
	return &AccrualResult{OrderID: evt.OrderID, Credited: credited}, nil
}
