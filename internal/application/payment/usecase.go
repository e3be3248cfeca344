package payment

import (
	"context"
	"errors"

	"github.com/Zhima-Mochi/minishop-reservation/internal/application"
	apporder "github.com/Zhima-Mochi/minishop-reservation/internal/application/order"
	domorder "github.com/Zhima-Mochi/minishop-reservation/internal/domain/order"
	dompayment "github.com/Zhima-Mochi/minishop-reservation/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-reservation/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const (
	paymentService = "payment-service"
	useCaseWebhook = "payment.webhook"
)

// Outcome tells what a callback did. Every outcome is acknowledged to the
// provider; only the logs and metrics tell them apart.
type Outcome string

const (
	OutcomePaid     Outcome = "paid"
	OutcomeFailed   Outcome = "failed"
	OutcomeNoop     Outcome = "noop"
	OutcomeIgnored  Outcome = "ignored"
	OutcomeRejected Outcome = "rejected"
)

type WebhookResult struct {
	Outcome Outcome
	Order   *domorder.Order
}

// WebhookUseCase reconciles a provider callback with the order. Replays of a
// callback are no-ops so duplicate deliveries never release twice.
type WebhookUseCase struct {
	orders OrderTransitions
	signer dompayment.Signer
	obs    application.Instruments
}

func NewWebhookUseCase(orders OrderTransitions, signer dompayment.Signer, tel observability.Observability) *WebhookUseCase {
	return &WebhookUseCase{
		orders: orders,
		signer: signer,
		obs:    application.NewInstruments(tel, paymentService),
	}
}

// Execute returns an error only for internal failures. Callers acknowledge
// the provider regardless.
func (uc *WebhookUseCase) Execute(ctx context.Context, cb dompayment.Callback) (_ *WebhookResult, err error) {
	ctx, call := uc.obs.Begin(ctx, useCaseWebhook, "PaymentWebhook",
		attribute.String("order.id", cb.OrderID),
		attribute.Int("payment.result_code", cb.ResultCode),
	)
	defer func() { call.End(err) }()

	call.Field("order_id", cb.OrderID)
	call.Field("result_code", cb.ResultCode)

	if !uc.signer.VerifyCallback(cb) {
		call.Note("ignored", "INVALID_SIGNATURE")
		call.Logger().Warn("payment_callback_rejected",
			observability.F("order_id", cb.OrderID),
			observability.F("error", dompayment.ErrInvalidSignature.Error()),
		)
		return &WebhookResult{Outcome: OutcomeIgnored}, nil
	}
	if cb.OrderID == "" {
		call.Note("ignored", "ORDER_ID_MISSING")
		return &WebhookResult{Outcome: OutcomeIgnored}, nil
	}

	var (
		res  *apporder.TransitionResult
		done Outcome
	)
	switch cb.Status() {
	case dompayment.StatusSuccess:
		done = OutcomePaid
		res, err = uc.orders.Execute(ctx, apporder.TransitionInput{OrderID: cb.OrderID, Status: domorder.StatusPaid})
	default:
		done = OutcomeFailed
		call.Field("provider_message", cb.Message)
		res, err = uc.orders.FailPayment(ctx, cb.OrderID)
	}

	switch {
	case err == nil:
		call.Note("success", string(done))
		return &WebhookResult{Outcome: done, Order: res.Order}, nil
	case errors.Is(err, domorder.ErrNoOpTransition):
		call.Note("success", "DUPLICATE_CALLBACK")
		return &WebhookResult{Outcome: OutcomeNoop}, nil
	case errors.Is(err, domorder.ErrNotFound):
		call.Note("ignored", "ORDER_NOT_FOUND")
		call.Logger().Warn("payment_callback_unknown_order", observability.F("order_id", cb.OrderID))
		return &WebhookResult{Outcome: OutcomeIgnored}, nil
	case errors.Is(err, domorder.ErrOrderFinalized), errors.Is(err, domorder.ErrIllegalTransition):
		call.Note("rejected", "TRANSITION_REJECTED")
		call.Logger().Warn("payment_callback_rejected",
			observability.F("order_id", cb.OrderID),
			observability.F("error", err.Error()),
		)
		return &WebhookResult{Outcome: OutcomeRejected}, nil
	default:
		call.Fail("RECONCILIATION_FAILED")
		return nil, err
	}
}
