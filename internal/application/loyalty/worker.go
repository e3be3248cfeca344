package loyalty

import (
	"context"

	"github.com/Zhima-Mochi/minishop-reservation/internal/application"
	domorder "github.com/Zhima-Mochi/minishop-reservation/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-reservation/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-reservation/internal/observability"
	"github.com/Zhima-Mochi/minishop-reservation/internal/observability/logctx"
)

const workerService = "loyalty_worker"

// Worker feeds order.completed events into the accrual use case.
type Worker struct {
	subscriber domoutbox.Subscriber
	useCase    application.UseCase[domorder.OrderCompletedEvent, *AccrualResult]
	middleware []domoutbox.Middleware

	log        observability.Logger
	reqCounter observability.Counter // usecase_requests_total{use_case,outcome}
}

func NewWorker(
	subscriber domoutbox.Subscriber,
	useCase application.UseCase[domorder.OrderCompletedEvent, *AccrualResult],
	tel observability.Observability,
	middleware ...domoutbox.Middleware,
) *Worker {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Worker{
		subscriber: subscriber,
		useCase:    useCase,
		middleware: middleware,
		log:        tel.Logger().With(observability.F("service", workerService)),
		reqCounter: tel.Metrics().Counter(observability.MUsecaseRequests),
	}
}

func (w *Worker) Start() {
	if w.subscriber == nil || w.useCase == nil {
		return
	}
	h := domoutbox.Handler(w.handleOrderCompleted)
	for i := len(w.middleware) - 1; i >= 0; i-- {
		h = w.middleware[i](h)
	}
	w.subscriber.Subscribe(domorder.OrderCompletedEvent{}.EventName(), h)
}

func (w *Worker) handleOrderCompleted(ctx context.Context, e domoutbox.Event) error {
	const useCase = "loyalty.worker.order_completed"
	evt, ok := e.(domorder.OrderCompletedEvent)
	if !ok {
		w.reqCounter.Add(1,
			observability.L("use_case", useCase),
			observability.L("outcome", "ignored"),
		)
		return nil
	}

	logger := logctx.FromOr(ctx, w.log)
	res, err := w.useCase.Execute(ctx, evt)
	if err != nil {
		logger.Warn("loyalty_accrual_failed",
			observability.F("order_id", evt.OrderID),
			observability.F("error", err.Error()),
		)
		return err
	}
	logger.Debug("loyalty_accrual_handled",
		observability.F("order_id", res.OrderID),
		observability.F("credited", res.Credited),
	)
	return nil
}
