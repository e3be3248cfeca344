package application

import (
	"context"
	"errors"
	"time"

	domoutbox "github.com/Zhima-Mochi/minishop-reservation/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-reservation/internal/pkg/saga"

	"github.com/Zhima-Mochi/minishop-reservation/internal/observability"
	"github.com/Zhima-Mochi/minishop-reservation/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	spanPrefix     = "UC."
	publishPeer    = "outbox"
	publishTimeout = 300 * time.Millisecond
)

// Instruments holds the RED metrics and base logger shared by the use cases
// of one service. Instruments are supplied via DI; never created per call.
type Instruments struct {
	tracer observability.Tracer
	log    observability.Logger

	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}

	extCounter   observability.Counter   // external_requests_total{peer,endpoint,outcome}
	extHistogram observability.Histogram // external_request_duration_seconds{peer,endpoint}

	compCounter observability.Counter // compensation_failures_total{use_case}
}

func NewInstruments(tel observability.Observability, service string) Instruments {
	if tel == nil {
		tel = observability.Nop()
	}
	m := tel.Metrics()
	return Instruments{
		tracer:       tel.Tracer(),
		log:          tel.Logger().With(observability.F("service", service)),
		reqCounter:   m.Counter(observability.MUsecaseRequests),
		durHistogram: m.Histogram(observability.MUsecaseDuration),
		extCounter:   m.Counter(observability.MExternalRequests),
		extHistogram: m.Histogram(observability.MExternalRequestDuration),
		compCounter:  m.Counter(observability.MCompensationFailures),
	}
}

func (in Instruments) Logger() observability.Logger { return in.log }

// Call tracks a single use case execution. Outcome and Status are reported
// when End runs; handlers set them as they bail out.
type Call struct {
	in      Instruments
	span    trace.Span
	logger  observability.Logger
	useCase string
	start   time.Time
	fields  []observability.Field

	Outcome string
	Status  string
}

// Begin opens the span for useCase and binds a request-scoped logger to the
// returned context so repositories and clients log with the same fields.
func (in Instruments) Begin(ctx context.Context, useCase, spanName string, attrs ...attribute.KeyValue) (context.Context, *Call) {
	attrs = append(attrs, attribute.String("use_case", useCase))
	ctx, span := in.tracer.Start(ctx, spanPrefix+spanName, attrs...)

	logger := logctx.FromOr(ctx, in.log).With(observability.F("use_case", useCase))
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		logger = logger.With(
			observability.F("trace_id", sc.TraceID().String()),
			observability.F("span_id", sc.SpanID().String()),
		)
	}
	ctx = logctx.With(ctx, logger)

	return ctx, &Call{
		in:      in,
		span:    span,
		logger:  logger,
		useCase: useCase,
		start:   time.Now(),
		Outcome: "success",
		Status:  "OK",
	}
}

func (c *Call) Span() trace.Span             { return c.span }
func (c *Call) Logger() observability.Logger { return c.logger }

// Fail marks the call as failed with a stable status code.
func (c *Call) Fail(status string) { c.Outcome, c.Status = "error", status }

// Note sets a non-error status, e.g. IDEMPOTENT_REPLAY.
func (c *Call) Note(outcome, status string) { c.Outcome, c.Status = outcome, status }

// Field adds a key to the use_case_done line.
func (c *Call) Field(key string, value any) { c.fields = append(c.fields, observability.F(key, value)) }

// End closes the span, records RED metrics and writes the use_case_done line.
func (c *Call) End(err error) {
	lat := time.Since(c.start).Seconds()
	if err != nil && c.Outcome == "success" {
		c.Outcome = "error"
		if c.Status == "OK" {
			c.Status = "ERROR"
		}
	}

	if c.span != nil {
		if c.Outcome == "error" {
			if err != nil {
				c.span.RecordError(err)
			}
			c.span.SetStatus(codes.Error, c.Status)
		} else {
			c.span.SetStatus(codes.Ok, c.Status)
		}
		c.span.End()
	}

	c.in.reqCounter.Add(1,
		observability.L("use_case", c.useCase),
		observability.L("outcome", c.Outcome),
	)
	c.in.durHistogram.Observe(lat, observability.L("use_case", c.useCase))

	fields := append([]observability.Field{
		observability.F("outcome", c.Outcome),
		observability.F("status", c.Status),
		observability.F("latency_seconds", lat),
	}, c.fields...)
	if err != nil {
		fields = append(fields, observability.F("error", err.Error()))
	}
	c.logger.Info("use_case_done", fields...)
}

// External records one call to a collaborator outside the process.
func (in Instruments) External(peer, endpoint, outcome string, start time.Time) {
	in.extCounter.Add(1,
		observability.L("peer", peer),
		observability.L("endpoint", endpoint),
		observability.L("outcome", outcome),
	)
	in.extHistogram.Observe(time.Since(start).Seconds(),
		observability.L("peer", peer),
		observability.L("endpoint", endpoint),
	)
}

// Publish hands e to the bus with a short timeout. Publishing is best effort:
// failures are recorded on the call but never fail the use case.
func (c *Call) Publish(ctx context.Context, p domoutbox.Publisher, e domoutbox.Event) {
	if p == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	start := time.Now()
	outcome := "success"
	err := p.Publish(pubCtx, e)
	if err != nil {
		outcome = "error"
		c.span.RecordError(err)
		c.logger.Warn("event_publish_failed",
			observability.F("event", e.EventName()),
			observability.F("error", err.Error()),
		)
	}
	c.in.External(publishPeer, e.EventName(), outcome, start)
}

// CheckCompensation reports err when it carries a failed rollback. Such
// failures leave state that needs reconciliation, so they are logged at error
// level and counted.
func (c *Call) CheckCompensation(err error) {
	var cerr *saga.CompensationError
	if !errors.As(err, &cerr) {
		return
	}
	c.in.compCounter.Add(1, observability.L("use_case", c.useCase))
	steps := make([]string, len(cerr.Failures))
	for i, f := range cerr.Failures {
		steps[i] = f.Step
	}
	c.logger.Error("compensation_failed",
		observability.F("saga", cerr.Saga),
		observability.F("failed_steps", steps),
		observability.F("error", cerr.Error()),
	)
	c.Fail("COMPENSATION_FAILED")
}
