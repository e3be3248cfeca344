package payment

import (
	"context"
	"math/rand"
	"net/url"
	"sync"
	"time"

	dompayment "github.com/Zhima-Mochi/minishop-reservation/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-reservation/internal/observability"
)

const (
	defaultSuccessRate = 0.7
	declinedResultCode = 1006
)

// CallbackSink receives provider callbacks, normally the webhook use case.
type CallbackSink func(ctx context.Context, cb dompayment.Callback)

// Simulator stands in for the payment provider. Links always open; when a
// sink is set each payment settles after a delay, succeeding with the
// configured rate.
type Simulator struct {
	mu          sync.Mutex
	random      *rand.Rand
	successRate float64
	baseURL     string
	delay       time.Duration
	signer      dompayment.Signer
	sink        CallbackSink
	log         observability.Logger
	wg          sync.WaitGroup
}

func NewSimulator(baseURL string, delay time.Duration, signer dompayment.Signer, logger observability.Logger) *Simulator {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Simulator{
		random:      rand.New(rand.NewSource(time.Now().UnixNano())),
		successRate: defaultSuccessRate,
		baseURL:     baseURL,
		delay:       delay,
		signer:      signer,
		log:         logger.With(observability.F("component", "payment_simulator")),
	}
}

// SetSink starts settling payments. It must be called before CreateLink.
func (s *Simulator) SetSink(sink CallbackSink) { s.sink = sink }

// SetSuccessRate adjusts the success rate for simulations (primarily for tests).
func (s *Simulator) SetSuccessRate(rate float64) {
	s.mu.Lock()
	s.successRate = min(max(rate, 0), 1)
	s.mu.Unlock()
}

func (s *Simulator) CreateLink(ctx context.Context, req dompayment.LinkRequest) (dompayment.Link, error) {
	if err := ctx.Err(); err != nil {
		return dompayment.Link{}, err
	}
	q := url.Values{}
	q.Set("orderId", req.OrderID)
	q.Set("requestId", req.RequestID)
	link := dompayment.Link{OrderID: req.OrderID, URL: s.baseURL + "/pay?" + q.Encode()}

	if s.sink != nil {
		s.wg.Add(1)
		go s.settle(context.WithoutCancel(ctx), req)
	}
	return link, nil
}

func (s *Simulator) settle(ctx context.Context, req dompayment.LinkRequest) {
	defer s.wg.Done()
	time.Sleep(s.delay)

	cb := dompayment.Callback{OrderID: req.OrderID, RequestID: req.RequestID, Message: "Successful."}
	if !s.roll() {
		cb.ResultCode = declinedResultCode
		cb.Message = "Transaction denied by user."
	}
	s.log.Debug("payment_simulated",
		observability.F("order_id", req.OrderID),
		observability.F("result_code", cb.ResultCode),
	)
	s.sink(ctx, s.signer.SignCallback(cb))
}

func (s *Simulator) roll() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.random.Float64() < s.successRate
}

// Wait blocks until every pending settlement was delivered.
func (s *Simulator) Wait() { s.wg.Wait() }
