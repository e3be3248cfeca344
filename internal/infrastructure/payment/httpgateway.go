package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"

	dompayment "github.com/Zhima-Mochi/minishop-reservation/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-reservation/internal/observability"
	"github.com/Zhima-Mochi/minishop-reservation/internal/observability/logctx"
)

type HTTPGatewayConfig struct {
	Endpoint    string
	PartnerCode string
	RedirectURL string
	// NotifyURL is where the provider posts the payment result.
	NotifyURL   string
	Timeout     time.Duration
	MaxAttempts uint
	// RetryInterval is the first backoff delay; later ones grow exponentially.
	RetryInterval time.Duration
}

// HTTPGateway opens payment sessions with a provider speaking a
// MoMo-style JSON API: a signed create request answered by a payUrl.
type HTTPGateway struct {
	cfg    HTTPGatewayConfig
	client *http.Client
	signer dompayment.Signer
	log    observability.Logger
}

func NewHTTPGateway(cfg HTTPGatewayConfig, signer dompayment.Signer, client *http.Client, logger observability.Logger) *HTTPGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = backoff.DefaultInitialInterval
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &HTTPGateway{
		cfg:    cfg,
		client: client,
		signer: signer,
		log:    logger.With(observability.F("component", "payment_gateway")),
	}
}

type createRequest struct {
	PartnerCode string `json:"partnerCode"`
	RequestID   string `json:"requestId"`
	OrderID     string `json:"orderId"`
	Amount      int64  `json:"amount"`
	OrderInfo   string `json:"orderInfo"`
	RedirectURL string `json:"redirectUrl"`
	IpnURL      string `json:"ipnUrl"`
	Signature   string `json:"signature"`
}

type createResponse struct {
	ResultCode int    `json:"resultCode"`
	Message    string `json:"message"`
	PayURL     string `json:"payUrl"`
}

func (g *HTTPGateway) CreateLink(ctx context.Context, req dompayment.LinkRequest) (dompayment.Link, error) {
	body := createRequest{
		PartnerCode: g.cfg.PartnerCode,
		RequestID:   req.RequestID,
		OrderID:     req.OrderID,
		Amount:      req.Amount,
		OrderInfo:   req.Description,
		RedirectURL: g.cfg.RedirectURL,
		IpnURL:      g.cfg.NotifyURL,
	}
	body.Signature = g.signer.Sign(
		"amount", strconv.FormatInt(body.Amount, 10),
		"ipnUrl", body.IpnURL,
		"orderId", body.OrderID,
		"orderInfo", body.OrderInfo,
		"partnerCode", body.PartnerCode,
		"redirectUrl", body.RedirectURL,
		"requestId", body.RequestID,
	)
	payload, err := json.Marshal(body)
	if err != nil {
		return dompayment.Link{}, fmt.Errorf("%w: encode: %w", dompayment.ErrLinkFailed, err)
	}

	logger := logctx.FromOr(ctx, g.log)
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = g.cfg.RetryInterval

	attempt := 0
	res, err := backoff.Retry(ctx, func() (createResponse, error) {
		attempt++
		res, err := g.post(ctx, payload)
		if err != nil {
			logger.Warn("payment_link_attempt_failed",
				observability.F("order_id", req.OrderID),
				observability.F("attempt", attempt),
				observability.F("error", err.Error()),
			)
		}
		return res, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(g.cfg.MaxAttempts),
		backoff.WithMaxElapsedTime(3*g.cfg.Timeout),
	)
	if err != nil {
		return dompayment.Link{}, fmt.Errorf("%w: %w", dompayment.ErrLinkFailed, err)
	}
	return dompayment.Link{OrderID: req.OrderID, URL: res.PayURL}, nil
}

// post sends one attempt. Provider rejections are permanent; transport
// errors and 5xx responses are retried.
func (g *HTTPGateway) post(ctx context.Context, payload []byte) (createResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return createResponse{}, backoff.Permanent(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return createResponse{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return createResponse{}, err
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return createResponse{}, fmt.Errorf("provider status %d", resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return createResponse{}, backoff.Permanent(fmt.Errorf("provider status %d: %s", resp.StatusCode, bytes.TrimSpace(raw)))
	}

	var out createResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return createResponse{}, backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}
	if out.ResultCode != dompayment.ResultCodeSuccess || out.PayURL == "" {
		return createResponse{}, backoff.Permanent(errors.New("provider declined: " + out.Message))
	}
	return out, nil
}
