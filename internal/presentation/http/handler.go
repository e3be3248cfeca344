package httppresentation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	appcheckout "github.com/Zhima-Mochi/minishop-reservation/internal/application/checkout"
	appinventory "github.com/Zhima-Mochi/minishop-reservation/internal/application/inventory"
	apporder "github.com/Zhima-Mochi/minishop-reservation/internal/application/order"
	apppayment "github.com/Zhima-Mochi/minishop-reservation/internal/application/payment"
	domorder "github.com/Zhima-Mochi/minishop-reservation/internal/domain/order"
	dompayment "github.com/Zhima-Mochi/minishop-reservation/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-reservation/internal/observability"
	"github.com/Zhima-Mochi/minishop-reservation/internal/observability/logctx"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	componentHTTPHandler = "http_server"
	headerRequestID      = "X-Request-ID"
	headerTenantID       = "X-Tenant-ID"
	headerIdempotencyKey = "Idempotency-Key"
	maxBodyBytes         = 1 << 20
)

// UseCases groups everything the transport drives.
type UseCases struct {
	Checkout   *appcheckout.PlaceOrderUseCase
	Transition *apporder.TransitionUseCase
	GetOrder   *apporder.GetOrderUseCase
	Delete     *apporder.DeleteOrderUseCase
	Webhook    *apppayment.WebhookUseCase
	Stock      *appinventory.StockUseCase
}

type Handler struct {
	uc      UseCases
	log     observability.Logger
	tel     observability.Observability
	metrics http.Handler
}

// NewHandler builds the HTTP surface. metrics, when non-nil, is mounted at
// /metrics outside the instrumented chain.
func NewHandler(uc UseCases, tel observability.Observability, metrics http.Handler) *Handler {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Handler{
		uc:      uc,
		log:     tel.Logger().With(observability.F("component", componentHTTPHandler)),
		tel:     tel,
		metrics: metrics,
	}
}

func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	// Trace → ObservabilityMiddleware (request logger + HTTP metrics) → Access log → Handler
	h.muxHandle(mux, http.MethodPost, "/orders", h.handleCreateOrder)
	h.muxHandle(mux, http.MethodGet, "/orders/{id}", h.handleGetOrder)
	h.muxHandle(mux, http.MethodPut, "/orders/{id}", h.handleUpdateStatus)
	h.muxHandle(mux, http.MethodDelete, "/orders/{id}", h.handleDeleteOrder)
	h.muxHandle(mux, http.MethodPost, "/payment/create", h.handleCreatePayment)
	h.muxHandle(mux, http.MethodPost, "/payment/webhook", h.handleWebhook)
	h.muxHandle(mux, http.MethodGet, "/products/{id}/availability", h.handleAvailability)
	h.muxHandle(mux, http.MethodPut, "/products/{id}/stock", h.handleSetStock)
	h.muxHandle(mux, http.MethodGet, "/health", h.handleHealth)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}

	return mux
}

func (h *Handler) muxHandle(mux *http.ServeMux, method, route string, handler http.HandlerFunc) {
	pattern := method + " " + route
	chain := h.withTrace(
		ObservabilityMiddleware(
			h.log,
			func(r *http.Request) string {
				return r.Header.Get(headerRequestID)
			},
			func(r *http.Request) string {
				return r.Header.Get(headerTenantID)
			},
			h.tel.Metrics(),
		)(
			h.withAccessLog(handler),
		),
	)
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		// Stable route template for low-cardinality labels
		r = r.WithContext(contextWithRoute(r.Context(), pattern))
		chain.ServeHTTP(w, r)
	})
}

type lineDTO struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Price     int64  `json:"price"`
	Name      string `json:"name"`
}

type createOrderRequest struct {
	UserID         string            `json:"user_id"`
	IdempotencyKey string            `json:"idempotency_key"`
	PaymentMethod  string            `json:"payment_method"`
	Customer       domorder.Customer `json:"customer"`
	Items          []lineDTO         `json:"items"`
	Total          int64             `json:"total"`

	// Address fields may also sit next to the items, storefront style.
	Address  string `json:"address"`
	Ward     string `json:"ward"`
	District string `json:"district"`
	Province string `json:"province"`
	Note     string `json:"note"`
}

// customer merges the top-level address fields into the nested customer,
// which wins when both are set.
func (req createOrderRequest) customer() domorder.Customer {
	c := req.Customer
	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&c.Address, req.Address)
	fill(&c.Ward, req.Ward)
	fill(&c.District, req.District)
	fill(&c.Province, req.Province)
	fill(&c.Note, req.Note)
	return c
}

type orderDTO struct {
	ID                string            `json:"id"`
	UserID            string            `json:"user_id"`
	Status            domorder.Status   `json:"status"`
	Total             int64             `json:"total"`
	PaymentMethod     string            `json:"payment_method"`
	InventoryReserved bool              `json:"inventory_reserved"`
	Customer          domorder.Customer `json:"customer"`
	PaymentURL        string            `json:"payment_url,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

type orderResponse struct {
	Order        orderDTO  `json:"order"`
	OrderDetails []lineDTO `json:"order_details"`
	PayURL       string    `json:"pay_url,omitempty"`
}

func toOrderResponse(o *domorder.Order) orderResponse {
	lines := make([]lineDTO, len(o.Lines))
	for i, l := range o.Lines {
		lines[i] = lineDTO(l)
	}
	return orderResponse{
		Order: orderDTO{
			ID:                o.ID,
			UserID:            o.UserID,
			Status:            o.Status,
			Total:             o.Total,
			PaymentMethod:     string(o.PaymentMethod),
			InventoryReserved: o.InventoryReserved,
			Customer:          o.Customer,
			PaymentURL:        o.PaymentURL,
			CreatedAt:         o.CreatedAt,
			UpdatedAt:         o.UpdatedAt,
		},
		OrderDetails: lines,
	}
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	h.placeOrder(w, r, "")
}

// handleCreatePayment is checkout forced onto the online method; the reply
// carries the provider redirect.
func (h *Handler) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	h.placeOrder(w, r, domorder.PaymentOnline)
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request, force domorder.PaymentMethod) {
	var req createOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", err)
		return
	}

	method := force
	if method == "" {
		parsed, err := domorder.ParsePaymentMethod(req.PaymentMethod)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		method = parsed
	}

	key := req.IdempotencyKey
	if key == "" {
		key = r.Header.Get(headerIdempotencyKey)
	}
	lines := make([]domorder.Line, len(req.Items))
	for i, it := range req.Items {
		lines[i] = domorder.Line(it)
	}

	result, err := h.uc.Checkout.Execute(r.Context(), appcheckout.PlaceOrderInput{
		IdempotencyKey: key,
		UserID:         req.UserID,
		PaymentMethod:  method,
		Customer:       req.customer(),
		Lines:          lines,
		Total:          req.Total,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := toOrderResponse(result.Order)
	resp.PayURL = result.Order.PaymentURL
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.uc.GetOrder.Execute(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", err)
		return
	}
	status, err := domorder.ParseStatus(req.Status)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	res, err := h.uc.Transition.Execute(r.Context(), apporder.TransitionInput{
		OrderID: r.PathValue("id"),
		Status:  status,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(res.Order))
}

func (h *Handler) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.uc.Delete.Execute(r.Context(), r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type webhookRequest struct {
	PartnerCode string `json:"partnerCode"`
	OrderID     string `json:"orderId"`
	RequestID   string `json:"requestId"`
	ResultCode  int    `json:"resultCode"`
	Message     string `json:"message"`
	Signature   string `json:"signature"`
}

type webhookResponse struct {
	Status apppayment.Outcome `json:"status"`
}

// handleWebhook always acknowledges: the provider retries anything else and
// a retry cannot change the outcome.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		logctx.FromOr(r.Context(), h.log).Warn("payment_callback_malformed", observability.F("error", err.Error()))
		writeJSON(w, http.StatusOK, webhookResponse{Status: apppayment.OutcomeIgnored})
		return
	}

	res, err := h.uc.Webhook.Execute(r.Context(), dompayment.Callback{
		OrderID:    req.OrderID,
		RequestID:  req.RequestID,
		ResultCode: req.ResultCode,
		Message:    req.Message,
		Signature:  req.Signature,
	})
	if err != nil {
		logctx.FromOr(r.Context(), h.log).Error("payment_callback_failed",
			observability.F("order_id", req.OrderID),
			observability.F("error", err.Error()),
		)
		writeJSON(w, http.StatusOK, webhookResponse{Status: "error"})
		return
	}
	writeJSON(w, http.StatusOK, webhookResponse{Status: res.Outcome})
}

func (h *Handler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	a, err := h.uc.Stock.Availability(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type setStockRequest struct {
	Stock *int `json:"stock"`
}

func (h *Handler) handleSetStock(w http.ResponseWriter, r *http.Request) {
	var req setStockRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", err)
		return
	}
	if req.Stock == nil {
		writeError(w, http.StatusBadRequest, "validation", errors.New("stock is required"))
		return
	}
	a, err := h.uc.Stock.SetStock(r.Context(), appinventory.SetStockInput{
		ProductID: r.PathValue("id"),
		Stock:     *req.Stock,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// withAccessLog writes a single access log after the handler completes.
// It relies on the request-scoped logger already injected by ObservabilityMiddleware.
func (h *Handler) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(lrw, r)

		logctx.FromOr(r.Context(), h.log).Info("http_access",
			observability.F("method", r.Method),
			observability.F("route", routeFromContext(r.Context())),
			observability.F("path", r.URL.Path),
			observability.F("status", lrw.status),
			observability.F("latency_ms", time.Since(start).Milliseconds()),
		)
	})
}

// withTrace creates a server span for the request using OTel and W3C propagation.
func (h *Handler) withTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tracer := otel.Tracer("minishop.http")
		parentCtx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		route := routeFromContext(parentCtx)
		spanName := route
		if spanName == "unknown" {
			spanName = r.Method + " " + r.URL.Path
		}
		template := route
		if idx := strings.Index(template, " "); idx >= 0 {
			template = template[idx+1:]
		}
		if template == "unknown" || template == "" {
			template = r.URL.Path
		}

		ctxWithSpan, span := tracer.Start(parentCtx,
			spanName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", template),
				attribute.String("http.target", r.URL.Path),
				attribute.String("http.user_agent", r.UserAgent()),
			),
		)
		defer span.End()

		next.ServeHTTP(w, r.WithContext(ctxWithSpan))
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type routeKey struct{}

// contextWithRoute stores the stable route template in the context so downstream
// metrics/logging can rely on low-cardinality values.
func contextWithRoute(ctx context.Context, route string) context.Context {
	if route == "" {
		return ctx
	}
	return context.WithValue(ctx, routeKey{}, route)
}

func routeFromContext(ctx context.Context) string {
	if ctx == nil {
		return "unknown"
	}
	if route, ok := ctx.Value(routeKey{}).(string); ok && route != "" {
		return route
	}
	return "unknown"
}
