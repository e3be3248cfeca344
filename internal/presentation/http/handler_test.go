package httppresentation

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	appcheckout "github.com/Zhima-Mochi/minishop-reservation/internal/application/checkout"
	appinventory "github.com/Zhima-Mochi/minishop-reservation/internal/application/inventory"
	apporder "github.com/Zhima-Mochi/minishop-reservation/internal/application/order"
	apppayment "github.com/Zhima-Mochi/minishop-reservation/internal/application/payment"
	domorder "github.com/Zhima-Mochi/minishop-reservation/internal/domain/order"
	dompayment "github.com/Zhima-Mochi/minishop-reservation/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-reservation/internal/infrastructure/id"
	"github.com/Zhima-Mochi/minishop-reservation/internal/infrastructure/memory"
	infrapayment "github.com/Zhima-Mochi/minishop-reservation/internal/infrastructure/payment"
	"github.com/Zhima-Mochi/minishop-reservation/internal/observability"
	"github.com/Zhima-Mochi/minishop-reservation/internal/pkg/keylock"
	"github.com/Zhima-Mochi/minishop-reservation/internal/pkg/saga"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	server *httptest.Server
	ledger *memory.Ledger
	repo   *memory.OrderRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	tel := observability.Nop()
	ledger := memory.NewLedger()
	repo := memory.NewOrderRepository()
	locks := keylock.New()
	tx := saga.Transactor{Name: "test"}
	gateway := infrapayment.NewSimulator("http://pay.test", 0, dompayment.NewSigner(""), nil)

	transition := apporder.NewTransitionUseCase(repo, ledger, tx, locks, nil, tel)
	h := NewHandler(UseCases{
		Checkout:   appcheckout.NewPlaceOrderUseCase(repo, ledger, gateway, memory.NewCartStore(), id.UUIDGenerator{}, nil, locks, tel),
		Transition: transition,
		GetOrder:   apporder.NewGetOrderUseCase(repo, tel),
		Delete:     apporder.NewDeleteOrderUseCase(repo, ledger, tx, locks, tel),
		Webhook:    apppayment.NewWebhookUseCase(transition, dompayment.NewSigner(""), tel),
		Stock:      appinventory.NewStockUseCase(ledger, tel),
	}, tel, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	}))

	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)

	for productID, stock := range map[string]int{"A": 5, "B": 3} {
		_, err := ledger.SetStock(context.Background(), productID, stock)
		require.NoError(t, err)
	}
	return &fixture{server: srv, ledger: ledger, repo: repo}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent && resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func (f *fixture) available(t *testing.T, productID string) int {
	t.Helper()
	a, err := f.ledger.Availability(context.Background(), productID)
	require.NoError(t, err)
	return a.Available
}

func (f *fixture) placeOrder(t *testing.T, method string) string {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, "/orders", map[string]any{
		"user_id":        "u1",
		"payment_method": method,
		"customer":       map[string]any{"name": "Ann", "phone": "0900"},
		"items": []map[string]any{
			{"product_id": "A", "quantity": 2, "price": 100, "name": "Apple"},
			{"product_id": "B", "quantity": 1, "price": 50, "name": "Banana"},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	return body["order"].(map[string]any)["id"].(string)
}

func TestCreateOrderReservesStock(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/orders", map[string]any{
		"user_id":        "u1",
		"payment_method": "cash",
		"items": []map[string]any{
			{"product_id": "A", "quantity": 2, "price": 100},
			{"product_id": "A", "quantity": 1, "price": 100},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.NotEmpty(t, resp.Header.Get(headerRequestID))

	o := body["order"].(map[string]any)
	assert.Equal(t, "pending", o["status"])
	assert.Equal(t, "cod", o["payment_method"])
	assert.Equal(t, true, o["inventory_reserved"])
	assert.EqualValues(t, 300, o["total"])
	assert.Len(t, body["order_details"], 1)
	assert.Equal(t, 2, f.available(t, "A"))
}

func TestCreateOrderAcceptsTopLevelAddress(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/orders", map[string]any{
		"user_id":        "u1",
		"payment_method": "cod",
		"customer":       map[string]any{"name": "Ann", "phone": "0900", "note": "ring twice"},
		"items":          []map[string]any{{"product_id": "A", "quantity": 1, "price": 100}},
		"total":          100,
		"address":        "12 Le Loi",
		"ward":           "Ben Nghe",
		"district":       "1",
		"province":       "HCMC",
		"note":           "leave at door",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)

	c := body["order"].(map[string]any)["customer"].(map[string]any)
	assert.Equal(t, "Ann", c["name"])
	assert.Equal(t, "12 Le Loi", c["address"])
	assert.Equal(t, "Ben Nghe", c["ward"])
	assert.Equal(t, "1", c["district"])
	assert.Equal(t, "HCMC", c["province"])
	assert.Equal(t, "ring twice", c["note"])
}

func TestCreateOrderInsufficientStock(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/orders", map[string]any{
		"user_id":        "u1",
		"payment_method": "cod",
		"items":          []map[string]any{{"product_id": "B", "quantity": 4, "price": 10}},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "insufficient_stock", body["code"])
	assert.Contains(t, body["error"], "product B")
	assert.Contains(t, body["error"], "available 3")
	assert.Equal(t, 3, f.available(t, "B"))
}

func TestCreateOrderValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	cases := map[string]map[string]any{
		"unknown method": {"user_id": "u1", "payment_method": "barter", "items": []map[string]any{{"product_id": "A", "quantity": 1}}},
		"no items":       {"user_id": "u1", "payment_method": "cod"},
		"zero quantity":  {"user_id": "u1", "payment_method": "cod", "items": []map[string]any{{"product_id": "A", "quantity": 0}}},
		"missing user":   {"payment_method": "cod", "items": []map[string]any{{"product_id": "A", "quantity": 1}}},
		"unknown field":  {"user_id": "u1", "payment_method": "cod", "coupon": "X"},
	}
	for name, payload := range cases {
		resp, body := f.do(t, http.MethodPost, "/orders", payload)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, name)
		assert.Equal(t, "validation", body["code"], name)
	}
	assert.Equal(t, 5, f.available(t, "A"))
}

func TestCreateOrderIdempotentReplay(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	payload := map[string]any{
		"user_id":         "u1",
		"idempotency_key": "k-1",
		"payment_method":  "cod",
		"items":           []map[string]any{{"product_id": "A", "quantity": 1, "price": 10}},
	}
	first, b1 := f.do(t, http.MethodPost, "/orders", payload)
	require.Equal(t, http.StatusCreated, first.StatusCode)
	second, b2 := f.do(t, http.MethodPost, "/orders", payload)
	require.Equal(t, http.StatusOK, second.StatusCode)

	assert.Equal(t, b1["order"].(map[string]any)["id"], b2["order"].(map[string]any)["id"])
	assert.Equal(t, 4, f.available(t, "A"))
}

func TestUpdateStatusErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	orderID := f.placeOrder(t, "cod")

	resp, body := f.do(t, http.MethodPut, "/orders/"+orderID, map[string]any{"status": "failed"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "illegal_transition", body["code"])
	assert.ElementsMatch(t, []any{"confirmed", "canceled", "paid", "processing"}, body["allowed"])

	resp, body = f.do(t, http.MethodPut, "/orders/"+orderID, map[string]any{"status": " Pending "})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "noop_transition", body["code"])

	resp, body = f.do(t, http.MethodPut, "/orders/"+orderID, map[string]any{"status": "teleported"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "unknown_status", body["code"])

	resp, body = f.do(t, http.MethodPut, "/orders/missing", map[string]any{"status": "confirmed"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["code"])
}

func TestCancelAliasReleasesStockAndFinalizes(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	orderID := f.placeOrder(t, "cod")
	require.Equal(t, 3, f.available(t, "A"))

	resp, body := f.do(t, http.MethodPut, "/orders/"+orderID, map[string]any{"status": "cancelled"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	o := body["order"].(map[string]any)
	assert.Equal(t, "canceled", o["status"])
	assert.Equal(t, false, o["inventory_reserved"])
	assert.Equal(t, 5, f.available(t, "A"))
	assert.Equal(t, 3, f.available(t, "B"))

	resp, body = f.do(t, http.MethodPut, "/orders/"+orderID, map[string]any{"status": "confirmed"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "order_finalized", body["code"])
}

func TestDeliveredAliasConfirmsStock(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	orderID := f.placeOrder(t, "cod")

	for _, s := range []string{"confirmed", "shipping", "delivered"} {
		resp, body := f.do(t, http.MethodPut, "/orders/"+orderID, map[string]any{"status": s})
		require.Equal(t, http.StatusOK, resp.StatusCode, body)
	}

	a, err := f.ledger.Availability(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, 3, a.Stock)
	assert.Zero(t, a.Reserved)

	resp, body := f.do(t, http.MethodGet, "/orders/"+orderID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", body["order"].(map[string]any)["status"])
}

func TestDeleteOrderReleasesStock(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	orderID := f.placeOrder(t, "cod")

	resp, _ := f.do(t, http.MethodDelete, "/orders/"+orderID, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 5, f.available(t, "A"))

	resp, _ = f.do(t, http.MethodGet, "/orders/"+orderID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreatePaymentAndWebhook(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/payment/create", map[string]any{
		"user_id": "u2",
		"items":   []map[string]any{{"product_id": "A", "quantity": 1, "price": 990}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.Contains(t, body["pay_url"], "http://pay.test/pay?")
	o := body["order"].(map[string]any)
	orderID := o["id"].(string)
	assert.Equal(t, "online", o["payment_method"])

	resp, body = f.do(t, http.MethodPost, "/payment/webhook", map[string]any{"orderId": orderID, "resultCode": 0})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(apppayment.OutcomePaid), body["status"])

	resp, body = f.do(t, http.MethodPost, "/payment/webhook", map[string]any{"orderId": orderID, "resultCode": 0})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(apppayment.OutcomeNoop), body["status"])

	o2, err := f.repo.Get(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusPaid, o2.Status)
	assert.True(t, o2.InventoryReserved)
}

func TestWebhookAlwaysAcknowledges(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/payment/webhook", bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, body := f.do(t, http.MethodPost, "/payment/webhook", map[string]any{"orderId": "ghost", "resultCode": 1006})
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.Equal(t, string(apppayment.OutcomeIgnored), body["status"])
}

func TestProductStockEndpoints(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.placeOrder(t, "cod")

	resp, body := f.do(t, http.MethodGet, "/products/A/availability", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 3, body["available"])

	resp, body = f.do(t, http.MethodPut, "/products/A/stock", map[string]any{"stock": 1})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "stock_below_reserved", body["code"])

	resp, body = f.do(t, http.MethodPut, "/products/C/stock", map[string]any{"stock": 7})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 7, body["available"])

	resp, body = f.do(t, http.MethodPut, "/products/C/stock", map[string]any{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation", body["code"])

	resp, _ = f.do(t, http.MethodGet, "/products/nope/availability", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPatch, "/orders/x", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
