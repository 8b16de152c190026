package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/market-ledger/api"
	"github.com/warp/market-ledger/market"
	"github.com/warp/market-ledger/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var now = time.Date(2026, time.June, 1, 10, 0, 0, 0, time.UTC)

type testServer struct {
	store   *memory.Store
	handler *api.Handler
	router  http.Handler

	// clock is what the handler reads; advance() moves it.
	clock time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := memory.New()
	store.Seed(
		&market.Customer{ID: "cust-1", Name: "Ada", Balance: decimal.RequireFromString("75.00")},
		&market.Customer{ID: "cust-2", Name: "Eve", Balance: decimal.RequireFromString("10.00")},
		&market.Company{ID: "co-1", Name: "Warp Goods", Balance: decimal.RequireFromString("100.00")},
		&market.Product{ID: "prod-1", CompanyID: "co-1", Name: "Widget"},
		&market.Offer{
			ID: "offer-1", ProductID: "prod-1",
			UnitPrice:     decimal.RequireFromString("4.49"),
			TotalQuantity: 200, QuantityAvailable: 200,
			StartDateUTC:  now.Add(-time.Hour),
			ExpiryDateUTC: now.Add(time.Hour),
			Status:        market.OfferActive,
		},
	)

	ts := &testServer{store: store, clock: now}
	ts.handler = api.NewHandler(store)
	ts.handler.Now = func() time.Time { return ts.clock }
	ts.router = api.NewRouter(ts.handler)
	return ts
}

func (ts *testServer) advance(d time.Duration) { ts.clock = ts.clock.Add(d) }

func (ts *testServer) do(t *testing.T, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

// =============================================================================
// PURCHASE ENDPOINTS
// =============================================================================

func TestCreatePurchase_Created(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/purchases", "cust-1",
		`{"offer_id":"offer-1","quantity":2}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	dto := decodeBody[api.PurchaseDTO](t, rec)
	assert.NotEmpty(t, dto.ID)
	assert.Equal(t, "8.98", dto.TotalPrice)
	assert.Equal(t, "Active", dto.Status)

	balance := decodeBody[api.BalanceDTO](t,
		ts.do(t, http.MethodGet, "/api/customers/cust-1/balance", "", ""))
	assert.Equal(t, "66.02", balance.Balance)
}

func TestCreatePurchase_MissingUser_401(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/purchases", "",
		`{"offer_id":"offer-1","quantity":1}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreatePurchase_BadInputs(t *testing.T) {
	ts := newTestServer(t)

	// Malformed body
	rec := ts.do(t, http.MethodPost, "/api/purchases", "cust-1", `{invalid`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Zero quantity
	rec = ts.do(t, http.MethodPost, "/api/purchases", "cust-1",
		`{"offer_id":"offer-1","quantity":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Over the available quantity
	rec = ts.do(t, http.MethodPost, "/api/purchases", "cust-1",
		`{"offer_id":"offer-1","quantity":500}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Over the customer's balance
	rec = ts.do(t, http.MethodPost, "/api/purchases", "cust-2",
		`{"offer_id":"offer-1","quantity":5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown offer
	rec = ts.do(t, http.MethodPost, "/api/purchases", "cust-1",
		`{"offer_id":"nope","quantity":1}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelPurchase_StatusMapping(t *testing.T) {
	ts := newTestServer(t)

	created := decodeBody[api.PurchaseDTO](t,
		ts.do(t, http.MethodPost, "/api/purchases", "cust-1",
			`{"offer_id":"offer-1","quantity":1}`))

	// Stranger: 403
	rec := ts.do(t, http.MethodDelete, "/api/purchases/"+created.ID, "cust-2", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// No identity: 401
	rec = ts.do(t, http.MethodDelete, "/api/purchases/"+created.ID, "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Owner within the window: 200
	ts.advance(3 * time.Minute)
	rec = ts.do(t, http.MethodDelete, "/api/purchases/"+created.ID, "cust-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[api.CancelResultDTO](t, rec).Cancelled)

	// Already cancelled: 409
	rec = ts.do(t, http.MethodDelete, "/api/purchases/"+created.ID, "cust-1", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Unknown id: 404
	rec = ts.do(t, http.MethodDelete, "/api/purchases/nope", "cust-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelPurchase_AfterWindow_409(t *testing.T) {
	ts := newTestServer(t)

	created := decodeBody[api.PurchaseDTO](t,
		ts.do(t, http.MethodPost, "/api/purchases", "cust-1",
			`{"offer_id":"offer-1","quantity":1}`))

	ts.advance(6 * time.Minute)
	rec := ts.do(t, http.MethodDelete, "/api/purchases/"+created.ID, "cust-1", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// =============================================================================
// OFFER AND CATALOG ENDPOINTS
// =============================================================================

func TestWithdrawOffer_RefundsAndHides(t *testing.T) {
	ts := newTestServer(t)

	ts.do(t, http.MethodPost, "/api/purchases", "cust-1",
		`{"offer_id":"offer-1","quantity":2}`)

	rec := ts.do(t, http.MethodPost, "/api/offers/offer-1/withdraw", "admin", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	balance := decodeBody[api.BalanceDTO](t,
		ts.do(t, http.MethodGet, "/api/customers/cust-1/balance", "", ""))
	assert.Equal(t, "75.00", balance.Balance)

	rec = ts.do(t, http.MethodGet, "/api/offers/offer-1", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteCompany_NoContent(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodDelete, "/api/companies/co-1", "admin", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/companies/co-1", "admin", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuditTrail_Listed(t *testing.T) {
	ts := newTestServer(t)

	created := decodeBody[api.PurchaseDTO](t,
		ts.do(t, http.MethodPost, "/api/purchases", "cust-1",
			`{"offer_id":"offer-1","quantity":1}`))

	rec := ts.do(t, http.MethodGet, "/api/audit/purchases/"+created.ID, "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	trail := decodeBody[[]api.AuditLogDTO](t, rec)
	require.Len(t, trail, 1)
	assert.Equal(t, "Created", trail[0].Action)
	assert.Equal(t, "cust-1", trail[0].UserID)
}
