package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jmehdipour/recurring-orders/internal/checkout"
	"github.com/jmehdipour/recurring-orders/internal/commerce"
	"github.com/jmehdipour/recurring-orders/internal/config"
	"github.com/jmehdipour/recurring-orders/internal/errs"
	"github.com/jmehdipour/recurring-orders/internal/http/middleware"
	"github.com/jmehdipour/recurring-orders/internal/kvstore"
	"github.com/jmehdipour/recurring-orders/internal/model"
	"github.com/jmehdipour/recurring-orders/internal/purchase"
	"github.com/jmehdipour/recurring-orders/internal/schedule"
	"github.com/jmehdipour/recurring-orders/internal/service/recurrences"
	"github.com/jmehdipour/recurring-orders/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	provider    = "pp_stripe_stripe"
	apiKey      = "key_1"
	otherAPIKey = "key_2"
	session     = "9b2f4a4e-8f3c-4e7a-9d55-3f1d2c6a7b10"
)

// gatedCommerce blocks CreatePaymentCollection until released, holding a
// checkout in flight.
type gatedCommerce struct {
	*testutil.Commerce
	entered chan struct{}
	release chan struct{}
}

func (g *gatedCommerce) CreatePaymentCollection(ctx context.Context, cartID string) (*commerce.PaymentCollection, error) {
	if g.entered != nil {
		g.entered <- struct{}{}
		<-g.release
	}
	return g.Commerce.CreatePaymentCollection(ctx, cartID)
}

type harness struct {
	srv      *Server
	commerce *gatedCommerce
	runs     *testutil.RunLog
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fc := &gatedCommerce{Commerce: testutil.NewCommerce(provider)}
	cs := testutil.NewCustomers(model.Customer{
		ID: "cus_1", Email: "ana@condo.br", FirstName: "Ana",
		CompanyID: "co_1", APIKey: apiKey, Status: "active",
	}, model.Customer{
		ID: "cus_2", Email: "bia@condo.br", FirstName: "Bia",
		CompanyID: "co_1", APIKey: otherAPIKey, Status: "active",
	})
	co := testutil.NewCompanies(model.Company{ID: "co_1", Name: "Condo", Address1: "Rua A", City: "SP", TaxID: "12345678000190"})
	runs := &testutil.RunLog{}

	reg := checkout.NewRegistry(checkout.Deps{
		Client:    fc,
		Executor:  purchase.NewExecutor(fc, purchase.Options{ProviderID: provider}),
		Store:     kvstore.NewMemory(),
		Customers: cs,
		Companies: co,
		Notifier:  &testutil.Notifier{},
	})
	srv := NewServer(config.Config{}, Deps{
		Customers:   cs,
		Runs:        runs,
		Checkouts:   reg,
		Poller:      checkout.NewPoller(fc, 10*time.Millisecond, nil),
		Recurrences: recurrences.New(cs, co, schedule.NewCalculator(time.UTC), 3),
	})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &harness{srv: srv, commerce: fc, runs: runs}
}

func (h *harness) do(method, path, body string) *httptest.ResponseRecorder {
	return h.doAs(apiKey, method, path, body)
}

func (h *harness) doAs(key, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-API-Key", key)
	req.Header.Set(middleware.HeaderSessionID, session)
	rec := httptest.NewRecorder()
	h.srv.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestAuth_RejectsMissingAndUnknownKeys(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/cart", nil)
	rec := httptest.NewRecorder()
	h.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/cart", nil)
	req.Header.Set("X-API-Key", "nope")
	rec = httptest.NewRecorder()
	h.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSession_GeneratedWhenMissing(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/cart", nil)
	req.Header.Set("X-API-Key", apiKey)
	rec := httptest.NewRecorder()
	h.srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, rec.Header().Get(middleware.HeaderSessionID), 36)
}

func TestCart_AddItemThenRead(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/v1/cart/items", `{"variant_id":"var_1","quantity":2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var added commerce.Cart
	decode(t, rec, &added)
	require.Len(t, added.Items, 1)

	rec = h.do(http.MethodGet, "/v1/cart", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got commerce.Cart
	decode(t, rec, &got)
	assert.Equal(t, added.ID, got.ID)

	rec = h.do(http.MethodPost, "/v1/cart/items", `{"variant_id":"var_1","quantity":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckout_MutationsConflictWhileInFlight(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/v1/cart/items", `{"variant_id":"var_1","quantity":1}`).Code)

	h.commerce.entered = make(chan struct{})
	h.commerce.release = make(chan struct{})

	done := make(chan *httptest.ResponseRecorder)
	go func() { done <- h.do(http.MethodPost, "/v1/checkout", `{"payment_method":"credit"}`) }()
	<-h.commerce.entered

	rec := h.do(http.MethodPost, "/v1/cart/items", `{"variant_id":"var_2","quantity":1}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = h.do(http.MethodPost, "/v1/checkout", `{"payment_method":"credit"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(h.commerce.release)
	rec = <-done
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out checkout.Outcome
	decode(t, rec, &out)
	assert.Equal(t, checkout.StatusCompleted, out.Status)
	assert.NotEmpty(t, out.OrderID)
}

func TestCheckout_PixIsAcceptedAndListedAsPending(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/v1/cart/items", `{"variant_id":"var_1","quantity":1}`).Code)

	rec := h.do(http.MethodPost, "/v1/checkout", `{"payment_method":"pix"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var out checkout.Outcome
	decode(t, rec, &out)
	assert.Equal(t, checkout.StatusPending, out.Status)
	require.NotEmpty(t, out.PaymentCollectionID)

	rec = h.do(http.MethodGet, "/v1/pending-payments", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Count   int                    `json:"count"`
		Results []model.PendingPayment `json:"results"`
	}
	decode(t, rec, &list)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, out.PaymentCollectionID, list.Results[0].PaymentCollectionID)

	rec = h.do(http.MethodDelete, "/v1/pending-payments/"+out.PaymentCollectionID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = h.do(http.MethodGet, "/v1/pending-payments", "")
	decode(t, rec, &list)
	assert.Zero(t, list.Count)
}

func TestCheckout_InvalidMethodAndUpstreamFailure(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/v1/checkout", `{"payment_method":"cash"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	h.commerce.FailOn["CreateCart"] = errs.External("create cart", errors.New("connection refused"))
	rec = h.do(http.MethodPost, "/v1/cart/items", `{"variant_id":"var_1","quantity":1}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestWatch_RequiresIdentifiers(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodPost, "/v1/checkout/watch", `{"cart_id":"cart_1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, "/v1/checkout/watch", `{"cart_id":"cart_1","payment_collection_id":"pc_1"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = h.do(http.MethodDelete, "/v1/checkout/watch/cart_1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWatch_OnlyOwnPendingPayments(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/v1/cart/items", `{"variant_id":"var_1","quantity":1}`).Code)
	require.Equal(t, http.StatusAccepted, h.do(http.MethodPost, "/v1/checkout", `{"payment_method":"pix"}`).Code)

	rec := h.do(http.MethodGet, "/v1/pending-payments", "")
	var list struct {
		Results []model.PendingPayment `json:"results"`
	}
	decode(t, rec, &list)
	require.Len(t, list.Results, 1)
	p := list.Results[0]
	body := `{"cart_id":"` + p.CartID + `","payment_collection_id":"` + p.PaymentCollectionID + `"}`

	rec = h.doAs(otherAPIKey, http.MethodPost, "/v1/checkout/watch", body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, h.srv.poller.Active(p.CartID))

	rec = h.do(http.MethodPost, "/v1/checkout/watch", `{"cart_id":"`+p.CartID+`","payment_collection_id":"pc_other"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodPost, "/v1/checkout/watch", body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.True(t, h.srv.poller.Active(p.CartID))

	rec = h.doAs(otherAPIKey, http.MethodDelete, "/v1/checkout/watch/"+p.CartID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.True(t, h.srv.poller.Active(p.CartID))

	rec = h.do(http.MethodDelete, "/v1/checkout/watch/"+p.CartID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, h.srv.poller.Active(p.CartID))
}

func TestRecurrences_Lifecycle(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/v1/recurrences",
		`{"name":"Cleaning","frequency":"weekly","day_of_week":3,"payment_method":"boleto","items":[{"variant_id":"var_1","quantity":4}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created model.Recurrence
	decode(t, rec, &created)
	require.NotNil(t, created.NextRunAt)

	rec = h.do(http.MethodPost, "/v1/recurrences", `{"name":"x","frequency":"daily"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, "/v1/recurrences/"+created.ID+"/pause", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var paused model.Recurrence
	decode(t, rec, &paused)
	assert.Equal(t, model.RecurrencePaused, paused.Status)

	rec = h.do(http.MethodPost, "/v1/recurrences/"+created.ID+"/resume", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodGet, "/v1/recurrences", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), created.ID)

	assert.Equal(t, http.StatusNoContent, h.do(http.MethodDelete, "/v1/recurrences/"+created.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodDelete, "/v1/recurrences/"+created.ID, "").Code)
}

func TestRecurrences_AcceptsCalendarStartDate(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/v1/recurrences",
		`{"name":"Soap","frequency":"monthly","day_of_month":5,"payment_method":"pix","start_date":"2099-01-05","items":[{"variant_id":"var_1","quantity":1}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"start_date":"2099-01-05"`)

	var created model.Recurrence
	decode(t, rec, &created)
	require.NotNil(t, created.NextRunAt)
	assert.Equal(t, time.Date(2099, 1, 5, 8, 0, 0, 0, time.UTC), created.NextRunAt.UTC())
}

func TestReports_ListsOwnRuns(t *testing.T) {
	h := newHarness(t)
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, h.runs.Insert(context.Background(), []model.RunRecord{
		{ID: "run_1", CustomerID: "cus_1", RecurrenceID: "rec_1", Outcome: model.RunSucceeded, RanAt: now},
		{ID: "run_2", CustomerID: "cus_1", RecurrenceID: "rec_2", Outcome: model.RunPaused, RanAt: now},
		{ID: "run_3", CustomerID: "cus_2", RecurrenceID: "rec_9", Outcome: model.RunSucceeded, RanAt: now},
	}))

	rec := h.do(http.MethodGet, "/v1/reports/runs?outcome=paused", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Count   int               `json:"count"`
		Results []model.RunRecord `json:"results"`
	}
	decode(t, rec, &body)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "run_2", body.Results[0].ID)

	rec = h.do(http.MethodGet, "/v1/reports/runs?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
