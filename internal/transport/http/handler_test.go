package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"loyalty/internal/apperr"
	"loyalty/internal/model"
	"loyalty/internal/repository"
	"loyalty/internal/security"
	"loyalty/internal/service"
)

type fakeIntake struct {
	body      []byte
	signature string
	res       *service.IntakeResult
	err       error
}

func (f *fakeIntake) Accept(_ context.Context, body []byte, signature string) (*service.IntakeResult, error) {
	f.body, f.signature = body, signature
	return f.res, f.err
}

type fakeLedger struct {
	customers map[string]model.Customer
	txs       map[string][]model.Transaction
	err       error
}

func (f *fakeLedger) CreditPoints(context.Context, model.Order) (*model.CreditResult, error) {
	return nil, errors.New("not used")
}

func (f *fakeLedger) GetOrCreateCustomer(context.Context, string, int64) (*model.Customer, error) {
	return nil, errors.New("not used")
}

func (f *fakeLedger) GetBalance(_ context.Context, email string) (*model.Customer, error) {
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.customers[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (f *fakeLedger) ListCustomers(context.Context) ([]model.Customer, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]model.Customer, 0, len(f.customers))
	for _, c := range f.customers {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeLedger) Transactions(_ context.Context, email string) ([]model.Transaction, error) {
	if f.err != nil {
		return nil, f.err
	}
	if _, ok := f.customers[email]; !ok {
		return nil, repository.ErrNotFound
	}
	return f.txs[email], nil
}

func newTestRouter(intake WebhookIntake, svc service.LedgerService) http.Handler {
	return newRouter(NewHandler(intake, svc, nil))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestOrderCreated_PassesRawBodyAndSignature(t *testing.T) {
	intake := &fakeIntake{res: &service.IntakeResult{Status: service.StatusQueued, Fingerprint: "abc"}}
	router := newTestRouter(intake, &fakeLedger{})

	raw := `{ "id": 1,  "email":"a@x.com" }`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/orders/create", strings.NewReader(raw))
	req.Header.Set(security.SignatureHeader, "sig==")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if string(intake.body) != raw {
		t.Fatalf("intake got %q, want the untouched body", intake.body)
	}
	if intake.signature != "sig==" {
		t.Fatalf("signature = %q", intake.signature)
	}
	body := decode(t, rec)
	if body["status"] != service.StatusQueued || body["id"] != "abc" {
		t.Fatalf("body = %v", body)
	}
}

func TestOrderCreated_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantText string
	}{
		{"bad signature", apperr.Unauthorized("invalid webhook signature"), http.StatusUnauthorized, apperr.TextCodeUnauthorized},
		{"no secret", apperr.Misconfigured("webhook secret not configured"), http.StatusInternalServerError, apperr.TextCodeMisconfigured},
		{"bad json", apperr.BadInput(errors.New("eof"), "invalid JSON payload"), http.StatusBadRequest, apperr.TextCodeBadInput},
		{"redis down", apperr.Storage(errors.New("dial tcp: refused"), "enqueue failed"), http.StatusInternalServerError, apperr.TextCodeStorageFailure},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, apperr.TextCodeStorageFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&fakeIntake{err: tt.err}, &fakeLedger{})
			req := httptest.NewRequest(http.MethodPost, "/webhooks/orders/create", strings.NewReader(`{}`))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			body := decode(t, rec)
			if body["error"] != tt.wantText {
				t.Fatalf("error = %v, want %s", body["error"], tt.wantText)
			}
			if strings.Contains(rec.Body.String(), "refused") {
				t.Fatal("internal cause leaked to the client")
			}
		})
	}
}

func TestOrderCreated_BodyTooLarge(t *testing.T) {
	intake := &fakeIntake{}
	router := newTestRouter(intake, &fakeLedger{})
	big := bytes.Repeat([]byte("a"), MaxWebhookBodyBytes+1)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/orders/create", bytes.NewReader(big))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
	if intake.body != nil {
		t.Fatal("intake must not see an oversized body")
	}
}

func TestOrderCreated_EndToEndWithGate(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	const secret = "shpss_test"
	queue := repository.NewEventQueue(rdb)
	intake := service.NewIntake(security.NewGate(secret, nil), repository.NewDedupCache(rdb, 0), queue, nil)
	router := newTestRouter(intake, &fakeLedger{})

	body := []byte(`{"id":7,"email":"a@x.com","total_price":"12.50","currency":"EUR"}`)
	send := func(sig string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/orders/create", bytes.NewReader(body))
		if sig != "" {
			req.Header.Set(security.SignatureHeader, sig)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	if rec := send(""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned status = %d, want 401", rec.Code)
	}
	if rec := send(security.SignBase64(body, "wrong")); rec.Code != http.StatusUnauthorized {
		t.Fatalf("forged status = %d, want 401", rec.Code)
	}
	if n, _ := queue.Len(context.Background()); n != 0 {
		t.Fatalf("rejected requests enqueued %d events", n)
	}

	rec := send(security.SignBase64(body, secret))
	if rec.Code != http.StatusOK {
		t.Fatalf("signed status = %d, body %s", rec.Code, rec.Body.String())
	}
	if n, _ := queue.Len(context.Background()); n != 1 {
		t.Fatalf("queue length = %d, want 1", n)
	}
}

func TestGetBalance(t *testing.T) {
	svc := &fakeLedger{customers: map[string]model.Customer{
		"a@x.com": {ID: 1, Email: "a@x.com", PointsBalance: 12, ExternalID: 42},
	}}
	router := newTestRouter(&fakeIntake{}, svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/customers/a@x.com/balance", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode(t, rec)
	if body["points_balance"] != float64(12) || body["shopify_id"] != float64(42) || body["email"] != "a@x.com" {
		t.Fatalf("body = %v", body)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/customers/nobody@x.com/balance", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown customer status = %d, want 404", rec.Code)
	}
	if body := decode(t, rec); body["error"] != apperr.TextCodeNotFound {
		t.Fatalf("body = %v", body)
	}
}

func TestListCustomers(t *testing.T) {
	svc := &fakeLedger{customers: map[string]model.Customer{
		"a@x.com": {ID: 1, Email: "a@x.com", PointsBalance: 12},
		"b@x.com": {ID: 2, Email: "b@x.com", PointsBalance: 3},
	}}
	router := newTestRouter(&fakeIntake{}, svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/customers", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode(t, rec)
	if body["count"] != float64(2) {
		t.Fatalf("count = %v", body["count"])
	}

	svc.err = errors.New("connection reset")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/customers", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestListTransactions(t *testing.T) {
	svc := &fakeLedger{
		customers: map[string]model.Customer{"a@x.com": {ID: 1, Email: "a@x.com", PointsBalance: 12}},
		txs: map[string][]model.Transaction{"a@x.com": {{
			ID: 1, CustomerID: 1, OrderID: 7, Amount: decimal.RequireFromString("12.50"), Currency: "EUR", PointsAdded: 12,
		}}},
	}
	router := newTestRouter(&fakeIntake{}, svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/customers/a@x.com/transactions", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decode(t, rec); body["count"] != float64(1) {
		t.Fatalf("body = %v", body)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/customers/nobody@x.com/transactions", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	router := newTestRouter(&fakeIntake{}, &fakeLedger{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decode(t, rec); body["status"] != "OK" {
		t.Fatalf("body = %v", body)
	}
}
