package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	app "github.com/studifi/finance_layer/internal/app"
	"github.com/studifi/finance_layer/internal/app/domain/loan"
	"github.com/studifi/finance_layer/internal/app/domain/payment"
)

const (
	testAdmin   = "admin-1"
	testStudent = "student-1"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	application, err := app.New(app.Options{Admins: []string{testAdmin}}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("start application: %v", err)
	}
	t.Cleanup(func() { _ = application.Stop(context.Background()) })
	return NewHandler(application, NewAuditLog(50, nil))
}

func marshal(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return bytes.NewReader(b)
}

func request(method, path, caller string, body *bytes.Reader) *http.Request {
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, body)
	}
	if caller != "" {
		req.Header.Set(principalHeader, caller)
	}
	return req
}

func do(t *testing.T, h http.Handler, req *http.Request, wantStatus int) []byte {
	t.Helper()
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	if resp.Code != wantStatus {
		t.Fatalf("%s %s: expected %d, got %d (%s)", req.Method, req.URL.Path, wantStatus, resp.Code, resp.Body.String())
	}
	return resp.Body.Bytes()
}

func TestHandlerLoanLifecycle(t *testing.T) {
	h := newTestHandler(t)

	do(t, h, request(http.MethodPost, "/treasury/deposit", testAdmin,
		marshal(t, map[string]any{"amount": 100_000_00, "reference": "seed"})), http.StatusOK)

	body := do(t, h, request(http.MethodPost, "/loans", testStudent, marshal(t, map[string]any{
		"amount":        10_000_00,
		"interest_rate": 0.06,
		"term_months":   24,
		"purpose":       "tuition",
	})), http.StatusCreated)

	var ln loan.Loan
	if err := json.Unmarshal(body, &ln); err != nil {
		t.Fatalf("unmarshal loan: %v", err)
	}
	if ln.Status != loan.StatusActive {
		t.Fatalf("expected active loan, got %s", ln.Status)
	}
	if ln.OriginationFee != 100_00 {
		t.Fatalf("expected 1%% origination fee, got %d", ln.OriginationFee)
	}

	body = do(t, h, request(http.MethodPost, "/loans/"+ln.ID+"/breakdown", testStudent,
		marshal(t, map[string]any{"amount": 500_00})), http.StatusOK)
	var bd payment.Breakdown
	if err := json.Unmarshal(body, &bd); err != nil {
		t.Fatalf("unmarshal breakdown: %v", err)
	}
	if bd.InterestPortion != 50_00 || bd.PrincipalPortion != 450_00 {
		t.Fatalf("unexpected breakdown: interest %d principal %d", bd.InterestPortion, bd.PrincipalPortion)
	}

	body = do(t, h, request(http.MethodPost, "/loans/"+ln.ID+"/payments", testStudent, marshal(t, map[string]any{
		"amount":           500_00,
		"method":           string(payment.MethodBankTransfer),
		"transaction_hash": "tx-1",
	})), http.StatusCreated)
	var p payment.Payment
	if err := json.Unmarshal(body, &p); err != nil {
		t.Fatalf("unmarshal payment: %v", err)
	}
	if p.Status != payment.StatusCompleted {
		t.Fatalf("expected completed payment, got %s", p.Status)
	}
	if p.PrincipalPortion != 450_00 || p.InterestPortion != 50_00 {
		t.Fatalf("unexpected portions: principal %d interest %d", p.PrincipalPortion, p.InterestPortion)
	}

	// Replaying the same settlement hash must not credit twice.
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, request(http.MethodPost, "/loans/"+ln.ID+"/payments", testStudent, marshal(t, map[string]any{
		"amount":           500_00,
		"method":           string(payment.MethodBankTransfer),
		"transaction_hash": "tx-1",
	})))
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 on replay, got %d", resp.Code)
	}

	body = do(t, h, request(http.MethodGet, "/loans/"+ln.ID, testStudent, nil), http.StatusOK)
	if err := json.Unmarshal(body, &ln); err != nil {
		t.Fatalf("unmarshal loan: %v", err)
	}
	if ln.CurrentBalance != 9_550_00 {
		t.Fatalf("expected balance 955000 after payment, got %d", ln.CurrentBalance)
	}
	if ln.PaymentsMade != 1 {
		t.Fatalf("expected one recorded payment, got %d", ln.PaymentsMade)
	}

	body = do(t, h, request(http.MethodGet, "/treasury", testAdmin, nil), http.StatusOK)
	var cfg struct {
		Total     int64 `json:"total_funds"`
		Available int64 `json:"available_funds"`
		Reserved  int64 `json:"reserved_funds"`
	}
	if err := json.Unmarshal(body, &cfg); err != nil {
		t.Fatalf("unmarshal treasury: %v", err)
	}
	if cfg.Total != cfg.Available+cfg.Reserved {
		t.Fatalf("fund invariant violated: total %d available %d reserved %d", cfg.Total, cfg.Available, cfg.Reserved)
	}

	body = do(t, h, request(http.MethodGet, "/loans/"+ln.ID+"/payoff", testStudent, nil), http.StatusOK)
	var quote payment.PayoffQuote
	if err := json.Unmarshal(body, &quote); err != nil {
		t.Fatalf("unmarshal quote: %v", err)
	}
	if quote.TotalPayoffAmount < quote.CurrentBalance {
		t.Fatalf("payoff %d below balance %d", quote.TotalPayoffAmount, quote.CurrentBalance)
	}

	do(t, h, request(http.MethodGet, "/stats", "", nil), http.StatusOK)
	do(t, h, request(http.MethodGet, "/stats/students/"+testStudent, testStudent, nil), http.StatusOK)
	do(t, h, request(http.MethodPost, "/automation/run", testAdmin, nil), http.StatusOK)

	body = do(t, h, request(http.MethodGet, "/audit", testAdmin, nil), http.StatusOK)
	var entries []AuditEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		t.Fatalf("unmarshal audit: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("expected audit entries for mutating requests")
	}

	do(t, h, request(http.MethodGet, "/healthz", "", nil), http.StatusOK)
}

func TestHandlerAuthorization(t *testing.T) {
	h := newTestHandler(t)

	do(t, h, request(http.MethodPost, "/treasury/deposit", "",
		marshal(t, map[string]any{"amount": 50_000_00})), http.StatusOK)

	body := do(t, h, request(http.MethodPost, "/loans", testStudent, marshal(t, map[string]any{
		"amount":        5_000_00,
		"interest_rate": 0.05,
		"term_months":   12,
		"purpose":       "books",
	})), http.StatusCreated)
	var ln loan.Loan
	if err := json.Unmarshal(body, &ln); err != nil {
		t.Fatalf("unmarshal loan: %v", err)
	}

	// Another student may not view the loan; the admin may.
	do(t, h, request(http.MethodGet, "/loans/"+ln.ID, "student-2", nil), http.StatusForbidden)
	do(t, h, request(http.MethodGet, "/loans/"+ln.ID, testAdmin, nil), http.StatusOK)

	// Treasury mutations and sweeps stay admin-only.
	do(t, h, request(http.MethodPost, "/treasury/deposit", testStudent,
		marshal(t, map[string]any{"amount": 100})), http.StatusForbidden)
	do(t, h, request(http.MethodPost, "/automation/run", testStudent, nil), http.StatusForbidden)
	do(t, h, request(http.MethodGet, "/audit", testStudent, nil), http.StatusForbidden)

	// Listing requires an identity.
	do(t, h, request(http.MethodGet, "/loans", "", nil), http.StatusBadRequest)

	// A student only sees their own stats.
	do(t, h, request(http.MethodGet, "/stats/students/"+testStudent, "student-2", nil), http.StatusForbidden)
}

func TestHandlerValidation(t *testing.T) {
	h := newTestHandler(t)

	do(t, h, request(http.MethodPost, "/treasury/deposit", testAdmin,
		marshal(t, map[string]any{"amount": 50_000_00})), http.StatusOK)

	// Below minimum principal.
	do(t, h, request(http.MethodPost, "/loans", testStudent, marshal(t, map[string]any{
		"amount":        50_00,
		"interest_rate": 0.05,
		"term_months":   12,
		"purpose":       "fees",
	})), http.StatusBadRequest)

	// Unknown fields are rejected.
	resp := httptest.NewRecorder()
	req := request(http.MethodPost, "/loans", testStudent,
		bytes.NewReader([]byte(`{"amount": 100000, "bogus": true}`)))
	h.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", resp.Code)
	}

	// A $45k request against $50k of funds breaches the 0.8 loan-to-fund
	// ceiling even though it passes the per-loan bounds.
	resp = httptest.NewRecorder()
	h.ServeHTTP(resp, request(http.MethodPost, "/loans", testStudent, marshal(t, map[string]any{
		"amount":        45_000_00,
		"interest_rate": 0.05,
		"term_months":   60,
		"purpose":       "tuition",
	})))
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 when reservation exceeds capacity, got %d", resp.Code)
	}

	do(t, h, request(http.MethodGet, "/loans/NOPE", testAdmin, nil), http.StatusNotFound)
}
