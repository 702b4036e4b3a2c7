package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	app "github.com/studifi/finance_layer/internal/app"
	"github.com/studifi/finance_layer/internal/app/domain/finance"
	"github.com/studifi/finance_layer/internal/app/domain/loan"
	"github.com/studifi/finance_layer/internal/app/domain/payment"
	"github.com/studifi/finance_layer/internal/app/services/loans"
)

// principalHeader carries the pre-authenticated caller identity. Upstream
// identity verification is out of scope; the engine trusts this value.
const principalHeader = "X-Student-ID"

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app   *app.Application
	audit *AuditLog
}

// NewHandler returns a mux exposing the core REST API. Audit may be nil to
// disable request auditing.
func NewHandler(application *app.Application, audit *AuditLog) http.Handler {
	h := &handler{app: application, audit: audit}
	mux := http.NewServeMux()
	mux.HandleFunc("/loans", h.loans)
	mux.HandleFunc("/loans/", h.loanResources)
	mux.HandleFunc("/payments", h.payments)
	mux.HandleFunc("/payments/", h.paymentByID)
	mux.HandleFunc("/treasury", h.treasury)
	mux.HandleFunc("/treasury/", h.treasuryResources)
	mux.HandleFunc("/automation/run", h.automationRun)
	mux.HandleFunc("/stats", h.platformStats)
	mux.HandleFunc("/stats/students/", h.studentStats)
	mux.HandleFunc("/audit", h.auditEntries)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return wrapWithAudit(mux, audit)
}

func principal(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(principalHeader))
}

func (h *handler) loans(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var payload struct {
			Amount             finance.Amount     `json:"amount"`
			InterestRate       finance.Percentage `json:"interest_rate"`
			TermMonths         uint32             `json:"term_months"`
			GracePeriodMonths  uint32             `json:"grace_period_months"`
			Purpose            string             `json:"purpose"`
			CollateralRequired bool               `json:"collateral_required"`
			CosignerID         string             `json:"cosigner_id"`
			SpecialConditions  []string           `json:"special_conditions"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		ln, err := h.app.Loans.CreateLoan(r.Context(), loans.CreateLoanInput{
			StudentID:          principal(r),
			CosignerID:         payload.CosignerID,
			Amount:             payload.Amount,
			InterestRate:       payload.InterestRate,
			TermMonths:         payload.TermMonths,
			GracePeriodMonths:  payload.GracePeriodMonths,
			Purpose:            payload.Purpose,
			CollateralRequired: payload.CollateralRequired,
			SpecialConditions:  payload.SpecialConditions,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, ln)

	case http.MethodGet:
		caller := principal(r)
		if caller == "" {
			writeError(w, http.StatusBadRequest, errors.New("missing "+principalHeader+" header"))
			return
		}
		if h.app.Loans.IsAdmin(caller) {
			all, err := h.app.Loans.ListAll(r.Context())
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, all)
			return
		}
		mine, err := h.app.Loans.ListByStudent(r.Context(), caller)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, mine)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) loanResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/loans"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	// Collection views take precedence over id lookup.
	if len(parts) == 1 {
		switch parts[0] {
		case "active":
			h.listLoans(w, r, h.app.Loans.ListActive)
			return
		case "overdue":
			h.listLoans(w, r, h.app.Loans.ListOverdue)
			return
		case "due-soon":
			h.listLoans(w, r, h.app.Automation.ListDueSoon)
			return
		}
	}

	loanID := parts[0]
	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ln, err := h.app.Loans.Get(r.Context(), loanID, principal(r))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ln)
		return
	}

	switch parts[1] {
	case "status":
		h.loanStatus(w, r, loanID)
	case "payments":
		h.loanPayments(w, r, loanID)
	case "breakdown":
		h.loanBreakdown(w, r, loanID)
	case "payoff":
		h.loanPayoff(w, r, loanID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) listLoans(w http.ResponseWriter, r *http.Request, list func(context.Context) ([]loan.Loan, error)) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	result, err := list(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) loanStatus(w http.ResponseWriter, r *http.Request, loanID string) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ln, err := h.app.Loans.UpdateStatus(r.Context(), loanID, loan.Status(payload.Status), principal(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ln)
}

func (h *handler) loanPayments(w http.ResponseWriter, r *http.Request, loanID string) {
	switch r.Method {
	case http.MethodGet:
		list, err := h.app.Payments.ListForLoan(r.Context(), loanID, principal(r))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)

	case http.MethodPost:
		var payload struct {
			Amount          finance.Amount `json:"amount"`
			Method          string         `json:"method"`
			TransactionHash string         `json:"transaction_hash"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		p, err := h.app.Payments.ProcessPayment(r.Context(), loanID, payload.Amount,
			payment.Method(payload.Method), payload.TransactionHash, principal(r))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) loanBreakdown(w http.ResponseWriter, r *http.Request, loanID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Amount finance.Amount `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	bd, err := h.app.Payments.CalculateBreakdown(r.Context(), loanID, payload.Amount, principal(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bd)
}

func (h *handler) loanPayoff(w http.ResponseWriter, r *http.Request, loanID string) {
	switch r.Method {
	case http.MethodGet:
		q, err := h.app.Payments.PayoffQuote(r.Context(), loanID, principal(r))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, q)

	case http.MethodPost:
		var payload struct {
			Method          string `json:"method"`
			TransactionHash string `json:"transaction_hash"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		p, err := h.app.Payments.MakeEarlyPayoff(r.Context(), loanID,
			payment.Method(payload.Method), payload.TransactionHash, principal(r))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) payments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	caller := principal(r)
	if caller == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing "+principalHeader+" header"))
		return
	}
	list, err := h.app.Payments.ListByStudent(r.Context(), caller)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) paymentByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/payments"), "/")
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	p, err := h.app.Payments.Get(r.Context(), id, principal(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) treasury(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg, err := h.app.Treasury.Config(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// requireAdmin rejects callers that are neither internal nor admins.
func (h *handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	caller := principal(r)
	if caller != "" && !h.app.Loans.IsAdmin(caller) {
		writeError(w, http.StatusForbidden, errors.New("admin access required"))
		return false
	}
	return true
}

func (h *handler) treasuryResources(w http.ResponseWriter, r *http.Request) {
	resource := strings.Trim(strings.TrimPrefix(r.URL.Path, "/treasury"), "/")
	switch resource {
	case "deposit":
		h.treasuryMove(w, r, true)
	case "withdraw":
		h.treasuryMove(w, r, false)
	case "rebalance":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !h.requireAdmin(w, r) {
			return
		}
		cfg, err := h.app.Treasury.Rebalance(r.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	case "health":
		health, err := h.app.Treasury.Health(r.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, health)
	case "stats":
		st, err := h.app.Treasury.Stats(r.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	case "ledger":
		limit := 100
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				limit = n
			}
		}
		entries, err := h.app.Treasury.LedgerEntries(r.Context(), limit)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) treasuryMove(w http.ResponseWriter, r *http.Request, deposit bool) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.requireAdmin(w, r) {
		return
	}
	var payload struct {
		Amount    finance.Amount `json:"amount"`
		Reference string         `json:"reference"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var (
		cfg any
		err error
	)
	if deposit {
		cfg, err = h.app.Treasury.AddFunds(r.Context(), payload.Amount, payload.Reference)
	} else {
		cfg, err = h.app.Treasury.WithdrawFunds(r.Context(), payload.Amount, payload.Reference)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *handler) automationRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.requireAdmin(w, r) {
		return
	}
	report, err := h.app.Automation.RunTasks(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *handler) platformStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	st, err := h.app.Stats.Platform(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handler) studentStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	studentID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/stats/students"), "/")
	if studentID == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	caller := principal(r)
	if caller != "" && caller != studentID && !h.app.Loans.IsAdmin(caller) {
		writeError(w, http.StatusForbidden, errors.New("not authorized for this student"))
		return
	}
	st, err := h.app.Stats.Student(r.Context(), studentID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handler) auditEntries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.audit == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	caller := principal(r)
	if caller != "" && !h.app.Loans.IsAdmin(caller) {
		writeError(w, http.StatusForbidden, errors.New("audit log requires admin access"))
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, h.audit.listLimit(limit))
}

// writeDomainError maps error kinds to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch finance.KindOf(err) {
	case finance.KindInvalidInput:
		status = http.StatusBadRequest
	case finance.KindNotFound:
		status = http.StatusNotFound
	case finance.KindUnauthorized:
		status = http.StatusForbidden
	case finance.KindAlreadyExists:
		status = http.StatusConflict
	case finance.KindInsufficientFunds:
		status = http.StatusUnprocessableEntity
	case finance.KindExpired:
		status = http.StatusGone
	case finance.KindNetworkError:
		status = http.StatusBadGateway
	}
	writeError(w, status, err)
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
