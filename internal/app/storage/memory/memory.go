package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/studifi/finance_layer/internal/app/domain/finance"
	"github.com/studifi/finance_layer/internal/app/domain/loan"
	"github.com/studifi/finance_layer/internal/app/domain/payment"
	"github.com/studifi/finance_layer/internal/app/domain/treasury"
	"github.com/studifi/finance_layer/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. All
// mutating operations serialize on one mutex, which also makes the composite
// transactions trivially all-or-nothing. Intended for tests and local
// development.
type Store struct {
	mu             sync.RWMutex
	loanSeq        int64
	paymentSeq     int64
	loans          map[string]loan.Loan
	payments       map[string]payment.Payment
	paymentsByHash map[string]string // transaction hash -> completed payment id
	treasuryCfg    treasury.Config
	ledger         []treasury.LedgerEntry
}

var _ storage.FinanceStore = (*Store)(nil)

// New creates an empty store with a zeroed treasury. Callers seed the
// treasury configuration through UpdateTreasury before lending.
func New() *Store {
	return &Store{
		loanSeq:        1,
		paymentSeq:     1,
		loans:          make(map[string]loan.Loan),
		payments:       make(map[string]payment.Payment),
		paymentsByHash: make(map[string]string),
		treasuryCfg: treasury.Config{
			MaximumLoanToFundRatio: 0.8,
			MinimumReserveRatio:    0.15,
			InterestReserveRatio:   0.25,
			EmergencyFundRatio:     0.10,
			AutoRebalanceEnabled:   true,
		},
	}
}

func (s *Store) nextLoanIDLocked() string {
	id := s.loanSeq
	s.loanSeq++
	return fmt.Sprintf("LOAN-%08d", id)
}

func (s *Store) nextPaymentIDLocked() string {
	id := s.paymentSeq
	s.paymentSeq++
	return fmt.Sprintf("PAY-%08d", id)
}

func cloneLoan(ln loan.Loan) loan.Loan {
	if ln.LastPaymentDate != nil {
		t := *ln.LastPaymentDate
		ln.LastPaymentDate = &t
	}
	if ln.SpecialConditions != nil {
		ln.SpecialConditions = append([]string(nil), ln.SpecialConditions...)
	}
	return ln
}

func clonePayment(p payment.Payment) payment.Payment {
	if p.ProcessedAt != nil {
		t := *p.ProcessedAt
		p.ProcessedAt = &t
	}
	return p
}

// LoanStore implementation ----------------------------------------------------

func (s *Store) CreateLoan(_ context.Context, ln loan.Loan) (loan.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLoanLocked(ln)
}

func (s *Store) createLoanLocked(ln loan.Loan) (loan.Loan, error) {
	if ln.ID == "" {
		ln.ID = s.nextLoanIDLocked()
	} else if _, exists := s.loans[ln.ID]; exists {
		return loan.Loan{}, finance.NewError(finance.KindAlreadyExists, "loan %s already exists", ln.ID)
	}

	now := time.Now().UTC()
	if ln.CreatedAt.IsZero() {
		ln.CreatedAt = now
	}
	ln.UpdatedAt = now

	s.loans[ln.ID] = cloneLoan(ln)
	return cloneLoan(ln), nil
}

func (s *Store) UpdateLoan(_ context.Context, ln loan.Loan) (loan.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLoanLocked(ln)
}

func (s *Store) updateLoanLocked(ln loan.Loan) (loan.Loan, error) {
	original, ok := s.loans[ln.ID]
	if !ok {
		return loan.Loan{}, finance.NewError(finance.KindNotFound, "loan %s not found", ln.ID)
	}

	ln.CreatedAt = original.CreatedAt
	ln.UpdatedAt = time.Now().UTC()

	s.loans[ln.ID] = cloneLoan(ln)
	return cloneLoan(ln), nil
}

func (s *Store) GetLoan(_ context.Context, id string) (loan.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ln, ok := s.loans[id]
	if !ok {
		return loan.Loan{}, finance.NewError(finance.KindNotFound, "loan %s not found", id)
	}
	return cloneLoan(ln), nil
}

func (s *Store) ListLoans(_ context.Context) ([]loan.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]loan.Loan, 0, len(s.loans))
	for _, ln := range s.loans {
		result = append(result, cloneLoan(ln))
	}
	sortLoans(result)
	return result, nil
}

func (s *Store) ListLoansByStudent(_ context.Context, studentID string) ([]loan.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []loan.Loan
	for _, ln := range s.loans {
		if ln.StudentID == studentID {
			result = append(result, cloneLoan(ln))
		}
	}
	sortLoans(result)
	return result, nil
}

func (s *Store) ListLoansByStatus(_ context.Context, status loan.Status) ([]loan.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []loan.Loan
	for _, ln := range s.loans {
		if ln.Status == status {
			result = append(result, cloneLoan(ln))
		}
	}
	sortLoans(result)
	return result, nil
}

func sortLoans(loans []loan.Loan) {
	sort.Slice(loans, func(i, j int) bool { return loans[i].ID < loans[j].ID })
}

// PaymentStore implementation -------------------------------------------------

func (s *Store) CreatePayment(_ context.Context, p payment.Payment) (payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createPaymentLocked(p)
}

func (s *Store) createPaymentLocked(p payment.Payment) (payment.Payment, error) {
	if p.ID == "" {
		p.ID = s.nextPaymentIDLocked()
	} else if _, exists := s.payments[p.ID]; exists {
		return payment.Payment{}, finance.NewError(finance.KindAlreadyExists, "payment %s already exists", p.ID)
	}

	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	s.payments[p.ID] = clonePayment(p)
	s.indexPaymentLocked(p)
	return clonePayment(p), nil
}

func (s *Store) UpdatePayment(_ context.Context, p payment.Payment) (payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatePaymentLocked(p)
}

func (s *Store) updatePaymentLocked(p payment.Payment) (payment.Payment, error) {
	original, ok := s.payments[p.ID]
	if !ok {
		return payment.Payment{}, finance.NewError(finance.KindNotFound, "payment %s not found", p.ID)
	}
	if p.Status != original.Status && !payment.CanTransition(original.Status, p.Status) {
		return payment.Payment{}, finance.WrapError(finance.KindInvalidInput,
			&payment.TransitionError{From: original.Status, To: p.Status}, "payment %s", p.ID)
	}

	p.CreatedAt = original.CreatedAt
	s.payments[p.ID] = clonePayment(p)
	s.indexPaymentLocked(p)
	return clonePayment(p), nil
}

// indexPaymentLocked tracks completed payments by settlement reference.
// Only completed payments count for idempotency.
func (s *Store) indexPaymentLocked(p payment.Payment) {
	if p.TransactionHash != "" && p.Status == payment.StatusCompleted {
		s.paymentsByHash[p.TransactionHash] = p.ID
	}
}

func (s *Store) GetPayment(_ context.Context, id string) (payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[id]
	if !ok {
		return payment.Payment{}, finance.NewError(finance.KindNotFound, "payment %s not found", id)
	}
	return clonePayment(p), nil
}

func (s *Store) GetPaymentByTransactionHash(_ context.Context, hash string) (payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.paymentsByHash[hash]
	if !ok {
		return payment.Payment{}, finance.NewError(finance.KindNotFound, "no completed payment with transaction hash %s", hash)
	}
	return clonePayment(s.payments[id]), nil
}

func (s *Store) ListPayments(_ context.Context, loanID string) ([]payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []payment.Payment
	for _, p := range s.payments {
		if p.LoanID == loanID {
			result = append(result, clonePayment(p))
		}
	}
	sortPayments(result)
	return result, nil
}

func (s *Store) ListPaymentsByStudent(_ context.Context, studentID string) ([]payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []payment.Payment
	for _, p := range s.payments {
		if p.StudentID == studentID {
			result = append(result, clonePayment(p))
		}
	}
	sortPayments(result)
	return result, nil
}

func sortPayments(payments []payment.Payment) {
	sort.Slice(payments, func(i, j int) bool { return payments[i].ID < payments[j].ID })
}

// TreasuryStore implementation ------------------------------------------------

func (s *Store) GetTreasuryConfig(_ context.Context) (treasury.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.treasuryCfg, nil
}

func (s *Store) ListLedgerEntries(_ context.Context, limit int) ([]treasury.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.ledger)
	if limit > 0 && limit < n {
		n = limit
	}
	result := make([]treasury.LedgerEntry, 0, n)
	// Newest first.
	for i := len(s.ledger) - 1; i >= 0 && len(result) < n; i-- {
		result = append(result, s.ledger[i])
	}
	return result, nil
}

func (s *Store) UpdateTreasury(_ context.Context, cfg treasury.Config, entries []treasury.LedgerEntry) (treasury.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateTreasuryLocked(cfg, entries)
}

func (s *Store) updateTreasuryLocked(cfg treasury.Config, entries []treasury.LedgerEntry) (treasury.Config, error) {
	if err := validateTreasury(cfg); err != nil {
		return treasury.Config{}, err
	}

	now := time.Now().UTC()
	cfg.UpdatedAt = now
	s.treasuryCfg = cfg

	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		s.ledger = append(s.ledger, e)
	}
	return cfg, nil
}

// validateTreasury enforces the fund-pool sum invariant before any commit.
func validateTreasury(cfg treasury.Config) error {
	if cfg.TotalFunds < 0 || cfg.AvailableFunds < 0 || cfg.ReservedFunds < 0 {
		return finance.NewError(finance.KindInternal, "treasury funds negative: total=%d available=%d reserved=%d",
			cfg.TotalFunds, cfg.AvailableFunds, cfg.ReservedFunds)
	}
	if cfg.TotalFunds != cfg.AvailableFunds+cfg.ReservedFunds {
		return finance.NewError(finance.KindInternal, "treasury sum invariant violated: total=%d available=%d reserved=%d",
			cfg.TotalFunds, cfg.AvailableFunds, cfg.ReservedFunds)
	}
	return nil
}

// Composite transactions ------------------------------------------------------

func (s *Store) CreateLoanWithReservation(_ context.Context, ln loan.Loan, cfg treasury.Config, entries []treasury.LedgerEntry) (loan.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateTreasury(cfg); err != nil {
		return loan.Loan{}, err
	}

	created, err := s.createLoanLocked(ln)
	if err != nil {
		return loan.Loan{}, err
	}
	for i := range entries {
		if entries[i].LoanID == "" {
			entries[i].LoanID = created.ID
		}
	}
	if _, err := s.updateTreasuryLocked(cfg, entries); err != nil {
		delete(s.loans, created.ID)
		return loan.Loan{}, err
	}
	return created, nil
}

func (s *Store) ApplyPayment(_ context.Context, ln loan.Loan, p payment.Payment, cfg treasury.Config, entries []treasury.LedgerEntry) (loan.Loan, payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.TransactionHash != "" {
		if existingID, ok := s.paymentsByHash[p.TransactionHash]; ok && existingID != p.ID {
			return loan.Loan{}, payment.Payment{}, finance.NewError(finance.KindAlreadyExists,
				"transaction hash %s already settled by payment %s", p.TransactionHash, existingID)
		}
	}
	if _, ok := s.loans[ln.ID]; !ok {
		return loan.Loan{}, payment.Payment{}, finance.NewError(finance.KindNotFound, "loan %s not found", ln.ID)
	}
	if err := validateTreasury(cfg); err != nil {
		return loan.Loan{}, payment.Payment{}, err
	}
	// Validate the payment transition before the loan commits so a rejected
	// status never leaves a half-applied payment.
	if existing, ok := s.payments[p.ID]; ok {
		if p.Status != existing.Status && !payment.CanTransition(existing.Status, p.Status) {
			return loan.Loan{}, payment.Payment{}, finance.WrapError(finance.KindInvalidInput,
				&payment.TransitionError{From: existing.Status, To: p.Status}, "payment %s", p.ID)
		}
	}

	updatedLoan, err := s.updateLoanLocked(ln)
	if err != nil {
		return loan.Loan{}, payment.Payment{}, err
	}

	var updatedPayment payment.Payment
	if _, exists := s.payments[p.ID]; exists {
		updatedPayment, err = s.updatePaymentLocked(p)
	} else {
		updatedPayment, err = s.createPaymentLocked(p)
	}
	if err != nil {
		return loan.Loan{}, payment.Payment{}, err
	}

	if _, err := s.updateTreasuryLocked(cfg, entries); err != nil {
		return loan.Loan{}, payment.Payment{}, err
	}
	return updatedLoan, updatedPayment, nil
}
