// Package loans implements the loan ledger: origination, the lifecycle state
// machine, and loan queries.
package loans

import (
	"context"
	"strings"
	"time"

	"github.com/studifi/finance_layer/internal/app/domain/finance"
	"github.com/studifi/finance_layer/internal/app/domain/loan"
	"github.com/studifi/finance_layer/internal/app/metrics"
	treasurysvc "github.com/studifi/finance_layer/internal/app/services/treasury"
	"github.com/studifi/finance_layer/internal/app/storage"
	"github.com/studifi/finance_layer/pkg/logger"
)

// Service owns the authoritative loan records and their state machine.
type Service struct {
	store    storage.FinanceStore
	treasury *treasurysvc.Service
	admins   map[string]bool
	log      *logger.Logger
	now      func() time.Time
}

// New constructs a loan ledger service. Principals listed in admins may act
// on any loan.
func New(store storage.FinanceStore, treasury *treasurysvc.Service, admins []string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("loans")
	}
	adminSet := make(map[string]bool, len(admins))
	for _, a := range admins {
		adminSet[a] = true
	}
	return &Service{
		store:    store,
		treasury: treasury,
		admins:   adminSet,
		log:      log,
		now:      time.Now,
	}
}

// CreateLoanInput carries the origination request. Credit approval happens
// upstream; the ledger trusts the terms it is handed.
type CreateLoanInput struct {
	StudentID          string
	CosignerID         string
	Amount             finance.Amount
	InterestRate       finance.Percentage
	TermMonths         uint32
	GracePeriodMonths  uint32
	Purpose            string
	CollateralRequired bool
	SpecialConditions  []string
}

func (in CreateLoanInput) validate() error {
	if strings.TrimSpace(in.StudentID) == "" {
		return finance.NewError(finance.KindInvalidInput, "student_id is required")
	}
	if in.Amount < finance.MinLoanAmount || in.Amount > finance.MaxLoanAmount {
		return finance.NewError(finance.KindInvalidInput, "loan amount must be between %s and %s",
			finance.FormatAmount(finance.MinLoanAmount), finance.FormatAmount(finance.MaxLoanAmount))
	}
	if in.TermMonths < finance.MinTermMonths || in.TermMonths > finance.MaxTermMonths {
		return finance.NewError(finance.KindInvalidInput, "term must be between %d and %d months",
			finance.MinTermMonths, finance.MaxTermMonths)
	}
	if in.InterestRate < 0 || in.InterestRate > finance.MaxInterestRate {
		return finance.NewError(finance.KindInvalidInput, "interest rate must be between 0 and %.2f", finance.MaxInterestRate)
	}
	if in.GracePeriodMonths > finance.MaxGracePeriodMonths {
		return finance.NewError(finance.KindInvalidInput, "grace period cannot exceed %d months", finance.MaxGracePeriodMonths)
	}
	return nil
}

// CreateLoan reserves treasury funds for the principal and commits the loan
// record in the same transaction. On reservation failure nothing is mutated.
func (s *Service) CreateLoan(ctx context.Context, in CreateLoanInput) (loan.Loan, error) {
	if err := in.validate(); err != nil {
		return loan.Loan{}, err
	}

	cfg, entries, err := s.treasury.PlanReservation(ctx, in.Amount)
	if err != nil {
		return loan.Loan{}, err
	}

	fee := finance.OriginationFee(in.Amount)
	cfg, feeEntry := s.treasury.RecordOriginationFee(cfg, "", fee)
	entries = append(entries, feeEntry)

	now := s.now().UTC()
	ln := loan.Loan{
		StudentID:          strings.TrimSpace(in.StudentID),
		CosignerID:         strings.TrimSpace(in.CosignerID),
		OriginalAmount:     in.Amount,
		CurrentBalance:     in.Amount,
		MonthlyPayment:     finance.MonthlyPayment(in.Amount, in.InterestRate, in.TermMonths),
		InterestRate:       in.InterestRate,
		TermMonths:         in.TermMonths,
		GracePeriodMonths:  in.GracePeriodMonths,
		OriginationFee:     fee,
		Status:             loan.StatusActive,
		CollateralRequired: in.CollateralRequired,
		SpecialConditions:  in.SpecialConditions,
		Purpose:            strings.TrimSpace(in.Purpose),
		CreatedAt:          now,
		// First installment due one payment period after origination. The
		// grace period is a delinquency window after a missed due date, not
		// an origination deferral.
		FirstPaymentDue: now.Add(loan.PaymentPeriod),
	}

	created, err := s.store.CreateLoanWithReservation(ctx, ln, cfg, entries)
	if err != nil {
		return loan.Loan{}, err
	}

	metrics.RecordLoanOrigination()
	s.log.WithField("loan_id", created.ID).
		WithField("student_id", created.StudentID).
		WithField("amount", finance.FormatAmount(created.OriginalAmount)).
		Info("loan originated")
	return created, nil
}

// UpdateStatus validates and applies a lifecycle transition. The
// InGracePeriod to Late transition increments the late-payment counter.
func (s *Service) UpdateStatus(ctx context.Context, id string, next loan.Status, principal string) (loan.Loan, error) {
	if !next.IsValid() {
		return loan.Loan{}, finance.NewError(finance.KindInvalidInput, "unknown loan status %q", next)
	}

	ln, err := s.store.GetLoan(ctx, id)
	if err != nil {
		return loan.Loan{}, err
	}
	if err := s.authorize(ln, principal); err != nil {
		return loan.Loan{}, err
	}

	if ln.Status.IsTerminal() {
		return loan.Loan{}, finance.WrapError(finance.KindInvalidInput,
			&loan.TransitionError{From: ln.Status, To: next}, "loan %s is closed", id)
	}
	if !loan.CanTransition(ln.Status, next) {
		return loan.Loan{}, finance.WrapError(finance.KindInvalidInput,
			&loan.TransitionError{From: ln.Status, To: next}, "loan %s", id)
	}

	prev := ln.Status
	ln.Status = next
	if prev == loan.StatusInGracePeriod && next == loan.StatusLate {
		ln.LatePayments++
	}

	ln, err = s.store.UpdateLoan(ctx, ln)
	if err != nil {
		return loan.Loan{}, err
	}

	metrics.RecordLoanTransition(string(prev), string(next))
	s.log.WithField("loan_id", id).
		WithField("from", string(prev)).
		WithField("to", string(next)).
		Info("loan status updated")
	return ln, nil
}

// Get returns a loan visible to the principal.
func (s *Service) Get(ctx context.Context, id, principal string) (loan.Loan, error) {
	ln, err := s.store.GetLoan(ctx, id)
	if err != nil {
		return loan.Loan{}, err
	}
	if err := s.authorize(ln, principal); err != nil {
		return loan.Loan{}, err
	}
	return ln, nil
}

// ListByStudent returns the student's loans.
func (s *Service) ListByStudent(ctx context.Context, studentID string) ([]loan.Loan, error) {
	return s.store.ListLoansByStudent(ctx, studentID)
}

// ListActive returns all loans currently in the Active state.
func (s *Service) ListActive(ctx context.Context) ([]loan.Loan, error) {
	return s.store.ListLoansByStatus(ctx, loan.StatusActive)
}

// ListAll returns every loan on the ledger.
func (s *Service) ListAll(ctx context.Context) ([]loan.Loan, error) {
	return s.store.ListLoans(ctx)
}

// ListOverdue returns open loans whose next installment date has passed.
// Deferred loans are not overdue.
func (s *Service) ListOverdue(ctx context.Context) ([]loan.Loan, error) {
	all, err := s.store.ListLoans(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	var overdue []loan.Loan
	for _, ln := range all {
		if ln.Status.IsTerminal() || ln.Status == loan.StatusDeferred {
			continue
		}
		if ln.IsOverdue(now) {
			overdue = append(overdue, ln)
		}
	}
	return overdue, nil
}

// authorize admits the loan's student, configured administrators, and
// internal callers (empty principal).
func (s *Service) authorize(ln loan.Loan, principal string) error {
	if principal == "" || principal == ln.StudentID || s.admins[principal] {
		return nil
	}
	return finance.NewError(finance.KindUnauthorized, "principal %s may not access loan %s", principal, ln.ID)
}

// IsAdmin reports whether the principal is a configured administrator.
func (s *Service) IsAdmin(principal string) bool {
	return s.admins[principal]
}
