// Package stats derives read-only platform and per-student statistics from
// the ledger. Nothing here is persisted; every call recomputes from source
// records.
package stats

import (
	"context"
	"time"

	"github.com/studifi/finance_layer/internal/app/domain/finance"
	"github.com/studifi/finance_layer/internal/app/domain/loan"
	"github.com/studifi/finance_layer/internal/app/domain/payment"
	"github.com/studifi/finance_layer/internal/app/storage"
	"github.com/studifi/finance_layer/pkg/logger"
)

// Service aggregates statistics over loans and payments.
type Service struct {
	store storage.FinanceStore
	log   *logger.Logger
	now   func() time.Time
}

// New constructs a statistics service.
func New(store storage.FinanceStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("stats")
	}
	return &Service{
		store: store,
		log:   log,
		now:   time.Now,
	}
}

// Statistics is the platform-wide loan summary. CompletedCount counts paid
// off loans; FailedCount counts defaults and cancellations. AverageAmount is
// TotalAmount over CompletedCount, zero when nothing has completed.
type Statistics struct {
	TotalCount     int            `json:"total_count"`
	ActiveCount    int            `json:"active_count"`
	CompletedCount int            `json:"completed_count"`
	FailedCount    int            `json:"failed_count"`
	TotalAmount    finance.Amount `json:"total_amount"`
	AverageAmount  finance.Amount `json:"average_amount"`
	ComputedAt     time.Time      `json:"computed_at"`
}

// Platform computes the platform-wide loan statistics.
func (s *Service) Platform(ctx context.Context) (Statistics, error) {
	loans, err := s.store.ListLoans(ctx)
	if err != nil {
		return Statistics{}, err
	}

	st := Statistics{ComputedAt: s.now().UTC()}
	for _, ln := range loans {
		st.TotalCount++
		st.TotalAmount += ln.OriginalAmount
		switch ln.Status {
		case loan.StatusPaidOff:
			st.CompletedCount++
		case loan.StatusDefault, loan.StatusCancelled:
			st.FailedCount++
		default:
			st.ActiveCount++
		}
	}
	if st.CompletedCount > 0 {
		st.AverageAmount = st.TotalAmount / finance.Amount(st.CompletedCount)
	}
	return st, nil
}

// StudentLoanStats is the per-student borrowing summary. CreditScoreImpact
// weighs repayment behavior: +10 per paid-off loan, +2 per on-time payment,
// -5 per late payment, -50 per default.
type StudentLoanStats struct {
	StudentID          string         `json:"student_id"`
	TotalLoans         int            `json:"total_loans"`
	ActiveLoans        int            `json:"active_loans"`
	PaidOffLoans       int            `json:"paid_off_loans"`
	DefaultedLoans     int            `json:"defaulted_loans"`
	TotalBorrowed      finance.Amount `json:"total_borrowed"`
	OutstandingBalance finance.Amount `json:"outstanding_balance"`
	TotalRepaid        finance.Amount `json:"total_repaid"`
	OnTimePayments     int            `json:"on_time_payments"`
	LatePayments       int            `json:"late_payments"`
	CreditScoreImpact  int            `json:"credit_score_impact"`
	ComputedAt         time.Time      `json:"computed_at"`
}

// Student computes the borrowing summary for one student.
func (s *Service) Student(ctx context.Context, studentID string) (StudentLoanStats, error) {
	loans, err := s.store.ListLoansByStudent(ctx, studentID)
	if err != nil {
		return StudentLoanStats{}, err
	}
	payments, err := s.store.ListPaymentsByStudent(ctx, studentID)
	if err != nil {
		return StudentLoanStats{}, err
	}

	st := StudentLoanStats{StudentID: studentID, ComputedAt: s.now().UTC()}
	for _, ln := range loans {
		st.TotalLoans++
		st.TotalBorrowed += ln.OriginalAmount
		st.LatePayments += int(ln.LatePayments)
		switch ln.Status {
		case loan.StatusPaidOff:
			st.PaidOffLoans++
		case loan.StatusDefault:
			st.DefaultedLoans++
			st.OutstandingBalance += ln.CurrentBalance
		case loan.StatusCancelled:
		default:
			st.ActiveLoans++
			st.OutstandingBalance += ln.CurrentBalance
		}
	}
	for _, p := range payments {
		if p.Status != payment.StatusCompleted {
			continue
		}
		st.TotalRepaid += p.Amount
		if p.LateFee == 0 && p.Type != payment.TypeLateFee {
			st.OnTimePayments++
		}
	}

	st.CreditScoreImpact = st.PaidOffLoans*10 + st.OnTimePayments*2 - st.LatePayments*5 - st.DefaultedLoans*50
	return st, nil
}
