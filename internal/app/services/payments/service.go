// Package payments implements payment decomposition, application, and early
// payoff. ProcessPayment and MakeEarlyPayoff are the engine's only
// cross-resource transactions: each commits the loan, the payment record, and
// the treasury update atomically.
package payments

import (
	"context"
	"time"

	"github.com/studifi/finance_layer/internal/app/domain/finance"
	"github.com/studifi/finance_layer/internal/app/domain/loan"
	"github.com/studifi/finance_layer/internal/app/domain/payment"
	"github.com/studifi/finance_layer/internal/app/metrics"
	treasurysvc "github.com/studifi/finance_layer/internal/app/services/treasury"
	"github.com/studifi/finance_layer/internal/app/storage"
	"github.com/studifi/finance_layer/pkg/logger"
)

// Service processes payments against loans.
type Service struct {
	store        storage.FinanceStore
	treasury     *treasurysvc.Service
	admins       map[string]bool
	minSeasoning uint32
	log          *logger.Logger
	now          func() time.Time
}

// New constructs a payment processor. minSeasoningMonths is the number of
// installments after which the prepayment penalty no longer applies.
func New(store storage.FinanceStore, treasury *treasurysvc.Service, admins []string, minSeasoningMonths uint32, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("payments")
	}
	adminSet := make(map[string]bool, len(admins))
	for _, a := range admins {
		adminSet[a] = true
	}
	return &Service{
		store:        store,
		treasury:     treasury,
		admins:       adminSet,
		minSeasoning: minSeasoningMonths,
		log:          log,
		now:          time.Now,
	}
}

// CalculateBreakdown quotes how a payment amount would decompose against the
// loan's balance. Pure derivation, nothing is mutated.
func (s *Service) CalculateBreakdown(ctx context.Context, loanID string, amount finance.Amount, principal string) (payment.Breakdown, error) {
	ln, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return payment.Breakdown{}, err
	}
	if err := s.authorize(ln, principal); err != nil {
		return payment.Breakdown{}, err
	}
	return breakdown(ln, amount)
}

func breakdown(ln loan.Loan, amount finance.Amount) (payment.Breakdown, error) {
	if amount <= 0 {
		return payment.Breakdown{}, finance.NewError(finance.KindInvalidInput, "payment amount must be positive")
	}
	if ln.Status.IsTerminal() {
		return payment.Breakdown{}, finance.NewError(finance.KindExpired, "loan %s is closed", ln.ID)
	}
	if ln.Status == loan.StatusDeferred {
		return payment.Breakdown{}, finance.NewError(finance.KindInvalidInput,
			"loan %s is deferred; payments resume once it is reactivated", ln.ID)
	}

	interest := finance.MonthlyInterest(ln.CurrentBalance, ln.InterestRate)
	var lateFee finance.Amount
	if ln.Status == loan.StatusLate {
		lateFee = finance.LateFee(ln.MonthlyPayment)
	}

	principalPortion := amount - interest - lateFee
	if principalPortion < 0 {
		return payment.Breakdown{}, finance.NewError(finance.KindInvalidInput,
			"payment of %s does not cover interest %s and fees %s",
			finance.FormatAmount(amount), finance.FormatAmount(interest), finance.FormatAmount(lateFee))
	}
	if principalPortion > ln.CurrentBalance {
		principalPortion = ln.CurrentBalance
	}

	return payment.Breakdown{
		LoanID:           ln.ID,
		Amount:           amount,
		PrincipalPortion: principalPortion,
		InterestPortion:  interest,
		LateFee:          lateFee,
		RemainingBalance: ln.CurrentBalance - principalPortion,
	}, nil
}

// ProcessPayment applies a payment to a loan. The loan update, the payment
// record, and the treasury credit commit as one transaction; on failure the
// payment is marked Failed and nothing else changes. A transaction hash seen
// on an already-completed payment fails with AlreadyExists.
func (s *Service) ProcessPayment(ctx context.Context, loanID string, amount finance.Amount, method payment.Method, txHash, principal string) (payment.Payment, error) {
	ln, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return payment.Payment{}, err
	}
	if err := s.authorize(ln, principal); err != nil {
		return payment.Payment{}, err
	}
	if txHash != "" {
		if existing, err := s.store.GetPaymentByTransactionHash(ctx, txHash); err == nil {
			return payment.Payment{}, finance.NewError(finance.KindAlreadyExists,
				"transaction hash %s already settled by payment %s", txHash, existing.ID)
		}
	}

	bd, err := breakdown(ln, amount)
	if err != nil {
		return payment.Payment{}, err
	}

	ptype := payment.TypeRegular
	if bd.PrincipalPortion > ln.MonthlyPayment {
		ptype = payment.TypeExtra
	}
	return s.settle(ctx, ln, bd, ptype, method, txHash)
}

// settle runs the Pending -> Processing -> Completed pipeline and the atomic
// application of the breakdown to loan and treasury.
func (s *Service) settle(ctx context.Context, ln loan.Loan, bd payment.Breakdown, ptype payment.Type, method payment.Method, txHash string) (payment.Payment, error) {
	now := s.now().UTC()

	p := payment.Payment{
		LoanID:          ln.ID,
		StudentID:       ln.StudentID,
		Amount:          bd.Amount,
		Type:            ptype,
		Method:          method,
		Status:          payment.StatusPending,
		TransactionHash: txHash,
		CreatedAt:       now,
	}
	p, err := s.store.CreatePayment(ctx, p)
	if err != nil {
		return payment.Payment{}, err
	}

	p.Status = payment.StatusProcessing
	if p, err = s.store.UpdatePayment(ctx, p); err != nil {
		return payment.Payment{}, err
	}

	// Apply the breakdown to the loan.
	ln.CurrentBalance -= bd.PrincipalPortion
	ln.PaymentsMade++
	ln.LastPaymentDate = &now
	switch {
	case ln.CurrentBalance == 0:
		ln.Status = loan.StatusPaidOff
	case (ln.Status == loan.StatusLate || ln.Status == loan.StatusInGracePeriod) && !ln.IsOverdue(now):
		// Payment brought the schedule current.
		ln.Status = loan.StatusActive
	}

	cfg, entries, err := s.treasury.PlanPaymentCredit(ctx, ln.ID, p.ID, bd.PrincipalPortion, bd.InterestPortion, bd.LateFee)
	if err != nil {
		return payment.Payment{}, s.fail(ctx, p, err)
	}

	p.PrincipalPortion = bd.PrincipalPortion
	p.InterestPortion = bd.InterestPortion
	p.LateFee = bd.LateFee
	p.Status = payment.StatusCompleted
	p.ProcessedAt = &now

	updatedLoan, completed, err := s.store.ApplyPayment(ctx, ln, p, cfg, entries)
	if err != nil {
		return payment.Payment{}, s.fail(ctx, p, err)
	}

	metrics.RecordPayment(string(completed.Type), string(completed.Status), completed.Amount)
	s.log.WithField("payment_id", completed.ID).
		WithField("loan_id", updatedLoan.ID).
		WithField("amount", finance.FormatAmount(completed.Amount)).
		WithField("principal", finance.FormatAmount(completed.PrincipalPortion)).
		WithField("balance", finance.FormatAmount(updatedLoan.CurrentBalance)).
		Info("payment completed")
	return completed, nil
}

// fail marks the in-flight payment Failed and returns the original error.
func (s *Service) fail(ctx context.Context, p payment.Payment, cause error) error {
	p.Status = payment.StatusFailed
	p.ProcessedAt = nil
	if _, err := s.store.UpdatePayment(ctx, p); err != nil {
		s.log.WithError(err).WithField("payment_id", p.ID).Error("failed to mark payment failed")
	}
	metrics.RecordPayment(string(p.Type), string(p.Status), 0)
	return cause
}

// PayoffQuote derives the early-payoff estimate for an eligible loan.
// Eligible states are Active, InGracePeriod, and Late.
func (s *Service) PayoffQuote(ctx context.Context, loanID, principal string) (payment.PayoffQuote, error) {
	ln, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return payment.PayoffQuote{}, err
	}
	if err := s.authorize(ln, principal); err != nil {
		return payment.PayoffQuote{}, err
	}
	return s.quote(ln)
}

func (s *Service) quote(ln loan.Loan) (payment.PayoffQuote, error) {
	switch ln.Status {
	case loan.StatusActive, loan.StatusInGracePeriod, loan.StatusLate:
	case loan.StatusDeferred:
		return payment.PayoffQuote{}, finance.NewError(finance.KindInvalidInput, "loan %s is deferred and cannot be paid off early", ln.ID)
	default:
		return payment.PayoffQuote{}, finance.NewError(finance.KindExpired, "loan %s is closed", ln.ID)
	}

	// Remaining scheduled interest, estimated from the fixed installment.
	scheduled := finance.Amount(ln.MonthlyPayment) * finance.Amount(ln.RemainingTermMonths())
	savings := scheduled - ln.CurrentBalance
	if savings < 0 {
		savings = 0
	}

	var penalty finance.Amount
	seasoned := ln.PaymentsMade >= s.minSeasoning
	if !seasoned && !ln.HasCondition(loan.ConditionNoPrepaymentPenalty) {
		penalty = finance.RoundCents(float64(ln.CurrentBalance) * finance.PrepaymentPenaltyPct)
	}

	total := ln.CurrentBalance + penalty - savings
	if total < ln.CurrentBalance {
		total = ln.CurrentBalance
	}

	return payment.PayoffQuote{
		LoanID:            ln.ID,
		CurrentBalance:    ln.CurrentBalance,
		InterestSavings:   savings,
		PrepaymentPenalty: penalty,
		TotalPayoffAmount: total,
		QuotedAt:          s.now().UTC(),
	}, nil
}

// MakeEarlyPayoff settles the full balance at a freshly derived quote and
// closes the loan, atomically with the payment's completion.
func (s *Service) MakeEarlyPayoff(ctx context.Context, loanID string, method payment.Method, txHash, principal string) (payment.Payment, error) {
	ln, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return payment.Payment{}, err
	}
	if err := s.authorize(ln, principal); err != nil {
		return payment.Payment{}, err
	}
	if txHash != "" {
		if existing, err := s.store.GetPaymentByTransactionHash(ctx, txHash); err == nil {
			return payment.Payment{}, finance.NewError(finance.KindAlreadyExists,
				"transaction hash %s already settled by payment %s", txHash, existing.ID)
		}
	}

	q, err := s.quote(ln)
	if err != nil {
		return payment.Payment{}, err
	}

	bd := payment.Breakdown{
		LoanID:           ln.ID,
		Amount:           q.TotalPayoffAmount,
		PrincipalPortion: ln.CurrentBalance,
		InterestPortion:  q.TotalPayoffAmount - ln.CurrentBalance,
		RemainingBalance: 0,
	}
	return s.settle(ctx, ln, bd, payment.TypeFullPayoff, method, txHash)
}

// Get returns a payment visible to the principal.
func (s *Service) Get(ctx context.Context, id, principal string) (payment.Payment, error) {
	p, err := s.store.GetPayment(ctx, id)
	if err != nil {
		return payment.Payment{}, err
	}
	if principal != "" && principal != p.StudentID && !s.admins[principal] {
		return payment.Payment{}, finance.NewError(finance.KindUnauthorized, "principal %s may not access payment %s", principal, id)
	}
	return p, nil
}

// ListForLoan returns a loan's payments, newest last.
func (s *Service) ListForLoan(ctx context.Context, loanID, principal string) ([]payment.Payment, error) {
	ln, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ln, principal); err != nil {
		return nil, err
	}
	return s.store.ListPayments(ctx, loanID)
}

// ListByStudent returns the student's payments across all loans.
func (s *Service) ListByStudent(ctx context.Context, studentID string) ([]payment.Payment, error) {
	return s.store.ListPaymentsByStudent(ctx, studentID)
}

func (s *Service) authorize(ln loan.Loan, principal string) error {
	if principal == "" || principal == ln.StudentID || s.admins[principal] {
		return nil
	}
	return finance.NewError(finance.KindUnauthorized, "principal %s may not access loan %s", principal, ln.ID)
}
