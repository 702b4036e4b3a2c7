package payments

import (
	"context"
	"testing"
	"time"

	"github.com/studifi/finance_layer/internal/app/domain/finance"
	"github.com/studifi/finance_layer/internal/app/domain/loan"
	"github.com/studifi/finance_layer/internal/app/domain/payment"
	loanssvc "github.com/studifi/finance_layer/internal/app/services/loans"
	treasurysvc "github.com/studifi/finance_layer/internal/app/services/treasury"
	"github.com/studifi/finance_layer/internal/app/storage/memory"
)

type fixture struct {
	store    *memory.Store
	treasury *treasurysvc.Service
	loans    *loanssvc.Service
	payments *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	tre := treasurysvc.New(store, nil)
	if _, err := tre.AddFunds(context.Background(), 100_000_00, "seed"); err != nil {
		t.Fatalf("seed treasury: %v", err)
	}
	return &fixture{
		store:    store,
		treasury: tre,
		loans:    loanssvc.New(store, tre, nil, nil),
		payments: New(store, tre, nil, 12, nil),
	}
}

func (f *fixture) originate(t *testing.T, rate finance.Percentage, term uint32, conditions ...string) loan.Loan {
	t.Helper()
	ln, err := f.loans.CreateLoan(context.Background(), loanssvc.CreateLoanInput{
		StudentID:         "student-1",
		Amount:            10_000_00,
		InterestRate:      rate,
		TermMonths:        term,
		Purpose:           "tuition",
		SpecialConditions: conditions,
	})
	if err != nil {
		t.Fatalf("originate: %v", err)
	}
	return ln
}

func TestCalculateBreakdown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ln := f.originate(t, 0.06, 24)

	// $500 against $10,000 at 6%: $50 interest, $450 principal.
	bd, err := f.payments.CalculateBreakdown(ctx, ln.ID, 500_00, "student-1")
	if err != nil {
		t.Fatalf("breakdown: %v", err)
	}
	if bd.InterestPortion != 50_00 || bd.PrincipalPortion != 450_00 || bd.LateFee != 0 {
		t.Fatalf("unexpected breakdown: %#v", bd)
	}
	if bd.RemainingBalance != 9_550_00 {
		t.Fatalf("expected remaining 955000, got %d", bd.RemainingBalance)
	}

	// An amount below the accrued interest is rejected.
	if _, err := f.payments.CalculateBreakdown(ctx, ln.ID, 40_00, "student-1"); !finance.IsKind(err, finance.KindInvalidInput) {
		t.Fatalf("expected invalid_input, got %v", err)
	}
	if _, err := f.payments.CalculateBreakdown(ctx, ln.ID, -1, "student-1"); !finance.IsKind(err, finance.KindInvalidInput) {
		t.Fatalf("expected invalid_input for negative amount, got %v", err)
	}

	// An oversized payment is clamped to the balance.
	bd, err = f.payments.CalculateBreakdown(ctx, ln.ID, 20_000_00, "student-1")
	if err != nil {
		t.Fatalf("oversized breakdown: %v", err)
	}
	if bd.PrincipalPortion != ln.CurrentBalance || bd.RemainingBalance != 0 {
		t.Fatalf("expected clamp to balance: %#v", bd)
	}
}

func TestBreakdownAddsLateFee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ln := f.originate(t, 0.06, 24)

	if _, err := f.loans.UpdateStatus(ctx, ln.ID, loan.StatusInGracePeriod, ""); err != nil {
		t.Fatalf("to grace: %v", err)
	}
	if _, err := f.loans.UpdateStatus(ctx, ln.ID, loan.StatusLate, ""); err != nil {
		t.Fatalf("to late: %v", err)
	}

	bd, err := f.payments.CalculateBreakdown(ctx, ln.ID, 500_00, "student-1")
	if err != nil {
		t.Fatalf("breakdown: %v", err)
	}
	// 5% of the 44321 installment is a 2216 fee, below the $25 floor.
	if bd.LateFee != finance.MinLateFee {
		t.Fatalf("expected floor late fee %d, got %d", finance.MinLateFee, bd.LateFee)
	}
	if bd.PrincipalPortion != 500_00-50_00-finance.MinLateFee {
		t.Fatalf("unexpected principal portion %d", bd.PrincipalPortion)
	}
}

func TestProcessPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ln := f.originate(t, 0.06, 24)

	p, err := f.payments.ProcessPayment(ctx, ln.ID, 500_00, payment.MethodBankTransfer, "tx-1", "student-1")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if p.Status != payment.StatusCompleted || p.ProcessedAt == nil {
		t.Fatalf("payment not settled: %#v", p)
	}
	if p.Type != payment.TypeExtra { // 45000 principal exceeds the 44321 installment
		t.Fatalf("expected extra payment, got %s", p.Type)
	}

	updated, _ := f.store.GetLoan(ctx, ln.ID)
	if updated.CurrentBalance != 9_550_00 || updated.PaymentsMade != 1 {
		t.Fatalf("loan not updated: %#v", updated)
	}
	if updated.LastPaymentDate == nil {
		t.Fatal("last payment date not stamped")
	}

	// Same hash again: rejected, no double credit.
	if _, err := f.payments.ProcessPayment(ctx, ln.ID, 500_00, payment.MethodBankTransfer, "tx-1", "student-1"); !finance.IsKind(err, finance.KindAlreadyExists) {
		t.Fatalf("expected already_exists, got %v", err)
	}
	after, _ := f.store.GetLoan(ctx, ln.ID)
	if after.CurrentBalance != 9_550_00 || after.PaymentsMade != 1 {
		t.Fatalf("replay must not change the loan: %#v", after)
	}

	cfg, _ := f.store.GetTreasuryConfig(ctx)
	if cfg.TotalFunds != cfg.AvailableFunds+cfg.ReservedFunds {
		t.Fatalf("treasury sum invariant broken: %#v", cfg)
	}
}

func TestPaymentCuresDelinquency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ln := f.originate(t, 0.06, 24)

	if _, err := f.loans.UpdateStatus(ctx, ln.ID, loan.StatusInGracePeriod, ""); err != nil {
		t.Fatalf("to grace: %v", err)
	}
	if _, err := f.loans.UpdateStatus(ctx, ln.ID, loan.StatusLate, ""); err != nil {
		t.Fatalf("to late: %v", err)
	}

	// Paying before the first due date brings the schedule current again.
	f.payments.now = func() time.Time { return ln.FirstPaymentDue.Add(-time.Hour) }
	if _, err := f.payments.ProcessPayment(ctx, ln.ID, 500_00, payment.MethodCard, "tx-cure", "student-1"); err != nil {
		t.Fatalf("process: %v", err)
	}

	updated, _ := f.store.GetLoan(ctx, ln.ID)
	if updated.Status != loan.StatusActive {
		t.Fatalf("payment should cure the loan, got %s", updated.Status)
	}
}

func TestPayoffQuote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ln := f.originate(t, 0.06, 24)

	q, err := f.payments.PayoffQuote(ctx, ln.ID, "student-1")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	// Unseasoned loan pays the 2% penalty on the outstanding balance.
	if q.PrepaymentPenalty != 200_00 {
		t.Fatalf("expected 2%% penalty 20000, got %d", q.PrepaymentPenalty)
	}
	if q.TotalPayoffAmount < q.CurrentBalance {
		t.Fatalf("payoff below balance: %#v", q)
	}

	// A no-penalty condition waives it.
	ln2, err := f.loans.CreateLoan(ctx, loanssvc.CreateLoanInput{
		StudentID:         "student-2",
		Amount:            10_000_00,
		InterestRate:      0.06,
		TermMonths:        24,
		Purpose:           "housing",
		SpecialConditions: []string{loan.ConditionNoPrepaymentPenalty},
	})
	if err != nil {
		t.Fatalf("originate: %v", err)
	}
	q2, err := f.payments.PayoffQuote(ctx, ln2.ID, "student-2")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q2.PrepaymentPenalty != 0 {
		t.Fatalf("condition should waive the penalty, got %d", q2.PrepaymentPenalty)
	}

	// Seasoning waives it as well.
	seasoned, _ := f.store.GetLoan(ctx, ln.ID)
	seasoned.PaymentsMade = 12
	if _, err := f.store.UpdateLoan(ctx, seasoned); err != nil {
		t.Fatalf("update loan: %v", err)
	}
	q3, err := f.payments.PayoffQuote(ctx, ln.ID, "student-1")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q3.PrepaymentPenalty != 0 {
		t.Fatalf("seasoned loan should not pay a penalty, got %d", q3.PrepaymentPenalty)
	}
}

func TestPayoffRejectedOnClosedLoan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ln := f.originate(t, 0.06, 24)

	for _, st := range []loan.Status{loan.StatusInGracePeriod, loan.StatusLate, loan.StatusDefault} {
		if _, err := f.loans.UpdateStatus(ctx, ln.ID, st, ""); err != nil {
			t.Fatalf("to %s: %v", st, err)
		}
	}

	if _, err := f.payments.PayoffQuote(ctx, ln.ID, "student-1"); !finance.IsKind(err, finance.KindExpired) {
		t.Fatalf("expected expired for defaulted loan, got %v", err)
	}
	if _, err := f.payments.MakeEarlyPayoff(ctx, ln.ID, payment.MethodBankTransfer, "tx-x", "student-1"); !finance.IsKind(err, finance.KindExpired) {
		t.Fatalf("expected expired payoff, got %v", err)
	}
}

func TestPayoffRejectedWhileDeferred(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ln := f.originate(t, 0.06, 24)

	if _, err := f.loans.UpdateStatus(ctx, ln.ID, loan.StatusDeferred, ""); err != nil {
		t.Fatalf("defer: %v", err)
	}
	if _, err := f.payments.PayoffQuote(ctx, ln.ID, "student-1"); !finance.IsKind(err, finance.KindInvalidInput) {
		t.Fatalf("expected invalid_input for deferred loan, got %v", err)
	}
}

func TestPaymentRejectedWhileDeferred(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ln := f.originate(t, 0.06, 24)

	if _, err := f.loans.UpdateStatus(ctx, ln.ID, loan.StatusDeferred, ""); err != nil {
		t.Fatalf("defer: %v", err)
	}

	if _, err := f.payments.CalculateBreakdown(ctx, ln.ID, 500_00, "student-1"); !finance.IsKind(err, finance.KindInvalidInput) {
		t.Fatalf("expected invalid_input from breakdown, got %v", err)
	}

	// Even a balance-covering payment must not close a deferred loan; its
	// only exits are reactivation and cancellation.
	_, err := f.payments.ProcessPayment(ctx, ln.ID, 10_050_00, payment.MethodBankTransfer, "tx-deferred", "student-1")
	if !finance.IsKind(err, finance.KindInvalidInput) {
		t.Fatalf("expected invalid_input from process, got %v", err)
	}

	got, err := f.store.GetLoan(ctx, ln.ID)
	if err != nil {
		t.Fatalf("GetLoan: %v", err)
	}
	if got.Status != loan.StatusDeferred {
		t.Errorf("status = %s, want %s", got.Status, loan.StatusDeferred)
	}
	if got.CurrentBalance != ln.CurrentBalance || got.PaymentsMade != 0 {
		t.Errorf("deferred loan mutated: balance=%d payments=%d", got.CurrentBalance, got.PaymentsMade)
	}
}

func TestMakeEarlyPayoff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ln := f.originate(t, 0.06, 24)

	q, err := f.payments.PayoffQuote(ctx, ln.ID, "student-1")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}

	p, err := f.payments.MakeEarlyPayoff(ctx, ln.ID, payment.MethodBankTransfer, "tx-payoff", "student-1")
	if err != nil {
		t.Fatalf("payoff: %v", err)
	}
	if p.Type != payment.TypeFullPayoff || p.Status != payment.StatusCompleted {
		t.Fatalf("unexpected payoff payment: %#v", p)
	}
	if p.Amount != q.TotalPayoffAmount {
		t.Fatalf("payoff amount %d should match quote %d", p.Amount, q.TotalPayoffAmount)
	}
	if p.PrincipalPortion != 10_000_00 {
		t.Fatalf("principal portion should clear the balance, got %d", p.PrincipalPortion)
	}

	closed, _ := f.store.GetLoan(ctx, ln.ID)
	if closed.Status != loan.StatusPaidOff || closed.CurrentBalance != 0 {
		t.Fatalf("loan not closed: %#v", closed)
	}

	// Closed loans accept no further payments.
	if _, err := f.payments.ProcessPayment(ctx, ln.ID, 100_00, payment.MethodCard, "tx-after", "student-1"); !finance.IsKind(err, finance.KindExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
}

func TestPaymentAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ln := f.originate(t, 0.06, 24)

	if _, err := f.payments.ProcessPayment(ctx, ln.ID, 500_00, payment.MethodCard, "", "student-2"); !finance.IsKind(err, finance.KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := f.payments.CalculateBreakdown(ctx, ln.ID, 500_00, "student-2"); !finance.IsKind(err, finance.KindUnauthorized) {
		t.Fatalf("expected unauthorized breakdown, got %v", err)
	}
	if _, err := f.payments.ListForLoan(ctx, ln.ID, "student-2"); !finance.IsKind(err, finance.KindUnauthorized) {
		t.Fatalf("expected unauthorized list, got %v", err)
	}
}
