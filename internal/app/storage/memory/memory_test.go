package memory

import (
	"context"
	"testing"
	"time"

	"github.com/studifi/finance_layer/internal/app/domain/finance"
	"github.com/studifi/finance_layer/internal/app/domain/loan"
	"github.com/studifi/finance_layer/internal/app/domain/payment"
	"github.com/studifi/finance_layer/internal/app/domain/treasury"
)

func seedLoan(t *testing.T, s *Store, studentID string, balance finance.Amount) loan.Loan {
	t.Helper()
	now := time.Now().UTC()
	ln, err := s.CreateLoan(context.Background(), loan.Loan{
		StudentID:       studentID,
		OriginalAmount:  balance,
		CurrentBalance:  balance,
		MonthlyPayment:  443_21,
		InterestRate:    0.06,
		TermMonths:      24,
		Status:          loan.StatusActive,
		CreatedAt:       now,
		FirstPaymentDue: now.Add(loan.PaymentPeriod),
		UpdatedAt:       now,
	})
	if err != nil {
		t.Fatalf("create loan: %v", err)
	}
	return ln
}

func TestLoanCRUD(t *testing.T) {
	s := New()
	ctx := context.Background()

	ln := seedLoan(t, s, "student-1", 10_000_00)
	if ln.ID == "" {
		t.Fatal("expected generated id")
	}

	got, err := s.GetLoan(ctx, ln.ID)
	if err != nil {
		t.Fatalf("get loan: %v", err)
	}
	if got.StudentID != "student-1" || got.CurrentBalance != 10_000_00 {
		t.Fatalf("unexpected loan: %#v", got)
	}

	got.CurrentBalance = 9_000_00
	if _, err := s.UpdateLoan(ctx, got); err != nil {
		t.Fatalf("update loan: %v", err)
	}
	got, _ = s.GetLoan(ctx, ln.ID)
	if got.CurrentBalance != 9_000_00 {
		t.Fatalf("update not applied: %d", got.CurrentBalance)
	}

	if _, err := s.GetLoan(ctx, "LOAN-99999999"); !finance.IsKind(err, finance.KindNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}

	seedLoan(t, s, "student-2", 5_000_00)
	mine, err := s.ListLoansByStudent(ctx, "student-1")
	if err != nil || len(mine) != 1 {
		t.Fatalf("expected 1 loan for student-1, got %d (%v)", len(mine), err)
	}
	active, err := s.ListLoansByStatus(ctx, loan.StatusActive)
	if err != nil || len(active) != 2 {
		t.Fatalf("expected 2 active loans, got %d (%v)", len(active), err)
	}
}

func TestStoreReturnsCopies(t *testing.T) {
	s := New()
	ctx := context.Background()

	ln := seedLoan(t, s, "student-1", 10_000_00)
	ln.CurrentBalance = 0

	fresh, err := s.GetLoan(ctx, ln.ID)
	if err != nil {
		t.Fatalf("get loan: %v", err)
	}
	if fresh.CurrentBalance != 10_000_00 {
		t.Fatal("mutating a returned loan must not affect the store")
	}
}

func TestTreasuryInvariantEnforced(t *testing.T) {
	s := New()
	ctx := context.Background()

	cfg, err := s.GetTreasuryConfig(ctx)
	if err != nil {
		t.Fatalf("get treasury: %v", err)
	}

	// A config whose parts do not sum is rejected outright.
	bad := cfg
	bad.TotalFunds = 100_00
	bad.AvailableFunds = 90_00
	bad.ReservedFunds = 20_00
	if _, err := s.UpdateTreasury(ctx, bad, nil); !finance.IsKind(err, finance.KindInternal) {
		t.Fatalf("expected internal error for sum violation, got %v", err)
	}

	bad = cfg
	bad.TotalFunds = -1
	bad.AvailableFunds = -1
	if _, err := s.UpdateTreasury(ctx, bad, nil); !finance.IsKind(err, finance.KindInternal) {
		t.Fatalf("expected internal error for negative funds, got %v", err)
	}

	good := cfg
	good.TotalFunds = 100_00
	good.AvailableFunds = 80_00
	good.ReservedFunds = 20_00
	if _, err := s.UpdateTreasury(ctx, good, []treasury.LedgerEntry{{Type: treasury.EntryDeposit, Amount: 100_00}}); err != nil {
		t.Fatalf("valid update rejected: %v", err)
	}

	entries, err := s.ListLedgerEntries(ctx, 10)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d (%v)", len(entries), err)
	}
	if entries[0].ID == "" {
		t.Fatal("ledger entries receive generated ids")
	}
}

func TestApplyPaymentIdempotency(t *testing.T) {
	s := New()
	ctx := context.Background()

	ln := seedLoan(t, s, "student-1", 10_000_00)
	cfg, _ := s.GetTreasuryConfig(ctx)

	// First settlement with the hash commits.
	p, err := s.CreatePayment(ctx, payment.Payment{
		LoanID:          ln.ID,
		StudentID:       ln.StudentID,
		Amount:          500_00,
		Status:          payment.StatusProcessing,
		TransactionHash: "tx-dup",
		CreatedAt:       time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}
	p.Status = payment.StatusCompleted
	ln.CurrentBalance -= 450_00
	cfg.TotalFunds += 500_00
	cfg.AvailableFunds += 500_00

	if _, _, err := s.ApplyPayment(ctx, ln, p, cfg, nil); err != nil {
		t.Fatalf("apply payment: %v", err)
	}

	// A different payment replaying the hash is rejected and nothing moves.
	before, _ := s.GetLoan(ctx, ln.ID)
	p2, err := s.CreatePayment(ctx, payment.Payment{
		LoanID:          ln.ID,
		StudentID:       ln.StudentID,
		Amount:          500_00,
		Status:          payment.StatusProcessing,
		TransactionHash: "tx-dup",
		CreatedAt:       time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create second payment: %v", err)
	}
	p2.Status = payment.StatusCompleted
	ln2 := before
	ln2.CurrentBalance -= 450_00
	if _, _, err := s.ApplyPayment(ctx, ln2, p2, cfg, nil); !finance.IsKind(err, finance.KindAlreadyExists) {
		t.Fatalf("expected already_exists, got %v", err)
	}
	after, _ := s.GetLoan(ctx, ln.ID)
	if after.CurrentBalance != before.CurrentBalance {
		t.Fatal("rejected replay must not mutate the loan")
	}

	// Lookup by hash only surfaces completed payments.
	found, err := s.GetPaymentByTransactionHash(ctx, "tx-dup")
	if err != nil {
		t.Fatalf("get by hash: %v", err)
	}
	if found.ID != p.ID {
		t.Fatalf("expected completed payment %s, got %s", p.ID, found.ID)
	}
}

func TestUpdatePaymentEnforcesStatusMachine(t *testing.T) {
	s := New()
	ctx := context.Background()

	ln := seedLoan(t, s, "student-1", 10_000_00)
	p, err := s.CreatePayment(ctx, payment.Payment{
		LoanID:    ln.ID,
		StudentID: ln.StudentID,
		Amount:    500_00,
		Status:    payment.StatusPending,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}

	// Pending cannot jump straight to Completed.
	p.Status = payment.StatusCompleted
	if _, err := s.UpdatePayment(ctx, p); !finance.IsKind(err, finance.KindInvalidInput) {
		t.Fatalf("expected invalid_input, got %v", err)
	}
	got, _ := s.GetPayment(ctx, p.ID)
	if got.Status != payment.StatusPending {
		t.Fatalf("rejected update mutated status to %s", got.Status)
	}

	p.Status = payment.StatusProcessing
	if p, err = s.UpdatePayment(ctx, p); err != nil {
		t.Fatalf("pending -> processing: %v", err)
	}
	p.Status = payment.StatusCompleted
	if p, err = s.UpdatePayment(ctx, p); err != nil {
		t.Fatalf("processing -> completed: %v", err)
	}

	// Completed may only be refunded.
	p.Status = payment.StatusFailed
	if _, err := s.UpdatePayment(ctx, p); !finance.IsKind(err, finance.KindInvalidInput) {
		t.Fatalf("expected invalid_input, got %v", err)
	}
	p.Status = payment.StatusRefunded
	if _, err := s.UpdatePayment(ctx, p); err != nil {
		t.Fatalf("completed -> refunded: %v", err)
	}
}

func TestApplyPaymentEnforcesStatusMachine(t *testing.T) {
	s := New()
	ctx := context.Background()

	ln := seedLoan(t, s, "student-1", 10_000_00)
	cfg, _ := s.GetTreasuryConfig(ctx)

	p, err := s.CreatePayment(ctx, payment.Payment{
		LoanID:    ln.ID,
		StudentID: ln.StudentID,
		Amount:    500_00,
		Status:    payment.StatusPending,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}

	before, _ := s.GetLoan(ctx, ln.ID)
	p.Status = payment.StatusCompleted
	ln.CurrentBalance -= 450_00
	if _, _, err := s.ApplyPayment(ctx, ln, p, cfg, nil); !finance.IsKind(err, finance.KindInvalidInput) {
		t.Fatalf("expected invalid_input, got %v", err)
	}
	after, _ := s.GetLoan(ctx, ln.ID)
	if after.CurrentBalance != before.CurrentBalance {
		t.Fatal("rejected transition must not mutate the loan")
	}
}

func TestApplyPaymentRejectsInvalidTreasury(t *testing.T) {
	s := New()
	ctx := context.Background()

	ln := seedLoan(t, s, "student-1", 10_000_00)
	cfg, _ := s.GetTreasuryConfig(ctx)
	cfg.TotalFunds = 10_00
	cfg.AvailableFunds = 5_00
	cfg.ReservedFunds = 10_00 // sum broken

	p, _ := s.CreatePayment(ctx, payment.Payment{LoanID: ln.ID, StudentID: ln.StudentID, Amount: 100_00, Status: payment.StatusProcessing, CreatedAt: time.Now().UTC()})
	p.Status = payment.StatusCompleted

	before, _ := s.GetLoan(ctx, ln.ID)
	mutated := before
	mutated.CurrentBalance = 1
	if _, _, err := s.ApplyPayment(ctx, mutated, p, cfg, nil); !finance.IsKind(err, finance.KindInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
	after, _ := s.GetLoan(ctx, ln.ID)
	if after.CurrentBalance != before.CurrentBalance {
		t.Fatal("failed commit must leave the loan untouched")
	}
}

func TestCreateLoanWithReservation(t *testing.T) {
	s := New()
	ctx := context.Background()

	cfg, _ := s.GetTreasuryConfig(ctx)
	cfg.TotalFunds = 90_000_00
	cfg.AvailableFunds = 90_000_00
	if _, err := s.UpdateTreasury(ctx, cfg, nil); err != nil {
		t.Fatalf("seed treasury: %v", err)
	}

	cfg.TotalFunds -= 10_000_00
	cfg.AvailableFunds -= 10_000_00
	now := time.Now().UTC()
	ln, err := s.CreateLoanWithReservation(ctx, loan.Loan{
		StudentID:       "student-1",
		OriginalAmount:  10_000_00,
		CurrentBalance:  10_000_00,
		Status:          loan.StatusActive,
		TermMonths:      24,
		CreatedAt:       now,
		FirstPaymentDue: now.Add(loan.PaymentPeriod),
		UpdatedAt:       now,
	}, cfg, []treasury.LedgerEntry{{Type: treasury.EntryLoanReservation, Amount: -10_000_00}})
	if err != nil {
		t.Fatalf("create with reservation: %v", err)
	}

	entries, _ := s.ListLedgerEntries(ctx, 10)
	if len(entries) != 1 || entries[0].LoanID != ln.ID {
		t.Fatalf("reservation entry should carry the new loan id: %#v", entries)
	}
	got, _ := s.GetTreasuryConfig(ctx)
	if got.TotalFunds != 80_000_00 || got.AvailableFunds != 80_000_00 {
		t.Fatalf("treasury not committed with loan: %#v", got)
	}
}
