package storage

import (
	"context"

	"github.com/studifi/finance_layer/internal/app/domain/loan"
	"github.com/studifi/finance_layer/internal/app/domain/payment"
	"github.com/studifi/finance_layer/internal/app/domain/treasury"
)

// LoanStore persists loan records.
type LoanStore interface {
	CreateLoan(ctx context.Context, ln loan.Loan) (loan.Loan, error)
	UpdateLoan(ctx context.Context, ln loan.Loan) (loan.Loan, error)
	GetLoan(ctx context.Context, id string) (loan.Loan, error)
	ListLoans(ctx context.Context) ([]loan.Loan, error)
	ListLoansByStudent(ctx context.Context, studentID string) ([]loan.Loan, error)
	ListLoansByStatus(ctx context.Context, status loan.Status) ([]loan.Loan, error)
}

// PaymentStore persists payment records.
type PaymentStore interface {
	CreatePayment(ctx context.Context, p payment.Payment) (payment.Payment, error)
	UpdatePayment(ctx context.Context, p payment.Payment) (payment.Payment, error)
	GetPayment(ctx context.Context, id string) (payment.Payment, error)
	GetPaymentByTransactionHash(ctx context.Context, hash string) (payment.Payment, error)
	ListPayments(ctx context.Context, loanID string) ([]payment.Payment, error)
	ListPaymentsByStudent(ctx context.Context, studentID string) ([]payment.Payment, error)
}

// TreasuryStore persists the treasury configuration and its ledger journal.
type TreasuryStore interface {
	GetTreasuryConfig(ctx context.Context) (treasury.Config, error)
	ListLedgerEntries(ctx context.Context, limit int) ([]treasury.LedgerEntry, error)

	// UpdateTreasury commits a new treasury configuration together with the
	// journal entries describing the movement, as one transaction.
	UpdateTreasury(ctx context.Context, cfg treasury.Config, entries []treasury.LedgerEntry) (treasury.Config, error)
}

// FinanceStore adds the cross-resource transactions the engine requires on
// top of the per-record stores. Implementations must apply each method
// all-or-nothing: on error no partial mutation is visible.
type FinanceStore interface {
	LoanStore
	PaymentStore
	TreasuryStore

	// CreateLoanWithReservation commits a new loan together with the treasury
	// state that reserves its principal and the reservation journal entries.
	CreateLoanWithReservation(ctx context.Context, ln loan.Loan, cfg treasury.Config, entries []treasury.LedgerEntry) (loan.Loan, error)

	// ApplyPayment commits a loan update, its completed payment record, the
	// resulting treasury state, and journal entries as one transaction. When
	// the payment carries a transaction hash already seen on a completed
	// payment, the call fails with AlreadyExists and commits nothing.
	ApplyPayment(ctx context.Context, ln loan.Loan, p payment.Payment, cfg treasury.Config, entries []treasury.LedgerEntry) (loan.Loan, payment.Payment, error)
}
