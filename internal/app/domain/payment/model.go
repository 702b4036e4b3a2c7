// Package payment defines payment records, their status machine, and the
// derived breakdown and payoff quote shapes.
package payment

import (
	"fmt"
	"time"

	"github.com/studifi/finance_layer/internal/app/domain/finance"
)

// Status is the processing state of a payment.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusProcessing Status = "Processing"
	StatusCompleted  Status = "Completed"
	StatusFailed     Status = "Failed"
	StatusRefunded   Status = "Refunded"
	StatusCancelled  Status = "Cancelled"
)

// ValidTransitions maps each payment status to its legal successors.
// Failed, Refunded, and Cancelled are terminal; Completed may only move
// to Refunded.
var ValidTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted:  {StatusRefunded},
	StatusFailed:     {},
	StatusRefunded:   {},
	StatusCancelled:  {},
}

// CanTransition reports whether moving between the two statuses is legal.
func CanTransition(from, to Status) bool {
	for _, next := range ValidTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
// Completed is not terminal because a refund may still reverse it.
func (s Status) IsTerminal() bool {
	return len(ValidTransitions[s]) == 0
}

// TransitionError reports an illegal payment status transition.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid payment status transition from %s to %s", e.From, e.To)
}

// Type classifies what a payment is for.
type Type string

const (
	TypeRegular    Type = "Regular"
	TypeExtra      Type = "Extra"
	TypeFullPayoff Type = "FullPayoff"
	TypeLateFee    Type = "LateFee"
)

// Method records how a payment was settled.
type Method string

const (
	MethodBankTransfer Method = "BankTransfer"
	MethodCard         Method = "Card"
	MethodWallet       Method = "Wallet"
	MethodInternal     Method = "Internal"
)

// Payment is a record of money applied (or attempted) against a loan.
// Immutable once Completed or Failed, except for the Completed→Refunded exit.
type Payment struct {
	ID               string         `json:"id"`
	LoanID           string         `json:"loan_id"`
	StudentID        string         `json:"student_id"`
	Amount           finance.Amount `json:"amount"`
	PrincipalPortion finance.Amount `json:"principal_portion"`
	InterestPortion  finance.Amount `json:"interest_portion"`
	LateFee          finance.Amount `json:"late_fee"`
	Type             Type           `json:"payment_type"`
	Method           Method         `json:"payment_method"`
	Status           Status         `json:"status"`
	TransactionHash  string         `json:"transaction_hash,omitempty"`
	Notes            string         `json:"notes,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	ProcessedAt      *time.Time     `json:"processed_at,omitempty"`
}

// Breakdown is the quoted decomposition of a payment amount against a loan.
// Pure derivation, never persisted.
type Breakdown struct {
	LoanID           string         `json:"loan_id"`
	Amount           finance.Amount `json:"amount"`
	PrincipalPortion finance.Amount `json:"principal_portion"`
	InterestPortion  finance.Amount `json:"interest_portion"`
	LateFee          finance.Amount `json:"late_fee"`
	RemainingBalance finance.Amount `json:"remaining_balance"`
}

// PayoffQuote is the derived early-payoff estimate for an eligible loan.
type PayoffQuote struct {
	LoanID            string         `json:"loan_id"`
	CurrentBalance    finance.Amount `json:"current_balance"`
	InterestSavings   finance.Amount `json:"interest_savings"`
	PrepaymentPenalty finance.Amount `json:"prepayment_penalty"`
	TotalPayoffAmount finance.Amount `json:"total_payoff_amount"`
	QuotedAt          time.Time      `json:"quoted_at"`
}
