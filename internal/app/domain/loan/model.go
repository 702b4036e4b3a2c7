// Package loan defines the loan record and its lifecycle state machine.
package loan

import (
	"time"

	"github.com/studifi/finance_layer/internal/app/domain/finance"
)

// PaymentPeriod is the scheduling interval between installments. Months are
// modeled as fixed 30-day periods throughout the engine.
const PaymentPeriod = 30 * 24 * time.Hour

// Loan is a student loan record. Balance and progress counters are mutated
// only through the payment processor; status only through the ledger's
// transition validation.
type Loan struct {
	ID                 string             `json:"id"`
	StudentID          string             `json:"student_id"`
	CosignerID         string             `json:"cosigner_id,omitempty"`
	OriginalAmount     finance.Amount     `json:"original_amount"`
	CurrentBalance     finance.Amount     `json:"current_balance"`
	MonthlyPayment     finance.Amount     `json:"monthly_payment"`
	InterestRate       finance.Percentage `json:"interest_rate"`
	TermMonths         uint32             `json:"term_months"`
	GracePeriodMonths  uint32             `json:"grace_period_months"`
	OriginationFee     finance.Amount     `json:"origination_fee"`
	PaymentsMade       uint32             `json:"payments_made"`
	LatePayments       uint32             `json:"late_payments"`
	LastPaymentDate    *time.Time         `json:"last_payment_date,omitempty"`
	Status             Status             `json:"status"`
	CollateralRequired bool               `json:"collateral_required"`
	SpecialConditions  []string           `json:"special_conditions,omitempty"`
	Purpose            string             `json:"purpose"`
	CreatedAt          time.Time          `json:"created_at"`
	FirstPaymentDue    time.Time          `json:"first_payment_due"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// ConditionNoPrepaymentPenalty waives the early-payoff penalty when present
// in SpecialConditions.
const ConditionNoPrepaymentPenalty = "no_prepayment_penalty"

// HasCondition reports whether the loan carries the named special condition.
func (l Loan) HasCondition(name string) bool {
	for _, c := range l.SpecialConditions {
		if c == name {
			return true
		}
	}
	return false
}

// NextPaymentDue returns the due date of the next scheduled installment.
func (l Loan) NextPaymentDue() time.Time {
	return l.FirstPaymentDue.Add(time.Duration(l.PaymentsMade) * PaymentPeriod)
}

// IsOverdue reports whether the next installment's due date has passed.
func (l Loan) IsOverdue(now time.Time) bool {
	return now.After(l.NextPaymentDue())
}

// DaysOverdue returns whole days elapsed past the next due date, zero when
// the loan is current.
func (l Loan) DaysOverdue(now time.Time) uint32 {
	due := l.NextPaymentDue()
	if !now.After(due) {
		return 0
	}
	return uint32(now.Sub(due) / (24 * time.Hour))
}

// RemainingTermMonths returns scheduled installments not yet made.
func (l Loan) RemainingTermMonths() uint32 {
	if l.PaymentsMade >= l.TermMonths {
		return 0
	}
	return l.TermMonths - l.PaymentsMade
}

// ProjectedTotalInterest estimates total interest over the full schedule.
func (l Loan) ProjectedTotalInterest() finance.Amount {
	total := finance.Amount(l.MonthlyPayment) * finance.Amount(l.TermMonths)
	if total <= l.OriginalAmount {
		return 0
	}
	return total - l.OriginalAmount
}
