// Package finance holds the money primitives and calculation helpers shared
// by the loan, payment, and treasury domains.
package finance

import (
	"fmt"
	"math"
)

// Amount is a quantity of money in cents. All arithmetic in the engine is
// integer arithmetic on cents; floats appear only transiently inside rate
// calculations and are rounded before they touch an Amount.
type Amount = int64

// Percentage is a rate expressed as a fraction, e.g. 0.06 for 6% APR.
type Percentage = float64

// Lending bounds enforced at origination.
const (
	MinLoanAmount Amount = 100_00    // $100
	MaxLoanAmount Amount = 50_000_00 // $50,000

	MinTermMonths = 6
	MaxTermMonths = 120

	MaxInterestRate Percentage = 0.25

	MaxGracePeriodMonths = 12
)

// Fee and penalty parameters.
const (
	OriginationFeeRate   Percentage = 0.01
	LateFeeRate          Percentage = 0.05
	MinLateFee           Amount     = 25_00
	PrepaymentPenaltyPct Percentage = 0.02
)

// RoundCents converts a float dollar-cents value into an Amount using
// half-up rounding.
func RoundCents(v float64) Amount {
	return Amount(math.Round(v))
}

// MonthlyInterest computes one month of interest on a balance at the given
// annual rate.
func MonthlyInterest(balance Amount, annualRate Percentage) Amount {
	return RoundCents(float64(balance) * annualRate / 12)
}

// MonthlyPayment computes the fixed monthly payment for a fully amortizing
// loan. A zero rate degenerates to straight principal division.
func MonthlyPayment(principal Amount, annualRate Percentage, termMonths uint32) Amount {
	if termMonths == 0 {
		return 0
	}
	if annualRate == 0 {
		return RoundCents(float64(principal) / float64(termMonths))
	}
	r := annualRate / 12
	n := float64(termMonths)
	factor := math.Pow(1+r, n)
	return RoundCents(float64(principal) * r * factor / (factor - 1))
}

// LateFee computes the late fee for a missed payment: a percentage of the
// monthly payment with a fixed floor.
func LateFee(monthlyPayment Amount) Amount {
	fee := RoundCents(float64(monthlyPayment) * LateFeeRate)
	if fee < MinLateFee {
		return MinLateFee
	}
	return fee
}

// OriginationFee computes the fee charged against treasury at origination.
func OriginationFee(principal Amount) Amount {
	return RoundCents(float64(principal) * OriginationFeeRate)
}

// FormatAmount renders an Amount as a dollar string for logs and errors.
func FormatAmount(a Amount) string {
	sign := ""
	if a < 0 {
		sign = "-"
		a = -a
	}
	return fmt.Sprintf("%s$%d.%02d", sign, a/100, a%100)
}
