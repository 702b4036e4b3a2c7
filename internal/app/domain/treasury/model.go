// Package treasury defines the fund-pool state, its ledger journal, and the
// derived health and statistics shapes.
package treasury

import (
	"time"

	"github.com/studifi/finance_layer/internal/app/domain/finance"
)

// Config is the singleton treasury state. TotalFunds must always equal
// AvailableFunds + ReservedFunds.
type Config struct {
	TotalFunds             finance.Amount     `json:"total_funds"`
	AvailableFunds         finance.Amount     `json:"available_funds"`
	ReservedFunds          finance.Amount     `json:"reserved_funds"`
	MaximumLoanToFundRatio finance.Percentage `json:"maximum_loan_to_fund_ratio"`
	MinimumReserveRatio    finance.Percentage `json:"minimum_reserve_ratio"`
	InterestReserveRatio   finance.Percentage `json:"interest_reserve_ratio"`
	EmergencyFundRatio     finance.Percentage `json:"emergency_fund_ratio"`
	AutoRebalanceEnabled   bool               `json:"auto_rebalance_enabled"`
	LastRebalance          time.Time          `json:"last_rebalance"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

// EntryType classifies a treasury ledger entry.
type EntryType string

const (
	EntryDeposit         EntryType = "Deposit"
	EntryWithdrawal      EntryType = "Withdrawal"
	EntryLoanReservation EntryType = "LoanReservation"
	EntryLoanRepayment   EntryType = "LoanRepayment"
	EntryInterestIncome  EntryType = "InterestIncome"
	EntryDefaultWriteOff EntryType = "DefaultWriteOff"
	EntryRebalance       EntryType = "Rebalance"
	EntryOriginationFee  EntryType = "OriginationFee"
)

// LedgerEntry is one movement in the treasury journal. Append-only.
type LedgerEntry struct {
	ID        string         `json:"id"`
	Type      EntryType      `json:"type"`
	Amount    finance.Amount `json:"amount"`
	LoanID    string         `json:"loan_id,omitempty"`
	Reference string         `json:"reference,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// HealthStatus is the classified treasury condition.
type HealthStatus string

const (
	HealthExcellent HealthStatus = "Excellent"
	HealthGood      HealthStatus = "Good"
	HealthFair      HealthStatus = "Fair"
	HealthPoor      HealthStatus = "Poor"
	HealthCritical  HealthStatus = "Critical"
)

// Health is the derived treasury health snapshot.
type Health struct {
	Status          HealthStatus       `json:"status"`
	HealthScore     float64            `json:"health_score"`
	UtilizationRate finance.Percentage `json:"utilization_rate"`
	DefaultRate     finance.Percentage `json:"default_rate"`
	ReserveRatio    finance.Percentage `json:"reserve_ratio"`
	LoanToFundRatio finance.Percentage `json:"loan_to_fund_ratio"`
	Recommendations []string           `json:"recommendations"`
	ComputedAt      time.Time          `json:"computed_at"`
}

// Stats is the derived treasury statistics snapshot.
type Stats struct {
	TotalFunds           finance.Amount `json:"total_funds"`
	AvailableFunds       finance.Amount `json:"available_funds"`
	ReservedFunds        finance.Amount `json:"reserved_funds"`
	OutstandingPrincipal finance.Amount `json:"outstanding_principal"`
	TotalDisbursed       finance.Amount `json:"total_disbursed"`
	DefaultedPrincipal   finance.Amount `json:"defaulted_principal"`
	InterestCollected    finance.Amount `json:"interest_collected"`
	ActiveLoanCount      int            `json:"active_loan_count"`
	ComputedAt           time.Time      `json:"computed_at"`
}
