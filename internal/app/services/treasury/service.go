// Package treasury implements the fund-pool manager: deposits, withdrawals,
// loan reservations, rebalancing, and health scoring.
package treasury

import (
	"context"
	"fmt"
	"time"

	"github.com/studifi/finance_layer/internal/app/domain/finance"
	"github.com/studifi/finance_layer/internal/app/domain/loan"
	"github.com/studifi/finance_layer/internal/app/domain/payment"
	"github.com/studifi/finance_layer/internal/app/domain/treasury"
	"github.com/studifi/finance_layer/internal/app/storage"
	"github.com/studifi/finance_layer/pkg/logger"
)

// Service manages the treasury fund pool. Reservation eligibility depends on
// outstanding loan principal, so the service reads loans as well.
type Service struct {
	store storage.FinanceStore
	log   *logger.Logger
	now   func() time.Time
}

// New constructs a treasury service.
func New(store storage.FinanceStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("treasury")
	}
	return &Service{
		store: store,
		log:   log,
		now:   time.Now,
	}
}

// Config returns the current treasury configuration.
func (s *Service) Config(ctx context.Context) (treasury.Config, error) {
	return s.store.GetTreasuryConfig(ctx)
}

// LedgerEntries returns the newest journal entries, up to limit.
func (s *Service) LedgerEntries(ctx context.Context, limit int) ([]treasury.LedgerEntry, error) {
	return s.store.ListLedgerEntries(ctx, limit)
}

// AddFunds credits the pool from an external source.
func (s *Service) AddFunds(ctx context.Context, amount finance.Amount, source string) (treasury.Config, error) {
	if amount <= 0 {
		return treasury.Config{}, finance.NewError(finance.KindInvalidInput, "deposit amount must be positive")
	}

	cfg, err := s.store.GetTreasuryConfig(ctx)
	if err != nil {
		return treasury.Config{}, err
	}
	cfg.TotalFunds += amount
	cfg.AvailableFunds += amount

	cfg, err = s.store.UpdateTreasury(ctx, cfg, []treasury.LedgerEntry{{
		Type:      treasury.EntryDeposit,
		Amount:    amount,
		Reference: source,
	}})
	if err != nil {
		return treasury.Config{}, err
	}

	s.log.WithField("amount", finance.FormatAmount(amount)).
		WithField("source", source).
		Info("treasury funds added")
	return cfg, nil
}

// WithdrawFunds debits available funds for an external purpose.
func (s *Service) WithdrawFunds(ctx context.Context, amount finance.Amount, reason string) (treasury.Config, error) {
	if amount <= 0 {
		return treasury.Config{}, finance.NewError(finance.KindInvalidInput, "withdrawal amount must be positive")
	}

	cfg, err := s.store.GetTreasuryConfig(ctx)
	if err != nil {
		return treasury.Config{}, err
	}
	if amount > cfg.AvailableFunds {
		return treasury.Config{}, finance.NewError(finance.KindInsufficientFunds,
			"withdrawal of %s exceeds available funds %s",
			finance.FormatAmount(amount), finance.FormatAmount(cfg.AvailableFunds))
	}
	cfg.TotalFunds -= amount
	cfg.AvailableFunds -= amount

	cfg, err = s.store.UpdateTreasury(ctx, cfg, []treasury.LedgerEntry{{
		Type:      treasury.EntryWithdrawal,
		Amount:    -amount,
		Reference: reason,
	}})
	if err != nil {
		return treasury.Config{}, err
	}

	s.log.WithField("amount", finance.FormatAmount(amount)).
		WithField("reason", reason).
		Info("treasury funds withdrawn")
	return cfg, nil
}

// PlanReservation checks lending eligibility for a new loan of the given
// principal and returns the treasury state and journal entries that commit
// the reservation. The caller persists them atomically with the loan record.
func (s *Service) PlanReservation(ctx context.Context, amount finance.Amount) (treasury.Config, []treasury.LedgerEntry, error) {
	cfg, err := s.store.GetTreasuryConfig(ctx)
	if err != nil {
		return treasury.Config{}, nil, err
	}
	if cfg.TotalFunds <= 0 {
		return treasury.Config{}, nil, finance.NewError(finance.KindInsufficientFunds, "treasury is not funded")
	}

	outstanding, err := s.outstandingPrincipal(ctx)
	if err != nil {
		return treasury.Config{}, nil, err
	}

	if float64(outstanding+amount)/float64(cfg.TotalFunds) > cfg.MaximumLoanToFundRatio {
		return treasury.Config{}, nil, finance.NewError(finance.KindInsufficientFunds,
			"reservation of %s would exceed the loan-to-fund ratio %.2f",
			finance.FormatAmount(amount), cfg.MaximumLoanToFundRatio)
	}
	reserveFloor := finance.RoundCents(cfg.MinimumReserveRatio * float64(cfg.TotalFunds))
	if cfg.AvailableFunds-amount < reserveFloor {
		return treasury.Config{}, nil, finance.NewError(finance.KindInsufficientFunds,
			"reservation of %s would breach the reserve floor %s",
			finance.FormatAmount(amount), finance.FormatAmount(reserveFloor))
	}

	// Disbursed principal leaves the pool; outstanding balances are tracked
	// on the loans themselves.
	cfg.TotalFunds -= amount
	cfg.AvailableFunds -= amount

	entries := []treasury.LedgerEntry{{
		Type:   treasury.EntryLoanReservation,
		Amount: -amount,
	}}
	return cfg, entries, nil
}

// PlanPaymentCredit returns the treasury state and journal entries for a
// payment's settlement: repaid principal returns to the pool and collected
// interest and fees are income. The caller persists them atomically with the
// loan and payment records.
func (s *Service) PlanPaymentCredit(ctx context.Context, loanID, paymentID string, principal, interest, fees finance.Amount) (treasury.Config, []treasury.LedgerEntry, error) {
	cfg, err := s.store.GetTreasuryConfig(ctx)
	if err != nil {
		return treasury.Config{}, nil, err
	}

	var entries []treasury.LedgerEntry
	if principal > 0 {
		cfg.TotalFunds += principal
		cfg.AvailableFunds += principal
		entries = append(entries, treasury.LedgerEntry{
			Type:      treasury.EntryLoanRepayment,
			Amount:    principal,
			LoanID:    loanID,
			Reference: paymentID,
		})
	}
	if income := interest + fees; income > 0 {
		cfg.TotalFunds += income
		cfg.AvailableFunds += income
		entries = append(entries, treasury.LedgerEntry{
			Type:      treasury.EntryInterestIncome,
			Amount:    income,
			LoanID:    loanID,
			Reference: paymentID,
		})
	}
	return cfg, entries, nil
}

// RecordOriginationFee credits the fee collected at loan origination.
func (s *Service) RecordOriginationFee(cfg treasury.Config, loanID string, fee finance.Amount) (treasury.Config, treasury.LedgerEntry) {
	cfg.TotalFunds += fee
	cfg.AvailableFunds += fee
	return cfg, treasury.LedgerEntry{
		Type:   treasury.EntryOriginationFee,
		Amount: fee,
		LoanID: loanID,
	}
}

// WriteOffDefault journals the unrecoverable principal of a defaulted loan.
// The cash already left the pool at disbursement, so fund levels are
// unchanged; the entry keeps the default visible in the journal.
func (s *Service) WriteOffDefault(ctx context.Context, loanID string, unrecovered finance.Amount) error {
	cfg, err := s.store.GetTreasuryConfig(ctx)
	if err != nil {
		return err
	}
	_, err = s.store.UpdateTreasury(ctx, cfg, []treasury.LedgerEntry{{
		Type:   treasury.EntryDefaultWriteOff,
		Amount: -unrecovered,
		LoanID: loanID,
	}})
	if err != nil {
		return err
	}
	s.log.WithField("loan_id", loanID).
		WithField("amount", finance.FormatAmount(unrecovered)).
		Warn("defaulted principal written off")
	return nil
}

// Rebalance moves funds between available and reserved so that the reserved
// buffer matches the configured target ratio. Invoking it again with no
// intervening change moves nothing.
func (s *Service) Rebalance(ctx context.Context) (treasury.Config, error) {
	cfg, err := s.store.GetTreasuryConfig(ctx)
	if err != nil {
		return treasury.Config{}, err
	}

	targetRatio := cfg.MinimumReserveRatio
	if cfg.EmergencyFundRatio > targetRatio {
		targetRatio = cfg.EmergencyFundRatio
	}
	desired := finance.RoundCents(targetRatio * float64(cfg.TotalFunds))

	delta := desired - cfg.ReservedFunds
	if delta > cfg.AvailableFunds {
		// Cannot fully fund the buffer; move what is available.
		delta = cfg.AvailableFunds
	}

	cfg.LastRebalance = s.now().UTC()
	if delta == 0 {
		return s.store.UpdateTreasury(ctx, cfg, nil)
	}

	cfg.ReservedFunds += delta
	cfg.AvailableFunds -= delta

	cfg, err = s.store.UpdateTreasury(ctx, cfg, []treasury.LedgerEntry{{
		Type:      treasury.EntryRebalance,
		Amount:    delta,
		Reference: fmt.Sprintf("target ratio %.2f", targetRatio),
	}})
	if err != nil {
		return treasury.Config{}, err
	}

	s.log.WithField("moved", finance.FormatAmount(delta)).
		WithField("reserved", finance.FormatAmount(cfg.ReservedFunds)).
		Info("treasury rebalanced")
	return cfg, nil
}

// AutoRebalanceEnabled reports whether the scheduler should rebalance after
// its sweep.
func (s *Service) AutoRebalanceEnabled(ctx context.Context) (bool, error) {
	cfg, err := s.store.GetTreasuryConfig(ctx)
	if err != nil {
		return false, err
	}
	return cfg.AutoRebalanceEnabled, nil
}

// Health computes the derived treasury health snapshot.
func (s *Service) Health(ctx context.Context) (treasury.Health, error) {
	cfg, err := s.store.GetTreasuryConfig(ctx)
	if err != nil {
		return treasury.Health{}, err
	}
	loans, err := s.store.ListLoans(ctx)
	if err != nil {
		return treasury.Health{}, err
	}

	var outstanding, disbursed, defaulted finance.Amount
	for _, ln := range loans {
		disbursed += ln.OriginalAmount
		switch ln.Status {
		case loan.StatusDefault:
			defaulted += ln.CurrentBalance
		case loan.StatusPaidOff, loan.StatusCancelled:
		default:
			outstanding += ln.CurrentBalance
		}
	}

	h := treasury.Health{ComputedAt: s.now().UTC()}
	if cfg.TotalFunds > 0 {
		h.UtilizationRate = float64(outstanding) / float64(cfg.TotalFunds)
		h.ReserveRatio = float64(cfg.ReservedFunds) / float64(cfg.TotalFunds)
		h.LoanToFundRatio = float64(outstanding) / float64(cfg.TotalFunds)
	}
	if disbursed > 0 {
		h.DefaultRate = float64(defaulted) / float64(disbursed)
	}

	score := 1.0
	if h.ReserveRatio < cfg.MinimumReserveRatio {
		score -= (cfg.MinimumReserveRatio - h.ReserveRatio) * 2
	}
	if h.LoanToFundRatio > cfg.MaximumLoanToFundRatio {
		score -= (h.LoanToFundRatio - cfg.MaximumLoanToFundRatio) * 3
	}
	score -= h.DefaultRate * 5
	switch {
	case h.UtilizationRate > 0.9:
		score -= 0.2
	case h.UtilizationRate > 0.8:
		score -= 0.1
	}
	if score < 0 {
		score = 0
	}
	h.HealthScore = score

	switch {
	case score >= 0.8:
		h.Status = treasury.HealthExcellent
	case score >= 0.6:
		h.Status = treasury.HealthGood
	case score >= 0.4:
		h.Status = treasury.HealthFair
	case score >= 0.2:
		h.Status = treasury.HealthPoor
	default:
		h.Status = treasury.HealthCritical
	}

	if h.ReserveRatio < cfg.MinimumReserveRatio {
		h.Recommendations = append(h.Recommendations, "Increase reserve ratio: reserved funds are below the configured minimum")
	}
	if h.LoanToFundRatio > cfg.MaximumLoanToFundRatio {
		h.Recommendations = append(h.Recommendations, "Pause new originations: loan-to-fund ratio exceeds the configured maximum")
	}
	if h.DefaultRate > 0.05 {
		h.Recommendations = append(h.Recommendations, "Review underwriting criteria: default rate exceeds 5%")
	}
	if h.UtilizationRate > 0.9 {
		h.Recommendations = append(h.Recommendations, "Raise additional funds: utilization is above 90%")
	}
	return h, nil
}

// Stats computes the derived treasury statistics snapshot.
func (s *Service) Stats(ctx context.Context) (treasury.Stats, error) {
	cfg, err := s.store.GetTreasuryConfig(ctx)
	if err != nil {
		return treasury.Stats{}, err
	}
	loans, err := s.store.ListLoans(ctx)
	if err != nil {
		return treasury.Stats{}, err
	}

	st := treasury.Stats{
		TotalFunds:     cfg.TotalFunds,
		AvailableFunds: cfg.AvailableFunds,
		ReservedFunds:  cfg.ReservedFunds,
		ComputedAt:     s.now().UTC(),
	}
	for _, ln := range loans {
		st.TotalDisbursed += ln.OriginalAmount
		switch ln.Status {
		case loan.StatusDefault:
			st.DefaultedPrincipal += ln.CurrentBalance
		case loan.StatusPaidOff, loan.StatusCancelled:
		default:
			st.OutstandingPrincipal += ln.CurrentBalance
			st.ActiveLoanCount++
		}
	}

	for _, ln := range loans {
		payments, err := s.store.ListPayments(ctx, ln.ID)
		if err != nil {
			return treasury.Stats{}, err
		}
		for _, p := range payments {
			if p.Status == payment.StatusCompleted {
				st.InterestCollected += p.InterestPortion + p.LateFee
			}
		}
	}
	return st, nil
}

func (s *Service) outstandingPrincipal(ctx context.Context) (finance.Amount, error) {
	loans, err := s.store.ListLoans(ctx)
	if err != nil {
		return 0, err
	}
	var outstanding finance.Amount
	for _, ln := range loans {
		switch ln.Status {
		case loan.StatusPaidOff, loan.StatusCancelled, loan.StatusDefault:
		default:
			outstanding += ln.CurrentBalance
		}
	}
	return outstanding, nil
}
