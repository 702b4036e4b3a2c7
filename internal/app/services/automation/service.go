// Package automation implements the periodic servicing sweep: delinquency
// detection, default write-off, late-fee assessment, payment reminders, and
// post-sweep treasury rebalancing.
package automation

import (
	"context"
	"time"

	"github.com/studifi/finance_layer/internal/app/domain/finance"
	"github.com/studifi/finance_layer/internal/app/domain/loan"
	"github.com/studifi/finance_layer/internal/app/domain/payment"
	"github.com/studifi/finance_layer/internal/app/metrics"
	loanssvc "github.com/studifi/finance_layer/internal/app/services/loans"
	treasurysvc "github.com/studifi/finance_layer/internal/app/services/treasury"
	"github.com/studifi/finance_layer/internal/app/storage"
	"github.com/studifi/finance_layer/pkg/logger"
)

// Service runs the servicing sweep. Each loan's evaluation depends only on
// its own fields, so the sweep is order-independent and each transition is
// its own transaction.
type Service struct {
	store            storage.FinanceStore
	loans            *loanssvc.Service
	treasury         *treasurysvc.Service
	defaultAfterDays uint32
	reminderDays     uint32
	log              *logger.Logger
	now              func() time.Time
}

// New constructs the automation service. defaultAfterDays counts from the
// end of the grace window; reminderDays bounds the DueSoon horizon.
func New(store storage.FinanceStore, loans *loanssvc.Service, treasury *treasurysvc.Service, defaultAfterDays, reminderDays uint32, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("automation")
	}
	return &Service{
		store:            store,
		loans:            loans,
		treasury:         treasury,
		defaultAfterDays: defaultAfterDays,
		reminderDays:     reminderDays,
		log:              log,
		now:              time.Now,
	}
}

// Report summarizes one sweep.
type Report struct {
	LoansEvaluated   int       `json:"loans_evaluated"`
	MovedToGrace     int       `json:"moved_to_grace"`
	MovedToLate      int       `json:"moved_to_late"`
	Defaulted        int       `json:"defaulted"`
	LateFeesAssessed int       `json:"late_fees_assessed"`
	DueSoon          int       `json:"due_soon"`
	Rebalanced       bool      `json:"rebalanced"`
	RanAt            time.Time `json:"ran_at"`
}

// RunTasks evaluates every open loan against the current time and applies
// any due delinquency transitions, then rebalances the treasury when auto
// rebalance is enabled. Safe to invoke at any frequency.
func (s *Service) RunTasks(ctx context.Context) (Report, error) {
	started := time.Now()
	now := s.now().UTC()
	report := Report{RanAt: now}

	all, err := s.store.ListLoans(ctx)
	if err != nil {
		metrics.RecordSweep(time.Since(started), false)
		return report, err
	}

	for _, ln := range all {
		if ln.Status.IsTerminal() || ln.Status == loan.StatusDeferred {
			continue
		}
		report.LoansEvaluated++

		target := s.evaluate(ln, now)
		for ln.Status != target {
			next := nextStep(ln.Status, target)
			if next == ln.Status {
				break
			}
			updated, err := s.loans.UpdateStatus(ctx, ln.ID, next, "")
			if err != nil {
				s.log.WithError(err).WithField("loan_id", ln.ID).Error("sweep transition failed")
				break
			}
			switch next {
			case loan.StatusInGracePeriod:
				report.MovedToGrace++
			case loan.StatusLate:
				report.MovedToLate++
				if err := s.assessLateFee(ctx, updated, now); err != nil {
					s.log.WithError(err).WithField("loan_id", ln.ID).Error("late fee assessment failed")
				} else {
					report.LateFeesAssessed++
				}
			case loan.StatusDefault:
				report.Defaulted++
				if err := s.treasury.WriteOffDefault(ctx, updated.ID, updated.CurrentBalance); err != nil {
					s.log.WithError(err).WithField("loan_id", ln.ID).Error("default write-off failed")
				}
			}
			ln = updated
		}

		if s.dueSoon(ln, now) {
			report.DueSoon++
		}
	}

	enabled, err := s.treasury.AutoRebalanceEnabled(ctx)
	if err != nil {
		metrics.RecordSweep(time.Since(started), false)
		return report, err
	}
	if enabled {
		if _, err := s.treasury.Rebalance(ctx); err != nil {
			metrics.RecordSweep(time.Since(started), false)
			return report, err
		}
		report.Rebalanced = true
	}

	metrics.RecordSweep(time.Since(started), true)
	s.log.WithField("evaluated", report.LoansEvaluated).
		WithField("to_grace", report.MovedToGrace).
		WithField("to_late", report.MovedToLate).
		WithField("defaulted", report.Defaulted).
		Info("automation sweep completed")
	return report, nil
}

// evaluate determines the status a loan should hold at the given time.
// Delinquency deepens with days past the next installment date: within the
// grace window the loan is InGracePeriod, past it Late, and defaultAfterDays
// beyond the grace window Default.
func (s *Service) evaluate(ln loan.Loan, now time.Time) loan.Status {
	days := ln.DaysOverdue(now)
	if days == 0 {
		// The sweep never cures delinquency; only payments do.
		return ln.Status
	}
	graceDays := ln.GracePeriodMonths * 30
	switch {
	case days > graceDays+s.defaultAfterDays:
		return loan.StatusDefault
	case days > graceDays:
		return loan.StatusLate
	case ln.Status == loan.StatusActive:
		return loan.StatusInGracePeriod
	default:
		return ln.Status
	}
}

// nextStep returns the next transition on the path from current toward
// target delinquency. Deeper delinquency still passes through each
// intermediate state so the transition table holds.
func nextStep(current, target loan.Status) loan.Status {
	switch current {
	case loan.StatusActive:
		if target == loan.StatusInGracePeriod || target == loan.StatusLate || target == loan.StatusDefault {
			return loan.StatusInGracePeriod
		}
	case loan.StatusInGracePeriod:
		if target == loan.StatusLate || target == loan.StatusDefault {
			return loan.StatusLate
		}
	case loan.StatusLate:
		if target == loan.StatusDefault {
			return loan.StatusDefault
		}
	}
	return current
}

// assessLateFee records the fee owed for the missed installment. The record
// is a receivable: the fee is collected through the next payment's
// breakdown, so the loan balance is untouched. One record per Late
// transition keeps assessment idempotent per missed period.
func (s *Service) assessLateFee(ctx context.Context, ln loan.Loan, now time.Time) error {
	fee := finance.LateFee(ln.MonthlyPayment)
	_, err := s.store.CreatePayment(ctx, payment.Payment{
		LoanID:    ln.ID,
		StudentID: ln.StudentID,
		Amount:    fee,
		LateFee:   fee,
		Type:      payment.TypeLateFee,
		Method:    payment.MethodInternal,
		Status:    payment.StatusPending,
		Notes:     "late fee assessed",
		CreatedAt: now,
	})
	return err
}

// ListDueSoon returns open loans whose next installment falls within the
// reminder horizon.
func (s *Service) ListDueSoon(ctx context.Context) ([]loan.Loan, error) {
	all, err := s.store.ListLoans(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	var due []loan.Loan
	for _, ln := range all {
		if s.dueSoon(ln, now) {
			due = append(due, ln)
		}
	}
	return due, nil
}

func (s *Service) dueSoon(ln loan.Loan, now time.Time) bool {
	if ln.Status.IsTerminal() || ln.Status == loan.StatusDeferred {
		return false
	}
	until := ln.NextPaymentDue().Sub(now)
	return until > 0 && until <= time.Duration(s.reminderDays)*24*time.Hour
}
