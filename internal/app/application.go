package app

import (
	"context"
	"fmt"

	automationsvc "github.com/studifi/finance_layer/internal/app/services/automation"
	loanssvc "github.com/studifi/finance_layer/internal/app/services/loans"
	paymentssvc "github.com/studifi/finance_layer/internal/app/services/payments"
	statssvc "github.com/studifi/finance_layer/internal/app/services/stats"
	treasurysvc "github.com/studifi/finance_layer/internal/app/services/treasury"
	"github.com/studifi/finance_layer/internal/app/storage"
	"github.com/studifi/finance_layer/internal/app/storage/memory"
	"github.com/studifi/finance_layer/internal/app/system"
	"github.com/studifi/finance_layer/pkg/logger"
)

// Options carry the tunable parameters the services need. Zero values fall
// back to the defaults used in production.
type Options struct {
	// Store backs every service. Nil defaults to the in-memory
	// implementation, which is what the tests use.
	Store storage.FinanceStore

	// Admins are principals allowed to act on any loan.
	Admins []string

	// DefaultAfterDays is how long past the grace window a loan may stay
	// late before the sweep declares it defaulted.
	DefaultAfterDays uint32

	// ReminderDays is the look-ahead window for due-soon listings.
	ReminderDays uint32

	// MinSeasoningMonths is the payment count after which the early payoff
	// penalty is waived.
	MinSeasoningMonths uint32

	// SweepSchedule is the cron expression for the automation scheduler.
	// Empty disables the scheduler; callers can still run sweeps manually.
	SweepSchedule string
}

const (
	defaultDefaultAfterDays   = 90
	defaultReminderDays       = 7
	defaultMinSeasoningMonths = 12
)

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Loans      *loanssvc.Service
	Payments   *paymentssvc.Service
	Treasury   *treasurysvc.Service
	Automation *automationsvc.Service
	Stats      *statssvc.Service
}

// New builds a fully initialised application from the provided options.
func New(opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	store := opts.Store
	if store == nil {
		store = memory.New()
	}
	if opts.DefaultAfterDays == 0 {
		opts.DefaultAfterDays = defaultDefaultAfterDays
	}
	if opts.ReminderDays == 0 {
		opts.ReminderDays = defaultReminderDays
	}
	if opts.MinSeasoningMonths == 0 {
		opts.MinSeasoningMonths = defaultMinSeasoningMonths
	}

	manager := system.NewManager()

	treasuryService := treasurysvc.New(store, log)
	loanService := loanssvc.New(store, treasuryService, opts.Admins, log)
	paymentService := paymentssvc.New(store, treasuryService, opts.Admins, opts.MinSeasoningMonths, log)
	automationService := automationsvc.New(store, loanService, treasuryService, opts.DefaultAfterDays, opts.ReminderDays, log)
	statsService := statssvc.New(store, log)

	for _, name := range []string{"loans", "payments", "treasury", "stats"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}

	if opts.SweepSchedule != "" {
		scheduler := automationsvc.NewScheduler(automationService, opts.SweepSchedule, log)
		if err := manager.Register(scheduler); err != nil {
			return nil, fmt.Errorf("register %s: %w", scheduler.Name(), err)
		}
	} else {
		log.Warn("sweep schedule not set; automation scheduler disabled")
	}

	return &Application{
		manager:    manager,
		log:        log,
		Loans:      loanService,
		Payments:   paymentService,
		Treasury:   treasuryService,
		Automation: automationService,
		Stats:      statsService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
