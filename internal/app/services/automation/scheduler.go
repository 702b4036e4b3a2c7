package automation

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/studifi/finance_layer/internal/app/system"
	"github.com/studifi/finance_layer/pkg/logger"
)

var _ system.Service = (*Scheduler)(nil)

// Scheduler drives the servicing sweep on a cron schedule as a
// lifecycle-managed component.
type Scheduler struct {
	service  *Service
	schedule string
	log      *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewScheduler creates a scheduler that runs the sweep on the given cron
// expression, e.g. "@every 1h" or "0 3 * * *".
func NewScheduler(service *Service, schedule string, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewDefault("automation-scheduler")
	}
	if schedule == "" {
		schedule = "@every 1h"
	}
	return &Scheduler{
		service:  service,
		schedule: schedule,
		log:      log,
	}
}

func (s *Scheduler) Name() string { return "automation-scheduler" }

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() {
		if _, err := s.service.RunTasks(context.Background()); err != nil {
			s.log.WithError(err).Error("scheduled sweep failed")
		}
	}); err != nil {
		return err
	}
	c.Start()

	s.cron = c
	s.running = true
	s.log.WithField("schedule", s.schedule).Info("automation scheduler started")
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}

	s.cron = nil
	s.running = false
	s.log.Info("automation scheduler stopped")
	return nil
}
