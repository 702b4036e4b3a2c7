package system

import (
	"context"
	"fmt"
	"sync"

	"github.com/studifi/finance_layer/pkg/logger"
)

// Manager starts registered services in registration order and stops them in
// reverse. A service that fails to start aborts startup and unwinds the
// services already running.
type Manager struct {
	mu       sync.Mutex
	services []Service
	started  bool
	log      *logger.Logger
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{log: logger.NewDefault("system")}
}

// Register adds a service. Registration is rejected after Start and for
// duplicate names.
func (m *Manager) Register(svc Service) error {
	if svc == nil {
		return fmt.Errorf("service is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("cannot register %s: manager already started", svc.Name())
	}
	for _, existing := range m.services {
		if existing.Name() == svc.Name() {
			return fmt.Errorf("service %s already registered", svc.Name())
		}
	}
	m.services = append(m.services, svc)
	return nil
}

// Start starts every registered service.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return nil
	}
	for i, svc := range m.services {
		if err := svc.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				if stopErr := m.services[j].Stop(ctx); stopErr != nil {
					m.log.WithError(stopErr).WithField("service", m.services[j].Name()).Error("unwind stop failed")
				}
			}
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
		m.log.WithField("service", svc.Name()).Info("service started")
	}
	m.started = true
	return nil
}

// Stop stops all services in reverse registration order. The first error is
// returned; later services still stop.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil
	}
	var firstErr error
	for i := len(m.services) - 1; i >= 0; i-- {
		if err := m.services[i].Stop(ctx); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("stop %s: %w", m.services[i].Name(), err)
			}
			m.log.WithError(err).WithField("service", m.services[i].Name()).Error("service stop failed")
			continue
		}
		m.log.WithField("service", m.services[i].Name()).Info("service stopped")
	}
	m.started = false
	return firstErr
}

// NoopService satisfies Service for components without their own lifecycle.
type NoopService struct {
	ServiceName string
}

func (n NoopService) Name() string                { return n.ServiceName }
func (n NoopService) Start(context.Context) error { return nil }
func (n NoopService) Stop(context.Context) error  { return nil }
