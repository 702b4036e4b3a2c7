package system

import (
	"context"
	"errors"
	"testing"
)

type fakeService struct {
	name     string
	startErr error
	stopErr  error
	events   *[]string
}

func (f *fakeService) Name() string { return f.name }

func (f *fakeService) Start(context.Context) error {
	*f.events = append(*f.events, "start:"+f.name)
	return f.startErr
}

func (f *fakeService) Stop(context.Context) error {
	*f.events = append(*f.events, "stop:"+f.name)
	return f.stopErr
}

func TestManagerStartStopOrder(t *testing.T) {
	m := NewManager()
	var events []string
	for _, name := range []string{"a", "b", "c"} {
		if err := m.Register(&fakeService{name: name, events: &events}); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	want := []string{"start:a", "start:b", "start:c", "stop:c", "stop:b", "stop:a"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}
}

func TestManagerRejectsDuplicateNames(t *testing.T) {
	m := NewManager()
	var events []string
	if err := m.Register(&fakeService{name: "loans", events: &events}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := m.Register(&fakeService{name: "loans", events: &events}); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	if err := m.Register(nil); err == nil {
		t.Fatal("expected nil registration to fail")
	}
}

func TestManagerRejectsRegistrationAfterStart(t *testing.T) {
	m := NewManager()
	if err := m.Register(NoopService{ServiceName: "loans"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Register(NoopService{ServiceName: "payments"}); err == nil {
		t.Fatal("expected registration after start to fail")
	}
}

func TestManagerUnwindsOnStartFailure(t *testing.T) {
	m := NewManager()
	var events []string
	boom := errors.New("boom")
	services := []*fakeService{
		{name: "a", events: &events},
		{name: "b", events: &events},
		{name: "c", startErr: boom, events: &events},
		{name: "d", events: &events},
	}
	for _, svc := range services {
		if err := m.Register(svc); err != nil {
			t.Fatalf("Register(%s): %v", svc.name, err)
		}
	}

	err := m.Start(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Start error = %v, want %v", err, boom)
	}

	// Already-running services stop in reverse; d never starts.
	want := []string{"start:a", "start:b", "start:c", "stop:b", "stop:a"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}

	// The failed startup leaves the manager stopped, so Stop is a no-op.
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(events) != len(want) {
		t.Errorf("Stop after failed start touched services: %v", events)
	}
}

func TestManagerStopReportsFirstError(t *testing.T) {
	m := NewManager()
	var events []string
	boom := errors.New("boom")
	services := []*fakeService{
		{name: "a", events: &events},
		{name: "b", stopErr: boom, events: &events},
		{name: "c", events: &events},
	}
	for _, svc := range services {
		if err := m.Register(svc); err != nil {
			t.Fatalf("Register(%s): %v", svc.name, err)
		}
	}
	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	err := m.Stop(ctx)
	if !errors.Is(err, boom) {
		t.Fatalf("Stop error = %v, want %v", err, boom)
	}
	// The failing service does not block the rest of the shutdown.
	want := []string{"start:a", "start:b", "start:c", "stop:c", "stop:b", "stop:a"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
}
