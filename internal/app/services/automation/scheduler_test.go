package automation

import (
	"context"
	"testing"
)

func TestSchedulerLifecycle(t *testing.T) {
	svc, _, _ := newFixture(t, 0)
	sched := NewScheduler(svc, "@every 1h", nil)
	if sched.Name() != "automation-scheduler" {
		t.Errorf("name = %s", sched.Name())
	}

	ctx := context.Background()
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Starting again is a no-op.
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if err := sched.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := sched.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	svc, _, _ := newFixture(t, 0)
	sched := NewScheduler(svc, "not a schedule", nil)
	if err := sched.Start(context.Background()); err == nil {
		t.Fatal("expected invalid cron expression to fail")
	}
}
