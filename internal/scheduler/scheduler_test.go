package scheduler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"shelver/internal/logging"
	"shelver/internal/queue"
	"shelver/internal/scheduler"
	"shelver/internal/testsupport"
	"shelver/internal/worker"
)

type stubProbe struct{ err error }

func (s *stubProbe) HealthCheck(context.Context) error { return s.err }

func TestProbeFlipsAvailability(t *testing.T) {
	state := worker.NewState()
	probe := &stubProbe{err: errors.New("connection refused")}
	logger := logging.NewNop()

	scheduler.Probe(context.Background(), probe, state, logger)
	if state.Available() {
		t.Fatal("expected unavailable after a failed probe")
	}
	if snap := state.Snapshot(); snap.LastError == "" {
		t.Fatal("expected the probe failure to be recorded")
	}

	probe.err = nil
	scheduler.Probe(context.Background(), probe, state, logger)
	if !state.Available() {
		t.Fatal("expected available after a successful probe")
	}
}

func TestPurgeRemovesOnlyOldFinishedTasks(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := now.AddDate(0, 0, -40)
	db := testsupport.MustOpenDB(t, testsupport.NewConfig(t))
	store := queue.NewStore(db, queue.WithClock(func() time.Time { return clock }))

	old, err := store.Enqueue(ctx, "classify", nil, queue.EnqueueOptions{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if task, err := store.Dequeue(ctx); err != nil || task.ID != old {
		t.Fatalf("Dequeue: %+v %v", task, err)
	}
	if err := store.Complete(ctx, old, nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	clock = now
	pending, err := store.Enqueue(ctx, "classify", nil, queue.EnqueueOptions{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	removed, err := scheduler.Purge(ctx, store, 30, now, logging.NewNop())
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if task, _ := store.GetByID(ctx, old); task != nil {
		t.Fatal("old completed task should be gone")
	}
	if task, _ := store.GetByID(ctx, pending); task == nil {
		t.Fatal("pending task must be kept")
	}
}

func TestSchedulerRegistersJobs(t *testing.T) {
	db := testsupport.MustOpenDB(t, testsupport.NewConfig(t))
	store := queue.NewStore(db)
	s := scheduler.New(logging.NewNop())
	if err := s.AddHealthProbe(time.Minute, &stubProbe{}, worker.NewState()); err != nil {
		t.Fatalf("AddHealthProbe: %v", err)
	}
	if err := s.AddRetention("@daily", 30, store); err != nil {
		t.Fatalf("AddRetention: %v", err)
	}
	if err := s.AddRetention("not a schedule", 30, store); err == nil {
		t.Fatal("expected an invalid cron spec to be rejected")
	}
	s.Start(context.Background())
	s.Stop()
}
