package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"shelver/internal/database"
	"shelver/internal/queue"
	"shelver/internal/services"
	"shelver/internal/testsupport"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newStore(t *testing.T) (*queue.Store, *fakeClock) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	clock := newFakeClock()
	return queue.NewStore(db, queue.WithClock(clock.Now)), clock
}

func mustEnqueue(t *testing.T, store *queue.Store, taskType string, opts queue.EnqueueOptions) int64 {
	t.Helper()
	id, err := store.Enqueue(context.Background(), taskType, map[string]any{"external_id": "603"}, opts)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return id
}

func mustDequeue(t *testing.T, store *queue.Store) *queue.Task {
	t.Helper()
	task, err := store.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if task == nil {
		t.Fatal("expected a task")
	}
	return task
}

func TestEnqueueAppliesDefaults(t *testing.T) {
	store, clock := newStore(t)
	ctx := context.Background()

	id := mustEnqueue(t, store, "classify", queue.EnqueueOptions{Source: "webhook"})
	task, err := store.GetByID(ctx, id)
	if err != nil || task == nil {
		t.Fatalf("GetByID: %v %v", task, err)
	}
	if task.Status != queue.StatusPending || task.Attempts != 0 || task.MaxAttempts != 5 {
		t.Fatalf("unexpected defaults: %+v", task)
	}
	if task.Source != "webhook" || task.Priority != 0 {
		t.Fatalf("unexpected source/priority: %+v", task)
	}
	if !task.NextRetryAt.Equal(clock.Now()) {
		t.Fatalf("expected task due immediately, got %v", task.NextRetryAt)
	}
	var payload map[string]string
	if err := task.DecodePayload(&payload); err != nil || payload["external_id"] != "603" {
		t.Fatalf("unexpected payload %s (%v)", task.Payload, err)
	}
}

func TestEnqueueRequiresType(t *testing.T) {
	store, _ := newStore(t)
	_, err := store.Enqueue(context.Background(), " ", nil, queue.EnqueueOptions{})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDequeuePriorityThenCreatedAt(t *testing.T) {
	store, clock := newStore(t)

	low := mustEnqueue(t, store, "classify", queue.EnqueueOptions{Priority: 0})
	clock.Advance(time.Second)
	high := mustEnqueue(t, store, "classify", queue.EnqueueOptions{Priority: 2})
	clock.Advance(time.Second)
	lowLater := mustEnqueue(t, store, "classify", queue.EnqueueOptions{Priority: 0})

	order := []int64{high, low, lowLater}
	for i, want := range order {
		got := mustDequeue(t, store)
		if got.ID != want {
			t.Fatalf("dequeue %d: got task %d want %d", i, got.ID, want)
		}
		if got.Status != queue.StatusProcessing || got.StartedAt == nil {
			t.Fatalf("expected claimed task, got %+v", got)
		}
	}
	if task, err := store.Dequeue(context.Background()); err != nil || task != nil {
		t.Fatalf("expected empty queue, got %+v %v", task, err)
	}
}

func TestConcurrentDequeueReturnsDistinctTasks(t *testing.T) {
	cases := []struct {
		name    string
		pending int
		callers int
	}{
		{"more tasks than callers", 12, 8},
		{"fewer tasks than callers", 3, 8},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, _ := newStore(t)
			for i := 0; i < tc.pending; i++ {
				mustEnqueue(t, store, "classify", queue.EnqueueOptions{})
			}

			var (
				wg    sync.WaitGroup
				mu    sync.Mutex
				seen  = map[int64]int{}
				nils  int
				fails []error
			)
			start := make(chan struct{})
			for i := 0; i < tc.callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					task, err := store.Dequeue(context.Background())
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err != nil:
						fails = append(fails, err)
					case task == nil:
						nils++
					default:
						seen[task.ID]++
					}
				}()
			}
			close(start)
			wg.Wait()

			if len(fails) > 0 {
				t.Fatalf("dequeue errors: %v", fails)
			}
			want := min(tc.pending, tc.callers)
			if len(seen) != want {
				t.Fatalf("expected %d distinct tasks, got %d (%v)", want, len(seen), seen)
			}
			for id, count := range seen {
				if count != 1 {
					t.Fatalf("task %d claimed %d times", id, count)
				}
			}
			if nils != tc.callers-want {
				t.Fatalf("expected %d empty results, got %d", tc.callers-want, nils)
			}
		})
	}
}

func TestFailBackoffSequence(t *testing.T) {
	store, clock := newStore(t)
	ctx := context.Background()
	mustEnqueue(t, store, "classify", queue.EnqueueOptions{MaxAttempts: 10})

	want := []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second, 300 * time.Second, 600 * time.Second, 600 * time.Second, 600 * time.Second}
	for i, delay := range want {
		task := mustDequeue(t, store)
		if task.Attempts != i {
			t.Fatalf("attempt %d: unexpected attempts %d", i+1, task.Attempts)
		}
		result, err := store.Fail(ctx, task.ID, "enrichment timeout", task.Attempts, task.MaxAttempts)
		if err != nil {
			t.Fatalf("Fail: %v", err)
		}
		if result.Terminal {
			t.Fatalf("attempt %d unexpectedly terminal", i+1)
		}
		if got := result.NextRetryAt.Sub(clock.Now()); got != delay {
			t.Fatalf("attempt %d: backoff %v want %v", i+1, got, delay)
		}
		stored, _ := store.GetByID(ctx, task.ID)
		if stored.Status != queue.StatusPending || stored.StartedAt != nil || stored.ErrorMessage != "enrichment timeout" {
			t.Fatalf("unexpected rescheduled task: %+v", stored)
		}
		if next, _ := store.Dequeue(ctx); next != nil {
			t.Fatalf("task should not be eligible before its retry time")
		}
		clock.Advance(delay)
	}
}

func TestFailStopsAtMaxAttempts(t *testing.T) {
	store, clock := newStore(t)
	ctx := context.Background()
	id := mustEnqueue(t, store, "classify", queue.EnqueueOptions{MaxAttempts: 3})

	for attempt := 1; attempt <= 3; attempt++ {
		task := mustDequeue(t, store)
		if task.Attempts > task.MaxAttempts {
			t.Fatalf("attempts %d exceeded max %d", task.Attempts, task.MaxAttempts)
		}
		result, err := store.Fail(ctx, task.ID, "boom", task.Attempts, task.MaxAttempts)
		if err != nil {
			t.Fatalf("Fail: %v", err)
		}
		if result.Terminal != (attempt == 3) {
			t.Fatalf("attempt %d terminal=%v", attempt, result.Terminal)
		}
		clock.Advance(time.Hour)
	}

	task, _ := store.GetByID(ctx, id)
	if task.Status != queue.StatusFailed || task.Attempts != 3 || task.CompletedAt == nil {
		t.Fatalf("expected terminal failure with attempts=3, got %+v", task)
	}
	if next, _ := store.Dequeue(ctx); next != nil {
		t.Fatal("failed task must not be claimable")
	}
}

func TestFailTerminalCapsAttempts(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	id := mustEnqueue(t, store, "classify", queue.EnqueueOptions{MaxAttempts: 1})
	task := mustDequeue(t, store)
	if err := store.FailTerminal(ctx, task.ID, "no such library"); err != nil {
		t.Fatalf("FailTerminal: %v", err)
	}
	got, _ := store.GetByID(ctx, id)
	if got.Status != queue.StatusFailed || got.Attempts != 1 {
		t.Fatalf("unexpected task %+v", got)
	}
}

func TestFailRequiresProcessing(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	id := mustEnqueue(t, store, "classify", queue.EnqueueOptions{})
	if _, err := store.Fail(ctx, id, "boom", 0, 5); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict for pending task, got %v", err)
	}
	if _, err := store.Fail(ctx, 9999, "boom", 0, 5); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCompleteMergesResult(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	id := mustEnqueue(t, store, "classify", queue.EnqueueOptions{})
	mustDequeue(t, store)

	if err := store.Complete(ctx, id, map[string]any{"classification_id": 7}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	task, _ := store.GetByID(ctx, id)
	if task.Status != queue.StatusCompleted || task.CompletedAt == nil {
		t.Fatalf("unexpected task %+v", task)
	}
	var payload struct {
		ExternalID string         `json:"external_id"`
		Result     map[string]int `json:"result"`
	}
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.ExternalID != "603" || payload.Result["classification_id"] != 7 {
		t.Fatalf("expected merged payload, got %s", task.Payload)
	}
	if err := store.Complete(ctx, id, nil); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict completing twice, got %v", err)
	}
}

func TestResetStaleProcessingOnlyTouchesProcessing(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	completed := mustEnqueue(t, store, "a", queue.EnqueueOptions{Priority: 5})
	mustDequeue(t, store)
	if err := store.Complete(ctx, completed, nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	failed := mustEnqueue(t, store, "b", queue.EnqueueOptions{Priority: 4, MaxAttempts: 1})
	mustDequeue(t, store)
	if _, err := store.Fail(ctx, failed, "boom", 0, 1); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	cancelled := mustEnqueue(t, store, "c", queue.EnqueueOptions{Priority: -1})
	if err := store.Cancel(ctx, cancelled); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	stuckA := mustEnqueue(t, store, "d", queue.EnqueueOptions{Priority: 3})
	stuckB := mustEnqueue(t, store, "e", queue.EnqueueOptions{Priority: 2})
	mustDequeue(t, store)
	mustDequeue(t, store)

	reset, err := store.ResetStaleProcessing(ctx)
	if err != nil {
		t.Fatalf("ResetStaleProcessing: %v", err)
	}
	if reset != 2 {
		t.Fatalf("expected 2 reset tasks, got %d", reset)
	}
	expect := map[int64]queue.Status{
		completed: queue.StatusCompleted,
		failed:    queue.StatusFailed,
		cancelled: queue.StatusCancelled,
		stuckA:    queue.StatusPending,
		stuckB:    queue.StatusPending,
	}
	for id, want := range expect {
		task, _ := store.GetByID(ctx, id)
		if task.Status != want {
			t.Fatalf("task %d: status %s want %s", id, task.Status, want)
		}
		if want == queue.StatusPending && task.StartedAt != nil {
			t.Fatalf("task %d: expected started_at cleared", id)
		}
	}
}

func TestCancelOnlyFromPending(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	pending := mustEnqueue(t, store, "classify", queue.EnqueueOptions{})
	claimed := mustEnqueue(t, store, "classify", queue.EnqueueOptions{Priority: 9})
	mustDequeue(t, store)

	if err := store.Cancel(ctx, pending); err != nil {
		t.Fatalf("Cancel pending: %v", err)
	}
	if err := store.Cancel(ctx, claimed); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict cancelling processing task, got %v", err)
	}
	if err := store.Cancel(ctx, 4242); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	task, _ := store.GetByID(ctx, claimed)
	if task.Status != queue.StatusProcessing {
		t.Fatalf("processing task must be untouched, got %s", task.Status)
	}
}

func TestRetryResetsFailedTasks(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	id := mustEnqueue(t, store, "classify", queue.EnqueueOptions{MaxAttempts: 1})
	mustDequeue(t, store)
	if _, err := store.Fail(ctx, id, "exhausted", 0, 1); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	n, err := store.Retry(ctx, id)
	if err != nil || n != 1 {
		t.Fatalf("Retry: %d %v", n, err)
	}
	task, _ := store.GetByID(ctx, id)
	if task.Status != queue.StatusPending || task.Attempts != 0 || task.ErrorMessage != "" || task.CompletedAt != nil {
		t.Fatalf("unexpected retried task %+v", task)
	}
	if claimed := mustDequeue(t, store); claimed.ID != id {
		t.Fatalf("expected retried task to be claimable")
	}
}

func TestPurgeFinishedKeepsFailed(t *testing.T) {
	store, clock := newStore(t)
	ctx := context.Background()

	done := mustEnqueue(t, store, "classify", queue.EnqueueOptions{Priority: 1})
	mustDequeue(t, store)
	_ = store.Complete(ctx, done, nil)
	failed := mustEnqueue(t, store, "classify", queue.EnqueueOptions{MaxAttempts: 1})
	mustDequeue(t, store)
	_, _ = store.Fail(ctx, failed, "boom", 0, 1)

	clock.Advance(48 * time.Hour)
	purged, err := store.PurgeFinished(ctx, clock.Now().Add(-24*time.Hour))
	if err != nil || purged != 1 {
		t.Fatalf("PurgeFinished: %d %v", purged, err)
	}
	if task, _ := store.GetByID(ctx, done); task != nil {
		t.Fatal("expected completed task purged")
	}
	if task, _ := store.GetByID(ctx, failed); task == nil {
		t.Fatal("expected failed task kept")
	}
}

func TestHealthAndList(t *testing.T) {
	store, clock := newStore(t)
	ctx := context.Background()

	mustEnqueue(t, store, "classify", queue.EnqueueOptions{})
	retrying := mustEnqueue(t, store, "execute_batch", queue.EnqueueOptions{Priority: 1})
	mustDequeue(t, store)
	if _, err := store.Fail(ctx, retrying, "router down", 0, 5); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	clock.Advance(time.Minute)

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Total != 2 || health.Pending != 2 || health.Retrying != 1 {
		t.Fatalf("unexpected health %+v", health)
	}

	batches, err := store.List(ctx, queue.ListFilter{TaskType: "execute_batch"})
	if err != nil || len(batches) != 1 || batches[0].ID != retrying {
		t.Fatalf("List by type: %v %v", batches, err)
	}
	pending, err := store.List(ctx, queue.ListFilter{Statuses: []queue.Status{queue.StatusPending, queue.StatusFailed}, Limit: 1})
	if err != nil || len(pending) != 1 {
		t.Fatalf("List by status: %v %v", pending, err)
	}
}

func TestBackoffForClamps(t *testing.T) {
	cases := map[int]time.Duration{0: 30 * time.Second, 1: 30 * time.Second, 4: 300 * time.Second, 5: 600 * time.Second, 50: 600 * time.Second}
	for attempt, want := range cases {
		if got := queue.BackoffFor(attempt); got != want {
			t.Fatalf("BackoffFor(%d) = %v want %v", attempt, got, want)
		}
	}
}

func TestPostgresConcurrentDequeue(t *testing.T) {
	db := testsupport.MustOpenPostgres(t)
	if db.Dialect() != database.DialectPostgres {
		t.Fatalf("unexpected dialect %s", db.Dialect())
	}
	store := queue.NewStore(db)
	for i := 0; i < 5; i++ {
		mustEnqueue(t, store, "classify", queue.EnqueueOptions{})
	}
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[int64]bool{}
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task, err := store.Dequeue(context.Background())
			if err != nil {
				t.Errorf("Dequeue: %v", err)
				return
			}
			if task == nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if seen[task.ID] {
				t.Errorf("task %d claimed twice", task.ID)
			}
			seen[task.ID] = true
		}()
	}
	wg.Wait()
	if len(seen) != 5 {
		t.Fatalf("expected 5 claims, got %d", len(seen))
	}
}
