package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"shelver/internal/config"
	"shelver/internal/logging"
	"shelver/internal/metrics"
	"shelver/internal/notifications"
	"shelver/internal/queue"
	"shelver/internal/services"
)

// MaxConcurrent caps in-flight tasks. The AI backend is a shared local
// inference server that serves one request at a time.
const MaxConcurrent = 1

// Queue is the part of the task store the loop drives.
type Queue interface {
	Dequeue(ctx context.Context) (*queue.Task, error)
	Complete(ctx context.Context, id int64, result any) error
	Fail(ctx context.Context, id int64, errorMessage string, attempts, maxAttempts int) (queue.FailResult, error)
	FailTerminal(ctx context.Context, id int64, errorMessage string) error
}

// Handler executes one task type. The result is merged into the task payload.
type Handler interface {
	Handle(ctx context.Context, task *queue.Task) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, task *queue.Task) (any, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, task *queue.Task) (any, error) {
	return f(ctx, task)
}

// Worker polls the queue and dispatches tasks to handlers.
type Worker struct {
	queue         Queue
	handlers      map[string]Handler
	state         *State
	notifier      notifications.Service
	logger        *slog.Logger
	pollInterval  time.Duration
	errorInterval time.Duration
	maxConcurrent int

	mu       sync.Mutex
	cancel   context.CancelFunc
	loopDone chan struct{}
	tasks    sync.WaitGroup
}

// Option configures a Worker.
type Option func(*Worker)

// WithNotifier sets the sink for terminal task failures.
func WithNotifier(n notifications.Service) Option {
	return func(w *Worker) {
		if n != nil {
			w.notifier = n
		}
	}
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithIntervals overrides the idle poll and store error intervals.
func WithIntervals(poll, errorRetry time.Duration) Option {
	return func(w *Worker) {
		if poll > 0 {
			w.pollInterval = poll
		}
		if errorRetry > 0 {
			w.errorInterval = errorRetry
		}
	}
}

// WithState shares an externally owned state record, e.g. with the scheduler
// that probes availability.
func WithState(state *State) Option {
	return func(w *Worker) {
		if state != nil {
			w.state = state
		}
	}
}

// New builds a worker.
func New(q Queue, opts ...Option) *Worker {
	w := &Worker{
		queue:         q,
		handlers:      make(map[string]Handler),
		notifier:      notifications.NewService(nil),
		logger:        logging.NewNop(),
		pollInterval:  2 * time.Second,
		errorInterval: 10 * time.Second,
		maxConcurrent: MaxConcurrent,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.state == nil {
		w.state = NewState()
	}
	w.logger = logging.NewComponentLogger(w.logger, "worker")
	return w
}

// NewFromConfig applies the worker section of cfg. max_concurrent is
// accepted only up to MaxConcurrent.
func NewFromConfig(cfg *config.Config, q Queue, opts ...Option) *Worker {
	w := New(q, append([]Option{WithIntervals(
		time.Duration(cfg.Worker.PollInterval)*time.Second,
		time.Duration(cfg.Worker.ErrorRetryInterval)*time.Second,
	)}, opts...)...)
	if n := cfg.Worker.MaxConcurrent; n > 0 && n < w.maxConcurrent {
		w.maxConcurrent = n
	}
	return w
}

// Register binds a handler to a task type.
func (w *Worker) Register(taskType string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[taskType] = h
}

// State returns the worker's state record.
func (w *Worker) State() *State {
	return w.state
}

// Start launches the polling loop.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.handlers) == 0 {
		return errors.New("worker has no task handlers")
	}
	if !w.state.start() {
		return errors.New("worker already running")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.loopDone = make(chan struct{})
	go w.loop(loopCtx, ctx, w.loopDone)
	w.logger.Info("worker started",
		logging.String("session_id", w.state.Snapshot().SessionID),
		logging.Duration("poll_interval", w.pollInterval),
		logging.Int("max_concurrent", w.maxConcurrent))
	return nil
}

// Stop ends the loop and waits for in-flight tasks to finish. Tasks are never
// cancelled mid-execution.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.state.stop() {
		w.mu.Unlock()
		return
	}
	cancel, done := w.cancel, w.loopDone
	w.cancel, w.loopDone = nil, nil
	w.mu.Unlock()

	cancel()
	<-done
	w.tasks.Wait()
	w.logger.Info("worker stopped")
}

// loop runs until ctx is cancelled. Each iteration has one suspension point.
// Dispatched tasks run on a context derived from base without its
// cancellation.
func (w *Worker) loop(ctx, base context.Context, done chan<- struct{}) {
	defer close(done)
	for {
		if ctx.Err() != nil || !w.state.Running() {
			return
		}
		if !w.state.Available() || w.state.InFlight() >= w.maxConcurrent {
			w.sleep(ctx, w.pollInterval)
			continue
		}
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.state.setLastError(err)
			logging.ErrorWithContext(w.logger, "failed to claim next task", "queue_dequeue_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check database connectivity"))
			w.sleep(ctx, w.errorInterval)
			continue
		}
		if task == nil {
			w.sleep(ctx, w.pollInterval)
			continue
		}
		w.dispatch(base, task)
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (w *Worker) dispatch(base context.Context, task *queue.Task) {
	ref := TaskRef{ID: task.ID, Type: task.Type}
	w.state.acquire(ref)
	w.tasks.Add(1)
	go func() {
		defer w.tasks.Done()
		result := w.Run(context.WithoutCancel(base), task)
		ref.Result = result
		w.state.release(ref)
	}()
}

// Run executes one claimed task and records its outcome on the queue. It
// returns the metrics result label: completed, retry or failed.
func (w *Worker) Run(ctx context.Context, task *queue.Task) string {
	ctx = services.WithTaskType(services.WithTaskID(ctx, task.ID), task.Type)
	ctx, _ = services.EnsureRequestID(ctx)
	logger := logging.WithContext(ctx, w.logger).With(logging.Int("attempt", task.Attempts+1))

	w.mu.Lock()
	handler, ok := w.handlers[task.Type]
	w.mu.Unlock()
	if !ok {
		err := services.Wrap(services.ErrValidation, "worker", "dispatch", fmt.Sprintf("unknown task type %q", task.Type), nil)
		return w.fail(ctx, logger, task, err)
	}

	start := time.Now()
	logger.Info("task started", logging.String("source", task.Source))
	result, err := handler.Handle(ctx, task)
	metrics.TaskDuration.WithLabelValues(task.Type).Observe(time.Since(start).Seconds())
	if err != nil {
		return w.fail(ctx, logger, task, err)
	}
	if err := w.queue.Complete(ctx, task.ID, result); err != nil {
		w.state.setLastError(err)
		logging.ErrorWithContext(logger, "failed to record task completion", "task_complete_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "task stays processing until the next restart resets it"))
		return "failed"
	}
	metrics.TasksProcessed.WithLabelValues(task.Type, "completed").Inc()
	logger.Info("task completed", logging.Duration("duration", time.Since(start)))
	return "completed"
}

func (w *Worker) fail(ctx context.Context, logger *slog.Logger, task *queue.Task, taskErr error) string {
	w.state.setLastError(taskErr)
	message := taskErr.Error()
	attrs := []logging.Attr{logging.Error(taskErr), logging.ErrorKind(services.Kind(taskErr))}

	terminal := services.IsPermanent(taskErr)
	attempts := task.Attempts + 1
	if terminal {
		if err := w.queue.FailTerminal(ctx, task.ID, message); err != nil {
			logger.Error("failed to record task failure", logging.Error(err))
		}
	} else {
		res, err := w.queue.Fail(ctx, task.ID, message, task.Attempts, task.MaxAttempts)
		if err != nil {
			logger.Error("failed to record task failure", logging.Error(err))
			return "failed"
		}
		terminal, attempts = res.Terminal, res.Attempts
		if !terminal {
			metrics.TasksProcessed.WithLabelValues(task.Type, "retry").Inc()
			logging.WarnWithContext(logger, "task failed; retry scheduled", "task_retry",
				append(attrs,
					logging.Int("attempts", res.Attempts),
					logging.String("next_retry_at", res.NextRetryAt.UTC().Format(time.RFC3339)))...)
			return "retry"
		}
	}

	metrics.TasksProcessed.WithLabelValues(task.Type, "failed").Inc()
	logging.ErrorWithContext(logger, "task failed permanently", "task_failed",
		append(attrs,
			logging.Int("attempts", attempts),
			logging.String(logging.FieldErrorHint, "inspect the error, then retry the task from the CLI or API"))...)
	if err := w.notifier.Publish(ctx, notifications.EventTaskFailed, notifications.Payload{
		"taskID":   strconv.FormatInt(task.ID, 10),
		"taskType": task.Type,
		"attempts": attempts,
		"error":    message,
	}); err != nil {
		logger.Debug("task failure notification failed", logging.Error(err))
	}
	return "failed"
}
