package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"shelver/internal/batch"
	"shelver/internal/classification"
	"shelver/internal/config"
	"shelver/internal/logging"
	"shelver/internal/queue"
	"shelver/internal/worker"
)

// TaskQueue is the queue surface the daemon and its API use.
type TaskQueue interface {
	Enqueue(ctx context.Context, taskType string, payload any, opts queue.EnqueueOptions) (int64, error)
	List(ctx context.Context, filter queue.ListFilter) ([]*queue.Task, error)
	GetByID(ctx context.Context, id int64) (*queue.Task, error)
	Cancel(ctx context.Context, id int64) error
	Retry(ctx context.Context, ids ...int64) (int64, error)
	Health(ctx context.Context) (queue.HealthSummary, error)
	ResetStaleProcessing(ctx context.Context) (int64, error)
}

// Records reads classification history.
type Records interface {
	Record(ctx context.Context, id int64) (*classification.Record, error)
}

// Reclassifier applies live corrections and clarifications.
type Reclassifier interface {
	Reassign(ctx context.Context, classificationID, libraryID int64, correctedBy string) (classification.ReassignResult, error)
	RecordResponse(ctx context.Context, classificationID int64, question, answer string, confidenceBefore, boost int) (classification.Clarification, error)
}

// Batches is the orchestrator surface exposed over HTTP. Execution itself
// runs through the queue.
type Batches interface {
	Create(ctx context.Context, items []batch.ItemInput, opts batch.CreateOptions) (batch.Detail, error)
	Status(ctx context.Context, id int64) (batch.Detail, error)
	Progress(ctx context.Context, id int64) (batch.Progress, error)
	List(ctx context.Context, limit int) ([]batch.Batch, error)
	CheckAction(ctx context.Context, id int64, action batch.Action) error
	Validate(ctx context.Context, id int64) (batch.Detail, error)
	Pause(ctx context.Context, id int64) (batch.Batch, error)
	Cancel(ctx context.Context, id int64) (batch.Batch, error)
	SkipItem(ctx context.Context, batchID, itemID int64) (batch.Item, error)
	RetryItem(ctx context.Context, batchID, itemID int64) (batch.Item, error)
}

// Worker is the lifecycle of the worker loop.
type Worker interface {
	Start(ctx context.Context) error
	Stop()
	State() *worker.State
}

// Scheduler is the lifecycle of the cron jobs.
type Scheduler interface {
	Start(ctx context.Context)
	Stop()
}

// Components are the services the daemon coordinates. Scheduler is optional.
type Components struct {
	Queue     TaskQueue
	Records   Records
	Engine    Reclassifier
	Batches   Batches
	Worker    Worker
	Scheduler Scheduler
	Database  string
	Libraries int
}

// Daemon coordinates the background processing services and enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	comp   Components
	api    *apiServer

	lockPath string
	lock     *flock.Flock

	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Database     string
	LockFilePath string
	Worker       worker.Snapshot
	QueueStats   queue.HealthSummary
	Libraries    int
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, comp Components, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || comp.Queue == nil || comp.Worker == nil {
		return nil, errors.New("daemon requires config, queue and worker")
	}
	if comp.Records == nil || comp.Engine == nil || comp.Batches == nil {
		return nil, errors.New("daemon requires classification records, engine and batches")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.DaemonLockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		comp:     comp,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, recovers tasks a previous process left
// claimed, then starts the worker, scheduler and API listener.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another shelver daemon instance is already running")
	}

	if n, err := d.comp.Queue.ResetStaleProcessing(ctx); err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("reset stale tasks: %w", err)
	} else if n > 0 {
		d.logger.Info("recovered stale tasks",
			logging.Int64("count", n),
			logging.String(logging.FieldEventType, "stale_tasks_recovered"))
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.api.listen(); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}
	if err := d.comp.Worker.Start(runCtx); err != nil {
		cancel()
		d.api.stop()
		_ = d.lock.Unlock()
		return fmt.Errorf("start worker: %w", err)
	}
	if d.comp.Scheduler != nil {
		d.comp.Scheduler.Start(runCtx)
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("shelver daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Run starts the daemon and blocks until ctx is cancelled or the API server
// fails, then stops everything.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	defer d.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.api.serve(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	return g.Wait()
}

// Stop stops background processing and releases the daemon lock. In-flight
// tasks are allowed to finish.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}
	d.api.stop()
	if d.comp.Scheduler != nil {
		d.comp.Scheduler.Stop()
	}
	d.comp.Worker.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("shelver daemon stopped")
}

// Addr reports the API listener address, or "" when the API is disabled.
func (d *Daemon) Addr() string {
	return d.api.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) (Status, error) {
	health, err := d.comp.Queue.Health(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Database:     d.comp.Database,
		LockFilePath: d.lockPath,
		Worker:       d.comp.Worker.State().Snapshot(),
		QueueStats:   health,
		Libraries:    d.comp.Libraries,
	}, nil
}
