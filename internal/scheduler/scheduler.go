package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"shelver/internal/logging"
	"shelver/internal/metrics"
	"shelver/internal/queue"
)

// Prober checks a collaborator with a single cheap request.
type Prober interface {
	HealthCheck(ctx context.Context) error
}

// Availability is the worker's backpressure flag.
type Availability interface {
	Available() bool
	MarkAvailable()
	MarkUnavailable(reason string)
}

// QueueMaintainer is the part of the task store the jobs use.
type QueueMaintainer interface {
	PurgeFinished(ctx context.Context, cutoff time.Time) (int64, error)
	Stats(ctx context.Context) (map[queue.Status]int, error)
}

// Scheduler runs periodic maintenance jobs on a cron table.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu  sync.Mutex
	ctx context.Context
}

// New builds a stopped scheduler. Overlapping runs of the same job are
// skipped.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "scheduler")
	adapter := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(adapter),
			cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
		),
		logger: logger,
		ctx:    context.Background(),
	}
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// AddHealthProbe probes every interval and flips the availability flag.
func (s *Scheduler) AddHealthProbe(interval time.Duration, probe Prober, state Availability) error {
	if interval <= 0 || probe == nil {
		return nil
	}
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		Probe(s.context(), probe, state, s.logger)
	})
	if err != nil {
		return fmt.Errorf("schedule health probe: %w", err)
	}
	return nil
}

// AddRetention purges finished tasks older than days on spec. Zero days
// disables the job.
func (s *Scheduler) AddRetention(spec string, days int, store QueueMaintainer) error {
	if days <= 0 {
		return nil
	}
	if strings.TrimSpace(spec) == "" {
		spec = "@daily"
	}
	_, err := s.cron.AddFunc(spec, func() {
		if _, err := Purge(s.context(), store, days, time.Now(), s.logger); err != nil {
			logging.WarnWithContext(s.logger, "queue retention purge failed", "retention_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "old tasks remain in the database"))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule retention %q: %w", spec, err)
	}
	return nil
}

// AddQueueGauge refreshes the queue depth gauges every interval.
func (s *Scheduler) AddQueueGauge(interval time.Duration, store QueueMaintainer) error {
	if interval <= 0 {
		return nil
	}
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		RefreshQueueDepth(s.context(), store, s.logger)
	})
	if err != nil {
		return fmt.Errorf("schedule queue gauge: %w", err)
	}
	return nil
}

// Start runs the cron table until Stop. Jobs use ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("scheduler started", logging.Int("jobs", len(s.cron.Entries())))
}

// Stop halts the table and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Probe runs one health check and updates state. Transitions are logged;
// steady state is not.
func Probe(ctx context.Context, probe Prober, state Availability, logger *slog.Logger) {
	probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	err := probe.HealthCheck(probeCtx)
	wasAvailable := state.Available()
	if err != nil {
		state.MarkUnavailable("ai backend unavailable: " + err.Error())
		if wasAvailable {
			logging.WarnWithContext(logger, "ai backend unavailable; pausing task claims", "backpressure_on",
				logging.Error(err),
				logging.String(logging.FieldImpact, "queued tasks wait until the backend answers"),
				logging.String(logging.FieldErrorHint, "check that the llm server is running"))
		}
		return
	}
	state.MarkAvailable()
	if !wasAvailable {
		logger.Info("ai backend available; resuming task claims", logging.String(logging.FieldEventType, "backpressure_off"))
	}
}

// Purge deletes finished tasks that completed more than days before now.
func Purge(ctx context.Context, store QueueMaintainer, days int, now time.Time, logger *slog.Logger) (int64, error) {
	cutoff := now.AddDate(0, 0, -days)
	removed, err := store.PurgeFinished(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		logger.Info("purged finished tasks",
			logging.Int64("removed", removed),
			logging.String("cutoff", cutoff.UTC().Format(time.RFC3339)))
	}
	return removed, nil
}

// RefreshQueueDepth copies queue statistics into the metrics gauges.
func RefreshQueueDepth(ctx context.Context, store QueueMaintainer, logger *slog.Logger) {
	stats, err := store.Stats(ctx)
	if err != nil {
		logger.Debug("queue stats unavailable", logging.Error(err))
		return
	}
	counts := make(map[string]int, len(queue.AllStatuses))
	for _, status := range queue.AllStatuses {
		counts[string(status)] = stats[status]
	}
	metrics.SetQueueDepth(counts)
}

// cronLogger routes cron's own logging into slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{logging.Error(err)}, keysAndValues...)...)
}
