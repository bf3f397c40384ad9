package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"shelver/internal/batch"
	"shelver/internal/cache"
	"shelver/internal/classification"
	"shelver/internal/config"
	"shelver/internal/daemon"
	"shelver/internal/database"
	"shelver/internal/library"
	"shelver/internal/logging"
	"shelver/internal/notifications"
	"shelver/internal/queue"
	"shelver/internal/scheduler"
	"shelver/internal/services/arr"
	"shelver/internal/services/llm"
	"shelver/internal/services/tmdb"
	"shelver/internal/worker"
)

// queueGaugeInterval is how often queue depth gauges are refreshed.
const queueGaugeInterval = 30 * time.Second

// App owns every long-lived component of a daemon process.
type App struct {
	Daemon *daemon.Daemon
	Queue  *queue.Store
	Engine *classification.Engine
	Worker *worker.Worker

	db     *database.DB
	cache  cache.Store
	router *arr.Router
	logger *slog.Logger
}

// Build opens the store, syncs library definitions and wires the engine,
// orchestrator, worker, scheduler and daemon. Close releases what Build
// acquired, even on partial failure.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	a := &App{logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.db, err = database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	libraries := library.NewStore(a.db)
	if err := libraries.Sync(ctx, cfg.Libraries); err != nil {
		return nil, fmt.Errorf("sync libraries: %w", err)
	}

	a.cache, err = cache.New(ctx, cfg.Cache, logger)
	if err != nil {
		logging.WarnWithContext(logger, "enrichment cache unavailable, using memory", "cache_fallback",
			logging.Error(err),
			logging.String("backend", cfg.Cache.Backend),
			logging.String(logging.FieldImpact, "metadata cache is not shared between processes"))
		a.cache = cache.NewMemory(time.Duration(cfg.Cache.TTLMinutes) * time.Minute)
	}

	var fetcher tmdb.Fetcher
	if key := strings.TrimSpace(cfg.TMDB.APIKey); key != "" {
		client, err := tmdb.New(key, cfg.TMDB.BaseURL, cfg.TMDB.Language, time.Duration(cfg.TMDB.TimeoutSeconds)*time.Second)
		if err != nil {
			return nil, fmt.Errorf("tmdb client: %w", err)
		}
		fetcher = client
	} else {
		logging.WarnWithContext(logger, "tmdb api key not configured", "tmdb_disabled",
			logging.String(logging.FieldImpact, "every classification runs on degraded metadata"))
	}
	enricher := tmdb.NewEnricher(fetcher, a.cache, time.Duration(cfg.Cache.TTLMinutes)*time.Minute, logger)

	notifier := notifications.NewService(cfg)
	opts := []classification.Option{
		classification.WithNotifier(notifier),
		classification.WithLogger(logger),
	}
	if len(cfg.Routers) > 0 {
		a.router = arr.NewRouter(cfg.Routers, logger)
		opts = append(opts, classification.WithRouter(a.router))
	}
	var ai *llm.Client
	if llmCfg := cfg.GetLLM(); llmCfg.APIKey != "" {
		ai = llm.NewClientFrom(llmCfg)
		opts = append(opts, classification.WithAI(ai))
	}
	history := classification.NewStore(a.db)
	a.Engine = classification.NewEngine(libraries, history, enricher, opts...)

	orchestrator := batch.NewOrchestrator(batch.NewStore(a.db), a.Engine,
		batch.WithNotifier(notifier),
		batch.WithLogger(logger),
		batch.WithDefaultPauseOnError(cfg.Batch.PauseOnError))

	a.Queue = queue.NewStore(a.db, queue.WithDefaultMaxAttempts(cfg.Queue.DefaultMaxAttempts))
	a.Worker = worker.NewFromConfig(cfg, a.Queue, worker.WithNotifier(notifier), worker.WithLogger(logger))
	a.Worker.Register(worker.TaskClassify, worker.ClassifyHandler(a.Engine))
	a.Worker.Register(worker.TaskExecuteBatch, worker.BatchHandler(orchestrator))

	sched := scheduler.New(logger)
	if ai != nil {
		if err := sched.AddHealthProbe(time.Duration(cfg.Worker.HealthProbeInterval)*time.Second, ai, a.Worker.State()); err != nil {
			return nil, err
		}
	}
	if err := sched.AddRetention(cfg.Queue.PurgeSchedule, cfg.Queue.RetentionDays, a.Queue); err != nil {
		return nil, err
	}
	if err := sched.AddQueueGauge(queueGaugeInterval, a.Queue); err != nil {
		return nil, err
	}

	libs, err := libraries.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list libraries: %w", err)
	}
	a.Daemon, err = daemon.New(cfg, daemon.Components{
		Queue:     a.Queue,
		Records:   history,
		Engine:    a.Engine,
		Batches:   orchestrator,
		Worker:    a.Worker,
		Scheduler: sched,
		Database:  cfg.Database.Driver,
		Libraries: len(libs),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create daemon: %w", err)
	}

	logger.Info("components ready",
		logging.String(logging.FieldEventType, "components_ready"),
		logging.String("database", cfg.Database.Driver),
		logging.Int("libraries", len(libs)),
		logging.Int("routers", len(cfg.Routers)),
		logging.Bool("tmdb_key_present", fetcher != nil),
		logging.Bool("ai_enabled", ai != nil),
		logging.String("cache", cfg.Cache.Backend))
	return a, nil
}

// Close stops the daemon and releases the store, cache and router clients.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Daemon != nil {
		a.Daemon.Stop()
	}
	if a.router != nil {
		if err := a.router.Close(); err != nil {
			a.logger.Debug("close routers", logging.Error(err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Debug("close cache", logging.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("close database", logging.Error(err))
		}
	}
}
