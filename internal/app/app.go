package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"pickscanner/internal/analyzer"
	"pickscanner/internal/cache"
	"pickscanner/internal/config"
	"pickscanner/internal/infrastructure/forum"
	"pickscanner/internal/infrastructure/llm"
	"pickscanner/internal/infrastructure/scheduler"
	"pickscanner/internal/infrastructure/storage"
	"pickscanner/internal/logging"
	"pickscanner/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg         config.Config
	logger      *slog.Logger
	db          *sql.DB
	repository  *storage.PostgresRepository
	store       *cache.Store
	coordinator *usecase.Coordinator
	scheduler   *scheduler.IntervalScheduler
}

// New builds a runnable application instance.
func New(cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	repository := storage.NewPostgresRepository(db)

	store := cache.New(map[string]time.Duration{
		cache.NamespaceAnalysisBatch: cfg.Cache.BatchTTL(),
		cache.NamespaceCurrentPicks:  cfg.Cache.ResponseTTL(),
		cache.NamespaceStats:         cfg.Cache.ResponseTTL(),
		cache.NamespaceHistory:       cfg.Cache.ResponseTTL(),
		cache.NamespaceScanDetail:    cfg.Cache.ResponseTTL(),
	}, cfg.Cache.ResponseTTL(), baseLogger.With("component", "cache"))

	source := forum.NewThreadScanner(cfg.Forum.ThreadURL, cfg.Forum.UserAgent, nil)
	client := llm.NewAnalysisClient(cfg.Analysis)

	batches := analyzer.New(client, store, analyzer.Options{
		BatchSize:         cfg.Analyzer.BatchSize,
		BatchDelay:        cfg.Analyzer.BatchDelay(),
		DefaultConfidence: cfg.Analyzer.DefaultConfidence,
		BatchTTL:          cfg.Cache.BatchTTL(),
	}, baseLogger.With("component", "analyzer"))

	coordinator := usecase.NewCoordinator(usecase.CoordinatorDeps{
		Source:     source,
		Analyzer:   batches,
		Repository: repository,
		Cache:      store,
		Logger:     baseLogger.With("component", "coordinator"),
	})

	return &Application{
		cfg:         cfg,
		logger:      baseLogger,
		db:          db,
		repository:  repository,
		store:       store,
		coordinator: coordinator,
		scheduler:   scheduler.NewIntervalScheduler(cfg.Scheduler.Interval()),
	}, nil
}

// Run migrates the schema, warms the response caches, starts the
// scheduled trigger and blocks until the context is cancelled.
func (a *Application) Run(ctx context.Context) error {
	if err := a.repository.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}

	a.store.Warm(ctx, a.warmProviders())

	job := func(time.Time) {
		result := a.coordinator.RunScan(ctx)
		if result.Busy {
			a.logger.Info("scheduled scan skipped, run in progress")
		}
	}
	if err := a.scheduler.Start(ctx, job); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	<-ctx.Done()

	if err := a.scheduler.Stop(context.Background()); err != nil {
		a.logger.Warn("scheduler stop failed", "error", err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("database close failed", "error", err)
	}
	return nil
}

// TriggerScan is the manual entry point; it shares the coordinator's
// single-flight guard with the scheduled trigger.
func (a *Application) TriggerScan(ctx context.Context) {
	a.coordinator.RunScan(ctx)
}

func (a *Application) warmProviders() []cache.WarmProvider {
	return []cache.WarmProvider{
		{
			Namespace: cache.NamespaceCurrentPicks,
			Key:       "latest",
			Load: func(ctx context.Context) (any, error) {
				run, err := a.repository.GetCurrent(ctx)
				if err != nil {
					return nil, err
				}
				if run == nil {
					return nil, fmt.Errorf("no current scan yet")
				}
				picks, err := a.repository.GetItemsByScan(ctx, run.ID)
				if err != nil {
					return nil, err
				}
				return picks, nil
			},
		},
		{
			Namespace: cache.NamespaceHistory,
			Key:       "recent",
			Load: func(ctx context.Context) (any, error) {
				return a.repository.GetHistory(ctx, 30)
			},
		},
	}
}
