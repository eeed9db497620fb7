package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/phrazzld/adlens/internal/api"
	"github.com/phrazzld/adlens/internal/api/middleware"
	"github.com/phrazzld/adlens/internal/config"
	"github.com/phrazzld/adlens/internal/events"
	"github.com/phrazzld/adlens/internal/pipeline"
	"github.com/phrazzld/adlens/internal/platform/adsource"
	"github.com/phrazzld/adlens/internal/platform/gemini"
	"github.com/phrazzld/adlens/internal/platform/media"
	"github.com/phrazzld/adlens/internal/platform/postgres"
	"github.com/phrazzld/adlens/internal/service/auth"
	"github.com/phrazzld/adlens/internal/task"
)

// application holds the process-wide dependencies and releases them on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	pool      *task.WorkerPool
	publisher *events.NATSPublisher
	manager   *task.Manager
	router    http.Handler
}

// newApplication wires stores, collaborators, the pipeline engine and the
// job manager, then fails any job orphaned by a previous process.
func newApplication(ctx context.Context, cfg *config.Config, log *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{config: cfg, logger: log}

	tokens, err := auth.NewTokenService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}

	emitter := events.NewInMemoryEventEmitter(log)
	if cfg.Events.NATSURL != "" {
		app.publisher, err = events.ConnectNATS(cfg.Events.NATSURL, cfg.Events.SubjectPrefix)
		if err != nil {
			return nil, err
		}
		emitter.RegisterHandler("nats", app.publisher)
		log.Info("publishing job events to NATS", "subject_prefix", cfg.Events.SubjectPrefix)
	}

	app.pool = task.NewWorkerPool(task.WorkerPoolConfig{
		WorkerCount: cfg.Pipeline.Workers,
		QueueSize:   cfg.Pipeline.Workers * 16,
	}, log)
	app.pool.Start()

	engine, err := newEngine(ctx, cfg, log, app.pool)
	if err != nil {
		app.cleanup()
		return nil, err
	}

	app.manager = task.NewManager(
		postgres.NewPostgresJobStore(db),
		engine,
		managerConfig(cfg.Jobs),
		log,
		task.WithResultStore(postgres.NewPostgresResultStore(db)),
		task.WithEventEmitter(emitter),
	)

	orphaned, err := app.manager.Reconcile(ctx)
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to reconcile interrupted jobs: %w", err)
	}
	if orphaned > 0 {
		log.Warn("marked interrupted jobs as failed", "count", orphaned)
	}

	app.router = api.NewRouter(api.RouterConfig{
		Jobs:           app.manager,
		Auth:           middleware.NewAuthMiddleware(tokens),
		Logger:         log,
		RequestTimeout: 30 * time.Second,
	})

	// The caller closes db if initialization fails before this point.
	app.db = db
	log.Info("application initialized")
	return app, nil
}

func newEngine(
	ctx context.Context,
	cfg *config.Config,
	log *slog.Logger,
	pool *task.WorkerPool,
) (*pipeline.Engine, error) {
	llm, err := gemini.NewClient(ctx, cfg.LLM, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize gemini client: %w", err)
	}

	source, err := adsource.NewClient(cfg.AdSource, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ad source client: %w", err)
	}

	engine, err := pipeline.NewEngine(pipeline.Collaborators{
		Lister:      source,
		Resolver:    source,
		Acquirer:    media.NewHTTPAcquirer(cfg.Media.DownloadTimeout, cfg.Media.MaxDownloadBytes, log),
		Transcriber: gemini.NewTranscriber(llm),
		Extractor:   media.NewFrameExtractor(cfg.Media.FFmpegPath, cfg.Pipeline.FrameWidth, pool, log),
		Text:        gemini.NewTextAnalyzer(llm),
		Visual:      gemini.NewVisualAnalyzer(llm),
	}, pipeline.Config{
		WorkDir:            cfg.Media.WorkDir,
		MaxFrames:          cfg.Pipeline.MaxFrames,
		ConcurrentBranches: cfg.Pipeline.ConcurrentBranches,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}
	return engine, nil
}

func managerConfig(cfg config.JobsConfig) task.ManagerConfig {
	mc := task.DefaultManagerConfig()
	mc.Race = task.RaceConfig{PollInterval: cfg.PollInterval, Grace: cfg.CancelGrace}
	mc.Retry = task.RetryPolicy{
		Timeout:    cfg.StoreTimeout,
		MaxRetries: cfg.StoreMaxRetries,
		Delay:      cfg.StoreRetryDelay,
	}
	mc.Progress = task.ProgressConfig{
		Min:            cfg.ProgressMin,
		Max:            cfg.ProgressMax,
		SecondsPerItem: cfg.SecondsPerItem,
	}
	mc.CleanupProbability = cfg.CleanupProbability
	mc.CleanupMaxAge = cfg.CleanupMaxAge
	return mc
}

// cleanup releases resources in reverse order of acquisition.
func (app *application) cleanup() {
	if app.pool != nil {
		app.pool.Stop()
	}
	if app.publisher != nil {
		app.publisher.Close()
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
	}
	app.logger.Info("application shutdown completed")
}
