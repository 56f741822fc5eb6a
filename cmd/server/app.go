package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/phrazzld/jobfit-api/internal/config"
	"github.com/phrazzld/jobfit-api/internal/generation"
	"github.com/phrazzld/jobfit-api/internal/lock"
	"github.com/phrazzld/jobfit-api/internal/platform/gemini"
	"github.com/phrazzld/jobfit-api/internal/queue"
	"github.com/phrazzld/jobfit-api/internal/service"
	"github.com/phrazzld/jobfit-api/internal/store"
	"github.com/phrazzld/jobfit-api/internal/task"
	"github.com/redis/go-redis/v9"
)

// lockPrefix namespaces lease and cover letter keys in Redis.
const lockPrefix = "jobfit:lock:"

// appDependencies holds all the dependencies needed to set up the application.
type appDependencies struct {
	Config   *config.Config
	Logger   *slog.Logger
	DB       *sql.DB
	Store    store.TaskStore
	Queue    queue.Queue
	Locker   lock.Locker
	Analyzer generation.Analyzer
	Redis    redis.UniversalClient
}

// application holds the wired components for one process. Which of them run
// depends on config.Server.Mode.
type application struct {
	config      *config.Config
	logger      *slog.Logger
	db          *sql.DB
	redis       redis.UniversalClient
	queue       queue.Queue
	taskService service.TaskService
	processor   *task.Processor
	sweeper     *task.Sweeper
}

// newApplication builds every external dependency from cfg and wires the
// application.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	if cfg.Queue.Backend == "memory" && cfg.Server.Mode != config.ModeAll {
		return nil, fmt.Errorf("queue backend %q requires server mode %q", cfg.Queue.Backend, config.ModeAll)
	}

	taskStore, db, err := newTaskStore(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	deps := &appDependencies{
		Config: cfg,
		Logger: logger,
		DB:     db,
		Store:  taskStore,
	}

	if cfg.Queue.Backend == "redis" {
		deps.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := deps.Redis.Ping(ctx).Err(); err != nil {
			_ = deps.Redis.Close()
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		redisOpt := asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}
		deps.Queue = queue.NewAsynqQueue(redisOpt, queueConfig(cfg.Queue), logger)
		deps.Locker = lock.NewRedisLocker(deps.Redis, lockPrefix)
	} else {
		deps.Queue = queue.NewMemoryQueue(queueConfig(cfg.Queue), logger)
		deps.Locker = lock.NewMemoryLocker()
	}

	analyzer, err := gemini.NewAnalyzer(ctx, logger, cfg.LLM)
	if err != nil {
		closeDependencies(deps)
		return nil, fmt.Errorf("failed to create analyzer: %w", err)
	}
	deps.Analyzer = analyzer

	app, err := setupApplication(deps)
	if err != nil {
		closeDependencies(deps)
		return nil, err
	}
	return app, nil
}

// setupApplication wires services from already constructed dependencies.
func setupApplication(deps *appDependencies) (*application, error) {
	cfg := deps.Config

	taskService, err := service.NewTaskService(
		deps.Store,
		deps.Queue,
		deps.Analyzer,
		deps.Locker,
		service.CoverLetterConfig{
			ResumePrefixChars:         cfg.CoverLetter.ResumePrefixChars,
			JobDescriptionPrefixChars: cfg.CoverLetter.JobDescriptionPrefixChars,
			LockWait:                  cfg.CoverLetter.LockWait,
			LockTTL:                   cfg.Lease.TTL,
		},
		deps.Logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create task service: %w", err)
	}

	processor, err := task.NewProcessor(
		deps.Store,
		deps.Analyzer,
		deps.Locker,
		task.ProcessorConfig{
			LeaseTTL:               cfg.Lease.TTL,
			MarkFailedOnExhaustion: cfg.Queue.MarkFailedOnExhaustion,
		},
		deps.Logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create task processor: %w", err)
	}

	sweeper, err := task.NewSweeper(
		deps.Store,
		deps.Queue,
		deps.Locker,
		task.SweeperConfig{
			RecoveryAge:   cfg.Queue.RecoveryAge,
			StuckTaskAge:  stuckTaskAge(cfg.Queue),
			CheckInterval: cfg.Queue.StuckTaskCheckInterval,
			LeaseTTL:      cfg.Lease.TTL,
		},
		deps.Logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create task sweeper: %w", err)
	}

	return &application{
		config:      cfg,
		logger:      deps.Logger,
		db:          deps.DB,
		redis:       deps.Redis,
		queue:       deps.Queue,
		taskService: taskService,
		processor:   processor,
		sweeper:     sweeper,
	}, nil
}

// stuckTaskAge disables the stuck task sweep when abandoned tasks are meant
// to stay in processing.
func stuckTaskAge(cfg config.QueueConfig) time.Duration {
	if !cfg.MarkFailedOnExhaustion {
		return 0
	}
	return cfg.StuckTaskAge
}

func queueConfig(cfg config.QueueConfig) queue.Config {
	return queue.Config{
		Name:            cfg.Name,
		MaxAttempts:     cfg.MaxAttempts,
		BaseDelay:       cfg.BaseDelay,
		Concurrency:     cfg.Concurrency,
		DeliveryTimeout: cfg.DeliveryTimeout,
	}
}

func (app *application) runsWorker() bool {
	return app.config.Server.Mode == config.ModeWorker || app.config.Server.Mode == config.ModeAll
}

func (app *application) runsAPI() bool {
	return app.config.Server.Mode == config.ModeAPI || app.config.Server.Mode == config.ModeAll
}

// run starts the configured halves and blocks until ctx is cancelled or the
// HTTP server fails. Everything is drained and closed before it returns.
func (app *application) run(ctx context.Context) error {
	defer app.cleanup()

	if app.runsWorker() {
		if err := app.queue.Start(app.processor, app.processor.HandleExhausted); err != nil {
			return fmt.Errorf("failed to start queue consumer: %w", err)
		}
		if err := app.sweeper.Start(ctx); err != nil {
			return fmt.Errorf("failed to start task sweeper: %w", err)
		}
		app.logger.Info("worker started",
			slog.Int("concurrency", app.config.Queue.Concurrency),
			slog.Int("max_attempts", app.config.Queue.MaxAttempts))
	}

	if app.runsAPI() {
		return app.startHTTPServer(ctx, app.setupRouter())
	}

	<-ctx.Done()
	app.logger.Info("shutdown signal received")
	return nil
}

// cleanup stops consumers first so in-flight deliveries can still reach the
// store, then closes connections.
func (app *application) cleanup() {
	if app.sweeper != nil {
		app.sweeper.Stop()
	}
	if app.queue != nil {
		app.queue.Shutdown()
	}
	closeDependencies(&appDependencies{
		Logger: app.logger,
		DB:     app.db,
		Queue:  app.queue,
		Redis:  app.redis,
	})
}

func closeDependencies(deps *appDependencies) {
	var errs []error
	if deps.Queue != nil {
		errs = append(errs, deps.Queue.Close())
	}
	if deps.Redis != nil {
		errs = append(errs, deps.Redis.Close())
	}
	if deps.DB != nil {
		errs = append(errs, deps.DB.Close())
	}
	if err := errors.Join(errs...); err != nil && deps.Logger != nil {
		deps.Logger.Error("failed to close dependencies", slog.String("error", err.Error()))
	}
}
