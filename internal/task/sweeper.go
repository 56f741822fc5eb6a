package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/jobfit-api/internal/domain"
	"github.com/phrazzld/jobfit-api/internal/lock"
	"github.com/phrazzld/jobfit-api/internal/queue"
	"github.com/phrazzld/jobfit-api/internal/redact"
	"github.com/phrazzld/jobfit-api/internal/store"
)

// SweeperConfig holds configuration for the Sweeper.
type SweeperConfig struct {
	// RecoveryAge is how long a task may sit in queued before it is assumed
	// to have no queue entry and is enqueued again.
	RecoveryAge time.Duration

	// StuckTaskAge defines how long a task can be in processing state
	// before it's considered stuck and failed.
	StuckTaskAge time.Duration

	// CheckInterval defines how often to run both checks.
	// If zero, defaults to 1 minute
	CheckInterval time.Duration

	// BatchSize limits how many tasks one check touches.
	BatchSize int

	// LeaseTTL is held while a stuck task is failed.
	LeaseTTL time.Duration
}

// DefaultSweeperConfig returns a SweeperConfig with reasonable defaults.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		RecoveryAge:   time.Minute,
		StuckTaskAge:  10 * time.Minute,
		CheckInterval: time.Minute,
		BatchSize:     100,
		LeaseTTL:      30 * time.Second,
	}
}

// Sweeper re-enqueues orphaned queued tasks and fails tasks stuck in
// processing with no live lease.
type Sweeper struct {
	store    store.TaskStore
	enqueuer queue.Enqueuer
	locker   lock.Locker
	config   SweeperConfig
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a new Sweeper.
func NewSweeper(
	taskStore store.TaskStore,
	enqueuer queue.Enqueuer,
	locker lock.Locker,
	config SweeperConfig,
	log *slog.Logger,
) (*Sweeper, error) {
	if taskStore == nil {
		return nil, ErrNilStore
	}
	if enqueuer == nil {
		return nil, errors.New("enqueuer cannot be nil")
	}
	if locker == nil {
		return nil, ErrNilLocker
	}
	if log == nil {
		return nil, ErrNilLogger
	}

	defaults := DefaultSweeperConfig()
	if config.CheckInterval <= 0 {
		config.CheckInterval = defaults.CheckInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.LeaseTTL <= 0 {
		config.LeaseTTL = defaults.LeaseTTL
	}

	return &Sweeper{
		store:    taskStore,
		enqueuer: enqueuer,
		locker:   locker,
		config:   config,
		logger:   log.With(slog.String("component", "task_sweeper")),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Start runs a recovery pass, then checks periodically until Stop.
func (s *Sweeper) Start(ctx context.Context) error {
	if _, err := s.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover tasks: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("sweeper already started")
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	s.wg.Add(1)
	go s.monitor(runCtx)
	return nil
}

// Stop ends the periodic checks and waits for the current one to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Sweeper) monitor(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Recover(ctx); err != nil {
				s.logger.Error("recovery check failed", slog.String("error", redact.Error(err)))
			}
			if _, err := s.FailStuck(ctx); err != nil {
				s.logger.Error("stuck task check failed", slog.String("error", redact.Error(err)))
			}
		}
	}
}

// Recover enqueues tasks that have been queued for longer than RecoveryAge.
// It returns how many were enqueued. Tasks the queue still holds are
// skipped.
func (s *Sweeper) Recover(ctx context.Context) (int, error) {
	orphans, err := s.store.FindByStatus(ctx, domain.TaskStatusQueued,
		s.now().Add(-s.config.RecoveryAge), s.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to find queued tasks: %w", err)
	}

	recovered := 0
	for _, t := range orphans {
		err := s.enqueuer.Enqueue(ctx, t.ID)
		switch {
		case err == nil:
			recovered++
			s.logger.Info("re-enqueued orphaned task", slog.String("task_id", t.ID.String()))
		case errors.Is(err, queue.ErrAlreadyQueued):
		default:
			s.logger.Error("failed to re-enqueue task",
				slog.String("task_id", t.ID.String()),
				slog.String("error", redact.Error(err)))
		}
	}

	if len(orphans) > 0 {
		s.logger.Info("recovery check finished",
			slog.Int("queued_count", len(orphans)),
			slog.Int("recovered_count", recovered))
	}
	return recovered, nil
}

// FailStuck moves tasks that have been processing for longer than
// StuckTaskAge to failed, skipping any task whose lease is still held.
func (s *Sweeper) FailStuck(ctx context.Context) (int, error) {
	if s.config.StuckTaskAge <= 0 {
		return 0, nil
	}

	stuck, err := s.store.FindByStatus(ctx, domain.TaskStatusProcessing,
		s.now().Add(-s.config.StuckTaskAge), s.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to find processing tasks: %w", err)
	}

	failed := 0
	for _, t := range stuck {
		ok, err := s.failStuckTask(ctx, t)
		if err != nil {
			s.logger.Error("failed to fail stuck task",
				slog.String("task_id", t.ID.String()),
				slog.String("error", redact.Error(err)))
			continue
		}
		if ok {
			failed++
		}
	}

	if len(stuck) > 0 {
		s.logger.Info("found stuck tasks",
			slog.Int("count", len(stuck)),
			slog.Int("failed_count", failed))
	}
	return failed, nil
}

func (s *Sweeper) failStuckTask(ctx context.Context, t *domain.Task) (bool, error) {
	release, err := s.locker.Acquire(ctx, lock.TaskKey(t.ID), s.config.LeaseTTL)
	if errors.Is(err, lock.ErrNotAcquired) {
		// A worker is still on it.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer func() { _ = release(context.WithoutCancel(ctx)) }()

	processing := domain.TaskStatusProcessing
	if err := t.Fail("analysis timed out in processing", s.now()); err != nil {
		return false, err
	}
	_, err = s.store.Update(ctx, t.ID, store.TaskPatch{
		ExpectStatus: &processing,
		Status:       &t.Status,
		LastError:    &t.LastError,
		CompletedAt:  t.CompletedAt,
	})
	if errors.Is(err, store.ErrStatusConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.logger.Warn("failed stuck task", slog.String("task_id", t.ID.String()))
	return true, nil
}
