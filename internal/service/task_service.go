package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/jobfit-api/internal/domain"
	"github.com/phrazzld/jobfit-api/internal/generation"
	"github.com/phrazzld/jobfit-api/internal/lock"
	"github.com/phrazzld/jobfit-api/internal/platform/logger"
	"github.com/phrazzld/jobfit-api/internal/queue"
	"github.com/phrazzld/jobfit-api/internal/redact"
	"github.com/phrazzld/jobfit-api/internal/store"
)

// TaskService provides analysis task operations.
type TaskService interface {
	// SubmitAnalysis creates a queued task and enqueues it for processing.
	SubmitAnalysis(ctx context.Context, resumeText, jobDescription string) (*domain.Task, error)

	// GetTask retrieves a task by its ID.
	GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// GenerateCoverLetter returns the task's cover letter, generating it
	// first unless it is already done.
	GenerateCoverLetter(ctx context.Context, id uuid.UUID) (*CoverLetter, error)
}

// CoverLetter is the result of GenerateCoverLetter.
type CoverLetter struct {
	Text string
	// Cached is true when no remote call was made.
	Cached bool
}

// CoverLetterConfig controls on-demand cover letter generation.
type CoverLetterConfig struct {
	// ResumePrefixChars and JobDescriptionPrefixChars bound the text sent
	// to the model.
	ResumePrefixChars         int
	JobDescriptionPrefixChars int

	// LockWait is how long a request waits for a concurrent generation of
	// the same cover letter.
	LockWait time.Duration

	// LockTTL bounds how long one generation holds the lock.
	LockTTL time.Duration
}

// DefaultCoverLetterConfig returns a CoverLetterConfig with reasonable defaults.
func DefaultCoverLetterConfig() CoverLetterConfig {
	return CoverLetterConfig{
		ResumePrefixChars:         3000,
		JobDescriptionPrefixChars: 2000,
		LockWait:                  30 * time.Second,
		LockTTL:                   2 * time.Minute,
	}
}

// taskServiceImpl implements the TaskService interface
type taskServiceImpl struct {
	store    store.TaskStore
	enqueuer queue.Enqueuer
	analyzer generation.Analyzer
	locker   lock.Locker
	config   CoverLetterConfig
	logger   *slog.Logger
	lockPoll time.Duration
}

// NewTaskService creates a new TaskService.
// It returns an error if any of the required dependencies are nil.
func NewTaskService(
	taskStore store.TaskStore,
	enqueuer queue.Enqueuer,
	analyzer generation.Analyzer,
	locker lock.Locker,
	config CoverLetterConfig,
	log *slog.Logger,
) (TaskService, error) {
	if taskStore == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "taskStore cannot be nil"}
	}
	if enqueuer == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "enqueuer cannot be nil"}
	}
	if analyzer == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "analyzer cannot be nil"}
	}
	if locker == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "locker cannot be nil"}
	}

	// Use provided logger or create default
	if log == nil {
		log = slog.Default()
	}

	defaults := DefaultCoverLetterConfig()
	if config.ResumePrefixChars <= 0 {
		config.ResumePrefixChars = defaults.ResumePrefixChars
	}
	if config.JobDescriptionPrefixChars <= 0 {
		config.JobDescriptionPrefixChars = defaults.JobDescriptionPrefixChars
	}
	if config.LockWait < 0 {
		config.LockWait = 0
	}
	if config.LockTTL <= 0 {
		config.LockTTL = defaults.LockTTL
	}

	return &taskServiceImpl{
		store:    taskStore,
		enqueuer: enqueuer,
		analyzer: analyzer,
		locker:   locker,
		config:   config,
		logger:   log.With(slog.String("component", "task_service")),
		lockPoll: 100 * time.Millisecond,
	}, nil
}

// SubmitAnalysis persists the task before enqueueing it. When the enqueue
// fails the task stays queued and the error is only logged; the worker's
// recovery sweep enqueues it later.
func (s *taskServiceImpl) SubmitAnalysis(
	ctx context.Context,
	resumeText, jobDescription string,
) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	task, err := domain.NewTask(resumeText, jobDescription)
	if err != nil {
		log.Debug("rejected analysis submission", slog.String("error", err.Error()))
		return nil, NewServiceError("submit_analysis", "invalid task input", err)
	}

	if err := s.store.Create(ctx, task); err != nil {
		log.Error("failed to save task",
			slog.String("task_id", task.ID.String()),
			slog.String("error", redact.Error(err)))
		return nil, NewServiceError("submit_analysis", "failed to save task", err)
	}

	if err := s.enqueuer.Enqueue(ctx, task.ID); err != nil {
		log.Warn("failed to enqueue task, left for recovery",
			slog.String("task_id", task.ID.String()),
			slog.String("error", redact.Error(err)))
	} else {
		log.Info("task queued", slog.String("task_id", task.ID.String()))
	}

	return task, nil
}

// GetTask retrieves a task by its ID.
func (s *taskServiceImpl) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	task, err := s.store.GetByID(ctx, id)
	if err != nil {
		if !store.IsNotFoundError(err) {
			logger.FromContextOrDefault(ctx, s.logger).Error("failed to load task",
				slog.String("task_id", id.String()),
				slog.String("error", redact.Error(err)))
		}
		return nil, NewServiceError("get_task", "failed to load task", err)
	}
	return task, nil
}

// GenerateCoverLetter serves the cached letter when it is done. Otherwise it
// takes the per-task lock, marks the letter pending and calls the analyzer
// with truncated inputs. A failure leaves the status pending so the next
// request retries.
func (s *taskServiceImpl) GenerateCoverLetter(ctx context.Context, id uuid.UUID) (*CoverLetter, error) {
	log := logger.FromContextOrDefault(ctx, s.logger).With(slog.String("task_id", id.String()))

	task, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.CoverLetterStatus == domain.CoverLetterStatusDone {
		return &CoverLetter{Text: task.CoverLetter, Cached: true}, nil
	}

	release, err := lock.AcquireWait(ctx, s.locker, lock.CoverLetterKey(id),
		s.config.LockTTL, s.config.LockWait, s.lockPoll)
	if err != nil {
		if !errors.Is(err, lock.ErrNotAcquired) {
			log.Error("failed to acquire cover letter lock", slog.String("error", redact.Error(err)))
		}
		return nil, NewServiceError("generate_cover_letter", "failed to acquire lock", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("failed to release cover letter lock", slog.String("error", err.Error()))
		}
	}()

	// Another request may have finished while we waited.
	task, err = s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.CoverLetterStatus == domain.CoverLetterStatusDone {
		return &CoverLetter{Text: task.CoverLetter, Cached: true}, nil
	}

	pending := domain.CoverLetterStatusPending
	if _, err := s.store.Update(ctx, id, store.TaskPatch{CoverLetterStatus: &pending}); err != nil {
		log.Error("failed to mark cover letter pending", slog.String("error", redact.Error(err)))
		return nil, NewServiceError("generate_cover_letter", "failed to update task", err)
	}

	combined := generation.CombineInputs(
		generation.Truncate(task.ResumeText, s.config.ResumePrefixChars),
		generation.Truncate(task.JobDescription, s.config.JobDescriptionPrefixChars),
	)
	analysis, err := s.analyzer.Analyze(ctx, combined, generation.ModeCoverLetter)
	if err != nil {
		log.Warn("cover letter generation failed", slog.String("error", redact.Error(err)))
		return nil, NewServiceError("generate_cover_letter", "generation failed", err)
	}

	done := domain.CoverLetterStatusDone
	if _, err := s.store.Update(ctx, id, store.TaskPatch{
		CoverLetter:       &analysis.CoverLetter,
		CoverLetterStatus: &done,
	}); err != nil {
		log.Error("failed to store cover letter", slog.String("error", redact.Error(err)))
		return nil, NewServiceError("generate_cover_letter", "failed to store cover letter", err)
	}

	log.Info("cover letter generated")
	return &CoverLetter{Text: analysis.CoverLetter}, nil
}
