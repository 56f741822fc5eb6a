package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/jobfit-api/internal/domain"
	"github.com/phrazzld/jobfit-api/internal/generation"
	"github.com/phrazzld/jobfit-api/internal/lock"
	"github.com/phrazzld/jobfit-api/internal/platform/logger"
	"github.com/phrazzld/jobfit-api/internal/queue"
	"github.com/phrazzld/jobfit-api/internal/redact"
	"github.com/phrazzld/jobfit-api/internal/store"
)

// Common errors
var (
	ErrNilStore    = errors.New("task store cannot be nil")
	ErrNilAnalyzer = errors.New("analyzer cannot be nil")
	ErrNilLocker   = errors.New("locker cannot be nil")
	ErrNilLogger   = errors.New("logger cannot be nil")
)

// ProcessorConfig holds configuration for the Processor.
type ProcessorConfig struct {
	// LeaseTTL bounds how long one delivery may hold a task before another
	// worker can take it over.
	LeaseTTL time.Duration

	// MarkFailedOnExhaustion moves abandoned tasks to failed. When false the
	// record is left in processing.
	MarkFailedOnExhaustion bool
}

// DefaultProcessorConfig returns a ProcessorConfig with reasonable defaults.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		LeaseTTL:               2 * time.Minute,
		MarkFailedOnExhaustion: true,
	}
}

// Processor drives one task through the lifecycle for each delivery.
type Processor struct {
	store    store.TaskStore
	analyzer generation.Analyzer
	locker   lock.Locker
	config   ProcessorConfig
	logger   *slog.Logger
	now      func() time.Time
}

var _ queue.Handler = (*Processor)(nil)

// NewProcessor creates a new Processor.
func NewProcessor(
	taskStore store.TaskStore,
	analyzer generation.Analyzer,
	locker lock.Locker,
	config ProcessorConfig,
	log *slog.Logger,
) (*Processor, error) {
	if taskStore == nil {
		return nil, ErrNilStore
	}
	if analyzer == nil {
		return nil, ErrNilAnalyzer
	}
	if locker == nil {
		return nil, ErrNilLocker
	}
	if log == nil {
		return nil, ErrNilLogger
	}
	if config.LeaseTTL <= 0 {
		config.LeaseTTL = DefaultProcessorConfig().LeaseTTL
	}

	return &Processor{
		store:    taskStore,
		analyzer: analyzer,
		locker:   locker,
		config:   config,
		logger:   log.With(slog.String("component", "analysis_processor")),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Handle implements queue.Handler.
func (p *Processor) Handle(ctx context.Context, d queue.Delivery) queue.Result {
	log := logger.FromContextOrDefault(ctx, p.logger).With(
		slog.String("task_id", d.TaskID.String()),
		slog.Int("attempt", d.Attempt),
		slog.Int("max_attempts", d.MaxAttempts),
	)
	ctx = logger.WithLogger(ctx, log)

	release, err := p.locker.Acquire(ctx, lock.TaskKey(d.TaskID), p.config.LeaseTTL)
	if errors.Is(err, lock.ErrNotAcquired) {
		// Another delivery holds the task, or a crashed one left its lease to
		// expire. Either way this attempt has not started.
		log.Info("task lease held elsewhere, deferring", slog.Duration("retry_in", p.config.LeaseTTL))
		return queue.Deferred(p.config.LeaseTTL, fmt.Errorf("acquire task lease: %w", err))
	}
	if err != nil {
		log.Warn("task lease unavailable", slog.String("error", redact.Error(err)))
		return queue.Retryable(fmt.Errorf("acquire task lease: %w", err))
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("failed to release task lease", slog.String("error", err.Error()))
		}
	}()

	task, err := p.store.GetByID(ctx, d.TaskID)
	if err != nil {
		log.Error("failed to load task", slog.String("error", redact.Error(err)))
		return queue.Retryable(fmt.Errorf("load task: %w", err))
	}

	if task.Status == domain.TaskStatusFailed {
		log.Info("task already failed, dropping delivery")
		return queue.Success()
	}

	// The record must say processing before the remote call starts.
	previous := task.Status
	if err := task.StartAttempt(p.now()); err != nil {
		log.Error("cannot start attempt", slog.String("error", err.Error()))
		return queue.Fatal(err)
	}
	status, attempts := task.Status, task.Attempts
	task, err = p.store.Update(ctx, task.ID, store.TaskPatch{
		ExpectStatus: &previous,
		Status:       &status,
		Attempts:     &attempts,
		StartedAt:    task.StartedAt,
	})
	if err != nil {
		log.Error("failed to mark task processing", slog.String("error", redact.Error(err)))
		return queue.Retryable(fmt.Errorf("mark task processing: %w", err))
	}

	log.Info("processing task", slog.String("status", string(task.Status)))

	analysis, err := p.analyzer.Analyze(ctx,
		generation.CombineInputs(task.ResumeText, task.JobDescription), generation.ModeMatch)
	if err != nil {
		p.recordError(ctx, task, err)
		if generation.IsPermanent(err) {
			log.Error("analysis failed permanently", slog.String("error", redact.Error(err)))
			return queue.Fatal(err)
		}
		log.Warn("analysis failed", slog.String("error", redact.Error(err)))
		return queue.Retryable(err)
	}

	before := task.Status
	result := domain.AnalysisResult{
		MatchScore:            analysis.MatchScore,
		WeakSkills:            analysis.WeakSkills,
		SuggestedImprovements: analysis.SuggestedImprovements,
		SuggestedCourses:      analysis.SuggestedCourses,
	}
	if err := task.Complete(result, analysis.CoverLetter, p.now()); err != nil {
		err = fmt.Errorf("%w: %w", generation.ErrInvalidResponse, err)
		p.recordError(ctx, task, err)
		log.Warn("analysis result rejected", slog.String("error", err.Error()))
		return queue.Retryable(err)
	}

	done := domain.TaskStatusDone
	noError := ""
	if _, err := p.store.Update(ctx, task.ID, store.TaskPatch{
		ExpectStatus: &before,
		Status:       &done,
		Result:       task.Result,
		LastError:    &noError,
		CompletedAt:  task.CompletedAt,

		// A cover letter generated on demand outlives re-analysis, including
		// one generated while this analysis was running.
		CoverLetterUnlessDone: &task.CoverLetter,
	}); err != nil {
		log.Error("failed to store analysis result", slog.String("error", redact.Error(err)))
		return queue.Retryable(fmt.Errorf("store analysis result: %w", err))
	}

	log.Info("task completed", slog.Int("match_score", result.MatchScore))
	return queue.Success()
}

// recordError saves a redacted copy of err on the task. Failure to do so is
// only logged; the delivery outcome does not depend on it.
func (p *Processor) recordError(ctx context.Context, task *domain.Task, cause error) {
	msg := redact.Error(cause)
	if _, err := p.store.Update(ctx, task.ID, store.TaskPatch{LastError: &msg}); err != nil {
		logger.FromContextOrDefault(ctx, p.logger).Warn("failed to record task error",
			slog.String("error", redact.Error(err)))
	}
}

// HandleExhausted is the queue's terminal failure hook. It moves a
// processing task to failed unless MarkFailedOnExhaustion is off. Finished
// tasks are left alone, and so are queued ones: no attempt started, so the
// sweeper re-enqueues them instead.
func (p *Processor) HandleExhausted(ctx context.Context, e queue.Exhaustion) {
	log := logger.FromContextOrDefault(ctx, p.logger).With(
		slog.String("task_id", e.Delivery.TaskID.String()),
		slog.Int("attempt", e.Delivery.Attempt),
		slog.String("outcome", e.Outcome.String()),
	)

	reason := FailureReason(e)
	log.Error("task abandoned by queue", slog.String("reason", reason))

	if !p.config.MarkFailedOnExhaustion {
		return
	}

	task, err := p.store.GetByID(ctx, e.Delivery.TaskID)
	if err != nil {
		log.Error("failed to load abandoned task", slog.String("error", redact.Error(err)))
		return
	}
	if task.IsTerminal() {
		log.Info("abandoned task already terminal", slog.String("status", string(task.Status)))
		return
	}
	if task.Status == domain.TaskStatusQueued {
		log.Info("abandoned task never started, leaving it queued")
		return
	}

	previous := task.Status
	if err := task.Fail(reason, p.now()); err != nil {
		log.Error("cannot fail task", slog.String("error", err.Error()))
		return
	}
	if _, err := p.store.Update(ctx, task.ID, store.TaskPatch{
		ExpectStatus: &previous,
		Status:       &task.Status,
		LastError:    &task.LastError,
		CompletedAt:  task.CompletedAt,
	}); err != nil {
		log.Error("failed to mark task failed", slog.String("error", redact.Error(err)))
		return
	}
	log.Info("task marked failed")
}

// FailureReason is the caller-visible explanation stored on a failed task.
func FailureReason(e queue.Exhaustion) string {
	cause := "unknown error"
	if e.Err != nil {
		cause = redact.Error(e.Err)
	}
	if e.Outcome == queue.OutcomeFatal {
		return "analysis failed: " + cause
	}
	return fmt.Sprintf("analysis failed after %d attempts: %s", e.Delivery.Attempt, cause)
}
