package task

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/jobfit-api/internal/domain"
	"github.com/phrazzld/jobfit-api/internal/generation"
	"github.com/phrazzld/jobfit-api/internal/lock"
	"github.com/phrazzld/jobfit-api/internal/mocks"
	"github.com/phrazzld/jobfit-api/internal/queue"
	"github.com/phrazzld/jobfit-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	store     *mocks.MockTaskStore
	analyzer  *mocks.MockAnalyzer
	locker    *lock.MemoryLocker
	processor *Processor
}

func newFixture(t *testing.T, cfg ProcessorConfig) *fixture {
	t.Helper()

	f := &fixture{
		store:    mocks.NewMockTaskStore(),
		analyzer: &mocks.MockAnalyzer{},
		locker:   lock.NewMemoryLocker(),
	}
	p, err := NewProcessor(f.store, f.analyzer, f.locker, cfg, testLogger())
	require.NoError(t, err)
	f.processor = p
	return f
}

func (f *fixture) seed(t *testing.T) *domain.Task {
	t.Helper()
	task, err := domain.NewTask("Go developer with 5 years of experience", "Senior platform engineer")
	require.NoError(t, err)
	require.NoError(t, f.store.Put(task))
	return task
}

func (f *fixture) get(t *testing.T, id uuid.UUID) *domain.Task {
	t.Helper()
	task, err := f.store.Get(id)
	require.NoError(t, err)
	return task
}

func delivery(id uuid.UUID, attempt int) queue.Delivery {
	return queue.Delivery{TaskID: id, Attempt: attempt, MaxAttempts: 3}
}

func TestNewProcessor_Validation(t *testing.T) {
	t.Parallel()

	s, a, l, log := mocks.NewMockTaskStore(), &mocks.MockAnalyzer{}, lock.NewMemoryLocker(), testLogger()
	cfg := DefaultProcessorConfig()

	_, err := NewProcessor(nil, a, l, cfg, log)
	assert.ErrorIs(t, err, ErrNilStore)
	_, err = NewProcessor(s, nil, l, cfg, log)
	assert.ErrorIs(t, err, ErrNilAnalyzer)
	_, err = NewProcessor(s, a, nil, cfg, log)
	assert.ErrorIs(t, err, ErrNilLocker)
	_, err = NewProcessor(s, a, l, cfg, nil)
	assert.ErrorIs(t, err, ErrNilLogger)

	p, err := NewProcessor(s, a, l, ProcessorConfig{}, log)
	require.NoError(t, err)
	assert.Equal(t, DefaultProcessorConfig().LeaseTTL, p.config.LeaseTTL)
}

func TestProcessor_Handle_Success(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultProcessorConfig())
	task := f.seed(t)

	var statusDuringCall domain.TaskStatus
	f.analyzer.AnalyzeFn = func(_ context.Context, text string, mode generation.Mode) (*generation.Analysis, error) {
		statusDuringCall = f.get(t, task.ID).Status
		return mocks.DefaultAnalysis(mode), nil
	}

	res := f.processor.Handle(context.Background(), delivery(task.ID, 1))
	require.Equal(t, queue.OutcomeSuccess, res.Outcome)

	assert.Equal(t, domain.TaskStatusProcessing, statusDuringCall)

	calls := f.analyzer.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, generation.ModeMatch, calls[0].Mode)
	assert.Equal(t, task.ResumeText+generation.Separator+task.JobDescription, calls[0].CombinedText)

	got := f.get(t, task.ID)
	assert.Equal(t, domain.TaskStatusDone, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, 80, got.Result.MatchScore)
	assert.Equal(t, []string{"Kubernetes"}, got.Result.WeakSkills)
	assert.Equal(t, []string{"Quantify impact"}, got.Result.SuggestedImprovements)
	assert.Equal(t, []string{"CKA"}, got.Result.SuggestedCourses)
	assert.Equal(t, "Dear team, here is why I fit.", got.CoverLetter)
	assert.Equal(t, domain.CoverLetterStatusNone, got.CoverLetterStatus)
	assert.Equal(t, 1, got.Attempts)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)
	assert.Empty(t, got.LastError)

	// The lease is released afterwards.
	release, err := f.locker.Acquire(context.Background(), lock.TaskKey(task.ID), time.Second)
	require.NoError(t, err)
	require.NoError(t, release(context.Background()))
}

func TestProcessor_Handle_AnalyzerErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		outcome queue.Outcome
	}{
		{"transient", generation.ErrTransientFailure, queue.OutcomeRetryable},
		{"unparseable response", generation.ErrInvalidResponse, queue.OutcomeRetryable},
		{"blocked", generation.ErrContentBlocked, queue.OutcomeFatal},
		{"rejected", generation.ErrRejected, queue.OutcomeFatal},
		{"bad credentials", generation.ErrInvalidConfig, queue.OutcomeFatal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, DefaultProcessorConfig())
			task := f.seed(t)
			f.analyzer.Err = tc.err

			res := f.processor.Handle(context.Background(), delivery(task.ID, 1))
			assert.Equal(t, tc.outcome, res.Outcome)
			assert.ErrorIs(t, res.Err, tc.err)

			got := f.get(t, task.ID)
			assert.Equal(t, domain.TaskStatusProcessing, got.Status)
			assert.Nil(t, got.Result)
			assert.NotEmpty(t, got.LastError)
		})
	}
}

func TestProcessor_Handle_InvalidScoreIsRetried(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultProcessorConfig())
	task := f.seed(t)
	f.analyzer.Analysis = &generation.Analysis{MatchScore: 150}

	res := f.processor.Handle(context.Background(), delivery(task.ID, 1))
	assert.Equal(t, queue.OutcomeRetryable, res.Outcome)
	assert.ErrorIs(t, res.Err, generation.ErrInvalidResponse)
	assert.Equal(t, domain.TaskStatusProcessing, f.get(t, task.ID).Status)
}

func TestProcessor_Handle_LeaseHeld(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ProcessorConfig{LeaseTTL: 30 * time.Second, MarkFailedOnExhaustion: true})
	task := f.seed(t)

	release, err := f.locker.Acquire(context.Background(), lock.TaskKey(task.ID), time.Minute)
	require.NoError(t, err)
	defer func() { _ = release(context.Background()) }()

	// Even the last attempt is deferred rather than spent.
	res := f.processor.Handle(context.Background(), delivery(task.ID, 3))
	assert.Equal(t, queue.OutcomeDeferred, res.Outcome)
	assert.Equal(t, 30*time.Second, res.Delay)
	assert.ErrorIs(t, res.Err, lock.ErrNotAcquired)
	assert.Zero(t, f.analyzer.CallCount())

	got := f.get(t, task.ID)
	assert.Equal(t, domain.TaskStatusQueued, got.Status)
	assert.Zero(t, got.Attempts)
}

func TestProcessor_Handle_KeepsCoverLetterGeneratedDuringAnalysis(t *testing.T) {
	t.Parallel()

	const onDemand = "Dear hiring manager, I would love to join."

	f := newFixture(t, DefaultProcessorConfig())
	task := f.seed(t)
	require.Equal(t, queue.OutcomeSuccess, f.processor.Handle(context.Background(), delivery(task.ID, 1)).Outcome)

	// The cover letter is generated and returned to a caller while a
	// redelivered analysis is in flight.
	f.analyzer.AnalyzeFn = func(_ context.Context, _ string, mode generation.Mode) (*generation.Analysis, error) {
		letter, status := onDemand, domain.CoverLetterStatusDone
		_, err := f.store.ApplyPatch(task.ID, store.TaskPatch{CoverLetter: &letter, CoverLetterStatus: &status})
		require.NoError(t, err)
		return mocks.DefaultAnalysis(mode), nil
	}
	require.Equal(t, queue.OutcomeSuccess, f.processor.Handle(context.Background(), delivery(task.ID, 1)).Outcome)

	got := f.get(t, task.ID)
	assert.Equal(t, domain.TaskStatusDone, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, domain.CoverLetterStatusDone, got.CoverLetterStatus)
	assert.Equal(t, onDemand, got.CoverLetter)
}

func TestProcessor_Handle_StoreFailures(t *testing.T) {
	t.Parallel()

	t.Run("missing record", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, DefaultProcessorConfig())

		res := f.processor.Handle(context.Background(), delivery(uuid.New(), 1))
		assert.Equal(t, queue.OutcomeRetryable, res.Outcome)
		assert.ErrorIs(t, res.Err, store.ErrTaskNotFound)
		assert.Zero(t, f.analyzer.CallCount())
	})

	t.Run("processing write fails", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, DefaultProcessorConfig())
		task := f.seed(t)
		f.store.UpdateFn = func(context.Context, uuid.UUID, store.TaskPatch) (*domain.Task, error) {
			return nil, store.ErrPersistence
		}

		res := f.processor.Handle(context.Background(), delivery(task.ID, 1))
		assert.Equal(t, queue.OutcomeRetryable, res.Outcome)
		assert.ErrorIs(t, res.Err, store.ErrPersistence)
		assert.Zero(t, f.analyzer.CallCount())
	})

	t.Run("result write fails", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, DefaultProcessorConfig())
		task := f.seed(t)
		f.store.UpdateFn = func(_ context.Context, id uuid.UUID, patch store.TaskPatch) (*domain.Task, error) {
			if patch.Result != nil {
				return nil, store.ErrPersistence
			}
			return f.store.ApplyPatch(id, patch)
		}

		res := f.processor.Handle(context.Background(), delivery(task.ID, 1))
		assert.Equal(t, queue.OutcomeRetryable, res.Outcome)
		assert.Equal(t, domain.TaskStatusProcessing, f.get(t, task.ID).Status)
	})
}

func TestProcessor_Handle_Redelivery(t *testing.T) {
	t.Parallel()

	t.Run("failed task is dropped", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, DefaultProcessorConfig())
		task := f.seed(t)
		require.NoError(t, task.Fail("gave up", time.Now()))
		_, err := f.store.ApplyPatch(task.ID, store.PatchFromTask(task))
		require.NoError(t, err)

		res := f.processor.Handle(context.Background(), delivery(task.ID, 1))
		assert.Equal(t, queue.OutcomeSuccess, res.Outcome)
		assert.Zero(t, f.analyzer.CallCount())
		assert.Equal(t, domain.TaskStatusFailed, f.get(t, task.ID).Status)
	})

	t.Run("done task is re-analyzed in place", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, DefaultProcessorConfig())
		task := f.seed(t)

		require.Equal(t, queue.OutcomeSuccess, f.processor.Handle(context.Background(), delivery(task.ID, 1)).Outcome)

		f.analyzer.AnalyzeFn = func(context.Context, string, generation.Mode) (*generation.Analysis, error) {
			// Readers keep seeing the previous result while the second run is in flight.
			current := f.get(t, task.ID)
			assert.Equal(t, domain.TaskStatusDone, current.Status)
			assert.NotNil(t, current.Result)
			return &generation.Analysis{MatchScore: 55, WeakSkills: []string{"Rust"}}, nil
		}
		require.Equal(t, queue.OutcomeSuccess, f.processor.Handle(context.Background(), delivery(task.ID, 1)).Outcome)

		got := f.get(t, task.ID)
		assert.Equal(t, domain.TaskStatusDone, got.Status)
		assert.Equal(t, 55, got.Result.MatchScore)
		assert.Equal(t, []string{"Rust"}, got.Result.WeakSkills)
		assert.Equal(t, 2, got.Attempts)
	})
}

func TestProcessor_HandleExhausted(t *testing.T) {
	t.Parallel()

	exhaustion := func(id uuid.UUID) queue.Exhaustion {
		return queue.Exhaustion{
			Delivery: delivery(id, 3),
			Outcome:  queue.OutcomeRetryable,
			Err:      errors.New("gemini returned 503 for password=hunter22"),
		}
	}

	t.Run("marks processing task failed", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, DefaultProcessorConfig())
		task := f.seed(t)
		f.analyzer.Err = generation.ErrTransientFailure
		f.processor.Handle(context.Background(), delivery(task.ID, 3))

		f.processor.HandleExhausted(context.Background(), exhaustion(task.ID))

		got := f.get(t, task.ID)
		assert.Equal(t, domain.TaskStatusFailed, got.Status)
		assert.Nil(t, got.Result)
		assert.Contains(t, got.LastError, "after 3 attempts")
		assert.NotContains(t, got.LastError, "hunter22")
		assert.NotNil(t, got.CompletedAt)
	})

	t.Run("leaves task processing when disabled", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, ProcessorConfig{MarkFailedOnExhaustion: false})
		task := f.seed(t)
		f.analyzer.Err = generation.ErrTransientFailure
		f.processor.Handle(context.Background(), delivery(task.ID, 3))

		f.processor.HandleExhausted(context.Background(), exhaustion(task.ID))
		assert.Equal(t, domain.TaskStatusProcessing, f.get(t, task.ID).Status)
	})

	t.Run("leaves never started task queued", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, DefaultProcessorConfig())
		task := f.seed(t)

		f.processor.HandleExhausted(context.Background(), exhaustion(task.ID))

		got := f.get(t, task.ID)
		assert.Equal(t, domain.TaskStatusQueued, got.Status)
		assert.Empty(t, got.LastError)
		assert.Nil(t, got.CompletedAt)
	})

	t.Run("does not touch done task", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, DefaultProcessorConfig())
		task := f.seed(t)
		f.processor.Handle(context.Background(), delivery(task.ID, 1))

		f.processor.HandleExhausted(context.Background(), exhaustion(task.ID))
		assert.Equal(t, domain.TaskStatusDone, f.get(t, task.ID).Status)
	})
}

func TestFailureReason(t *testing.T) {
	t.Parallel()

	fatal := FailureReason(queue.Exhaustion{
		Delivery: delivery(uuid.New(), 1),
		Outcome:  queue.OutcomeFatal,
		Err:      generation.ErrContentBlocked,
	})
	assert.True(t, strings.HasPrefix(fatal, "analysis failed: "))

	assert.Contains(t, FailureReason(queue.Exhaustion{Delivery: delivery(uuid.New(), 3)}), "unknown error")
}
