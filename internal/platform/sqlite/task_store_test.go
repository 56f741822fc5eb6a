package sqlite_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/jobfit-api/internal/domain"
	"github.com/phrazzld/jobfit-api/internal/platform/migrations"
	"github.com/phrazzld/jobfit-api/internal/platform/sqlite"
	"github.com/phrazzld/jobfit-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func newStore(t *testing.T) *sqlite.TaskStore {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := sqlite.Open(ctx, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, migrations.Run(ctx, migrations.DriverSQLite, db, migrations.CommandUp, logger))
	return sqlite.NewTaskStore(db, logger)
}

func newTask(t *testing.T) *domain.Task {
	t.Helper()
	task, err := domain.NewTask("5 years Go experience", "Seeking senior backend engineer")
	require.NoError(t, err)
	return task
}

func TestTaskStore_CreateAndGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)
	task := newTask(t)

	require.NoError(t, s.Create(ctx, task))

	got, err := s.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, task.ResumeText, got.ResumeText)
	assert.Equal(t, task.JobDescription, got.JobDescription)
	assert.Equal(t, domain.TaskStatusQueued, got.Status)
	assert.Equal(t, domain.CoverLetterStatusNone, got.CoverLetterStatus)
	assert.Nil(t, got.Result)
	assert.True(t, task.CreatedAt.Equal(got.CreatedAt))
}

func TestTaskStore_CreateDuplicate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)
	task := newTask(t)

	require.NoError(t, s.Create(ctx, task))
	assert.ErrorIs(t, s.Create(ctx, task), store.ErrDuplicate)
}

func TestTaskStore_GetMissing(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	_, err := s.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
	assert.True(t, store.IsNotFoundError(err))
}

func TestTaskStore_UpdateLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)
	task := newTask(t)
	require.NoError(t, s.Create(ctx, task))

	now := time.Now().UTC()
	updated, err := s.Update(ctx, task.ID, store.TaskPatch{
		Status:    ptr(domain.TaskStatusProcessing),
		Attempts:  ptr(1),
		StartedAt: &now,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusProcessing, updated.Status)

	result := domain.AnalysisResult{
		MatchScore:            64,
		WeakSkills:            []string{"kubernetes"},
		SuggestedImprovements: []string{"quantify impact"},
		SuggestedCourses:      []string{"CKA"},
	}
	_, err = s.Update(ctx, task.ID, store.TaskPatch{
		ExpectStatus: ptr(domain.TaskStatusProcessing),
		Status:       ptr(domain.TaskStatusDone),
		Result:       &result,
		CoverLetter:  ptr("Dear hiring manager"),
		CompletedAt:  &now,
	})
	require.NoError(t, err)

	got, err := s.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusDone, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, result, *got.Result)
	assert.Equal(t, "Dear hiring manager", got.CoverLetter)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.StartedAt)
	assert.True(t, now.Equal(*got.StartedAt))
	require.NotNil(t, got.CompletedAt)
}

func TestTaskStore_UpdateErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)
	task := newTask(t)
	require.NoError(t, s.Create(ctx, task))

	_, err := s.Update(ctx, uuid.New(), store.TaskPatch{Status: ptr(domain.TaskStatusProcessing)})
	assert.ErrorIs(t, err, store.ErrTaskNotFound)

	_, err = s.Update(ctx, task.ID, store.TaskPatch{
		ExpectStatus: ptr(domain.TaskStatusProcessing),
		Status:       ptr(domain.TaskStatusFailed),
	})
	assert.ErrorIs(t, err, store.ErrStatusConflict)

	_, err = s.Update(ctx, task.ID, store.TaskPatch{Result: &domain.AnalysisResult{MatchScore: 10}})
	assert.ErrorIs(t, err, store.ErrInvalidEntity)

	got, err := s.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusQueued, got.Status, "failed updates must not be persisted")
}

func TestTaskStore_ConcurrentUpdatesSerialize(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)
	task := newTask(t)
	require.NoError(t, s.Create(ctx, task))

	const writers = 10
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, task.ID, store.TaskPatch{LastError: ptr("transient")})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "transient", got.LastError)
}

func TestTaskStore_FindByStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	old := newTask(t)
	old.UpdatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, s.Create(ctx, old))

	fresh := newTask(t)
	require.NoError(t, s.Create(ctx, fresh))

	processing := newTask(t)
	processing.Status = domain.TaskStatusProcessing
	processing.UpdatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, s.Create(ctx, processing))

	tasks, err := s.FindByStatus(ctx, domain.TaskStatusQueued, time.Now().UTC().Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, old.ID, tasks[0].ID)

	tasks, err = s.FindByStatus(ctx, domain.TaskStatusProcessing, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, processing.ID, tasks[0].ID)
}
