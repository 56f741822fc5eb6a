//go:build integration

package postgres_test

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/phrazzld/jobfit-api/internal/domain"
	"github.com/phrazzld/jobfit-api/internal/platform/migrations"
	"github.com/phrazzld/jobfit-api/internal/platform/postgres"
	"github.com/phrazzld/jobfit-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func setupStore(t *testing.T) *postgres.PostgresTaskStore {
	t.Helper()

	dsn := os.Getenv("JOBFIT_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("JOBFIT_TEST_DATABASE_URL not set")
	}

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, migrations.Run(context.Background(), migrations.DriverPostgres, db, migrations.CommandUp, logger))

	return postgres.NewPostgresTaskStore(db, logger)
}

func TestPostgresTaskStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	task, err := domain.NewTask("5 years Go experience", "Seeking senior backend engineer")
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, task))
	assert.ErrorIs(t, s.Create(ctx, task), store.ErrDuplicate)

	now := time.Now().UTC()
	_, err = s.Update(ctx, task.ID, store.TaskPatch{
		Status:    ptr(domain.TaskStatusProcessing),
		Attempts:  ptr(1),
		StartedAt: &now,
	})
	require.NoError(t, err)

	result := domain.AnalysisResult{MatchScore: 70, WeakSkills: []string{"terraform"}}
	_, err = s.Update(ctx, task.ID, store.TaskPatch{
		ExpectStatus: ptr(domain.TaskStatusProcessing),
		Status:       ptr(domain.TaskStatusDone),
		Result:       &result,
		CompletedAt:  &now,
	})
	require.NoError(t, err)

	got, err := s.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusDone, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, 70, got.Result.MatchScore)

	_, err = s.Update(ctx, task.ID, store.TaskPatch{
		ExpectStatus: ptr(domain.TaskStatusProcessing),
		Status:       ptr(domain.TaskStatusFailed),
	})
	assert.ErrorIs(t, err, store.ErrStatusConflict)

	_, err = s.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrTaskNotFound)

	tasks, err := s.FindByStatus(ctx, domain.TaskStatusDone, time.Now().UTC().Add(time.Minute), 1000)
	require.NoError(t, err)
	var found bool
	for _, tk := range tasks {
		if tk.ID == task.ID {
			found = true
		}
	}
	assert.True(t, found)
}
