// Package sqlite provides an embedded task record store backed by
// modernc.org/sqlite, for single-node deployments and tests that should not
// need a PostgreSQL server.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/jobfit-api/internal/domain"
	"github.com/phrazzld/jobfit-api/internal/platform/logger"
	"github.com/phrazzld/jobfit-api/internal/store"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

const taskColumns = `id, resume_text, job_description, status, result, cover_letter,
	cover_letter_status, attempts, last_error, created_at, updated_at, started_at, completed_at`

// Open opens dsn and applies the pragmas the store relies on. SQLite allows
// one writer at a time, so the pool is limited to a single connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return db, nil
}

// TaskStore implements store.TaskStore on SQLite.
type TaskStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ store.TaskStore = (*TaskStore)(nil)

// NewTaskStore creates a TaskStore. The schema must already be migrated.
func NewTaskStore(db *sql.DB, logger *slog.Logger) *TaskStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskStore{db: db, logger: logger.With(slog.String("component", "task_store"))}
}

// Create implements store.TaskStore.
func (s *TaskStore) Create(ctx context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	args, err := taskArgs(task)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		args...)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to insert task",
			slog.String("task_id", task.ID.String()),
			slog.String("error", err.Error()))
		return mapError(err)
	}
	return nil
}

// GetByID implements store.TaskStore.
func (s *TaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	task, err := scanTask(s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		return nil, mapError(err)
	}
	return task, nil
}

// Update implements store.TaskStore. Writers serialize on the single pooled
// connection.
func (s *TaskStore) Update(ctx context.Context, id uuid.UUID, patch store.TaskPatch) (*domain.Task, error) {
	var updated *domain.Task
	err := store.RunInTransaction(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		task, err := scanTask(tx.QueryRowContext(ctx,
			`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id.String()))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrTaskNotFound
			}
			return err
		}

		if err := patch.Apply(task, time.Now().UTC()); err != nil {
			return err
		}

		args, err := taskArgs(task)
		if err != nil {
			return err
		}
		// args[0] is the id; the mutable columns start at status.
		_, err = tx.ExecContext(ctx, `
			UPDATE tasks
			SET status = ?, result = ?, cover_letter = ?, cover_letter_status = ?,
				attempts = ?, last_error = ?, updated_at = ?, started_at = ?, completed_at = ?
			WHERE id = ?`,
			args[3], args[4], args[5], args[6], args[7], args[8], args[10], args[11], args[12], args[0])
		if err != nil {
			return err
		}

		updated = task
		return nil
	})
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrStatusConflict) {
			logger.FromContextOrDefault(ctx, s.logger).Error("failed to update task",
				slog.String("task_id", id.String()),
				slog.String("error", err.Error()))
		}
		return nil, mapError(err)
	}
	return updated, nil
}

// FindByStatus implements store.TaskStore.
func (s *TaskStore) FindByStatus(
	ctx context.Context,
	status domain.TaskStatus,
	updatedBefore time.Time,
	limit int,
) ([]*domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE status = ? AND updated_at < ?
		ORDER BY updated_at ASC
		LIMIT ?`,
		string(status), updatedBefore.UnixNano(), limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, mapError(err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return tasks, nil
}

func taskArgs(task *domain.Task) ([]any, error) {
	var result any
	if task.Result != nil {
		b, err := json.Marshal(task.Result)
		if err != nil {
			return nil, fmt.Errorf("failed to encode task result: %w", err)
		}
		result = string(b)
	}

	return []any{
		task.ID.String(),
		task.ResumeText,
		task.JobDescription,
		string(task.Status),
		result,
		task.CoverLetter,
		string(task.CoverLetterStatus),
		task.Attempts,
		task.LastError,
		task.CreatedAt.UnixNano(),
		task.UpdatedAt.UnixNano(),
		nanos(task.StartedAt),
		nanos(task.CompletedAt),
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task              domain.Task
		id                string
		status            string
		coverLetterStatus string
		result            sql.NullString
		createdAt         int64
		updatedAt         int64
		startedAt         sql.NullInt64
		completedAt       sql.NullInt64
	)

	err := row.Scan(
		&id,
		&task.ResumeText,
		&task.JobDescription,
		&status,
		&result,
		&task.CoverLetter,
		&coverLetterStatus,
		&task.Attempts,
		&task.LastError,
		&createdAt,
		&updatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if task.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid task id %q: %w", id, err)
	}
	task.Status = domain.TaskStatus(status)
	task.CoverLetterStatus = domain.CoverLetterStatus(coverLetterStatus)
	if result.Valid && result.String != "" {
		var r domain.AnalysisResult
		if err := json.Unmarshal([]byte(result.String), &r); err != nil {
			return nil, fmt.Errorf("failed to decode task result: %w", err)
		}
		task.Result = &r
	}
	task.CreatedAt = time.Unix(0, createdAt).UTC()
	task.UpdatedAt = time.Unix(0, updatedAt).UTC()
	task.StartedAt = fromNanos(startedAt)
	task.CompletedAt = fromNanos(completedAt)

	return &task, nil
}

func nanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func fromNanos(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}

// mapError maps SQLite result codes onto store errors the same way the
// postgres package maps SQLSTATE codes.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrStatusConflict) ||
		errors.Is(err, store.ErrInvalidEntity) || errors.Is(err, store.ErrDuplicate) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
		case sqlite3.SQLITE_CONSTRAINT_CHECK, sqlite3.SQLITE_CONSTRAINT_NOTNULL:
			return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
		}
	}

	return fmt.Errorf("%w: %w", store.ErrPersistence, err)
}
