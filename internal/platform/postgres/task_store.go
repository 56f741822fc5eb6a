package postgres

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
)

const taskColumns = `id, resume_text, job_description, status, result, cover_letter,
	cover_letter_status, attempts, last_error, created_at, updated_at, started_at, completed_at`

// PostgresTaskStore implements store.TaskStore using PostgreSQL.
type PostgresTaskStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ store.TaskStore = (*PostgresTaskStore)(nil)

// NewPostgresTaskStore creates a new PostgresTaskStore. A nil logger falls
// back to slog.Default().
func NewPostgresTaskStore(db *sql.DB, logger *slog.Logger) *PostgresTaskStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

// Create implements store.TaskStore.
func (s *PostgresTaskStore) Create(ctx context.Context, task *domain.Task) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		log.Warn("task validation failed during create",
			slog.String("task_id", task.ID.String()),
			slog.String("error", err.Error()))
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	result, err := encodeResult(task.Result)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = s.db.ExecContext(ctx, query,
		task.ID,
		task.ResumeText,
		task.JobDescription,
		string(task.Status),
		result,
		task.CoverLetter,
		string(task.CoverLetterStatus),
		task.Attempts,
		task.LastError,
		task.CreatedAt.UTC(),
		task.UpdatedAt.UTC(),
		task.StartedAt,
		task.CompletedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			log.Warn("task already exists", slog.String("task_id", task.ID.String()))
		} else {
			log.Error("failed to insert task",
				slog.String("task_id", task.ID.String()),
				slog.String("error", err.Error()))
		}
		return MapError(err)
	}

	log.Debug("task created", slog.String("task_id", task.ID.String()))
	return nil
}

// GetByID implements store.TaskStore.
func (s *PostgresTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	task, err := getTask(ctx, s.db, id, false)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			return nil, err
		}
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to get task",
			slog.String("task_id", id.String()),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	return task, nil
}

// Update implements store.TaskStore. The row is locked with SELECT ... FOR
// UPDATE so concurrent patches to the same task serialize.
func (s *PostgresTaskStore) Update(
	ctx context.Context,
	id uuid.UUID,
	patch store.TaskPatch,
) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	var updated *domain.Task
	err := store.RunInTransaction(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		task, err := getTask(ctx, tx, id, true)
		if err != nil {
			return err
		}

		if err := patch.Apply(task, time.Now().UTC()); err != nil {
			return err
		}

		result, err := encodeResult(task.Result)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE tasks
			SET status = $2, result = $3, cover_letter = $4, cover_letter_status = $5,
				attempts = $6, last_error = $7, updated_at = $8, started_at = $9, completed_at = $10
			WHERE id = $1
		`,
			id,
			string(task.Status),
			result,
			task.CoverLetter,
			string(task.CoverLetterStatus),
			task.Attempts,
			task.LastError,
			task.UpdatedAt,
			task.StartedAt,
			task.CompletedAt,
		)
		if err != nil {
			return err
		}
		if err := CheckRowsAffected(res, "task"); err != nil {
			return err
		}

		updated = task
		return nil
	})
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrStatusConflict) {
			log.Error("failed to update task",
				slog.String("task_id", id.String()),
				slog.String("error", err.Error()))
		}
		return nil, MapError(err)
	}

	return updated, nil
}

// FindByStatus implements store.TaskStore.
func (s *PostgresTaskStore) FindByStatus(
	ctx context.Context,
	status domain.TaskStatus,
	updatedBefore time.Time,
	limit int,
) ([]*domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, string(status), updatedBefore.UTC(), limit)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to query tasks by status",
			slog.String("status", string(status)),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, MapError(err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}

	return tasks, nil
}

// getTask reads one task through q, which is the pool or an open
// transaction. forUpdate locks the row until the transaction ends.
func getTask(ctx context.Context, q store.DBTX, id uuid.UUID, forUpdate bool) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	task, err := scanTask(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTaskNotFound
	}
	return task, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task              domain.Task
		status            string
		coverLetterStatus string
		result            []byte
		startedAt         sql.NullTime
		completedAt       sql.NullTime
	)

	err := row.Scan(
		&task.ID,
		&task.ResumeText,
		&task.JobDescription,
		&status,
		&result,
		&task.CoverLetter,
		&coverLetterStatus,
		&task.Attempts,
		&task.LastError,
		&task.CreatedAt,
		&task.UpdatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Status = domain.TaskStatus(status)
	task.CoverLetterStatus = domain.CoverLetterStatus(coverLetterStatus)
	if len(result) > 0 {
		var r domain.AnalysisResult
		if err := json.Unmarshal(result, &r); err != nil {
			return nil, fmt.Errorf("failed to decode task result: %w", err)
		}
		task.Result = &r
	}
	if startedAt.Valid {
		t := startedAt.Time.UTC()
		task.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		task.CompletedAt = &t
	}
	task.CreatedAt = task.CreatedAt.UTC()
	task.UpdatedAt = task.UpdatedAt.UTC()

	return &task, nil
}

// encodeResult returns nil for an absent result so the column stays NULL.
func encodeResult(result *domain.AnalysisResult) (any, error) {
	if result == nil {
		return nil, nil
	}
	b, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task result: %w", err)
	}
	return string(b), nil
}
