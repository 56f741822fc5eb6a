package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/jobfit-api/internal/domain"
)

// TaskStore defines the interface for analysis task persistence. It is the
// single source of truth shared by the producer, the workers and status
// readers.
type TaskStore interface {
	// Create saves a new task to the store.
	// Returns validation errors from the domain Task if data is invalid.
	Create(ctx context.Context, task *domain.Task) error

	// GetByID retrieves a task by its unique ID.
	// Returns ErrTaskNotFound if the task does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// Update applies patch to the stored task atomically and returns the
	// task as persisted.
	// Returns ErrTaskNotFound if the task does not exist and
	// ErrStatusConflict if patch.ExpectStatus does not match.
	Update(ctx context.Context, id uuid.UUID, patch TaskPatch) (*domain.Task, error)

	// FindByStatus returns up to limit tasks in status whose last update is
	// older than updatedBefore, oldest first.
	FindByStatus(ctx context.Context, status domain.TaskStatus, updatedBefore time.Time, limit int) ([]*domain.Task, error)
}

// TaskPatch lists the fields an update changes. Nil fields are left alone.
// The resume and job description are immutable and cannot be patched.
type TaskPatch struct {
	// ExpectStatus, when set, makes the update conditional on the current status.
	ExpectStatus *domain.TaskStatus

	Status            *domain.TaskStatus
	Result            *domain.AnalysisResult
	CoverLetter       *string
	CoverLetterStatus *domain.CoverLetterStatus
	Attempts          *int
	LastError         *string
	StartedAt         *time.Time
	CompletedAt       *time.Time

	// CoverLetterUnlessDone sets the cover letter only when the stored cover
	// letter status is not done, so a letter already handed to a caller is
	// never replaced. It is checked against the stored record, before
	// CoverLetterStatus is applied.
	CoverLetterUnlessDone *string
}

// Apply mutates task in place according to the patch and validates the
// outcome. Store implementations call it inside their update transaction.
func (p TaskPatch) Apply(task *domain.Task, now time.Time) error {
	if p.ExpectStatus != nil && task.Status != *p.ExpectStatus {
		return fmt.Errorf("%w: expected %s, found %s", ErrStatusConflict, *p.ExpectStatus, task.Status)
	}

	if p.Status != nil {
		task.Status = *p.Status
	}
	if p.Result != nil {
		result := *p.Result
		task.Result = &result
	}
	if p.CoverLetter != nil {
		task.CoverLetter = *p.CoverLetter
	}
	if p.CoverLetterUnlessDone != nil && task.CoverLetterStatus != domain.CoverLetterStatusDone {
		task.CoverLetter = *p.CoverLetterUnlessDone
	}
	if p.CoverLetterStatus != nil {
		if !domain.IsValidCoverLetterStatus(*p.CoverLetterStatus) {
			return fmt.Errorf("%w: cover letter status %q", ErrInvalidEntity, *p.CoverLetterStatus)
		}
		task.CoverLetterStatus = *p.CoverLetterStatus
	}
	if p.Attempts != nil {
		task.Attempts = *p.Attempts
	}
	if p.LastError != nil {
		task.LastError = *p.LastError
	}
	if p.StartedAt != nil {
		started := *p.StartedAt
		task.StartedAt = &started
	}
	if p.CompletedAt != nil {
		completed := *p.CompletedAt
		task.CompletedAt = &completed
	}
	task.UpdatedAt = now

	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEntity, err)
	}
	return nil
}

// PatchFromTask builds a patch that copies every mutable field of task.
func PatchFromTask(task *domain.Task) TaskPatch {
	status := task.Status
	coverLetter := task.CoverLetter
	coverLetterStatus := task.CoverLetterStatus
	attempts := task.Attempts
	lastError := task.LastError

	return TaskPatch{
		Status:            &status,
		Result:            task.Result,
		CoverLetter:       &coverLetter,
		CoverLetterStatus: &coverLetterStatus,
		Attempts:          &attempts,
		LastError:         &lastError,
		StartedAt:         task.StartedAt,
		CompletedAt:       task.CompletedAt,
	}
}
