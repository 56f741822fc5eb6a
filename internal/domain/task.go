package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the processing state of an analysis task.
type TaskStatus string

// Possible task status values.
const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusFailed     TaskStatus = "failed"
)

// CoverLetterStatus tracks the on-demand cover letter, independently of the
// task status.
type CoverLetterStatus string

// Possible cover letter status values.
const (
	CoverLetterStatusNone    CoverLetterStatus = "none"
	CoverLetterStatusPending CoverLetterStatus = "pending"
	CoverLetterStatusDone    CoverLetterStatus = "done"
)

// AnalysisResult is the outcome of matching a resume against a job
// description.
type AnalysisResult struct {
	MatchScore            int      `json:"match_score"`
	WeakSkills            []string `json:"weak_skills"`
	SuggestedImprovements []string `json:"suggested_improvements"`
	SuggestedCourses      []string `json:"suggested_courses"`
}

// Validate checks the score range.
func (r *AnalysisResult) Validate() error {
	if r.MatchScore < 0 || r.MatchScore > 100 {
		return ErrInvalidMatchScore
	}
	return nil
}

// Task is one resume analysis request. The resume and job description are
// fixed at creation; everything else is driven by the worker and the cover
// letter handler.
type Task struct {
	ID                uuid.UUID         `json:"id"`
	ResumeText        string            `json:"resume_text"`
	JobDescription    string            `json:"job_description"`
	Status            TaskStatus        `json:"status"`
	Result            *AnalysisResult   `json:"result,omitempty"`
	CoverLetter       string            `json:"cover_letter,omitempty"`
	CoverLetterStatus CoverLetterStatus `json:"cover_letter_status"`
	Attempts          int               `json:"attempts"`
	LastError         string            `json:"last_error,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	StartedAt         *time.Time        `json:"started_at,omitempty"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
}

// NewTask creates a queued task with a fresh ID. Both inputs must contain
// non-whitespace text.
func NewTask(resumeText, jobDescription string) (*Task, error) {
	now := time.Now().UTC()
	task := &Task{
		ID:                uuid.New(),
		ResumeText:        resumeText,
		JobDescription:    jobDescription,
		Status:            TaskStatusQueued,
		CoverLetterStatus: CoverLetterStatusNone,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return NewValidationError("id", "must not be empty")
	}
	if strings.TrimSpace(t.ResumeText) == "" {
		return NewValidationError("resume", "must not be empty")
	}
	if strings.TrimSpace(t.JobDescription) == "" {
		return NewValidationError("jobDescription", "must not be empty")
	}
	if !IsValidTaskStatus(t.Status) {
		return ErrInvalidTaskStatus
	}
	if t.Result != nil {
		if t.Status != TaskStatusDone {
			return fmt.Errorf("%w: result set while %s", ErrValidation, t.Status)
		}
		if err := t.Result.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// IsTerminal reports whether the task reached done or failed.
func (t *Task) IsTerminal() bool {
	return t.Status == TaskStatusDone || t.Status == TaskStatusFailed
}

// StartAttempt records a delivery attempt and moves the task to processing.
// A task already processing stays there across retries. A done task keeps
// its status and result so readers never see the result disappear while it
// is being re-analyzed.
func (t *Task) StartAttempt(now time.Time) error {
	switch t.Status {
	case TaskStatusQueued, TaskStatusProcessing:
		t.Status = TaskStatusProcessing
	case TaskStatusDone:
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, t.Status, TaskStatusProcessing)
	}

	t.Attempts++
	if t.StartedAt == nil {
		started := now
		t.StartedAt = &started
	}
	t.UpdatedAt = now
	return nil
}

// Complete stores result and the cover letter produced alongside it and
// moves the task to done. Completing a done task overwrites its result.
func (t *Task) Complete(result AnalysisResult, coverLetter string, now time.Time) error {
	if t.Status != TaskStatusProcessing && t.Status != TaskStatusDone {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, t.Status, TaskStatusDone)
	}
	if err := result.Validate(); err != nil {
		return err
	}

	t.Status = TaskStatusDone
	t.Result = &result
	t.CoverLetter = coverLetter
	t.LastError = ""
	completed := now
	t.CompletedAt = &completed
	t.UpdatedAt = now
	return nil
}

// Fail moves a queued or processing task to failed. reason should already be
// safe to show to callers.
func (t *Task) Fail(reason string, now time.Time) error {
	if t.Status != TaskStatusQueued && t.Status != TaskStatusProcessing {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, t.Status, TaskStatusFailed)
	}

	t.Status = TaskStatusFailed
	t.LastError = reason
	completed := now
	t.CompletedAt = &completed
	t.UpdatedAt = now
	return nil
}

// IsValidTaskStatus checks if the given status is a valid TaskStatus.
func IsValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusQueued, TaskStatusProcessing, TaskStatusDone, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// IsValidCoverLetterStatus checks if the given status is a valid
// CoverLetterStatus.
func IsValidCoverLetterStatus(status CoverLetterStatus) bool {
	switch status {
	case CoverLetterStatusNone, CoverLetterStatusPending, CoverLetterStatusDone:
		return true
	default:
		return false
	}
}
