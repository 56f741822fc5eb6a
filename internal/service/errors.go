package service

import (
	"errors"
	"fmt"

	"github.com/phrazzld/jobfit-api/internal/lock"
	"github.com/phrazzld/jobfit-api/internal/store"
)

// Common service errors - sentinel errors used across service implementations.
// The API layer maps them to HTTP status codes.
var (
	// ErrTaskNotFound indicates that the task does not exist.
	// API layer should map this to HTTP 404 Not Found.
	ErrTaskNotFound = errors.New("task not found")

	// ErrCoverLetterInProgress indicates another request is generating the
	// cover letter and did not finish within the wait window.
	// API layer should map this to HTTP 409 Conflict.
	ErrCoverLetterInProgress = errors.New("cover letter generation already in progress")
)

// ServiceError wraps errors from the task service with context.
type ServiceError struct {
	// Operation is the operation that failed (e.g., "submit_analysis")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for ServiceError.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("task service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("task service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError creates a new ServiceError.
// It returns known sentinel errors directly without wrapping.
func NewServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrTaskNotFound), errors.Is(err, store.ErrTaskNotFound):
		return ErrTaskNotFound
	case errors.Is(err, ErrCoverLetterInProgress), errors.Is(err, lock.ErrNotAcquired):
		return ErrCoverLetterInProgress
	}

	return &ServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
