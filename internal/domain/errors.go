package domain

import (
	"errors"
	"fmt"
)

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidStatusTransition is returned when a task is asked to move
	// to a status its current status cannot reach.
	ErrInvalidStatusTransition = errors.New("invalid status transition")

	// ErrInvalidTaskStatus is returned when a status value is not recognized.
	ErrInvalidTaskStatus = errors.New("invalid task status")

	// ErrInvalidMatchScore is returned when a score falls outside 0..100.
	ErrInvalidMatchScore = errors.New("match score must be between 0 and 100")
)

// ValidationError describes a single invalid input field. It matches
// ErrValidation under errors.Is.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a ValidationError for field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is lets errors.Is(err, ErrValidation) match any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
