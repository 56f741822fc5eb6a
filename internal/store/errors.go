package store

import (
	"errors"
	"fmt"
)

// Errors returned by every TaskStore implementation. Implementations wrap
// driver errors in one of these so callers never inspect driver types.
var (
	// ErrNotFound means no record exists for the key.
	ErrNotFound = errors.New("record not found")

	// ErrTaskNotFound is ErrNotFound for analysis tasks.
	ErrTaskNotFound = fmt.Errorf("%w: task", ErrNotFound)

	// ErrDuplicate means a task with the same ID already exists.
	ErrDuplicate = errors.New("record already exists")

	// ErrInvalidEntity wraps a domain validation failure on write.
	ErrInvalidEntity = errors.New("invalid record")

	// ErrStatusConflict means a patch's ExpectStatus no longer matches.
	ErrStatusConflict = errors.New("task status changed concurrently")

	// ErrTransactionFailed means a transaction could not begin or commit.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrPersistence means the backing database failed for reasons unrelated
	// to the data. The worker retries deliveries that hit it.
	ErrPersistence = errors.New("persistence failure")
)

// IsNotFoundError reports whether err wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsTransient reports whether err is an infrastructure failure that may
// succeed when retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrPersistence) || errors.Is(err, ErrTransactionFailed)
}
