package generation

import (
	"errors"
	"fmt"
)

// Common errors returned by Analyzer implementations. Every one of them wraps
// ErrRemote, so callers can report any analyzer failure as a remote error.
var (
	// ErrRemote is the parent of every failure talking to the language model.
	ErrRemote = errors.New("remote analysis failed")

	// ErrTransientFailure is returned for network errors, timeouts, rate
	// limiting and server-side errors that might resolve on retry.
	ErrTransientFailure = fmt.Errorf("%w: transient error", ErrRemote)

	// ErrInvalidResponse is returned when the LLM response cannot be parsed or is malformed.
	ErrInvalidResponse = fmt.Errorf("%w: invalid response from language model", ErrRemote)

	// ErrContentBlocked is returned when the LLM blocks the content due to safety filters.
	ErrContentBlocked = fmt.Errorf("%w: content blocked by language model safety filters", ErrRemote)

	// ErrRejected is returned when the model refuses the request itself, for
	// example a 4xx other than rate limiting.
	ErrRejected = fmt.Errorf("%w: request rejected by language model", ErrRemote)

	// ErrInvalidConfig is returned when the analyzer configuration is invalid.
	// A rejected API key surfaces here at call time.
	ErrInvalidConfig = fmt.Errorf("%w: invalid analyzer configuration", ErrRemote)

	// ErrInvalidInput is returned when the combined text cannot be split into
	// its two parts.
	ErrInvalidInput = fmt.Errorf("%w: invalid analysis input", ErrRemote)
)

// IsPermanent reports whether retrying the same request cannot succeed.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrContentBlocked) ||
		errors.Is(err, ErrRejected) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrInvalidInput)
}
