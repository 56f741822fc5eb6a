package api

import (
	"errors"
	"net/http"

	"github.com/phrazzld/jobfit-api/internal/domain"
	"github.com/phrazzld/jobfit-api/internal/extract"
	"github.com/phrazzld/jobfit-api/internal/generation"
	"github.com/phrazzld/jobfit-api/internal/service"
	"github.com/phrazzld/jobfit-api/internal/store"
)

// Error kinds reported in the "kind" field of error responses. Clients may
// switch on them; they never change.
const (
	KindValidation        = "ValidationError"
	KindUnsupportedFormat = "UnsupportedFormatError"
	KindPayloadTooLarge   = "PayloadTooLargeError"
	KindNotFound          = "NotFoundError"
	KindConflict          = "ConflictError"
	KindRemote            = "RemoteError"
	KindPersistence       = "PersistenceError"
	KindInternal          = "InternalError"
)

// errPayloadTooLarge is returned when an upload exceeds the configured limit.
var errPayloadTooLarge = errors.New("request body too large")

// GetErrorKind classifies err into one of the Kind constants.
func GetErrorKind(err error) string {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, errPayloadTooLarge):
		return KindPayloadTooLarge
	case errors.Is(err, extract.ErrUnsupportedFormat):
		return KindUnsupportedFormat
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, extract.ErrEmptyDocument),
		errors.Is(err, extract.ErrUnreadableDocument),
		errors.Is(err, store.ErrInvalidEntity):
		return KindValidation
	case errors.Is(err, service.ErrTaskNotFound),
		errors.Is(err, store.ErrNotFound):
		return KindNotFound
	case errors.Is(err, service.ErrCoverLetterInProgress):
		return KindConflict
	case errors.Is(err, generation.ErrRemote):
		return KindRemote
	case store.IsTransient(err),
		errors.Is(err, store.ErrStatusConflict):
		return KindPersistence
	default:
		return KindInternal
	}
}

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch GetErrorKind(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRemote:
		return http.StatusBadGateway
	case KindPersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	var validationErr *domain.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return "Invalid " + validationErr.Field + ": " + validationErr.Message
	case errors.Is(err, errPayloadTooLarge):
		return "Uploaded file is too large"
	case errors.Is(err, extract.ErrUnsupportedFormat):
		return "Unsupported file format. Please upload PDF, Word (.docx) or plain text."
	case errors.Is(err, extract.ErrEmptyDocument):
		return "Uploaded file contains no text"
	case errors.Is(err, extract.ErrUnreadableDocument):
		return "Uploaded file could not be read"
	case errors.Is(err, domain.ErrValidation), errors.Is(err, store.ErrInvalidEntity):
		return "Invalid request"
	case errors.Is(err, service.ErrTaskNotFound), errors.Is(err, store.ErrNotFound):
		return "Task not found"
	case errors.Is(err, service.ErrCoverLetterInProgress):
		return "Cover letter generation is already in progress, try again shortly"
	case errors.Is(err, generation.ErrContentBlocked):
		return "The analysis service refused this content"
	case errors.Is(err, generation.ErrRemote):
		return "The analysis service is unavailable, try again later"
	case GetErrorKind(err) == KindPersistence:
		return "Storage is temporarily unavailable, try again later"
	default:
		return "An unexpected error occurred"
	}
}
