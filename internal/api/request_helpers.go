package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/phrazzld/jobfit-api/internal/api/shared"
	"github.com/phrazzld/jobfit-api/internal/domain"
)

// getPathUUID extracts a UUID from the URL path parameters.
func getPathUUID(r *http.Request, paramName string) (uuid.UUID, error) {
	pathParam := chi.URLParam(r, paramName)
	if pathParam == "" {
		return uuid.Nil, domain.NewValidationError(paramName, "is required")
	}

	id, err := uuid.Parse(pathParam)
	if err != nil {
		return uuid.Nil, domain.NewValidationError(paramName, "has invalid format")
	}

	return id, nil
}

// toValidationError converts the first validator failure into a
// domain.ValidationError named after the JSON field.
func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return domain.NewValidationError("body", "is invalid")
	}

	field := verrs[0].Field()
	switch field {
	case "ResumeText":
		field = "resume_text"
	case "JobDescription":
		field = "job_description"
	}
	if verrs[0].Tag() == "required" {
		return domain.NewValidationError(field, "is required")
	}
	return domain.NewValidationError(field, "is invalid")
}

// HandleAPIError writes the status, kind and safe message for err and logs
// the redacted details.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error) {
	shared.RespondWithErrorAndLog(w, r,
		MapErrorToStatusCode(err),
		GetErrorKind(err),
		GetSafeErrorMessage(err),
		err)
}
