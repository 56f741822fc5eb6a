package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/phrazzld/jobfit-api/internal/api/shared"
	"github.com/phrazzld/jobfit-api/internal/domain"
	"github.com/phrazzld/jobfit-api/internal/extract"
	"github.com/phrazzld/jobfit-api/internal/platform/logger"
	"github.com/phrazzld/jobfit-api/internal/service"
)

// Multipart field names accepted by POST /api/analyze.
const (
	formFieldResume         = "resume"
	formFieldJobDescription = "jobDescription"
)

// DefaultMaxUploadBytes limits request bodies when no limit is configured.
const DefaultMaxUploadBytes int64 = 10 << 20

// TaskHandler handles analysis task HTTP requests.
type TaskHandler struct {
	service        service.TaskService
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(svc service.TaskService, maxUploadBytes int64, log *slog.Logger) *TaskHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	if log == nil {
		log = slog.Default()
	}
	return &TaskHandler{
		service:        svc,
		maxUploadBytes: maxUploadBytes,
		logger:         log.With(slog.String("component", "task_handler")),
	}
}

// SubmitAnalysis handles POST /api/analyze. It accepts either a multipart
// form with a resume file and a jobDescription field, or a JSON body with
// both texts.
func (h *TaskHandler) SubmitAnalysis(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	var (
		resumeText, jobDescription string
		err                        error
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		resumeText, jobDescription, err = h.readMultipart(r)
	} else {
		resumeText, jobDescription, err = readJSON(r)
	}
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}

	task, err := h.service.SubmitAnalysis(r.Context(), resumeText, jobDescription)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	h.requestLogger(r).Info("analysis submitted", slog.String("task_id", task.ID.String()))

	shared.RespondWithJSON(w, r, http.StatusAccepted, SubmitResponse{ID: task.ID, Status: task.Status})
}

func (h *TaskHandler) readMultipart(r *http.Request) (string, string, error) {
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		return "", "", bodyError(err)
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	jobDescription := r.FormValue(formFieldJobDescription)

	file, header, err := r.FormFile(formFieldResume)
	if errors.Is(err, http.ErrMissingFile) {
		return "", "", domain.NewValidationError(formFieldResume, "file is required")
	}
	if err != nil {
		return "", "", bodyError(err)
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", "", bodyError(err)
	}

	doc, err := extract.Extract(data)
	if err != nil {
		logger.FromContextOrDefault(r.Context(), h.logger).Debug("resume extraction failed",
			slog.String("filename", header.Filename),
			slog.Int64("size", header.Size),
			slog.String("error", err.Error()))
		return "", "", err
	}

	logger.FromContextOrDefault(r.Context(), h.logger).Debug("resume extracted",
		slog.String("mime_type", doc.MIMEType),
		slog.Int("text_length", len(doc.Text)))
	return doc.Text, jobDescription, nil
}

func readJSON(r *http.Request) (string, string, error) {
	var req AnalyzeRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return "", "", errPayloadTooLarge
		}
		return "", "", domain.NewValidationError("body", "must be a JSON object with resume_text and job_description")
	}
	if err := shared.ValidateRequest(&req); err != nil {
		return "", "", toValidationError(err)
	}
	return req.ResumeText, req.JobDescription, nil
}

// bodyError maps request body read failures to API errors.
func bodyError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return fmt.Errorf("%w: limit %d bytes", errPayloadTooLarge, maxErr.Limit)
	}
	return domain.NewValidationError("body", "is not a valid multipart form")
}

// GetResult handles GET /api/results/{id}.
func (h *TaskHandler) GetResult(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}

	task, err := h.service.GetTask(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(task))
}

// GenerateCoverLetter handles POST /api/cover-letter/{id}.
func (h *TaskHandler) GenerateCoverLetter(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}

	letter, err := h.service.GenerateCoverLetter(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}

	h.requestLogger(r).Info("cover letter served",
		slog.String("task_id", id.String()),
		slog.Bool("cached", letter.Cached))

	message := "Cover letter generated"
	if letter.Cached {
		message = "Already generated"
	}
	shared.RespondWithJSON(w, r, http.StatusOK, CoverLetterResponse{
		Message:     message,
		CoverLetter: letter.Text,
	})
}

// requestLogger returns the request's logger, tagged with the authenticated
// subject when there is one.
func (h *TaskHandler) requestLogger(r *http.Request) *slog.Logger {
	log := logger.FromContextOrDefault(r.Context(), h.logger)
	if subject, ok := shared.GetSubject(r.Context()); ok {
		log = log.With(slog.String("subject", subject))
	}
	return log
}
