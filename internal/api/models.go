package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/jobfit-api/internal/domain"
)

// AnalyzeRequest is the JSON form of POST /api/analyze.
type AnalyzeRequest struct {
	ResumeText     string `json:"resume_text"     validate:"required"`
	JobDescription string `json:"job_description" validate:"required"`
}

// SubmitResponse is returned by POST /api/analyze.
type SubmitResponse struct {
	ID     uuid.UUID         `json:"id"`
	Status domain.TaskStatus `json:"status"`
}

// ResultResponse carries the analysis outcome of a done task.
type ResultResponse struct {
	MatchScore            int      `json:"match_score"`
	WeakSkills            []string `json:"weak_skills"`
	SuggestedImprovements []string `json:"suggested_improvements"`
	SuggestedCourses      []string `json:"suggested_courses"`
}

// TaskResponse is returned by GET /api/results/{id}.
type TaskResponse struct {
	ID                uuid.UUID                `json:"id"`
	Status            domain.TaskStatus        `json:"status"`
	ResumeText        string                   `json:"resume_text"`
	JobDescription    string                   `json:"job_description"`
	Result            *ResultResponse          `json:"result,omitempty"`
	CoverLetter       string                   `json:"cover_letter,omitempty"`
	CoverLetterStatus domain.CoverLetterStatus `json:"cover_letter_status"`
	Attempts          int                      `json:"attempts"`
	LastError         string                   `json:"last_error,omitempty"`
	CreatedAt         time.Time                `json:"created_at"`
	UpdatedAt         time.Time                `json:"updated_at"`
	StartedAt         *time.Time               `json:"started_at,omitempty"`
	CompletedAt       *time.Time               `json:"completed_at,omitempty"`
}

// CoverLetterResponse is returned by POST /api/cover-letter/{id}.
type CoverLetterResponse struct {
	Message     string `json:"message"`
	CoverLetter string `json:"cover_letter"`
}

// taskToResponse converts a domain.Task to a TaskResponse.
func taskToResponse(t *domain.Task) TaskResponse {
	resp := TaskResponse{
		ID:                t.ID,
		Status:            t.Status,
		ResumeText:        t.ResumeText,
		JobDescription:    t.JobDescription,
		CoverLetter:       t.CoverLetter,
		CoverLetterStatus: t.CoverLetterStatus,
		Attempts:          t.Attempts,
		LastError:         t.LastError,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
		StartedAt:         t.StartedAt,
		CompletedAt:       t.CompletedAt,
	}
	if t.Result != nil {
		resp.Result = &ResultResponse{
			MatchScore:            t.Result.MatchScore,
			WeakSkills:            nonNil(t.Result.WeakSkills),
			SuggestedImprovements: nonNil(t.Result.SuggestedImprovements),
			SuggestedCourses:      nonNil(t.Result.SuggestedCourses),
		}
	}
	return resp
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
