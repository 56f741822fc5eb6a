package generation

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Separator joins the resume and the job description in the combined text
// sent to the model.
const Separator = "<<<JD>>>"

// Mode selects what the model is asked to produce.
type Mode string

const (
	// ModeMatch asks for the score, gaps, suggestions, courses and a cover letter.
	ModeMatch Mode = "match"
	// ModeCoverLetter asks for a cover letter only.
	ModeCoverLetter Mode = "cover_letter"
)

// Analysis is the model's answer. Only CoverLetter is set in ModeCoverLetter.
type Analysis struct {
	MatchScore            int
	WeakSkills            []string
	SuggestedImprovements []string
	SuggestedCourses      []string
	CoverLetter           string
}

// Analyzer is the boundary between the pipeline and the remote language
// model.
type Analyzer interface {
	// Analyze sends combinedText (see CombineInputs) in the given mode.
	// Failures wrap ErrRemote. Malformed input is reported as ErrInvalidInput.
	Analyze(ctx context.Context, combinedText string, mode Mode) (*Analysis, error)
}

// CombineInputs builds the combined text for Analyze.
func CombineInputs(resumeText, jobDescription string) string {
	return resumeText + Separator + jobDescription
}

// SplitInputs reverses CombineInputs. The job description is everything
// after the first separator.
func SplitInputs(combined string) (resumeText, jobDescription string, err error) {
	resumeText, jobDescription, ok := strings.Cut(combined, Separator)
	if !ok {
		return "", "", fmt.Errorf("%w: missing %s separator", ErrInvalidInput, Separator)
	}
	if strings.TrimSpace(resumeText) == "" || strings.TrimSpace(jobDescription) == "" {
		return "", "", fmt.Errorf("%w: empty resume or job description", ErrInvalidInput)
	}
	return resumeText, jobDescription, nil
}

// Truncate returns the first n characters of s, counting runes so a
// multi-byte character is never split.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for idx := range s {
		if i == n {
			return s[:idx]
		}
		i++
	}
	return s
}
