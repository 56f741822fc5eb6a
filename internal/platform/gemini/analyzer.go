package gemini

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"text/template"

	"github.com/phrazzld/jobfit-api/internal/config"
	"github.com/phrazzld/jobfit-api/internal/generation"
	"github.com/phrazzld/jobfit-api/internal/platform/logger"
	"google.golang.org/genai"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

// Analyzer implements generation.Analyzer using Gemini.
type Analyzer struct {
	logger    *slog.Logger
	client    *genai.Client
	models    map[generation.Mode]string
	templates map[generation.Mode]*template.Template
}

var _ generation.Analyzer = (*Analyzer)(nil)

// NewAnalyzer creates a new Analyzer from the LLM configuration.
func NewAnalyzer(ctx context.Context, log *slog.Logger, cfg config.LLMConfig) (*Analyzer, error) {
	if log == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}
	coverLetterModel := cfg.CoverLetterModelName
	if coverLetterModel == "" {
		coverLetterModel = cfg.ModelName
	}

	templates := make(map[generation.Mode]*template.Template, 2)
	for mode, file := range map[generation.Mode]string{
		generation.ModeMatch:       "prompts/match.tmpl",
		generation.ModeCoverLetter: "prompts/cover_letter.tmpl",
	} {
		tmpl, err := template.ParseFS(promptFS, file)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to parse prompt template %s: %v",
				generation.ErrInvalidConfig, file, err)
		}
		templates[mode] = tmpl
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v",
			generation.ErrInvalidConfig, err)
	}

	return &Analyzer{
		logger: log.With(slog.String("component", "gemini_analyzer")),
		client: client,
		models: map[generation.Mode]string{
			generation.ModeMatch:       cfg.ModelName,
			generation.ModeCoverLetter: coverLetterModel,
		},
		templates: templates,
	}, nil
}

// Analyze implements generation.Analyzer.
func (a *Analyzer) Analyze(
	ctx context.Context,
	combinedText string,
	mode generation.Mode,
) (*generation.Analysis, error) {
	log := logger.FromContextOrDefault(ctx, a.logger).With(slog.String("mode", string(mode)))

	tmpl, ok := a.templates[mode]
	if !ok {
		return nil, fmt.Errorf("%w: unknown mode %q", generation.ErrInvalidInput, mode)
	}

	resume, jobDescription, err := generation.SplitInputs(combinedText)
	if err != nil {
		return nil, err
	}

	var prompt bytes.Buffer
	if err := tmpl.Execute(&prompt, promptData{Resume: resume, JobDescription: jobDescription}); err != nil {
		return nil, fmt.Errorf("failed to execute prompt template: %w", err)
	}

	schema := matchSchema()
	if mode == generation.ModeCoverLetter {
		schema = coverLetterSchema()
	}

	log.Debug("calling Gemini",
		slog.String("model", a.models[mode]),
		slog.Int("prompt_length", prompt.Len()))

	resp, err := a.client.Models.GenerateContent(ctx, a.models[mode], genai.Text(prompt.String()),
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   schema,
		})
	if err != nil {
		mapped := mapAPIError(err)
		log.Warn("Gemini call failed", slog.String("error", err.Error()))
		return nil, mapped
	}

	text, err := responseText(resp)
	if err != nil {
		log.Warn("unusable Gemini response", slog.String("error", err.Error()))
		return nil, err
	}

	if mode == generation.ModeCoverLetter {
		return parseCoverLetter(text)
	}
	return parseMatch(text)
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", fmt.Errorf("%w: nil response", generation.ErrInvalidResponse)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: prompt blocked (%s)", generation.ErrContentBlocked, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no content generated", generation.ErrInvalidResponse)
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", fmt.Errorf("%w: response blocked by safety filters", generation.ErrContentBlocked)
	}
	if candidate.Content == nil {
		return "", fmt.Errorf("%w: empty content in response", generation.ErrInvalidResponse)
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", fmt.Errorf("%w: empty text in response", generation.ErrInvalidResponse)
	}
	return stripCodeFence(sb.String()), nil
}

// stripCodeFence removes a ```json ... ``` wrapper some models add despite
// the response MIME type.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func parseMatch(text string) (*generation.Analysis, error) {
	var r matchResponse
	if err := json.Unmarshal([]byte(text), &r); err != nil {
		return nil, fmt.Errorf("%w: failed to parse JSON response: %v", generation.ErrInvalidResponse, err)
	}
	if r.MatchScore == nil {
		return nil, fmt.Errorf("%w: missing matchScore", generation.ErrInvalidResponse)
	}
	if *r.MatchScore < 0 || *r.MatchScore > 100 {
		return nil, fmt.Errorf("%w: matchScore %d out of range", generation.ErrInvalidResponse, *r.MatchScore)
	}

	return &generation.Analysis{
		MatchScore:            *r.MatchScore,
		WeakSkills:            nonNil(r.WeakSkills),
		SuggestedImprovements: nonNil(r.SuggestedImprovements),
		SuggestedCourses:      nonNil(r.SuggestedCourses),
		CoverLetter:           r.CoverLetter,
	}, nil
}

func parseCoverLetter(text string) (*generation.Analysis, error) {
	var r coverLetterResponse
	if err := json.Unmarshal([]byte(text), &r); err != nil {
		return nil, fmt.Errorf("%w: failed to parse JSON response: %v", generation.ErrInvalidResponse, err)
	}
	if strings.TrimSpace(r.CoverLetter) == "" {
		return nil, fmt.Errorf("%w: empty cover letter", generation.ErrInvalidResponse)
	}
	return &generation.Analysis{CoverLetter: strings.TrimSpace(r.CoverLetter)}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// mapAPIError sorts SDK errors into the generation taxonomy. Rate limiting
// and server errors are transient; other 4xx responses are not.
func mapAPIError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
	}

	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		code = apiErrPtr.Code
	}

	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: %v", generation.ErrInvalidConfig, err)
	case code == http.StatusTooManyRequests || code >= 500 || code == http.StatusRequestTimeout:
		return fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
	case code >= 400:
		return fmt.Errorf("%w: %v", generation.ErrRejected, err)
	}

	// Anything without an HTTP status is a transport problem.
	return fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
}
