package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/jobfit-api/internal/generation"
)

// MockAnalyzer implements generation.Analyzer for testing.
type MockAnalyzer struct {
	// AnalyzeFn allows test cases to mock the Analyze behavior
	AnalyzeFn func(ctx context.Context, combinedText string, mode generation.Mode) (*generation.Analysis, error)

	// Default response values, used when AnalyzeFn is nil
	Analysis *generation.Analysis
	Err      error

	mu    sync.Mutex
	calls []AnalyzeCall
}

// AnalyzeCall records one call to Analyze.
type AnalyzeCall struct {
	CombinedText string
	Mode         generation.Mode
}

var _ generation.Analyzer = (*MockAnalyzer)(nil)

// Analyze implements generation.Analyzer.
func (m *MockAnalyzer) Analyze(
	ctx context.Context,
	combinedText string,
	mode generation.Mode,
) (*generation.Analysis, error) {
	m.mu.Lock()
	m.calls = append(m.calls, AnalyzeCall{CombinedText: combinedText, Mode: mode})
	m.mu.Unlock()

	if m.AnalyzeFn != nil {
		return m.AnalyzeFn(ctx, combinedText, mode)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Analysis != nil {
		a := *m.Analysis
		return &a, nil
	}
	return DefaultAnalysis(mode), nil
}

// Calls returns the recorded calls.
func (m *MockAnalyzer) Calls() []AnalyzeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AnalyzeCall(nil), m.calls...)
}

// CallCount returns how many times Analyze was called.
func (m *MockAnalyzer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// DefaultAnalysis is a plausible answer for mode.
func DefaultAnalysis(mode generation.Mode) *generation.Analysis {
	if mode == generation.ModeCoverLetter {
		return &generation.Analysis{CoverLetter: "Dear hiring manager, I would love to join."}
	}
	return &generation.Analysis{
		MatchScore:            80,
		WeakSkills:            []string{"Kubernetes"},
		SuggestedImprovements: []string{"Quantify impact"},
		SuggestedCourses:      []string{"CKA"},
		CoverLetter:           "Dear team, here is why I fit.",
	}
}
