// Package gemini implements generation.Analyzer on top of Google's Gemini API
// through the google.golang.org/genai SDK. Prompts are embedded text
// templates and responses are constrained to a JSON schema.
package gemini
