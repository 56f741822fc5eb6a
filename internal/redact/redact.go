// Package redact strips credentials and personal data from error text before
// it is logged or persisted as a task's LastError. Remote analysis errors can
// echo request URLs (with the API key) and fragments of the submitted resume,
// and store errors can echo SQL and connection strings.
package redact

import (
	"regexp"
	"unicode/utf8"
)

// Placeholders substituted for redacted values.
const (
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
	RedactedJWTPlaceholder        = "[REDACTED_JWT]"
	RedactedEmailPlaceholder      = "[REDACTED_EMAIL]"
	RedactedPhonePlaceholder      = "[REDACTED_PHONE]"
	RedactedSQLPlaceholder        = "[REDACTED_SQL]"
	RedactedPathPlaceholder       = "[REDACTED_PATH]"
	RedactedStackPlaceholder      = "[STACK_TRACE_REDACTED]"
)

// MaxLength bounds the redacted output. Longer text is cut and suffixed with
// "...".
const MaxLength = 512

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// rules run in order; later rules see the output of earlier ones.
var rules = []rule{
	{
		regexp.MustCompile(`(?:goroutine \d+|panic:)[\s\S]*?(\n\t.*)+`),
		RedactedStackPlaceholder,
	},
	{
		// user:password@ in postgres, redis and similar URLs
		regexp.MustCompile(`(?i)\b(postgres(?:ql)?|rediss?|mysql|amqp|sqlite)://[^@\s/]*@`),
		"${1}://" + RedactedCredentialPlaceholder + "@",
	},
	{
		// Google API keys as used by the Gemini API
		regexp.MustCompile(`AIza[0-9A-Za-z_\-]{35}`),
		RedactedKeyPlaceholder,
	},
	{
		regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`),
		RedactedJWTPlaceholder,
	},
	{
		regexp.MustCompile(`(?i)\b(bearer\s+)[A-Za-z0-9_\-.~+/=]{8,}`),
		"${1}" + RedactedKeyPlaceholder,
	},
	{
		regexp.MustCompile(
			`(?i)\b(api[_-]?key|key|token|secret|password|passwd|pwd)(\s*[=:]\s*)['"]?[^'"&\s\[][^'"&\s]{2,}['"]?`,
		),
		"${1}${2}" + RedactedCredentialPlaceholder,
	},
	{
		regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
		RedactedEmailPlaceholder,
	},
	{
		// International or grouped phone numbers, as found on resumes
		regexp.MustCompile(`\+?\(?\d{2,4}\)?[\s.-]\d{3}[\s.-]\d{3,4}\b`),
		RedactedPhonePlaceholder,
	},
	{
		// Upper-case keywords only, so prose such as "failed to update" survives
		regexp.MustCompile(`\b(SELECT|INSERT INTO|UPDATE|DELETE FROM)\s[^;\n]*`),
		"${1} " + RedactedSQLPlaceholder,
	},
	{
		regexp.MustCompile(`(?:/[\w.-]+){2,}`),
		RedactedPathPlaceholder,
	},
	{
		regexp.MustCompile(`[A-Za-z]:\\[^\\\s]+(?:\\[^\\\s]+)+`),
		RedactedPathPlaceholder,
	},
}

// String redacts sensitive information from input and bounds its length.
func String(input string) string {
	if input == "" {
		return input
	}

	result := input
	for _, r := range rules {
		result = r.pattern.ReplaceAllString(result, r.replacement)
	}

	return truncate(result, MaxLength)
}

// Error redacts the output of err.Error(). A nil error yields "".
func Error(err error) string {
	if err == nil {
		return ""
	}

	return String(err.Error())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n - len("...")
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
