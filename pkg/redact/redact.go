// Package redact scrubs sensitive data out of a subject process's terminal
// output before it is persisted to the Conversation Store or broadcast over
// the Observer channel. The two-phase apply (structural maskers first, then
// a general regex sweep) and the fail-closed error handling follow the
// teacher's pkg/masking.MaskingService, simplified from its per-MCP-server
// pattern-group registry to a single fixed built-in set: this engine
// supervises one subject process per task rather than routing through many
// independently configured MCP servers.
package redact

import (
	"log/slog"
	"regexp"
)

// Masker is a structurally-aware redactor for a specific content shape
// (e.g. a parsed JSON/YAML document) that a plain regex sweep can't express
// safely.
type Masker interface {
	Name() string
	AppliesTo(data string) bool
	Mask(data string) string
}

type compiledPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

var builtinPatterns = []compiledPattern{
	{name: "aws_access_key", regex: regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), replacement: "[MASKED_AWS_ACCESS_KEY]"},
	{name: "aws_secret_key", regex: regexp.MustCompile(`(?i)aws_secret_access_key\s*[:=]\s*\S+`), replacement: "aws_secret_access_key=[MASKED_AWS_SECRET_KEY]"},
	{name: "bearer_token", regex: regexp.MustCompile(`(?i)bearer\s+[a-z0-9._-]{16,}`), replacement: "Bearer [MASKED_TOKEN]"},
	{name: "private_key_block", regex: regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`), replacement: "[MASKED_PRIVATE_KEY]"},
	{name: "generic_api_token", regex: regexp.MustCompile(`(?i)\b(api[_-]?key|api[_-]?token|access[_-]?token)\b\s*[:=]\s*['"]?[a-z0-9._-]{16,}['"]?`), replacement: "[MASKED_API_TOKEN]"},
}

// Redactor applies every registered Masker followed by the built-in regex
// sweep to a chunk of subject output. The zero value is ready to use.
type Redactor struct {
	maskers []Masker
}

// New creates a Redactor with the structured-document secret masker
// registered by default.
func New() *Redactor {
	return &Redactor{maskers: []Masker{&StructuredSecretMasker{}}}
}

// Register adds an additional structural Masker.
func (r *Redactor) Register(m Masker) {
	r.maskers = append(r.maskers, m)
}

// Mask applies structural maskers first (more specific, shape-aware), then
// the general regex sweep. Never panics: a masker failure is logged and
// skipped rather than propagated, so a redaction bug cannot crash task
// supervision mid-stream.
func (r *Redactor) Mask(content string) string {
	masked := content
	for _, m := range r.maskers {
		masked = r.applyMasker(m, masked)
	}
	for _, p := range builtinPatterns {
		masked = p.regex.ReplaceAllString(masked, p.replacement)
	}
	return masked
}

func (r *Redactor) applyMasker(m Masker, content string) (result string) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("redact: masker panicked, leaving content unmasked", "masker", m.Name(), "panic", rec)
			result = content
		}
	}()
	if !m.AppliesTo(content) {
		return content
	}
	return m.Mask(content)
}
