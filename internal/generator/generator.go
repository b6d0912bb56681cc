// Package generator asks the model for SQL and extracts the statement from its reply.
package generator

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kyleking/sqlrag/internal/errors"
	"github.com/kyleking/sqlrag/internal/llm"
	"github.com/kyleking/sqlrag/internal/logging"
	"github.com/kyleking/sqlrag/internal/prompt"
)

// GeneratedQuery is extracted SQL plus where it came from. The SQL is
// untrusted until validated.
type GeneratedQuery struct {
	SQL         string    `json:"sql"`
	Reply       string    `json:"reply"`
	Prompt      string    `json:"-"`
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Generator wraps a generation service
type Generator struct {
	service llm.Service
	now     func() time.Time
}

// New creates a generator
func New(service llm.Service) *Generator {
	return &Generator{service: service, now: time.Now}
}

// Model returns the wrapped service's name
func (g *Generator) Model() string {
	return g.service.Name()
}

// Generate sends an assembled prompt to the model
func (g *Generator) Generate(ctx context.Context, pc *prompt.Context) (*GeneratedQuery, error) {
	return g.GenerateText(ctx, pc.Text)
}

// GenerateText sends a raw prompt, such as a repair prompt, to the model.
// Service failures are returned unchanged so callers can retry them; replies
// without SQL fail with a generation-empty error.
func (g *Generator) GenerateText(ctx context.Context, promptText string) (*GeneratedQuery, error) {
	completion, err := g.service.Complete(ctx, promptText)
	if err != nil {
		return nil, err
	}

	sql, err := Extract(completion.Text)
	if err != nil {
		return nil, err
	}

	q := &GeneratedQuery{
		SQL:         sql,
		Reply:       completion.Text,
		Prompt:      promptText,
		Provider:    completion.Provider,
		Model:       completion.Model,
		GeneratedAt: g.now().UTC(),
	}

	logging.WithFields(map[string]any{
		"model": completion.Provider + ":" + completion.Model,
		"sql":   sql,
	}).Debug("Extracted SQL from reply")

	return q, nil
}

var (
	fencePattern   = regexp.MustCompile("(?s)```(?:[ \t]*[A-Za-z0-9_+-]+[ \t]*\r?\n|[ \t]*\r?\n?)(.*?)```")
	keywordPattern = regexp.MustCompile(`(?im)(?:^[ \t]*|[:.!?][ \t]+)(SELECT|WITH|INSERT|UPDATE|DELETE|VALUES|TABLE|EXPLAIN)\b`)
)

// Extract pulls the SQL out of a model reply. The first fenced block wins;
// without one, the first statement keyword at a line start or after a colon
// or sentence break is taken up to its terminating semicolon.
func Extract(reply string) (string, error) {
	trimmed := strings.TrimSpace(reply)

	if reason, ok := missingReason(trimmed); ok {
		return "", errors.Newf(errors.ErrTypeGenerationEmpty, "the model reports the schema cannot answer: %s", reason).
			WithDetail("reason", reason).
			WithSuggestion("Rephrase the question using tables listed by 'sqlrag catalog show'")
	}

	if m := fencePattern.FindStringSubmatch(trimmed); m != nil {
		if sql := strings.TrimSpace(m[1]); sql != "" {
			return sql, nil
		}
	}

	if loc := keywordPattern.FindStringSubmatchIndex(trimmed); loc != nil {
		if sql := strings.TrimSpace(statementAt(trimmed[loc[2]:])); sql != "" {
			return sql, nil
		}
	}

	return "", errors.New(errors.ErrTypeGenerationEmpty, "the model reply contains no SQL statement").
		WithDetail("reply", truncate(trimmed, 200))
}

func missingReason(reply string) (string, bool) {
	if len(reply) < len(prompt.MissingPrefix) ||
		!strings.EqualFold(reply[:len(prompt.MissingPrefix)], prompt.MissingPrefix) {
		return "", false
	}

	reason := strings.TrimSpace(reply[len(prompt.MissingPrefix):])
	if reason == "" {
		reason = "no reason given"
	}

	return reason, true
}

// statementAt returns text up to and including the first semicolon outside
// quotes and comments, or all of it.
func statementAt(text string) string {
	var quote byte

	for i := 0; i < len(text); i++ {
		ch := text[i]

		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '\'' || ch == '"':
			quote = ch
		case ch == '-' && i+1 < len(text) && text[i+1] == '-':
			if nl := strings.IndexByte(text[i:], '\n'); nl >= 0 {
				i += nl
			} else {
				return text
			}
		case ch == ';':
			return text[:i+1]
		}
	}

	return text
}

// truncate keeps at most n characters of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}

	runes := []rune(s)

	return string(runes[:n]) + "..."
}
