// Package repair runs the bounded generate, validate and correct loop.
package repair

import (
	"context"
	"fmt"

	"github.com/kyleking/sqlrag/internal/errors"
	"github.com/kyleking/sqlrag/internal/generator"
	"github.com/kyleking/sqlrag/internal/logging"
	"github.com/kyleking/sqlrag/internal/prompt"
	"github.com/kyleking/sqlrag/internal/validator"
)

// DefaultMaxAttempts caps generations per request, the first one included
const DefaultMaxAttempts = 3

// State is a step of the loop
type State string

const (
	StateGenerated       State = "generated"
	StateGenerationEmpty State = "generation_empty"
	StateParsing         State = "parsing"
	StateSyntaxValid     State = "syntax_valid"
	StateSyntaxInvalid   State = "syntax_invalid"
	StateSchemaChecking  State = "schema_checking"
	StateSchemaInvalid   State = "schema_invalid"
	StateAccepted        State = "accepted"
	StateRejected        State = "rejected"
)

// Attempt records one generation and what validation made of it
type Attempt struct {
	Number      int               `json:"attempt"`
	SQL         string            `json:"sql,omitempty"`
	States      []State           `json:"states"`
	Outcome     validator.Outcome `json:"outcome"`
	Error       string            `json:"error,omitempty"`
	Model       string            `json:"model,omitempty"`
	GeneratedAt string            `json:"generated_at,omitempty"`
}

// Final is the last state the attempt reached
func (a Attempt) Final() State {
	if len(a.States) == 0 {
		return ""
	}

	return a.States[len(a.States)-1]
}

// Result is an accepted query
type Result struct {
	SQL      string                    `json:"sql"`
	Query    *generator.GeneratedQuery `json:"query"`
	Tables   []string                  `json:"tables"`
	Attempts int                       `json:"attempts"`
	Trail    []Attempt                 `json:"trail"`
}

// Rejection is returned when no attempt produced valid SQL. It never carries
// SQL that passed validation.
type Rejection struct {
	Question string    `json:"question"`
	LastSQL  string    `json:"last_sql,omitempty"`
	Attempts int       `json:"attempts"`
	Trail    []Attempt `json:"trail"`
	err      *errors.Error
}

func (r *Rejection) Error() string {
	return r.err.Error()
}

func (r *Rejection) Unwrap() error {
	return r.err
}

func newRejection(question, lastSQL string, trail []Attempt) *Rejection {
	last := trail[len(trail)-1]

	reason := last.Error
	if reason == "" {
		reason = last.Outcome.Reason
	}

	e := errors.Newf(errors.ErrTypeRejected, "no valid SQL after %d attempts; last error: %s", len(trail), reason).
		WithDetail("attempts", len(trail))

	if last.Outcome.Reference != "" {
		e.WithDetail("reference", last.Outcome.Reference)
	}

	if last.Outcome.Suggestion != "" {
		e.WithSuggestion(fmt.Sprintf("The closest match for %s is %s", last.Outcome.Reference, last.Outcome.Suggestion))
	}

	e.WithSuggestion("Rephrase the question or name the tables involved explicitly")

	return &Rejection{Question: question, LastSQL: lastSQL, Attempts: len(trail), Trail: trail, err: e}
}

// Loop drives generation and validation for one request
type Loop struct {
	generator   *generator.Generator
	validator   *validator.Validator
	maxAttempts int
	allowWrites bool
}

// NewLoop creates a loop. maxAttempts <= 0 uses DefaultMaxAttempts.
func NewLoop(gen *generator.Generator, val *validator.Validator, maxAttempts int, allowWrites bool) *Loop {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	return &Loop{generator: gen, validator: val, maxAttempts: maxAttempts, allowWrites: allowWrites}
}

// MaxAttempts returns the generation cap
func (l *Loop) MaxAttempts() int {
	return l.maxAttempts
}

// Run generates SQL for pc and validates it, re-prompting with the specific
// error after each failure. Generation service errors and cancellation end the
// loop at once; exhausting the cap returns a *Rejection.
func (l *Loop) Run(ctx context.Context, pc *prompt.Context) (*Result, error) {
	opts := validator.Options{
		SingleStatement: pc.Template.SingleStatement,
		AllowWrites:     l.allowWrites,
		ContextTables:   pc.TableIDs(),
	}

	var (
		trail   []Attempt
		lastSQL string
	)

	text := pc.Text

	for n := 1; n <= l.maxAttempts; n++ {
		attempt := Attempt{Number: n}

		q, err := l.generator.GenerateText(ctx, text)
		if err != nil {
			if !errors.IsType(err, errors.ErrTypeGenerationEmpty) {
				return nil, err
			}

			attempt.States = []State{StateGenerationEmpty}
			attempt.Error = err.Error()
			trail = append(trail, attempt)
			text = prompt.RepairPrompt(pc, prompt.Correction{Reason: messageOf(err)})

			logging.WithFields(map[string]any{"attempt": n}).Debug("Model reply contained no SQL")

			continue
		}

		lastSQL = q.SQL
		attempt.SQL = q.SQL
		attempt.Model = q.Provider + ":" + q.Model
		attempt.GeneratedAt = q.GeneratedAt.Format("2006-01-02T15:04:05Z07:00")

		outcome := l.validator.Validate(q.SQL, opts)
		attempt.Outcome = outcome
		attempt.States = transitions(outcome)
		trail = append(trail, attempt)

		if outcome.Valid {
			logging.WithFields(map[string]any{
				"attempts": n,
				"tables":   outcome.Tables,
			}).Debug("Accepted generated SQL")

			return &Result{SQL: q.SQL, Query: q, Tables: outcome.Tables, Attempts: n, Trail: trail}, nil
		}

		logging.WithFields(map[string]any{
			"attempt":   n,
			"stage":     outcome.Stage,
			"reason":    outcome.Reason,
			"reference": outcome.Reference,
		}).Debug("Generated SQL failed validation")

		text = prompt.RepairPrompt(pc, prompt.Correction{
			SQL:         q.SQL,
			Reason:      outcome.Reason,
			Reference:   outcome.Reference,
			Suggestion:  outcome.Suggestion,
			OwnerTables: outcome.OwnerTables,
		})
	}

	trail[len(trail)-1].States = append(trail[len(trail)-1].States, StateRejected)

	return nil, newRejection(pc.Question, lastSQL, trail)
}

// transitions lists the states one validation passed through
func transitions(o validator.Outcome) []State {
	states := []State{StateGenerated, StateParsing}

	if !o.Valid && o.Stage == validator.StageSyntax {
		return append(states, StateSyntaxInvalid)
	}

	states = append(states, StateSyntaxValid, StateSchemaChecking)

	if o.Valid {
		return append(states, StateAccepted)
	}

	return append(states, StateSchemaInvalid)
}

func messageOf(err error) string {
	var structured *errors.Error
	if errors.As(err, &structured) {
		return structured.Message
	}

	return err.Error()
}
