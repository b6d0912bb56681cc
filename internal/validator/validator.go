// Package validator checks generated SQL against the PostgreSQL grammar and
// the live catalog.
package validator

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"github.com/pganalyze/pg_query_go/v6/parser"

	"github.com/kyleking/sqlrag/internal/catalog"
	"github.com/kyleking/sqlrag/internal/errors"
)

// Stage is where validation stopped
type Stage string

const (
	StageSyntax Stage = "syntax"
	StageSchema Stage = "schema"
)

// Kind is the kind of schema reference that failed to resolve
type Kind string

const (
	KindTable  Kind = "table"
	KindColumn Kind = "column"
)

// ReasonKindNotAllowed is the reason given when the statement kind is refused
const ReasonKindNotAllowed = "statement kind not allowed"

// Options control what the validator accepts
type Options struct {
	// SingleStatement rejects input with more than one statement
	SingleStatement bool
	// AllowWrites accepts INSERT, UPDATE, DELETE and MERGE
	AllowWrites bool
	// ContextTables are the tables the model was shown; they are preferred when
	// naming other owners of an unresolved column.
	ContextTables []string
}

// Outcome is the result of validating one piece of SQL. The zero value is not
// valid; use Valid to test.
type Outcome struct {
	Valid       bool     `json:"valid"`
	Stage       Stage    `json:"stage,omitempty"`
	Reason      string   `json:"reason,omitempty"`
	Kind        Kind     `json:"kind,omitempty"`
	Reference   string   `json:"reference,omitempty"`
	Table       string   `json:"table,omitempty"`
	Suggestion  string   `json:"suggestion,omitempty"`
	OwnerTables []string `json:"owner_tables,omitempty"`
	Line        int      `json:"line,omitempty"`
	Column      int      `json:"column,omitempty"`
	// Tables lists the catalog tables a valid statement reads or writes
	Tables []string `json:"tables,omitempty"`
}

// OutcomeError carries an invalid Outcome through error returns
type OutcomeError struct {
	Outcome Outcome
	err     *errors.Error
}

func (e *OutcomeError) Error() string {
	return e.err.Error()
}

func (e *OutcomeError) Unwrap() error {
	return e.err
}

// Err returns nil for a valid outcome, otherwise an *OutcomeError wrapping a
// syntax-invalid or schema-invalid error.
func (o Outcome) Err() error {
	if o.Valid {
		return nil
	}

	errType := errors.ErrTypeSyntaxInvalid
	if o.Stage == StageSchema {
		errType = errors.ErrTypeSchemaInvalid
	}

	e := errors.New(errType, o.Reason)
	if o.Kind != "" {
		e.WithDetail("kind", string(o.Kind)).WithDetail("reference", o.Reference)
	}

	if o.Line > 0 {
		e.WithDetail("line", o.Line).WithDetail("column", o.Column)
	}

	if o.Suggestion != "" {
		e.WithDetail("suggestion", o.Suggestion).
			WithSuggestion(fmt.Sprintf("Did you mean %s?", o.Suggestion))
	}

	if len(o.OwnerTables) > 0 {
		e.WithDetail("owner_tables", o.OwnerTables).
			WithSuggestion(fmt.Sprintf("Column %s exists on %s", o.Reference, strings.Join(o.OwnerTables, ", ")))
	}

	return &OutcomeError{Outcome: o, err: e}
}

// Validator checks SQL against one catalog snapshot
type Validator struct {
	cat *catalog.Catalog
}

// New creates a validator for cat
func New(cat *catalog.Catalog) *Validator {
	return &Validator{cat: cat}
}

// Validate parses sql, applies the statement policy, then checks every table
// reference followed by every column reference, each in textual order. The
// first failure wins.
func (v *Validator) Validate(sql string, opts Options) Outcome {
	result, err := pg_query.Parse(sql)
	if err != nil {
		return syntaxOutcome(sql, err)
	}

	stmts := result.GetStmts()
	if len(stmts) == 0 {
		return Outcome{Stage: StageSyntax, Reason: "no SQL statement found"}
	}

	if len(stmts) > 1 && opts.SingleStatement {
		return Outcome{
			Stage:  StageSyntax,
			Reason: fmt.Sprintf("expected a single statement, found %d", len(stmts)),
		}
	}

	for _, raw := range stmts {
		if reason, ok := allowed(raw.GetStmt(), opts.AllowWrites); !ok {
			return Outcome{Stage: StageSyntax, Reason: reason}
		}
	}

	tableSet := make(map[string]bool)

	for _, raw := range stmts {
		if o := v.checkTables(sql, raw.GetStmt(), tableSet); !o.Valid {
			return o
		}
	}

	for _, raw := range stmts {
		if o := v.checkColumns(sql, raw.GetStmt(), opts); !o.Valid {
			return o
		}
	}

	tables := make([]string, 0, len(tableSet))
	for id := range tableSet {
		tables = append(tables, id)
	}

	sort.Strings(tables)

	return Outcome{Valid: true, Tables: tables}
}

func syntaxOutcome(sql string, err error) Outcome {
	o := Outcome{Stage: StageSyntax, Reason: err.Error()}

	var pgErr *parser.Error
	if errors.As(err, &pgErr) {
		o.Reason = pgErr.Message
		if pgErr.Cursorpos > 0 {
			o.Line, o.Column = runeLineCol(sql, pgErr.Cursorpos-1)
		}
	}

	if o.Line > 0 {
		o.Reason = fmt.Sprintf("%s (line %d, column %d)", o.Reason, o.Line, o.Column)
	}

	return o
}

// runeLineCol converts a 0-based character offset to a 1-based line and column
func runeLineCol(sql string, offset int) (int, int) {
	line, col := 1, 1

	for i, n := 0, 0; i < len(sql) && n < offset; n++ {
		r, size := utf8.DecodeRuneInString(sql[i:])
		i += size

		if r == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}

	return line, col
}

// byteLineCol converts a 0-based byte offset to a 1-based line and column
func byteLineCol(sql string, offset int32) (int, int) {
	if offset < 0 || int(offset) > len(sql) {
		return 0, 0
	}

	prefix := sql[:offset]
	line := strings.Count(prefix, "\n") + 1
	col := utf8.RuneCountInString(prefix[strings.LastIndexByte(prefix, '\n')+1:]) + 1

	return line, col
}
