// Package prompt builds bounded generation prompts from retrieved schema units.
package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kyleking/sqlrag/internal/chunker"
	"github.com/kyleking/sqlrag/internal/errors"
	"github.com/kyleking/sqlrag/internal/logging"
	"github.com/kyleking/sqlrag/internal/retriever"
)

// DefaultMaxChars bounds the assembled prompt
const DefaultMaxChars = 12000

// MissingPrefix starts a model reply that declares the schema cannot answer
const MissingPrefix = "MISSING:"

// Context is an assembled prompt and what went into it
type Context struct {
	Question string               `json:"question"`
	Template Template             `json:"template"`
	Units    []chunker.SchemaUnit `json:"units"`
	Dropped  []string             `json:"dropped,omitempty"`
	Text     string               `json:"text"`
}

// TableIDs returns the IDs of the units included in the prompt
func (c *Context) TableIDs() []string {
	ids := make([]string, len(c.Units))
	for i, u := range c.Units {
		ids[i] = u.ID
	}

	return ids
}

// Assembler merges a question, retrieved units and a template into one prompt
type Assembler struct {
	registry *Registry
	maxChars int
}

// NewAssembler creates an assembler. maxChars <= 0 uses DefaultMaxChars.
func NewAssembler(registry *Registry, maxChars int) *Assembler {
	if registry == nil {
		registry = NewRegistry()
	}

	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	return &Assembler{registry: registry, maxChars: maxChars}
}

// MaxChars returns the prompt budget
func (a *Assembler) MaxChars() int {
	return a.maxChars
}

// Registry returns the template registry
func (a *Assembler) Registry() *Registry {
	return a.registry
}

// Assemble renders the prompt. When it exceeds the budget, the lowest-ranked
// units are dropped whole. It fails only when the question and the top unit
// alone do not fit.
func (a *Assembler) Assemble(question string, result retriever.Result, templateName string) (*Context, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errors.New(errors.ErrTypeValidation, "question must not be empty")
	}

	tmpl, err := a.registry.Get(templateName)
	if err != nil {
		return nil, err
	}

	units := result.Units()
	if len(units) == 0 {
		return nil, errors.New(errors.ErrTypeEmptyCatalog, "no schema units were retrieved for the question")
	}

	// Sections other than the schema have a fixed size, so the schema budget
	// can be computed once and units admitted in rank order.
	fixed := utf8.RuneCountInString(render(tmpl, question, nil))
	budget := a.maxChars - fixed

	included := make([]chunker.SchemaUnit, 0, len(units))
	used := 0

	for i, u := range units {
		cost := unitCost(u, i == 0)
		if used+cost > budget {
			break
		}

		included = append(included, u)
		used += cost
	}

	if len(included) == 0 {
		required := fixed + unitCost(units[0], true)

		return nil, errors.Newf(errors.ErrTypeContextOverflow,
			"prompt needs %d characters for the question and table %s but the budget is %d",
			required, units[0].ID, a.maxChars).
			WithDetail("budget", a.maxChars).
			WithDetail("required", required).
			WithDetail("table", units[0].ID).
			WithSuggestion("Shorten the question or raise SQLRAG_PROMPT_MAX_CHARS")
	}

	ctx := &Context{
		Question: question,
		Template: tmpl,
		Units:    included,
		Text:     render(tmpl, question, included),
	}

	for _, u := range units[len(included):] {
		ctx.Dropped = append(ctx.Dropped, u.ID)
	}

	if len(ctx.Dropped) > 0 {
		logging.WithFields(map[string]any{
			"budget":  a.maxChars,
			"kept":    len(included),
			"dropped": ctx.Dropped,
		}).Debug("Dropped schema units to fit the prompt budget")
	}

	return ctx, nil
}

// unitCost is the rendered size of a unit including its separator
func unitCost(u chunker.SchemaUnit, first bool) int {
	if first {
		return u.Size()
	}

	return u.Size() + 1
}

func render(tmpl Template, question string, units []chunker.SchemaUnit) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are a SQL query generator for a %s database. ", tmpl.Dialect)

	if tmpl.SingleStatement {
		b.WriteString("Convert the question into a single SQL statement.\n\n")
	} else {
		b.WriteString("Convert the question into SQL.\n\n")
	}

	b.WriteString("RULES:\n")

	for i, rule := range tmpl.Rules {
		fmt.Fprintf(&b, "%d. %s\n", i+1, rule)
	}

	fmt.Fprintf(&b, "%d. If the question cannot be answered with the schema below, reply with exactly one line: %s <what tables or columns would be needed>\n",
		len(tmpl.Rules)+1, MissingPrefix)

	for i, ex := range tmpl.Examples {
		if i == 0 {
			b.WriteString("\nEXAMPLES:\n")
		}

		fmt.Fprintf(&b, "Question: %s\n%s\n", ex.Question, ex.Answer)
	}

	b.WriteString("\nDATABASE SCHEMA:\n")

	for i, u := range units {
		if i > 0 {
			b.WriteString("\n")
		}

		b.WriteString(u.Text)
	}

	b.WriteString("\nQUESTION:\n")
	b.WriteString(question)
	b.WriteString("\n")

	return b.String()
}
