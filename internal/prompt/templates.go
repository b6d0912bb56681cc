package prompt

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/kyleking/sqlrag/internal/errors"
)

// Built-in template names
const (
	TemplateSQLOnly    = "sql-only"
	TemplateExplain    = "explain"
	TemplateNoComments = "no-comments"

	DefaultTemplate = TemplateSQLOnly
	DefaultDialect  = "PostgreSQL"
)

// Example is a worked question/answer pair shown to the model
type Example struct {
	Question string `yaml:"question" json:"question"`
	Answer   string `yaml:"answer"   json:"answer"`
}

// Template selects the phrasing of a generation prompt
type Template struct {
	Name            string    `yaml:"name"             json:"name"`
	Description     string    `yaml:"description"      json:"description"`
	Dialect         string    `yaml:"dialect"          json:"dialect"`
	SingleStatement bool      `yaml:"single_statement" json:"single_statement"`
	Rules           []string  `yaml:"rules"            json:"rules"`
	Examples        []Example `yaml:"examples"         json:"examples,omitempty"`
}

type templatesFile struct {
	Templates []Template `yaml:"templates"`
}

var commonRules = []string{
	"Use only the tables and columns listed under DATABASE SCHEMA. Never invent names.",
	"Qualify columns with a table name or alias whenever more than one table is involved.",
	"Join tables through the REFERENCES relationships shown in the schema.",
	"Prefer explicit column lists over SELECT *.",
}

var builtinTemplates = []Template{
	{
		Name:            TemplateSQLOnly,
		Description:     "A single SQL statement in a fenced sql block",
		Dialect:         DefaultDialect,
		SingleStatement: true,
		Rules: append(append([]string{}, commonRules...),
			"Reply with exactly one SQL statement inside a ```sql fenced block and nothing else.",
		),
		Examples: []Example{
			{
				Question: "show me all orders with customer emails",
				Answer:   "```sql\nSELECT o.id, o.total, c.email\nFROM orders o\nJOIN customers c ON o.customer_id = c.id;\n```",
			},
		},
	},
	{
		Name:            TemplateExplain,
		Description:     "A single SQL statement followed by a short explanation",
		Dialect:         DefaultDialect,
		SingleStatement: true,
		Rules: append(append([]string{}, commonRules...),
			"Put exactly one SQL statement inside a ```sql fenced block.",
			"After the block, explain in at most three sentences how the query answers the question.",
		),
	},
	{
		Name:            TemplateNoComments,
		Description:     "A bare SQL statement with no comments or markdown",
		Dialect:         DefaultDialect,
		SingleStatement: true,
		Rules: append(append([]string{}, commonRules...),
			"Reply with one SQL statement only: no markdown, no SQL comments, no explanation.",
		),
	},
}

// Registry holds the available templates by name
type Registry struct {
	templates map[string]Template
}

// NewRegistry returns a registry with the built-in templates
func NewRegistry() *Registry {
	r := &Registry{templates: make(map[string]Template, len(builtinTemplates))}
	for _, t := range builtinTemplates {
		r.templates[t.Name] = t
	}

	return r
}

// LoadRegistry returns the built-in templates merged with those in path. An
// empty path yields the built-ins only.
func LoadRegistry(path string) (*Registry, error) {
	r := NewRegistry()
	if path == "" {
		return r, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrTypeFileSystem, "failed to read templates file %s", path)
	}

	if err := r.Merge(data); err != nil {
		return nil, err
	}

	return r, nil
}

// Merge adds or replaces templates from YAML. A replacement keeps unset fields
// of the template it overrides.
func (r *Registry) Merge(data []byte) error {
	var file templatesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return errors.Wrap(err, errors.ErrTypeConfig, "failed to parse templates file")
	}

	for i, t := range file.Templates {
		if t.Name == "" {
			return errors.Newf(errors.ErrTypeConfig, "template %d has no name", i+1)
		}

		if base, ok := r.templates[t.Name]; ok {
			t = overlay(base, t)
		}

		if t.Dialect == "" {
			t.Dialect = DefaultDialect
		}

		if len(t.Rules) == 0 {
			return errors.Newf(errors.ErrTypeConfig, "template %s has no rules", t.Name)
		}

		r.templates[t.Name] = t
	}

	return nil
}

func overlay(base, t Template) Template {
	if t.Description == "" {
		t.Description = base.Description
	}

	if t.Dialect == "" {
		t.Dialect = base.Dialect
	}

	if len(t.Rules) == 0 {
		t.Rules = base.Rules
	}

	if len(t.Examples) == 0 {
		t.Examples = base.Examples
	}

	return t
}

// Get returns the named template
func (r *Registry) Get(name string) (Template, error) {
	if name == "" {
		name = DefaultTemplate
	}

	t, ok := r.templates[name]
	if !ok {
		return Template{}, errors.Newf(errors.ErrTypeValidation, "unknown prompt template %q", name).
			WithSuggestion(fmt.Sprintf("Available templates: %v", r.Names()))
	}

	return t, nil
}

// Names lists template names in sorted order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
