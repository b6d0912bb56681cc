// Package chunker turns a catalog into one retrievable unit per table.
package chunker

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/kyleking/sqlrag/internal/catalog"
)

// Attribute is one column as seen by retrieval and prompting
type Attribute struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Nullable   bool   `json:"nullable"`
	PrimaryKey bool   `json:"primary_key"`
	ForeignKey bool   `json:"foreign_key"`
	References string `json:"references,omitempty"`
}

// SchemaUnit is the retrievable description of a single table. Its identity is
// the table ID and its Text is used verbatim for embedding and prompting.
type SchemaUnit struct {
	ID         string      `json:"id"`
	Attributes []Attribute `json:"attributes"`
	Text       string      `json:"text"`
}

// Size is the unit's contribution to a prompt, in characters
func (u SchemaUnit) Size() int {
	return utf8.RuneCountInString(u.Text)
}

// Chunk builds one unit per table, in catalog order
func Chunk(cat *catalog.Catalog) []SchemaUnit {
	referencedBy := incomingReferences(cat)

	units := make([]SchemaUnit, 0, cat.Len())
	for _, tbl := range cat.Tables() {
		units = append(units, unitFor(tbl, referencedBy[tbl.ID()]))
	}

	return units
}

func unitFor(tbl catalog.Table, incoming []string) SchemaUnit {
	unit := SchemaUnit{
		ID:         tbl.ID(),
		Attributes: make([]Attribute, 0, len(tbl.Columns)),
	}

	for _, c := range tbl.Columns {
		unit.Attributes = append(unit.Attributes, Attribute{
			Name:       c.Name,
			Type:       c.Type,
			Nullable:   c.Nullable,
			PrimaryKey: c.PrimaryKey,
			ForeignKey: c.ForeignKey,
			References: c.References,
		})
	}

	unit.Text = render(tbl, incoming)

	return unit
}

// render produces the canonical text for a table. Equal tables always render
// to equal text.
func render(tbl catalog.Table, incoming []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Table: %s\n", catalog.QuoteID(tbl.ID()))

	if comment := strings.TrimSpace(tbl.Comment); comment != "" {
		fmt.Fprintf(&b, "Description: %s\n", comment)
	}

	b.WriteString("Columns:\n")

	for _, c := range tbl.Columns {
		fmt.Fprintf(&b, "- %s %s", catalog.Quote(c.Name), c.Type)

		if !c.Nullable {
			b.WriteString(" NOT NULL")
		}

		if c.PrimaryKey {
			b.WriteString(" PRIMARY KEY")
		}

		if c.ForeignKey && c.References != "" {
			fmt.Fprintf(&b, " REFERENCES %s", catalog.QuoteID(c.References))

			if c.ReferencesColumn != "" {
				fmt.Fprintf(&b, "(%s)", catalog.Quote(c.ReferencesColumn))
			}
		}

		b.WriteString("\n")
	}

	if len(incoming) > 0 {
		fmt.Fprintf(&b, "Referenced by: %s\n", strings.Join(incoming, ", "))
	}

	return b.String()
}

// incomingReferences maps each table ID to the "table.column" foreign keys that point at it
func incomingReferences(cat *catalog.Catalog) map[string][]string {
	refs := make(map[string][]string)

	for _, tbl := range cat.Tables() {
		for _, c := range tbl.Columns {
			if c.ForeignKey && c.References != "" {
				refs[c.References] = append(refs[c.References], catalog.QuoteID(tbl.ID())+"."+catalog.Quote(c.Name))
			}
		}
	}

	for k := range refs {
		sort.Strings(refs[k])
	}

	return refs
}
