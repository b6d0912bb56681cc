// Package catalog holds the normalized schema metadata that every other stage
// treats as the source of truth, plus loaders for the supported databases.
package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// DefaultSchema is the schema whose tables are addressed without qualification.
const DefaultSchema = "public"

// Column describes one column of a table
type Column struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Nullable   bool   `json:"nullable"`
	PrimaryKey bool   `json:"primary_key"`
	ForeignKey bool   `json:"foreign_key"`
	// References is the table a foreign key column points at.
	References       string `json:"references,omitempty"`
	ReferencesColumn string `json:"references_column,omitempty"`
	Ordinal          int    `json:"ordinal"`
}

// Table describes one table or view
type Table struct {
	Schema  string   `json:"schema,omitempty"`
	Name    string   `json:"name"`
	Comment string   `json:"comment,omitempty"`
	Columns []Column `json:"columns"`
}

// ID is the table's identity inside the catalog. Tables in the default schema
// (or with no schema) are known by their bare name. Names are kept exactly as
// the database stores them.
func (t *Table) ID() string {
	return qualify(t.Schema, t.Name)
}

func qualify(schema, name string) string {
	if schema == "" || schema == DefaultSchema || schema == "main" {
		return name
	}

	return schema + "." + name
}

// Column looks up a column by its exact stored name
func (t *Table) Column(name string) (*Column, bool) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i], true
		}
	}

	return nil, false
}

// ColumnNames returns the column names in ordinal order
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}

	return names
}

// Catalog is an immutable, normalized view of a database schema. Build one with
// New; the zero value is an empty catalog.
type Catalog struct {
	tables []Table
	byID   map[string]int
	hash   string
}

// Fold applies PostgreSQL's folding of unquoted identifiers. It is for names
// typed by people; parsed SQL arrives already folded.
func Fold(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Quote renders an identifier the way it must be written in SQL: bare when
// folding leaves it unchanged, double-quoted otherwise.
func Quote(name string) string {
	if isBareIdent(name) {
		return name
	}

	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteID quotes each part of a table ID
func QuoteID(id string) string {
	if schema, name, ok := strings.Cut(id, "."); ok {
		return Quote(schema) + "." + Quote(name)
	}

	return Quote(id)
}

func isBareIdent(name string) bool {
	if name == "" {
		return false
	}

	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r == '_':
		case i > 0 && (r >= '0' && r <= '9' || r == '$'):
		default:
			return false
		}
	}

	return true
}

// New normalizes the given tables into a catalog. Tables are sorted by ID and
// columns by ordinal so that equal schemas produce equal hashes.
func New(tables []Table) *Catalog {
	normalized := make([]Table, len(tables))
	for i, t := range tables {
		cols := make([]Column, len(t.Columns))
		copy(cols, t.Columns)
		sort.SliceStable(cols, func(a, b int) bool { return cols[a].Ordinal < cols[b].Ordinal })

		for j := range cols {
			if cols[j].Ordinal == 0 {
				cols[j].Ordinal = j + 1
			}

			cols[j].References = defaultSchemaName(cols[j].References)
		}

		t.Columns = cols
		normalized[i] = t
	}

	sort.SliceStable(normalized, func(a, b int) bool {
		return normalized[a].ID() < normalized[b].ID()
	})

	c := &Catalog{
		tables: normalized,
		byID:   make(map[string]int, len(normalized)),
	}
	for i := range c.tables {
		c.byID[c.tables[i].ID()] = i
	}

	c.hash = contentHash(c.tables)

	return c
}

func contentHash(tables []Table) string {
	// json.Marshal on plain structs and slices is deterministic.
	data, err := json.Marshal(tables)
	if err != nil {
		return ""
	}

	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:])
}

// Hash returns the SHA-256 content hash of the canonical catalog serialization
func (c *Catalog) Hash() string {
	if c == nil {
		return ""
	}

	return c.hash
}

// Len returns the number of tables
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}

	return len(c.tables)
}

// IsEmpty reports whether the catalog has no tables
func (c *Catalog) IsEmpty() bool {
	return c.Len() == 0
}

// Tables returns the tables in ID order. The slice must not be modified.
func (c *Catalog) Tables() []Table {
	if c == nil {
		return nil
	}

	return c.tables
}

// TableIDs returns every table ID in sorted order
func (c *Catalog) TableIDs() []string {
	ids := make([]string, 0, c.Len())
	for i := range c.Tables() {
		ids = append(ids, c.tables[i].ID())
	}

	return ids
}

// Table resolves a table by exact ID, the way the database resolves a parsed
// reference. Qualified references to the default schema resolve to the bare
// name.
func (c *Catalog) Table(name string) (*Table, bool) {
	if c == nil {
		return nil, false
	}

	if i, ok := c.byID[defaultSchemaName(name)]; ok {
		return &c.tables[i], true
	}

	return nil, false
}

// Find resolves a table name typed by a person. An exact match wins, then the
// folded name, then a case-insensitive match when exactly one table has it.
func (c *Catalog) Find(name string) (*Table, bool) {
	name = strings.TrimSpace(name)

	if tbl, ok := c.Table(name); ok {
		return tbl, true
	}

	if tbl, ok := c.Table(Fold(name)); ok {
		return tbl, true
	}

	var match *Table

	for i := range c.Tables() {
		if strings.EqualFold(c.tables[i].ID(), defaultSchemaName(name)) {
			if match != nil {
				return nil, false
			}

			match = &c.tables[i]
		}
	}

	return match, match != nil
}

func defaultSchemaName(name string) string {
	for _, prefix := range []string{DefaultSchema + ".", "main."} {
		if rest, found := strings.CutPrefix(name, prefix); found {
			return rest
		}
	}

	return name
}

// ColumnOwners returns the IDs of every table that has a column with the given name
func (c *Catalog) ColumnOwners(column string) []string {
	var owners []string

	for i := range c.Tables() {
		if _, ok := c.tables[i].Column(column); ok {
			owners = append(owners, c.tables[i].ID())
		}
	}

	return owners
}

// Loader reads schema metadata from a source
type Loader interface {
	Load(ctx context.Context) (*Catalog, error)
	Name() string
}
