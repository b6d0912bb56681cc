package catalog

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	tblsschema "github.com/k1LoW/tbls/schema"

	"github.com/kyleking/sqlrag/internal/errors"
)

// TblsLoader reads a schema.json document produced by `tbls out -t json`.
// It lets the pipeline index a schema without database credentials.
type TblsLoader struct {
	path string
}

// NewTblsLoader builds a loader for the given schema.json path
func NewTblsLoader(path string) *TblsLoader {
	return &TblsLoader{path: path}
}

// Name identifies the source in logs and errors
func (l *TblsLoader) Name() string {
	return "tbls"
}

// Load decodes the file and converts tables, views and their key constraints
func (l *TblsLoader) Load(_ context.Context) (*Catalog, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrTypeFileSystem, "failed to open %s", l.path)
	}
	defer f.Close()

	var schema tblsschema.Schema
	if err := json.NewDecoder(f).Decode(&schema); err != nil {
		return nil, errors.Wrapf(err, errors.ErrTypeValidation, "failed to decode tbls schema %s", l.path)
	}

	cat := New(convertTblsSchema(&schema))
	if cat.IsEmpty() {
		return nil, errors.NewEmptyCatalogError(l.path)
	}

	return cat, nil
}

func convertTblsSchema(schema *tblsschema.Schema) []Table {
	tables := make([]Table, 0, len(schema.Tables))

	for _, tbl := range schema.Tables {
		if tbl == nil || len(tbl.Columns) == 0 {
			continue
		}

		schemaName, tableName := DefaultSchema, tbl.Name
		if s, n, ok := strings.Cut(tbl.Name, "."); ok {
			schemaName, tableName = s, n
		}

		table := Table{
			Schema:  schemaName,
			Name:    tableName,
			Comment: tbl.Comment,
			Columns: make([]Column, 0, len(tbl.Columns)),
		}

		for i, col := range tbl.Columns {
			table.Columns = append(table.Columns, Column{
				Name:       col.Name,
				Type:       strings.ToLower(strings.TrimSpace(col.Type)),
				Nullable:   col.Nullable,
				PrimaryKey: col.PK,
				Ordinal:    i + 1,
			})
		}

		for _, c := range tbl.Constraints {
			if c == nil {
				continue
			}

			switch strings.ToUpper(c.Type) {
			case "PRIMARY KEY":
				for _, name := range c.Columns {
					if col, ok := table.Column(name); ok {
						col.PrimaryKey = true
					}
				}
			case "FOREIGN KEY":
				applyTblsForeignKey(&table, c)
			}
		}

		tables = append(tables, table)
	}

	return tables
}

func applyTblsForeignKey(table *Table, c *tblsschema.Constraint) {
	refTable := ""
	if c.ReferencedTable != nil {
		refTable = *c.ReferencedTable
	}

	ref := &Table{Name: refTable}
	if s, n, ok := strings.Cut(refTable, "."); ok {
		ref = &Table{Schema: s, Name: n}
	}

	for i, name := range c.Columns {
		col, ok := table.Column(name)
		if !ok {
			continue
		}

		col.ForeignKey = true
		if refTable != "" {
			col.References = ref.ID()
		}

		if i < len(c.ReferencedColumns) {
			col.ReferencesColumn = c.ReferencedColumns[i]
		}
	}
}
