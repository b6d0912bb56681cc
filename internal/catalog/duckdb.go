package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/marcboeker/go-duckdb" // DuckDB driver

	"github.com/kyleking/sqlrag/internal/errors"
)

const duckTablesQuery = `
	SELECT table_schema, table_name
	FROM information_schema.tables
	WHERE table_type IN ('BASE TABLE', 'VIEW')
	AND table_schema IN (?)
	ORDER BY table_schema, table_name`

const duckColumnsQuery = `
	SELECT table_schema, table_name, column_name, data_type, is_nullable, ordinal_position
	FROM information_schema.columns
	WHERE table_schema IN (?)
	ORDER BY table_schema, table_name, ordinal_position`

// duckdb_constraints() exposes key definitions as text, which is stable across versions.
const duckConstraintsQuery = `
	SELECT schema_name, table_name, constraint_type, constraint_text
	FROM duckdb_constraints()
	WHERE constraint_type IN ('PRIMARY KEY', 'FOREIGN KEY')
	AND schema_name IN (?)`

var (
	primaryKeyPattern = regexp.MustCompile(`(?i)^\s*PRIMARY\s+KEY\s*\(([^)]*)\)`)
	foreignKeyPattern = regexp.MustCompile(`(?i)^\s*FOREIGN\s+KEY\s*\(([^)]*)\)\s*REFERENCES\s+([^\s(]+)\s*\(([^)]*)\)`)
)

type duckConstraintRow struct {
	Schema string `db:"schema_name"`
	Table  string `db:"table_name"`
	Type   string `db:"constraint_type"`
	Text   string `db:"constraint_text"`
}

// DuckDBLoader reads the catalog of a DuckDB database file
type DuckDBLoader struct {
	db      *sqlx.DB
	schemas []string
}

// OpenDuckDB opens a DuckDB database file in read-only mode
func OpenDuckDB(path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("duckdb", path+"?access_mode=READ_ONLY")
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrTypeDatabase, "failed to open duckdb %s", path)
	}

	return db, nil
}

// NewDuckDBLoader builds a loader over an open DuckDB connection. The
// "public" schema name maps to DuckDB's "main".
func NewDuckDBLoader(db *sqlx.DB, schemas []string) *DuckDBLoader {
	mapped := make([]string, 0, len(schemas))
	for _, s := range schemas {
		if s == DefaultSchema {
			s = "main"
		}

		mapped = append(mapped, s)
	}

	if len(mapped) == 0 {
		mapped = []string{"main"}
	}

	return &DuckDBLoader{db: db, schemas: mapped}
}

// Name identifies the source in logs and errors
func (l *DuckDBLoader) Name() string {
	return "duckdb"
}

// Load reads tables, columns and key constraints. The connection is opened
// read-only, so no transaction is needed.
func (l *DuckDBLoader) Load(ctx context.Context) (*Catalog, error) {
	var (
		tables      []tableRow
		columns     []columnRow
		constraints []duckConstraintRow
	)

	if err := selectIn(ctx, l.db, &tables, duckTablesQuery, l.schemas); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to query tables")
	}

	if err := selectIn(ctx, l.db, &columns, duckColumnsQuery, l.schemas); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to query columns")
	}

	if err := selectIn(ctx, l.db, &constraints, duckConstraintsQuery, l.schemas); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to query constraints")
	}

	var keys []keyRow
	for _, c := range constraints {
		keys = append(keys, parseConstraint(c)...)
	}

	cat := New(assembleTables(tables, columns, keys))
	if cat.IsEmpty() {
		return nil, errors.NewEmptyCatalogError(fmt.Sprintf("duckdb schemas %v", l.schemas))
	}

	return cat, nil
}

// parseConstraint turns a DuckDB constraint_text into per-column key rows
func parseConstraint(c duckConstraintRow) []keyRow {
	var rows []keyRow

	switch strings.ToUpper(c.Type) {
	case "PRIMARY KEY":
		m := primaryKeyPattern.FindStringSubmatch(c.Text)
		if m == nil {
			return nil
		}

		for _, col := range splitIdentList(m[1]) {
			rows = append(rows, keyRow{Schema: c.Schema, Table: c.Table, Column: col, ConstraintType: "PRIMARY KEY"})
		}
	case "FOREIGN KEY":
		m := foreignKeyPattern.FindStringSubmatch(c.Text)
		if m == nil {
			return nil
		}

		cols := splitIdentList(m[1])
		refCols := splitIdentList(m[3])
		refSchema, refTable := c.Schema, unquoteIdent(m[2])

		if schema, table, ok := strings.Cut(refTable, "."); ok {
			refSchema, refTable = unquoteIdent(schema), unquoteIdent(table)
		}

		for i, col := range cols {
			row := keyRow{
				Schema:         c.Schema,
				Table:          c.Table,
				Column:         col,
				ConstraintType: "FOREIGN KEY",
				RefSchema:      sql.NullString{String: refSchema, Valid: true},
				RefTable:       sql.NullString{String: refTable, Valid: true},
			}
			if i < len(refCols) {
				row.RefColumn = sql.NullString{String: refCols[i], Valid: true}
			}

			rows = append(rows, row)
		}
	}

	return rows
}

func splitIdentList(list string) []string {
	var idents []string

	for _, part := range strings.Split(list, ",") {
		if ident := unquoteIdent(part); ident != "" {
			idents = append(idents, ident)
		}
	}

	return idents
}

func unquoteIdent(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"`)
}
