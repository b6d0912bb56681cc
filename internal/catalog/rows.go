package catalog

import (
	"database/sql"
	"strings"
)

type tableRow struct {
	Schema string `db:"table_schema"`
	Name   string `db:"table_name"`
}

type columnRow struct {
	Schema     string `db:"table_schema"`
	Table      string `db:"table_name"`
	Name       string `db:"column_name"`
	DataType   string `db:"data_type"`
	IsNullable string `db:"is_nullable"`
	Ordinal    int    `db:"ordinal_position"`
}

type keyRow struct {
	Schema         string         `db:"table_schema"`
	Table          string         `db:"table_name"`
	Column         string         `db:"column_name"`
	ConstraintType string         `db:"constraint_type"`
	RefSchema      sql.NullString `db:"ref_schema"`
	RefTable       sql.NullString `db:"ref_table"`
	RefColumn      sql.NullString `db:"ref_column"`
}

// assembleTables merges the information_schema result sets into Table values.
// Tables without a row in tables (or without columns) are dropped.
func assembleTables(tables []tableRow, columns []columnRow, keys []keyRow) []Table {
	type tableKey struct{ schema, name string }

	index := make(map[tableKey]*Table, len(tables))
	order := make([]tableKey, 0, len(tables))

	for _, t := range tables {
		k := tableKey{t.Schema, t.Name}
		if _, ok := index[k]; ok {
			continue
		}

		index[k] = &Table{Schema: t.Schema, Name: t.Name}
		order = append(order, k)
	}

	for _, c := range columns {
		t, ok := index[tableKey{c.Schema, c.Table}]
		if !ok {
			continue
		}

		t.Columns = append(t.Columns, Column{
			Name:     c.Name,
			Type:     strings.ToLower(c.DataType),
			Nullable: strings.EqualFold(c.IsNullable, "YES"),
			Ordinal:  c.Ordinal,
		})
	}

	for _, k := range keys {
		t, ok := index[tableKey{k.Schema, k.Table}]
		if !ok {
			continue
		}

		col, ok := t.Column(k.Column)
		if !ok {
			continue
		}

		switch strings.ToUpper(k.ConstraintType) {
		case "PRIMARY KEY":
			col.PrimaryKey = true
		case "FOREIGN KEY":
			col.ForeignKey = true
			if k.RefTable.Valid {
				ref := &Table{Schema: k.RefSchema.String, Name: k.RefTable.String}
				col.References = ref.ID()
			}

			if k.RefColumn.Valid {
				col.ReferencesColumn = k.RefColumn.String
			}
		}
	}

	result := make([]Table, 0, len(order))
	for _, k := range order {
		if t := index[k]; len(t.Columns) > 0 {
			result = append(result, *t)
		}
	}

	return result
}
