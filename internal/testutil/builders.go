package testutil

import (
	"github.com/kyleking/sqlrag/internal/catalog"
)

// ColumnOption is a functional option for building test columns
type ColumnOption func(*catalog.Column)

// PrimaryKey marks the column as the primary key
func PrimaryKey() ColumnOption {
	return func(c *catalog.Column) {
		c.PrimaryKey = true
		c.Nullable = false
	}
}

// References makes the column a foreign key to table.column
func References(table, column string) ColumnOption {
	return func(c *catalog.Column) {
		c.ForeignKey = true
		c.References = table
		c.ReferencesColumn = column
	}
}

// Nullable marks the column nullable
func Nullable() ColumnOption {
	return func(c *catalog.Column) {
		c.Nullable = true
	}
}

// Col builds a NOT NULL column
func Col(name, typ string, opts ...ColumnOption) catalog.Column {
	c := catalog.Column{Name: name, Type: typ}
	for _, opt := range opts {
		opt(&c)
	}

	return c
}

// NewTable builds a table in the default schema, numbering column ordinals
func NewTable(name string, cols ...catalog.Column) catalog.Table {
	for i := range cols {
		cols[i].Ordinal = i + 1
	}

	return catalog.Table{Name: name, Columns: cols}
}

// OrdersTable is orders(id, customer_id, total)
func OrdersTable() catalog.Table {
	return NewTable("orders",
		Col("id", "integer", PrimaryKey()),
		Col("customer_id", "integer", References("customers", "id")),
		Col("total", "numeric"),
	)
}

// OrdersCatalog holds only the orders table
func OrdersCatalog() *catalog.Catalog {
	return catalog.New([]catalog.Table{OrdersTable()})
}

// ShopCatalog is a small store schema: customers, orders, products and
// warehouses. It deliberately has no order_items table.
func ShopCatalog() *catalog.Catalog {
	return catalog.New([]catalog.Table{
		NewTable("customers",
			Col("id", "integer", PrimaryKey()),
			Col("name", "text"),
			Col("email", "text", Nullable()),
			Col("region", "text", Nullable()),
		),
		OrdersTable(),
		NewTable("products",
			Col("id", "integer", PrimaryKey()),
			Col("name", "text"),
			Col("price", "numeric"),
		),
		NewTable("warehouses",
			Col("code", "text", PrimaryKey()),
			Col("region", "text"),
		),
	})
}
