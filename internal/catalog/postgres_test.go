package catalog

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/sqlrag/internal/errors"
)

func newSQLMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	// "pgx" selects the $n bindvar style the real driver uses.
	return sqlx.NewDb(db, "pgx"), mock
}

func TestPostgresLoaderLoad(t *testing.T) {
	db, mock := newSQLMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM information_schema.tables\s+WHERE table_type IN \('BASE TABLE', 'VIEW'\)\s+AND table_schema IN \(\$1, \$2\)`).
		WithArgs("public", "sales").
		WillReturnRows(sqlmock.NewRows([]string{"table_schema", "table_name"}).
			AddRow("public", "customers").
			AddRow("public", "orders").
			AddRow("sales", "targets"))
	mock.ExpectQuery(`FROM information_schema.columns`).
		WithArgs("public", "sales").
		WillReturnRows(sqlmock.NewRows([]string{
			"table_schema", "table_name", "column_name", "data_type", "is_nullable", "ordinal_position",
		}).
			AddRow("public", "customers", "id", "integer", "NO", 1).
			AddRow("public", "customers", "email", "text", "YES", 2).
			AddRow("public", "orders", "id", "integer", "NO", 1).
			AddRow("public", "orders", "customer_id", "integer", "NO", 2).
			AddRow("public", "orders", "total", "numeric", "YES", 3).
			AddRow("sales", "targets", "quarter", "text", "NO", 1))
	mock.ExpectQuery(`FROM information_schema.table_constraints tc`).
		WithArgs("public", "sales").
		WillReturnRows(sqlmock.NewRows([]string{
			"table_schema", "table_name", "column_name", "constraint_type", "ref_schema", "ref_table", "ref_column",
		}).
			AddRow("public", "customers", "id", "PRIMARY KEY", nil, nil, nil).
			AddRow("public", "orders", "id", "PRIMARY KEY", nil, nil, nil).
			AddRow("public", "orders", "customer_id", "FOREIGN KEY", "public", "customers", "id"))
	mock.ExpectCommit()

	loader := NewPostgresLoader(db, []string{"public", "sales"}, 0)
	cat, err := loader.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "postgres", loader.Name())
	assert.Equal(t, []string{"customers", "orders", "sales.targets"}, cat.TableIDs())

	orders, ok := cat.Table("orders")
	require.True(t, ok)
	assert.True(t, orders.Columns[0].PrimaryKey)

	customerID, ok := orders.Column("customer_id")
	require.True(t, ok)
	assert.True(t, customerID.ForeignKey)
	assert.Equal(t, "customers", customerID.References)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLoaderEmptyCatalog(t *testing.T) {
	db, mock := newSQLMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM information_schema.tables`).
		WillReturnRows(sqlmock.NewRows([]string{"table_schema", "table_name"}))
	mock.ExpectQuery(`FROM information_schema.columns`).
		WillReturnRows(sqlmock.NewRows([]string{
			"table_schema", "table_name", "column_name", "data_type", "is_nullable", "ordinal_position",
		}))
	mock.ExpectQuery(`FROM information_schema.table_constraints`).
		WillReturnRows(sqlmock.NewRows([]string{
			"table_schema", "table_name", "column_name", "constraint_type", "ref_schema", "ref_table", "ref_column",
		}))
	mock.ExpectCommit()

	_, err := NewPostgresLoader(db, nil, 0).Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeEmptyCatalog))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLoaderQueryFailureRollsBack(t *testing.T) {
	db, mock := newSQLMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM information_schema.tables`).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err := NewPostgresLoader(db, []string{"public"}, 0).Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeDatabase))
	assert.Contains(t, err.Error(), "failed to query tables")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenPostgresRejectsBadDSN(t *testing.T) {
	_, err := OpenPostgres(context.Background(), "postgres://%zz")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}
