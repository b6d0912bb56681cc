package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/kyleking/sqlrag/internal/errors"
	"github.com/kyleking/sqlrag/internal/logging"
)

const defaultPingTimeout = 5 * time.Second

const pgTablesQuery = `
	SELECT table_schema, table_name
	FROM information_schema.tables
	WHERE table_type IN ('BASE TABLE', 'VIEW')
	AND table_schema IN (?)
	ORDER BY table_schema, table_name`

const pgColumnsQuery = `
	SELECT table_schema, table_name, column_name, data_type, is_nullable, ordinal_position
	FROM information_schema.columns
	WHERE table_schema IN (?)
	ORDER BY table_schema, table_name, ordinal_position`

const pgKeysQuery = `
	SELECT tc.table_schema, tc.table_name, kcu.column_name, tc.constraint_type,
		ccu.table_schema AS ref_schema, ccu.table_name AS ref_table, ccu.column_name AS ref_column
	FROM information_schema.table_constraints tc
	JOIN information_schema.key_column_usage kcu
		ON tc.constraint_name = kcu.constraint_name
		AND tc.table_schema = kcu.table_schema
	LEFT JOIN information_schema.constraint_column_usage ccu
		ON tc.constraint_type = 'FOREIGN KEY'
		AND ccu.constraint_name = tc.constraint_name
		AND ccu.constraint_schema = tc.constraint_schema
	WHERE tc.constraint_type IN ('PRIMARY KEY', 'FOREIGN KEY')
	AND tc.table_schema IN (?)`

// PostgresLoader reads the catalog from a PostgreSQL information_schema
type PostgresLoader struct {
	db      *sqlx.DB
	schemas []string
	timeout time.Duration
}

// OpenPostgres connects through the pgx stdlib driver and verifies the connection
func OpenPostgres(ctx context.Context, dsn string) (*sqlx.DB, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeConfig, "failed to parse connection string")
	}

	// Metadata queries never need prepared statements.
	cfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	db := sqlx.NewDb(stdlib.OpenDB(*cfg), "pgx")
	db.SetMaxOpenConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()

		return nil, errors.Wrapf(err, errors.ErrTypeDatabase, "failed to ping %s:%d", cfg.Host, cfg.Port).
			WithSuggestion("Check DB_HOST, DB_PORT, DB_USER and DB_PASSWORD (or DB_DSN)")
	}

	return db, nil
}

// NewPostgresLoader builds a loader over an open connection
func NewPostgresLoader(db *sqlx.DB, schemas []string, timeout time.Duration) *PostgresLoader {
	if len(schemas) == 0 {
		schemas = []string{DefaultSchema}
	}

	return &PostgresLoader{db: db, schemas: schemas, timeout: timeout}
}

// Name identifies the source in logs and errors
func (l *PostgresLoader) Name() string {
	return "postgres"
}

// Load reads tables, columns and key constraints inside one read-only transaction
func (l *PostgresLoader) Load(ctx context.Context) (*Catalog, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	tx, err := l.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	var (
		tables  []tableRow
		columns []columnRow
		keys    []keyRow
	)

	if err := selectIn(ctx, tx, &tables, pgTablesQuery, l.schemas); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to query tables")
	}

	if err := selectIn(ctx, tx, &columns, pgColumnsQuery, l.schemas); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to query columns")
	}

	if err := selectIn(ctx, tx, &keys, pgKeysQuery, l.schemas); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to query key constraints")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to commit transaction")
	}

	cat := New(assembleTables(tables, columns, keys))
	if cat.IsEmpty() {
		return nil, errors.NewEmptyCatalogError(fmt.Sprintf("postgres schemas %v", l.schemas))
	}

	logging.WithFields(map[string]any{
		"source": l.Name(),
		"tables": cat.Len(),
		"hash":   cat.Hash(),
	}).Debug("Loaded catalog")

	return cat, nil
}

type rebindQueryer interface {
	sqlx.QueryerContext
	Rebind(query string) string
}

// selectIn expands the IN (?) placeholder for the driver's bindvar style
func selectIn(ctx context.Context, q rebindQueryer, dest any, query string, values []string) error {
	expanded, args, err := sqlx.In(query, values)
	if err != nil {
		return fmt.Errorf("failed to expand query: %w", err)
	}

	return sqlx.SelectContext(ctx, q, dest, q.Rebind(expanded), args...)
}
