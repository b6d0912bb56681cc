package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/marcboeker/go-duckdb" // DuckDB driver

	"github.com/kyleking/sqlrag/internal/errors"
	"github.com/kyleking/sqlrag/internal/index"
	"github.com/kyleking/sqlrag/internal/logging"
)

const (
	defaultMaxConnections  = 4
	defaultConnMaxLifetime = 30 * time.Minute
)

// DuckDBStore implements the Store interface using DuckDB
type DuckDBStore struct {
	db   *sql.DB
	path string
}

// NewDuckDBStore opens (or creates) a snapshot store at dbPath with default pool settings
func NewDuckDBStore(dbPath string) (*DuckDBStore, error) {
	return NewDuckDBStoreWithPool(dbPath, defaultMaxConnections, defaultConnMaxLifetime)
}

// NewDuckDBStoreWithPool opens a snapshot store with explicit connection pool settings
func NewDuckDBStoreWithPool(dbPath string, maxConns int, connMaxLifetime time.Duration) (*DuckDBStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if maxConns <= 0 {
		maxConns = defaultMaxConnections
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DuckDBStore{db: db, path: dbPath}, nil
}

// Initialize creates or upgrades the database schema
func (s *DuckDBStore) Initialize(ctx context.Context) error {
	migrationManager := NewMigrationManager(s.db)

	needsMigration, currentVersion, latestVersion, err := migrationManager.NeedsMigration(ctx)
	if err != nil {
		return fmt.Errorf("failed to check migration status: %w", err)
	}

	if needsMigration {
		logging.Infof("Snapshot store schema update required (v%d -> v%d)", currentVersion, latestVersion)
	}

	return migrationManager.MigrateUp(ctx)
}

// SaveSnapshot persists an index. Snapshots are immutable: saving one that
// already exists for the same catalog hash and provider is a no-op.
func (s *DuckDBStore) SaveSnapshot(ctx context.Context, dump index.Dump) error {
	meta := dump.Metadata
	if meta.CatalogHash == "" || meta.Provider == "" {
		return errors.New(errors.ErrTypeValidation, "snapshot needs a catalog hash and provider")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	var exists bool

	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*) > 0 FROM index_snapshots WHERE catalog_hash = ? AND provider = ?",
		meta.CatalogHash, meta.Provider).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check for existing snapshot: %w", err)
	}

	if exists {
		return nil
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO index_snapshots (catalog_hash, provider, dimensions, unit_count, built_at)
	VALUES (?, ?, ?, ?, ?)`,
		meta.CatalogHash, meta.Provider, meta.Dimensions, len(dump.Entries), meta.BuiltAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	insertUnitSQL := `
	INSERT INTO schema_units (catalog_hash, provider, unit_id, unit_text, attributes, embedding)
	VALUES (?, ?, ?, ?, ?, ?)`

	for _, entry := range dump.Entries {
		attributesJSON, err := json.Marshal(entry.Unit.Attributes)
		if err != nil {
			return fmt.Errorf("failed to marshal attributes for %s: %w", entry.Unit.ID, err)
		}

		embeddingJSON, err := json.Marshal(entry.Vector)
		if err != nil {
			return fmt.Errorf("failed to marshal embedding for %s: %w", entry.Unit.ID, err)
		}

		_, err = tx.ExecContext(ctx, insertUnitSQL,
			meta.CatalogHash, meta.Provider, entry.Unit.ID, entry.Unit.Text,
			string(attributesJSON), string(embeddingJSON))
		if err != nil {
			return fmt.Errorf("failed to insert schema unit %s: %w", entry.Unit.ID, err)
		}
	}

	return tx.Commit()
}

// LoadSnapshot reads a stored snapshot. A missing snapshot is a not-found error.
func (s *DuckDBStore) LoadSnapshot(ctx context.Context, catalogHash, provider string) (*index.Dump, error) {
	dump := &index.Dump{}

	var unitCount int

	err := s.db.QueryRowContext(ctx, `
	SELECT catalog_hash, provider, dimensions, unit_count, built_at
	FROM index_snapshots WHERE catalog_hash = ? AND provider = ?`,
		catalogHash, provider).Scan(
		&dump.Metadata.CatalogHash, &dump.Metadata.Provider, &dump.Metadata.Dimensions,
		&unitCount, &dump.Metadata.BuiltAt,
	)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.Newf(errors.ErrTypeNotFound, "no snapshot for catalog %s with provider %s", shortHash(catalogHash), provider)
		}

		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT unit_id, unit_text, attributes, embedding
	FROM schema_units WHERE catalog_hash = ? AND provider = ?
	ORDER BY unit_id`, catalogHash, provider)
	if err != nil {
		return nil, fmt.Errorf("failed to query schema units: %w", err)
	}
	defer rows.Close()

	dump.Entries = make([]index.Entry, 0, unitCount)

	for rows.Next() {
		var (
			entry                         index.Entry
			attributesJSON, embeddingJSON string
		)

		if err := rows.Scan(&entry.Unit.ID, &entry.Unit.Text, &attributesJSON, &embeddingJSON); err != nil {
			return nil, fmt.Errorf("failed to scan schema unit: %w", err)
		}

		if err := json.Unmarshal([]byte(attributesJSON), &entry.Unit.Attributes); err != nil {
			return nil, fmt.Errorf("failed to parse attributes for %s: %w", entry.Unit.ID, err)
		}

		if err := json.Unmarshal([]byte(embeddingJSON), &entry.Vector); err != nil {
			return nil, fmt.Errorf("failed to parse embedding for %s: %w", entry.Unit.ID, err)
		}

		dump.Entries = append(dump.Entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(dump.Entries) != unitCount {
		return nil, errors.Newf(errors.ErrTypeDatabase,
			"snapshot %s is incomplete: expected %d units, found %d", shortHash(catalogHash), unitCount, len(dump.Entries))
	}

	if _, err := s.db.ExecContext(ctx,
		"UPDATE index_snapshots SET last_used_at = CURRENT_TIMESTAMP WHERE catalog_hash = ? AND provider = ?",
		catalogHash, provider); err != nil {
		logging.WithError(err).Warn("Failed to record snapshot use")
	}

	return dump, nil
}

// HasSnapshot reports whether a snapshot exists without loading it
func (s *DuckDBStore) HasSnapshot(ctx context.Context, catalogHash, provider string) (bool, error) {
	var exists bool

	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) > 0 FROM index_snapshots WHERE catalog_hash = ? AND provider = ?",
		catalogHash, provider).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check snapshot: %w", err)
	}

	return exists, nil
}

// ListSnapshots returns stored snapshots, newest first
func (s *DuckDBStore) ListSnapshots(ctx context.Context) ([]SnapshotInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT catalog_hash, provider, dimensions, unit_count, built_at, last_used_at
	FROM index_snapshots
	ORDER BY built_at DESC, catalog_hash`)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []SnapshotInfo

	for rows.Next() {
		var (
			info     SnapshotInfo
			lastUsed sql.NullTime
		)

		if err := rows.Scan(&info.CatalogHash, &info.Provider, &info.Dimensions, &info.UnitCount, &info.BuiltAt, &lastUsed); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}

		if lastUsed.Valid {
			info.LastUsedAt = &lastUsed.Time
		}

		snapshots = append(snapshots, info)
	}

	return snapshots, rows.Err()
}

// Prune keeps the newest keep snapshots and deletes the rest. It returns the
// number of snapshots removed. keep <= 0 keeps everything.
func (s *DuckDBStore) Prune(ctx context.Context, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}

	snapshots, err := s.ListSnapshots(ctx)
	if err != nil {
		return 0, err
	}

	if len(snapshots) <= keep {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	stale := snapshots[keep:]
	for _, snap := range stale {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM schema_units WHERE catalog_hash = ? AND provider = ?",
			snap.CatalogHash, snap.Provider); err != nil {
			return 0, fmt.Errorf("failed to delete schema units: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			"DELETE FROM index_snapshots WHERE catalog_hash = ? AND provider = ?",
			snap.CatalogHash, snap.Provider); err != nil {
			return 0, fmt.Errorf("failed to delete snapshot: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}

	logging.WithField("removed", len(stale)).Debug("Pruned index snapshots")

	return len(stale), nil
}

// GetStats returns store statistics
func (s *DuckDBStore) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM index_snapshots").Scan(&stats.TotalSnapshots)
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot count: %w", err)
	}

	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_units").Scan(&stats.TotalUnits)
	if err != nil {
		return nil, fmt.Errorf("failed to get unit count: %w", err)
	}

	var lastBuild sql.NullTime

	err = s.db.QueryRowContext(ctx, "SELECT MAX(built_at) FROM index_snapshots").Scan(&lastBuild)
	if err != nil && !stderrors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get last build time: %w", err)
	}

	if lastBuild.Valid {
		stats.LastBuildTime = lastBuild.Time
	}

	if info, err := os.Stat(s.path); err == nil {
		stats.DatabaseSizeMB = float64(info.Size()) / (1024 * 1024)
	}

	return stats, nil
}

// Clear removes all snapshots
func (s *DuckDBStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM schema_units"); err != nil {
		return fmt.Errorf("failed to clear schema units: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM index_snapshots"); err != nil {
		return fmt.Errorf("failed to clear snapshots: %w", err)
	}

	return nil
}

// Path returns the database file path
func (s *DuckDBStore) Path() string {
	return s.path
}

// Close closes the database connection
func (s *DuckDBStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}

	return nil
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}

	return hash
}

var _ Store = (*DuckDBStore)(nil)
