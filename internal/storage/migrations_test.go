package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/marcboeker/go-duckdb"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("duckdb", filepath.Join(t.TempDir(), "migrations.duckdb"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })

	return db
}

func TestMigrateUpCreatesSchema(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	manager := NewMigrationManager(db)

	needs, current, latest, err := manager.NeedsMigration(ctx)
	if err != nil {
		t.Fatalf("Failed to check migrations: %v", err)
	}

	if !needs || current != 0 || latest != 2 {
		t.Fatalf("Expected pending migrations 0 -> 2, got needs=%v current=%d latest=%d", needs, current, latest)
	}

	if err := manager.MigrateUp(ctx); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	for _, table := range []string{"index_snapshots", "schema_units"} {
		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
			t.Errorf("Table %s not created: %v", table, err)
		}
	}

	needs, current, _, err = manager.NeedsMigration(ctx)
	if err != nil {
		t.Fatalf("Failed to check migrations: %v", err)
	}

	if needs || current != 2 {
		t.Errorf("Expected schema at version 2 with nothing pending, got needs=%v current=%d", needs, current)
	}

	// Running again is a no-op.
	if err := manager.MigrateUp(ctx); err != nil {
		t.Fatalf("Second migrate failed: %v", err)
	}
}

func TestMigrationStatusAndRollback(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	manager := NewMigrationManager(db)

	if err := manager.MigrateUp(ctx); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	status, err := manager.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("Failed to get status: %v", err)
	}

	for version, s := range status {
		if !s.Applied {
			t.Errorf("Expected migration %d to be applied", version)
		}

		if s.AppliedAt.IsZero() {
			t.Errorf("Expected migration %d to record when it was applied", version)
		}
	}

	if err := manager.MigrateDown(ctx, 1); err != nil {
		t.Fatalf("Failed to roll back: %v", err)
	}

	applied, err := manager.IsMigrationApplied(ctx, 2)
	if err != nil {
		t.Fatalf("Failed to check migration: %v", err)
	}

	if applied {
		t.Error("Expected migration 2 to be rolled back")
	}

	if err := manager.ApplyMigration(ctx, manager.GetMigrations()[0]); err == nil {
		t.Error("Expected re-applying migration 1 to fail")
	}

	if err := manager.MigrateDown(ctx, 0); err != nil {
		t.Fatalf("Failed to roll back to zero: %v", err)
	}

	var count int

	err = db.QueryRow("SELECT COUNT(*) FROM information_schema.tables WHERE table_name = 'index_snapshots'").Scan(&count)
	if err != nil {
		t.Fatalf("Failed to query tables: %v", err)
	}

	if count != 0 {
		t.Error("Expected index_snapshots to be dropped")
	}
}
