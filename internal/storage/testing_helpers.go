package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kyleking/sqlrag/internal/index"
)

// NewTestStore creates an initialized store in a temporary directory that is
// closed when the test ends.
func NewTestStore(t testing.TB) *DuckDBStore {
	t.Helper()

	store, err := NewDuckDBStore(filepath.Join(t.TempDir(), "index.duckdb"))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}

	if err := store.Initialize(context.Background()); err != nil {
		_ = store.Close()
		t.Fatalf("failed to initialize test store: %v", err)
	}

	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("failed to close test store: %v", err)
		}
	})

	return store
}

// NewTestStoreWithSnapshots creates a test store pre-seeded with snapshots
func NewTestStoreWithSnapshots(t testing.TB, dumps ...index.Dump) *DuckDBStore {
	t.Helper()

	store := NewTestStore(t)

	for _, d := range dumps {
		if err := store.SaveSnapshot(context.Background(), d); err != nil {
			t.Fatalf("failed to seed snapshot %s: %v", d.Metadata.CatalogHash, err)
		}
	}

	return store
}
