package storage

import (
	"context"
	"time"

	"github.com/kyleking/sqlrag/internal/index"
)

// Store defines persistence for embedded schema snapshots. A snapshot is
// identified by the catalog hash and the embedding provider identity, so a
// restart against an unchanged schema can reuse vectors instead of re-embedding.
type Store interface {
	Initialize(ctx context.Context) error
	SaveSnapshot(ctx context.Context, dump index.Dump) error
	LoadSnapshot(ctx context.Context, catalogHash, provider string) (*index.Dump, error)
	HasSnapshot(ctx context.Context, catalogHash, provider string) (bool, error)
	ListSnapshots(ctx context.Context) ([]SnapshotInfo, error)
	Prune(ctx context.Context, keep int) (int, error)
	GetStats(ctx context.Context) (*Stats, error)
	Clear(ctx context.Context) error
	Close() error
}

// SnapshotInfo describes one stored snapshot
type SnapshotInfo struct {
	CatalogHash string     `json:"catalog_hash"`
	Provider    string     `json:"provider"`
	Dimensions  int        `json:"dimensions"`
	UnitCount   int        `json:"unit_count"`
	BuiltAt     time.Time  `json:"built_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
}

// Stats represents database statistics
type Stats struct {
	TotalSnapshots int       `json:"total_snapshots"`
	TotalUnits     int       `json:"total_units"`
	LastBuildTime  time.Time `json:"last_build_time"`
	DatabaseSizeMB float64   `json:"database_size_mb"`
}
