package storage

import (
	"fmt"
	"time"

	"github.com/kyleking/sqlrag/internal/config"
)

// NewDuckDBStoreFromConfig opens the snapshot store with pool settings from config
func NewDuckDBStoreFromConfig(cfg *config.IndexConfig) (*DuckDBStore, error) {
	lifetime, err := time.ParseDuration(cfg.ConnMaxLifetime)
	if err != nil {
		return nil, fmt.Errorf("invalid conn_max_lifetime: %w", err)
	}

	return NewDuckDBStoreWithPool(cfg.Path, cfg.MaxConnections, lifetime)
}
