package pipeline

import (
	"context"
	"time"

	"github.com/kyleking/sqlrag/internal/catalog"
	"github.com/kyleking/sqlrag/internal/embedding"
	"github.com/kyleking/sqlrag/internal/errors"
	"github.com/kyleking/sqlrag/internal/index"
	"github.com/kyleking/sqlrag/internal/logging"
	"github.com/kyleking/sqlrag/internal/observability"
	"github.com/kyleking/sqlrag/internal/validator"
)

// RefreshResult describes what a refresh did
type RefreshResult struct {
	CatalogHash string        `json:"catalog_hash"`
	Provider    string        `json:"provider"`
	Tables      int           `json:"tables"`
	Units       int           `json:"units"`
	Source      string        `json:"source"`
	Changed     bool          `json:"changed"`
	Duration    time.Duration `json:"duration"`
}

// Refresh reloads the catalog and swaps in a new snapshot when the schema or
// embedding provider changed. Vectors come from the local store, then the
// mirror, and are embedded only when neither has them. Concurrent callers
// share one run; the previous snapshot keeps serving until the swap.
func (p *Pipeline) Refresh(ctx context.Context) (*RefreshResult, error) {
	v, err, shared := p.group.Do("refresh", func() (any, error) {
		p.mu.Lock()
		defer p.mu.Unlock()

		return p.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}

	if shared {
		logging.Debug("Joined an in-flight refresh")
	}

	return v.(*RefreshResult), nil
}

func (p *Pipeline) refresh(ctx context.Context) (*RefreshResult, error) {
	start := p.now()

	cat, err := p.loader.Load(ctx)
	if err != nil {
		observability.ObserveRefresh(observability.RefreshFailed)
		return nil, err
	}

	if cat.IsEmpty() {
		observability.ObserveRefresh(observability.RefreshFailed)
		return nil, errors.NewEmptyCatalogError(p.loader.Name())
	}

	hash := cat.Hash()
	provider := embedding.Identity(p.embedder.Provider())

	result := &RefreshResult{CatalogHash: hash, Provider: provider, Tables: cat.Len()}

	if cur := p.current.Load(); cur != nil && cur.Hash() == hash && cur.Index.Metadata().Provider == provider {
		result.Units = cur.Index.Len()
		result.Source = observability.RefreshUnchanged
		result.Duration = time.Since(start)

		observability.ObserveRefresh(observability.RefreshUnchanged)
		logging.WithFields(map[string]any{"catalog_hash": shortHash(hash)}).Debug("Schema unchanged, keeping snapshot")

		return result, nil
	}

	ix, source, err := p.buildIndex(ctx, cat, hash, provider)
	if err != nil {
		observability.ObserveRefresh(observability.RefreshFailed)
		return nil, err
	}

	p.current.Store(&Snapshot{
		Catalog:   cat,
		Index:     ix,
		Validator: validator.New(cat),
		Source:    source,
		LoadedAt:  p.now(),
	})

	result.Units = ix.Len()
	result.Source = source
	result.Changed = true
	result.Duration = time.Since(start)

	observability.ObserveRefresh(source)
	observability.SetIndexedUnits(ix.Len())
	observability.ObserveStage(observability.StageRefresh, result.Duration)

	logging.WithFields(map[string]any{
		"loader":       p.loader.Name(),
		"catalog_hash": shortHash(hash),
		"provider":     provider,
		"tables":       cat.Len(),
		"source":       source,
		"duration":     result.Duration.String(),
	}).Info("Schema index refreshed")

	return result, nil
}

// buildIndex finds or computes vectors for cat
func (p *Pipeline) buildIndex(ctx context.Context, cat *catalog.Catalog, hash, provider string) (*index.Index, string, error) {
	if p.store != nil {
		dump, err := p.store.LoadSnapshot(ctx, hash, provider)
		switch {
		case err == nil:
			ix, err := index.FromDump(*dump)
			if err == nil {
				return ix, observability.RefreshStore, nil
			}

			logging.WithError(err).Warn("Stored snapshot is unusable, rebuilding")
		case !errors.IsType(err, errors.ErrTypeNotFound):
			logging.WithError(err).Warn("Failed to read stored snapshot")
		}
	}

	if p.mirror != nil {
		dump, err := p.mirror.Fetch(ctx, hash, provider)
		switch {
		case err == nil:
			ix, err := index.FromDump(*dump)
			if err == nil {
				p.persist(ctx, ix, false)
				return ix, observability.RefreshMirror, nil
			}

			logging.WithError(err).Warn("Mirrored snapshot is unusable, rebuilding")
		case !errors.IsType(err, errors.ErrTypeNotFound):
			logging.WithError(err).Warn("Failed to fetch mirrored snapshot")
		}
	}

	embedded, err := p.embedder.EmbedSchema(ctx, cat)
	if err != nil {
		return nil, "", err
	}

	ix, err := index.Build(embedded.Units, embedded.Vectors, index.Metadata{
		CatalogHash: hash,
		Provider:    provider,
		Dimensions:  p.embedder.Provider().GetDimensions(),
		BuiltAt:     p.now().UTC(),
	})
	if err != nil {
		return nil, "", err
	}

	p.persist(ctx, ix, true)

	return ix, observability.RefreshEmbedded, nil
}

// persist saves a snapshot locally and optionally publishes it. Failures are
// logged: the in-memory index is already usable.
func (p *Pipeline) persist(ctx context.Context, ix *index.Index, publish bool) {
	dump := ix.Dump()

	if p.store != nil {
		if err := p.store.SaveSnapshot(ctx, dump); err != nil {
			logging.WithError(err).Warn("Failed to store snapshot")
		} else if p.settings.KeepSnapshots > 0 {
			if pruned, err := p.store.Prune(ctx, p.settings.KeepSnapshots); err != nil {
				logging.WithError(err).Warn("Failed to prune snapshots")
			} else if pruned > 0 {
				logging.Debugf("Pruned %d old snapshots", pruned)
			}
		}
	}

	if publish && p.mirror != nil {
		if err := p.mirror.Publish(ctx, dump); err != nil {
			logging.WithError(err).Warn("Failed to publish snapshot to mirror")
		}
	}
}

// Watch refreshes every interval until ctx is done. Failed refreshes keep
// the current snapshot.
func (p *Pipeline) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.Refresh(ctx); err != nil && ctx.Err() == nil {
				logging.WithError(err).Warn("Scheduled refresh failed")
			}
		}
	}
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}

	return hash
}
