package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/kyleking/sqlrag/internal/cache"
	"github.com/kyleking/sqlrag/internal/catalog"
	"github.com/kyleking/sqlrag/internal/config"
	"github.com/kyleking/sqlrag/internal/embedding"
	"github.com/kyleking/sqlrag/internal/errors"
	"github.com/kyleking/sqlrag/internal/llm"
	"github.com/kyleking/sqlrag/internal/logging"
	"github.com/kyleking/sqlrag/internal/mirror"
	"github.com/kyleking/sqlrag/internal/prompt"
	"github.com/kyleking/sqlrag/internal/storage"
)

// Built is a pipeline assembled from configuration plus the resources it owns
type Built struct {
	*Pipeline
	closers []func() error
}

// Close releases database handles, the store and the question cache
func (b *Built) Close() error {
	var errs []error

	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}

	return stderrors.Join(errs...)
}

// FromConfig opens every collaborator named by cfg. The returned pipeline
// has no snapshot until Refresh succeeds.
func FromConfig(ctx context.Context, cfg *config.Config) (*Built, error) {
	b := &Built{}

	fail := func(err error) (*Built, error) {
		_ = b.Close()
		return nil, err
	}

	loader, err := NewLoader(ctx, cfg.Database, b)
	if err != nil {
		return fail(err)
	}

	provider, err := embedding.NewProvider(embedding.FromAppConfig(cfg.Embedding))
	if err != nil {
		return fail(err)
	}

	embedder := embedding.NewEmbedder(provider, cfg.Index.Concurrency)

	if cfg.Cache.Enabled {
		fc, err := cache.NewFileCacheFromConfig(cfg.Cache)
		if err != nil {
			logging.WithError(err).Warn("Question cache disabled")
		} else {
			b.closers = append(b.closers, fc.Close)
			embedder.WithQuestionCache(cache.NewVectorCache(fc, time.Duration(cfg.Cache.TTLHours)*time.Hour))
		}
	}

	service, err := llm.NewService(llm.FromAppConfig(cfg.LLM))
	if err != nil {
		return fail(err)
	}

	registry, err := prompt.LoadRegistry(cfg.Prompt.TemplatesFile)
	if err != nil {
		return fail(err)
	}

	deps := Deps{
		Loader:    loader,
		Embedder:  embedder,
		Service:   service,
		Assembler: prompt.NewAssembler(registry, cfg.Prompt.MaxChars),
	}

	if cfg.Index.Path != "" {
		store, err := storage.NewDuckDBStoreFromConfig(&cfg.Index)
		if err != nil {
			return fail(err)
		}

		b.closers = append(b.closers, store.Close)

		if err := store.Initialize(ctx); err != nil {
			return fail(err)
		}

		deps.Store = store
	}

	if cfg.Mirror.Enabled {
		m, err := mirror.New(ctx, cfg.Mirror)
		if err != nil {
			return fail(err)
		}

		deps.Mirror = m
	}

	p, err := New(deps, SettingsFromConfig(cfg))
	if err != nil {
		return fail(err)
	}

	b.Pipeline = p

	return b, nil
}

// SettingsFromConfig extracts request settings
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		TopK:          cfg.Index.TopK,
		MaxAttempts:   cfg.Repair.MaxAttempts,
		AllowWrites:   cfg.Repair.AllowWrites,
		KeepSnapshots: cfg.Index.KeepSnapshots,
		TracePrompt:   cfg.Debug.TracePrompt,
		Retry: RetryPolicy{
			Attempts:        cfg.Retry.Attempts,
			InitialInterval: config.Duration(cfg.Retry.InitialInterval),
			MaxInterval:     config.Duration(cfg.Retry.MaxInterval),
		},
	}
}

// NewLoader opens the catalog source for the configured driver. Opened
// connections are closed with b.
func NewLoader(ctx context.Context, db config.DatabaseConfig, b *Built) (catalog.Loader, error) {
	switch db.Driver {
	case "postgres", "":
		conn, err := catalog.OpenPostgres(ctx, db.PostgresDSN())
		if err != nil {
			return nil, err
		}

		b.closers = append(b.closers, conn.Close)

		return catalog.NewPostgresLoader(conn, db.SchemaList(), config.Duration(db.QueryTimeout)), nil
	case "duckdb":
		if db.Path == "" {
			return nil, errors.NewConfigError("the duckdb driver needs a database path", "database.path")
		}

		conn, err := catalog.OpenDuckDB(db.Path)
		if err != nil {
			return nil, err
		}

		b.closers = append(b.closers, conn.Close)

		return catalog.NewDuckDBLoader(conn, db.SchemaList()), nil
	case "tbls":
		if db.Path == "" {
			return nil, errors.NewConfigError("the tbls driver needs a schema.json path", "database.path")
		}

		return catalog.NewTblsLoader(db.Path), nil
	default:
		return nil, errors.NewConfigError(fmt.Sprintf("unsupported database driver: %s", db.Driver), "database.driver")
	}
}
