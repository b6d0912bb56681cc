package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/sqlrag/internal/config"
	"github.com/kyleking/sqlrag/internal/errors"
	"github.com/kyleking/sqlrag/internal/formatter"
	"github.com/kyleking/sqlrag/internal/pipeline"
	"github.com/kyleking/sqlrag/internal/storage"
)

func IndexCommand() *cli.Command {
	return &cli.Command{
		Name:  "index",
		Usage: "Build and inspect the schema embedding index",
		Commands: []*cli.Command{
			{
				Name:  "refresh",
				Usage: "Reload the catalog and re-embed it when the schema changed",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "short", Usage: "Output format: short, long or json"},
					&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "Hide the progress spinner"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, err := loadConfig(cmd)
					if err != nil {
						return err
					}

					built, err := pipeline.FromConfig(ctx, cfg)
					if err != nil {
						return err
					}
					defer built.Close()

					prog := newProgress(!cmd.Bool("quiet") && !cfg.Debug.Verbose)
					prog.Step("Indexing schema...")

					res, err := built.Refresh(ctx)

					prog.Stop()

					if err != nil {
						return err
					}

					fmt.Fprintln(output(cmd), formatter.NewFormatter().FormatRefresh(res, formatter.ParseFormat(cmd.String("format"))))

					return nil
				},
			},
			{
				Name:  "status",
				Usage: "Show the snapshots held in the embedding store",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, err := loadConfig(cmd)
					if err != nil {
						return err
					}

					store, err := openStore(ctx, &cfg.Index)
					if err != nil {
						return err
					}
					defer store.Close()

					return runIndexStatus(ctx, output(cmd), store)
				},
			},
			ClearCommand(),
		},
	}
}

func openStore(ctx context.Context, cfg *config.IndexConfig) (*storage.DuckDBStore, error) {
	if cfg.Path == "" {
		return nil, errors.NewConfigError("no embedding store is configured", "index.path")
	}

	store, err := storage.NewDuckDBStoreFromConfig(cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to open embedding store")
	}

	if err := store.Initialize(ctx); err != nil {
		_ = store.Close()
		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to initialize embedding store")
	}

	return store, nil
}

func runIndexStatus(ctx context.Context, w io.Writer, store storage.Store) error {
	stats, err := store.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get statistics: %w", err)
	}

	snapshots, err := store.ListSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("failed to list snapshots: %w", err)
	}

	fmt.Fprintf(w, "Index Statistics\n")
	fmt.Fprintf(w, "================\n\n")

	fmt.Fprintf(w, "Snapshots: %d\n", stats.TotalSnapshots)
	fmt.Fprintf(w, "Schema Units: %d\n", stats.TotalUnits)
	fmt.Fprintf(w, "Database Size: %.2f MB\n", stats.DatabaseSizeMB)

	if !stats.LastBuildTime.IsZero() {
		fmt.Fprintf(w, "Last Build: %s\n", stats.LastBuildTime.Format("2006-01-02 15:04:05"))
	} else {
		fmt.Fprintf(w, "Last Build: Never\n")
	}

	if len(snapshots) == 0 {
		return nil
	}

	fmt.Fprintf(w, "\nSnapshots:\n")

	for _, s := range snapshots {
		lastUsed := "never"
		if s.LastUsedAt != nil {
			lastUsed = s.LastUsedAt.Format("2006-01-02 15:04:05")
		}

		hash := s.CatalogHash
		if len(hash) > 12 {
			hash = hash[:12]
		}

		fmt.Fprintf(w, "  %-12s  %-24s %4d units  built %s  used %s\n",
			hash, s.Provider, s.UnitCount, s.BuiltAt.Format("2006-01-02 15:04:05"), lastUsed)
	}

	return nil
}
