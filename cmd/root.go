package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/sqlrag/internal/config"
	"github.com/kyleking/sqlrag/internal/errors"
	"github.com/kyleking/sqlrag/internal/logging"
)

// Version is set at build time
var Version = "dev"

// NewApp builds the command tree
func NewApp() *cli.Command {
	return &cli.Command{
		Name:    "sqlrag",
		Usage:   "Translate questions into SQL that is checked against your live schema",
		Version: Version,
		Description: `sqlrag indexes the tables of a PostgreSQL database (or a DuckDB file or tbls
schema.json), retrieves the tables relevant to a natural-language question,
asks a language model for a query, and only returns SQL that parses and
references tables and columns that exist.`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db-driver", Usage: "Catalog source: postgres, duckdb or tbls"},
			&cli.StringFlag{Name: "db-dsn", Usage: "PostgreSQL connection string"},
			&cli.StringFlag{Name: "db-path", Usage: "DuckDB file or tbls schema.json"},
			&cli.StringFlag{Name: "index-path", Usage: "Embedding store location"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
			&cli.BoolFlag{Name: "verbose", Usage: "Show detailed processing steps"},
			&cli.BoolFlag{Name: "debug", Usage: "Enable debug output"},
		},
		Commands: []*cli.Command{
			AskCommand(),
			IndexCommand(),
			CatalogCommand(),
			ServeCommand(),
			MCPCommand(),
			ConfigCommand(),
		},
	}
}

// Execute runs the application with the process arguments
func Execute(ctx context.Context) error {
	err := NewApp().Run(ctx, os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)

		if hints := errors.FormatSuggestions(err); hints != "" {
			fmt.Fprintln(os.Stderr, hints)
		}
	}

	return err
}

// loadConfig resolves configuration for a command: defaults, file,
// environment, then any global flag the user set.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	overrides := map[string]any{}

	for _, name := range []string{"db-driver", "db-dsn", "db-path", "index-path", "log-level"} {
		if cmd.IsSet(name) {
			overrides[name] = cmd.String(name)
		}
	}

	for _, name := range []string{"verbose", "debug"} {
		if cmd.IsSet(name) {
			overrides[name] = cmd.Bool(name)
		}
	}

	cfg, err := config.LoadConfigWithOverrides(overrides)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeConfig, "failed to load configuration")
	}

	cfg.ExpandAllPaths()

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeConfig, "failed to create data directories")
	}

	if cfg.Debug.Enabled {
		cfg.Logging.Level = "debug"
	}

	if err := logging.InitializeLogger(cfg.Logging); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeConfig, "failed to initialize logging")
	}

	return cfg, nil
}

// output is where command results go; tests swap the root writer
func output(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}

	return os.Stdout
}
