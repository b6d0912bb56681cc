package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/sqlrag/internal/catalog"
	"github.com/kyleking/sqlrag/internal/errors"
	"github.com/kyleking/sqlrag/internal/formatter"
	"github.com/kyleking/sqlrag/internal/pipeline"
)

func CatalogCommand() *cli.Command {
	return &cli.Command{
		Name:  "catalog",
		Usage: "Inspect the live schema catalog",
		Commands: []*cli.Command{
			{
				Name:        "show",
				Usage:       "Display tables and columns from the configured database",
				Description: `Load the catalog directly from the database and print it. With table names, only those tables are shown.`,
				ArgsUsage:   " [table...]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "long", Usage: "Output format: short, long or json"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, err := loadConfig(cmd)
					if err != nil {
						return err
					}

					built := &pipeline.Built{}
					defer built.Close()

					loader, err := pipeline.NewLoader(ctx, cfg.Database, built)
					if err != nil {
						return err
					}

					cat, err := loader.Load(ctx)
					if err != nil {
						return err
					}

					return runCatalogShow(output(cmd), cat, cmd.Args().Slice(), formatter.ParseFormat(cmd.String("format")))
				},
			},
		},
	}
}

func runCatalogShow(w io.Writer, cat *catalog.Catalog, names []string, format formatter.OutputFormat) error {
	f := formatter.NewFormatter()

	if len(names) == 0 {
		if cat.IsEmpty() {
			fmt.Fprintln(w, "No tables found.")
			return nil
		}

		for _, tbl := range cat.Tables() {
			fmt.Fprintln(w, f.FormatTable(tbl, format))
		}

		return nil
	}

	for _, name := range names {
		tbl, ok := cat.Find(name)
		if !ok {
			return errors.Newf(errors.ErrTypeNotFound, "table %q is not in the catalog", name).
				WithSuggestion("Run 'sqlrag catalog show' to list every table")
		}

		fmt.Fprintln(w, f.FormatTable(*tbl, format))
	}

	return nil
}
