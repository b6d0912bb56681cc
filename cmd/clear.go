package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/sqlrag/internal/cache"
	"github.com/kyleking/sqlrag/internal/storage"
)

func ClearCommand() *cli.Command {
	return &cli.Command{
		Name:        "clear",
		Usage:       "Remove stored snapshots and cached question vectors",
		Description: `Delete every embedded snapshot from the store and empty the question cache. This action requires confirmation.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "force", Aliases: []string{"f"}, Usage: "Skip confirmation prompt"},
		},
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

			var questions cache.Cache

			if cfg.Cache.Enabled {
				fc, err := cache.NewFileCacheFromConfig(cfg.Cache)
				if err != nil {
					return fmt.Errorf("failed to open question cache: %w", err)
				}
				defer fc.Close()

				questions = fc
			}

			return runClear(ctx, clearIO{in: os.Stdin, out: output(cmd)}, cmd.Bool("force"), store, questions)
		},
	}
}

type clearIO struct {
	in  io.Reader
	out io.Writer
}

func runClear(ctx context.Context, rw clearIO, force bool, store storage.Store, questions cache.Cache) error {
	stats, err := store.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get statistics: %w", err)
	}

	var cached int64

	if questions != nil {
		if cs, err := questions.GetStats(ctx); err == nil {
			cached = cs.TotalEntries
		}
	}

	if stats.TotalSnapshots == 0 && cached == 0 {
		fmt.Fprintln(rw.out, "Index is already empty.")
		return nil
	}

	fmt.Fprintf(rw.out, "This will delete:\n")
	fmt.Fprintf(rw.out, "  • %d snapshots\n", stats.TotalSnapshots)
	fmt.Fprintf(rw.out, "  • %d schema units\n", stats.TotalUnits)
	fmt.Fprintf(rw.out, "  • %d cached question vectors\n", cached)

	if !force {
		fmt.Fprintf(rw.out, "\nAre you sure you want to clear the index? The next request will re-embed the schema.\n")
		fmt.Fprintf(rw.out, "Type 'yes' to confirm: ")

		reader := bufio.NewReader(rw.in)

		response, err := reader.ReadString('\n')
		if err != nil && response == "" {
			return fmt.Errorf("failed to read input: %w", err)
		}

		if strings.TrimSpace(strings.ToLower(response)) != "yes" {
			fmt.Fprintln(rw.out, "Operation cancelled.")
			return nil
		}
	}

	if err := store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear index: %w", err)
	}

	if questions != nil {
		if err := questions.Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear question cache: %w", err)
		}
	}

	fmt.Fprintln(rw.out, "Index cleared successfully.")

	return nil
}
