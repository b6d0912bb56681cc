package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/sqlrag/internal/config"
	"github.com/kyleking/sqlrag/internal/errors"
)

func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:        "config",
		Usage:       "Display the active configuration",
		Description: `Show the current active configuration including all settings from file, environment variables, and command-line flags. Secrets are never printed.`,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			return runConfig(output(cmd), cfg)
		},
	}
}

func runConfig(w io.Writer, cfg *config.Config) error {
	if cfg == nil {
		return errors.NewConfigError("failed to load configuration", "")
	}

	fmt.Fprintln(w, "====================")
	fmt.Fprintln(w, "Active Configuration:")

	fmt.Fprintln(w, "\nDatabase:")
	fmt.Fprintf(w, "  Driver: %s\n", cfg.Database.Driver)

	switch cfg.Database.Driver {
	case "postgres":
		fmt.Fprintf(w, "  Host: %s:%d\n", cfg.Database.Host, cfg.Database.Port)
		fmt.Fprintf(w, "  Name: %s\n", cfg.Database.Name)
		fmt.Fprintf(w, "  DSN Override: %t\n", cfg.Database.DSN != "")
	default:
		fmt.Fprintf(w, "  Path: %s\n", cfg.Database.Path)
	}

	fmt.Fprintf(w, "  Schemas: %s\n", cfg.Database.Schemas)
	fmt.Fprintf(w, "  Query Timeout: %s\n", cfg.Database.QueryTimeout)

	fmt.Fprintln(w, "\nIndex:")
	fmt.Fprintf(w, "  Path: %s\n", cfg.Index.Path)
	fmt.Fprintf(w, "  Top K: %d\n", cfg.Index.TopK)
	fmt.Fprintf(w, "  Concurrency: %d\n", cfg.Index.Concurrency)
	fmt.Fprintf(w, "  Keep Snapshots: %d\n", cfg.Index.KeepSnapshots)

	fmt.Fprintln(w, "\nEmbedding:")
	fmt.Fprintf(w, "  Provider: %s\n", cfg.Embedding.Provider)
	fmt.Fprintf(w, "  Model: %s\n", orDefault(cfg.Embedding.Model))
	fmt.Fprintf(w, "  API Key Set: %t\n", cfg.Embedding.APIKey != "")

	fmt.Fprintln(w, "\nLLM:")
	fmt.Fprintf(w, "  Provider: %s\n", cfg.LLM.Provider)
	fmt.Fprintf(w, "  Model: %s\n", orDefault(cfg.LLM.Model))
	fmt.Fprintf(w, "  Temperature: %g\n", cfg.LLM.Temperature)
	fmt.Fprintf(w, "  API Key Set: %t\n", cfg.LLM.APIKey != "")

	fmt.Fprintln(w, "\nPrompt:")
	fmt.Fprintf(w, "  Template: %s\n", cfg.Prompt.Template)
	fmt.Fprintf(w, "  Max Chars: %d\n", cfg.Prompt.MaxChars)

	fmt.Fprintln(w, "\nRepair:")
	fmt.Fprintf(w, "  Max Attempts: %d\n", cfg.Repair.MaxAttempts)
	fmt.Fprintf(w, "  Allow Writes: %t\n", cfg.Repair.AllowWrites)

	fmt.Fprintln(w, "\nCache:")
	fmt.Fprintf(w, "  Enabled: %t\n", cfg.Cache.Enabled)
	fmt.Fprintf(w, "  Directory: %s\n", cfg.Cache.Directory)
	fmt.Fprintf(w, "  Max Size: %d MB\n", cfg.Cache.MaxSizeMB)
	fmt.Fprintf(w, "  TTL: %d hours\n", cfg.Cache.TTLHours)

	if cfg.Mirror.Enabled {
		fmt.Fprintln(w, "\nMirror:")
		fmt.Fprintf(w, "  Endpoint: %s\n", cfg.Mirror.Endpoint)
		fmt.Fprintf(w, "  Bucket: %s/%s\n", cfg.Mirror.Bucket, cfg.Mirror.Prefix)
	}

	fmt.Fprintln(w, "\nServer:")
	fmt.Fprintf(w, "  Address: %s\n", cfg.Server.Addr)
	fmt.Fprintf(w, "  Refresh Interval: %s\n", cfg.Server.RefreshInterval)

	fmt.Fprintln(w, "\nLogging:")
	fmt.Fprintf(w, "  Level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(w, "  Format: %s\n", cfg.Logging.Format)
	fmt.Fprintf(w, "  Output: %s\n", cfg.Logging.Output)

	if cfg.Logging.Output == "file" {
		fmt.Fprintf(w, "  File: %s\n", cfg.Logging.File)
	}

	fmt.Fprintln(w, "\nDebug:")
	fmt.Fprintf(w, "  Enabled: %t\n", cfg.Debug.Enabled)
	fmt.Fprintf(w, "  Verbose: %t\n", cfg.Debug.Verbose)
	fmt.Fprintf(w, "  Trace Prompt: %t\n", cfg.Debug.TracePrompt)

	if cfg.Debug.Enabled {
		fmt.Fprintln(w, "\nRaw Configuration (JSON):")
		fmt.Fprintln(w, "==========================")

		redacted := *cfg
		redacted.Database.Password = ""
		redacted.Database.DSN = ""

		jsonData, err := json.MarshalIndent(redacted, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}

		fmt.Fprintln(w, string(jsonData))
	}

	return nil
}

func orDefault(s string) string {
	if s == "" {
		return "(provider default)"
	}

	return s
}
