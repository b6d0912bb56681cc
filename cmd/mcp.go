package cmd

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/sqlrag/internal/logging"
	"github.com/kyleking/sqlrag/internal/mcptool"
	"github.com/kyleking/sqlrag/internal/pipeline"
)

func MCPCommand() *cli.Command {
	return &cli.Command{
		Name:        "mcp",
		Usage:       "Serve generate_sql and describe_schema as MCP tools over stdio",
		Description: `Run a Model Context Protocol server on stdin/stdout so agents can request validated SQL. Logs go to stderr.`,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			// stdout carries the protocol
			if cfg.Logging.Output == "stdout" {
				cfg.Logging.Output = "stderr"
				if err := logging.InitializeLogger(cfg.Logging); err != nil {
					return err
				}
			}

			built, err := pipeline.FromConfig(ctx, cfg)
			if err != nil {
				return err
			}
			defer built.Close()

			if _, err := built.Refresh(ctx); err != nil {
				logging.WithError(err).Warn("Initial schema refresh failed")
			}

			return mcptool.ServeStdio(mcptool.NewServer(built.Pipeline, Version))
		},
	}
}
