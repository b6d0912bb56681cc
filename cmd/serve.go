package cmd

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/sqlrag/internal/config"
	"github.com/kyleking/sqlrag/internal/logging"
	"github.com/kyleking/sqlrag/internal/pipeline"
	"github.com/kyleking/sqlrag/internal/server"
)

func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the SQL generation API over HTTP",
		Description: `Start the HTTP API. The schema is indexed at startup and, when a refresh
interval is configured, re-checked in the background so schema changes are
picked up without a restart.

Endpoints:
  POST /v1/sql       {"question": "...", "template": "...", "top_k": 5}
  POST /v1/refresh
  GET  /v1/catalog
  GET  /v1/health, /v1/ready, /v1/metrics`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "Listen address (default from config)"},
			&cli.StringFlag{Name: "refresh-interval", Usage: "Background schema refresh interval, 0 to disable"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if addr := cmd.String("addr"); addr != "" {
				cfg.Server.Addr = addr
			}

			if interval := cmd.String("refresh-interval"); interval != "" {
				cfg.Server.RefreshInterval = interval
			}

			built, err := pipeline.FromConfig(ctx, cfg)
			if err != nil {
				return err
			}
			defer built.Close()

			return runServe(ctx, cfg, built.Pipeline)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline) error {
	// The server starts even when the first refresh fails; /v1/ready
	// reports it until a later refresh succeeds.
	if _, err := p.Refresh(ctx); err != nil {
		logging.WithError(err).Warn("Initial schema refresh failed")
	}

	if interval := config.Duration(cfg.Server.RefreshInterval); interval > 0 {
		go p.Watch(ctx, interval)
	}

	return server.New(cfg.Server, p, logging.GetLogger()).ListenAndServe(ctx)
}
