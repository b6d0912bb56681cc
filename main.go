package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/kyleking/sqlrag/cmd"
	"github.com/kyleking/sqlrag/internal/logging"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// commands replace this once their configuration is loaded
	logging.SetupFallbackLogger()

	cmd.Version = version

	if err := cmd.Execute(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
