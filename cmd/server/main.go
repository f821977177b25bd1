package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nfrund/parley/internal/app"
	"github.com/nfrund/parley/internal/config"
	"github.com/nfrund/parley/internal/logging"
	"github.com/nfrund/parley/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	logging.New(cfg.GetLogFormat(), cfg.GetLogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	b, err := app.OpenBackend(connectCtx, cfg)
	cancel()
	if err != nil {
		slog.Error("Failed to open backend", "backend", cfg.GetBackend(), "error", err)
		os.Exit(1)
	}

	s := server.New(cfg, b)
	runErr := s.Run(ctx)

	if err := b.Close(); err != nil {
		slog.Warn("Failed to close backend", "error", err)
	}
	if runErr != nil {
		slog.Error("Server stopped with error", "error", runErr)
		os.Exit(1)
	}
}
