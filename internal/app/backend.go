// Package app wires the configured backend for the executables.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nfrund/parley/internal/backend"
	"github.com/nfrund/parley/internal/backend/memory"
	"github.com/nfrund/parley/internal/backend/redisfeed"
	"github.com/nfrund/parley/internal/config"
	"github.com/nfrund/parley/internal/database"
)

// OpenBackend connects to the store named by cfg.GetBackend(). The caller
// closes it.
func OpenBackend(ctx context.Context, cfg config.Provider) (backend.Backend, error) {
	switch cfg.GetBackend() {
	case config.BackendMemory, "":
		slog.Info("Using in-memory backend")
		return memory.New(), nil

	case config.BackendSurreal:
		conn := database.NewConnection(cfg)
		if err := conn.Connect(ctx); err != nil {
			return nil, fmt.Errorf("connect to surrealdb: %w", err)
		}
		conn.StartMonitoring()
		slog.Info("Using SurrealDB backend", "namespace", cfg.GetDBNs(), "database", cfg.GetDBDb())
		return database.NewSurrealBackend(conn, database.NewSurrealLiveQueryService(conn)), nil

	case config.BackendRedis:
		feed, err := redisfeed.Dial(ctx, cfg.GetRedisAddr())
		if err != nil {
			return nil, err
		}
		slog.Info("Using Redis backend", "addr", cfg.GetRedisAddr())
		return feed, nil

	default:
		return nil, fmt.Errorf("%w: unknown backend %q", config.ErrInvalidSetting, cfg.GetBackend())
	}
}
