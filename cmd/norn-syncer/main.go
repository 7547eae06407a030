// Package main initializes and runs the Norn Syncer worker.
//
// It acts as the composition root for the snapshot build pipeline, wiring
// up PostgreSQL (source of truth) and Redis (distribution layer), and
// running the sync loop until shutdown.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nornlabs/norn/internal/cache"
	"github.com/nornlabs/norn/internal/config"
	"github.com/nornlabs/norn/internal/database"
	"github.com/nornlabs/norn/internal/logger"
	"github.com/nornlabs/norn/internal/observability"
	"github.com/nornlabs/norn/internal/store"
	"github.com/nornlabs/norn/internal/syncer"
)

// poolMonitorInterval is how often connection pool gauges are sampled.
const poolMonitorInterval = 15 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// run executes the worker lifecycle.
func run() error {
	// -------------------------------------------------------------------------
	// 1. Configuration & Logging
	// -------------------------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.New(&cfg.App)
	slog.SetDefault(log)
	cfg.LogConfig(log)

	if !cfg.Syncer.Enabled {
		log.Warn("syncer is disabled by configuration, exiting")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// -------------------------------------------------------------------------
	// 2. Infrastructure Setup
	// -------------------------------------------------------------------------
	pool, err := database.NewPostgresPool(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()

	redisClient, err := cache.NewRedisClient(logger.WithContext(ctx, log), &cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()

	snapshotStore := cache.NewRedisSnapshotStore(redisClient)

	go database.RunPoolMonitor(ctx, pool, poolMonitorInterval)
	go cache.RunPoolMonitor(ctx, redisClient, poolMonitorInterval)

	// -------------------------------------------------------------------------
	// 3. Observability Server (dedicated admin port)
	// -------------------------------------------------------------------------
	obsServer := observability.NewServer(log, &cfg.Observability,
		database.NewHealthChecker(pool),
		cache.NewHealthChecker(redisClient),
	)
	obsServer.Start()

	// -------------------------------------------------------------------------
	// 4. Wiring & Run
	// -------------------------------------------------------------------------
	featureRepo := store.NewPostgresFeatureStore(pool)
	segmentRepo := store.NewPostgresSegmentStore(pool)

	service := syncer.New(log, cfg.Syncer, featureRepo, segmentRepo, snapshotStore)

	// Run blocks until the context is cancelled by a shutdown signal.
	runErr := service.Run(ctx)

	// -------------------------------------------------------------------------
	// 5. Graceful Shutdown
	// -------------------------------------------------------------------------
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := obsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("observability server shutdown failed", slog.String("error", err.Error()))
	}

	if runErr != nil {
		return fmt.Errorf("syncer stopped with error: %w", runErr)
	}

	log.Info("worker exited successfully")
	return nil
}
