// Package main initializes and runs the Norn Data Plane service.
//
// It acts as the composition root for the high-throughput evaluation API,
// wiring up the Redis snapshot distribution layer, the in-memory result
// cache, and the evaluator, and handling the server lifecycle.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nornlabs/norn/internal/cache"
	"github.com/nornlabs/norn/internal/config"
	"github.com/nornlabs/norn/internal/dataapi"
	"github.com/nornlabs/norn/internal/evaluation"
	"github.com/nornlabs/norn/internal/health"
	"github.com/nornlabs/norn/internal/logger"
	"github.com/nornlabs/norn/internal/observability"
)

const (
	// poolMonitorInterval is how often connection pool gauges are sampled.
	poolMonitorInterval = 15 * time.Second

	// cacheMetricsInterval is how often result cache gauges are sampled.
	cacheMetricsInterval = 15 * time.Second

	// snapshotMaxAge marks a replica unready when its snapshot is older
	// than this. Generous on purpose: a lagging replica still serves
	// consistent (if slightly stale) answers.
	snapshotMaxAge = 10 * time.Minute
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// run executes the service lifecycle.
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// -------------------------------------------------------------------------
	// 2. Infrastructure Setup
	// -------------------------------------------------------------------------
	// The data plane never touches PostgreSQL: it serves exclusively from
	// the snapshot published to Redis.
	redisClient, err := cache.NewRedisClient(logger.WithContext(ctx, log), &cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()

	snapshotStore := cache.NewRedisSnapshotStore(redisClient)
	provider := cache.NewSnapshotProvider(snapshotStore, cfg.Server.Data.SnapshotRefreshInterval, log)

	results, err := cache.NewMemoryCache(cfg.Server.Data.L1CacheCapacity, cfg.Server.Data.L1CacheTTL)
	if err != nil {
		return fmt.Errorf("failed to create result cache: %w", err)
	}
	defer results.Close()

	go provider.Run(ctx)
	go results.RunMetricsCollector(ctx, cacheMetricsInterval)
	go cache.RunPoolMonitor(ctx, redisClient, poolMonitorInterval)

	// -------------------------------------------------------------------------
	// 3. Observability Server (dedicated admin port)
	// -------------------------------------------------------------------------
	obsServer := observability.NewServer(log, &cfg.Observability,
		cache.NewHealthChecker(redisClient),
		health.NewSnapshotChecker(provider, snapshotMaxAge),
	)
	obsServer.Start()

	// -------------------------------------------------------------------------
	// 4. Wiring (Dependency Injection)
	// -------------------------------------------------------------------------
	api := dataapi.NewAPI(provider, results, evaluation.NewEvaluator(log))

	// -------------------------------------------------------------------------
	// 5. HTTP Server
	// -------------------------------------------------------------------------
	srvCfg := cfg.Server.Data
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%s", srvCfg.Host, srvCfg.Port),
		Handler:           api.Router,
		ReadTimeout:       srvCfg.ReadTimeout,
		WriteTimeout:      srvCfg.WriteTimeout,
		ReadHeaderTimeout: srvCfg.ReadHeaderTimeout,
		IdleTimeout:       srvCfg.IdleTimeout,
		MaxHeaderBytes:    srvCfg.MaxHeaderBytes,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("data plane listening", slog.String("addr", server.Addr))
		if serveErr := server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- fmt.Errorf("data plane server failed: %w", serveErr)
		}
	}()

	// -------------------------------------------------------------------------
	// 6. Graceful Shutdown
	// -------------------------------------------------------------------------
	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		log.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("data plane shutdown failed: %w", err)
	}
	if err := obsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("observability server shutdown failed", slog.String("error", err.Error()))
	}

	log.Info("service exited successfully")
	return nil
}
