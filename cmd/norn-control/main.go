// Package main initializes and runs the Norn Control Plane service.
//
// It acts as the composition root for the management REST API, wiring up
// PostgreSQL (source of truth), Redis (sync request channel), and the
// observability server, and handling the server lifecycle.
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
	"github.com/nornlabs/norn/internal/controlapi"
	"github.com/nornlabs/norn/internal/database"
	"github.com/nornlabs/norn/internal/logger"
	"github.com/nornlabs/norn/internal/observability"
	"github.com/nornlabs/norn/internal/store"
)

// poolMonitorInterval is how often connection pool gauges are sampled.
const poolMonitorInterval = 15 * time.Second

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
	// 4. Wiring (Dependency Injection)
	// -------------------------------------------------------------------------
	featureRepo := store.NewPostgresFeatureStore(pool)
	segmentRepo := store.NewPostgresSegmentStore(pool)

	api := controlapi.NewAPI(featureRepo, segmentRepo, snapshotStore, cfg.Server.Control.APIKeyHash)

	// -------------------------------------------------------------------------
	// 5. HTTP Server
	// -------------------------------------------------------------------------
	srvCfg := cfg.Server.Control
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
		log.Info("control plane listening", slog.String("addr", server.Addr), slog.Bool("tls", srvCfg.TLSEnabled))

		var serveErr error
		if srvCfg.TLSEnabled {
			serveErr = server.ListenAndServeTLS(srvCfg.TLSCert, srvCfg.TLSKey)
		} else {
			serveErr = server.ListenAndServe()
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- fmt.Errorf("control plane server failed: %w", serveErr)
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
		return fmt.Errorf("control plane shutdown failed: %w", err)
	}
	if err := obsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("observability server shutdown failed", slog.String("error", err.Error()))
	}

	log.Info("service exited successfully")
	return nil
}
