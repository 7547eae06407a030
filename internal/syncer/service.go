// Package syncer implements the background worker that builds config
// snapshots from the Control Plane's database (PostgreSQL) and publishes
// them to the Data Plane's distribution layer (Redis).
package syncer

import (
	"context"
	"log/slog"
	"time"

	"github.com/nornlabs/norn/internal/cache"
	"github.com/nornlabs/norn/internal/config"
	"github.com/nornlabs/norn/internal/evaluation"
	"github.com/nornlabs/norn/internal/observability"
	"github.com/nornlabs/norn/internal/store"
	"github.com/nornlabs/norn/internal/validation"
)

// Service orchestrates the snapshot build and publish cycle. It runs
// periodically and additionally on demand, when the control plane nudges it
// over Pub/Sub after a write.
type Service struct {
	logger   *slog.Logger
	cfg      config.SyncerConfig
	features store.FeatureRepository
	segments store.SegmentRepository
	cache    *cache.RedisSnapshotStore
}

// New creates a new Syncer service.
func New(logger *slog.Logger, cfg config.SyncerConfig, features store.FeatureRepository, segments store.SegmentRepository, snapshotStore *cache.RedisSnapshotStore) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	if features == nil {
		panic("syncer: feature repository cannot be nil")
	}
	if segments == nil {
		panic("syncer: segment repository cannot be nil")
	}
	validation.AssertNotNil(snapshotStore, "snapshot store")

	if cfg.Interval < time.Second {
		cfg.Interval = 10 * time.Second // Safe default
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = 30 * time.Second
	}

	return &Service{
		logger:   logger,
		cfg:      cfg,
		features: features,
		segments: segments,
		cache:    snapshotStore,
	}
}

// Run starts the syncer loop. It blocks until the context is cancelled.
// Cycles are triggered by the periodic ticker and by sync requests the
// control plane publishes after writes; a failed cycle is retried with
// backoff and otherwise picked up by the next tick.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("starting syncer service", slog.String("interval", s.cfg.Interval.String()))

	sub := s.cache.SubscribeSyncRequests(ctx)
	defer sub.Close()
	requests := sub.Channel()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	// Run once immediately on startup so a fresh deployment publishes a
	// snapshot without waiting a full interval.
	s.syncWithRetry(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("syncer service stopping...")
			return nil
		case <-ticker.C:
			s.syncWithRetry(ctx)
		case _, ok := <-requests:
			if !ok {
				// Subscription lost (e.g. Redis restart). The ticker still
				// drives periodic syncs; resubscribe on the next loop entry.
				s.logger.Warn("sync request subscription closed, falling back to periodic sync")
				requests = nil
				continue
			}
			s.logger.Debug("sync requested by control plane")
			s.syncWithRetry(ctx)
		}
	}
}

// syncWithRetry runs one cycle, retrying transient failures with
// exponential backoff. Errors are logged, never propagated: the worker must
// outlive flaky infrastructure.
func (s *Service) syncWithRetry(ctx context.Context) {
	delay := s.cfg.BaseRetryDelay
	for attempt := 0; ; attempt++ {
		err := s.sync(ctx)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		if attempt >= s.cfg.MaxRetries {
			s.logger.Error("sync cycle failed after retries",
				slog.Int("attempts", attempt+1),
				slog.String("error", err.Error()),
			)
			return
		}

		s.logger.Warn("sync cycle failed, retrying...",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// sync performs a single cycle: read everything from the source of truth,
// assemble a snapshot, and publish it version-guarded.
func (s *Service) sync(ctx context.Context) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SyncTimeout)
	defer cancel()

	snapshot, err := s.buildSnapshot(ctx)
	if err != nil {
		observability.SyncerJobsTotal.WithLabelValues("fail").Inc()
		return err
	}

	result, err := s.cache.PutSnapshot(ctx, snapshot)
	if err != nil {
		observability.SyncerJobsTotal.WithLabelValues("fail").Inc()
		return err
	}

	switch result {
	case cache.SetResultSkipped:
		// Another replica published a newer snapshot while we were building
		// ours. Nothing to announce.
		s.logger.Debug("snapshot skipped, newer version already published",
			slog.Int64("version", snapshot.Version),
		)
	case cache.SetResultRepaired:
		s.logger.Warn("repaired corrupted snapshot payload",
			slog.Int64("version", snapshot.Version),
		)
		fallthrough
	case cache.SetResultUpdated:
		if err := s.cache.PublishUpdate(ctx, snapshot.Version); err != nil {
			// The snapshot is stored; replicas will still pick it up via
			// their periodic version poll.
			s.logger.Warn("failed to announce snapshot update",
				slog.Int64("version", snapshot.Version),
				slog.String("error", err.Error()),
			)
		}
		observability.SnapshotVersion.Set(float64(snapshot.Version))
	}

	observability.SyncerJobDuration.Observe(time.Since(start).Seconds())
	observability.SyncerJobsTotal.WithLabelValues("success").Inc()

	s.logger.Info("sync cycle completed",
		slog.Int64("version", snapshot.Version),
		slog.Int("features", len(snapshot.Features)),
		slog.Int("segments", len(snapshot.Segments)),
		slog.String("duration", time.Since(start).String()),
	)
	return nil
}

// buildSnapshot reads the full feature and segment state from Postgres.
// The version is the build timestamp in milliseconds: strictly increasing
// across cycles, and when two replicas race, the version guard in Redis
// makes the later build win.
func (s *Service) buildSnapshot(ctx context.Context) (*cache.Snapshot, error) {
	features, err := s.features.ListAllFeatures(ctx)
	if err != nil {
		return nil, err
	}

	segments, err := s.segments.ListAllSegmentUsers(ctx)
	if err != nil {
		return nil, err
	}

	if segments == nil {
		segments = map[string][]*evaluation.SegmentUser{}
	}

	now := time.Now()
	return &cache.Snapshot{
		Version:  now.UnixMilli(),
		SyncedAt: now.Unix(),
		Features: features,
		Segments: segments,
	}, nil
}
