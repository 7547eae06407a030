package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nornlabs/norn/internal/observability"
)

// SnapshotProvider keeps the current snapshot resident in memory for the
// data plane. Replicas read from the local pointer on every request; a
// background goroutine refreshes it when the syncer announces a new version
// over Pub/Sub, with a periodic poll as a fallback for missed messages.
type SnapshotProvider struct {
	store  *RedisSnapshotStore
	logger *slog.Logger

	// refreshInterval bounds staleness when Pub/Sub delivery fails.
	refreshInterval time.Duration

	current atomic.Pointer[Snapshot]
	mu      sync.Mutex // serializes refreshes
}

// NewSnapshotProvider creates a provider backed by the given store.
func NewSnapshotProvider(store *RedisSnapshotStore, refreshInterval time.Duration, logger *slog.Logger) *SnapshotProvider {
	if store == nil {
		panic("cache: snapshot store cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotProvider{
		store:           store,
		logger:          logger,
		refreshInterval: refreshInterval,
	}
}

// Current returns the resident snapshot, loading it from Redis on first use.
// Returns ErrSnapshotNotFound when the syncer has not published yet.
func (p *SnapshotProvider) Current(ctx context.Context) (*Snapshot, error) {
	if snapshot := p.current.Load(); snapshot != nil {
		return snapshot, nil
	}
	return p.Refresh(ctx)
}

// Refresh fetches the latest snapshot from Redis and swaps it in.
// Concurrent callers coalesce on the mutex; the losers reuse the winner's
// result if it is at least as new as what they would have fetched.
func (p *SnapshotProvider) Refresh(ctx context.Context) (*Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	snapshot, err := p.store.GetSnapshot(ctx)
	if err != nil {
		// A failed refresh must not take the read path down: serve the
		// resident copy if we have one.
		if resident := p.current.Load(); resident != nil {
			p.logger.Warn("snapshot refresh failed, serving resident copy",
				slog.Int64("resident_version", resident.Version),
				slog.Any("error", err))
			return resident, nil
		}
		return nil, fmt.Errorf("failed to refresh snapshot: %w", err)
	}

	if resident := p.current.Load(); resident == nil || snapshot.Version > resident.Version {
		p.current.Store(snapshot)
		observability.SnapshotVersion.Set(float64(snapshot.Version))
		p.logger.Info("snapshot refreshed", slog.Int64("version", snapshot.Version),
			slog.Int("features", len(snapshot.Features)))
	}

	return p.current.Load(), nil
}

// Run listens for snapshot update announcements and refreshes the resident
// copy. Blocks until ctx is cancelled; run it in its own goroutine.
func (p *SnapshotProvider) Run(ctx context.Context) {
	sub := p.store.Subscribe(ctx)
	defer sub.Close()

	ticker := time.NewTicker(p.refreshInterval)
	defer ticker.Stop()

	messages := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-messages:
			if !ok {
				return
			}
			observability.DataPlaneInvalidations.Inc()

			version := DecodeUpdateMessage(msg.Payload)
			if resident := p.current.Load(); resident != nil && version != 0 && version <= resident.Version {
				// Already at or past this version (e.g. the periodic poll won).
				continue
			}
			if _, err := p.Refresh(ctx); err != nil {
				p.logger.Error("snapshot refresh after update event failed",
					slog.Int64("announced_version", version), slog.Any("error", err))
			}

		case <-ticker.C:
			// Fallback poll: compare versions first to avoid re-fetching the
			// full payload on every tick.
			version, err := p.store.GetSnapshotVersion(ctx)
			if err != nil {
				continue
			}
			if resident := p.current.Load(); resident != nil && version <= resident.Version {
				continue
			}
			if _, err := p.Refresh(ctx); err != nil {
				p.logger.Error("periodic snapshot refresh failed", slog.Any("error", err))
			}
		}
	}
}
