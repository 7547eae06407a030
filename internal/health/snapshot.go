// Package health provides readiness checkers for conditions a plain
// dependency ping cannot observe, such as whether a data plane replica
// actually holds a snapshot it can serve from.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/nornlabs/norn/internal/cache"
)

// SnapshotChecker reports a data plane replica as ready only once a
// snapshot is resident and, optionally, fresh enough. A replica that
// cannot load a snapshot must not receive traffic: it would answer every
// evaluation with an error.
type SnapshotChecker struct {
	provider *cache.SnapshotProvider

	// maxAge bounds how stale SyncedAt may be before the replica is
	// reported unhealthy. Zero disables the staleness check.
	maxAge time.Duration
}

// NewSnapshotChecker creates a checker backed by the given provider.
func NewSnapshotChecker(provider *cache.SnapshotProvider, maxAge time.Duration) *SnapshotChecker {
	if provider == nil {
		panic("health: snapshot provider cannot be nil")
	}
	return &SnapshotChecker{provider: provider, maxAge: maxAge}
}

// Name returns the component identifier used in readiness reports.
func (c *SnapshotChecker) Name() string {
	return "snapshot"
}

// Check verifies that a snapshot is resident and within the staleness bound.
func (c *SnapshotChecker) Check(ctx context.Context) error {
	snapshot, err := c.provider.Current(ctx)
	if err != nil {
		return fmt.Errorf("no snapshot available: %w", err)
	}

	if c.maxAge > 0 {
		age := time.Since(time.Unix(snapshot.SyncedAt, 0))
		if age > c.maxAge {
			return fmt.Errorf("snapshot version %d is stale: synced %s ago (max %s)",
				snapshot.Version, age.Round(time.Second), c.maxAge)
		}
	}

	return nil
}
