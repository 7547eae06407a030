package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nornlabs/norn/internal/observability"
)

// RunPoolMonitor periodically exports pgx connection pool statistics.
// pgx exposes cumulative counters, so we track deltas to keep the Prometheus
// counters monotonic. Blocks until ctx is cancelled; run it in its own
// goroutine.
func RunPoolMonitor(ctx context.Context, pool *pgxpool.Pool, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastAcquires, lastWaits int64
	var lastAcquireDuration time.Duration

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := pool.Stat()

			observability.DatabasePoolConnections.WithLabelValues("total").Set(float64(stats.TotalConns()))
			observability.DatabasePoolConnections.WithLabelValues("idle").Set(float64(stats.IdleConns()))
			observability.DatabasePoolConnections.WithLabelValues("in_use").Set(float64(stats.AcquiredConns()))
			observability.DatabasePoolConnections.WithLabelValues("max").Set(float64(stats.MaxConns()))

			if acquires := stats.AcquireCount(); acquires > lastAcquires {
				observability.DatabasePoolAcquireCount.Add(float64(acquires - lastAcquires))
				lastAcquires = acquires
			}
			if duration := stats.AcquireDuration(); duration > lastAcquireDuration {
				observability.DatabasePoolAcquireDuration.Add((duration - lastAcquireDuration).Seconds())
				lastAcquireDuration = duration
			}
			// EmptyAcquireCount counts acquisitions that blocked because the
			// pool had no free connection.
			if waits := stats.EmptyAcquireCount(); waits > lastWaits {
				observability.DatabasePoolWaitCount.Add(float64(waits - lastWaits))
				lastWaits = waits
			}
		}
	}
}
