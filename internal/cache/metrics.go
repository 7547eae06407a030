package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nornlabs/norn/internal/observability"
)

// RunPoolMonitor periodically exports go-redis connection pool statistics.
// go-redis exposes cumulative counters, so we track deltas to keep the
// Prometheus counters monotonic. Blocks until ctx is cancelled; run it in
// its own goroutine.
func RunPoolMonitor(ctx context.Context, client *redis.Client, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastHits, lastMisses, lastTimeouts uint32

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := client.PoolStats()

			observability.RedisPoolConnections.WithLabelValues("total").Set(float64(stats.TotalConns))
			observability.RedisPoolConnections.WithLabelValues("idle").Set(float64(stats.IdleConns))
			observability.RedisPoolConnections.WithLabelValues("stale").Set(float64(stats.StaleConns))

			if stats.Hits > lastHits {
				observability.RedisPoolHits.Add(float64(stats.Hits - lastHits))
				lastHits = stats.Hits
			}
			if stats.Misses > lastMisses {
				observability.RedisPoolMisses.Add(float64(stats.Misses - lastMisses))
				lastMisses = stats.Misses
			}
			if stats.Timeouts > lastTimeouts {
				observability.RedisPoolTimeouts.Add(float64(stats.Timeouts - lastTimeouts))
				lastTimeouts = stats.Timeouts
			}
		}
	}
}
