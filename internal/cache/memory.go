package cache

import (
	"context"
	"time"

	"github.com/maypok86/otter"

	"github.com/nornlabs/norn/internal/evaluation"
	"github.com/nornlabs/norn/internal/observability"
)

// MemoryCache is the L1 caching layer for evaluation results, using a
// high-performance, contention-free algorithm (S3-FIFO) provided by the
// 'otter' library. Entries are keyed by snapshot version, so a new snapshot
// never serves stale results; superseded entries simply age out.
type MemoryCache struct {
	store otter.Cache[string, *evaluation.UserEvaluations]
}

// NewMemoryCache initializes the in-memory cache with strict limits.
// capacity: Max number of entries (Hard Cap to prevent OOM).
// ttl: Time-To-Live for entries (Safety net for eventual consistency).
func NewMemoryCache(capacity int, ttl time.Duration) (*MemoryCache, error) {
	builder := otter.MustBuilder[string, *evaluation.UserEvaluations](capacity).
		CollectStats().
		WithTTL(ttl)

	cache, err := builder.Build()
	if err != nil {
		return nil, err
	}

	return &MemoryCache{store: cache}, nil
}

// Get retrieves a cached evaluation result.
// Returns the result and a boolean indicating if it was found.
// This operation is virtually lock-free and extremely fast.
func (c *MemoryCache) Get(key string) (*evaluation.UserEvaluations, bool) {
	result, found := c.store.Get(key)
	if found {
		observability.DataPlaneCacheHits.Inc()
	} else {
		observability.DataPlaneCacheMisses.Inc()
	}
	return result, found
}

// Set adds or updates an evaluation result.
// The TTL configured in NewMemoryCache is applied automatically. Rejected
// writes surface through the metrics collector, not as errors.
func (c *MemoryCache) Set(key string, result *evaluation.UserEvaluations) {
	c.store.Set(key, result)
}

// Del removes an entry from memory.
func (c *MemoryCache) Del(key string) {
	c.store.Delete(key)
}

// Close gracefully shuts down the cache and its background cleanup goroutines.
func (c *MemoryCache) Close() {
	c.store.Close()
}

// RunMetricsCollector periodically exports cache statistics (size, evictions)
// that are only available by polling. Hits and misses are counted inline on
// the hot path. Blocks until ctx is cancelled; run it in its own goroutine.
func (c *MemoryCache) RunMetricsCollector(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Stats counters from otter are cumulative; export deltas so the
	// Prometheus counters stay monotonic across collector restarts.
	var lastEvicted, lastRejected int64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			observability.DataPlaneCacheUsage.Set(float64(c.store.Size()))

			stats := c.store.Stats()
			if evicted := stats.EvictedCount(); evicted > lastEvicted {
				observability.DataPlaneCacheEvictions.Add(float64(evicted - lastEvicted))
				lastEvicted = evicted
			}
			if rejected := stats.RejectedSets(); rejected > lastRejected {
				observability.DataPlaneCacheDropped.Add(float64(rejected - lastRejected))
				lastRejected = rejected
			}
		}
	}
}
