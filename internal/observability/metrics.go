package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NOTE: Currently, all metrics are defined globally here.
// This causes a harmless side-effect where a service (e.g., data-plane)
// initializes metrics from other services (e.g., control-plane) with zero values.
//
// TODO(refactor): When the number of metrics grows significantly, split this
// package into sub-packages (metrics/data, metrics/control) to isolate initialization.

// namespace defines the global prefix for all metrics (e.g., norn_...).
const namespace = "norn"

// lowLatencyBuckets defines custom buckets for high-performance operations (Data Plane).
// Standard buckets are too coarse (starting at 5ms), so we add 1ms and 2ms resolution.
// Range: 1ms to 500ms.
var lowLatencyBuckets = []float64{.001, .002, .005, .010, .015, .020, .025, .030, .050, .100, .500}

var (
	// -------------------------------------------------------------------------
	// CONTROL PLANE (HTTP)
	// -------------------------------------------------------------------------

	// ControlPlaneReqDuration measures the latency of HTTP requests.
	// Metric: norn_control_plane_http_handling_seconds
	ControlPlaneReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "control_plane",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle HTTP requests in Control Plane",
		Buckets:   prometheus.DefBuckets, // Standard buckets are fine for Admin APIs (human speed)
	}, []string{"method", "route"})

	// ControlPlaneReqTotal counts the total number of HTTP requests.
	// Metric: norn_control_plane_http_requests_total
	ControlPlaneReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "control_plane",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests in Control Plane",
	}, []string{"method", "route", "code"})

	// -------------------------------------------------------------------------
	// DATA PLANE (HTTP + Cache)
	// -------------------------------------------------------------------------

	// DataPlaneReqDuration measures the latency of evaluation requests.
	// Metric: norn_data_plane_http_handling_seconds
	DataPlaneReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle evaluation requests",
		Buckets:   lowLatencyBuckets, // Custom buckets for < 20ms SLO
	}, []string{"method", "route"})

	// DataPlaneReqTotal counts the total number of evaluation requests.
	// Metric: norn_data_plane_http_requests_total
	DataPlaneReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "http_requests_total",
		Help:      "Total evaluation requests",
	}, []string{"method", "route", "code"})

	// --- Cache L1 Metrics (Otter) ---

	DataPlaneCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "l1_cache_hits_total",
		Help:      "Total L1 cache hits (in-memory)",
	})

	DataPlaneCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "l1_cache_misses_total",
		Help:      "Total L1 cache misses",
	})

	// DataPlaneCacheEvictions tracks items removed due to memory pressure.
	// Essential for tuning the cache capacity.
	DataPlaneCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "l1_cache_evictions_total",
		Help:      "Total items evicted due to memory pressure/capacity",
	})

	// Note: 'items_count' rather than 'usage_bytes' reflects the capabilities
	// of the S3-FIFO algorithm (Otter) which tracks item count efficiently,
	// but not byte size.
	DataPlaneCacheUsage = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "l1_cache_items_count",
		Help:      "Current number of items in the L1 cache",
	})

	// DataPlaneCacheDropped tracks writes dropped because the buffer was full.
	// Indicates if the write throughput is too high for the cache configuration.
	DataPlaneCacheDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "l1_cache_dropped_total",
		Help:      "Total sets dropped due to write buffer contention",
	})

	DataPlaneInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "l1_invalidations_total",
		Help:      "Total snapshot update events received via PubSub",
	})

	// -------------------------------------------------------------------------
	// SYNCER (Snapshot builds)
	// -------------------------------------------------------------------------

	// SyncerJobDuration measures how long a full snapshot build+publish takes.
	// Metric: norn_syncer_job_processing_duration_seconds
	SyncerJobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "syncer",
		Name:      "job_processing_duration_seconds",
		Help:      "End-to-end latency of a snapshot build and publish cycle",
		Buckets:   prometheus.DefBuckets,
	})

	SyncerJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "syncer",
		Name:      "jobs_total",
		Help:      "Total snapshot sync cycles processed",
	}, []string{"status"}) // success, fail

	// SnapshotVersion exposes the version of the last published snapshot so
	// dashboards can spot a stuck syncer or a lagging data plane at a glance.
	SnapshotVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "snapshot_version",
		Help:      "Version of the most recently published snapshot",
	})

	// -------------------------------------------------------------------------
	// DATABASE (Connection Pool)
	// -------------------------------------------------------------------------

	DatabasePoolConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_connections",
		Help:      "Current pgx pool connections by state",
	}, []string{"state"}) // total, idle, in_use, max

	DatabasePoolAcquireCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_acquire_count_total",
		Help:      "Total successful connection acquisitions from the pool",
	})

	DatabasePoolAcquireDuration = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_acquire_duration_seconds_total",
		Help:      "Cumulative time spent acquiring connections from the pool",
	})

	// DatabasePoolWaitCount signals pool exhaustion: acquisitions that had to
	// wait for a connection to be released.
	DatabasePoolWaitCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_wait_count_total",
		Help:      "Total acquisitions that blocked waiting for a free connection",
	})

	// -------------------------------------------------------------------------
	// REDIS (Connection Pool)
	// -------------------------------------------------------------------------

	RedisPoolConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "redis",
		Name:      "pool_connections",
		Help:      "Current go-redis pool connections by state",
	}, []string{"state"}) // total, idle, stale

	RedisPoolHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "redis",
		Name:      "pool_hits_total",
		Help:      "Total times a free connection was found in the pool",
	})

	RedisPoolMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "redis",
		Name:      "pool_misses_total",
		Help:      "Total times a connection had to be created",
	})

	RedisPoolTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "redis",
		Name:      "pool_timeouts_total",
		Help:      "Total times a wait for a connection timed out",
	})
)
