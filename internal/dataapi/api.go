// Package dataapi implements the HTTP Data Plane for flag evaluation.
// It handles the high-performance read path for client SDKs: every request
// is served from the in-memory snapshot, never from the database.
package dataapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/nornlabs/norn/internal/cache"
	"github.com/nornlabs/norn/internal/evaluation"
	"github.com/nornlabs/norn/internal/validation"
)

// API holds the data plane's dependencies and router.
type API struct {
	// Router is the Chi multiplexer that handles HTTP requests.
	Router *chi.Mux

	// snapshots provides the resident config snapshot, kept fresh by the
	// provider's Pub/Sub subscription and periodic polling.
	snapshots *cache.SnapshotProvider

	// results caches full evaluation outputs. Keys embed the snapshot
	// version, so entries for stale snapshots are never served.
	results *cache.MemoryCache

	// evaluator is the stateless evaluation engine.
	evaluator *evaluation.Evaluator
}

// NewAPI creates a new Data Plane API instance.
//
// Panics if snapshots, results or evaluator are nil: the data plane cannot
// degrade gracefully without any of them.
func NewAPI(snapshots *cache.SnapshotProvider, results *cache.MemoryCache, evaluator *evaluation.Evaluator) *API {
	validation.AssertNotNil(snapshots, "snapshot provider")
	validation.AssertNotNil(results, "result cache")
	validation.AssertNotNil(evaluator, "evaluator")

	api := &API{
		Router:    chi.NewRouter(),
		snapshots: snapshots,
		results:   results,
		evaluator: evaluator,
	}

	api.configureRoutes()
	return api
}

// configureRoutes registers the middleware stack and evaluation endpoints.
func (a *API) configureRoutes() {
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.RealIP)
	a.Router.Use(RequestLogger)
	a.Router.Use(MetricsCollector)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	a.Router.Get("/health", a.handleHealthCheck)

	a.Router.Route("/api/v1", func(r chi.Router) {
		r.Post("/evaluations", a.handleEvaluate)
		r.Post("/evaluations/{feature_id}", a.handleEvaluateFeature)
	})
}

// handleHealthCheck verifies if the service is serving HTTP.
// Snapshot freshness is reported by the observability server's readiness
// probe, not here.
func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}
