// Package controlapi implements the REST API for the Norn Control Plane.
package controlapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/nornlabs/norn/internal/cache"
	"github.com/nornlabs/norn/internal/store"
)

// API is the main struct that holds dependencies and the router for the Control Plane.
// It follows the Dependency Injection pattern to facilitate testing.
type API struct {
	// Router is the Chi multiplexer that handles HTTP requests.
	Router *chi.Mux

	// features is the data access layer for feature flags.
	// We use the interface type to allow for mocking in unit tests.
	features store.FeatureRepository

	// segments is the data access layer for segment memberships.
	segments store.SegmentRepository

	// cache is used to nudge the syncer after writes, so changes propagate
	// without waiting for the next sync tick.
	cache cache.SnapshotStore

	// apiKeyHash is the SHA-256 hash of the valid API key.
	// Used for authentication in production environments.
	apiKeyHash string

	// skipAuth disables authentication when true (test/dev environments only).
	// Production environments should always set this to false.
	skipAuth bool
}

// NewAPI creates a new API instance with authentication enabled by default.
// The apiKeyHash parameter must be the SHA-256 hash of the API key.
// Panics if apiKeyHash is empty, as authentication cannot be disabled with this constructor.
func NewAPI(featureRepo store.FeatureRepository, segmentRepo store.SegmentRepository, snapshotStore cache.SnapshotStore, apiKeyHash string) *API {
	return NewAPIWithConfig(featureRepo, segmentRepo, snapshotStore, apiKeyHash, false)
}

// NewAPIWithConfig creates a new API instance with explicit control over authentication.
// This constructor is primarily used in tests to disable authentication.
//
// Panics if:
//   - featureRepo, segmentRepo or snapshotStore are nil
//   - apiKeyHash is empty when skipAuth is false
func NewAPIWithConfig(featureRepo store.FeatureRepository, segmentRepo store.SegmentRepository, snapshotStore cache.SnapshotStore, apiKeyHash string, skipAuth bool) *API {
	// We check the interface explicitly.
	// An interface is only nil if it has no underlying type and no value.
	if featureRepo == nil {
		panic("controlapi: feature repository cannot be nil")
	}
	if segmentRepo == nil {
		panic("controlapi: segment repository cannot be nil")
	}
	if snapshotStore == nil {
		panic("controlapi: snapshot store cannot be nil")
	}

	// Validate authentication configuration
	if !skipAuth && apiKeyHash == "" {
		panic("controlapi: apiKeyHash cannot be empty when authentication is enabled")
	}

	api := &API{
		Router:     chi.NewRouter(),
		features:   featureRepo,
		segments:   segmentRepo,
		cache:      snapshotStore,
		apiKeyHash: apiKeyHash,
		skipAuth:   skipAuth,
	}

	api.configureRoutes()
	return api
}

// configureRoutes registers the global middleware stack and API endpoints.
func (a *API) configureRoutes() {
	// 1. Global Middleware Stack
	// RequestID: Adds a unique ID to each request context (essential for tracing).
	a.Router.Use(middleware.RequestID)
	// RealIP: correctly sets the IP if behind a proxy/LB.
	a.Router.Use(middleware.RealIP)
	// Logger: Logs request method, path, status, and duration.
	a.Router.Use(RequestLogger)
	// Metrics: Records request counts and latencies with route-pattern labels.
	a.Router.Use(MetricsCollector)
	// Recoverer: Prevents the server from crashing on panics, returning 500 instead.
	a.Router.Use(middleware.Recoverer)
	// Content-Type: Forces JSON content type for API responses.
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	// 2. Public Routes (no authentication required)
	a.Router.Get("/health", a.handleHealthCheck)

	// 3. Protected API V1 Routes (authentication required)
	a.Router.Route("/api/v1", func(r chi.Router) {
		// Apply authentication middleware to all /api/v1/* routes
		r.Use(a.authenticateAPIKey)

		r.Route("/features", func(r chi.Router) {
			r.Post("/", a.handleCreateFeature)
			r.Get("/", a.handleListFeatures)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.handleGetFeature)
				r.Put("/", a.handleUpdateFeature)
				r.Post("/archive", a.handleArchiveFeature)
				r.Delete("/", a.handleDeleteFeature)
			})
		})

		r.Route("/segments/{id}", func(r chi.Router) {
			r.Put("/users", a.handleReplaceSegmentUsers)
			r.Get("/users", a.handleListSegmentUsers)
			r.Delete("/", a.handleDeleteSegment)
		})
	})
}

// handleHealthCheck verifies if the service is serving HTTP.
// Deep checks (database, Redis) live on the observability server's
// readiness probe, not here.
func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}
