//go:build integration

package controlapi_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nornlabs/norn/internal/controlapi"
	"github.com/nornlabs/norn/internal/store"
	"github.com/nornlabs/norn/internal/testsupport"
)

// setupIntegrationEnv starts Postgres (migrated) and Redis in containers
// and wires a control-plane API against them, with auth disabled so the
// requests under test exercise routing and metrics rather than key checks.
func setupIntegrationEnv(t *testing.T) (*controlapi.API, func()) {
	t.Helper()

	ctx := context.Background()

	migrationsPath, err := filepath.Abs("../../migrations")
	require.NoError(t, err)

	pgContainer, err := testsupport.StartPostgresContainer(ctx, migrationsPath)
	require.NoError(t, err)

	redisContainer, err := testsupport.StartRedisContainer(ctx)
	require.NoError(t, err)

	featureRepo := store.NewPostgresFeatureStore(pgContainer.DB)
	segmentRepo := store.NewPostgresSegmentStore(pgContainer.DB)

	// Empty key hash is fine with skipAuth=true.
	api := controlapi.NewAPIWithConfig(featureRepo, segmentRepo, redisContainer.Store, "", true)

	cleanup := func() {
		_ = pgContainer.Terminate(ctx)
		_ = redisContainer.Terminate(ctx)
	}

	return api, cleanup
}

// TestMetrics_Integration drives real requests through the router and
// checks what lands in the Prometheus registry. The registry is process
// global, so the scenarios run serially against one environment and every
// assertion is a delta, not an absolute value.
func TestMetrics_Integration(t *testing.T) {
	api, cleanup := setupIntegrationEnv(t)
	defer cleanup()

	t.Run("records metrics for successful request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rr := httptest.NewRecorder()

		counterLabels := map[string]string{
			"method": "GET",
			"route":  "/health",
			"code":   "200",
		}

		histogramLabels := map[string]string{
			"method": "GET",
			"route":  "/health",
		}

		testsupport.AssertMetricDelta(t, "norn_control_plane_http_requests_total", counterLabels, 1, func() {
			api.Router.ServeHTTP(rr, req)
			require.Equal(t, http.StatusOK, rr.Code)
		})

		testsupport.AssertHistogramRecorded(t, "norn_control_plane_http_handling_seconds", histogramLabels)
	})

	// A 404 for a feature id that matched a chi route must be labelled with
	// the route pattern. If the raw path leaked into the label, every
	// distinct feature id would mint a new series.
	t.Run("records metrics for business 404 (preserves route pattern)", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/features/missing-feature-123", nil)
		rr := httptest.NewRecorder()

		labels := map[string]string{
			"method": "GET",
			"route":  "/api/v1/features/{id}",
			"code":   "404",
		}

		testsupport.AssertMetricDelta(t, "norn_control_plane_http_requests_total", labels, 1, func() {
			api.Router.ServeHTTP(rr, req)
			require.Equal(t, http.StatusNotFound, rr.Code)
		})
	})

	// A path chi never registered has no pattern to report. It must collapse
	// into the shared "not_found" bucket so a scanner walking /admin.php,
	// /wp-login.php and friends cannot grow the label space.
	t.Run("records metrics for infra 404 (collapses to not_found)", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin.php", nil)
		rr := httptest.NewRecorder()

		labels := map[string]string{
			"method": "GET",
			"route":  "not_found",
			"code":   "404",
		}

		testsupport.AssertMetricDelta(t, "norn_control_plane_http_requests_total", labels, 1, func() {
			api.Router.ServeHTTP(rr, req)
			require.Equal(t, http.StatusNotFound, rr.Code)
		})
	})

	t.Run("records metrics for bad request", func(t *testing.T) {
		brokenJSON := []byte(`{invalid-json`)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/features", bytes.NewBuffer(brokenJSON))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()

		labels := map[string]string{
			"method": "POST",
			"route":  "/api/v1/features",
			"code":   "400",
		}

		testsupport.AssertMetricDelta(t, "norn_control_plane_http_requests_total", labels, 1, func() {
			api.Router.ServeHTTP(rr, req)
			require.Equal(t, http.StatusBadRequest, rr.Code)
		})
	})
}
