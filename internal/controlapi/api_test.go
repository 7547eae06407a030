package controlapi_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nornlabs/norn/internal/cache"
	"github.com/nornlabs/norn/internal/controlapi"
	"github.com/nornlabs/norn/internal/evaluation"
	"github.com/nornlabs/norn/internal/store"
)

// stubFeatureRepo satisfies store.FeatureRepository without a database.
// The auth tests only care about whether the request reaches the handler.
type stubFeatureRepo struct{}

func (stubFeatureRepo) CreateFeature(context.Context, *evaluation.Feature) error { return nil }
func (stubFeatureRepo) GetFeature(context.Context, string) (*evaluation.Feature, error) {
	return nil, store.ErrNotFound
}
func (stubFeatureRepo) ListFeatures(context.Context, int, int) ([]*evaluation.Feature, int64, error) {
	return []*evaluation.Feature{}, 0, nil
}
func (stubFeatureRepo) ListAllFeatures(context.Context) ([]*evaluation.Feature, error) {
	return nil, nil
}
func (stubFeatureRepo) UpdateFeature(context.Context, *evaluation.Feature, int32) (*evaluation.Feature, error) {
	return nil, store.ErrNotFound
}
func (stubFeatureRepo) ArchiveFeature(context.Context, string, int32) (*evaluation.Feature, error) {
	return nil, store.ErrNotFound
}
func (stubFeatureRepo) DeleteFeature(context.Context, string) error { return store.ErrNotFound }

type stubSegmentRepo struct{}

func (stubSegmentRepo) ReplaceSegmentUsers(context.Context, string, []string) error { return nil }
func (stubSegmentRepo) ListSegmentUsers(context.Context, string) ([]*evaluation.SegmentUser, error) {
	return nil, nil
}
func (stubSegmentRepo) ListAllSegmentUsers(context.Context) (map[string][]*evaluation.SegmentUser, error) {
	return nil, nil
}
func (stubSegmentRepo) DeleteSegment(context.Context, string) error { return store.ErrNotFound }

type stubSnapshotStore struct{}

func (stubSnapshotStore) PutSnapshot(context.Context, *cache.Snapshot) (cache.SetResult, error) {
	return cache.SetResultUpdated, nil
}
func (stubSnapshotStore) GetSnapshot(context.Context) (*cache.Snapshot, error) {
	return nil, cache.ErrSnapshotNotFound
}
func (stubSnapshotStore) GetSnapshotVersion(context.Context) (int64, error) { return 0, nil }
func (stubSnapshotStore) PublishUpdate(context.Context, int64) error        { return nil }
func (stubSnapshotStore) RequestSync(context.Context) error                 { return nil }
func (stubSnapshotStore) HealthCheck(context.Context) error                 { return nil }
func (stubSnapshotStore) Close() error                                      { return nil }

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func TestAPIKeyAuthentication(t *testing.T) {
	const apiKey = "super-secret-key"

	api := controlapi.NewAPIWithConfig(stubFeatureRepo{}, stubSegmentRepo{}, stubSnapshotStore{}, hashKey(apiKey), false)

	do := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/features", nil)
		if key != "" {
			req.Header.Set(controlapi.APIKeyHeader, key)
		}
		rr := httptest.NewRecorder()
		api.Router.ServeHTTP(rr, req)
		return rr
	}

	t.Run("Should reject requests without an API key", func(t *testing.T) {
		rr := do("")

		require.Equal(t, http.StatusUnauthorized, rr.Code)

		var errResp controlapi.ErrorResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &errResp))
		assert.Equal(t, "ERR_UNAUTHORIZED", errResp.Code)
		assert.Equal(t, "Missing API key", errResp.Message)
	})

	t.Run("Should reject requests with a wrong API key", func(t *testing.T) {
		rr := do("wrong-key")

		require.Equal(t, http.StatusUnauthorized, rr.Code)

		var errResp controlapi.ErrorResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &errResp))
		assert.Equal(t, "ERR_UNAUTHORIZED", errResp.Code)
		assert.Equal(t, "Invalid API key", errResp.Message)
	})

	t.Run("Should accept requests with the correct API key", func(t *testing.T) {
		rr := do(apiKey)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("Should leave the health endpoint public", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rr := httptest.NewRecorder()
		api.Router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("Should bypass authentication when disabled", func(t *testing.T) {
		openAPI := controlapi.NewAPIWithConfig(stubFeatureRepo{}, stubSegmentRepo{}, stubSnapshotStore{}, "", true)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/features", nil)
		rr := httptest.NewRecorder()
		openAPI.Router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})
}

func TestNewAPIWithConfigPanics(t *testing.T) {
	t.Run("Should panic when the feature repository is nil", func(t *testing.T) {
		assert.Panics(t, func() {
			controlapi.NewAPIWithConfig(nil, stubSegmentRepo{}, stubSnapshotStore{}, "hash", false)
		})
	})

	t.Run("Should panic when the segment repository is nil", func(t *testing.T) {
		assert.Panics(t, func() {
			controlapi.NewAPIWithConfig(stubFeatureRepo{}, nil, stubSnapshotStore{}, "hash", false)
		})
	})

	t.Run("Should panic when the snapshot store is nil", func(t *testing.T) {
		assert.Panics(t, func() {
			controlapi.NewAPIWithConfig(stubFeatureRepo{}, stubSegmentRepo{}, nil, "hash", false)
		})
	})

	t.Run("Should panic when auth is enabled without a key hash", func(t *testing.T) {
		assert.Panics(t, func() {
			controlapi.NewAPIWithConfig(stubFeatureRepo{}, stubSegmentRepo{}, stubSnapshotStore{}, "", false)
		})
	})
}
