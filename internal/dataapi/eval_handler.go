// Package dataapi implements the HTTP Data Plane for flag evaluation.
//
// This file implements the evaluation handlers, responsible for
// orchestrating validation, snapshot access, result caching, and the
// decision engine.
package dataapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/nornlabs/norn/internal/cache"
	"github.com/nornlabs/norn/internal/evaluation"
	"github.com/nornlabs/norn/internal/logger"
)

// handleEvaluate processes POST /api/v1/evaluations: it evaluates every
// feature in the snapshot for the user (optionally narrowed by tag), or
// plans an incremental re-evaluation when the client supplies its previous
// result's ID and timestamp.
//
// Flow: Result Cache (L1) -> Snapshot (memory) -> Engine -> Response
func (a *API) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	// 1. Decode & Validate (Fail Fast)
	var req EvaluationRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	req.Sanitize()
	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	// 2. Snapshot Access
	snapshot, ok := a.currentSnapshot(w, r)
	if !ok {
		return
	}

	// 3. Result Cache Check
	// Only full evaluations are cached: incremental requests depend on the
	// client's previous state, which would fragment the key space without
	// ever being re-requested.
	incremental := req.PrevEvaluationID != ""
	var cacheKey string
	if !incremental {
		cacheKey = resultCacheKey(snapshot.Version, req.Tag, &req)
		if cached, found := a.results.Get(cacheKey); found {
			render.Status(r, http.StatusOK)
			render.JSON(w, r, EvaluationResponse{
				SnapshotVersion: snapshot.Version,
				UserEvaluations: cached,
			})
			return
		}
	}

	// 4. Engine Evaluation
	result, err := a.evaluator.EvaluateFeaturesByEvaluatedAt(
		snapshot.Features,
		req.User(),
		snapshot.Segments,
		req.PrevEvaluationID,
		req.EvaluatedAt,
		req.UserAttributesUpdated,
		req.Tag,
	)
	if err != nil {
		a.renderEvaluationError(w, r, err)
		return
	}

	// 5. Cache Fill
	if !incremental {
		a.results.Set(cacheKey, result)
	}

	// 6. Respond
	render.Status(r, http.StatusOK)
	render.JSON(w, r, EvaluationResponse{
		SnapshotVersion: snapshot.Version,
		UserEvaluations: result,
	})
}

// handleEvaluateFeature processes POST /api/v1/evaluations/{feature_id}: it
// evaluates a single feature by resolving only its prerequisite closure
// instead of the whole snapshot.
func (a *API) handleEvaluateFeature(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	featureID := chi.URLParam(r, "feature_id")

	// 1. Decode & Validate
	var req EvaluationRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	req.Sanitize()
	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	// 2. Snapshot Access & Feature Lookup
	snapshot, ok := a.currentSnapshot(w, r)
	if !ok {
		return
	}

	feature := snapshot.Feature(featureID)
	if feature == nil || feature.Archived {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_NOT_FOUND",
			Message: "Feature not found: " + featureID,
		})
		return
	}

	// 3. Engine Evaluation (prerequisite closure only)
	closure := a.evaluator.GetPrerequisiteDownwards([]*evaluation.Feature{feature}, snapshot.Features)
	result, err := a.evaluator.EvaluateFeatures(closure, req.User(), snapshot.Segments, "")
	if err != nil {
		a.renderEvaluationError(w, r, err)
		return
	}

	// 4. Extract the requested feature's outcome. The closure may contain
	// prerequisite evaluations the client did not ask for.
	for _, ev := range result.Evaluations {
		if ev.FeatureID == featureID {
			render.Status(r, http.StatusOK)
			render.JSON(w, r, SingleEvaluationResponse{
				SnapshotVersion: snapshot.Version,
				Evaluation:      ev,
			})
			return
		}
	}

	// The feature exists but produced no evaluation. With archived features
	// already rejected above, this indicates an engine bug.
	log.Error("feature missing from its own evaluation closure", slog.String("feature_id", featureID))
	render.Status(r, http.StatusInternalServerError)
	render.JSON(w, r, ErrorResponse{
		Code:    "ERR_INTERNAL",
		Message: "Failed to evaluate feature",
	})
}

// currentSnapshot fetches the resident snapshot, rendering a 503 when none
// is available yet (e.g. the syncer has never published).
func (a *API) currentSnapshot(w http.ResponseWriter, r *http.Request) (*cache.Snapshot, bool) {
	snapshot, err := a.snapshots.Current(r.Context())
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error("no snapshot available", slog.String("error", err.Error()))
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_SNAPSHOT_UNAVAILABLE",
			Message: "No configuration snapshot available yet",
		})
		return nil, false
	}
	return snapshot, true
}

// renderEvaluationError maps engine failures to HTTP responses. A dependency
// cycle is a configuration problem, not a server fault, but the client
// cannot fix it either; both cases surface as 500 with distinct codes.
func (a *API) renderEvaluationError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())
	log.Error("evaluation failed", slog.String("error", err.Error()))

	if errors.Is(err, evaluation.ErrCycleExists) {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_DEPENDENCY_CYCLE",
			Message: "Feature prerequisites form a cycle",
		})
		return
	}

	render.Status(r, http.StatusInternalServerError)
	render.JSON(w, r, ErrorResponse{
		Code:    "ERR_EVALUATION",
		Message: "Failed to evaluate features",
	})
}

// resultCacheKey builds the L1 key for a full evaluation. The snapshot
// version is part of the key, so results computed from an older snapshot
// can never be served after an update; stale entries simply age out.
func resultCacheKey(version int64, tag string, req *EvaluationRequest) string {
	fingerprint := evaluation.UserEvaluationsID(req.UserID, req.UserData, nil)
	return strconv.FormatInt(version, 10) + ":" + tag + ":" + fingerprint
}
