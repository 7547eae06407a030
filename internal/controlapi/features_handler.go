package controlapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/nornlabs/norn/internal/logger"
	"github.com/nornlabs/norn/internal/store"
)

// handleCreateFeature processes the POST /api/v1/features request.
//
// Responsibilities:
// 1. Decodes the JSON payload into the FeatureRequest DTO.
// 2. Sanitizes and Validates the input using the DTO's business logic.
// 3. Converts the DTO to the domain model (evaluation.Feature).
// 4. Persists the feature using the Repository layer.
// 5. Handles specific persistence errors (e.g., conflicts).
// 6. Returns the created resource with a 201 Created status.
func (a *API) handleCreateFeature(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	// 1. Decode Request
	var req FeatureRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	// 2. Sanitize & Validate
	// We delegate this logic to the DTO to keep the handler clean and testable.
	req.Sanitize()

	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	// 3. Map DTO to Domain Model
	feature := req.ToFeature()

	// 4. Call Repository (Persistence)
	if err := a.features.CreateFeature(r.Context(), feature); err != nil {
		// Business Error: Conflict (Duplicate ID)
		if errors.Is(err, store.ErrAlreadyExists) {
			render.Status(r, http.StatusConflict)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_CONFLICT",
				Message: "A feature with this ID already exists",
			})
			return
		}

		// System Error: Internal Server Error
		log.Error("failed to create feature in db", "error", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to create feature in database",
		})
		return
	}

	// 5. Async Notification
	a.requestSyncAsync(log, feature.ID)

	// 6. Return Success
	log.Info("feature created successfully", slog.String("feature_id", feature.ID))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, feature)
}

// handleListFeatures processes the GET /api/v1/features request.
//
// Responsibilities:
// 1. Parses and sanitizes pagination parameters (page, page_size).
// 2. Calls the Repository to fetch data and total count.
// 3. Calculates pagination metadata (total pages).
// 4. Returns the PaginatedResponse.
func (a *API) handleListFeatures(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	// 1. Parse Query Parameters (Type Validation)
	// We return 400 Bad Request if the user sends invalid types (e.g., page=banana).
	page, err := parseOptionalInt(r, "page", 1)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_QUERY_PARAM",
			Message: err.Error(),
		})
		return
	}

	pageSize, err := parseOptionalInt(r, "page_size", 10)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_QUERY_PARAM",
			Message: err.Error(),
		})
		return
	}

	// 2. Sanitize & Clamp (Logic Validation)
	// We silently correct out-of-bounds values to ensure system stability and UX.
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	if pageSize > 100 {
		pageSize = 100 // Hard limit to prevent large queries
	}

	// 3. Calculate Offset
	offset := (page - 1) * pageSize

	// 4. Call Repository
	features, totalItems, err := a.features.ListFeatures(r.Context(), pageSize, offset)
	if err != nil {
		log.Error("failed to list features from db", slog.String("error", err.Error()))

		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to list features",
		})
		return
	}

	// 5. Calculate Metadata
	totalPages := 0
	if totalItems > 0 {
		totalPages = int(math.Ceil(float64(totalItems) / float64(pageSize)))
	}

	// 6. Build Response
	resp := PaginatedResponse{
		Data: features,
		Pagination: Pagination{
			TotalItems:  totalItems,
			TotalPages:  totalPages,
			CurrentPage: page,
			PageSize:    pageSize,
		},
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}

// handleGetFeature processes the GET /api/v1/features/{id} request.
func (a *API) handleGetFeature(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	id := chi.URLParam(r, "id")

	feature, err := a.features.GetFeature(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_NOT_FOUND",
				Message: "Feature not found",
			})
			return
		}

		log.Error("failed to get feature from db", slog.String("feature_id", id), slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to get feature",
		})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, feature)
}

// handleUpdateFeature processes the PUT /api/v1/features/{id} request.
// The payload is a full replacement definition plus the version the client
// last read; stale versions are rejected with 409.
func (a *API) handleUpdateFeature(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	id := chi.URLParam(r, "id")

	// 1. Decode Request
	var req UpdateFeatureRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	// 2. Sanitize & Validate
	// The path parameter is authoritative: the body either omits the ID or
	// must agree with the URL.
	if req.ID == "" {
		req.ID = id
	}
	req.Sanitize()

	if req.ID != id {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Feature ID in body does not match URL",
		})
		return
	}

	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	// 3. Call Repository
	updated, err := a.features.UpdateFeature(r.Context(), req.ToFeature(), req.Version)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_NOT_FOUND",
				Message: "Feature not found",
			})
		case errors.Is(err, store.ErrVersionConflict):
			render.Status(r, http.StatusConflict)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_VERSION_CONFLICT",
				Message: "Feature was modified concurrently, re-read and retry",
			})
		default:
			log.Error("failed to update feature in db", slog.String("feature_id", id), slog.String("error", err.Error()))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_INTERNAL",
				Message: "Failed to update feature",
			})
		}
		return
	}

	// 4. Async Notification
	a.requestSyncAsync(log, id)

	// 5. Return Success
	log.Info("feature updated successfully", slog.String("feature_id", id), slog.Int("version", int(updated.Version)))
	render.Status(r, http.StatusOK)
	render.JSON(w, r, updated)
}

// handleArchiveFeature processes the POST /api/v1/features/{id}/archive request.
// Archived features stop being evaluated but remain listed for the
// client-side pruning window.
func (a *API) handleArchiveFeature(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	id := chi.URLParam(r, "id")

	var req VersionedRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	archived, err := a.features.ArchiveFeature(r.Context(), id, req.Version)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_NOT_FOUND",
				Message: "Feature not found",
			})
		case errors.Is(err, store.ErrVersionConflict):
			render.Status(r, http.StatusConflict)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_VERSION_CONFLICT",
				Message: "Feature was modified concurrently, re-read and retry",
			})
		default:
			log.Error("failed to archive feature", slog.String("feature_id", id), slog.String("error", err.Error()))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_INTERNAL",
				Message: "Failed to archive feature",
			})
		}
		return
	}

	a.requestSyncAsync(log, id)

	log.Info("feature archived", slog.String("feature_id", id))
	render.Status(r, http.StatusOK)
	render.JSON(w, r, archived)
}

// handleDeleteFeature processes the DELETE /api/v1/features/{id} request.
func (a *API) handleDeleteFeature(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	id := chi.URLParam(r, "id")

	if err := a.features.DeleteFeature(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_NOT_FOUND",
				Message: "Feature not found",
			})
			return
		}

		log.Error("failed to delete feature", slog.String("feature_id", id), slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to delete feature",
		})
		return
	}

	a.requestSyncAsync(log, id)

	log.Info("feature deleted", slog.String("feature_id", id))
	render.NoContent(w, r)
}

// --- Private Helpers ---

// parseOptionalInt extracts an integer from the query string.
// If the parameter is missing, it returns the defaultValue.
// It only returns an error if the parameter is present but malformed.
func parseOptionalInt(r *http.Request, key string, defaultValue int) (int, error) {
	valStr := r.URL.Query().Get(key)
	if valStr == "" {
		return defaultValue, nil
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return 0, fmt.Errorf("parameter '%s' must be an integer", key)
	}
	return val, nil
}

// requestSyncAsync nudges the syncer to rebuild the snapshot, without
// blocking the HTTP response. A lost nudge is not fatal: the syncer's
// periodic tick picks the change up anyway.
func (a *API) requestSyncAsync(log *slog.Logger, featureID string) {
	go func(id string) {
		// Create a context disconnected from the HTTP request.
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		const maxRetries = 3
		baseDelay := 100 * time.Millisecond

		for i := 0; i <= maxRetries; i++ {
			err := a.cache.RequestSync(ctx)
			if err == nil {
				return
			}

			if i == maxRetries {
				log.Error("failed to request snapshot sync after retries",
					slog.String("feature_id", id),
					slog.String("error", err.Error()))
				return
			}

			// Simple exponential backoff
			log.Warn("failed to request snapshot sync, retrying...",
				slog.String("feature_id", id),
				slog.Int("attempt", i+1),
				slog.String("error", err.Error()))

			time.Sleep(baseDelay * time.Duration(1<<i))
		}
	}(featureID)
}
