package controlapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/nornlabs/norn/internal/logger"
	"github.com/nornlabs/norn/internal/store"
)

// handleReplaceSegmentUsers processes the PUT /api/v1/segments/{id}/users request.
// The full membership list is replaced atomically; there is no incremental
// add/remove API, so the stored state always matches the last upload exactly.
func (a *API) handleReplaceSegmentUsers(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	segmentID := chi.URLParam(r, "id")

	// 1. Validate the segment ID (segments share the feature slug format).
	if errResp := validateFeatureID(segmentID); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	// 2. Decode Request
	var req ReplaceSegmentUsersRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	// 3. Sanitize & Validate
	req.Sanitize()
	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	// 4. Call Repository
	if err := a.segments.ReplaceSegmentUsers(r.Context(), segmentID, req.UserIDs); err != nil {
		log.Error("failed to replace segment users",
			slog.String("segment_id", segmentID),
			slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to replace segment users",
		})
		return
	}

	// 5. Async Notification
	a.requestSyncAsync(log, segmentID)

	// 6. Return Success
	log.Info("segment users replaced",
		slog.String("segment_id", segmentID),
		slog.Int("user_count", len(req.UserIDs)))
	render.Status(r, http.StatusOK)
	render.JSON(w, r, SegmentResponse{
		SegmentID: segmentID,
		UserIDs:   req.UserIDs,
		UserCount: len(req.UserIDs),
	})
}

// handleListSegmentUsers processes the GET /api/v1/segments/{id}/users request.
// An unknown segment returns an empty membership, not 404: segments exist
// implicitly through their memberships.
func (a *API) handleListSegmentUsers(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	segmentID := chi.URLParam(r, "id")

	members, err := a.segments.ListSegmentUsers(r.Context(), segmentID)
	if err != nil {
		log.Error("failed to list segment users",
			slog.String("segment_id", segmentID),
			slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to list segment users",
		})
		return
	}

	userIDs := make([]string, 0, len(members))
	for _, m := range members {
		userIDs = append(userIDs, m.UserID)
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, SegmentResponse{
		SegmentID: segmentID,
		UserIDs:   userIDs,
		UserCount: len(userIDs),
	})
}

// handleDeleteSegment processes the DELETE /api/v1/segments/{id} request.
func (a *API) handleDeleteSegment(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	segmentID := chi.URLParam(r, "id")

	if err := a.segments.DeleteSegment(r.Context(), segmentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_NOT_FOUND",
				Message: "Segment not found",
			})
			return
		}

		log.Error("failed to delete segment",
			slog.String("segment_id", segmentID),
			slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to delete segment",
		})
		return
	}

	a.requestSyncAsync(log, segmentID)

	log.Info("segment deleted", slog.String("segment_id", segmentID))
	render.NoContent(w, r)
}
