package dataapi

import (
	"strings"

	"github.com/nornlabs/norn/internal/evaluation"
)

// EvaluationRequest is the payload for both evaluation endpoints. The
// incremental fields (prev_evaluation_id, evaluated_at,
// user_attributes_updated) are only meaningful for the bulk endpoint; the
// single-flag endpoint ignores them.
type EvaluationRequest struct {
	// UserID identifies the user being evaluated. Required.
	UserID string `json:"user_id"`

	// UserData carries the user's attributes for rule matching.
	UserData map[string]string `json:"user_data,omitempty"`

	// Tag restricts the response to features carrying this tag.
	// Empty means all features.
	Tag string `json:"tag,omitempty"`

	// PrevEvaluationID is the ID of the result the client currently holds.
	// When set, the server plans an incremental re-evaluation against it.
	PrevEvaluationID string `json:"prev_evaluation_id,omitempty"`

	// EvaluatedAt is when the previous result was produced (unix seconds).
	EvaluatedAt int64 `json:"evaluated_at,omitempty"`

	// UserAttributesUpdated tells the planner the user's attributes changed
	// since the previous evaluation, so every rule-bearing flag is re-run.
	UserAttributesUpdated bool `json:"user_attributes_updated,omitempty"`
}

// Sanitize trims identifier whitespace.
func (r *EvaluationRequest) Sanitize() {
	r.UserID = strings.TrimSpace(r.UserID)
	r.Tag = strings.TrimSpace(r.Tag)
}

// Validate checks the minimal requirements for an evaluation.
func (r *EvaluationRequest) Validate() *ErrorResponse {
	if r.UserID == "" {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "user_id is required",
		}
	}
	return nil
}

// User maps the request to the engine's user model.
func (r *EvaluationRequest) User() *evaluation.User {
	return &evaluation.User{ID: r.UserID, Data: r.UserData}
}

// EvaluationResponse is the bulk evaluation output: the engine result plus
// the snapshot version it was computed from, so clients can correlate
// results with config freshness.
type EvaluationResponse struct {
	SnapshotVersion int64                       `json:"snapshot_version"`
	UserEvaluations *evaluation.UserEvaluations `json:"user_evaluations"`
}

// SingleEvaluationResponse is the single-flag evaluation output.
type SingleEvaluationResponse struct {
	SnapshotVersion int64                  `json:"snapshot_version"`
	Evaluation      *evaluation.Evaluation `json:"evaluation"`
}

// ErrorResponse represents a standard structured API error.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
