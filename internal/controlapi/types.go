// Package controlapi implements the REST API for the Norn Control Plane.
// It handles HTTP routing, request decoding, validation, and response formatting.
package controlapi

import (
	"regexp"
	"strings"

	"github.com/nornlabs/norn/internal/evaluation"
)

// featureIDRegex ensures feature IDs are URL-safe slugs (lowercase, numbers, hyphens).
// We compile it once at package initialization for performance.
var featureIDRegex = regexp.MustCompile(`^[a-z0-9-]+$`)

// -----------------------------------------------------------------------------
// Reusable Validation Logic
// -----------------------------------------------------------------------------

// validateFeatureID enforces the format and length rules for the natural key.
// It is isolated to allow reuse in other contexts (e.g., segments share it).
func validateFeatureID(id string) *ErrorResponse {
	if id == "" {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "ID is required",
		}
	}
	if len(id) < 3 || len(id) > 255 {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "ID must be between 3 and 255 characters",
		}
	}
	if !featureIDRegex.MatchString(id) {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "ID must strictly contain only lowercase letters, numbers, and hyphens (slug format)",
		}
	}
	return nil
}

// validateFeatureName enforces rules for the human-readable name.
func validateFeatureName(name string) *ErrorResponse {
	if name == "" {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Name is required",
		}
	}
	if len(name) > 255 {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Name must be less than 255 characters",
		}
	}
	return nil
}

// validateDefinition checks the internal consistency of a flag definition:
// every variation reference must point at a declared variation, and rollout
// weights must be sane. Cross-feature references (prerequisites, FEATURE_FLAG
// clauses) are resolved at evaluation time, not here.
func validateDefinition(f *evaluation.Feature) *ErrorResponse {
	if len(f.Variations) == 0 {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "At least one variation is required",
		}
	}

	variationIDs := make(map[string]struct{}, len(f.Variations))
	for _, v := range f.Variations {
		if v.ID == "" {
			return &ErrorResponse{
				Code:    "ERR_INVALID_INPUT",
				Message: "Variation ID is required",
			}
		}
		if _, dup := variationIDs[v.ID]; dup {
			return &ErrorResponse{
				Code:    "ERR_INVALID_INPUT",
				Message: "Duplicate variation ID: " + v.ID,
			}
		}
		variationIDs[v.ID] = struct{}{}
	}

	if f.OffVariation != "" {
		if _, ok := variationIDs[f.OffVariation]; !ok {
			return &ErrorResponse{
				Code:    "ERR_INVALID_INPUT",
				Message: "Off variation references unknown variation: " + f.OffVariation,
			}
		}
	}

	if f.DefaultStrategy == nil {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Default strategy is required",
		}
	}
	if errResp := validateStrategy(f.DefaultStrategy, variationIDs, "default strategy"); errResp != nil {
		return errResp
	}

	for _, target := range f.Targets {
		if _, ok := variationIDs[target.Variation]; !ok {
			return &ErrorResponse{
				Code:    "ERR_INVALID_INPUT",
				Message: "Target references unknown variation: " + target.Variation,
			}
		}
	}

	for _, rule := range f.Rules {
		if rule.ID == "" {
			return &ErrorResponse{
				Code:    "ERR_INVALID_INPUT",
				Message: "Rule ID is required",
			}
		}
		if len(rule.Clauses) == 0 {
			return &ErrorResponse{
				Code:    "ERR_INVALID_INPUT",
				Message: "Rule " + rule.ID + " must have at least one clause",
			}
		}
		if errResp := validateStrategy(rule.Strategy, variationIDs, "rule "+rule.ID); errResp != nil {
			return errResp
		}
	}

	return nil
}

// validateStrategy checks that a strategy is well-formed and only references
// declared variations.
func validateStrategy(s *evaluation.Strategy, variationIDs map[string]struct{}, context string) *ErrorResponse {
	if s == nil {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Strategy is required for " + context,
		}
	}

	switch s.Type {
	case evaluation.StrategyFixed:
		if s.Fixed == nil {
			return &ErrorResponse{
				Code:    "ERR_INVALID_INPUT",
				Message: "Fixed strategy payload is required for " + context,
			}
		}
		if _, ok := variationIDs[s.Fixed.Variation]; !ok {
			return &ErrorResponse{
				Code:    "ERR_INVALID_INPUT",
				Message: "Strategy for " + context + " references unknown variation: " + s.Fixed.Variation,
			}
		}

	case evaluation.StrategyRollout:
		if s.Rollout == nil || len(s.Rollout.Variations) == 0 {
			return &ErrorResponse{
				Code:    "ERR_INVALID_INPUT",
				Message: "Rollout strategy payload is required for " + context,
			}
		}
		var totalWeight int64
		for _, rv := range s.Rollout.Variations {
			if rv.Weight < 0 {
				return &ErrorResponse{
					Code:    "ERR_INVALID_INPUT",
					Message: "Rollout weights must be non-negative in " + context,
				}
			}
			if _, ok := variationIDs[rv.Variation]; !ok {
				return &ErrorResponse{
					Code:    "ERR_INVALID_INPUT",
					Message: "Strategy for " + context + " references unknown variation: " + rv.Variation,
				}
			}
			totalWeight += int64(rv.Weight)
		}
		if totalWeight != 100000 {
			return &ErrorResponse{
				Code:    "ERR_INVALID_INPUT",
				Message: "Rollout weights must sum to 100000 in " + context,
			}
		}

	default:
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Unknown strategy type for " + context,
		}
	}

	return nil
}

// FeatureRequest defines the flag definition payload shared by create (POST)
// and update (PUT). The full definition is replaced on every write; partial
// updates would make the version counter ambiguous.
type FeatureRequest struct {
	// ID is required and immutable. Matches '^[a-z0-9-]+$'.
	ID string `json:"id"`

	// Name is required.
	Name string `json:"name"`

	// Enabled defaults to false if omitted (Secure by Default).
	Enabled bool `json:"enabled"`

	// OffVariation is served when the flag is disabled. Optional; without it
	// a disabled flag falls through to the default strategy.
	OffVariation string `json:"off_variation,omitempty"`

	// Variations is the set of possible serving values. At least one required.
	Variations []*evaluation.Variation `json:"variations"`

	// Targets are explicit per-user overrides.
	Targets []*evaluation.Target `json:"targets,omitempty"`

	// Rules are ordered targeting conditions.
	Rules []*evaluation.Rule `json:"rules,omitempty"`

	// Prerequisites gate this flag on other flags' outcomes.
	Prerequisites []*evaluation.Prerequisite `json:"prerequisites,omitempty"`

	// DefaultStrategy decides the variation when nothing else matches. Required.
	DefaultStrategy *evaluation.Strategy `json:"default_strategy"`

	// Tags scope which evaluation requests include this flag.
	Tags []string `json:"tags,omitempty"`

	// SamplingSeed perturbs rollout bucketing independently of the feature ID.
	SamplingSeed string `json:"sampling_seed,omitempty"`
}

// Sanitize cleans up input data by trimming whitespace and normalizing case.
// This prevents "dirty" data from entering the system logic.
func (r *FeatureRequest) Sanitize() {
	r.ID = strings.ToLower(strings.TrimSpace(r.ID))
	r.Name = strings.TrimSpace(r.Name)
	for i, tag := range r.Tags {
		r.Tags[i] = strings.TrimSpace(tag)
	}
}

// Validate checks if the request data adheres to business rules.
// It returns a structured *ErrorResponse if validation fails, or nil if valid.
func (r *FeatureRequest) Validate() *ErrorResponse {
	if err := validateFeatureID(r.ID); err != nil {
		return err
	}

	if err := validateFeatureName(r.Name); err != nil {
		return err
	}

	return validateDefinition(r.ToFeature())
}

// ToFeature maps the DTO to the domain model. Version and Archived are
// owned by the repository, not the client.
func (r *FeatureRequest) ToFeature() *evaluation.Feature {
	return &evaluation.Feature{
		ID:              r.ID,
		Name:            r.Name,
		Enabled:         r.Enabled,
		OffVariation:    r.OffVariation,
		Variations:      r.Variations,
		Targets:         r.Targets,
		Rules:           r.Rules,
		Prerequisites:   r.Prerequisites,
		DefaultStrategy: r.DefaultStrategy,
		Tags:            r.Tags,
		SamplingSeed:    r.SamplingSeed,
	}
}

// UpdateFeatureRequest is the PUT payload: a full definition plus the version
// the client last read, for optimistic locking.
type UpdateFeatureRequest struct {
	FeatureRequest

	// Version must match the stored version or the update is rejected
	// with a conflict.
	Version int32 `json:"version"`
}

// VersionedRequest carries only an expected version, for operations that
// change state without a new definition (archive).
type VersionedRequest struct {
	Version int32 `json:"version"`
}

// ReplaceSegmentUsersRequest defines the PUT payload for segment memberships.
type ReplaceSegmentUsersRequest struct {
	UserIDs []string `json:"user_ids"`
}

// maxSegmentUsers bounds a single membership upload.
const maxSegmentUsers = 100000

// Sanitize trims whitespace and drops empty entries.
func (r *ReplaceSegmentUsersRequest) Sanitize() {
	cleaned := r.UserIDs[:0]
	for _, id := range r.UserIDs {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	r.UserIDs = cleaned
}

// Validate checks the membership upload against size limits.
func (r *ReplaceSegmentUsersRequest) Validate() *ErrorResponse {
	if len(r.UserIDs) > maxSegmentUsers {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Segment membership exceeds the maximum of 100000 users",
		}
	}
	return nil
}

// SegmentResponse describes a segment and its membership.
type SegmentResponse struct {
	SegmentID string   `json:"segment_id"`
	UserIDs   []string `json:"user_ids"`
	UserCount int      `json:"user_count"`
}

// PaginatedResponse is a standard wrapper for list endpoints to support offset pagination.
type PaginatedResponse struct {
	// Data holds the list of resources (e.g., []*evaluation.Feature).
	Data interface{} `json:"data"`

	// Meta contains pagination metadata.
	Pagination Pagination `json:"pagination"`
}

// Pagination metadata for the frontend pager.
type Pagination struct {
	TotalItems  int64 `json:"total_items"`
	TotalPages  int   `json:"total_pages"`
	CurrentPage int   `json:"current_page"`
	PageSize    int   `json:"page_size"`
}

// ErrorResponse represents a standard structured API error.
type ErrorResponse struct {
	// Code is a machine-readable error code (e.g., "ERR_INVALID_INPUT").
	Code string `json:"code"`

	// Message is a human-readable description of the error.
	Message string `json:"message"`

	// Details provides optional granular validation errors.
	Details []ErrorDetail `json:"details,omitempty"`
}

// ErrorDetail provides context about specific field validation failures.
type ErrorDetail struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}
