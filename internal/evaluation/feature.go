// Package evaluation implements the deterministic feature-flag evaluation
// engine: dependency-ordered flag resolution, layered per-flag decision
// policy, MD5-based rollout bucketing, and incremental re-evaluation
// planning. It is a pure in-memory computation with no I/O; the surrounding
// services feed it snapshots and consume its results.
package evaluation

import "fmt"

// Operator identifies the comparison a Clause performs.
type Operator string

const (
	OperatorEquals         Operator = "EQUALS"
	OperatorIn             Operator = "IN"
	OperatorEndsWith       Operator = "ENDS_WITH"
	OperatorStartsWith     Operator = "STARTS_WITH"
	OperatorSegment        Operator = "SEGMENT"
	OperatorGreater        Operator = "GREATER"
	OperatorGreaterOrEqual Operator = "GREATER_OR_EQUAL"
	OperatorLess           Operator = "LESS"
	OperatorLessOrEqual    Operator = "LESS_OR_EQUAL"
	OperatorBefore         Operator = "BEFORE"
	OperatorAfter          Operator = "AFTER"
	OperatorFeatureFlag    Operator = "FEATURE_FLAG"
	OperatorPartiallyMatch Operator = "PARTIALLY_MATCH"
)

// StrategyType discriminates the Strategy union.
type StrategyType string

const (
	StrategyFixed   StrategyType = "FIXED"
	StrategyRollout StrategyType = "ROLLOUT"
)

// ReasonType classifies why an evaluation decided a particular variation.
type ReasonType string

const (
	ReasonPrerequisite ReasonType = "PREREQUISITE"
	ReasonOffVariation ReasonType = "OFF_VARIATION"
	ReasonTarget       ReasonType = "TARGET"
	ReasonRule         ReasonType = "RULE"
	ReasonDefault      ReasonType = "DEFAULT"
)

// totalRolloutWeight is the denominator for rollout weights, giving
// one-thousandth-of-a-percent granularity.
const totalRolloutWeight = 100000.0

// Variation is one possible output value of a feature.
type Variation struct {
	ID    string `json:"id"`
	Value string `json:"value"`
	Name  string `json:"name"`
}

// Target is an explicit user-id override mapping to a variation.
type Target struct {
	Variation string   `json:"variation"`
	Users     []string `json:"users"`
}

// Clause is a single condition within a rule. For the SEGMENT operator,
// Values holds segment ids. For FEATURE_FLAG, Attribute names another
// feature id and Values holds the variation ids that satisfy the clause.
type Clause struct {
	ID        string   `json:"id"`
	Attribute string   `json:"attribute"`
	Operator  Operator `json:"operator"`
	Values    []string `json:"values"`
}

// Rule is an ordered targeting condition: all clauses must match (AND),
// and the first matching rule in declaration order wins.
type Rule struct {
	ID       string    `json:"id"`
	Clauses  []*Clause `json:"clauses"`
	Strategy *Strategy `json:"strategy"`
}

// FixedStrategy always serves a single variation.
type FixedStrategy struct {
	Variation string `json:"variation"`
}

// RolloutVariation pairs a variation with its weight out of 100000.
type RolloutVariation struct {
	Variation string `json:"variation"`
	Weight    int32  `json:"weight"`
}

// RolloutStrategy distributes users over variations by weight.
type RolloutStrategy struct {
	Variations []*RolloutVariation `json:"variations"`
}

// Strategy is the tagged union that picks a variation once targeting
// conditions are satisfied.
type Strategy struct {
	Type    StrategyType     `json:"type"`
	Fixed   *FixedStrategy   `json:"fixed,omitempty"`
	Rollout *RolloutStrategy `json:"rollout,omitempty"`
}

// Prerequisite declares that this feature only behaves normally when
// another feature resolved to a specific variation for the same user.
type Prerequisite struct {
	FeatureID   string `json:"feature_id"`
	VariationID string `json:"variation_id"`
}

// Feature is a read-only snapshot of a flag definition. The engine never
// mutates features; authoring happens in the control plane.
type Feature struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Version         int32           `json:"version"`
	Enabled         bool            `json:"enabled"`
	Archived        bool            `json:"archived"`
	UpdatedAt       int64           `json:"updated_at"`
	OffVariation    string          `json:"off_variation,omitempty"`
	Variations      []*Variation    `json:"variations"`
	Targets         []*Target       `json:"targets,omitempty"`
	Rules           []*Rule         `json:"rules,omitempty"`
	Prerequisites   []*Prerequisite `json:"prerequisites,omitempty"`
	DefaultStrategy *Strategy       `json:"default_strategy"`
	Tags            []string        `json:"tags,omitempty"`
	SamplingSeed    string          `json:"sampling_seed,omitempty"`
}

// User is the entity a request evaluates flags for. The engine uses the ID
// for bucketing and target matching; Data feeds attribute clauses.
type User struct {
	ID   string            `json:"id"`
	Data map[string]string `json:"data,omitempty"`
}

// SegmentUser is a precomputed segment membership record.
type SegmentUser struct {
	SegmentID string `json:"segment_id"`
	UserID    string `json:"user_id"`
}

// Reason is the audit classification of a decision.
type Reason struct {
	Type   ReasonType `json:"type"`
	RuleID string     `json:"rule_id,omitempty"`
}

// Evaluation is the per-feature output record.
type Evaluation struct {
	ID             string     `json:"id"`
	FeatureID      string     `json:"feature_id"`
	FeatureVersion int32      `json:"feature_version"`
	UserID         string     `json:"user_id"`
	VariationID    string     `json:"variation_id"`
	VariationName  string     `json:"variation_name"`
	VariationValue string     `json:"variation_value"`
	Variation      *Variation `json:"variation"`
	Reason         *Reason    `json:"reason"`
}

// UserEvaluations is the overall output of an evaluation pass.
type UserEvaluations struct {
	ID                 string        `json:"id"`
	Evaluations        []*Evaluation `json:"evaluations"`
	ArchivedFeatureIDs []string      `json:"archived_feature_ids"`
	ForceUpdate        bool          `json:"force_update"`
	CreatedAt          int64         `json:"created_at"`
}

// EvaluationID builds the composite id used as a cache/dedup key downstream.
// The format is stable and reproducible across services.
func EvaluationID(featureID string, featureVersion int32, userID string) string {
	return fmt.Sprintf("%s:%d:%s", featureID, featureVersion, userID)
}

// featureDependencyIDs returns the ids of the features that f depends on:
// every prerequisite's feature id plus every FEATURE_FLAG clause's attribute.
// The feature is an explicit parameter so both halves read from the same
// definition.
func featureDependencyIDs(f *Feature) []string {
	var ids []string
	for _, p := range f.Prerequisites {
		ids = append(ids, p.FeatureID)
	}
	for _, r := range f.Rules {
		for _, c := range r.Clauses {
			if c.Operator == OperatorFeatureFlag {
				ids = append(ids, c.Attribute)
			}
		}
	}
	return ids
}

// SegmentIDs returns the de-duplicated segment ids referenced by any
// SEGMENT clause across the feature's rules.
func (f *Feature) SegmentIDs() []string {
	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for _, r := range f.Rules {
		for _, c := range r.Clauses {
			if c.Operator != OperatorSegment {
				continue
			}
			for _, v := range c.Values {
				if _, ok := seen[v]; ok {
					continue
				}
				seen[v] = struct{}{}
				ids = append(ids, v)
			}
		}
	}
	return ids
}
