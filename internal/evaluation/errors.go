package evaluation

import "errors"

// Engine failure modes. All are data or configuration integrity errors, not
// transient faults: the engine never retries, and any of them aborts the
// whole evaluation call with no partial output.
var (
	// ErrCycleExists reports a cycle in the feature dependency graph
	// (prerequisites plus FEATURE_FLAG clauses).
	ErrCycleExists = errors.New("evaluation: cycle exists in features")

	// ErrFeatureNotFound reports a dependency on a feature id absent from
	// the supplied snapshot (typically a stale snapshot).
	ErrFeatureNotFound = errors.New("evaluation: feature not found")

	// ErrDefaultStrategyNotFound reports a feature with no default strategy
	// configured.
	ErrDefaultStrategyNotFound = errors.New("evaluation: default strategy not found")

	// ErrPrerequisiteVariationNotFound reports a prerequisite whose feature
	// has no decided variation yet. Unreachable when features arrive in
	// topological order.
	ErrPrerequisiteVariationNotFound = errors.New("evaluation: prerequisite variation not found")

	// ErrVariationNotFound reports a strategy resolving to a variation id
	// absent from the feature's variation list.
	ErrVariationNotFound = errors.New("evaluation: variation not found")

	// ErrUnsupportedStrategy reports a strategy whose type tag is neither
	// FIXED nor ROLLOUT.
	ErrUnsupportedStrategy = errors.New("evaluation: unsupported strategy")
)
