package evaluation

import (
	"log/slog"
	"sort"
	"time"
)

const (
	// secondsToReEvaluateAll bounds both archived-flag retention and how old
	// a previous evaluation may be before a full forced rebuild (30 days).
	secondsToReEvaluateAll = 30 * 24 * 60 * 60

	// secondsForAdjustment is subtracted from the previous evaluation time
	// to tolerate clock skew between evaluation and storage.
	secondsForAdjustment = 10
)

// Evaluator resolves feature flags for a user. It is stateless and safe for
// concurrent use; all inputs are read-only snapshots.
type Evaluator struct {
	ruleEvaluator
	strategyEvaluator
	logger *slog.Logger
}

// NewEvaluator creates an Evaluator.
// If logger is nil, it defaults to slog.Default().
func NewEvaluator(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{logger: logger}
}

// EvaluateFeatures evaluates every feature in the set for the user and
// returns the full result with no force-update semantics.
func (e *Evaluator) EvaluateFeatures(
	features []*Feature,
	user *User,
	segmentUsersByID map[string][]*SegmentUser,
	targetTag string,
) (*UserEvaluations, error) {
	return e.evaluate(features, user, segmentUsersByID, false, targetTag)
}

// EvaluateFeaturesByEvaluatedAt plans an incremental re-evaluation against a
// previous result and evaluates the smallest set that is still correct.
// Decision order:
//  1. No previous evaluation id: full evaluate, force update.
//  2. Previous evaluation older than 30 days: full evaluate, force update.
//  3. Select updated features: updated after (evaluatedAt - 10s), plus every
//     rule-bearing feature when the user's attributes changed.
//  4. Nothing updated: full evaluate without force update, so the caller
//     merges into its cache instead of replacing it.
//  5. Otherwise evaluate the union of the updated features' dependency
//     closures in both directions, without force update.
func (e *Evaluator) EvaluateFeaturesByEvaluatedAt(
	features []*Feature,
	user *User,
	segmentUsersByID map[string][]*SegmentUser,
	prevUserEvaluationsID string,
	evaluatedAt int64,
	userAttributesUpdated bool,
	targetTag string,
) (*UserEvaluations, error) {
	if prevUserEvaluationsID == "" {
		return e.evaluate(features, user, segmentUsersByID, true, targetTag)
	}
	now := time.Now()
	if evaluatedAt < now.Unix()-secondsToReEvaluateAll {
		return e.evaluate(features, user, segmentUsersByID, true, targetTag)
	}
	adjustedEvalAt := evaluatedAt - secondsForAdjustment
	updatedFeatures := make([]*Feature, 0, len(features))
	for _, f := range features {
		if f.UpdatedAt > adjustedEvalAt {
			updatedFeatures = append(updatedFeatures, f)
			continue
		}
		if userAttributesUpdated && len(f.Rules) != 0 {
			updatedFeatures = append(updatedFeatures, f)
		}
	}
	if len(updatedFeatures) == 0 {
		return e.evaluate(features, user, segmentUsersByID, false, targetTag)
	}
	evalTargets := e.getEvalFeatures(updatedFeatures, features)
	return e.evaluate(evalTargets, user, segmentUsersByID, false, targetTag)
}

// evaluate runs the decision policy over the set in dependency order.
// The flagVariations map carries every decided variation forward so that
// prerequisites and FEATURE_FLAG clauses can read upstream outcomes, and it
// is populated even for features the tag filter excludes from the output.
func (e *Evaluator) evaluate(
	features []*Feature,
	user *User,
	segmentUsersByID map[string][]*SegmentUser,
	forceUpdate bool,
	targetTag string,
) (*UserEvaluations, error) {
	flagVariations := map[string]string{}
	sorted, err := TopologicalSort(features)
	if err != nil {
		return nil, err
	}
	evaluations := make([]*Evaluation, 0, len(features))
	archivedIDs := make([]string, 0)
	for _, feature := range sorted {
		if feature.Archived {
			// Flags archived long ago are dropped entirely to keep the
			// response small; recent ones are reported so clients can prune.
			if !e.isArchivedBeforeLastThirtyDays(feature) {
				archivedIDs = append(archivedIDs, feature.ID)
			}
			continue
		}
		var segmentUsers []*SegmentUser
		for _, id := range feature.SegmentIDs() {
			segmentUsers = append(segmentUsers, segmentUsersByID[id]...)
		}
		reason, variation, err := e.assignUser(feature, user, segmentUsers, flagVariations)
		if err != nil {
			return nil, err
		}
		flagVariations[feature.ID] = variation.ID
		if targetTag != "" && !tagExist(feature.Tags, targetTag) {
			continue
		}
		evaluations = append(evaluations, &Evaluation{
			ID:             EvaluationID(feature.ID, feature.Version, user.ID),
			FeatureID:      feature.ID,
			FeatureVersion: feature.Version,
			UserID:         user.ID,
			VariationID:    variation.ID,
			VariationName:  variation.Name,
			VariationValue: variation.Value,
			Variation:      variation,
			Reason:         reason,
		})
	}
	id := UserEvaluationsID(user.ID, user.Data, features)
	return NewUserEvaluations(id, evaluations, archivedIDs, forceUpdate), nil
}

// assignUser walks the layered decision policy for one feature:
// prerequisites, then off-variation for disabled flags, then individual
// targets, then rules, then the default strategy.
func (e *Evaluator) assignUser(
	feature *Feature,
	user *User,
	segmentUsers []*SegmentUser,
	flagVariations map[string]string,
) (*Reason, *Variation, error) {
	for _, p := range feature.Prerequisites {
		variation, ok := flagVariations[p.FeatureID]
		if !ok {
			return nil, nil, ErrPrerequisiteVariationNotFound
		}
		if p.VariationID != variation {
			if feature.OffVariation != "" {
				v, err := findVariation(feature.OffVariation, feature.Variations)
				return &Reason{Type: ReasonPrerequisite}, v, err
			}
			// Without an off-variation a failed prerequisite cannot short
			// out the flag, so evaluation falls through to targeting.
			e.logger.Warn("prerequisite not satisfied and no off variation set",
				"feature_id", feature.ID,
				"prerequisite_feature_id", p.FeatureID,
			)
		}
	}
	if !feature.Enabled && feature.OffVariation != "" {
		v, err := findVariation(feature.OffVariation, feature.Variations)
		return &Reason{Type: ReasonOffVariation}, v, err
	}
	for i := range feature.Targets {
		if contains(user.ID, feature.Targets[i].Users) {
			v, err := findVariation(feature.Targets[i].Variation, feature.Variations)
			return &Reason{Type: ReasonTarget}, v, err
		}
	}
	rule := e.ruleEvaluator.Evaluate(feature.Rules, user, segmentUsers, flagVariations)
	if rule != nil {
		v, err := e.strategyEvaluator.Evaluate(
			rule.Strategy,
			user.ID,
			feature.Variations,
			feature.ID,
			feature.SamplingSeed,
		)
		return &Reason{Type: ReasonRule, RuleID: rule.ID}, v, err
	}
	if feature.DefaultStrategy == nil {
		return nil, nil, ErrDefaultStrategyNotFound
	}
	v, err := e.strategyEvaluator.Evaluate(
		feature.DefaultStrategy,
		user.ID,
		feature.Variations,
		feature.ID,
		feature.SamplingSeed,
	)
	if err != nil {
		return nil, nil, err
	}
	return &Reason{Type: ReasonDefault}, v, nil
}

// isArchivedBeforeLastThirtyDays reports whether the feature was archived
// more than thirty days ago.
func (e *Evaluator) isArchivedBeforeLastThirtyDays(feature *Feature) bool {
	if !feature.Archived {
		return false
	}
	now := time.Now()
	return feature.UpdatedAt < now.Unix()-secondsToReEvaluateAll
}

// GetPrerequisiteDownwards returns the target features together with every
// feature they transitively depend on. The single-flag evaluation path uses
// this to evaluate only the closure a flag needs.
func (e *Evaluator) GetPrerequisiteDownwards(targetFeatures, allFeatures []*Feature) []*Feature {
	all := make(map[string]*Feature, len(allFeatures))
	for _, f := range allFeatures {
		all[f.ID] = f
	}
	return mapValues(featuresDependedOnTargets(targetFeatures, all))
}

// getEvalFeatures returns the union of the ancestors and descendants
// closures of the target features.
func (e *Evaluator) getEvalFeatures(targetFeatures, allFeatures []*Feature) []*Feature {
	all := make(map[string]*Feature, len(allFeatures))
	for _, f := range allFeatures {
		all[f.ID] = f
	}
	evals := featuresDependedOnTargets(targetFeatures, all)
	for id, f := range featuresDependsOnTargets(targetFeatures, all) {
		evals[id] = f
	}
	return mapValues(evals)
}

// mapValues flattens a closure map into a slice in feature-id order, so the
// working set (and everything derived from it) does not vary with Go's map
// iteration order.
func mapValues(m map[string]*Feature) []*Feature {
	fs := make([]*Feature, 0, len(m))
	for _, f := range m {
		fs = append(fs, f)
	}
	sort.Slice(fs, func(i, j int) bool { return fs[i].ID < fs[j].ID })
	return fs
}

func tagExist(tags []string, target string) bool {
	for _, tag := range tags {
		if tag == target {
			return true
		}
	}
	return false
}

func contains(needle string, haystack []string) bool {
	for i := range haystack {
		if haystack[i] == needle {
			return true
		}
	}
	return false
}
