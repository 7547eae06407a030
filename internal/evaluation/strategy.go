package evaluation

import (
	"crypto/md5"
	"encoding/hex"
	"math"
	"strconv"
)

// strategyEvaluator resolves a strategy to a concrete variation.
type strategyEvaluator struct{}

// Evaluate picks a variation for the user according to the strategy.
// Rollout bucketing must be bit-identical across every SDK evaluating the
// same (featureID, userID, samplingSeed), so the hash recipe in bucket is
// a wire-level contract and must not change.
func (e *strategyEvaluator) Evaluate(
	strategy *Strategy,
	userID string,
	variations []*Variation,
	featureID string,
	samplingSeed string,
) (*Variation, error) {
	switch strategy.Type {
	case StrategyFixed:
		return findVariation(strategy.Fixed.Variation, variations)
	case StrategyRollout:
		if len(strategy.Rollout.Variations) == 0 {
			return nil, ErrVariationNotFound
		}
		variationID := e.rollout(strategy.Rollout, userID, featureID, samplingSeed)
		return findVariation(variationID, variations)
	default:
		return nil, ErrUnsupportedStrategy
	}
}

// rollout maps the user's bucket onto the cumulative weight ranges. Weights
// should sum to 100000, but float accumulation may land the total at or just
// under the bucket; in that case the last variation is served so a rollout
// never fails to pick.
func (e *strategyEvaluator) rollout(
	strategy *RolloutStrategy,
	userID, featureID, samplingSeed string,
) string {
	bucket := e.bucket(userID, featureID, samplingSeed)
	sum := 0.0
	for _, v := range strategy.Variations {
		sum += float64(v.Weight) / totalRolloutWeight
		if bucket < sum {
			return v.Variation
		}
	}
	return strategy.Variations[len(strategy.Variations)-1].Variation
}

// bucket derives a deterministic value in [0, 1) from the user, feature and
// seed: the first 16 hex characters (64 bits) of the MD5 hex digest of
// featureID + "-" + userID + samplingSeed, divided by MaxUint64.
func (e *strategyEvaluator) bucket(userID, featureID, samplingSeed string) float64 {
	sum := md5.Sum([]byte(featureID + "-" + userID + samplingSeed))
	digest := hex.EncodeToString(sum[:])
	// The digest is always 32 hex characters, so this parse cannot fail.
	intVal, _ := strconv.ParseUint(digest[:16], 16, 64)
	return float64(intVal) / float64(math.MaxUint64)
}

func findVariation(id string, variations []*Variation) (*Variation, error) {
	for i := range variations {
		if variations[i].ID == id {
			return variations[i], nil
		}
	}
	return nil, ErrVariationNotFound
}
