package evaluation

import (
	"strconv"
	"strings"

	"github.com/blang/semver/v4"
)

// clauseEvaluator decides whether a single clause matches.
type clauseEvaluator struct{}

// Evaluate reports whether the clause matches the given target value.
// targetValue is the user attribute named by clause.Attribute, except for
// SEGMENT (which matches on userID against segmentUsers) and FEATURE_FLAG
// (which matches on the already-decided variation of the feature named by
// clause.Attribute, looked up in flagVariations).
func (c *clauseEvaluator) Evaluate(
	targetValue string,
	clause *Clause,
	userID string,
	segmentUsers []*SegmentUser,
	flagVariations map[string]string,
) bool {
	switch clause.Operator {
	case OperatorEquals:
		return c.equals(targetValue, clause.Values)
	case OperatorIn:
		return c.in(targetValue, clause.Values)
	case OperatorStartsWith:
		return c.startsWith(targetValue, clause.Values)
	case OperatorEndsWith:
		return c.endsWith(targetValue, clause.Values)
	case OperatorSegment:
		return c.segment(userID, segmentUsers, clause.Values)
	case OperatorGreater:
		return c.greater(targetValue, clause.Values)
	case OperatorGreaterOrEqual:
		return c.greaterOrEqual(targetValue, clause.Values)
	case OperatorLess:
		return c.less(targetValue, clause.Values)
	case OperatorLessOrEqual:
		return c.lessOrEqual(targetValue, clause.Values)
	case OperatorBefore:
		return c.before(targetValue, clause.Values)
	case OperatorAfter:
		return c.after(targetValue, clause.Values)
	case OperatorFeatureFlag:
		return c.featureFlag(clause.Attribute, clause.Values, flagVariations)
	case OperatorPartiallyMatch:
		return c.partiallyMatch(targetValue, clause.Values)
	default:
		return false
	}
}

func (c *clauseEvaluator) equals(targetValue string, values []string) bool {
	for _, v := range values {
		if targetValue == v {
			return true
		}
	}
	return false
}

func (c *clauseEvaluator) in(targetValue string, values []string) bool {
	return c.equals(targetValue, values)
}

func (c *clauseEvaluator) startsWith(targetValue string, values []string) bool {
	for _, v := range values {
		if strings.HasPrefix(targetValue, v) {
			return true
		}
	}
	return false
}

func (c *clauseEvaluator) endsWith(targetValue string, values []string) bool {
	for _, v := range values {
		if strings.HasSuffix(targetValue, v) {
			return true
		}
	}
	return false
}

func (c *clauseEvaluator) partiallyMatch(targetValue string, values []string) bool {
	for _, v := range values {
		if strings.Contains(targetValue, v) {
			return true
		}
	}
	return false
}

// segment matches when the user belongs to any of the segment ids listed in
// the clause. Membership comes from the precomputed SegmentUser records.
func (c *clauseEvaluator) segment(userID string, segmentUsers []*SegmentUser, segmentIDs []string) bool {
	for _, id := range segmentIDs {
		for _, su := range segmentUsers {
			if su.SegmentID == id && su.UserID == userID {
				return true
			}
		}
	}
	return false
}

// featureFlag matches when the decided variation of the referenced feature
// is one of the clause values. A missing entry in flagVariations means the
// dependency was not part of this evaluation, which never matches.
func (c *clauseEvaluator) featureFlag(featureID string, values []string, flagVariations map[string]string) bool {
	variationID, ok := flagVariations[featureID]
	if !ok {
		return false
	}
	return c.equals(variationID, values)
}

// Ordered comparisons try the value spaces in a fixed ladder: if the target
// parses as a float, only float-parsable clause values are compared; else if
// it parses as a strict semver, only semver values are compared; otherwise
// plain string ordering applies. A clause matches when any value satisfies
// the comparison.

func (c *clauseEvaluator) greater(targetValue string, values []string) bool {
	return c.compare(targetValue, values, func(cmp int) bool { return cmp > 0 })
}

func (c *clauseEvaluator) greaterOrEqual(targetValue string, values []string) bool {
	return c.compare(targetValue, values, func(cmp int) bool { return cmp >= 0 })
}

func (c *clauseEvaluator) less(targetValue string, values []string) bool {
	return c.compare(targetValue, values, func(cmp int) bool { return cmp < 0 })
}

func (c *clauseEvaluator) lessOrEqual(targetValue string, values []string) bool {
	return c.compare(targetValue, values, func(cmp int) bool { return cmp <= 0 })
}

func (c *clauseEvaluator) compare(targetValue string, values []string, match func(int) bool) bool {
	if target, err := strconv.ParseFloat(targetValue, 64); err == nil {
		for _, v := range values {
			val, err := strconv.ParseFloat(v, 64)
			if err != nil {
				continue
			}
			if match(compareFloats(target, val)) {
				return true
			}
		}
		return false
	}
	if target, err := semver.Parse(targetValue); err == nil {
		for _, v := range values {
			val, err := semver.Parse(v)
			if err != nil {
				continue
			}
			if match(target.Compare(val)) {
				return true
			}
		}
		return false
	}
	for _, v := range values {
		if match(strings.Compare(targetValue, v)) {
			return true
		}
	}
	return false
}

func compareFloats(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// before and after compare unix-second timestamps. Values that do not parse
// as integers are ignored.

func (c *clauseEvaluator) before(targetValue string, values []string) bool {
	return c.compareTimestamps(targetValue, values, func(target, val int64) bool { return target < val })
}

func (c *clauseEvaluator) after(targetValue string, values []string) bool {
	return c.compareTimestamps(targetValue, values, func(target, val int64) bool { return target > val })
}

func (c *clauseEvaluator) compareTimestamps(targetValue string, values []string, match func(int64, int64) bool) bool {
	target, err := strconv.ParseInt(targetValue, 10, 64)
	if err != nil {
		return false
	}
	for _, v := range values {
		val, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		if match(target, val) {
			return true
		}
	}
	return false
}
