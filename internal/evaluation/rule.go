package evaluation

// ruleEvaluator finds the first rule that matches a user.
type ruleEvaluator struct {
	clauseEvaluator
}

// Evaluate returns the first rule, in declaration order, whose clauses all
// match the user, or nil when none match.
func (r *ruleEvaluator) Evaluate(
	rules []*Rule,
	user *User,
	segmentUsers []*SegmentUser,
	flagVariations map[string]string,
) *Rule {
	for _, rule := range rules {
		if r.evaluateRule(rule, user, segmentUsers, flagVariations) {
			return rule
		}
	}
	return nil
}

func (r *ruleEvaluator) evaluateRule(
	rule *Rule,
	user *User,
	segmentUsers []*SegmentUser,
	flagVariations map[string]string,
) bool {
	for _, clause := range rule.Clauses {
		if !r.evaluateClause(clause, user, segmentUsers, flagVariations) {
			return false
		}
	}
	return true
}

func (r *ruleEvaluator) evaluateClause(
	clause *Clause,
	user *User,
	segmentUsers []*SegmentUser,
	flagVariations map[string]string,
) bool {
	var targetValue string
	switch clause.Operator {
	case OperatorSegment, OperatorFeatureFlag:
		// These operators do not read a user attribute.
	default:
		v, ok := user.Data[clause.Attribute]
		if !ok {
			return false
		}
		targetValue = v
	}
	return r.clauseEvaluator.Evaluate(targetValue, clause, user.ID, segmentUsers, flagVariations)
}
