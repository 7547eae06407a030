package evaluation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClauseEvaluator_Strings(t *testing.T) {
	t.Parallel()
	e := &clauseEvaluator{}

	tests := []struct {
		name        string
		operator    Operator
		targetValue string
		values      []string
		want        bool
	}{
		{
			name:        "Should match EQUALS on exact value",
			operator:    OperatorEquals,
			targetValue: "tokyo",
			values:      []string{"osaka", "tokyo"},
			want:        true,
		},
		{
			name:        "Should not match EQUALS on a substring",
			operator:    OperatorEquals,
			targetValue: "tokyo-east",
			values:      []string{"tokyo"},
			want:        false,
		},
		{
			name:        "Should match IN like EQUALS across values",
			operator:    OperatorIn,
			targetValue: "gold",
			values:      []string{"silver", "gold", "bronze"},
			want:        true,
		},
		{
			name:        "Should match STARTS_WITH on any prefix",
			operator:    OperatorStartsWith,
			targetValue: "android-14",
			values:      []string{"ios-", "android-"},
			want:        true,
		},
		{
			name:        "Should not match STARTS_WITH on a suffix",
			operator:    OperatorStartsWith,
			targetValue: "beta-android",
			values:      []string{"android"},
			want:        false,
		},
		{
			name:        "Should match ENDS_WITH on any suffix",
			operator:    OperatorEndsWith,
			targetValue: "user@example.com",
			values:      []string{"@example.org", "@example.com"},
			want:        true,
		},
		{
			name:        "Should match PARTIALLY_MATCH on a substring",
			operator:    OperatorPartiallyMatch,
			targetValue: "org-acme-staging",
			values:      []string{"acme"},
			want:        true,
		},
		{
			name:        "Should not match PARTIALLY_MATCH when absent",
			operator:    OperatorPartiallyMatch,
			targetValue: "org-acme-staging",
			values:      []string{"globex"},
			want:        false,
		},
		{
			name:        "Should not match an unknown operator",
			operator:    Operator("REGEX"),
			targetValue: "anything",
			values:      []string{"anything"},
			want:        false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clause := &Clause{Attribute: "attr", Operator: tt.operator, Values: tt.values}
			got := e.Evaluate(tt.targetValue, clause, "user1", nil, nil)
			assert.Equal(t, tt.want, got)
		})
	}
}

// The ordered operators compare in one value space per evaluation: floats
// when the target parses as a float, else strict semver, else plain strings.
func TestClauseEvaluator_OrderedComparisons(t *testing.T) {
	t.Parallel()
	e := &clauseEvaluator{}

	tests := []struct {
		name        string
		operator    Operator
		targetValue string
		values      []string
		want        bool
	}{
		{
			name:        "Should compare floats when the target is numeric",
			operator:    OperatorGreater,
			targetValue: "1.5",
			values:      []string{"1.0"},
			want:        true,
		},
		{
			name:        "Should ignore non-numeric values for a numeric target",
			operator:    OperatorGreater,
			targetValue: "1.5",
			values:      []string{"abc", "2.0"},
			want:        false,
		},
		{
			name:        "Should match when any numeric value satisfies",
			operator:    OperatorGreater,
			targetValue: "1.5",
			values:      []string{"2.0", "1.0"},
			want:        true,
		},
		{
			name:        "Should not match GREATER on equality",
			operator:    OperatorGreater,
			targetValue: "2.0",
			values:      []string{"2.0"},
			want:        false,
		},
		{
			name:        "Should match GREATER_OR_EQUAL on equality",
			operator:    OperatorGreaterOrEqual,
			targetValue: "2.0",
			values:      []string{"2.0"},
			want:        true,
		},
		{
			name:        "Should compare semver when the target parses as semver",
			operator:    OperatorGreater,
			targetValue: "1.1.0",
			values:      []string{"1.0.9"},
			want:        true,
		},
		{
			name:        "Should order semver numerically not lexically",
			operator:    OperatorGreater,
			targetValue: "1.10.0",
			values:      []string{"1.9.0"},
			want:        true,
		},
		{
			name:        "Should ignore values that are not strict semver",
			operator:    OperatorGreater,
			targetValue: "1.1.0",
			values:      []string{"v1.0.0"},
			want:        false,
		},
		{
			name:        "Should match LESS on semver",
			operator:    OperatorLess,
			targetValue: "0.9.0",
			values:      []string{"1.0.0"},
			want:        true,
		},
		{
			name:        "Should match LESS_OR_EQUAL on equal semver",
			operator:    OperatorLessOrEqual,
			targetValue: "1.0.0",
			values:      []string{"1.0.0"},
			want:        true,
		},
		{
			name:        "Should fall back to string ordering for plain strings",
			operator:    OperatorGreater,
			targetValue: "banana",
			values:      []string{"apple"},
			want:        true,
		},
		{
			name:        "Should not match string LESS when target sorts after",
			operator:    OperatorLess,
			targetValue: "banana",
			values:      []string{"apple"},
			want:        false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clause := &Clause{Attribute: "attr", Operator: tt.operator, Values: tt.values}
			got := e.Evaluate(tt.targetValue, clause, "user1", nil, nil)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClauseEvaluator_Timestamps(t *testing.T) {
	t.Parallel()
	e := &clauseEvaluator{}

	tests := []struct {
		name        string
		operator    Operator
		targetValue string
		values      []string
		want        bool
	}{
		{
			name:        "Should match BEFORE an earlier timestamp",
			operator:    OperatorBefore,
			targetValue: "1700000000",
			values:      []string{"1700000001"},
			want:        true,
		},
		{
			name:        "Should not match BEFORE an equal timestamp",
			operator:    OperatorBefore,
			targetValue: "1700000000",
			values:      []string{"1700000000"},
			want:        false,
		},
		{
			name:        "Should match AFTER a later timestamp",
			operator:    OperatorAfter,
			targetValue: "1700000002",
			values:      []string{"1700000001"},
			want:        true,
		},
		{
			name:        "Should not match when the target is not an integer",
			operator:    OperatorAfter,
			targetValue: "not-a-timestamp",
			values:      []string{"1700000001"},
			want:        false,
		},
		{
			name:        "Should skip values that are not integers",
			operator:    OperatorAfter,
			targetValue: "1700000002",
			values:      []string{"tomorrow", "1700000001"},
			want:        true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clause := &Clause{Attribute: "attr", Operator: tt.operator, Values: tt.values}
			got := e.Evaluate(tt.targetValue, clause, "user1", nil, nil)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClauseEvaluator_Segment(t *testing.T) {
	t.Parallel()
	e := &clauseEvaluator{}

	segmentUsers := []*SegmentUser{
		{SegmentID: "segment-1", UserID: "user1"},
		{SegmentID: "segment-1", UserID: "user2"},
		{SegmentID: "segment-2", UserID: "user3"},
	}
	clause := &Clause{Operator: OperatorSegment, Values: []string{"segment-1"}}

	assert.True(t, e.Evaluate("", clause, "user1", segmentUsers, nil))
	assert.False(t, e.Evaluate("", clause, "user3", segmentUsers, nil))

	multi := &Clause{Operator: OperatorSegment, Values: []string{"segment-1", "segment-2"}}
	assert.True(t, e.Evaluate("", multi, "user3", segmentUsers, nil))
	assert.False(t, e.Evaluate("", multi, "user4", segmentUsers, nil))
}

func TestClauseEvaluator_FeatureFlag(t *testing.T) {
	t.Parallel()
	e := &clauseEvaluator{}

	flagVariations := map[string]string{
		"feature-1": "variation-A",
	}
	clause := &Clause{
		Attribute: "feature-1",
		Operator:  OperatorFeatureFlag,
		Values:    []string{"variation-A", "variation-B"},
	}
	assert.True(t, e.Evaluate("", clause, "user1", nil, flagVariations))

	notListed := &Clause{
		Attribute: "feature-1",
		Operator:  OperatorFeatureFlag,
		Values:    []string{"variation-C"},
	}
	assert.False(t, e.Evaluate("", notListed, "user1", nil, flagVariations))

	undecided := &Clause{
		Attribute: "feature-2",
		Operator:  OperatorFeatureFlag,
		Values:    []string{"variation-A"},
	}
	assert.False(t, e.Evaluate("", undecided, "user1", nil, flagVariations))
}
