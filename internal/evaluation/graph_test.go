package evaluation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func depFeature(id string, prereqIDs ...string) *Feature {
	f := &Feature{ID: id, Version: 1}
	for _, pid := range prereqIDs {
		f.Prerequisites = append(f.Prerequisites, &Prerequisite{FeatureID: pid, VariationID: "variation-A"})
	}
	return f
}

func flagClauseFeature(id string, dependsOn ...string) *Feature {
	f := &Feature{ID: id, Version: 1}
	clauses := make([]*Clause, 0, len(dependsOn))
	for _, dep := range dependsOn {
		clauses = append(clauses, &Clause{
			Attribute: dep,
			Operator:  OperatorFeatureFlag,
			Values:    []string{"variation-A"},
		})
	}
	f.Rules = []*Rule{{ID: "rule-1", Clauses: clauses}}
	return f
}

func featureIDs(fs []*Feature) []string {
	ids := make([]string, 0, len(fs))
	for _, f := range fs {
		ids = append(ids, f.ID)
	}
	return ids
}

func mapIDs(m map[string]*Feature) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	return ids
}

func TestTopologicalSort(t *testing.T) {
	t.Parallel()

	t.Run("Should order dependencies before dependents", func(t *testing.T) {
		fA := depFeature("feature-A", "feature-B")
		fB := depFeature("feature-B", "feature-C")
		fC := depFeature("feature-C")

		sorted, err := TopologicalSort([]*Feature{fA, fB, fC})
		require.NoError(t, err)
		assert.Equal(t, []string{"feature-C", "feature-B", "feature-A"}, featureIDs(sorted))
	})

	t.Run("Should treat FEATURE_FLAG clauses as dependency edges", func(t *testing.T) {
		fA := flagClauseFeature("feature-A", "feature-B")
		fB := depFeature("feature-B")

		sorted, err := TopologicalSort([]*Feature{fA, fB})
		require.NoError(t, err)
		assert.Equal(t, []string{"feature-B", "feature-A"}, featureIDs(sorted))
	})

	t.Run("Should keep independent features in input order", func(t *testing.T) {
		fs := []*Feature{depFeature("feature-1"), depFeature("feature-2"), depFeature("feature-3")}
		sorted, err := TopologicalSort(fs)
		require.NoError(t, err)
		assert.Equal(t, []string{"feature-1", "feature-2", "feature-3"}, featureIDs(sorted))
	})

	t.Run("Should fail on a dependency cycle", func(t *testing.T) {
		fA := depFeature("feature-A", "feature-B")
		fB := depFeature("feature-B", "feature-A")

		_, err := TopologicalSort([]*Feature{fA, fB})
		assert.ErrorIs(t, err, ErrCycleExists)
	})

	t.Run("Should fail on a mixed-edge cycle", func(t *testing.T) {
		fA := depFeature("feature-A", "feature-B")
		fB := flagClauseFeature("feature-B", "feature-A")

		_, err := TopologicalSort([]*Feature{fA, fB})
		assert.ErrorIs(t, err, ErrCycleExists)
	})

	t.Run("Should fail when a dependency is missing from the set", func(t *testing.T) {
		fA := depFeature("feature-A", "feature-B")

		_, err := TopologicalSort([]*Feature{fA})
		assert.ErrorIs(t, err, ErrFeatureNotFound)
	})
}

// Graph under test: E depends on D and C, D depends on B, B and C depend on A.
func closureFixture() map[string]*Feature {
	fA := depFeature("feature-A")
	fB := depFeature("feature-B", "feature-A")
	fC := flagClauseFeature("feature-C", "feature-A")
	fD := depFeature("feature-D", "feature-B")
	fE := depFeature("feature-E", "feature-D")
	fE.Rules = []*Rule{{ID: "rule-1", Clauses: []*Clause{
		{Attribute: "feature-C", Operator: OperatorFeatureFlag, Values: []string{"variation-A"}},
	}}}
	return map[string]*Feature{
		"feature-A": fA, "feature-B": fB, "feature-C": fC, "feature-D": fD, "feature-E": fE,
	}
}

func TestFeaturesDependedOnTargets(t *testing.T) {
	t.Parallel()
	all := closureFixture()

	tests := []struct {
		name    string
		targets []string
		want    []string
	}{
		{
			name:    "Should return only the target when it has no dependencies",
			targets: []string{"feature-A"},
			want:    []string{"feature-A"},
		},
		{
			name:    "Should include direct and transitive dependencies",
			targets: []string{"feature-D"},
			want:    []string{"feature-D", "feature-B", "feature-A"},
		},
		{
			name:    "Should follow both prerequisite and clause edges",
			targets: []string{"feature-E"},
			want:    []string{"feature-E", "feature-D", "feature-B", "feature-C", "feature-A"},
		},
		{
			name:    "Should union closures over multiple targets",
			targets: []string{"feature-B", "feature-C"},
			want:    []string{"feature-B", "feature-C", "feature-A"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			targets := make([]*Feature, 0, len(tt.targets))
			for _, id := range tt.targets {
				targets = append(targets, all[id])
			}
			got := featuresDependedOnTargets(targets, all)
			assert.ElementsMatch(t, tt.want, mapIDs(got))
		})
	}
}

func TestFeaturesDependsOnTargets(t *testing.T) {
	t.Parallel()
	all := closureFixture()

	tests := []struct {
		name    string
		targets []string
		want    []string
	}{
		{
			name:    "Should return only the target when nothing depends on it",
			targets: []string{"feature-E"},
			want:    []string{"feature-E"},
		},
		{
			name:    "Should include direct and transitive dependents",
			targets: []string{"feature-B"},
			want:    []string{"feature-B", "feature-D", "feature-E"},
		},
		{
			name:    "Should follow clause edges upward",
			targets: []string{"feature-C"},
			want:    []string{"feature-C", "feature-E"},
		},
		{
			name:    "Should cover the whole graph from the root",
			targets: []string{"feature-A"},
			want:    []string{"feature-A", "feature-B", "feature-C", "feature-D", "feature-E"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			targets := make([]*Feature, 0, len(tt.targets))
			for _, id := range tt.targets {
				targets = append(targets, all[id])
			}
			got := featuresDependsOnTargets(targets, all)
			assert.ElementsMatch(t, tt.want, mapIDs(got))
		})
	}
}
