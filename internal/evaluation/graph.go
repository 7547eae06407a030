package evaluation

// Dependency graph utilities. A feature depends on another when it lists it
// as a prerequisite or references it through a FEATURE_FLAG clause; both
// edge kinds are produced by featureDependencyIDs.

type dfsMark int

const (
	markUnvisited dfsMark = iota
	markTemporary
	markPermanently
)

// TopologicalSort orders features so that every feature appears after all
// features it depends on. Dependencies outside the given set yield
// ErrFeatureNotFound; a dependency cycle yields ErrCycleExists.
func TopologicalSort(features []*Feature) ([]*Feature, error) {
	marks := make(map[string]dfsMark, len(features))
	byID := make(map[string]*Feature, len(features))
	for _, f := range features {
		byID[f.ID] = f
	}
	sorted := make([]*Feature, 0, len(features))
	var visit func(f *Feature) error
	visit = func(f *Feature) error {
		switch marks[f.ID] {
		case markPermanently:
			return nil
		case markTemporary:
			return ErrCycleExists
		}
		marks[f.ID] = markTemporary
		for _, id := range featureDependencyIDs(f) {
			dep, ok := byID[id]
			if !ok {
				return ErrFeatureNotFound
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		marks[f.ID] = markPermanently
		sorted = append(sorted, f)
		return nil
	}
	for _, f := range features {
		if err := visit(f); err != nil {
			return nil, err
		}
	}
	return sorted, nil
}

// featuresDependedOnTargets collects the targets plus every feature they
// depend on, directly or transitively (the ancestors closure). Evaluating
// exactly this set is sufficient to decide every target.
func featuresDependedOnTargets(targets []*Feature, all map[string]*Feature) map[string]*Feature {
	evals := make(map[string]*Feature, len(targets))
	var visit func(f *Feature)
	visit = func(f *Feature) {
		if _, ok := evals[f.ID]; ok {
			return
		}
		evals[f.ID] = f
		for _, id := range featureDependencyIDs(f) {
			if dep, ok := all[id]; ok {
				visit(dep)
			}
		}
	}
	for _, f := range targets {
		visit(f)
	}
	return evals
}

// featuresDependsOnTargets collects the targets plus every feature that
// depends on them, directly or transitively (the descendants closure). It
// walks a reverse-adjacency index built in one pass over the set, so the
// cost is proportional to the graph rather than to targets x features.
func featuresDependsOnTargets(targets []*Feature, all map[string]*Feature) map[string]*Feature {
	dependents := make(map[string][]*Feature, len(all))
	for _, f := range all {
		for _, id := range featureDependencyIDs(f) {
			dependents[id] = append(dependents[id], f)
		}
	}
	evals := make(map[string]*Feature, len(targets))
	var visit func(f *Feature)
	visit = func(f *Feature) {
		if _, ok := evals[f.ID]; ok {
			return
		}
		evals[f.ID] = f
		for _, dep := range dependents[f.ID] {
			visit(dep)
		}
	}
	for _, f := range targets {
		visit(f)
	}
	return evals
}
