package evaluation

import (
	"hash/fnv"
	"sort"
	"strconv"
	"time"
)

// UserEvaluationsID fingerprints the inputs an evaluation depends on: the
// user id, the user's attributes, and each feature's id, version and update
// time. Two calls with identical inputs produce the same id, and any change
// to a flag definition or a user attribute produces a different one, which
// is what the incremental planner diffs against. The hash is FNV-1a 64 over
// a canonical byte stream: attribute keys in sorted order, features in
// feature-id order regardless of how the caller assembled the slice.
func UserEvaluationsID(userID string, userData map[string]string, features []*Feature) string {
	keys := make([]string, 0, len(userData))
	for k := range userData {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([]*Feature, len(features))
	copy(ordered, features)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })
	h := fnv.New64a()
	h.Write([]byte(userID))
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte(userData[k]))
	}
	for _, f := range ordered {
		h.Write([]byte(f.ID))
		h.Write([]byte(strconv.FormatInt(int64(f.Version), 10)))
		h.Write([]byte(strconv.FormatInt(f.UpdatedAt, 10)))
	}
	return strconv.FormatUint(h.Sum64(), 10)
}

// NewUserEvaluations assembles the evaluation output, stamping the creation
// time in unix seconds.
func NewUserEvaluations(
	id string,
	evaluations []*Evaluation,
	archivedFeatureIDs []string,
	forceUpdate bool,
) *UserEvaluations {
	return &UserEvaluations{
		ID:                 id,
		Evaluations:        evaluations,
		ArchivedFeatureIDs: archivedFeatureIDs,
		ForceUpdate:        forceUpdate,
		CreatedAt:          time.Now().Unix(),
	}
}
