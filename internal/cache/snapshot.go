package cache

import (
	"github.com/nornlabs/norn/internal/evaluation"
)

// Snapshot is the unit of propagation between the control plane and the
// data plane: the complete set of feature definitions and segment
// memberships, stamped with a monotonically increasing version.
//
// The syncer builds snapshots from PostgreSQL and publishes them to Redis;
// data plane replicas evaluate exclusively against snapshots so a database
// outage never takes the read path down.
type Snapshot struct {
	Version  int64                                `json:"version"`
	SyncedAt int64                                `json:"synced_at"`
	Features []*evaluation.Feature                `json:"features"`
	Segments map[string][]*evaluation.SegmentUser `json:"segments,omitempty"`
}

// Feature returns the feature with the given ID, or nil.
func (s *Snapshot) Feature(id string) *evaluation.Feature {
	for _, f := range s.Features {
		if f.ID == id {
			return f
		}
	}
	return nil
}
