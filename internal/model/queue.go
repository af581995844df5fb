package model

import "time"

// OrderingMode selects how people and companies interleave in the queue.
type OrderingMode string

const (
	// OrderMerged interleaves people and companies by score.
	OrderMerged OrderingMode = "merged"
	// OrderPeopleFirst lists every person before any company.
	OrderPeopleFirst OrderingMode = "people_first"
)

// RankedQueueEntry is one slot in the speedrun queue.
type RankedQueueEntry struct {
	GlobalRank int        `json:"global_rank"`
	Kind       EntityKind `json:"entity_kind"`
	EntityID   string     `json:"entity_id"`
	CompanyID  string     `json:"company_id,omitempty"`
	Score      float64    `json:"score"`
}

// RankedQueue is the published queue for one workspace. It is immutable once
// built and replaced wholesale by the next rebuild.
type RankedQueue struct {
	ID          string             `json:"id"`
	WorkspaceID string             `json:"workspace_id"`
	Generation  int64              `json:"generation"`
	Mode        OrderingMode       `json:"ordering_mode"`
	Eligible    int                `json:"eligible"`
	Entries     []RankedQueueEntry `json:"entries"`
	SnapshotAt  time.Time          `json:"snapshot_at"`
	BuiltAt     time.Time          `json:"built_at"`
}

// Page returns entries in [offset, offset+limit). A non-positive limit
// returns everything after offset.
func (q *RankedQueue) Page(offset, limit int) []RankedQueueEntry {
	if q == nil || offset >= len(q.Entries) {
		return []RankedQueueEntry{}
	}
	if offset < 0 {
		offset = 0
	}
	end := len(q.Entries)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return q.Entries[offset:end]
}

// Snapshot is a point-in-time read of one workspace's entities. Rebuilds take
// it as explicit input and never consult ambient state.
type Snapshot struct {
	WorkspaceID string                 `json:"workspace_id"`
	TakenAt     time.Time              `json:"taken_at"`
	Companies   []Company              `json:"companies"`
	People      []Person               `json:"people"`
	BuyerGroups map[string]*BuyerGroup `json:"buyer_groups,omitempty"`
}
