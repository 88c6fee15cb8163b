package models

import (
	"time"

	id "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain"
)

// StatusHistoryEntry is an append-only record of one status change, normal or
// admin-forced. FromStatus is empty on the creation entry.
type StatusHistoryEntry struct {
	ID               id.HistoryEntryID   `json:"id"`
	CounselRequestID id.CounselRequestID `json:"counsel_request_id"`
	FromStatus       Status              `json:"from_status,omitempty"`
	ToStatus         Status              `json:"to_status"`
	Reason           string              `json:"reason"`
	ChangedBy        string              `json:"changed_by"`
	ActorKind        ActorKind           `json:"actor_kind"`
	ChangedAt        time.Time           `json:"changed_at"`
}

// IsCreation reports whether the entry records request creation.
func (e StatusHistoryEntry) IsCreation() bool {
	return e.FromStatus == ""
}

// Change is one serialized write against a request: the next snapshot, the
// version it was derived from, the history entry, and any recommendation rows
// to store with it. Stores apply a Change atomically or not at all.
type Change struct {
	Request         CounselRequest
	ExpectedVersion int64
	History         StatusHistoryEntry

	// ReplaceRecommendations, when true, swaps the request's recommendation
	// set for Recommendations. Otherwise Recommendations (if non-nil) carries
	// updated Selected flags for existing rows.
	ReplaceRecommendations bool
	Recommendations        []Recommendation
}
