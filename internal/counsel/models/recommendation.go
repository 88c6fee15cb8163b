package models

import (
	"time"

	id "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain"
	dErrors "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain-errors"
)

// Recommendation is one ranked institution candidate for a request.
//
// Invariants:
//   - Rank values of one recommendation set form 1..N ordered by Score desc,
//     ties broken by InstitutionID ascending
//   - at most one row per request has Selected == true, and only once the
//     request has reached MATCHED
//   - rows are written once per recommendation cycle; only Selected changes
type Recommendation struct {
	ID               id.RecommendationID `json:"id"`
	CounselRequestID id.CounselRequestID `json:"counsel_request_id"`
	InstitutionID    id.InstitutionID    `json:"institution_id"`
	Score            float64             `json:"score"`
	Reason           string              `json:"reason"`
	Rank             int                 `json:"rank"`
	Selected         bool                `json:"selected"`
	IsHighScore      bool                `json:"is_high_score"`
	CreatedAt        time.Time           `json:"created_at"`
}

// Candidate is one entry of the scoring oracle's response.
type Candidate struct {
	InstitutionID id.InstitutionID
	Score         float64
	Reason        string
}

// SelectInstitution returns a copy of recs with Selected set only on the row
// for institutionID. It fails with CodeInvalidSelection when the institution
// is not among this request's recommendations.
func SelectInstitution(recs []Recommendation, institutionID id.InstitutionID) ([]Recommendation, error) {
	found := false
	out := make([]Recommendation, len(recs))
	for i, rec := range recs {
		rec.Selected = rec.InstitutionID == institutionID
		if rec.Selected {
			found = true
		}
		out[i] = rec
	}
	if !found {
		return nil, dErrors.New(dErrors.CodeInvalidSelection,
			"institution is not among this request's recommendations")
	}
	return out, nil
}

// ClearSelection returns a copy of recs with no row selected.
func ClearSelection(recs []Recommendation) []Recommendation {
	out := make([]Recommendation, len(recs))
	for i, rec := range recs {
		rec.Selected = false
		out[i] = rec
	}
	return out
}

// SelectedRecommendation returns the selected row, if any.
func SelectedRecommendation(recs []Recommendation) (Recommendation, bool) {
	for _, rec := range recs {
		if rec.Selected {
			return rec, true
		}
	}
	return Recommendation{}, false
}
