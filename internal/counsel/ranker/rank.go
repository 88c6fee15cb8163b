package ranker

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/models"
	id "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain"
	dErrors "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain-errors"
)

// Rank turns oracle candidates into a recommendation set.
//
// Candidates with a non-finite score or a nil institution id are dropped, and
// duplicate institutions keep their best-scoring entry. The survivors are
// ordered by score descending with ties broken by institution id ascending,
// truncated to limit (when limit > 0) and ranked 1..N. An empty result fails
// with CodeInsufficientInformation.
func Rank(
	requestID id.CounselRequestID,
	candidates []models.Candidate,
	limit int,
	highScoreThreshold float64,
	now time.Time,
) ([]models.Recommendation, error) {
	best := make(map[id.InstitutionID]models.Candidate, len(candidates))
	for _, c := range candidates {
		if c.InstitutionID.IsNil() || math.IsNaN(c.Score) || math.IsInf(c.Score, 0) {
			continue
		}
		if prev, ok := best[c.InstitutionID]; ok && prev.Score >= c.Score {
			continue
		}
		best[c.InstitutionID] = c
	}
	if len(best) == 0 {
		return nil, dErrors.New(dErrors.CodeInsufficientInformation,
			"no institutions could be recommended for this request")
	}

	ordered := make([]models.Candidate, 0, len(best))
	for _, c := range best {
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Score != ordered[j].Score {
			return ordered[i].Score > ordered[j].Score
		}
		return ordered[i].InstitutionID.Compare(ordered[j].InstitutionID) < 0
	})
	if limit > 0 && len(ordered) > limit {
		ordered = ordered[:limit]
	}

	recs := make([]models.Recommendation, len(ordered))
	for i, c := range ordered {
		recs[i] = models.Recommendation{
			ID:               id.RecommendationID(uuid.New()),
			CounselRequestID: requestID,
			InstitutionID:    c.InstitutionID,
			Score:            c.Score,
			Reason:           strings.TrimSpace(c.Reason),
			Rank:             i + 1,
			IsHighScore:      c.Score >= highScoreThreshold,
			CreatedAt:        now,
		}
	}
	return recs, nil
}
