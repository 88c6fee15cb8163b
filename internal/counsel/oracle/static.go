package oracle

import (
	"context"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/models"
	id "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain"
)

// Static scores a fixed institution catalog deterministically from the
// request profile. It stands in for the real oracle in local runs and tests.
type Static struct {
	institutions []id.InstitutionID
}

// NewStatic creates a static oracle over the given catalog.
func NewStatic(institutions []id.InstitutionID) *Static {
	catalog := make([]id.InstitutionID, len(institutions))
	copy(catalog, institutions)
	return &Static{institutions: catalog}
}

// Score returns one candidate per catalog entry with a score in [50, 100).
func (s *Static) Score(ctx context.Context, profile models.Profile) ([]models.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, newError(ErrorCancelled, "request cancelled", err)
	}
	out := make([]models.Candidate, 0, len(s.institutions))
	for _, inst := range s.institutions {
		sum := blake2b.Sum256([]byte(profile.CounselRequestID.String() + "|" + profile.CareType + "|" + inst.String()))
		score := 50 + float64(binary.BigEndian.Uint16(sum[:2])%5000)/100
		reason := fmt.Sprintf("offers %s care", profile.CareType)
		if profile.Location != "" {
			reason += " near " + profile.Location
		}
		out = append(out, models.Candidate{InstitutionID: inst, Score: score, Reason: reason})
	}
	return out, nil
}
