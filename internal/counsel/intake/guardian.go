package intake

import (
	"context"

	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/models"
	id "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain"
	"github.com/yeirin-dev/yeirin-backend-sub001/pkg/requestcontext"
)

// Creator is the lifecycle entry point both adapters feed.
type Creator interface {
	Create(ctx context.Context, in models.Intake) (*models.CounselRequest, error)
	Get(ctx context.Context, requestID id.CounselRequestID) (*models.CounselRequest, error)
}

// Guardian submits requests on behalf of the authenticated caller.
type Guardian struct {
	creator Creator
}

func NewGuardian(creator Creator) *Guardian {
	return &Guardian{creator: creator}
}

// Submit creates a PENDING request from a validated payload. When the caller
// is a guardian and the payload names no guardian, the caller is recorded.
func (g *Guardian) Submit(ctx context.Context, p *Payload) (*models.CounselRequest, error) {
	userID := requestcontext.UserID(ctx)
	submittedBy := ""
	if !userID.IsNil() {
		submittedBy = userID.String()
	}

	in, err := p.toIntake(models.SourceGuardian, submittedBy)
	if err != nil {
		return nil, err
	}
	if in.GuardianID == nil && !userID.IsNil() && requestcontext.ActorRole(ctx) == requestcontext.RoleGuardian {
		guardianID := id.GuardianID(userID)
		in.GuardianID = &guardianID
	}
	return g.creator.Create(ctx, in)
}
