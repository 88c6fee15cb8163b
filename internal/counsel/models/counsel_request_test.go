package models_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/models"
	id "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain"
	dErrors "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain-errors"
)

type CounselRequestSuite struct {
	suite.Suite
	now    time.Time
	intake models.Intake
}

func TestCounselRequestSuite(t *testing.T) {
	suite.Run(t, new(CounselRequestSuite))
}

func (s *CounselRequestSuite) SetupTest() {
	s.now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	s.intake = models.Intake{
		ChildID:    id.ChildID(uuid.New()),
		ChildName:  "Kim Minji",
		CenterName: "Haneul Community Center",
		CareType:   "PSYCHOLOGICAL",
		FormData:   json.RawMessage(`{"region":"Seoul Mapo-gu","concern":"anxiety"}`),
	}
}

func (s *CounselRequestSuite) newRequest(status models.Status) models.CounselRequest {
	req, err := models.NewCounselRequest(id.CounselRequestID(uuid.New()), s.intake, s.now)
	s.Require().NoError(err)
	req.Status = status
	if status == models.StatusMatched || status == models.StatusInProgress || status == models.StatusCompleted {
		inst := id.InstitutionID(uuid.New())
		counselor := id.CounselorID(uuid.New())
		req.MatchedInstitutionID = &inst
		req.MatchedCounselorID = &counselor
	}
	return *req
}

func (s *CounselRequestSuite) TestConstructionInvariants() {
	s.Run("builds a pending request with defaults", func() {
		req, err := models.NewCounselRequest(id.CounselRequestID(uuid.New()), s.intake, s.now)
		s.Require().NoError(err)
		s.Equal(models.StatusPending, req.Status)
		s.Equal(models.SourceGuardian, req.Source)
		s.Equal(s.now, req.RequestDate)
		s.Equal(s.now, req.CreatedAt)
		s.Equal(s.now, req.UpdatedAt)
		s.Nil(req.MatchedInstitutionID)
	})

	s.Run("rejects missing child", func() {
		in := s.intake
		in.ChildID = id.ChildID{}
		_, err := models.NewCounselRequest(id.CounselRequestID(uuid.New()), in, s.now)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	s.Run("rejects blank center name", func() {
		in := s.intake
		in.CenterName = "   "
		_, err := models.NewCounselRequest(id.CounselRequestID(uuid.New()), in, s.now)
		s.Require().Error(err)
		s.Contains(err.Error(), "center_name")
	})

	s.Run("rejects blank care type", func() {
		in := s.intake
		in.CareType = ""
		_, err := models.NewCounselRequest(id.CounselRequestID(uuid.New()), in, s.now)
		s.Require().Error(err)
		s.Contains(err.Error(), "care_type")
	})

	s.Run("rejects malformed form data", func() {
		in := s.intake
		in.FormData = json.RawMessage(`{"region":`)
		_, err := models.NewCounselRequest(id.CounselRequestID(uuid.New()), in, s.now)
		s.Require().Error(err)
		s.Contains(err.Error(), "form_data")
	})
}

func (s *CounselRequestSuite) TestCreationEntry() {
	req := s.newRequest(models.StatusPending)
	entry := req.CreationEntry("guardian-1")
	s.True(entry.IsCreation())
	s.Equal(models.StatusPending, entry.ToStatus)
	s.Equal(req.CreatedAt, entry.ChangedAt)
	s.Equal("request submitted via guardian", entry.Reason)
}

func (s *CounselRequestSuite) TestApplyNormal() {
	at := s.now.Add(time.Hour)

	s.Run("select records the match and leaves the receiver untouched", func() {
		req := s.newRequest(models.StatusRecommended)
		inst := id.InstitutionID(uuid.New())

		next, entry, err := req.Apply(models.Transition{
			To:            models.StatusMatched,
			ActorID:       "guardian-1",
			ActorKind:     models.ActorSelfService,
			At:            at,
			InstitutionID: &inst,
		})
		s.Require().NoError(err)
		s.Equal(models.StatusMatched, next.Status)
		s.Equal(inst, *next.MatchedInstitutionID)
		s.Equal(at, next.UpdatedAt)
		s.Equal(models.StatusRecommended, req.Status)
		s.Nil(req.MatchedInstitutionID)

		s.Equal(models.StatusRecommended, entry.FromStatus)
		s.Equal(models.StatusMatched, entry.ToStatus)
		s.Equal("institution selected", entry.Reason)
		s.Equal("guardian-1", entry.ChangedBy)
	})

	s.Run("select without institution is an invalid selection", func() {
		req := s.newRequest(models.StatusRecommended)
		_, _, err := req.Apply(models.Transition{To: models.StatusMatched, ActorKind: models.ActorSelfService, At: at})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidSelection))
	})

	s.Run("start keeps the match", func() {
		req := s.newRequest(models.StatusMatched)
		next, _, err := req.Apply(models.Transition{To: models.StatusInProgress, ActorKind: models.ActorSelfService, At: at})
		s.Require().NoError(err)
		s.Equal(req.MatchedInstitutionID, next.MatchedInstitutionID)
	})

	s.Run("caller reason overrides the default", func() {
		req := s.newRequest(models.StatusInProgress)
		_, entry, err := req.Apply(models.Transition{
			To:        models.StatusRejected,
			ActorKind: models.ActorSelfService,
			Reason:    "family moved away",
			At:        at,
		})
		s.Require().NoError(err)
		s.Equal("family moved away", entry.Reason)
	})

	s.Run("skipping a stage is invalid", func() {
		req := s.newRequest(models.StatusPending)
		next, _, err := req.Apply(models.Transition{To: models.StatusInProgress, ActorKind: models.ActorSelfService, At: at})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
		s.Equal(models.StatusPending, next.Status)
	})
}

func (s *CounselRequestSuite) TestApplyAdmin() {
	at := s.now.Add(2 * time.Hour)
	reason := "rollback for re-review, 30 chars"

	s.Run("rollback from IN_PROGRESS to MATCHED clears the match", func() {
		req := s.newRequest(models.StatusInProgress)
		next, entry, err := req.Apply(models.Transition{
			To:        models.StatusMatched,
			ActorID:   "admin-1",
			ActorKind: models.ActorAdmin,
			Reason:    reason,
			At:        at,
		})
		s.Require().NoError(err)
		s.Equal(models.StatusMatched, next.Status)
		s.Nil(next.MatchedInstitutionID)
		s.Nil(next.MatchedCounselorID)
		s.Equal(models.ActorAdmin, entry.ActorKind)
		s.Equal(reason, entry.Reason)
		s.Equal(models.StatusInProgress, entry.FromStatus)
	})

	s.Run("downgrade below MATCHED clears the match", func() {
		req := s.newRequest(models.StatusMatched)
		next, _, err := req.Apply(models.Transition{To: models.StatusPending, ActorKind: models.ActorAdmin, Reason: reason, At: at})
		s.Require().NoError(err)
		s.False(next.HasMatch())
	})

	s.Run("forcing PENDING to MATCHED leaves no institution pinned", func() {
		req := s.newRequest(models.StatusPending)
		next, entry, err := req.Apply(models.Transition{To: models.StatusMatched, ActorKind: models.ActorAdmin, Reason: reason, At: at})
		s.Require().NoError(err)
		s.Equal(models.StatusMatched, next.Status)
		s.False(next.HasMatch())
		s.Equal(models.StatusPending, entry.FromStatus)
	})

	s.Run("rejecting keeps the match for the record", func() {
		req := s.newRequest(models.StatusInProgress)
		next, _, err := req.Apply(models.Transition{To: models.StatusRejected, ActorKind: models.ActorAdmin, Reason: reason, At: at})
		s.Require().NoError(err)
		s.True(next.HasMatch())
	})

	s.Run("justification is mandatory", func() {
		req := s.newRequest(models.StatusPending)
		_, _, err := req.Apply(models.Transition{To: models.StatusRejected, ActorKind: models.ActorAdmin, Reason: "nope", At: at})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidJustification))
	})

	s.Run("forcing completion is forbidden", func() {
		req := s.newRequest(models.StatusPending)
		_, _, err := req.Apply(models.Transition{To: models.StatusCompleted, ActorKind: models.ActorAdmin, Reason: reason, At: at})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeForbiddenTransition))
	})

	s.Run("table violation wins over a bad justification", func() {
		req := s.newRequest(models.StatusCompleted)
		_, _, err := req.Apply(models.Transition{To: models.StatusPending, ActorKind: models.ActorAdmin, Reason: "", At: at})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeImmutableTerminalState))
	})
}

func (s *CounselRequestSuite) TestCanDelete() {
	for _, st := range models.AllStatuses() {
		req := s.newRequest(st)
		err := req.CanDelete()
		if st == models.StatusPending {
			s.NoError(err)
			continue
		}
		s.True(dErrors.HasCode(err, dErrors.CodeNotDeletable), st.String())
	}
}

func (s *CounselRequestSuite) TestProfile() {
	s.Run("takes location from form data", func() {
		req := s.newRequest(models.StatusPending)
		p := req.Profile()
		s.Equal("Seoul Mapo-gu", p.Location)
		s.Equal("PSYCHOLOGICAL", p.CareType)
	})

	s.Run("prefers address over region", func() {
		in := s.intake
		in.FormData = json.RawMessage(`{"region":"Busan","address":"12 Haeundae-ro"}`)
		req, err := models.NewCounselRequest(id.CounselRequestID(uuid.New()), in, s.now)
		s.Require().NoError(err)
		s.Equal("12 Haeundae-ro", req.Profile().Location)
	})

	s.Run("tolerates non-object form data", func() {
		in := s.intake
		in.FormData = json.RawMessage(`["a","b"]`)
		req, err := models.NewCounselRequest(id.CounselRequestID(uuid.New()), in, s.now)
		s.Require().NoError(err)
		s.Empty(req.Profile().Location)
	})
}

func (s *CounselRequestSuite) TestSelectInstitution() {
	reqID := id.CounselRequestID(uuid.New())
	recs := make([]models.Recommendation, 5)
	for i := range recs {
		recs[i] = models.Recommendation{
			ID:               id.RecommendationID(uuid.New()),
			CounselRequestID: reqID,
			InstitutionID:    id.InstitutionID(uuid.New()),
			Rank:             i + 1,
		}
	}

	s.Run("flags only the chosen row", func() {
		out, err := models.SelectInstitution(recs, recs[2].InstitutionID)
		s.Require().NoError(err)
		for i, rec := range out {
			s.Equal(i == 2, rec.Selected, "rank %d", rec.Rank)
		}
		s.False(recs[2].Selected)
		sel, ok := models.SelectedRecommendation(out)
		s.True(ok)
		s.Equal(3, sel.Rank)
	})

	s.Run("unknown institution is rejected", func() {
		_, err := models.SelectInstitution(recs, id.InstitutionID(uuid.New()))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidSelection))
	})

	s.Run("clear drops every flag", func() {
		out, err := models.SelectInstitution(recs, recs[0].InstitutionID)
		s.Require().NoError(err)
		_, ok := models.SelectedRecommendation(models.ClearSelection(out))
		s.False(ok)
	})
}

func TestIntakeLengthLimits(t *testing.T) {
	in := models.Intake{
		ChildID:    id.ChildID(uuid.New()),
		CenterName: strings.Repeat("c", 201),
		CareType:   "PSYCHOLOGICAL",
	}
	_, err := models.NewCounselRequest(id.CounselRequestID(uuid.New()), in, time.Now())
	if !dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
}
