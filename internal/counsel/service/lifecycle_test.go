package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/models"
	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/oracle"
	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/ranker"
	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/store"
	id "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain"
	dErrors "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain-errors"
	"github.com/yeirin-dev/yeirin-backend-sub001/pkg/requestcontext"
)

// LifecycleSuite drives the service against the in-memory store and the
// static oracle, end to end.
type LifecycleSuite struct {
	suite.Suite
	store   *store.InMemoryStore
	service *Service
	guard   id.UserID
	admin   id.UserID
	now     time.Time
}

func TestLifecycleSuite(t *testing.T) {
	suite.Run(t, new(LifecycleSuite))
}

func (s *LifecycleSuite) SetupTest() {
	institutions := make([]id.InstitutionID, 12)
	for i := range institutions {
		institutions[i] = id.InstitutionID(uuid.New())
	}
	s.store = store.NewInMemoryStore()
	s.service = New(s.store, ranker.New(oracle.NewStatic(institutions)))
	s.guard = id.UserID(uuid.New())
	s.admin = id.UserID(uuid.New())
	s.now = time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
}

func (s *LifecycleSuite) ctxAt(offset time.Duration) context.Context {
	ctx := requestcontext.WithTime(context.Background(), s.now.Add(offset))
	return requestcontext.WithActor(ctx, s.guard, requestcontext.RoleGuardian)
}

func (s *LifecycleSuite) adminCtx(offset time.Duration) context.Context {
	ctx := requestcontext.WithTime(context.Background(), s.now.Add(offset))
	return requestcontext.WithActor(ctx, s.admin, requestcontext.RoleAdmin)
}

func (s *LifecycleSuite) create() *models.CounselRequest {
	guardian := id.GuardianID(s.guard)
	req, err := s.service.Create(s.ctxAt(0), models.Intake{
		ChildID:    id.ChildID(uuid.New()),
		GuardianID: &guardian,
		ChildName:  "Kim Minji",
		CenterName: "Haneul Community Center",
		CareType:   "PSYCHOLOGICAL",
	})
	s.Require().NoError(err)
	s.Require().Equal(models.StatusPending, req.Status)
	return req
}

func (s *LifecycleSuite) recommended() (*models.CounselRequest, []models.Recommendation) {
	req := s.create()
	stored, recs, err := s.service.RequestRecommendation(s.ctxAt(time.Hour), req.ID)
	s.Require().NoError(err)
	return stored, recs
}

func (s *LifecycleSuite) inProgress() (*models.CounselRequest, id.InstitutionID) {
	req, recs := s.recommended()
	chosen := recs[0].InstitutionID
	_, err := s.service.SelectInstitution(s.ctxAt(2*time.Hour), req.ID, chosen, nil)
	s.Require().NoError(err)
	started, err := s.service.Start(s.ctxAt(3*time.Hour), req.ID)
	s.Require().NoError(err)
	return started, chosen
}

func (s *LifecycleSuite) TestRecommendThenSelectThirdRank() {
	req, recs := s.recommended()
	s.Require().Len(recs, 5)
	for i, rec := range recs {
		s.Equal(i+1, rec.Rank)
		s.False(rec.Selected)
		if i > 0 {
			s.GreaterOrEqual(recs[i-1].Score, rec.Score)
		}
	}

	third := recs[2].InstitutionID
	matched, err := s.service.SelectInstitution(s.ctxAt(2*time.Hour), req.ID, third, nil)
	s.Require().NoError(err)
	s.Equal(models.StatusMatched, matched.Status)
	s.Require().NotNil(matched.MatchedInstitutionID)
	s.Equal(third, *matched.MatchedInstitutionID)

	stored, err := s.service.Recommendations(s.ctxAt(2*time.Hour), req.ID)
	s.Require().NoError(err)
	for _, rec := range stored {
		s.Equal(rec.InstitutionID == third, rec.Selected, "rank %d", rec.Rank)
	}

	history, err := s.service.History(s.ctxAt(2*time.Hour), req.ID)
	s.Require().NoError(err)
	s.Require().Len(history, 3)
	s.Equal(s.guard.String(), history[2].ChangedBy)
	s.Equal(s.now.Add(2*time.Hour), history[2].ChangedAt)
}

func (s *LifecycleSuite) TestSelectOutsideRecommendationsFails() {
	req, _ := s.recommended()
	_, err := s.service.SelectInstitution(s.ctxAt(2*time.Hour), req.ID, id.InstitutionID(uuid.New()), nil)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidSelection))

	current, err := s.service.Get(s.ctxAt(0), req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusRecommended, current.Status)
}

func (s *LifecycleSuite) TestAdminRollbackClearsMatch() {
	req, chosen := s.inProgress()

	res, err := s.service.ForceStatus(s.adminCtx(4*time.Hour), req.ID, models.StatusMatched,
		"rollback for re-review, 30 chars", s.admin)
	s.Require().NoError(err)
	s.Equal(models.StatusInProgress, res.PreviousStatus)
	s.Equal(models.StatusMatched, res.NewStatus)
	s.Nil(res.Request.MatchedInstitutionID)

	recs, err := s.service.Recommendations(s.ctxAt(0), req.ID)
	s.Require().NoError(err)
	for _, rec := range recs {
		s.False(rec.Selected, "institution %s still selected (chosen %s)", rec.InstitutionID, chosen)
	}

	history, err := s.service.History(s.ctxAt(0), req.ID)
	s.Require().NoError(err)
	last := history[len(history)-1]
	s.Equal(models.ActorAdmin, last.ActorKind)
	s.Equal(s.admin.String(), last.ChangedBy)
	s.Equal("rollback for re-review, 30 chars", last.Reason)
}

func (s *LifecycleSuite) TestAdminCannotForceCompletion() {
	req := s.create()

	_, err := s.service.ForceStatus(s.adminCtx(time.Hour), req.ID, models.StatusCompleted,
		"closing this out administratively", s.admin)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeForbiddenTransition))

	current, err := s.service.Get(s.ctxAt(0), req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusPending, current.Status)
	s.Equal(int64(1), current.Version)
}

func (s *LifecycleSuite) TestConcurrentSelectionHasOneWinner() {
	req, recs := s.recommended()
	choices := []id.InstitutionID{recs[0].InstitutionID, recs[1].InstitutionID}

	var wg sync.WaitGroup
	results := make([]error, len(choices))
	for i, inst := range choices {
		wg.Add(1)
		go func(i int, inst id.InstitutionID) {
			defer wg.Done()
			_, results[i] = s.service.SelectInstitution(s.ctxAt(2*time.Hour), req.ID, inst, nil)
		}(i, inst)
	}
	wg.Wait()

	wins := 0
	var winner id.InstitutionID
	for i, err := range results {
		if err == nil {
			wins++
			winner = choices[i]
			continue
		}
		s.True(dErrors.HasCode(err, dErrors.CodeConcurrentModification) ||
			dErrors.HasCode(err, dErrors.CodeInvalidTransition), "unexpected error %v", err)
	}
	s.Require().Equal(1, wins)

	current, err := s.service.Get(s.ctxAt(0), req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusMatched, current.Status)
	s.Equal(winner, *current.MatchedInstitutionID)

	stored, err := s.service.Recommendations(s.ctxAt(0), req.ID)
	s.Require().NoError(err)
	selected := 0
	for _, rec := range stored {
		if rec.Selected {
			selected++
			s.Equal(winner, rec.InstitutionID)
		}
	}
	s.Equal(1, selected)
}

func (s *LifecycleSuite) TestOnlyOwningGuardianMutates() {
	req, recs := s.recommended()
	ctx := requestcontext.WithTime(context.Background(), s.now.Add(2*time.Hour))
	stranger := requestcontext.WithActor(ctx, id.UserID(uuid.New()), requestcontext.RoleGuardian)

	_, err := s.service.SelectInstitution(stranger, req.ID, recs[0].InstitutionID, nil)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden), "select: %v", err)

	_, err = s.service.Cancel(stranger, req.ID, "not my request")
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden), "cancel: %v", err)

	pending := s.create()
	err = s.service.Delete(stranger, pending.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden), "delete: %v", err)

	current, err := s.service.Get(s.ctxAt(0), req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusRecommended, current.Status)

	cancelled, err := s.service.Cancel(s.adminCtx(3*time.Hour), req.ID, "duplicate intake")
	s.Require().NoError(err)
	s.Equal(models.StatusRejected, cancelled.Status)
}

func (s *LifecycleSuite) TestCompleteAndImmutability() {
	req, _ := s.inProgress()
	done, err := s.service.Complete(s.ctxAt(4*time.Hour), req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, done.Status)

	_, err = s.service.Cancel(s.ctxAt(5*time.Hour), req.ID, "")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))

	_, err = s.service.ForceStatus(s.adminCtx(5*time.Hour), req.ID, models.StatusPending, "family asked to restart matching", s.admin)
	s.True(dErrors.HasCode(err, dErrors.CodeImmutableTerminalState))
}

func (s *LifecycleSuite) TestRematchAfterRollbackToPending() {
	req, _ := s.recommended()

	_, err := s.service.ForceStatus(s.adminCtx(2*time.Hour), req.ID, models.StatusPending,
		"new assessment received from school", s.admin)
	s.Require().NoError(err)

	again, recs, err := s.service.RequestRecommendation(s.ctxAt(3*time.Hour), req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusRecommended, again.Status)

	stored, err := s.service.Recommendations(s.ctxAt(0), req.ID)
	s.Require().NoError(err)
	s.Len(stored, len(recs))
}

func (s *LifecycleSuite) TestDeleteKeepsHistory() {
	req := s.create()
	s.Require().NoError(s.service.Delete(s.ctxAt(time.Hour), req.ID))

	_, err := s.service.Get(s.ctxAt(0), req.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	history, err := s.service.History(s.ctxAt(0), req.ID)
	s.Require().NoError(err)
	s.Len(history, 1)
}

func (s *LifecycleSuite) TestStatisticsOverLifecycle() {
	s.inProgress()
	s.recommended()
	s.create()

	stats, err := s.service.Statistics(s.ctxAt(0), models.DateRange{})
	s.Require().NoError(err)
	s.Equal(3, stats.Total)
	s.Equal(1, stats.StatusDistribution[models.StatusInProgress])
	s.Equal(1, stats.StatusDistribution[models.StatusRecommended])
	s.Equal(1, stats.StatusDistribution[models.StatusPending])
	s.Equal(0, stats.StatusDistribution[models.StatusCompleted])

	s.Require().Len(stats.Funnel, 5)
	s.Equal(3, stats.Funnel[0].Count)
	s.Equal(2, stats.Funnel[1].Count)
	s.Equal(66.7, stats.Funnel[1].ConversionRate)
	s.Equal(1, stats.MatchingSampleSize)
	s.Equal(2.0, stats.AverageMatchingHours)
}
