package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/models"
	id "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain"
	dErrors "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain-errors"
	"github.com/yeirin-dev/yeirin-backend-sub001/pkg/platform/sentinel"
	"github.com/yeirin-dev/yeirin-backend-sub001/pkg/requestcontext"
)

// Create builds a PENDING request from normalised intake and stores it with
// its creation history entry.
func (s *Service) Create(ctx context.Context, in models.Intake) (*models.CounselRequest, error) {
	req, err := models.NewCounselRequest(id.CounselRequestID(uuid.New()), in, requestcontext.Now(ctx))
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
		}
		return nil, err
	}

	submittedBy := in.SubmittedBy
	if submittedBy == "" {
		submittedBy = actorID(ctx)
	}
	entry := req.CreationEntry(submittedBy)

	stored, err := s.store.Create(ctx, *req, entry)
	if err != nil {
		return nil, wrapStoreErr(err, "failed to create counsel request")
	}

	s.logAudit(ctx, "counsel_request_created",
		"counsel_request_id", stored.ID.String(),
		"source", stored.Source,
		"actor_id", submittedBy,
	)
	if s.metrics != nil {
		s.metrics.IncrementCreated(sourceLabel(stored.Source))
	}
	s.publish(ctx, entry)
	return stored, nil
}

// Get returns the current snapshot of a request.
func (s *Service) Get(ctx context.Context, requestID id.CounselRequestID) (*models.CounselRequest, error) {
	return s.load(ctx, requestID)
}

// Recommendations returns the request's recommendation set ordered by rank.
func (s *Service) Recommendations(ctx context.Context, requestID id.CounselRequestID) ([]models.Recommendation, error) {
	if _, err := s.load(ctx, requestID); err != nil {
		return nil, err
	}
	recs, err := s.store.ListRecommendations(ctx, requestID)
	if err != nil {
		return nil, wrapStoreErr(err, "failed to load recommendations")
	}
	return recs, nil
}

// RequestRecommendation scores a PENDING request and moves it to RECOMMENDED.
//
// The oracle is called before any write and outside any lock. Only when it
// answers with at least one usable candidate is the ranked set committed,
// together with the status change, in one versioned write. On failure the
// request stays PENDING with no recommendation rows. A retry after a version
// conflict reuses the ranked set instead of calling the oracle again.
func (s *Service) RequestRecommendation(ctx context.Context, requestID id.CounselRequestID) (*models.CounselRequest, []models.Recommendation, error) {
	var ranked []models.Recommendation

	stored, _, err := s.commitTransition(ctx, requestID, func(ctx context.Context, current models.CounselRequest) (models.Change, error) {
		if err := checkOwner(ctx, current); err != nil {
			return models.Change{}, err
		}
		if err := models.CheckTransition(current.Status, models.StatusRecommended, models.ActorSelfService); err != nil {
			return models.Change{}, err
		}
		if ranked == nil {
			recs, err := s.recommender.Recommend(ctx, current)
			if err != nil {
				return models.Change{}, err
			}
			ranked = recs
		}

		next, entry, err := current.Apply(models.Transition{
			To:        models.StatusRecommended,
			ActorID:   actorID(ctx),
			ActorKind: models.ActorSelfService,
			At:        requestcontext.Now(ctx),
		})
		if err != nil {
			return models.Change{}, err
		}
		return models.Change{
			Request:                next,
			History:                entry,
			ReplaceRecommendations: true,
			Recommendations:        ranked,
		}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return stored, ranked, nil
}

// SelectInstitution moves a RECOMMENDED request to MATCHED with one of its
// own recommended institutions, flagging that recommendation as selected.
func (s *Service) SelectInstitution(
	ctx context.Context,
	requestID id.CounselRequestID,
	institutionID id.InstitutionID,
	counselorID *id.CounselorID,
) (*models.CounselRequest, error) {
	stored, _, err := s.commitTransition(ctx, requestID, func(ctx context.Context, current models.CounselRequest) (models.Change, error) {
		if err := checkOwner(ctx, current); err != nil {
			return models.Change{}, err
		}
		if err := models.CheckTransition(current.Status, models.StatusMatched, models.ActorSelfService); err != nil {
			return models.Change{}, err
		}
		recs, err := s.store.ListRecommendations(ctx, current.ID)
		if err != nil {
			return models.Change{}, wrapStoreErr(err, "failed to load recommendations")
		}
		flagged, err := models.SelectInstitution(recs, institutionID)
		if err != nil {
			return models.Change{}, err
		}

		next, entry, err := current.Apply(models.Transition{
			To:            models.StatusMatched,
			ActorID:       actorID(ctx),
			ActorKind:     models.ActorSelfService,
			At:            requestcontext.Now(ctx),
			InstitutionID: &institutionID,
			CounselorID:   counselorID,
		})
		if err != nil {
			return models.Change{}, err
		}
		return models.Change{Request: next, History: entry, Recommendations: flagged}, nil
	})
	return stored, err
}

// Start moves a MATCHED request to IN_PROGRESS.
func (s *Service) Start(ctx context.Context, requestID id.CounselRequestID) (*models.CounselRequest, error) {
	return s.advance(ctx, requestID, models.StatusInProgress, "")
}

// Complete moves an IN_PROGRESS request to COMPLETED. It is the only way a
// request reaches COMPLETED.
func (s *Service) Complete(ctx context.Context, requestID id.CounselRequestID) (*models.CounselRequest, error) {
	return s.advance(ctx, requestID, models.StatusCompleted, "")
}

// Cancel lets the owning party reject a request that is not yet terminal.
func (s *Service) Cancel(ctx context.Context, requestID id.CounselRequestID, reason string) (*models.CounselRequest, error) {
	return s.advance(ctx, requestID, models.StatusRejected, reason)
}

func (s *Service) advance(ctx context.Context, requestID id.CounselRequestID, to models.Status, reason string) (*models.CounselRequest, error) {
	stored, _, err := s.commitTransition(ctx, requestID, func(ctx context.Context, current models.CounselRequest) (models.Change, error) {
		if err := checkOwner(ctx, current); err != nil {
			return models.Change{}, err
		}
		next, entry, err := current.Apply(models.Transition{
			To:        to,
			ActorID:   actorID(ctx),
			ActorKind: models.ActorSelfService,
			Reason:    reason,
			At:        requestcontext.Now(ctx),
		})
		if err != nil {
			return models.Change{}, err
		}
		return models.Change{Request: next, History: entry}, nil
	})
	return stored, err
}

// Delete physically removes a PENDING request. Any other status fails with
// CodeNotDeletable.
func (s *Service) Delete(ctx context.Context, requestID id.CounselRequestID) error {
	for attempt := 1; ; attempt++ {
		current, err := s.load(ctx, requestID)
		if err != nil {
			return err
		}
		if err := checkOwner(ctx, *current); err != nil {
			return err
		}
		if err := current.CanDelete(); err != nil {
			s.countRejected(err)
			return err
		}

		err = s.store.Delete(ctx, requestID, current.Version)
		if err == nil {
			s.logAudit(ctx, "counsel_request_deleted",
				"counsel_request_id", requestID.String(),
				"actor_id", actorID(ctx),
				"deleted_at", requestcontext.Now(ctx).Format(time.RFC3339),
			)
			return nil
		}
		if errors.Is(err, sentinel.ErrConflict) && attempt < maxAttempts {
			s.countConflict("retried")
			continue
		}
		if errors.Is(err, sentinel.ErrConflict) {
			s.countConflict("surfaced")
		}
		return wrapStoreErr(err, "failed to delete counsel request")
	}
}
