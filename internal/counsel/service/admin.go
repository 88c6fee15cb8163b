package service

import (
	"context"

	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/models"
	id "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain"
	dErrors "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain-errors"
	"github.com/yeirin-dev/yeirin-backend-sub001/pkg/platform/validation"
	"github.com/yeirin-dev/yeirin-backend-sub001/pkg/requestcontext"
)

// ForceResult reports the outcome of an admin override.
type ForceResult struct {
	PreviousStatus models.Status
	NewStatus      models.Status
	Request        *models.CounselRequest
}

// ForceStatus applies the admin override table. It never calls the ranker;
// the only recommendation rows it touches are selection flags, which are
// cleared when the override drops the match.
func (s *Service) ForceStatus(
	ctx context.Context,
	requestID id.CounselRequestID,
	newStatus models.Status,
	reason string,
	adminID id.UserID,
) (*ForceResult, error) {
	if adminID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "admin identity is required")
	}

	stored, entry, err := s.commitTransition(ctx, requestID, func(ctx context.Context, current models.CounselRequest) (models.Change, error) {
		next, entry, err := current.Apply(models.Transition{
			To:        newStatus,
			ActorID:   adminID.String(),
			ActorKind: models.ActorAdmin,
			Reason:    reason,
			At:        requestcontext.Now(ctx),
		})
		if err != nil {
			return models.Change{}, err
		}

		change := models.Change{Request: next, History: entry}
		if !next.HasMatch() {
			recs, err := s.store.ListRecommendations(ctx, current.ID)
			if err != nil {
				return models.Change{}, wrapStoreErr(err, "failed to load recommendations")
			}
			if _, selected := models.SelectedRecommendation(recs); selected {
				change.Recommendations = models.ClearSelection(recs)
			}
		}
		return change, nil
	})
	if err != nil {
		return nil, err
	}
	return &ForceResult{PreviousStatus: entry.FromStatus, NewStatus: entry.ToStatus, Request: stored}, nil
}

// History returns every status change of a request in the order it happened.
// History outlives deletion, so a deleted request still reports its entries.
func (s *Service) History(ctx context.Context, requestID id.CounselRequestID) ([]models.StatusHistoryEntry, error) {
	entries, err := s.store.ListHistory(ctx, requestID)
	if err != nil {
		return nil, wrapStoreErr(err, "failed to load status history")
	}
	if len(entries) == 0 {
		if _, err := s.load(ctx, requestID); err != nil {
			return nil, err
		}
		return []models.StatusHistoryEntry{}, nil
	}
	return entries, nil
}

// List returns one page of requests for the admin listing.
func (s *Service) List(ctx context.Context, filter models.ListFilter) (models.ListResult, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = validation.DefaultPageSize
	}
	if filter.Limit > validation.MaxPageSize {
		filter.Limit = validation.MaxPageSize
	}
	// Keeps (Page-1)*Limit far from overflow.
	if filter.Page > validation.MaxPage {
		filter.Page = validation.MaxPage
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return models.ListResult{}, dErrors.New(dErrors.CodeValidation, "from must not be after to")
	}

	result, err := s.store.List(ctx, filter)
	if err != nil {
		return models.ListResult{}, wrapStoreErr(err, "failed to list counsel requests")
	}
	return result, nil
}
