package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/metrics"
	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/models"
	id "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain"
	dErrors "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain-errors"
	"github.com/yeirin-dev/yeirin-backend-sub001/pkg/platform/sentinel"
	"github.com/yeirin-dev/yeirin-backend-sub001/pkg/requestcontext"
)

// Store persists the counsel aggregate. Commit and Delete compare the stored
// version and return sentinel.ErrConflict when it moved.
type Store interface {
	Create(ctx context.Context, req models.CounselRequest, entry models.StatusHistoryEntry) (*models.CounselRequest, error)
	FindByID(ctx context.Context, requestID id.CounselRequestID) (*models.CounselRequest, error)
	Commit(ctx context.Context, change models.Change) (*models.CounselRequest, error)
	Delete(ctx context.Context, requestID id.CounselRequestID, expectedVersion int64) error
	ListRecommendations(ctx context.Context, requestID id.CounselRequestID) ([]models.Recommendation, error)
	ListHistory(ctx context.Context, requestID id.CounselRequestID) ([]models.StatusHistoryEntry, error)
	List(ctx context.Context, filter models.ListFilter) (models.ListResult, error)
	RequestsCreatedIn(ctx context.Context, rng models.DateRange) ([]models.CounselRequest, error)
	HistoryForRequestsCreatedIn(ctx context.Context, rng models.DateRange) ([]models.StatusHistoryEntry, error)
}

// Recommender produces a ranked recommendation set without writing it.
type Recommender interface {
	Recommend(ctx context.Context, req models.CounselRequest) ([]models.Recommendation, error)
}

// EventPublisher announces committed status changes. Delivery is best effort.
type EventPublisher interface {
	PublishStatusChange(ctx context.Context, entry models.StatusHistoryEntry) error
}

// maxAttempts bounds the load-apply-commit cycle: one try plus one retry
// against freshly loaded state after a version conflict.
const maxAttempts = 2

// Service is the counsel lifecycle: self-service transitions, admin
// overrides and read models. Every write goes through the status table in
// models and commits with an optimistic version check.
type Service struct {
	store       Store
	recommender Recommender
	publisher   EventPublisher
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithEventPublisher(p EventPublisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// New constructs a Service.
func New(store Store, recommender Recommender, opts ...Option) *Service {
	s := &Service{store: store, recommender: recommender}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// buildFunc derives a change from a freshly loaded snapshot. Returning an
// error aborts the operation without writing.
type buildFunc func(ctx context.Context, current models.CounselRequest) (models.Change, error)

// commitTransition runs load, build and commit, retrying once on a version
// conflict. Domain errors from build surface immediately.
func (s *Service) commitTransition(ctx context.Context, requestID id.CounselRequestID, build buildFunc) (*models.CounselRequest, models.StatusHistoryEntry, error) {
	for attempt := 1; ; attempt++ {
		current, err := s.load(ctx, requestID)
		if err != nil {
			return nil, models.StatusHistoryEntry{}, err
		}

		change, err := build(ctx, *current)
		if err != nil {
			s.countRejected(err)
			return nil, models.StatusHistoryEntry{}, err
		}
		change.ExpectedVersion = current.Version

		stored, err := s.store.Commit(ctx, change)
		if err == nil {
			s.afterCommit(ctx, change.History)
			return stored, change.History, nil
		}
		if errors.Is(err, sentinel.ErrConflict) {
			if attempt < maxAttempts {
				s.countConflict("retried")
				continue
			}
			s.countConflict("surfaced")
			return nil, models.StatusHistoryEntry{}, dErrors.New(dErrors.CodeConcurrentModification,
				"request was modified concurrently, reload and try again")
		}
		return nil, models.StatusHistoryEntry{}, wrapStoreErr(err, "failed to save counsel request")
	}
}

func (s *Service) load(ctx context.Context, requestID id.CounselRequestID) (*models.CounselRequest, error) {
	req, err := s.store.FindByID(ctx, requestID)
	if err != nil {
		return nil, wrapStoreErr(err, "failed to load counsel request")
	}
	return req, nil
}

// afterCommit records a committed transition. Nothing here may fail the
// operation: the write has already happened.
func (s *Service) afterCommit(ctx context.Context, entry models.StatusHistoryEntry) {
	event := "counsel_status_changed"
	if entry.ActorKind == models.ActorAdmin {
		event = "counsel_status_forced"
	}
	s.logAudit(ctx, event,
		"counsel_request_id", entry.CounselRequestID.String(),
		"from_status", string(entry.FromStatus),
		"to_status", string(entry.ToStatus),
		"actor_id", entry.ChangedBy,
		"actor_kind", string(entry.ActorKind),
		"reason", entry.Reason,
	)
	if s.metrics != nil {
		s.metrics.IncrementTransition(string(entry.FromStatus), string(entry.ToStatus), string(entry.ActorKind))
		if entry.ActorKind == models.ActorAdmin {
			s.metrics.IncrementAdminOverride(string(entry.ToStatus))
		}
	}
	s.publish(ctx, entry)
}

func (s *Service) publish(ctx context.Context, entry models.StatusHistoryEntry) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishStatusChange(ctx, entry); err != nil {
		if s.metrics != nil {
			s.metrics.IncrementPublishFailure()
		}
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to publish status change",
				"counsel_request_id", entry.CounselRequestID.String(),
				"to_status", string(entry.ToStatus),
				"error", err,
			)
		}
	}
}

func (s *Service) logAudit(ctx context.Context, event string, attributes ...any) {
	if s.logger == nil {
		return
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	if device := requestcontext.Device(ctx); device != "" {
		attributes = append(attributes, "device", device)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	s.logger.InfoContext(ctx, event, args...)
}

func (s *Service) countRejected(err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.IncrementRejected(string(dErrors.CodeOf(err)))
}

func (s *Service) countConflict(outcome string) {
	if s.metrics != nil {
		s.metrics.IncrementConflict(outcome)
	}
}

// actorID identifies the caller for history entries.
func actorID(ctx context.Context) string {
	if userID := requestcontext.UserID(ctx); !userID.IsNil() {
		return userID.String()
	}
	return "anonymous"
}

// checkOwner rejects a guardian acting on a request filed for someone else.
// Institution and admin callers are scoped by their route roles.
func checkOwner(ctx context.Context, req models.CounselRequest) error {
	if requestcontext.ActorRole(ctx) != requestcontext.RoleGuardian {
		return nil
	}
	caller := id.GuardianID(requestcontext.UserID(ctx))
	if req.GuardianID == nil || *req.GuardianID != caller {
		return dErrors.New(dErrors.CodeForbidden, "counsel request belongs to another guardian")
	}
	return nil
}

// sourceLabel folds webhook slugs into one metric label.
func sourceLabel(source string) string {
	if strings.HasPrefix(source, models.SourceWebhookPrefix) {
		return "webhook"
	}
	return source
}

func wrapStoreErr(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "counsel request not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConcurrentModification, "request was modified concurrently, reload and try again")
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
