package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/intake"
	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/metrics"
	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/models"
	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/service"
	id "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain"
	dErrors "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain-errors"
	"github.com/yeirin-dev/yeirin-backend-sub001/pkg/platform/httputil"
	adminmw "github.com/yeirin-dev/yeirin-backend-sub001/pkg/platform/middleware/admin"
	authmw "github.com/yeirin-dev/yeirin-backend-sub001/pkg/platform/middleware/auth"
	request "github.com/yeirin-dev/yeirin-backend-sub001/pkg/platform/middleware/request"
	"github.com/yeirin-dev/yeirin-backend-sub001/pkg/requestcontext"
)

// maxWebhookBody bounds a triage delivery: form data plus envelope.
const maxWebhookBody = 256 << 10

// Service defines the lifecycle and admin operations the handlers drive.
type Service interface {
	Get(ctx context.Context, requestID id.CounselRequestID) (*models.CounselRequest, error)
	Recommendations(ctx context.Context, requestID id.CounselRequestID) ([]models.Recommendation, error)
	RequestRecommendation(ctx context.Context, requestID id.CounselRequestID) (*models.CounselRequest, []models.Recommendation, error)
	SelectInstitution(ctx context.Context, requestID id.CounselRequestID, institutionID id.InstitutionID, counselorID *id.CounselorID) (*models.CounselRequest, error)
	Start(ctx context.Context, requestID id.CounselRequestID) (*models.CounselRequest, error)
	Complete(ctx context.Context, requestID id.CounselRequestID) (*models.CounselRequest, error)
	Cancel(ctx context.Context, requestID id.CounselRequestID, reason string) (*models.CounselRequest, error)
	Delete(ctx context.Context, requestID id.CounselRequestID) error
	ForceStatus(ctx context.Context, requestID id.CounselRequestID, newStatus models.Status, reason string, adminID id.UserID) (*service.ForceResult, error)
	History(ctx context.Context, requestID id.CounselRequestID) ([]models.StatusHistoryEntry, error)
	List(ctx context.Context, filter models.ListFilter) (models.ListResult, error)
	Statistics(ctx context.Context, rng models.DateRange) (models.Statistics, error)
}

// Submitter creates requests for an authenticated guardian.
type Submitter interface {
	Submit(ctx context.Context, p *intake.Payload) (*models.CounselRequest, error)
}

// WebhookReceiver creates requests from triage chatbot deliveries.
type WebhookReceiver interface {
	Receive(ctx context.Context, source string, body []byte) (*intake.Delivery, error)
}

// Handler serves the guardian, institution and admin counsel surfaces.
type Handler struct {
	service      Service
	submitter    Submitter
	webhook      WebhookReceiver
	jwtValidator authmw.JWTValidator
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// New creates a counsel Handler.
func New(
	svc Service,
	submitter Submitter,
	webhook WebhookReceiver,
	jwtValidator authmw.JWTValidator,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Handler {
	return &Handler{
		service:      svc,
		submitter:    submitter,
		webhook:      webhook,
		jwtValidator: jwtValidator,
		logger:       logger,
		metrics:      m,
	}
}

// Register mounts the counsel routes. The webhook is the only
// unauthenticated route; the admin group additionally requires the admin role.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.latency)

		r.With(request.MaxBodySize(maxWebhookBody)).
			Post("/counsel-requests/webhook/{source}", h.handleWebhook)

		r.Group(func(r chi.Router) {
			r.Use(authmw.RequireAuth(h.jwtValidator, h.logger))

			guardianSide := authmw.RequireRole(h.logger, requestcontext.RoleGuardian, requestcontext.RoleAdmin)
			institutionSide := authmw.RequireRole(h.logger, requestcontext.RoleInstitution, requestcontext.RoleAdmin)

			r.With(guardianSide).Post("/counsel-requests", h.handleCreate)
			r.Route("/counsel-requests/{id}", func(r chi.Router) {
				r.Get("/", h.handleGet)
				r.Get("/recommendations", h.handleListRecommendations)
				r.Post("/cancel", h.handleCancel)
				r.With(guardianSide).Post("/request-recommendation", h.handleRequestRecommendation)
				r.With(guardianSide).Post("/select-institution", h.handleSelectInstitution)
				r.With(guardianSide).Delete("/", h.handleDelete)
				r.With(institutionSide).Post("/start", h.handleStart)
				r.With(institutionSide).Post("/complete", h.handleComplete)
			})

			r.Group(func(r chi.Router) {
				r.Use(adminmw.RequireAdmin(h.logger))
				r.Get("/admin/counsel-requests", h.handleAdminList)
				r.Patch("/admin/counsel-requests/{id}/status", h.handleForceStatus)
				r.Get("/admin/counsel-requests/{id}/history", h.handleHistory)
				r.Get("/admin/statistics/counsel-requests", h.handleStatistics)
			})
		})
	})
}

// latency records per-route request durations under the chi route pattern.
func (h *Handler) latency(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		h.metrics.ObserveHTTP(r.Method, route, sw.status, start)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusWriter) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

// requestIDParam parses the {id} path segment, writing a 400 on failure.
func (h *Handler) requestIDParam(w http.ResponseWriter, r *http.Request) (id.CounselRequestID, bool) {
	requestID, err := id.ParseCounselRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.CounselRequestID{}, false
	}
	return requestID, true
}

// writeFailure logs err at a level matching its status and writes the response.
func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	attrs := []any{
		"request_id", request.GetRequestID(ctx),
		"error", err,
	}
	if raw := chi.URLParam(r, "id"); raw != "" {
		attrs = append(attrs, "counsel_request_id", raw)
	}
	if httputil.StatusFor(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg, attrs...)
	} else {
		h.logger.WarnContext(ctx, msg, attrs...)
	}
	httputil.WriteError(w, err)
}
