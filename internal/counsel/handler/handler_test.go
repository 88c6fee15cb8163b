package handler

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/handler/mocks"
	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/intake"
	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/metrics"
	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/models"
	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/service"
	jwttoken "github.com/yeirin-dev/yeirin-backend-sub001/internal/jwt_token"
	id "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain"
	dErrors "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain-errors"
	request "github.com/yeirin-dev/yeirin-backend-sub001/pkg/platform/middleware/request"
	"github.com/yeirin-dev/yeirin-backend-sub001/pkg/testutil"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service,Submitter,WebhookReceiver

type HandlerSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	service   *mocks.MockService
	submitter *mocks.MockSubmitter
	webhook   *mocks.MockWebhookReceiver
	router    chi.Router
	tokens    *jwttoken.JWTService

	guardianID id.UserID
	adminID    id.UserID
	requestID  id.CounselRequestID
	now        time.Time
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.service = mocks.NewMockService(s.ctrl)
	s.submitter = mocks.NewMockSubmitter(s.ctrl)
	s.webhook = mocks.NewMockWebhookReceiver(s.ctrl)
	s.tokens = jwttoken.NewJWTService("handler-test-key", "counsel-test")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := New(s.service, s.submitter, s.webhook,
		jwttoken.NewJWTServiceAdapter(s.tokens), logger,
		metrics.NewWithRegisterer(prometheus.NewRegistry()))

	s.router = chi.NewRouter()
	s.router.Use(request.RequestID)
	h.Register(s.router)

	s.guardianID = id.UserID(uuid.New())
	s.adminID = id.UserID(uuid.New())
	s.requestID = id.CounselRequestID(uuid.New())
	s.now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
}

func (s *HandlerSuite) token(userID id.UserID, role string) string {
	tok, err := s.tokens.GenerateAccessToken(userID, role, time.Hour)
	s.Require().NoError(err)
	return tok
}

func (s *HandlerSuite) send(req *http.Request, token string) *httptest.ResponseRecorder {
	return testutil.DoRequest(s.router, testutil.WithBearer(req, token))
}

func (s *HandlerSuite) do(req *http.Request, token string) (int, map[string]any) {
	rr := s.send(req, token)
	var body map[string]any
	if rr.Body.Len() > 0 {
		body = testutil.DecodeJSON[map[string]any](s.T(), rr)
	}
	return rr.Code, body
}

func (s *HandlerSuite) counselRequest(status models.Status) *models.CounselRequest {
	return &models.CounselRequest{
		ID:          s.requestID,
		ChildID:     id.ChildID(uuid.New()),
		CenterName:  "Sunrise Center",
		CareType:    "PSYCHOLOGICAL",
		Status:      status,
		Source:      models.SourceGuardian,
		RequestDate: s.now,
		CreatedAt:   s.now,
		UpdatedAt:   s.now,
	}
}

func (s *HandlerSuite) path(suffix string) string {
	return "/counsel-requests/" + s.requestID.String() + suffix
}

func (s *HandlerSuite) TestCreate() {
	s.Run("guardian creates a request", func() {
		s.submitter.EXPECT().Submit(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ any, p *intake.Payload) (*models.CounselRequest, error) {
				s.Equal("PSYCHOLOGICAL", p.CareType)
				s.Equal("Sunrise Center", p.CenterName)
				return s.counselRequest(models.StatusPending), nil
			})

		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/counsel-requests", map[string]any{
			"childId":    uuid.NewString(),
			"centerName": " Sunrise Center ",
			"careType":   "psychological",
		})
		code, body := s.do(req, s.token(s.guardianID, "guardian"))
		s.Equal(http.StatusCreated, code)
		s.Equal("PENDING", body["status"])
		s.Equal(s.requestID.String(), body["id"])
		s.Contains(body, "centerName")
	})

	s.Run("validation failure never reaches the service", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/counsel-requests", map[string]any{
			"childId": "not-a-uuid",
		})
		rr := s.send(req, s.token(s.guardianID, "guardian"))
		testutil.AssertDomainError(s.T(), rr, http.StatusBadRequest, dErrors.CodeValidation)
	})

	s.Run("missing token", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/counsel-requests", map[string]any{})
		code, _ := s.do(req, "")
		s.Equal(http.StatusUnauthorized, code)
	})

	s.Run("institution cannot submit", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/counsel-requests", map[string]any{})
		code, _ := s.do(req, s.token(id.UserID(uuid.New()), "institution"))
		s.Equal(http.StatusForbidden, code)
	})
}

func (s *HandlerSuite) TestWebhook() {
	s.Run("new delivery is 201 without auth", func() {
		s.webhook.EXPECT().Receive(gomock.Any(), "kakao-triage", gomock.Any()).
			Return(&intake.Delivery{Request: s.counselRequest(models.StatusPending)}, nil)
		req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/counsel-requests/webhook/kakao-triage", `{"externalId":"e-1"}`)
		code, body := s.do(req, "")
		s.Equal(http.StatusCreated, code)
		s.Equal(s.requestID.String(), body["id"])
	})

	s.Run("duplicate delivery is 200", func() {
		s.webhook.EXPECT().Receive(gomock.Any(), "kakao-triage", gomock.Any()).
			Return(&intake.Delivery{Request: s.counselRequest(models.StatusRecommended), Duplicate: true}, nil)
		req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/counsel-requests/webhook/kakao-triage", `{"externalId":"e-1"}`)
		code, body := s.do(req, "")
		s.Equal(http.StatusOK, code)
		s.Equal("RECOMMENDED", body["status"])
	})

	s.Run("unknown source", func() {
		s.webhook.EXPECT().Receive(gomock.Any(), "nobody", gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeNotFound, "unknown webhook source"))
		req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/counsel-requests/webhook/nobody", `{}`)
		rr := s.send(req, "")
		testutil.AssertDomainError(s.T(), rr, http.StatusNotFound, dErrors.CodeNotFound)
	})

	s.Run("oversized body", func() {
		big := `{"formData":"` + strings.Repeat("a", maxWebhookBody) + `"}`
		req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/counsel-requests/webhook/kakao-triage", big)
		code, _ := s.do(req, "")
		s.Equal(http.StatusBadRequest, code)
	})
}

func (s *HandlerSuite) TestGet() {
	s.Run("bad id", func() {
		rr := s.send(testutil.NewRequest(s.T(), http.MethodGet, "/counsel-requests/nope"), s.token(s.guardianID, "guardian"))
		testutil.AssertDomainError(s.T(), rr, http.StatusBadRequest, dErrors.CodeInvalidInput)
	})

	s.Run("not found", func() {
		s.service.EXPECT().Get(gomock.Any(), s.requestID).
			Return(nil, dErrors.New(dErrors.CodeNotFound, "counsel request not found"))
		code, _ := s.do(testutil.NewRequest(s.T(), http.MethodGet, s.path("")), s.token(s.guardianID, "guardian"))
		s.Equal(http.StatusNotFound, code)
	})

	s.Run("matched ids are exposed", func() {
		req := s.counselRequest(models.StatusMatched)
		inst := id.InstitutionID(uuid.New())
		req.MatchedInstitutionID = &inst
		s.service.EXPECT().Get(gomock.Any(), s.requestID).Return(req, nil)
		code, body := s.do(testutil.NewRequest(s.T(), http.MethodGet, s.path("")), s.token(s.guardianID, "institution"))
		s.Equal(http.StatusOK, code)
		s.Equal(inst.String(), body["matchedInstitutionId"])
	})
}

func (s *HandlerSuite) TestRequestRecommendation() {
	s.Run("ranked list", func() {
		recs := []models.Recommendation{
			{InstitutionID: id.InstitutionID(uuid.New()), Score: 91, Rank: 1, IsHighScore: true},
			{InstitutionID: id.InstitutionID(uuid.New()), Score: 70, Rank: 2},
		}
		s.service.EXPECT().RequestRecommendation(gomock.Any(), s.requestID).
			Return(s.counselRequest(models.StatusRecommended), recs, nil)
		code, body := s.do(testutil.NewRequest(s.T(), http.MethodPost, s.path("/request-recommendation")), s.token(s.guardianID, "guardian"))
		s.Equal(http.StatusOK, code)
		s.Equal("RECOMMENDED", body["status"])
		list := body["recommendations"].([]any)
		s.Len(list, 2)
		s.Equal(true, list[0].(map[string]any)["isHighScore"])
	})

	s.Run("oracle failure is 400 with its code", func() {
		s.service.EXPECT().RequestRecommendation(gomock.Any(), s.requestID).
			Return(nil, nil, dErrors.New(dErrors.CodeOracleUnavailable, "scoring service unavailable"))
		rr := s.send(testutil.NewRequest(s.T(), http.MethodPost, s.path("/request-recommendation")), s.token(s.guardianID, "guardian"))
		testutil.AssertDomainError(s.T(), rr, http.StatusBadRequest, dErrors.CodeOracleUnavailable)
	})
}

func (s *HandlerSuite) TestSelectInstitution() {
	inst := id.InstitutionID(uuid.New())
	counselor := id.CounselorID(uuid.New())

	s.Run("passes parsed ids", func() {
		s.service.EXPECT().SelectInstitution(gomock.Any(), s.requestID, inst, &counselor).
			Return(s.counselRequest(models.StatusMatched), nil)
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, s.path("/select-institution"), map[string]string{
			"institutionId": inst.String(),
			"counselorId":   counselor.String(),
		})
		code, body := s.do(req, s.token(s.guardianID, "guardian"))
		s.Equal(http.StatusOK, code)
		s.Equal("MATCHED", body["status"])
	})

	s.Run("malformed institution is an invalid selection", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, s.path("/select-institution"), map[string]string{
			"institutionId": "abc",
		})
		rr := s.send(req, s.token(s.guardianID, "guardian"))
		testutil.AssertDomainError(s.T(), rr, http.StatusBadRequest, dErrors.CodeInvalidSelection)
	})
}

func (s *HandlerSuite) TestStartAndComplete() {
	institution := s.token(id.UserID(uuid.New()), "institution")

	s.Run("conflict surfaces as 409", func() {
		s.service.EXPECT().Start(gomock.Any(), s.requestID).
			Return(nil, dErrors.New(dErrors.CodeConcurrentModification, "request was modified concurrently"))
		rr := s.send(testutil.NewRequest(s.T(), http.MethodPost, s.path("/start")), institution)
		testutil.AssertDomainError(s.T(), rr, http.StatusConflict, dErrors.CodeConcurrentModification)
	})

	s.Run("complete", func() {
		s.service.EXPECT().Complete(gomock.Any(), s.requestID).Return(s.counselRequest(models.StatusCompleted), nil)
		code, body := s.do(testutil.NewRequest(s.T(), http.MethodPost, s.path("/complete")), institution)
		s.Equal(http.StatusOK, code)
		s.Equal("COMPLETED", body["status"])
	})

	s.Run("guardian cannot start", func() {
		code, _ := s.do(testutil.NewRequest(s.T(), http.MethodPost, s.path("/start")), s.token(s.guardianID, "guardian"))
		s.Equal(http.StatusForbidden, code)
	})
}

func (s *HandlerSuite) TestCancelAndDelete() {
	s.Run("cancel with reason", func() {
		s.service.EXPECT().Cancel(gomock.Any(), s.requestID, "family moved away").
			Return(s.counselRequest(models.StatusRejected), nil)
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, s.path("/cancel"), map[string]string{"reason": " family moved away "})
		code, _ := s.do(req, s.token(s.guardianID, "guardian"))
		s.Equal(http.StatusOK, code)
	})

	s.Run("delete", func() {
		s.service.EXPECT().Delete(gomock.Any(), s.requestID).Return(nil)
		code, _ := s.do(testutil.NewRequest(s.T(), http.MethodDelete, s.path("")), s.token(s.guardianID, "guardian"))
		s.Equal(http.StatusNoContent, code)
	})

	s.Run("delete after pending", func() {
		s.service.EXPECT().Delete(gomock.Any(), s.requestID).
			Return(dErrors.New(dErrors.CodeNotDeletable, "only PENDING requests can be deleted"))
		rr := s.send(testutil.NewRequest(s.T(), http.MethodDelete, s.path("")), s.token(s.guardianID, "guardian"))
		testutil.AssertDomainError(s.T(), rr, http.StatusBadRequest, dErrors.CodeNotDeletable)
	})

	s.Run("internal errors hide details", func() {
		s.service.EXPECT().Delete(gomock.Any(), s.requestID).
			Return(dErrors.New(dErrors.CodeInternal, "pq: connection refused"))
		code, body := s.do(testutil.NewRequest(s.T(), http.MethodDelete, s.path("")), s.token(s.guardianID, "guardian"))
		s.Equal(http.StatusInternalServerError, code)
		s.NotContains(body, "error_description")
	})
}

func (s *HandlerSuite) TestForceStatus() {
	admin := s.token(s.adminID, "admin")
	url := "/admin/counsel-requests/" + s.requestID.String() + "/status"

	s.Run("admin override", func() {
		s.service.EXPECT().ForceStatus(gomock.Any(), s.requestID, models.StatusMatched, "rollback for re-review, 30 chars", s.adminID).
			Return(&service.ForceResult{PreviousStatus: models.StatusInProgress, NewStatus: models.StatusMatched}, nil)
		req := testutil.NewJSONRequest(s.T(), http.MethodPatch, url, map[string]string{
			"newStatus": "matched",
			"reason":    "rollback for re-review, 30 chars",
		})
		code, body := s.do(req, admin)
		s.Equal(http.StatusOK, code)
		s.Equal("IN_PROGRESS", body["previousStatus"])
		s.Equal("MATCHED", body["newStatus"])
	})

	s.Run("table violation is 400", func() {
		s.service.EXPECT().ForceStatus(gomock.Any(), s.requestID, models.StatusCompleted, gomock.Any(), s.adminID).
			Return(nil, dErrors.New(dErrors.CodeForbiddenTransition, "admins cannot force COMPLETED"))
		req := testutil.NewJSONRequest(s.T(), http.MethodPatch, url, map[string]string{
			"newStatus": "COMPLETED",
			"reason":    "closing this out administratively",
		})
		rr := s.send(req, admin)
		testutil.AssertDomainError(s.T(), rr, http.StatusBadRequest, dErrors.CodeForbiddenTransition)
	})

	s.Run("unknown status", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPatch, url, map[string]string{"newStatus": "ARCHIVED"})
		code, _ := s.do(req, admin)
		s.Equal(http.StatusBadRequest, code)
	})

	s.Run("guardian is forbidden", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPatch, url, map[string]string{"newStatus": "PENDING"})
		code, _ := s.do(req, s.token(s.guardianID, "guardian"))
		s.Equal(http.StatusForbidden, code)
	})
}

func (s *HandlerSuite) TestHistory() {
	entries := []models.StatusHistoryEntry{
		{ToStatus: models.StatusPending, ActorKind: models.ActorSelfService, ChangedAt: s.now},
		{FromStatus: models.StatusPending, ToStatus: models.StatusRecommended, ActorKind: models.ActorSelfService, ChangedAt: s.now.Add(time.Minute)},
	}
	s.service.EXPECT().History(gomock.Any(), s.requestID).Return(entries, nil)

	req := testutil.NewRequest(s.T(), http.MethodGet, "/admin/counsel-requests/"+s.requestID.String()+"/history")
	rr := s.send(req, s.token(s.adminID, "admin"))
	s.Equal(http.StatusOK, rr.Code)

	body := testutil.DecodeJSON[[]map[string]any](s.T(), rr)
	s.Require().Len(body, 2)
	s.NotContains(body[0], "fromStatus")
	s.Equal("PENDING", body[1]["fromStatus"])
}

func (s *HandlerSuite) TestAdminList() {
	admin := s.token(s.adminID, "admin")
	inst := id.InstitutionID(uuid.New())

	s.Run("query becomes a filter", func() {
		s.service.EXPECT().List(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ any, f models.ListFilter) (models.ListResult, error) {
				s.Equal(models.StatusMatched, f.Status)
				s.Equal("PSYCHOLOGICAL", f.CareType)
				s.Require().NotNil(f.InstitutionID)
				s.Equal(inst, *f.InstitutionID)
				s.Require().NotNil(f.From)
				s.Require().NotNil(f.To)
				s.Equal(time.Date(2026, 1, 31, 23, 59, 59, 999999999, time.UTC), *f.To)
				s.Equal("sun", f.Search)
				s.Equal(2, f.Page)
				s.Equal(10, f.Limit)
				return models.ListResult{
					Items: []models.CounselRequest{*s.counselRequest(models.StatusMatched)},
					Total: 11, Page: 2, Limit: 10,
				}, nil
			})
		path := "/admin/counsel-requests?status=matched&careType=psychological&institutionId=" + inst.String() +
			"&from=2026-01-01&to=2026-01-31&search=sun&page=2&limit=10"
		code, body := s.do(testutil.NewRequest(s.T(), http.MethodGet, path), admin)
		s.Equal(http.StatusOK, code)
		s.EqualValues(11, body["total"])
		s.Len(body["items"], 1)
	})

	s.Run("bad page", func() {
		rr := s.send(testutil.NewRequest(s.T(), http.MethodGet, "/admin/counsel-requests?page=two"), admin)
		testutil.AssertDomainError(s.T(), rr, http.StatusBadRequest, dErrors.CodeValidation)
	})

	s.Run("bad date", func() {
		code, _ := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/admin/counsel-requests?from=yesterday"), admin)
		s.Equal(http.StatusBadRequest, code)
	})
}

func (s *HandlerSuite) TestStatistics() {
	admin := s.token(s.adminID, "admin")
	s.service.EXPECT().Statistics(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ any, rng models.DateRange) (models.Statistics, error) {
			s.Require().NotNil(rng.From)
			s.Nil(rng.To)
			return models.Statistics{
				Total:              3,
				StatusDistribution: map[models.Status]int{models.StatusPending: 1, models.StatusMatched: 2},
				Funnel: []models.FunnelStep{
					{Stage: models.StageCreated, Count: 3, ConversionRate: 100},
					{Stage: models.StageRecommended, Count: 2, ConversionRate: 66.7},
				},
				AverageMatchingHours: 2,
				MatchingSampleSize:   2,
			}, nil
		})

	code, body := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/admin/statistics/counsel-requests?from=2026-01-01T00:00:00Z"), admin)
	s.Equal(http.StatusOK, code)
	s.EqualValues(3, body["total"])
	funnel := body["funnel"].([]any)
	s.Equal(66.7, funnel[1].(map[string]any)["conversionRate"])
	s.EqualValues(2, body["averageMatchingHours"])
}
