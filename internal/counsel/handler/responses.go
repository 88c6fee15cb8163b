package handler

import (
	"encoding/json"
	"time"

	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/models"
	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/service"
	id "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain"
)

// CounselRequestResponse is the API view of a counsel request.
type CounselRequestResponse struct {
	ID                   id.CounselRequestID `json:"id"`
	ChildID              id.ChildID          `json:"childId"`
	GuardianID           *id.GuardianID      `json:"guardianId,omitempty"`
	ChildName            string              `json:"childName,omitempty"`
	CenterName           string              `json:"centerName"`
	CareType             string              `json:"careType"`
	Status               models.Status       `json:"status"`
	MatchedInstitutionID *id.InstitutionID   `json:"matchedInstitutionId,omitempty"`
	MatchedCounselorID   *id.CounselorID     `json:"matchedCounselorId,omitempty"`
	FormData             json.RawMessage     `json:"formData,omitempty"`
	Source               string              `json:"source"`
	RequestDate          time.Time           `json:"requestDate"`
	CreatedAt            time.Time           `json:"createdAt"`
	UpdatedAt            time.Time           `json:"updatedAt"`
}

func toRequestResponse(r *models.CounselRequest) CounselRequestResponse {
	return CounselRequestResponse{
		ID:                   r.ID,
		ChildID:              r.ChildID,
		GuardianID:           r.GuardianID,
		ChildName:            r.ChildName,
		CenterName:           r.CenterName,
		CareType:             r.CareType,
		Status:               r.Status,
		MatchedInstitutionID: r.MatchedInstitutionID,
		MatchedCounselorID:   r.MatchedCounselorID,
		FormData:             r.FormData,
		Source:               r.Source,
		RequestDate:          r.RequestDate,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}

type RecommendationResponse struct {
	ID            id.RecommendationID `json:"id"`
	InstitutionID id.InstitutionID    `json:"institutionId"`
	Score         float64             `json:"score"`
	Reason        string              `json:"reason"`
	Rank          int                 `json:"rank"`
	Selected      bool                `json:"selected"`
	IsHighScore   bool                `json:"isHighScore"`
	CreatedAt     time.Time           `json:"createdAt"`
}

// RecommendationsResponse wraps a ranked list; the request status is
// included so the client can tell a fresh run from a re-read.
type RecommendationsResponse struct {
	CounselRequestID id.CounselRequestID      `json:"counselRequestId"`
	Status           models.Status            `json:"status,omitempty"`
	Recommendations  []RecommendationResponse `json:"recommendations"`
}

func toRecommendations(requestID id.CounselRequestID, status models.Status, recs []models.Recommendation) RecommendationsResponse {
	out := make([]RecommendationResponse, len(recs))
	for i, rec := range recs {
		out[i] = RecommendationResponse{
			ID:            rec.ID,
			InstitutionID: rec.InstitutionID,
			Score:         rec.Score,
			Reason:        rec.Reason,
			Rank:          rec.Rank,
			Selected:      rec.Selected,
			IsHighScore:   rec.IsHighScore,
			CreatedAt:     rec.CreatedAt,
		}
	}
	return RecommendationsResponse{CounselRequestID: requestID, Status: status, Recommendations: out}
}

type HistoryEntryResponse struct {
	ID         id.HistoryEntryID `json:"id"`
	FromStatus models.Status     `json:"fromStatus,omitempty"`
	ToStatus   models.Status     `json:"toStatus"`
	Reason     string            `json:"reason"`
	ChangedBy  string            `json:"changedBy"`
	ActorKind  models.ActorKind  `json:"actorKind"`
	ChangedAt  time.Time         `json:"changedAt"`
}

func toHistory(entries []models.StatusHistoryEntry) []HistoryEntryResponse {
	out := make([]HistoryEntryResponse, len(entries))
	for i, e := range entries {
		out[i] = HistoryEntryResponse{
			ID:         e.ID,
			FromStatus: e.FromStatus,
			ToStatus:   e.ToStatus,
			Reason:     e.Reason,
			ChangedBy:  e.ChangedBy,
			ActorKind:  e.ActorKind,
			ChangedAt:  e.ChangedAt,
		}
	}
	return out
}

type ListResponse struct {
	Items []CounselRequestResponse `json:"items"`
	Total int                      `json:"total"`
	Page  int                      `json:"page"`
	Limit int                      `json:"limit"`
}

func toList(res models.ListResult) ListResponse {
	items := make([]CounselRequestResponse, len(res.Items))
	for i := range res.Items {
		items[i] = toRequestResponse(&res.Items[i])
	}
	return ListResponse{Items: items, Total: res.Total, Page: res.Page, Limit: res.Limit}
}

type ForceStatusResponse struct {
	PreviousStatus models.Status `json:"previousStatus"`
	NewStatus      models.Status `json:"newStatus"`
}

func toForceStatus(res *service.ForceResult) ForceStatusResponse {
	return ForceStatusResponse{PreviousStatus: res.PreviousStatus, NewStatus: res.NewStatus}
}

type FunnelStepResponse struct {
	Stage          models.FunnelStage `json:"stage"`
	Count          int                `json:"count"`
	ConversionRate float64            `json:"conversionRate"`
}

type StatisticsResponse struct {
	From                  *time.Time            `json:"from,omitempty"`
	To                    *time.Time            `json:"to,omitempty"`
	Total                 int                   `json:"total"`
	StatusDistribution    map[models.Status]int `json:"statusDistribution"`
	Funnel                []FunnelStepResponse  `json:"funnel"`
	AverageProcessingDays float64               `json:"averageProcessingDays"`
	ProcessingSampleSize  int                   `json:"processingSampleSize"`
	AverageMatchingHours  float64               `json:"averageMatchingHours"`
	MatchingSampleSize    int                   `json:"matchingSampleSize"`
}

func toStatistics(rng models.DateRange, s models.Statistics) StatisticsResponse {
	funnel := make([]FunnelStepResponse, len(s.Funnel))
	for i, step := range s.Funnel {
		funnel[i] = FunnelStepResponse{Stage: step.Stage, Count: step.Count, ConversionRate: step.ConversionRate}
	}
	return StatisticsResponse{
		From:                  rng.From,
		To:                    rng.To,
		Total:                 s.Total,
		StatusDistribution:    s.StatusDistribution,
		Funnel:                funnel,
		AverageProcessingDays: s.AverageProcessingDays,
		ProcessingSampleSize:  s.ProcessingSampleSize,
		AverageMatchingHours:  s.AverageMatchingHours,
		MatchingSampleSize:    s.MatchingSampleSize,
	}
}
