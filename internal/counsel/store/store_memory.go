package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/models"
	id "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain"
	"github.com/yeirin-dev/yeirin-backend-sub001/pkg/platform/sentinel"
)

// InMemoryStore keeps requests, recommendations and history in process.
// Writes are serialized by one mutex; the version check mirrors the
// PostgreSQL store so services behave the same against both.
type InMemoryStore struct {
	mu              sync.RWMutex
	requests        map[id.CounselRequestID]models.CounselRequest
	recommendations map[id.CounselRequestID][]models.Recommendation
	history         []models.StatusHistoryEntry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		requests:        make(map[id.CounselRequestID]models.CounselRequest),
		recommendations: make(map[id.CounselRequestID][]models.Recommendation),
	}
}

// Create stores a new request at version 1 with its creation entry.
func (s *InMemoryStore) Create(_ context.Context, req models.CounselRequest, entry models.StatusHistoryEntry) (*models.CounselRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[req.ID]; exists {
		return nil, sentinel.ErrConflict
	}
	req.Version = 1
	stored := cloneRequest(req)
	s.requests[req.ID] = stored
	s.history = append(s.history, entry)
	out := cloneRequest(stored)
	return &out, nil
}

func (s *InMemoryStore) FindByID(_ context.Context, requestID id.CounselRequestID) (*models.CounselRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := cloneRequest(req)
	return &out, nil
}

// Commit applies change if the stored version still equals
// change.ExpectedVersion, and returns the stored snapshot.
func (s *InMemoryStore) Commit(_ context.Context, change models.Change) (*models.CounselRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.requests[change.Request.ID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if current.Version != change.ExpectedVersion {
		return nil, sentinel.ErrConflict
	}

	next := cloneRequest(change.Request)
	next.Version = change.ExpectedVersion + 1
	s.requests[next.ID] = next
	s.history = append(s.history, change.History)

	switch {
	case change.ReplaceRecommendations:
		recs := make([]models.Recommendation, len(change.Recommendations))
		copy(recs, change.Recommendations)
		s.recommendations[next.ID] = recs
	case change.Recommendations != nil:
		selected := make(map[id.RecommendationID]bool, len(change.Recommendations))
		for _, rec := range change.Recommendations {
			selected[rec.ID] = rec.Selected
		}
		existing := s.recommendations[next.ID]
		for i := range existing {
			existing[i].Selected = selected[existing[i].ID]
		}
	}

	out := cloneRequest(next)
	return &out, nil
}

// Delete removes a request and its recommendations. History is kept.
func (s *InMemoryStore) Delete(_ context.Context, requestID id.CounselRequestID, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.requests[requestID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != expectedVersion {
		return sentinel.ErrConflict
	}
	delete(s.requests, requestID)
	delete(s.recommendations, requestID)
	return nil
}

// ListRecommendations returns the request's set ordered by rank.
func (s *InMemoryStore) ListRecommendations(_ context.Context, requestID id.CounselRequestID) ([]models.Recommendation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.recommendations[requestID]
	out := make([]models.Recommendation, len(recs))
	copy(out, recs)
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out, nil
}

// ListHistory returns the request's entries ordered by ChangedAt ascending.
func (s *InMemoryStore) ListHistory(_ context.Context, requestID id.CounselRequestID) ([]models.StatusHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.StatusHistoryEntry
	for _, e := range s.history {
		if e.CounselRequestID == requestID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ChangedAt.Before(out[j].ChangedAt) })
	return out, nil
}

// List returns one page of requests matching filter, newest first.
func (s *InMemoryStore) List(_ context.Context, filter models.ListFilter) (models.ListResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	var matched []models.CounselRequest
	for _, req := range s.requests {
		if !matchesFilter(req, filter, search) {
			continue
		}
		matched = append(matched, cloneRequest(req))
	}
	sortNewestFirst(matched)

	result := models.ListResult{Total: len(matched), Page: filter.Page, Limit: filter.Limit}
	start := filter.Offset()
	if start < 0 || start >= len(matched) {
		result.Items = []models.CounselRequest{}
		return result, nil
	}
	end := len(matched)
	if filter.Limit > 0 && filter.Limit < end-start {
		end = start + filter.Limit
	}
	result.Items = matched[start:end]
	return result, nil
}

// RequestsCreatedIn returns every request whose CreatedAt falls in rng.
func (s *InMemoryStore) RequestsCreatedIn(_ context.Context, rng models.DateRange) ([]models.CounselRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.CounselRequest
	for _, req := range s.requests {
		if rng.Contains(req.CreatedAt) {
			out = append(out, cloneRequest(req))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// HistoryForRequestsCreatedIn returns the history of requests created in rng.
func (s *InMemoryStore) HistoryForRequestsCreatedIn(_ context.Context, rng models.DateRange) ([]models.StatusHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.StatusHistoryEntry
	for _, e := range s.history {
		req, ok := s.requests[e.CounselRequestID]
		if !ok || !rng.Contains(req.CreatedAt) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func matchesFilter(req models.CounselRequest, f models.ListFilter, search string) bool {
	if f.Status != "" && req.Status != f.Status {
		return false
	}
	if f.CareType != "" && !strings.EqualFold(req.CareType, f.CareType) {
		return false
	}
	if f.InstitutionID != nil && (req.MatchedInstitutionID == nil || *req.MatchedInstitutionID != *f.InstitutionID) {
		return false
	}
	if f.CounselorID != nil && (req.MatchedCounselorID == nil || *req.MatchedCounselorID != *f.CounselorID) {
		return false
	}
	if !(models.DateRange{From: f.From, To: f.To}).Contains(req.CreatedAt) {
		return false
	}
	if search != "" &&
		!strings.Contains(strings.ToLower(req.CenterName), search) &&
		!strings.Contains(strings.ToLower(req.ChildName), search) {
		return false
	}
	return true
}

func sortNewestFirst(reqs []models.CounselRequest) {
	sort.Slice(reqs, func(i, j int) bool {
		if !reqs[i].CreatedAt.Equal(reqs[j].CreatedAt) {
			return reqs[i].CreatedAt.After(reqs[j].CreatedAt)
		}
		return reqs[i].ID.String() < reqs[j].ID.String()
	})
}

func cloneRequest(req models.CounselRequest) models.CounselRequest {
	out := req
	if req.GuardianID != nil {
		g := *req.GuardianID
		out.GuardianID = &g
	}
	if req.MatchedInstitutionID != nil {
		inst := *req.MatchedInstitutionID
		out.MatchedInstitutionID = &inst
	}
	if req.MatchedCounselorID != nil {
		c := *req.MatchedCounselorID
		out.MatchedCounselorID = &c
	}
	if req.FormData != nil {
		out.FormData = append(json.RawMessage(nil), req.FormData...)
	}
	return out
}
