package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/models"
	id "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain"
)

const (
	scorePath       = "/v1/recommendations"
	maxResponseBody = 1 << 20
	tracerName      = "github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/oracle"
)

// HTTPClient calls the external scoring service over JSON/HTTP.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	tracer     trace.Tracer
	logger     *slog.Logger
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying transport client.
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPClient) {
		h.httpClient = c
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *HTTPClient) {
		h.logger = logger
	}
}

// NewHTTPClient creates an oracle client. timeout bounds a single HTTP
// exchange; callers apply their own deadline through ctx as well.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration, opts ...Option) *HTTPClient {
	h := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type scoreRequest struct {
	CounselRequestID string          `json:"counsel_request_id"`
	CareType         string          `json:"care_type"`
	CenterName       string          `json:"center_name"`
	Location         string          `json:"location,omitempty"`
	FormData         json.RawMessage `json:"form_data,omitempty"`
}

type scoreResponse struct {
	Recommendations []scoredInstitution `json:"recommendations"`
}

type scoredInstitution struct {
	InstitutionID string  `json:"institution_id"`
	Score         float64 `json:"score"`
	Reason        string  `json:"reason"`
}

// Score sends the request profile and returns the oracle's candidates in the
// order received. An empty slice is a valid answer.
func (h *HTTPClient) Score(ctx context.Context, profile models.Profile) ([]models.Candidate, error) {
	ctx, span := h.tracer.Start(ctx, "oracle.Score", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("counsel_request.id", profile.CounselRequestID.String()),
		attribute.String("counsel_request.care_type", profile.CareType),
	)

	candidates, err := h.score(ctx, profile)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(CategoryOf(err)))
		return nil, err
	}
	span.SetAttributes(attribute.Int("oracle.candidates", len(candidates)))
	return candidates, nil
}

func (h *HTTPClient) score(ctx context.Context, profile models.Profile) ([]models.Candidate, error) {
	payload, err := json.Marshal(scoreRequest{
		CounselRequestID: profile.CounselRequestID.String(),
		CareType:         profile.CareType,
		CenterName:       profile.CenterName,
		Location:         profile.Location,
		FormData:         profile.FormData,
	})
	if err != nil {
		return nil, newError(ErrorBadData, "failed to encode profile", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+scorePath, bytes.NewReader(payload))
	if err != nil {
		return nil, newError(ErrorContractMismatch, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if h.apiKey != "" {
		req.Header.Set("X-API-Key", h.apiKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}

	candidates, dropped, err := parseScoreResponse(resp.StatusCode, body)
	if err != nil {
		return nil, err
	}
	if dropped > 0 && h.logger != nil {
		h.logger.WarnContext(ctx, "oracle returned unusable candidates",
			"counsel_request_id", profile.CounselRequestID.String(),
			"dropped", dropped,
		)
	}
	return candidates, nil
}

func classifyTransportError(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return newError(ErrorCancelled, "request cancelled", err)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return newError(ErrorTimeout, "request timed out", err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(ErrorTimeout, "request timed out", err)
	}
	return newError(ErrorOutage, "request failed", err)
}

// parseScoreResponse maps an HTTP response to candidates. Entries whose
// institution id does not parse are skipped and counted in dropped.
func parseScoreResponse(status int, body []byte) (candidates []models.Candidate, dropped int, err error) {
	switch {
	case status == http.StatusOK:
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, 0, &Error{Category: ErrorAuthentication, Message: "oracle rejected credentials", StatusCode: status}
	case status == http.StatusTooManyRequests:
		return nil, 0, &Error{Category: ErrorRateLimited, Message: "oracle rate limit exceeded", StatusCode: status}
	case status >= 500:
		return nil, 0, &Error{Category: ErrorOutage, Message: fmt.Sprintf("oracle returned %d", status), StatusCode: status}
	default:
		return nil, 0, &Error{Category: ErrorContractMismatch, Message: fmt.Sprintf("unexpected status %d", status), StatusCode: status}
	}

	var parsed scoreResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, 0, newError(ErrorBadData, "failed to decode response", err)
	}

	candidates = make([]models.Candidate, 0, len(parsed.Recommendations))
	for _, rec := range parsed.Recommendations {
		instID, err := id.ParseInstitutionID(rec.InstitutionID)
		if err != nil {
			dropped++
			continue
		}
		candidates = append(candidates, models.Candidate{
			InstitutionID: instID,
			Score:         rec.Score,
			Reason:        strings.TrimSpace(rec.Reason),
		})
	}
	return candidates, dropped, nil
}
