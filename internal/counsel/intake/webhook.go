package intake

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/metrics"
	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/models"
	id "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain"
	dErrors "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain-errors"
	platformstrings "github.com/yeirin-dev/yeirin-backend-sub001/pkg/platform/strings"
	"github.com/yeirin-dev/yeirin-backend-sub001/pkg/requestcontext"
)

const defaultDedupeTTL = 24 * time.Hour

var sourcePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,39}$`)

// Webhook accepts triage chatbot deliveries. A delivery repeated within the
// dedupe window returns the request created by the first one.
type Webhook struct {
	creator Creator
	keys    IdempotencyStore
	ttl     time.Duration
	sources map[string]bool
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type WebhookOption func(*Webhook)

func WithDedupeTTL(ttl time.Duration) WebhookOption {
	return func(w *Webhook) {
		if ttl > 0 {
			w.ttl = ttl
		}
	}
}

// WithAllowedSources restricts accepted source slugs. An empty list accepts
// any well-formed slug.
func WithAllowedSources(sources []string) WebhookOption {
	return func(w *Webhook) {
		for _, s := range platformstrings.DedupeAndTrimLower(sources) {
			w.sources[s] = true
		}
	}
}

func WithLogger(logger *slog.Logger) WebhookOption {
	return func(w *Webhook) {
		w.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) WebhookOption {
	return func(w *Webhook) {
		w.metrics = m
	}
}

func NewWebhook(creator Creator, keys IdempotencyStore, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		creator: creator,
		keys:    keys,
		ttl:     defaultDedupeTTL,
		sources: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Delivery is the outcome of one webhook call.
type Delivery struct {
	Request   *models.CounselRequest
	Duplicate bool
}

// Receive validates and deduplicates a raw delivery body from source, then
// creates the request.
func (w *Webhook) Receive(ctx context.Context, source string, body []byte) (*Delivery, error) {
	source = strings.ToLower(strings.TrimSpace(source))
	if !sourcePattern.MatchString(source) || (len(w.sources) > 0 && !w.sources[source]) {
		return nil, dErrors.New(dErrors.CodeNotFound, "unknown webhook source")
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body")
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	key := DedupeKey(source, payload.ExternalID, body)
	existing, reserved, err := w.keys.Reserve(ctx, key, w.ttl)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record webhook delivery")
	}
	if !reserved {
		req, found, err := w.original(ctx, source, existing)
		if err != nil {
			return nil, err
		}
		if found {
			return &Delivery{Request: req, Duplicate: true}, nil
		}
		reclaimed, err := w.keys.Reclaim(ctx, key, existing, w.ttl)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record webhook delivery")
		}
		if !reclaimed {
			return nil, dErrors.New(dErrors.CodeConflict, "delivery is already being processed")
		}
	}

	in, err := payload.toIntake(models.SourceWebhookPrefix+source, models.SourceWebhookPrefix+source)
	if err != nil {
		w.release(ctx, key)
		return nil, err
	}
	req, err := w.creator.Create(ctx, in)
	if err != nil {
		w.release(ctx, key)
		return nil, err
	}
	if err := w.keys.Complete(ctx, key, req.ID.String(), w.ttl); err != nil && w.logger != nil {
		w.logger.WarnContext(ctx, "failed to complete webhook dedupe key",
			"source", source,
			"counsel_request_id", req.ID.String(),
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
	return &Delivery{Request: req}, nil
}

// original resolves a held dedupe key. found=false means the original request is
// gone and the delivery should be processed afresh.
func (w *Webhook) original(ctx context.Context, source, existing string) (*models.CounselRequest, bool, error) {
	if existing == "" || existing == pendingMarker {
		return nil, false, dErrors.New(dErrors.CodeConflict, "delivery is already being processed")
	}
	requestID, err := id.ParseCounselRequestID(existing)
	if err != nil {
		return nil, false, nil
	}
	req, err := w.creator.Get(ctx, requestID)
	if dErrors.HasCode(err, dErrors.CodeNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if w.metrics != nil {
		w.metrics.IncrementWebhookDuplicate(source)
	}
	if w.logger != nil {
		w.logger.InfoContext(ctx, "duplicate webhook delivery",
			"source", source,
			"counsel_request_id", req.ID.String(),
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	return req, true, nil
}

func (w *Webhook) release(ctx context.Context, key string) {
	if err := w.keys.Release(ctx, key); err != nil && w.logger != nil {
		w.logger.WarnContext(ctx, "failed to release webhook dedupe key", "error", err)
	}
}

// DedupeKey identifies a delivery: by the sender's external id when given,
// otherwise by the exact body.
func DedupeKey(source, externalID string, body []byte) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(source))
	h.Write([]byte{0})
	if externalID != "" {
		h.Write([]byte("id:" + externalID))
	} else {
		h.Write([]byte("body:"))
		h.Write(body)
	}
	return hex.EncodeToString(h.Sum(nil))
}
