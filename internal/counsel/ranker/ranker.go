package ranker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/metrics"
	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/models"
	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/oracle"
	dErrors "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain-errors"
	"github.com/yeirin-dev/yeirin-backend-sub001/pkg/requestcontext"
)

// Oracle scores institutions for a request profile. Zero candidates is a
// valid answer; the ranker treats it as a failure.
type Oracle interface {
	Score(ctx context.Context, profile models.Profile) ([]models.Candidate, error)
}

const (
	DefaultLimit              = 5
	DefaultHighScoreThreshold = 80.0
	DefaultTimeout            = 8 * time.Second
)

// Ranker runs the oracle call and turns its answer into a ranked set. It
// holds no locks and performs no writes; the caller commits the result.
type Ranker struct {
	oracle    Oracle
	timeout   time.Duration
	limit     int
	threshold float64
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
}

type Option func(*Ranker)

func WithTimeout(d time.Duration) Option {
	return func(r *Ranker) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLimit caps how many candidates are kept.
func WithLimit(n int) Option {
	return func(r *Ranker) {
		if n > 0 {
			r.limit = n
		}
	}
}

// WithHighScoreThreshold sets the score at or above which a recommendation
// is flagged as high confidence.
func WithHighScoreThreshold(t float64) Option {
	return func(r *Ranker) {
		r.threshold = t
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Ranker) {
		r.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Ranker) {
		r.logger = logger
	}
}

func New(o Oracle, opts ...Option) *Ranker {
	r := &Ranker{
		oracle:    o,
		timeout:   DefaultTimeout,
		limit:     DefaultLimit,
		threshold: DefaultHighScoreThreshold,
		tracer:    otel.Tracer("github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/ranker"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Recommend scores req under the configured timeout and ranks the result.
// Oracle failures, timeouts and cancellation surface as
// CodeOracleUnavailable; an empty answer as CodeInsufficientInformation.
func (r *Ranker) Recommend(ctx context.Context, req models.CounselRequest) ([]models.Recommendation, error) {
	ctx, span := r.tracer.Start(ctx, "ranker.Recommend")
	defer span.End()
	span.SetAttributes(attribute.String("counsel_request.id", req.ID.String()))

	candidates, err := r.callOracle(ctx, req.Profile())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "oracle unavailable")
		return nil, err
	}

	recs, err := Rank(req.ID, candidates, r.limit, r.threshold, requestcontext.Now(ctx))
	if r.metrics != nil {
		r.metrics.ObserveCandidates(len(recs))
	}
	if err != nil {
		span.SetStatus(codes.Error, "no candidates")
		return nil, err
	}
	span.SetAttributes(attribute.Int("ranker.recommendations", len(recs)))
	return recs, nil
}

func (r *Ranker) callOracle(ctx context.Context, profile models.Profile) ([]models.Candidate, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	candidates, err := r.oracle.Score(callCtx, profile)
	if r.metrics != nil {
		r.metrics.ObserveOracle(start)
	}
	if err == nil && callCtx.Err() != nil {
		// An oracle that ignores ctx may still return after the deadline.
		err = callCtx.Err()
	}
	if err == nil {
		return candidates, nil
	}

	category := oracle.CategoryOf(err)
	if errors.Is(err, context.DeadlineExceeded) {
		category = oracle.ErrorTimeout
	}
	if r.metrics != nil {
		r.metrics.IncrementOracleFailure(string(category))
	}
	if r.logger != nil {
		r.logger.WarnContext(ctx, "oracle call failed",
			"counsel_request_id", profile.CounselRequestID.String(),
			"category", string(category),
			"error", err,
		)
	}
	return nil, dErrors.Wrap(err, dErrors.CodeOracleUnavailable, "matching service is unavailable, try again later")
}
