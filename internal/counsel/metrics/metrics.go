package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var durationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Metrics provides observability for the counsel module.
// Tracks transitions, overrides, oracle calls and write conflicts.
type Metrics struct {
	RequestsCreated      *prometheus.CounterVec
	Transitions          *prometheus.CounterVec
	TransitionsRejected  *prometheus.CounterVec
	AdminOverrides       *prometheus.CounterVec
	WriteConflicts       *prometheus.CounterVec
	OracleDuration       prometheus.Histogram
	OracleFailures       *prometheus.CounterVec
	OracleCandidates     prometheus.Histogram
	EventPublishFailures prometheus.Counter
	WebhookDuplicates    *prometheus.CounterVec
	StatisticsDuration   prometheus.Histogram
	HTTPDuration         *prometheus.HistogramVec
}

// New registers the counsel metrics on the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the counsel metrics on reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not collide.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "counsel_requests_created_total",
			Help: "Total number of counsel requests created, by source kind",
		}, []string{"source"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "counsel_status_transitions_total",
			Help: "Committed status transitions",
		}, []string{"from", "to", "actor_kind"}),
		TransitionsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "counsel_status_transitions_rejected_total",
			Help: "Transition attempts refused by the status table, by error code",
		}, []string{"code"}),
		AdminOverrides: f.NewCounterVec(prometheus.CounterOpts{
			Name: "counsel_admin_overrides_total",
			Help: "Admin force-status operations, by target status",
		}, []string{"to"}),
		WriteConflicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "counsel_write_conflicts_total",
			Help: "Optimistic version conflicts, by outcome (retried or surfaced)",
		}, []string{"outcome"}),
		OracleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "counsel_oracle_duration_seconds",
			Help:    "Duration of scoring oracle calls",
			Buckets: durationBuckets,
		}),
		OracleFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "counsel_oracle_failures_total",
			Help: "Scoring oracle failures, by category",
		}, []string{"category"}),
		OracleCandidates: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "counsel_oracle_candidates",
			Help:    "Usable candidates returned per oracle call",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20, 50},
		}),
		EventPublishFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "counsel_event_publish_failures_total",
			Help: "Status-change events that could not be published",
		}),
		WebhookDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "counsel_webhook_duplicates_total",
			Help: "Webhook deliveries answered from the idempotency store",
		}, []string{"source"}),
		StatisticsDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "counsel_statistics_duration_seconds",
			Help:    "Duration of statistics aggregation",
			Buckets: durationBuckets,
		}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "counsel_http_request_duration_seconds",
			Help:    "Latency of counsel API requests, by route pattern and status class",
			Buckets: durationBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// IncrementCreated records a new request. source is "guardian", "webhook" or
// "institution"; webhook slugs are folded to keep cardinality bounded.
func (m *Metrics) IncrementCreated(source string) {
	m.RequestsCreated.WithLabelValues(source).Inc()
}

func (m *Metrics) IncrementTransition(from, to, actorKind string) {
	m.Transitions.WithLabelValues(from, to, actorKind).Inc()
}

func (m *Metrics) IncrementRejected(code string) {
	m.TransitionsRejected.WithLabelValues(code).Inc()
}

func (m *Metrics) IncrementAdminOverride(to string) {
	m.AdminOverrides.WithLabelValues(to).Inc()
}

// IncrementConflict records a version conflict; outcome is "retried" or "surfaced".
func (m *Metrics) IncrementConflict(outcome string) {
	m.WriteConflicts.WithLabelValues(outcome).Inc()
}

// ObserveOracle records the duration of an oracle call.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveOracle(start time.Time) {
	m.OracleDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementOracleFailure(category string) {
	m.OracleFailures.WithLabelValues(category).Inc()
}

func (m *Metrics) ObserveCandidates(n int) {
	m.OracleCandidates.Observe(float64(n))
}

func (m *Metrics) IncrementPublishFailure() {
	m.EventPublishFailures.Inc()
}

func (m *Metrics) IncrementWebhookDuplicate(source string) {
	m.WebhookDuplicates.WithLabelValues(source).Inc()
}

// ObserveStatistics records the duration of a statistics aggregation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveStatistics(start time.Time) {
	m.StatisticsDuration.Observe(time.Since(start).Seconds())
}

// ObserveHTTP records one API request. route is the chi pattern, never the
// raw path, so request ids do not become label values.
func (m *Metrics) ObserveHTTP(method, route string, status int, start time.Time) {
	if m == nil {
		return
	}
	m.HTTPDuration.WithLabelValues(method, route, statusClass(status)).Observe(time.Since(start).Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
