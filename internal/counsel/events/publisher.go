// Package events announces committed counsel status changes to other
// services. Delivery is best effort: the lifecycle has already committed when
// an event is published, so a failure is logged and counted, never surfaced.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/models"
)

// EventType is carried in the record header so consumers can route without
// decoding the payload.
const EventType = "counsel.status_changed"

// StatusChanged is the wire form of one status history entry.
type StatusChanged struct {
	EventID          string    `json:"eventId"`
	CounselRequestID string    `json:"counselRequestId"`
	FromStatus       string    `json:"fromStatus,omitempty"`
	ToStatus         string    `json:"toStatus"`
	ChangedBy        string    `json:"changedBy"`
	ActorKind        string    `json:"actorKind"`
	Reason           string    `json:"reason"`
	ChangedAt        time.Time `json:"changedAt"`
}

// FromEntry converts a history entry to its event.
func FromEntry(entry models.StatusHistoryEntry) StatusChanged {
	return StatusChanged{
		EventID:          entry.ID.String(),
		CounselRequestID: entry.CounselRequestID.String(),
		FromStatus:       string(entry.FromStatus),
		ToStatus:         string(entry.ToStatus),
		ChangedBy:        entry.ChangedBy,
		ActorKind:        string(entry.ActorKind),
		Reason:           entry.Reason,
		ChangedAt:        entry.ChangedAt.UTC(),
	}
}

// Producer is the slice of *kgo.Client the publisher needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// KafkaPublisher writes one record per status change, keyed by request id so
// a request's events stay ordered within a partition.
type KafkaPublisher struct {
	producer Producer
	topic    string
	timeout  time.Duration
	logger   *slog.Logger
}

type Option func(*KafkaPublisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *KafkaPublisher) {
		p.logger = logger
	}
}

// WithTimeout bounds each publish so a slow broker cannot hold the caller.
func WithTimeout(d time.Duration) Option {
	return func(p *KafkaPublisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func NewKafkaPublisher(producer Producer, topic string, opts ...Option) *KafkaPublisher {
	p := &KafkaPublisher{
		producer: producer,
		topic:    topic,
		timeout:  3 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PublishStatusChange produces the event synchronously.
func (p *KafkaPublisher) PublishStatusChange(ctx context.Context, entry models.StatusHistoryEntry) error {
	payload, err := json.Marshal(FromEntry(entry))
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}

	// The caller's request may finish before the broker answers.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(entry.CounselRequestID.String()),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(EventType)},
		},
		Timestamp: entry.ChangedAt,
	}
	if err := p.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce status event: %w", err)
	}
	if p.logger != nil {
		p.logger.DebugContext(ctx, "status event published",
			"counsel_request_id", entry.CounselRequestID.String(),
			"to_status", string(entry.ToStatus),
		)
	}
	return nil
}

// NoopPublisher drops events. Used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishStatusChange(context.Context, models.StatusHistoryEntry) error {
	return nil
}
