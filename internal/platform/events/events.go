// Package events publishes ledger domain events after their transaction has
// committed. Delivery is best-effort: a failed publish is logged and never
// undoes the committed change.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Event types.
const (
	InvoiceCreated     = "invoice.created"
	InvoiceUpdated     = "invoice.updated"
	InvoiceCancelled   = "invoice.cancelled"
	InvoiceDeleted     = "invoice.deleted"
	PaymentRecorded    = "payment.recorded"
	PaymentReversed    = "payment.reversed"
	ResourceStatus     = "resource.status_changed"
	AdmissionCreated   = "admission.created"
	AdmissionDischarge = "admission.discharged"
	AdmissionDeleted   = "admission.deleted"
	TripScheduled      = "ambulance_trip.scheduled"
	TripStarted        = "ambulance_trip.started"
	TripCompleted      = "ambulance_trip.completed"
	TripCancelled      = "ambulance_trip.cancelled"
	TripDeleted        = "ambulance_trip.deleted"
)

type Event struct {
	ID         uuid.UUID   `json:"id"`
	Type       string      `json:"type"`
	Key        string      `json:"key"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

func New(eventType, key string, payload interface{}) Event {
	return Event{
		ID:         uuid.New(),
		Type:       eventType,
		Key:        key,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Emit publishes evt and logs, rather than returns, any failure.
func Emit(ctx context.Context, p Publisher, logger zerolog.Logger, evt Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, evt); err != nil {
		logger.Warn().Err(err).Str("event", evt.Type).Str("key", evt.Key).Msg("publish event")
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON to one topic, keyed by aggregate id so
// events for an aggregate stay ordered within a partition.
type KafkaPublisher struct {
	w messageWriter
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: false,
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", evt.Type, err)
	}
	msg := kafka.Message{
		Key:   []byte(evt.Key),
		Value: body,
		Time:  evt.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(evt.Type)},
			{Key: "event-id", Value: []byte(evt.ID.String())},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write event %s: %w", evt.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, evt Event) error {
	p.logger.Info().
		Str("event", evt.Type).
		Str("key", evt.Key).
		Str("event_id", evt.ID.String()).
		Interface("payload", evt.Payload).
		Msg("domain event")
	return nil
}
