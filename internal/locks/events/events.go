package events

import (
	"context"
	"encoding/json"
	"time"

	"reslock/pkg/kafka"
	"reslock/pkg/logger"
	"reslock/pkg/model"
)

type EventType string

const (
	LockAcquired  EventType = "lock.acquired"
	LockReleased  EventType = "lock.released"
	LockConverted EventType = "lock.converted"
	LockExpired   EventType = "lock.expired"
)

const (
	schemaVersion = "1"
	source        = "reslock"
)

// LockEvent is a lifecycle notification. A lock.converted event is the hand-off to the
// booking side and carries the conversion payload.
type LockEvent struct {
	Type       EventType       `json:"type"`
	Lock       *model.Lock     `json:"lock"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Publisher delivers lifecycle events after the state change has been committed.
type Publisher interface {
	Publish(ctx context.Context, event LockEvent) error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, LockEvent) error { return nil }

// MessageProducer is satisfied by *kafka.Producer.
type MessageProducer interface {
	Publish(ctx context.Context, msg kafka.Message) error
}

// KafkaPublisher writes events keyed by resource id so a resource's history stays ordered
// within one partition.
type KafkaPublisher struct {
	producer   MessageProducer
	log        *logger.Logger
	maxRetries int
	backoff    time.Duration
}

func NewKafkaPublisher(producer MessageProducer, log *logger.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		producer:   producer,
		log:        log,
		maxRetries: 2,
		backoff:    100 * time.Millisecond,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event LockEvent) error {
	if event.Lock == nil {
		return kafka.ErrInvalidMessage
	}

	msg := kafka.NewMessage().
		WithKey(event.Lock.ResourceID).
		WithEventType(string(event.Type)).
		WithCorrelationID(event.Lock.ID).
		WithSchemaVersion(schemaVersion).
		WithSource(source).
		WithTimestamp(event.OccurredAt).
		WithValue(event).
		Build()

	var err error
	for attempt := 0; ; attempt++ {
		err = p.producer.Publish(ctx, msg)
		if !kafka.ShouldRetry(err, attempt, p.maxRetries) {
			return err
		}
		p.log.Warn("Retrying lock event publish",
			"event_type", event.Type,
			"lock_id", event.Lock.ID,
			"attempt", attempt+1,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.backoff * time.Duration(attempt+1)):
		}
	}
}
