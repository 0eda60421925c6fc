package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"reslock/pkg/kafka"
	"reslock/pkg/logger"
	"reslock/pkg/model"
)

type fakeProducer struct {
	messages []kafka.Message
	errs     []error
}

func (f *fakeProducer) Publish(ctx context.Context, msg kafka.Message) error {
	f.messages = append(f.messages, msg)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	return nil
}

func testLock() *model.Lock {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	return &model.Lock{
		ID:         "lock-1",
		ResourceID: "room-101",
		HolderID:   "guest-a",
		Window:     model.NewWindow(now.AddDate(0, 0, 7), now.AddDate(0, 0, 9)),
		Status:     model.LockStatusConverted,
		CreatedAt:  now,
		ExpiresAt:  now.Add(15 * time.Minute),
		UpdatedAt:  now,
	}
}

func TestKafkaPublisher_Publish(t *testing.T) {
	producer := &fakeProducer{}
	pub := NewKafkaPublisher(producer, logger.Nop())

	event := LockEvent{
		Type:       LockConverted,
		Lock:       testLock(),
		Payload:    json.RawMessage(`{"guests":2}`),
		OccurredAt: time.Date(2026, 5, 1, 10, 5, 0, 0, time.UTC),
	}
	if err := pub.Publish(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(producer.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(producer.messages))
	}
	msg := producer.messages[0]
	if msg.Key != "room-101" {
		t.Errorf("expected key room-101, got %s", msg.Key)
	}
	if msg.GetEventType() != string(LockConverted) {
		t.Errorf("expected event type %s, got %s", LockConverted, msg.GetEventType())
	}
	if msg.GetCorrelationID() != "lock-1" {
		t.Errorf("expected correlation id lock-1, got %s", msg.GetCorrelationID())
	}

	var decoded LockEvent
	if err := msg.DecodeValue(&decoded); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if string(decoded.Payload) != `{"guests":2}` {
		t.Errorf("expected payload to round trip, got %s", decoded.Payload)
	}
	if decoded.Lock.Window.Nights() != 2 {
		t.Errorf("expected 2 nights, got %d", decoded.Lock.Window.Nights())
	}
}

func TestKafkaPublisher_RetriesTransient(t *testing.T) {
	producer := &fakeProducer{errs: []error{errors.New("i/o timeout")}}
	pub := NewKafkaPublisher(producer, logger.Nop())
	pub.backoff = time.Millisecond

	err := pub.Publish(context.Background(), LockEvent{Type: LockAcquired, Lock: testLock()})
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if len(producer.messages) != 2 {
		t.Errorf("expected 2 attempts, got %d", len(producer.messages))
	}
}

func TestKafkaPublisher_PermanentFailure(t *testing.T) {
	permanent := errors.New("unknown topic or partition")
	producer := &fakeProducer{errs: []error{permanent}}
	pub := NewKafkaPublisher(producer, logger.Nop())

	err := pub.Publish(context.Background(), LockEvent{Type: LockReleased, Lock: testLock()})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if len(producer.messages) != 1 {
		t.Errorf("expected no retry, got %d attempts", len(producer.messages))
	}
}

func TestKafkaPublisher_NilLock(t *testing.T) {
	pub := NewKafkaPublisher(&fakeProducer{}, logger.Nop())
	if err := pub.Publish(context.Background(), LockEvent{Type: LockExpired}); !errors.Is(err, kafka.ErrInvalidMessage) {
		t.Errorf("expected ErrInvalidMessage, got %v", err)
	}
}
