package mq

import (
	"context"
	"errors"
	"testing"

	"github.com/rabbitmq/amqp091-go"

	"github.com/lexzee/corpersafe/internal/logger"
)

type recordingChannel struct {
	exchange string
	key      string
	msg      amqp091.Publishing
	err      error
}

func (r *recordingChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp091.Publishing) error {
	r.exchange = exchange
	r.key = key
	r.msg = msg
	return r.err
}

func TestPublisherPublish(t *testing.T) {
	ch := &recordingChannel{}
	p := NewPublisher(ch)

	if err := p.Publish(context.Background(), "emergency_alerts", "trip.danger", []byte(`{"trip_id":"t1"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if ch.exchange != "emergency_alerts" || ch.key != "trip.danger" {
		t.Fatalf("unexpected routing: %s %s", ch.exchange, ch.key)
	}
	if ch.msg.DeliveryMode != amqp091.Persistent || ch.msg.ContentType != "application/json" {
		t.Fatalf("expected persistent json message")
	}
}

func TestPublisherPublishError(t *testing.T) {
	errBroker := errors.New("channel closed")
	p := NewPublisher(&recordingChannel{err: errBroker})
	if err := p.Publish(context.Background(), "x", "", nil); !errors.Is(err, errBroker) {
		t.Fatalf("expected wrapped broker error, got %v", err)
	}
}

func TestConnectGivesUp(t *testing.T) {
	oldDial := dialFn
	defer func() { dialFn = oldDial }()

	calls := 0
	dialFn = func(string) (*amqp091.Connection, error) {
		calls++
		return nil, errors.New("refused")
	}

	_, _, err := connect("amqp://nowhere", "alerts", logger.Discard(), 0)
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != dialAttempts {
		t.Fatalf("expected %d attempts, got %d", dialAttempts, calls)
	}
}
