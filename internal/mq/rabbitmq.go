package mq

import (
	"context"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

var dialFn = amqp091.Dial

const (
	dialAttempts = 5
	dialBackoff  = 2 * time.Second
)

// Connect dials RabbitMQ, retrying while the broker comes up, and declares
// a durable fanout exchange for publishing.
func Connect(url, exchange string, log logrus.FieldLogger) (*amqp091.Connection, *Publisher, error) {
	return connect(url, exchange, log, dialBackoff)
}

func connect(url, exchange string, log logrus.FieldLogger, backoff time.Duration) (*amqp091.Connection, *Publisher, error) {
	var conn *amqp091.Connection
	var err error

	for i := 0; i < dialAttempts; i++ {
		conn, err = dialFn(url)
		if err == nil {
			break
		}
		log.WithError(err).Warnf("rabbitmq not ready, retrying (%d/%d)", i+1, dialAttempts)
		time.Sleep(backoff)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("connect rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return conn, NewPublisher(ch), nil
}

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

type Publisher struct {
	ch channel
}

func NewPublisher(ch channel) *Publisher {
	return &Publisher{ch: ch}
}

// Publish sends a persistent JSON message.
func (p *Publisher) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	err := p.ch.PublishWithContext(ctx,
		exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
		})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", exchange, err)
	}
	return nil
}
