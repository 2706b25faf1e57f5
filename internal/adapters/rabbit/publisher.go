// Package rabbit carries bus envelopes over a RabbitMQ topic exchange.
// Routing key is the event type; the partition key travels in a header and
// MessageId carries the idempotency key.
package rabbit

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/skybook/booking-saga/internal/event"
)

const Exchange = "booking.events"

type Publisher struct {
	ch *amqp.Channel
}

func NewPublisher(conn *amqp.Connection) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, err
	}
	return &Publisher{ch: ch}, nil
}

func (p *Publisher) Publish(ctx context.Context, env event.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx, Exchange, env.EventType, false, false, amqp.Publishing{
		MessageId:   env.IdempotencyKey,
		ContentType: "application/json",
		Timestamp:   env.OccurredAt,
		Headers: amqp.Table{
			"partition_key":  env.PartitionKey,
			"correlation_id": env.CorrelationID,
		},
		Body: body,
	})
}
