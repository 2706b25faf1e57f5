package rabbit

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/skybook/booking-saga/internal/bus"
	"github.com/skybook/booking-saga/internal/event"
	"github.com/skybook/booking-saga/internal/observability"
)

// Consumer binds a durable queue to a set of event types and feeds
// deliveries into a partition-ordered worker pool. Handler failure nacks
// with requeue, so delivery is at-least-once.
type Consumer struct {
	ch     *amqp.Channel
	queue  string
	logger observability.Logger
}

func NewConsumer(conn *amqp.Connection, queue string, eventTypes []string, logger observability.Logger) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, err
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, err
	}
	for _, t := range eventTypes {
		if err := ch.QueueBind(queue, t, Exchange, false, nil); err != nil {
			return nil, err
		}
	}
	return &Consumer{ch: ch, queue: queue, logger: logger}, nil
}

// Run consumes until ctx ends. Prefetch matches the pool size so workers
// stay busy without flooding one partition.
func (c *Consumer) Run(ctx context.Context, workers int, handler bus.Handler) error {
	if err := c.ch.Qos(workers*4, 0, false); err != nil {
		return err
	}
	deliveries, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	pool := bus.NewPool(workers, handler, c.logger)
	pool.Start(ctx)
	defer pool.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			var env event.Envelope
			if err := json.Unmarshal(d.Body, &env); err != nil {
				c.logger.WithField("queue", c.queue).Error("malformed envelope, dropping", err)
				d.Nack(false, false)
				continue
			}
			pool.Dispatch(env, func(handlerErr error) {
				if handlerErr != nil {
					c.logger.WithField("event_type", env.EventType).Warn("handler failed, requeueing", handlerErr)
					d.Nack(false, true)
					return
				}
				d.Ack(false)
			})
		}
	}
}
