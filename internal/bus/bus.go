// Package bus abstracts the at-least-once, partition-ordered message
// transport. Messages sharing a partition key are processed strictly in
// order by one worker; different partitions run in parallel.
package bus

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/skybook/booking-saga/internal/event"
	"github.com/skybook/booking-saga/internal/observability"
)

type Publisher interface {
	Publish(ctx context.Context, env event.Envelope) error
}

// Handler processes one delivered envelope. A non-nil error triggers
// redelivery by the transport.
type Handler func(ctx context.Context, env event.Envelope) error

type task struct {
	env  event.Envelope
	done func(error)
}

// Pool fans deliveries out to a fixed set of workers, binding each partition
// key to one worker so per-partition order is preserved.
type Pool struct {
	handler    Handler
	logger     observability.Logger
	queues     []chan task
	retries    int
	retryDelay time.Duration
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

type PoolOption func(*Pool)

// WithRedelivery makes the pool itself retry a failed handler in place,
// before moving to the next message of the partition. Transports with native
// redelivery (AMQP nack) leave this at zero and requeue instead.
func WithRedelivery(attempts int, delay time.Duration) PoolOption {
	return func(p *Pool) {
		p.retries = attempts
		p.retryDelay = delay
	}
}

func NewPool(workers int, handler Handler, logger observability.Logger, opts ...PoolOption) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		handler: handler,
		logger:  logger,
		queues:  make([]chan task, workers),
	}
	for _, opt := range opts {
		opt(p)
	}
	for i := range p.queues {
		p.queues[i] = make(chan task, 64)
	}
	return p
}

func (p *Pool) Start(ctx context.Context) {
	for _, q := range p.queues {
		q := q
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for t := range q {
				t.done(p.process(ctx, t.env))
			}
		}()
	}
}

func (p *Pool) process(ctx context.Context, env event.Envelope) error {
	err := p.handler(ctx, env)
	for attempt := 0; err != nil && attempt < p.retries; attempt++ {
		p.logger.WithField("event_type", env.EventType).
			WithField("partition_key", env.PartitionKey).
			Warn("handler failed, redelivering", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.retryDelay):
		}
		err = p.handler(ctx, env)
	}
	return err
}

// Dispatch routes the envelope to the worker owning its partition. done is
// invoked on that worker after processing, with the final handler error.
func (p *Pool) Dispatch(env event.Envelope, done func(error)) {
	if done == nil {
		done = func(error) {}
	}
	p.queues[p.partition(env.PartitionKey)] <- task{env: env, done: done}
}

func (p *Pool) partition(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.queues)))
}

// Close stops accepting work and waits for in-flight tasks to drain.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		for _, q := range p.queues {
			close(q)
		}
	})
	p.wg.Wait()
}
