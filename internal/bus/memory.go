package bus

import (
	"context"
	"sync"
	"time"

	"github.com/skybook/booking-saga/internal/event"
	"github.com/skybook/booking-saga/internal/observability"
)

// Memory is an in-process transport ordered per partition key. Failed
// handlers are redelivered in place a bounded number of times, then dropped
// with an error log; unlike the broker it keeps no backlog across restarts.
// Used in tests and in single-process development mode.
type Memory struct {
	logger observability.Logger

	mu   sync.RWMutex
	subs []*subscription
}

type subscription struct {
	types map[string]struct{}
	pool  *Pool
}

func NewMemory(logger observability.Logger) *Memory {
	return &Memory{logger: logger}
}

// Subscribe registers a consumer group for the given event types. Each group
// gets its own worker pool; failed handlers are retried in place so a
// partition never observes reordering.
func (m *Memory) Subscribe(ctx context.Context, workers int, types []string, h Handler) {
	pool := NewPool(workers, h, m.logger, WithRedelivery(5, 20*time.Millisecond))
	pool.Start(ctx)

	ts := make(map[string]struct{}, len(types))
	for _, t := range types {
		ts[t] = struct{}{}
	}

	m.mu.Lock()
	m.subs = append(m.subs, &subscription{types: ts, pool: pool})
	m.mu.Unlock()
}

func (m *Memory) Publish(ctx context.Context, env event.Envelope) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sub := range m.subs {
		if _, ok := sub.types[env.EventType]; !ok {
			continue
		}
		sub.pool.Dispatch(env, nil)
	}
	return nil
}

// Close drains every consumer group.
func (m *Memory) Close() {
	m.mu.Lock()
	subs := m.subs
	m.subs = nil
	m.mu.Unlock()
	for _, sub := range subs {
		sub.pool.Close()
	}
}
