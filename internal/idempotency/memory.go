package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/skybook/booking-saga/internal/clock"
)

type record struct {
	finalized bool
	expiresAt time.Time
}

// Memory is an in-process Ledger for tests and single-node development.
type Memory struct {
	clock clock.Clock
	ttl   time.Duration

	mu      sync.Mutex
	records map[string]record
}

func NewMemory(clk clock.Clock, ttl time.Duration) *Memory {
	return &Memory{
		clock:   clk,
		ttl:     ttl,
		records: make(map[string]record),
	}
}

func memkey(consumer, key string) string {
	return consumer + ":" + key
}

func (m *Memory) CheckAndReserve(_ context.Context, consumer, key string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	k := memkey(consumer, key)
	if rec, ok := m.records[k]; ok && rec.expiresAt.After(now) {
		return Duplicate, nil
	}
	m.records[k] = record{expiresAt: now.Add(m.ttl)}
	return Fresh, nil
}

func (m *Memory) Finalize(_ context.Context, consumer, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[memkey(consumer, key)] = record{finalized: true, expiresAt: m.clock.Now().Add(m.ttl)}
	return nil
}

func (m *Memory) Release(_ context.Context, consumer, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, memkey(consumer, key))
	return nil
}
