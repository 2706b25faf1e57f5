package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/skybook/booking-saga/internal/idempotency"
)

const (
	statePending = "pending"
	stateApplied = "applied"
)

// Ledger is the Redis-backed idempotency ledger. A key is reserved with SET
// NX so exactly one concurrent consumer wins; everything else observes a
// duplicate. Errors from Redis propagate so callers fail closed.
type Ledger struct {
	client *redis.Client
	ttl    time.Duration
}

func NewLedger(client *redis.Client, ttl time.Duration) *Ledger {
	return &Ledger{client: client, ttl: ttl}
}

func ledgerKey(consumer, key string) string {
	return "idem:" + consumer + ":" + key
}

func (l *Ledger) CheckAndReserve(ctx context.Context, consumer, key string) (idempotency.Status, error) {
	ok, err := l.client.SetNX(ctx, ledgerKey(consumer, key), statePending, l.ttl).Result()
	if err != nil {
		return idempotency.Duplicate, err
	}
	if !ok {
		return idempotency.Duplicate, nil
	}
	return idempotency.Fresh, nil
}

func (l *Ledger) Finalize(ctx context.Context, consumer, key string) error {
	return l.client.Set(ctx, ledgerKey(consumer, key), stateApplied, l.ttl).Err()
}

func (l *Ledger) Release(ctx context.Context, consumer, key string) error {
	return l.client.Del(ctx, ledgerKey(consumer, key)).Err()
}
