// Package idempotency provides the dedupe ledger that keeps redelivered
// messages from being applied to state twice.
package idempotency

import "context"

type Status int

const (
	// Fresh means the key was reserved by this caller; it must Finalize on
	// success or Release on failure before returning.
	Fresh Status = iota
	// Duplicate means the key was already reserved or applied; the caller
	// must skip all state mutation and acknowledge the message.
	Duplicate
)

// Ledger records (consumer, idempotency key) pairs with a TTL. A store error
// must fail closed: the caller rejects processing and lets the transport
// redeliver, rather than risking a double effect.
type Ledger interface {
	CheckAndReserve(ctx context.Context, consumer, key string) (Status, error)
	Finalize(ctx context.Context, consumer, key string) error
	Release(ctx context.Context, consumer, key string) error
}
