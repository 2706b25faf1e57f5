package crdb

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS reservations (
	id UUID PRIMARY KEY,
	passenger_ref TEXT NOT NULL,
	flight_ref TEXT NOT NULL,
	seat_ref TEXT NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('PENDING', 'SEAT_HELD', 'AWAITING_PAYMENT', 'CONFIRMED', 'CANCELLED', 'FAILED')),
	reason TEXT NOT NULL DEFAULT '',
	version BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS seat_holds (
	flight_ref TEXT NOT NULL,
	seat_ref TEXT NOT NULL,
	reservation_id UUID NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('ACTIVE', 'RELEASED', 'ALLOCATED')),
	expires_at TIMESTAMPTZ NOT NULL,
	version BIGINT NOT NULL,
	id UUID NOT NULL DEFAULT gen_random_uuid() PRIMARY KEY
);

CREATE UNIQUE INDEX IF NOT EXISTS seat_holds_active
	ON seat_holds (flight_ref, seat_ref) WHERE status = 'ACTIVE';

CREATE TABLE IF NOT EXISTS outbox (
	id UUID PRIMARY KEY,
	partition_key TEXT NOT NULL,
	event_type TEXT NOT NULL,
	dedupe_key TEXT NOT NULL,
	payload_json JSONB NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('NEW', 'PUBLISHED', 'SUPPRESSED')),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS outbox_new ON outbox (created_at) WHERE status = 'NEW';
`

// Migrate creates the schema. Safe to run at every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}
