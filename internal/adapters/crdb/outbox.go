package crdb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/skybook/booking-saga/internal/event"
)

type OutboxRecord struct {
	ID           uuid.UUID
	PartitionKey string
	EventType    string
	DedupeKey    string
	Payload      []byte
	CreatedAt    time.Time
	PublishedAt  *time.Time
	Status       string // NEW, PUBLISHED, SUPPRESSED
}

// Envelope rebuilds the bus envelope persisted in the record.
func (rec OutboxRecord) Envelope() (event.Envelope, error) {
	var env event.Envelope
	if err := json.Unmarshal(rec.Payload, &env); err != nil {
		return event.Envelope{}, err
	}
	return env, nil
}

func insertOutbox(ctx context.Context, tx pgx.Tx, env event.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox (id, partition_key, event_type, dedupe_key, payload_json, status, created_at)
		VALUES ($1, $2, $3, $4, $5, 'NEW', now())
	`, uuid.New(), env.PartitionKey, env.EventType, env.IdempotencyKey, payload)
	return err
}

// GetUnpublishedOutbox returns NEW records in commit order, which orders
// them per partition key as the relay requires. Concurrent relays may read
// the same batch; the dedupe key makes the double publish harmless.
func (r *Repository) GetUnpublishedOutbox(ctx context.Context, limit int) ([]OutboxRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, partition_key, event_type, dedupe_key, payload_json, created_at, published_at, status
		FROM outbox WHERE status = 'NEW'
		ORDER BY created_at ASC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []OutboxRecord
	for rows.Next() {
		var rec OutboxRecord
		if err := rows.Scan(&rec.ID, &rec.PartitionKey, &rec.EventType, &rec.DedupeKey, &rec.Payload, &rec.CreatedAt, &rec.PublishedAt, &rec.Status); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *Repository) MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox SET status = 'PUBLISHED', published_at = $2 WHERE id = $1
	`, id, publishedAt)
	return err
}

// OldestUnpublishedAge feeds the outbox lag gauge; zero when drained.
func (r *Repository) OldestUnpublishedAge(ctx context.Context, now time.Time) (time.Duration, error) {
	var createdAt time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT created_at FROM outbox WHERE status = 'NEW' ORDER BY created_at ASC LIMIT 1
	`).Scan(&createdAt)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return now.Sub(createdAt), nil
}
