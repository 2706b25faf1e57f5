// Package outbox republishes committed-but-unpublished event records,
// closing the gap between the local transaction and the bus.
package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/skybook/booking-saga/internal/adapters/crdb"
	"github.com/skybook/booking-saga/internal/bus"
	"github.com/skybook/booking-saga/internal/event"
	"github.com/skybook/booking-saga/internal/observability"
)

// Source is the persistence side of the relay, implemented by the crdb
// repository.
type Source interface {
	GetUnpublishedOutbox(ctx context.Context, limit int) ([]crdb.OutboxRecord, error)
	MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error
	OldestUnpublishedAge(ctx context.Context, now time.Time) (time.Duration, error)
}

type Relay struct {
	source    Source
	publisher bus.Publisher
	logger    observability.Logger

	interval    time.Duration
	batch       int
	maxAttempts int
	baseDelay   time.Duration
}

func NewRelay(source Source, publisher bus.Publisher, logger observability.Logger, interval time.Duration, batch int) *Relay {
	if interval <= 0 {
		interval = time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &Relay{
		source:      source,
		publisher:   publisher,
		logger:      logger,
		interval:    interval,
		batch:       batch,
		maxAttempts: 5,
		baseDelay:   100 * time.Millisecond,
	}
}

func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.drain(ctx)
		}
	}
}

// drain publishes pending records in commit order. When a record cannot be
// published even after backoff, its whole partition is parked for this tick
// so later records of the same reservation never overtake it.
func (r *Relay) drain(ctx context.Context) {
	records, err := r.source.GetUnpublishedOutbox(ctx, r.batch)
	if err != nil {
		r.logger.Error("read outbox", err)
		return
	}

	blocked := make(map[string]bool)
	for _, rec := range records {
		if blocked[rec.PartitionKey] {
			continue
		}
		env, err := rec.Envelope()
		if err != nil {
			r.logger.WithField("outbox_id", rec.ID.String()).Error("corrupt outbox payload", err)
			blocked[rec.PartitionKey] = true
			continue
		}
		if err := r.publishWithBackoff(ctx, env); err != nil {
			r.logger.WithField("event_type", rec.EventType).Warn("publish failed, parking partition", err)
			blocked[rec.PartitionKey] = true
			continue
		}
		if err := r.source.MarkPublished(ctx, rec.ID, time.Now().UTC()); err != nil {
			r.logger.WithField("outbox_id", rec.ID.String()).Error("mark published", err)
			blocked[rec.PartitionKey] = true
		}
	}

	if age, err := r.source.OldestUnpublishedAge(ctx, time.Now().UTC()); err == nil {
		observability.OutboxLag.Set(age.Seconds())
	}
}

func (r *Relay) publishWithBackoff(ctx context.Context, env event.Envelope) error {
	var err error
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if attempt > 0 {
			observability.PublishRetries.Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.baseDelay << (attempt - 1)):
			}
		}
		if err = r.publisher.Publish(ctx, env); err == nil {
			return nil
		}
	}
	return err
}
