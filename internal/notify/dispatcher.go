// Package notify reacts to terminal reservation events with exactly one
// notification per logical occurrence.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/skybook/booking-saga/internal/clock"
	"github.com/skybook/booking-saga/internal/domain"
	"github.com/skybook/booking-saga/internal/event"
	"github.com/skybook/booking-saga/internal/idempotency"
	"github.com/skybook/booking-saga/internal/observability"
)

// ConsumerID identifies the dispatcher in the idempotency ledger.
const ConsumerID = "notification-dispatcher"

type Notification struct {
	ReservationID  uuid.UUID
	Kind           string
	Reason         domain.ReasonCode
	IdempotencyKey string
	SentAt         time.Time
}

// Journal records dispatched notifications; the Mongo adapter implements it.
type Journal interface {
	Record(ctx context.Context, n Notification) error
}

type Dispatcher struct {
	journal Journal
	ledger  idempotency.Ledger
	clock   clock.Clock
	logger  observability.Logger
}

func NewDispatcher(journal Journal, ledger idempotency.Ledger, clk clock.Clock, logger observability.Logger) *Dispatcher {
	return &Dispatcher{journal: journal, ledger: ledger, clock: clk, logger: logger}
}

// Handle is the bus handler for reservation.confirmed and
// reservation.cancelled. Redeliveries are acknowledged without a second
// dispatch.
func (d *Dispatcher) Handle(ctx context.Context, env event.Envelope) error {
	decoded, err := event.Decode(env)
	if err != nil {
		return err
	}

	var n Notification
	switch p := decoded.(type) {
	case event.ReservationConfirmed:
		n = Notification{ReservationID: p.ReservationID, Kind: env.EventType}
	case event.ReservationCancelled:
		n = Notification{ReservationID: p.ReservationID, Kind: env.EventType, Reason: p.ReasonCode}
	default:
		return errors.Wrapf(domain.ErrInvalidInput, "dispatcher received %s", env.EventType)
	}
	n.IdempotencyKey = env.IdempotencyKey
	n.SentAt = d.clock.Now()

	status, err := d.ledger.CheckAndReserve(ctx, ConsumerID, env.IdempotencyKey)
	if err != nil {
		return err
	}
	if status == idempotency.Duplicate {
		observability.DuplicateDeliveries.WithLabelValues(ConsumerID).Inc()
		return nil
	}

	if err := d.journal.Record(ctx, n); err != nil {
		if relErr := d.ledger.Release(ctx, ConsumerID, env.IdempotencyKey); relErr != nil {
			d.logger.Error("release idempotency key", relErr)
		}
		return err
	}
	d.logger.WithField("reservation_id", n.ReservationID.String()).
		WithField("kind", n.Kind).
		Info("notification dispatched")
	return d.ledger.Finalize(ctx, ConsumerID, env.IdempotencyKey)
}

// MemoryJournal collects notifications in memory for tests.
type MemoryJournal struct {
	mu   sync.Mutex
	sent []Notification
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

func (j *MemoryJournal) Record(_ context.Context, n Notification) error {
	j.mu.Lock()
	j.sent = append(j.sent, n)
	j.mu.Unlock()
	return nil
}

func (j *MemoryJournal) Sent() []Notification {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Notification, len(j.sent))
	copy(out, j.sent)
	return out
}
