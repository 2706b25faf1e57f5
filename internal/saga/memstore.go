package saga

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/skybook/booking-saga/internal/clock"
	"github.com/skybook/booking-saga/internal/domain"
	"github.com/skybook/booking-saga/internal/event"
)

type memOutbox struct {
	env        event.Envelope
	suppressed bool
	published  bool
}

// MemoryStore is an in-process Store for tests and development mode. Records
// keep insertion order so the outbox contract (publish in commit order per
// reservation) holds.
type MemoryStore struct {
	clock clock.Clock

	mu           sync.Mutex
	reservations map[uuid.UUID]domain.Reservation
	outbox       []*memOutbox
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	return &MemoryStore{clock: clk, reservations: make(map[uuid.UUID]domain.Reservation)}
}

func (s *MemoryStore) CreateReservation(_ context.Context, res domain.Reservation, created event.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reservations[res.ID]; ok {
		return domain.ErrConflict
	}
	s.reservations[res.ID] = res
	s.outbox = append(s.outbox, &memOutbox{env: created})
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.reservations[id]
	if !ok {
		return domain.Reservation{}, domain.ErrNotFound
	}
	return res, nil
}

func (s *MemoryStore) Apply(_ context.Context, id uuid.UUID, expectVersion int64, tr Transition) (domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.reservations[id]
	if !ok {
		return domain.Reservation{}, domain.ErrNotFound
	}
	if res.Version != expectVersion {
		return domain.Reservation{}, errors.Wrapf(domain.ErrConflict, "version %d, expected %d", res.Version, expectVersion)
	}
	if !domain.CanTransition(res.Status, tr.To) {
		return domain.Reservation{}, errors.Wrapf(domain.ErrConflict, "illegal transition %s -> %s", res.Status, tr.To)
	}

	res.Status = tr.To
	res.Reason = tr.Reason
	res.Version++
	res.UpdatedAt = s.clock.Now()
	s.reservations[id] = res

	for _, suppress := range tr.Suppress {
		for _, rec := range s.outbox {
			if !rec.published && rec.env.PartitionKey == id.String() && rec.env.EventType == suppress {
				rec.suppressed = true
			}
		}
	}
	for _, env := range tr.Append {
		s.outbox = append(s.outbox, &memOutbox{env: env})
	}
	return res, nil
}

// Unpublished returns pending outbox envelopes in commit order.
func (s *MemoryStore) Unpublished(limit int) []event.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []event.Envelope
	for _, rec := range s.outbox {
		if rec.published || rec.suppressed {
			continue
		}
		out = append(out, rec.env)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// MarkPublished flags the record carrying the given idempotency key.
func (s *MemoryStore) MarkPublished(idempotencyKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.outbox {
		if rec.env.IdempotencyKey == idempotencyKey {
			rec.published = true
		}
	}
}
