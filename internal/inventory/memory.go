package inventory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/skybook/booking-saga/internal/clock"
	"github.com/skybook/booking-saga/internal/domain"
)

// Memory is an in-process Holder for tests and development mode.
type Memory struct {
	clock clock.Clock

	mu    sync.Mutex
	holds map[string]domain.SeatHold
}

func NewMemory(clk clock.Clock) *Memory {
	return &Memory{clock: clk, holds: make(map[string]domain.SeatHold)}
}

func seatKey(flightRef, seatRef string) string {
	return flightRef + "/" + seatRef
}

func (m *Memory) Acquire(_ context.Context, flightRef, seatRef string, reservationID uuid.UUID, ttl time.Duration) (domain.SeatHold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	key := seatKey(flightRef, seatRef)

	if cur, ok := m.holds[key]; ok {
		switch {
		case cur.Status == domain.HoldAllocated:
			return domain.SeatHold{}, domain.ErrConflict
		case cur.Status == domain.HoldActive && !cur.Expired(now):
			if cur.ReservationID == reservationID {
				return cur, nil
			}
			return domain.SeatHold{}, domain.ErrConflict
		}
	}

	hold := domain.SeatHold{
		FlightRef:     flightRef,
		SeatRef:       seatRef,
		ReservationID: reservationID,
		Status:        domain.HoldActive,
		ExpiresAt:     now.Add(ttl),
		Version:       1,
	}
	m.holds[key] = hold
	return hold, nil
}

func (m *Memory) Release(_ context.Context, flightRef, seatRef string, reservationID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := seatKey(flightRef, seatRef)
	cur, ok := m.holds[key]
	if !ok || cur.ReservationID != reservationID {
		return nil
	}
	if cur.Status != domain.HoldActive && cur.Status != domain.HoldAllocated {
		return nil
	}
	cur.Status = domain.HoldReleased
	cur.Version++
	m.holds[key] = cur
	return nil
}

func (m *Memory) Confirm(_ context.Context, flightRef, seatRef string, reservationID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	key := seatKey(flightRef, seatRef)
	cur, ok := m.holds[key]
	if !ok || cur.Status != domain.HoldActive || cur.Expired(now) || cur.ReservationID != reservationID {
		return domain.ErrConflict
	}
	cur.Status = domain.HoldAllocated
	cur.Version++
	m.holds[key] = cur
	return nil
}

func (m *Memory) Expired(_ context.Context, now time.Time) ([]domain.SeatHold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SeatHold
	for _, h := range m.holds {
		if h.Expired(now) {
			out = append(out, h)
		}
	}
	return out, nil
}
