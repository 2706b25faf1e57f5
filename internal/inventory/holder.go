// Package inventory owns seat holds: short-lived optimistic locks that a
// confirmed reservation converts into a permanent allocation.
package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/skybook/booking-saga/internal/domain"
)

// Holder enforces the one-active-hold-per-seat invariant. Contention is
// resolved by rejecting the later caller with ErrConflict; nothing blocks.
type Holder interface {
	// Acquire inserts a hold unless an unexpired one already exists for the
	// seat. Re-acquiring for the same reservation returns the existing hold.
	Acquire(ctx context.Context, flightRef, seatRef string, reservationID uuid.UUID, ttl time.Duration) (domain.SeatHold, error)

	// Release drops the reservation's own hold on the seat, including one
	// already converted into an allocation; that is how a cancellation rolls
	// the seat back. Releasing a missing or foreign hold is a no-op.
	Release(ctx context.Context, flightRef, seatRef string, reservationID uuid.UUID) error

	// Confirm converts the reservation's active hold into a permanent
	// allocation. ErrConflict when the hold is missing, expired, or owned by
	// another reservation.
	Confirm(ctx context.Context, flightRef, seatRef string, reservationID uuid.UUID) error

	// Expired lists active holds whose TTL has lapsed, for the sweeper.
	Expired(ctx context.Context, now time.Time) ([]domain.SeatHold, error)
}
