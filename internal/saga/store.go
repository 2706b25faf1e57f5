package saga

import (
	"context"

	"github.com/google/uuid"
	"github.com/skybook/booking-saga/internal/domain"
	"github.com/skybook/booking-saga/internal/event"
)

// Transition is one forward step of the reservation state machine, committed
// atomically with its outbox records.
type Transition struct {
	To     domain.ReservationStatus
	Reason domain.ReasonCode
	// Append is written to the outbox in the same transaction.
	Append []event.Envelope
	// Suppress drops unpublished outbox rows of these event types for the
	// reservation, in the same transaction. Used when a creation fails on
	// seat conflict before anything may leak to the bus.
	Suppress []string
}

// Store persists reservations and their outbox records. Implementations
// commit each call as one local transaction.
type Store interface {
	// CreateReservation inserts the reservation together with its
	// reservation.created outbox record.
	CreateReservation(ctx context.Context, res domain.Reservation, created event.Envelope) error

	Get(ctx context.Context, id uuid.UUID) (domain.Reservation, error)

	// Apply performs the transition guarded by the optimistic version.
	// ErrConflict on version mismatch or illegal transition.
	Apply(ctx context.Context, id uuid.UUID, expectVersion int64, tr Transition) (domain.Reservation, error)
}

// Catalog validates the delegated references on creation and prices the
// seat. Unknown references surface as ErrInvalidInput.
type Catalog interface {
	ValidateBooking(ctx context.Context, passengerRef, flightRef, seatRef string) (amount int64, currency string, err error)
}
