package domain

import (
	"time"

	"github.com/google/uuid"
)

type ReservationStatus string

const (
	ReservationPending         ReservationStatus = "PENDING"
	ReservationSeatHeld        ReservationStatus = "SEAT_HELD"
	ReservationAwaitingPayment ReservationStatus = "AWAITING_PAYMENT"
	ReservationConfirmed       ReservationStatus = "CONFIRMED"
	ReservationCancelled       ReservationStatus = "CANCELLED"
	ReservationFailed          ReservationStatus = "FAILED"
)

// ReasonCode explains a CANCELLED or FAILED outcome.
type ReasonCode string

const (
	ReasonDeclined           ReasonCode = "DECLINED"
	ReasonGatewayUnavailable ReasonCode = "GATEWAY_UNAVAILABLE"
	ReasonTimeout            ReasonCode = "TIMEOUT"
	ReasonSeatConflict       ReasonCode = "SEAT_CONFLICT"
	ReasonUserRequested      ReasonCode = "USER_REQUESTED"
)

// Reservation is the saga's aggregate. It is created PENDING, never deleted,
// and only moves forward through the transition table below.
type Reservation struct {
	ID           uuid.UUID
	PassengerRef string
	FlightRef    string
	SeatRef      string
	Status       ReservationStatus
	Reason       ReasonCode
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func NewReservation(passengerRef, flightRef, seatRef string, now time.Time) Reservation {
	return Reservation{
		ID:           uuid.New(),
		PassengerRef: passengerRef,
		FlightRef:    flightRef,
		SeatRef:      seatRef,
		Status:       ReservationPending,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (s ReservationStatus) Terminal() bool {
	switch s {
	case ReservationConfirmed, ReservationCancelled, ReservationFailed:
		return true
	}
	return false
}

var forwardTransitions = map[ReservationStatus][]ReservationStatus{
	ReservationPending:         {ReservationSeatHeld, ReservationFailed},
	ReservationSeatHeld:        {ReservationAwaitingPayment, ReservationCancelled},
	ReservationAwaitingPayment: {ReservationConfirmed, ReservationCancelled},
}

// CanTransition reports whether from -> to is a legal forward transition.
// Terminal states allow nothing; callers treat attempts from a terminal
// state as no-ops rather than errors.
func CanTransition(from, to ReservationStatus) bool {
	for _, next := range forwardTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
