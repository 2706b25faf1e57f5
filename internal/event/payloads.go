package event

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/skybook/booking-saga/internal/domain"
)

type ReservationCreated struct {
	ReservationID uuid.UUID `json:"reservation_id"`
	PassengerRef  string    `json:"passenger_ref"`
	FlightRef     string    `json:"flight_ref"`
	SeatRef       string    `json:"seat_ref"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
}

type PaymentSucceeded struct {
	ReservationID uuid.UUID `json:"reservation_id"`
	PaymentID     uuid.UUID `json:"payment_id"`
	Amount        int64     `json:"amount"`
}

type PaymentFailed struct {
	ReservationID uuid.UUID         `json:"reservation_id"`
	PaymentID     uuid.UUID         `json:"payment_id"`
	Amount        int64             `json:"amount"`
	ReasonCode    domain.ReasonCode `json:"reason_code"`
}

type ReservationConfirmed struct {
	ReservationID uuid.UUID `json:"reservation_id"`
	SeatRef       string    `json:"seat_ref"`
	FlightRef     string    `json:"flight_ref"`
}

type ReservationCancelled struct {
	ReservationID uuid.UUID         `json:"reservation_id"`
	ReasonCode    domain.ReasonCode `json:"reason_code"`
}

// Decode unmarshals the envelope payload into its tagged variant. The set of
// event types is closed; anything else is invalid input, not silently
// skipped.
func Decode(env Envelope) (any, error) {
	var (
		out any
		err error
	)
	switch env.EventType {
	case TypeReservationCreated:
		var p ReservationCreated
		err = json.Unmarshal(env.Payload, &p)
		out = p
	case TypePaymentSucceeded:
		var p PaymentSucceeded
		err = json.Unmarshal(env.Payload, &p)
		out = p
	case TypePaymentFailed:
		var p PaymentFailed
		err = json.Unmarshal(env.Payload, &p)
		out = p
	case TypeReservationConfirmed:
		var p ReservationConfirmed
		err = json.Unmarshal(env.Payload, &p)
		out = p
	case TypeReservationCancelled:
		var p ReservationCancelled
		err = json.Unmarshal(env.Payload, &p)
		out = p
	default:
		return nil, errors.Wrapf(domain.ErrInvalidInput, "unknown event type %q", env.EventType)
	}
	if err != nil {
		return nil, errors.Wrapf(domain.ErrInvalidInput, "decode %s: %v", env.EventType, err)
	}
	return out, nil
}
