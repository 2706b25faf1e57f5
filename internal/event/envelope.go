package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	TypeReservationCreated   = "reservation.created"
	TypeReservationConfirmed = "reservation.confirmed"
	TypeReservationCancelled = "reservation.cancelled"
	TypePaymentSucceeded     = "payment.succeeded"
	TypePaymentFailed        = "payment.failed"
)

// Envelope carries one event across the bus. The partition key is the
// reservation id, so every event for one reservation shares a partition and
// is delivered in order. The idempotency key is stable across redelivery.
type Envelope struct {
	EventType      string          `json:"event_type"`
	PartitionKey   string          `json:"partition_key"`
	IdempotencyKey string          `json:"idempotency_key"`
	CausationID    string          `json:"causation_id,omitempty"`
	CorrelationID  string          `json:"correlation_id,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// NewEnvelope builds an envelope partitioned by reservation id with a fresh
// idempotency key.
func NewEnvelope(eventType string, reservationID uuid.UUID, payload any, now time.Time) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventType:      eventType,
		PartitionKey:   reservationID.String(),
		IdempotencyKey: uuid.New().String(),
		CorrelationID:  reservationID.String(),
		Payload:        raw,
		OccurredAt:     now,
	}, nil
}
