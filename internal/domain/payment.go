package domain

import (
	"github.com/google/uuid"
)

type PaymentStatus string

const (
	PaymentInitiated    PaymentStatus = "INITIATED"
	PaymentSucceeded    PaymentStatus = "SUCCEEDED"
	PaymentDeclined     PaymentStatus = "DECLINED"
	PaymentGatewayError PaymentStatus = "GATEWAY_ERROR"
	PaymentRefunded     PaymentStatus = "REFUNDED"
)

// Payment is owned by the gateway adapter; the coordinator only references
// it by id through payment result events. Amount is in minor units.
type Payment struct {
	ID            uuid.UUID
	ReservationID uuid.UUID
	Amount        int64
	Currency      string
	Status        PaymentStatus
	Attempts      int
}
