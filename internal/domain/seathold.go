package domain

import (
	"time"

	"github.com/google/uuid"
)

type HoldStatus string

const (
	HoldActive    HoldStatus = "ACTIVE"
	HoldReleased  HoldStatus = "RELEASED"
	HoldAllocated HoldStatus = "ALLOCATED"
)

// SeatHold reserves one seat for one reservation until it expires, is
// released, or is converted into a permanent allocation. At most one
// unexpired ACTIVE hold may exist per (flight, seat).
type SeatHold struct {
	FlightRef     string
	SeatRef       string
	ReservationID uuid.UUID
	Status        HoldStatus
	ExpiresAt     time.Time
	Version       int64
}

func (h SeatHold) Expired(now time.Time) bool {
	return h.Status == HoldActive && !h.ExpiresAt.After(now)
}
