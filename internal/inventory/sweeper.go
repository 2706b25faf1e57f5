package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/skybook/booking-saga/internal/clock"
	"github.com/skybook/booking-saga/internal/observability"
)

// ExpiryFunc notifies the saga coordinator that a hold expired while its
// reservation may still be awaiting payment.
type ExpiryFunc func(ctx context.Context, reservationID uuid.UUID) error

// Sweeper releases expired holds in the background. Reads already treat
// expired holds as absent; the sweep reclaims the rows and triggers the
// compensating cancellation.
type Sweeper struct {
	holder Holder
	clock  clock.Clock
	onExp  ExpiryFunc
	logger observability.Logger
}

func NewSweeper(holder Holder, clk clock.Clock, onExpired ExpiryFunc, logger observability.Logger) *Sweeper {
	return &Sweeper{holder: holder, clock: clk, onExp: onExpired, logger: logger}
}

func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	now := s.clock.Now()
	holds, err := s.holder.Expired(ctx, now)
	if err != nil {
		s.logger.Error("list expired holds", err)
		return
	}
	for _, hold := range holds {
		if err := s.holder.Release(ctx, hold.FlightRef, hold.SeatRef, hold.ReservationID); err != nil {
			s.logger.WithField("seat", hold.SeatRef).Error("release expired hold", err)
			continue
		}
		observability.HoldsExpired.Inc()
		if err := s.onExp(ctx, hold.ReservationID); err != nil {
			s.logger.WithField("reservation_id", hold.ReservationID.String()).
				Error("notify coordinator of expired hold", err)
		}
	}
}
