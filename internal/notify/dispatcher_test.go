package notify_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/skybook/booking-saga/internal/clock"
	"github.com/skybook/booking-saga/internal/domain"
	"github.com/skybook/booking-saga/internal/event"
	"github.com/skybook/booking-saga/internal/idempotency"
	"github.com/skybook/booking-saga/internal/notify"
	"github.com/skybook/booking-saga/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDispatcher(t *testing.T) (*notify.Dispatcher, *notify.MemoryJournal) {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	journal := notify.NewMemoryJournal()
	ledger := idempotency.NewMemory(clk, time.Hour)
	return notify.NewDispatcher(journal, ledger, clk, observability.NewNopLogger()), journal
}

func TestDispatcher_Handle(t *testing.T) {
	t.Parallel()

	t.Run("confirmed reservation produces one notification", func(t *testing.T) {
		d, journal := newDispatcher(t)
		id := uuid.New()
		env, err := event.NewEnvelope(event.TypeReservationConfirmed, id, event.ReservationConfirmed{
			ReservationID: id,
			FlightRef:     "SB-101",
			SeatRef:       "12A",
		}, time.Now())
		require.NoError(t, err)

		require.NoError(t, d.Handle(context.Background(), env))

		sent := journal.Sent()
		require.Len(t, sent, 1)
		assert.Equal(t, id, sent[0].ReservationID)
		assert.Equal(t, event.TypeReservationConfirmed, sent[0].Kind)
		assert.Equal(t, env.IdempotencyKey, sent[0].IdempotencyKey)
	})

	t.Run("cancellation carries the reason", func(t *testing.T) {
		d, journal := newDispatcher(t)
		id := uuid.New()
		env, err := event.NewEnvelope(event.TypeReservationCancelled, id, event.ReservationCancelled{
			ReservationID: id,
			ReasonCode:    domain.ReasonTimeout,
		}, time.Now())
		require.NoError(t, err)

		require.NoError(t, d.Handle(context.Background(), env))

		sent := journal.Sent()
		require.Len(t, sent, 1)
		assert.Equal(t, domain.ReasonTimeout, sent[0].Reason)
	})

	t.Run("redelivery is acknowledged without a second dispatch", func(t *testing.T) {
		d, journal := newDispatcher(t)
		id := uuid.New()
		env, err := event.NewEnvelope(event.TypeReservationCancelled, id, event.ReservationCancelled{
			ReservationID: id,
			ReasonCode:    domain.ReasonDeclined,
		}, time.Now())
		require.NoError(t, err)

		require.NoError(t, d.Handle(context.Background(), env))
		require.NoError(t, d.Handle(context.Background(), env))
		assert.Len(t, journal.Sent(), 1)
	})

	t.Run("foreign event type is rejected", func(t *testing.T) {
		d, _ := newDispatcher(t)
		id := uuid.New()
		env, err := event.NewEnvelope(event.TypeReservationCreated, id, event.ReservationCreated{ReservationID: id}, time.Now())
		require.NoError(t, err)
		require.ErrorIs(t, d.Handle(context.Background(), env), domain.ErrInvalidInput)
	})
}
