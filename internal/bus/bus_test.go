package bus_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/skybook/booking-saga/internal/bus"
	"github.com/skybook/booking-saga/internal/event"
	"github.com/skybook/booking-saga/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelope(t *testing.T, partition uuid.UUID, seq int) event.Envelope {
	t.Helper()
	env, err := event.NewEnvelope(event.TypeReservationCreated, partition, event.ReservationCreated{
		ReservationID: partition,
		SeatRef:       fmt.Sprintf("seq-%d", seq),
	}, time.Now())
	require.NoError(t, err)
	return env
}

func seatOf(env event.Envelope) string {
	decoded, err := event.Decode(env)
	if err != nil {
		return ""
	}
	return decoded.(event.ReservationCreated).SeatRef
}

func TestPool_PreservesPartitionOrder(t *testing.T) {
	t.Parallel()

	const (
		partitions = 8
		perKey     = 50
	)

	var mu sync.Mutex
	seen := make(map[string][]string)

	pool := bus.NewPool(4, func(_ context.Context, env event.Envelope) error {
		mu.Lock()
		seen[env.PartitionKey] = append(seen[env.PartitionKey], seatOf(env))
		mu.Unlock()
		return nil
	}, observability.NewNopLogger())
	pool.Start(context.Background())

	keys := make([]uuid.UUID, partitions)
	for i := range keys {
		keys[i] = uuid.New()
	}
	for seq := 0; seq < perKey; seq++ {
		for _, key := range keys {
			pool.Dispatch(envelope(t, key, seq), nil)
		}
	}
	pool.Close()

	for _, key := range keys {
		got := seen[key.String()]
		require.Len(t, got, perKey)
		for seq, seat := range got {
			assert.Equal(t, fmt.Sprintf("seq-%d", seq), seat)
		}
	}
}

func TestPool_RedeliversFailedHandler(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	attempts := 0

	pool := bus.NewPool(1, func(context.Context, event.Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return fmt.Errorf("transient failure %d", attempts)
		}
		return nil
	}, observability.NewNopLogger(), bus.WithRedelivery(5, time.Millisecond))
	pool.Start(context.Background())

	var finalErr error
	done := make(chan struct{})
	pool.Dispatch(envelope(t, uuid.New(), 0), func(err error) {
		finalErr = err
		close(done)
	})
	<-done
	pool.Close()

	require.NoError(t, finalErr)
	assert.Equal(t, 3, attempts)
}

func TestPool_ReportsErrorAfterRetriesExhausted(t *testing.T) {
	t.Parallel()

	pool := bus.NewPool(1, func(context.Context, event.Envelope) error {
		return fmt.Errorf("permanent failure")
	}, observability.NewNopLogger(), bus.WithRedelivery(2, time.Millisecond))
	pool.Start(context.Background())

	var finalErr error
	done := make(chan struct{})
	pool.Dispatch(envelope(t, uuid.New(), 0), func(err error) {
		finalErr = err
		close(done)
	})
	<-done
	pool.Close()

	require.Error(t, finalErr)
}

func TestMemory_RoutesByEventType(t *testing.T) {
	t.Parallel()

	m := bus.NewMemory(observability.NewNopLogger())
	ctx := context.Background()

	var mu sync.Mutex
	var created, cancelled int
	m.Subscribe(ctx, 2, []string{event.TypeReservationCreated}, func(context.Context, event.Envelope) error {
		mu.Lock()
		created++
		mu.Unlock()
		return nil
	})
	m.Subscribe(ctx, 2, []string{event.TypeReservationCancelled}, func(context.Context, event.Envelope) error {
		mu.Lock()
		cancelled++
		mu.Unlock()
		return nil
	})

	require.NoError(t, m.Publish(ctx, envelope(t, uuid.New(), 0)))
	require.NoError(t, m.Publish(ctx, envelope(t, uuid.New(), 1)))
	m.Close()

	assert.Equal(t, 2, created)
	assert.Equal(t, 0, cancelled)
}
