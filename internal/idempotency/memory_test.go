package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/skybook/booking-saga/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_CheckAndReserve(t *testing.T) {
	t.Parallel()

	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	m := NewMemory(clk, time.Hour)
	ctx := context.Background()

	status, err := m.CheckAndReserve(ctx, "charger", "evt-1")
	require.NoError(t, err)
	assert.Equal(t, Fresh, status)

	status, err = m.CheckAndReserve(ctx, "charger", "evt-1")
	require.NoError(t, err)
	assert.Equal(t, Duplicate, status)

	// The same key under another consumer is an independent reservation.
	status, err = m.CheckAndReserve(ctx, "dispatcher", "evt-1")
	require.NoError(t, err)
	assert.Equal(t, Fresh, status)
}

func TestMemory_ReleaseReopensKey(t *testing.T) {
	t.Parallel()

	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	m := NewMemory(clk, time.Hour)
	ctx := context.Background()

	_, err := m.CheckAndReserve(ctx, "charger", "evt-1")
	require.NoError(t, err)
	require.NoError(t, m.Release(ctx, "charger", "evt-1"))

	status, err := m.CheckAndReserve(ctx, "charger", "evt-1")
	require.NoError(t, err)
	assert.Equal(t, Fresh, status)
}

func TestMemory_TTLExpiry(t *testing.T) {
	t.Parallel()

	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	m := NewMemory(clk, time.Hour)
	ctx := context.Background()

	_, err := m.CheckAndReserve(ctx, "charger", "evt-1")
	require.NoError(t, err)
	require.NoError(t, m.Finalize(ctx, "charger", "evt-1"))

	clk.Advance(30 * time.Minute)
	status, err := m.CheckAndReserve(ctx, "charger", "evt-1")
	require.NoError(t, err)
	assert.Equal(t, Duplicate, status)

	clk.Advance(31 * time.Minute)
	status, err = m.CheckAndReserve(ctx, "charger", "evt-1")
	require.NoError(t, err)
	assert.Equal(t, Fresh, status)
}
