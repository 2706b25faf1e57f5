package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/skybook/booking-saga/internal/admission"
	"github.com/skybook/booking-saga/internal/breaker"
	"github.com/skybook/booking-saga/internal/clock"
	"github.com/skybook/booking-saga/internal/idempotency"
	"github.com/skybook/booking-saga/internal/inventory"
	"github.com/skybook/booking-saga/internal/observability"
	"github.com/skybook/booking-saga/internal/saga"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bookinghttp "github.com/skybook/booking-saga/internal/http"
)

type stubCatalog struct{}

func (stubCatalog) ValidateBooking(context.Context, string, string, string) (int64, string, error) {
	return 18900, "EUR", nil
}

type gatewayFixture struct {
	router   http.Handler
	verifier *admission.HMACVerifier
}

func newGateway(t *testing.T, burst int) *gatewayFixture {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	logger := observability.NewNopLogger()

	coord := saga.NewCoordinator(
		saga.NewMemoryStore(clk),
		inventory.NewMemory(clk),
		idempotency.NewMemory(clk, time.Hour),
		stubCatalog{},
		clk,
		logger,
		saga.Options{PaymentDeadline: time.Hour},
	)
	t.Cleanup(coord.Stop)

	verifier := admission.NewHMACVerifier("top-secret")
	table := admission.NewRoutingTable(admission.NewStaticRegistry(), 3, logger)
	ctrl := admission.NewController(verifier, admission.NewLocal(burst, time.Minute), table, breaker.Settings{}, clk, logger)

	router := bookinghttp.SetupRouter(bookinghttp.NewHandlers(coord), logger, ctrl, nil)
	return &gatewayFixture{router: router, verifier: verifier}
}

func (f *gatewayFixture) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func createBody(seat string) map[string]string {
	return map[string]string{
		"passenger_ref": "PAX-1",
		"flight_ref":    "SB-101",
		"seat_ref":      seat,
	}
}

func TestGateway_CreateReservation(t *testing.T) {
	t.Parallel()

	f := newGateway(t, 100)
	token := f.verifier.SignToken("client-a")

	rec := f.do(t, http.MethodPost, "/v1/reservations", createBody("12A"), token)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		ReservationID uuid.UUID `json:"reservation_id"`
		Status        string    `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "AWAITING_PAYMENT", resp.Status)

	// Poll the non-terminal reservation.
	rec = f.do(t, http.MethodGet, "/v1/reservations/"+resp.ReservationID.String(), nil, token)
	require.Equal(t, http.StatusOK, rec.Code)

	// Same seat again collides.
	rec = f.do(t, http.MethodPost, "/v1/reservations", createBody("12A"), token)
	require.Equal(t, http.StatusConflict, rec.Code)
	var conflict struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conflict))
	assert.Equal(t, "FAILED", conflict.Status)
	assert.Equal(t, "SEAT_CONFLICT", conflict.Reason)
}

func TestGateway_CancelReservation(t *testing.T) {
	t.Parallel()

	f := newGateway(t, 100)
	token := f.verifier.SignToken("client-a")

	rec := f.do(t, http.MethodPost, "/v1/reservations", createBody("14C"), token)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp struct {
		ReservationID uuid.UUID `json:"reservation_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	rec = f.do(t, http.MethodPost, "/v1/reservations/"+resp.ReservationID.String()+"/cancel", nil, token)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var cancelled struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cancelled))
	assert.Equal(t, "CANCELLED", cancelled.Status)
	assert.Equal(t, "USER_REQUESTED", cancelled.Reason)
}

func TestGateway_Validation(t *testing.T) {
	t.Parallel()

	f := newGateway(t, 100)
	token := f.verifier.SignToken("client-a")

	rec := f.do(t, http.MethodPost, "/v1/reservations", map[string]string{"flight_ref": "SB-101"}, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/reservations/not-a-uuid", nil, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/reservations/"+uuid.NewString(), nil, token)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGateway_Admission(t *testing.T) {
	t.Parallel()

	t.Run("missing or forged token", func(t *testing.T) {
		f := newGateway(t, 100)
		rec := f.do(t, http.MethodPost, "/v1/reservations", createBody("12A"), "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		forged := admission.NewHMACVerifier("other-secret").SignToken("client-a")
		rec = f.do(t, http.MethodPost, "/v1/reservations", createBody("12A"), forged)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rate limit exhaustion returns retry-after", func(t *testing.T) {
		f := newGateway(t, 2)
		token := f.verifier.SignToken("client-a")

		f.do(t, http.MethodPost, "/v1/reservations", createBody("20A"), token)
		f.do(t, http.MethodPost, "/v1/reservations", createBody("20B"), token)
		rec := f.do(t, http.MethodPost, "/v1/reservations", createBody("20C"), token)

		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	})

	t.Run("health endpoints bypass admission", func(t *testing.T) {
		f := newGateway(t, 100)
		rec := f.do(t, http.MethodGet, "/v1/healthz", nil, "")
		assert.Equal(t, http.StatusOK, rec.Code)
		rec = f.do(t, http.MethodGet, "/v1/readyz", nil, "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
