package http

import (
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/skybook/booking-saga/internal/domain"
	"github.com/skybook/booking-saga/internal/saga"
)

type Handlers struct {
	coordinator *saga.Coordinator
}

func NewHandlers(coordinator *saga.Coordinator) *Handlers {
	return &Handlers{coordinator: coordinator}
}

type createRequest struct {
	PassengerRef string `json:"passenger_ref"`
	FlightRef    string `json:"flight_ref"`
	SeatRef      string `json:"seat_ref"`
}

type reservationResponse struct {
	ReservationID uuid.UUID `json:"reservation_id"`
	Status        string    `json:"status"`
	Reason        string    `json:"reason,omitempty"`
}

func toResponse(res domain.Reservation) reservationResponse {
	return reservationResponse{
		ReservationID: res.ID,
		Status:        string(res.Status),
		Reason:        string(res.Reason),
	}
}

// CreateReservation returns promptly with a non-terminal status when the
// payment outcome is still pending; callers poll for the terminal state.
func (h *Handlers) CreateReservation(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.coordinator.Create(r.Context(), saga.CreateInput{
		PassengerRef: req.PassengerRef,
		FlightRef:    req.FlightRef,
		SeatRef:      req.SeatRef,
	})
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, domain.ErrConflict):
		writeJSON(w, http.StatusConflict, toResponse(res))
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, toResponse(res))
}

func (h *Handlers) GetReservation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	res, err := h.coordinator.Status(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, "reservation not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(res))
}

// CancelReservation maps an external cancellation onto the forced CANCELLED
// transition; cancelling a terminal reservation returns its terminal state.
func (h *Handlers) CancelReservation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	res, err := h.coordinator.Cancel(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, "reservation not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, toResponse(res))
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
