package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/skybook/booking-saga/internal/admission"
	"github.com/skybook/booking-saga/internal/observability"
)

// SetupRouter builds the gateway router. Proxied maps URL patterns to
// routing-table route names served by downstream instances; reservation
// routes are handled in-process by the coordinator.
func SetupRouter(h *Handlers, logger observability.Logger, ctrl *admission.Controller, proxied map[string]string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)

	r.Group(func(r chi.Router) {
		r.Use(AdmissionMiddleware(ctrl, "reservations"))
		r.Post("/v1/reservations", h.CreateReservation)
		r.Get("/v1/reservations/{id}", h.GetReservation)
		r.Post("/v1/reservations/{id}/cancel", h.CancelReservation)
	})

	for pattern, route := range proxied {
		pattern, route := pattern, route
		r.Group(func(r chi.Router) {
			r.Use(AdmissionMiddleware(ctrl, route))
			r.Handle(pattern, ctrl.Forward(route))
		})
	}

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}
