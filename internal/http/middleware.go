package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/skybook/booking-saga/internal/admission"
	"github.com/skybook/booking-saga/internal/domain"
	"github.com/skybook/booking-saga/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

func RequestIDMiddleware(next http.Handler) http.Handler {
	return middleware.RequestID(next)
}

func LoggerMiddleware(logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := middleware.GetReqID(r.Context())
			entry := logger.WithField("request_id", reqID)
			ctx := context.WithValue(r.Context(), loggerKey{}, entry)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type loggerKey struct{}

func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		tracer := otel.Tracer("http")
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.String()),
		)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// statusRecorder lets the admission middleware report the downstream outcome
// to the route breaker.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// AdmissionMiddleware validates the caller credential, applies the
// per-identity rate limit and the route breaker, and rejects with a
// Retry-After hint when limits are exceeded.
func AdmissionMiddleware(ctrl *admission.Controller, route string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			identity, err := ctrl.Authenticate(token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			done, retryAfter, err := ctrl.Admit(r.Context(), identity, route)
			if err != nil {
				w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
				switch {
				case errors.Is(err, domain.ErrRateLimited):
					http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				case errors.Is(err, domain.ErrCircuitOpen):
					http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				default:
					http.Error(w, err.Error(), http.StatusServiceUnavailable)
				}
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			done(rec.status < http.StatusInternalServerError)

			observability.RequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status), r.Method).Inc()
		})
	}
}
