package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_requests_total",
			Help: "Total number of gateway requests",
		},
		[]string{"route", "code", "method"},
	)

	SagaTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_saga_transitions_total",
			Help: "Reservation state transitions by target state and reason",
		},
		[]string{"to", "reason"},
	)

	DuplicateDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_duplicate_deliveries_total",
			Help: "Messages skipped by the idempotency ledger, per consumer",
		},
		[]string{"consumer"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "booking_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"breaker"},
	)

	PaymentAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_payment_attempts_total",
			Help: "Payment gateway attempts by outcome",
		},
		[]string{"outcome"},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "booking_outbox_lag_seconds",
			Help: "Age of the oldest unpublished outbox record",
		},
	)

	PublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "booking_publish_retries_total",
			Help: "Broker publish retries from the outbox relay",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "booking_rate_limit_exceeded_total",
			Help: "Requests rejected by admission rate limiting",
		},
	)

	HoldsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "booking_holds_expired_total",
			Help: "Seat holds reclaimed by the expiry sweep",
		},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "booking_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)
)
