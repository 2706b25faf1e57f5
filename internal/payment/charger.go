package payment

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/skybook/booking-saga/internal/clock"
	"github.com/skybook/booking-saga/internal/domain"
	"github.com/skybook/booking-saga/internal/event"
	"github.com/skybook/booking-saga/internal/idempotency"
	"github.com/skybook/booking-saga/internal/observability"
)

// ConsumerID identifies the charger in the idempotency ledger.
const ConsumerID = "payment-charger"

type publisher interface {
	Publish(ctx context.Context, env event.Envelope) error
}

// Charger reacts to reservation.created: it charges the gateway, retrying
// transient failures with exponential backoff, and publishes the payment
// result. Exhausting the retry budget is reported as a failed payment with
// reason GATEWAY_UNAVAILABLE.
type Charger struct {
	adapter    *Adapter
	publisher  publisher
	ledger     idempotency.Ledger
	maxRetries int
	baseDelay  time.Duration
	clock      clock.Clock
	logger     observability.Logger
}

func NewCharger(adapter *Adapter, pub publisher, ledger idempotency.Ledger, maxRetries int, baseDelay time.Duration, clk clock.Clock, logger observability.Logger) *Charger {
	if baseDelay <= 0 {
		baseDelay = 200 * time.Millisecond
	}
	return &Charger{
		adapter:    adapter,
		publisher:  pub,
		ledger:     ledger,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		clock:      clk,
		logger:     logger,
	}
}

func (c *Charger) Handle(ctx context.Context, env event.Envelope) error {
	decoded, err := event.Decode(env)
	if err != nil {
		return err
	}
	created, ok := decoded.(event.ReservationCreated)
	if !ok {
		return errors.Wrapf(domain.ErrInvalidInput, "charger received %s", env.EventType)
	}

	status, err := c.ledger.CheckAndReserve(ctx, ConsumerID, env.IdempotencyKey)
	if err != nil {
		return err
	}
	if status == idempotency.Duplicate {
		observability.DuplicateDeliveries.WithLabelValues(ConsumerID).Inc()
		return nil
	}

	result := c.charge(ctx, created)
	if err := c.publishResult(ctx, env, created, result); err != nil {
		// Publish never happened; release the key so redelivery retries.
		if relErr := c.ledger.Release(ctx, ConsumerID, env.IdempotencyKey); relErr != nil {
			c.logger.Error("release idempotency key", relErr)
		}
		return err
	}
	return c.ledger.Finalize(ctx, ConsumerID, env.IdempotencyKey)
}

type chargeOutcome struct {
	paymentID uuid.UUID
	status    domain.PaymentStatus
	reason    domain.ReasonCode
}

func (c *Charger) charge(ctx context.Context, created event.ReservationCreated) chargeOutcome {
	req := Request{
		PaymentID:     uuid.New(),
		ReservationID: created.ReservationID,
		Amount:        created.Amount,
		Currency:      created.Currency,
	}

	for attempt := 0; ; attempt++ {
		res, err := c.adapter.Charge(ctx, req)
		if err == nil {
			if res.Status == domain.PaymentDeclined {
				return chargeOutcome{paymentID: req.PaymentID, status: domain.PaymentDeclined, reason: domain.ReasonDeclined}
			}
			return chargeOutcome{paymentID: res.PaymentID, status: domain.PaymentSucceeded}
		}
		if !errors.Is(err, domain.ErrTransient) || attempt >= c.maxRetries {
			c.logger.WithField("reservation_id", created.ReservationID.String()).
				WithField("attempts", attempt+1).
				Warn("payment attempts exhausted", err)
			return chargeOutcome{paymentID: req.PaymentID, status: domain.PaymentGatewayError, reason: domain.ReasonGatewayUnavailable}
		}

		delay := c.baseDelay << attempt
		select {
		case <-ctx.Done():
			return chargeOutcome{paymentID: req.PaymentID, status: domain.PaymentGatewayError, reason: domain.ReasonGatewayUnavailable}
		case <-time.After(delay):
		}
	}
}

func (c *Charger) publishResult(ctx context.Context, in event.Envelope, created event.ReservationCreated, out chargeOutcome) error {
	var (
		env event.Envelope
		err error
	)
	switch out.status {
	case domain.PaymentSucceeded:
		env, err = event.NewEnvelope(event.TypePaymentSucceeded, created.ReservationID, event.PaymentSucceeded{
			ReservationID: created.ReservationID,
			PaymentID:     out.paymentID,
			Amount:        created.Amount,
		}, c.clock.Now())
	default:
		env, err = event.NewEnvelope(event.TypePaymentFailed, created.ReservationID, event.PaymentFailed{
			ReservationID: created.ReservationID,
			PaymentID:     out.paymentID,
			Amount:        created.Amount,
			ReasonCode:    out.reason,
		}, c.clock.Now())
	}
	if err != nil {
		return err
	}
	// Derive the key from the triggering event so a crash between publish and
	// finalize cannot yield two distinct payment results downstream.
	env.IdempotencyKey = in.IdempotencyKey + ":result"
	env.CausationID = in.IdempotencyKey
	return c.publisher.Publish(ctx, env)
}
