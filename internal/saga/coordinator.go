// Package saga drives a reservation from creation to exactly one terminal
// state, coordinating inventory, payment results and compensations over
// at-least-once messaging.
package saga

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/skybook/booking-saga/internal/clock"
	"github.com/skybook/booking-saga/internal/domain"
	"github.com/skybook/booking-saga/internal/event"
	"github.com/skybook/booking-saga/internal/idempotency"
	"github.com/skybook/booking-saga/internal/inventory"
	"github.com/skybook/booking-saga/internal/observability"
)

// ConsumerID identifies the coordinator in the idempotency ledger.
const ConsumerID = "saga-coordinator"

type Options struct {
	// PaymentDeadline bounds AWAITING_PAYMENT; expiry forces CANCELLED with
	// reason TIMEOUT.
	PaymentDeadline time.Duration
	// HoldTTL is passed to the inventory holder on acquire.
	HoldTTL time.Duration
}

func (o *Options) withDefaults() {
	if o.PaymentDeadline <= 0 {
		o.PaymentDeadline = 30 * time.Second
	}
	if o.HoldTTL <= 0 {
		o.HoldTTL = 5 * time.Minute
	}
}

type Coordinator struct {
	store     Store
	holder    inventory.Holder
	ledger    idempotency.Ledger
	catalog   Catalog
	clock     clock.Clock
	logger    observability.Logger
	opts      Options
	deadlines *timerSet
}

func NewCoordinator(store Store, holder inventory.Holder, ledger idempotency.Ledger, catalog Catalog, clk clock.Clock, logger observability.Logger, opts Options) *Coordinator {
	opts.withDefaults()
	return &Coordinator{
		store:     store,
		holder:    holder,
		ledger:    ledger,
		catalog:   catalog,
		clock:     clk,
		logger:    logger,
		opts:      opts,
		deadlines: newTimerSet(),
	}
}

// Stop cancels all armed deadline timers.
func (c *Coordinator) Stop() {
	c.deadlines.Stop()
}

type CreateInput struct {
	PassengerRef string
	FlightRef    string
	SeatRef      string
}

// Create opens a reservation and takes it to AWAITING_PAYMENT. A seat
// conflict returns the FAILED reservation together with ErrConflict; nothing
// reaches the bus in that case.
func (c *Coordinator) Create(ctx context.Context, in CreateInput) (domain.Reservation, error) {
	if in.PassengerRef == "" || in.FlightRef == "" || in.SeatRef == "" {
		return domain.Reservation{}, errors.Wrap(domain.ErrInvalidInput, "passenger, flight and seat are required")
	}
	amount, currency, err := c.catalog.ValidateBooking(ctx, in.PassengerRef, in.FlightRef, in.SeatRef)
	if err != nil {
		return domain.Reservation{}, err
	}

	res := domain.NewReservation(in.PassengerRef, in.FlightRef, in.SeatRef, c.clock.Now())
	created, err := event.NewEnvelope(event.TypeReservationCreated, res.ID, event.ReservationCreated{
		ReservationID: res.ID,
		PassengerRef:  res.PassengerRef,
		FlightRef:     res.FlightRef,
		SeatRef:       res.SeatRef,
		Amount:        amount,
		Currency:      currency,
	}, c.clock.Now())
	if err != nil {
		return domain.Reservation{}, err
	}
	if err := c.store.CreateReservation(ctx, res, created); err != nil {
		return domain.Reservation{}, err
	}

	if _, err := c.holder.Acquire(ctx, res.FlightRef, res.SeatRef, res.ID, c.opts.HoldTTL); err != nil {
		// Only a lost seat race is terminal. A holder hiccup surfaces to the
		// caller and leaves the reservation retryable.
		if !errors.Is(err, domain.ErrConflict) {
			return res, err
		}
		// The created record must not leak: the same transaction that fails
		// the reservation drops its unpublished outbox row.
		failed, applyErr := c.apply(ctx, res.ID, res.Version, Transition{
			To:       domain.ReservationFailed,
			Reason:   domain.ReasonSeatConflict,
			Suppress: []string{event.TypeReservationCreated},
		})
		if applyErr != nil {
			c.logger.WithField("reservation_id", res.ID.String()).Error("fail reservation after seat conflict", applyErr)
			return res, err
		}
		return failed, err
	}

	held, err := c.apply(ctx, res.ID, res.Version, Transition{To: domain.ReservationSeatHeld})
	if err != nil {
		return res, err
	}
	awaiting, err := c.apply(ctx, res.ID, held.Version, Transition{To: domain.ReservationAwaitingPayment})
	if err != nil {
		return held, err
	}

	id := res.ID
	c.deadlines.Arm(id, c.opts.PaymentDeadline, func() {
		if err := c.OnTimeout(context.Background(), id); err != nil {
			c.logger.WithField("reservation_id", id.String()).Error("deadline cancellation", err)
		}
	})
	return awaiting, nil
}

// Status serves the caller's polling read.
func (c *Coordinator) Status(ctx context.Context, id uuid.UUID) (domain.Reservation, error) {
	return c.store.Get(ctx, id)
}

// OnPaymentResult applies payment.succeeded or payment.failed. Redelivered
// events are acknowledged without effect.
func (c *Coordinator) OnPaymentResult(ctx context.Context, env event.Envelope) error {
	decoded, err := event.Decode(env)
	if err != nil {
		return err
	}
	switch p := decoded.(type) {
	case event.PaymentSucceeded:
		return c.guarded(ctx, env.IdempotencyKey, func() error {
			return c.confirm(ctx, p.ReservationID, env.IdempotencyKey)
		})
	case event.PaymentFailed:
		reason := p.ReasonCode
		if reason == "" {
			reason = domain.ReasonDeclined
		}
		return c.guarded(ctx, env.IdempotencyKey, func() error {
			return c.cancel(ctx, p.ReservationID, reason, env.IdempotencyKey)
		})
	default:
		return errors.Wrapf(domain.ErrInvalidInput, "coordinator received %s", env.EventType)
	}
}

// OnTimeout fires when the payment deadline lapses. The timer carries its
// own idempotency key so a race with a late payment result cannot apply both.
func (c *Coordinator) OnTimeout(ctx context.Context, id uuid.UUID) error {
	key := "timeout:" + id.String()
	return c.guarded(ctx, key, func() error {
		return c.cancel(ctx, id, domain.ReasonTimeout, key)
	})
}

// OnHoldExpired is the sweeper's compensation trigger for a hold that
// expired under an in-flight reservation.
func (c *Coordinator) OnHoldExpired(ctx context.Context, id uuid.UUID) error {
	key := "hold-expired:" + id.String()
	return c.guarded(ctx, key, func() error {
		return c.cancel(ctx, id, domain.ReasonTimeout, key)
	})
}

// Cancel maps an external cancellation onto the forced CANCELLED transition.
// Cancelling a terminal reservation is a no-op returning the terminal state.
func (c *Coordinator) Cancel(ctx context.Context, id uuid.UUID) (domain.Reservation, error) {
	key := "user-cancel:" + id.String()
	if err := c.guarded(ctx, key, func() error {
		return c.cancel(ctx, id, domain.ReasonUserRequested, key)
	}); err != nil {
		return domain.Reservation{}, err
	}
	return c.store.Get(ctx, id)
}

// guarded runs fn at most once per idempotency key. Ledger unavailability
// fails closed so the message is redelivered instead of double-applied.
func (c *Coordinator) guarded(ctx context.Context, key string, fn func() error) error {
	status, err := c.ledger.CheckAndReserve(ctx, ConsumerID, key)
	if err != nil {
		return err
	}
	if status == idempotency.Duplicate {
		observability.DuplicateDeliveries.WithLabelValues(ConsumerID).Inc()
		return nil
	}
	if err := fn(); err != nil {
		if relErr := c.ledger.Release(ctx, ConsumerID, key); relErr != nil {
			c.logger.Error("release idempotency key", relErr)
		}
		return err
	}
	return c.ledger.Finalize(ctx, ConsumerID, key)
}

func (c *Coordinator) confirm(ctx context.Context, id uuid.UUID, causeKey string) error {
	res, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if res.Status.Terminal() {
		return nil
	}
	if !domain.CanTransition(res.Status, domain.ReservationConfirmed) {
		return errors.Wrapf(domain.ErrConflict, "cannot confirm from %s", res.Status)
	}

	if err := c.holder.Confirm(ctx, res.FlightRef, res.SeatRef, res.ID); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// The hold expired before the payment result arrived; the seat
			// may already be someone else's. Compensate instead of seating.
			return c.cancel(ctx, id, domain.ReasonTimeout, causeKey)
		}
		return err
	}

	confirmed, err := event.NewEnvelope(event.TypeReservationConfirmed, res.ID, event.ReservationConfirmed{
		ReservationID: res.ID,
		SeatRef:       res.SeatRef,
		FlightRef:     res.FlightRef,
	}, c.clock.Now())
	if err != nil {
		return err
	}
	confirmed.IdempotencyKey = causeKey + ":confirmed"
	confirmed.CausationID = causeKey

	if _, err := c.apply(ctx, res.ID, res.Version, Transition{
		To:     domain.ReservationConfirmed,
		Append: []event.Envelope{confirmed},
	}); err != nil {
		if settleErr := c.retryTerminalRace(ctx, id, err); settleErr != nil {
			return settleErr
		}
		latest, getErr := c.store.Get(ctx, id)
		if getErr != nil {
			return getErr
		}
		if latest.Status != domain.ReservationConfirmed {
			// A cancellation won the version race after the seat was
			// allocated. The allocation must not outlive the reservation.
			return c.holder.Release(ctx, res.FlightRef, res.SeatRef, res.ID)
		}
		return nil
	}
	c.deadlines.Cancel(res.ID)
	return nil
}

func (c *Coordinator) cancel(ctx context.Context, id uuid.UUID, reason domain.ReasonCode, causeKey string) error {
	res, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if res.Status.Terminal() {
		return nil
	}
	if !domain.CanTransition(res.Status, domain.ReservationCancelled) {
		return errors.Wrapf(domain.ErrConflict, "cannot cancel from %s", res.Status)
	}

	if err := c.holder.Release(ctx, res.FlightRef, res.SeatRef, res.ID); err != nil {
		return err
	}

	cancelled, err := event.NewEnvelope(event.TypeReservationCancelled, res.ID, event.ReservationCancelled{
		ReservationID: res.ID,
		ReasonCode:    reason,
	}, c.clock.Now())
	if err != nil {
		return err
	}
	cancelled.IdempotencyKey = causeKey + ":cancelled"
	cancelled.CausationID = causeKey

	if _, err := c.apply(ctx, res.ID, res.Version, Transition{
		To:     domain.ReservationCancelled,
		Reason: reason,
		Append: []event.Envelope{cancelled},
	}); err != nil {
		return c.retryTerminalRace(ctx, id, err)
	}
	c.deadlines.Cancel(res.ID)
	return nil
}

// retryTerminalRace settles the deadline-vs-payment race: a version conflict
// against a now-terminal reservation means the other side won and this
// application becomes a no-op.
func (c *Coordinator) retryTerminalRace(ctx context.Context, id uuid.UUID, applyErr error) error {
	if !errors.Is(applyErr, domain.ErrConflict) {
		return applyErr
	}
	res, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if res.Status.Terminal() {
		return nil
	}
	return applyErr
}

func (c *Coordinator) apply(ctx context.Context, id uuid.UUID, expectVersion int64, tr Transition) (domain.Reservation, error) {
	res, err := c.store.Apply(ctx, id, expectVersion, tr)
	if err != nil {
		return domain.Reservation{}, err
	}
	observability.SagaTransitions.WithLabelValues(string(tr.To), string(tr.Reason)).Inc()
	return res, nil
}
