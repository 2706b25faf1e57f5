package payment

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/skybook/booking-saga/internal/breaker"
	"github.com/skybook/booking-saga/internal/domain"
	"github.com/skybook/booking-saga/internal/observability"
	"golang.org/x/sync/semaphore"
)

// Adapter guards every gateway call with a concurrency bound, the circuit
// breaker, and a per-call timeout. Timeouts and transport errors count as
// breaker failures and surface as transient; a decline is a gateway answer
// and counts as success.
type Adapter struct {
	gateway Gateway
	breaker *breaker.Breaker
	sem     *semaphore.Weighted
	timeout time.Duration
	logger  observability.Logger
}

func NewAdapter(gateway Gateway, brk *breaker.Breaker, maxConcurrent int64, timeout time.Duration, logger observability.Logger) *Adapter {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Adapter{
		gateway: gateway,
		breaker: brk,
		sem:     semaphore.NewWeighted(maxConcurrent),
		timeout: timeout,
		logger:  logger,
	}
}

func (a *Adapter) Charge(ctx context.Context, req Request) (Result, error) {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return Result{}, err
	}
	defer a.sem.Release(1)

	done, _, err := a.breaker.Allow()
	a.observeState()
	if err != nil {
		observability.PaymentAttempts.WithLabelValues("circuit_open").Inc()
		return Result{}, errors.Mark(err, domain.ErrTransient)
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	res, err := a.gateway.Charge(callCtx, req)
	if err != nil {
		done(false)
		a.observeState()
		observability.PaymentAttempts.WithLabelValues("transient").Inc()
		return Result{}, errors.Mark(errors.Wrap(err, "gateway charge"), domain.ErrTransient)
	}
	done(true)
	a.observeState()

	switch res.Status {
	case domain.PaymentSucceeded:
		observability.PaymentAttempts.WithLabelValues("succeeded").Inc()
	case domain.PaymentDeclined:
		observability.PaymentAttempts.WithLabelValues("declined").Inc()
	}
	return res, nil
}

func (a *Adapter) observeState() {
	observability.BreakerState.WithLabelValues(a.breaker.Name()).Set(float64(a.breaker.State()))
}
