// Package payment wraps the external payment gateway behind a circuit
// breaker and drives charge attempts for new reservations.
package payment

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/skybook/booking-saga/internal/domain"
)

type Request struct {
	PaymentID     uuid.UUID
	ReservationID uuid.UUID
	Amount        int64
	Currency      string
}

type Result struct {
	PaymentID uuid.UUID
	Status    domain.PaymentStatus
}

// Gateway is the external processor boundary. A DECLINED result is a normal
// response; errors mean the gateway could not be reached or timed out.
type Gateway interface {
	Charge(ctx context.Context, req Request) (Result, error)
}

// MockGateway is scriptable per call, used outside production.
type MockGateway struct {
	mu      sync.Mutex
	scripts []func(Request) (Result, error)
	calls   int
}

func NewMockGateway() *MockGateway {
	return &MockGateway{}
}

// Script appends behaviors consumed one per call; once exhausted every call
// succeeds.
func (g *MockGateway) Script(fns ...func(Request) (Result, error)) {
	g.mu.Lock()
	g.scripts = append(g.scripts, fns...)
	g.mu.Unlock()
}

func (g *MockGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *MockGateway) Charge(_ context.Context, req Request) (Result, error) {
	g.mu.Lock()
	g.calls++
	var fn func(Request) (Result, error)
	if len(g.scripts) > 0 {
		fn = g.scripts[0]
		g.scripts = g.scripts[1:]
	}
	g.mu.Unlock()

	if fn != nil {
		return fn(req)
	}
	return Result{PaymentID: req.PaymentID, Status: domain.PaymentSucceeded}, nil
}

// Succeed, Decline and Unavailable are ready-made mock behaviors.
func Succeed(req Request) (Result, error) {
	return Result{PaymentID: req.PaymentID, Status: domain.PaymentSucceeded}, nil
}

func Decline(req Request) (Result, error) {
	return Result{PaymentID: req.PaymentID, Status: domain.PaymentDeclined}, nil
}

func Unavailable(Request) (Result, error) {
	return Result{}, domain.ErrTransient
}
