// Package breaker implements the three-state circuit breaker guarding calls
// to degraded dependencies.
package breaker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/skybook/booking-saga/internal/clock"
	"github.com/skybook/booking-saga/internal/domain"
)

type State int32

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	}
	return "unknown"
}

type Settings struct {
	// ConsecutiveFailures opens the circuit regardless of rate.
	ConsecutiveFailures int
	// ErrorRate opens the circuit when exceeded over the rolling Window,
	// once at least MinSamples calls were observed.
	ErrorRate  float64
	Window     time.Duration
	MinSamples int
	// Cooldown is how long the circuit stays open before admitting trials.
	Cooldown time.Duration
	// HalfOpenTrials bounds concurrent trial calls while half-open.
	HalfOpenTrials int
}

func (s *Settings) withDefaults() {
	if s.ConsecutiveFailures <= 0 {
		s.ConsecutiveFailures = 5
	}
	if s.ErrorRate <= 0 {
		s.ErrorRate = 0.5
	}
	if s.Window <= 0 {
		s.Window = 30 * time.Second
	}
	if s.MinSamples <= 0 {
		s.MinSamples = 10
	}
	if s.Cooldown <= 0 {
		s.Cooldown = 15 * time.Second
	}
	if s.HalfOpenTrials <= 0 {
		s.HalfOpenTrials = 1
	}
}

type sample struct {
	at      time.Time
	failure bool
}

// Breaker is safe for concurrent use. State transitions happen under one
// mutex; State() is a lock-free snapshot for routing decisions.
type Breaker struct {
	name     string
	settings Settings
	clock    clock.Clock

	state atomic.Int32

	mu          sync.Mutex
	consecutive int
	window      []sample
	openedAt    time.Time
	trials      int
}

func New(name string, settings Settings, clk clock.Clock) *Breaker {
	settings.withDefaults()
	return &Breaker{name: name, settings: settings, clock: clk}
}

func (b *Breaker) Name() string { return b.name }

// State returns the current state without taking the lock.
func (b *Breaker) State() State {
	return State(b.state.Load())
}

// Allow decides whether a call may proceed. On success it returns a done
// callback that must be invoked with the call's outcome. When the circuit is
// open it returns ErrCircuitOpen and the remaining cooldown.
func (b *Breaker) Allow() (done func(success bool), retryAfter time.Duration, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	switch State(b.state.Load()) {
	case Open:
		if now.Sub(b.openedAt) < b.settings.Cooldown {
			return nil, b.settings.Cooldown - now.Sub(b.openedAt), domain.ErrCircuitOpen
		}
		b.setState(HalfOpen)
		b.trials = 0
		fallthrough
	case HalfOpen:
		if b.trials >= b.settings.HalfOpenTrials {
			return nil, b.settings.Cooldown, domain.ErrCircuitOpen
		}
		b.trials++
	}
	return b.record, 0, nil
}

// Do runs fn through the breaker, counting its error as a failure.
func (b *Breaker) Do(fn func() error) error {
	done, _, err := b.Allow()
	if err != nil {
		return err
	}
	err = fn()
	done(err == nil)
	return err
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	switch State(b.state.Load()) {
	case HalfOpen:
		if success {
			b.setState(Closed)
			b.consecutive = 0
			b.window = nil
		} else {
			b.trip(now)
		}
		return
	case Open:
		// Late result from a call admitted before the trip; ignore.
		return
	}

	b.window = append(b.window, sample{at: now, failure: !success})
	b.prune(now)
	if success {
		b.consecutive = 0
		return
	}
	b.consecutive++
	if b.consecutive >= b.settings.ConsecutiveFailures || b.rateExceeded() {
		b.trip(now)
	}
}

func (b *Breaker) trip(now time.Time) {
	b.setState(Open)
	b.openedAt = now
	b.consecutive = 0
	b.window = nil
	b.trials = 0
}

func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.settings.Window)
	i := 0
	for i < len(b.window) && b.window[i].at.Before(cutoff) {
		i++
	}
	b.window = b.window[i:]
}

func (b *Breaker) rateExceeded() bool {
	if len(b.window) < b.settings.MinSamples {
		return false
	}
	failures := 0
	for _, s := range b.window {
		if s.failure {
			failures++
		}
	}
	return float64(failures)/float64(len(b.window)) >= b.settings.ErrorRate
}

func (b *Breaker) setState(s State) {
	b.state.Store(int32(s))
}
