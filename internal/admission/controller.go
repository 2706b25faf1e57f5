package admission

import (
	"context"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/skybook/booking-saga/internal/breaker"
	"github.com/skybook/booking-saga/internal/clock"
	"github.com/skybook/booking-saga/internal/domain"
	"github.com/skybook/booking-saga/internal/observability"
)

// Controller performs the full admission decision for one inbound request:
// credential, rate limit, then the route's circuit breaker.
type Controller struct {
	verifier TokenVerifier
	limiter  Limiter
	table    *RoutingTable
	settings breaker.Settings
	clock    clock.Clock
	logger   observability.Logger

	mu       sync.Mutex
	breakers map[string]*breaker.Breaker
}

func NewController(verifier TokenVerifier, limiter Limiter, table *RoutingTable, settings breaker.Settings, clk clock.Clock, logger observability.Logger) *Controller {
	return &Controller{
		verifier: verifier,
		limiter:  limiter,
		table:    table,
		settings: settings,
		clock:    clk,
		logger:   logger,
		breakers: make(map[string]*breaker.Breaker),
	}
}

func (c *Controller) Authenticate(token string) (string, error) {
	return c.verifier.Verify(token)
}

// Admit applies the rate limit and the route breaker. On success the
// returned done callback reports the downstream outcome to the breaker.
// Rejections return a retry-after hint.
func (c *Controller) Admit(ctx context.Context, identity, route string) (done func(success bool), retryAfter time.Duration, err error) {
	ok, err := c.limiter.Allow(ctx, identity)
	if err != nil {
		// Limiter store down: admit rather than blackhole the platform, the
		// breaker still guards downstreams.
		c.logger.Warn("rate limiter unavailable", err)
		ok = true
	}
	if !ok {
		observability.RateLimitExceeded.Inc()
		return nil, c.limiter.RetryAfter(), errors.Wrapf(domain.ErrRateLimited, "client %s", identity)
	}

	brk := c.routeBreaker(route)
	done, retryAfter, err = brk.Allow()
	observability.BreakerState.WithLabelValues("route:" + route).Set(float64(brk.State()))
	if err != nil {
		return nil, retryAfter, err
	}
	return done, 0, nil
}

func (c *Controller) routeBreaker(route string) *breaker.Breaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	brk, ok := c.breakers[route]
	if !ok {
		brk = breaker.New("route:"+route, c.settings, c.clock)
		c.breakers[route] = brk
	}
	return brk
}

// Forward proxies to a healthy instance of the route. A downstream 5xx or
// transport error counts against the route breaker via the done callback the
// middleware obtained from Admit.
func (c *Controller) Forward(route string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		target, ok := c.table.Pick(route)
		if !ok {
			http.Error(w, "no healthy instance", http.StatusServiceUnavailable)
			return
		}
		u, err := url.Parse(target)
		if err != nil {
			c.logger.WithField("instance", target).Error("bad instance address", err)
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}
		proxy := httputil.NewSingleHostReverseProxy(u)
		proxy.ErrorHandler = func(w http.ResponseWriter, _ *http.Request, err error) {
			c.logger.WithField("instance", target).Warn("downstream proxy error", err)
			w.WriteHeader(http.StatusBadGateway)
		}
		proxy.ServeHTTP(w, r)
	})
}
