package admission

import (
	"context"
	"sync"
	"time"

	"github.com/skybook/booking-saga/internal/observability"
)

// Registry is the external service registry. Leases lists the instance
// addresses currently advertising a route.
type Registry interface {
	Leases(ctx context.Context, route string) ([]string, error)
}

// StaticRegistry serves fixed instances, for tests and development.
type StaticRegistry struct {
	mu     sync.Mutex
	routes map[string][]string
}

func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{routes: make(map[string][]string)}
}

func (r *StaticRegistry) Set(route string, instances ...string) {
	r.mu.Lock()
	r.routes[route] = instances
	r.mu.Unlock()
}

func (r *StaticRegistry) Leases(_ context.Context, route string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.routes[route]...), nil
}

type instanceState struct {
	address string
	misses  int
}

// RoutingTable maps route patterns to healthy downstream instances. Renew
// polls the registry; an instance missing maxMisses consecutive renewals is
// dropped. Absence is the removal signal, there is no removal event.
type RoutingTable struct {
	registry  Registry
	logger    observability.Logger
	maxMisses int

	mu        sync.RWMutex
	instances map[string][]*instanceState
	rr        map[string]int
}

func NewRoutingTable(registry Registry, maxMisses int, logger observability.Logger) *RoutingTable {
	if maxMisses < 1 {
		maxMisses = 3
	}
	return &RoutingTable{
		registry:  registry,
		logger:    logger,
		maxMisses: maxMisses,
		instances: make(map[string][]*instanceState),
		rr:        make(map[string]int),
	}
}

// Watch registers a route pattern for lease renewal.
func (t *RoutingTable) Watch(route string) {
	t.mu.Lock()
	if _, ok := t.instances[route]; !ok {
		t.instances[route] = nil
	}
	t.mu.Unlock()
}

// Run renews leases until ctx ends.
func (t *RoutingTable) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Renew(ctx)
		}
	}
}

// Renew performs one lease-renewal pass over every watched route.
func (t *RoutingTable) Renew(ctx context.Context) {
	t.mu.Lock()
	routes := make([]string, 0, len(t.instances))
	for route := range t.instances {
		routes = append(routes, route)
	}
	t.mu.Unlock()

	for _, route := range routes {
		leased, err := t.registry.Leases(ctx, route)
		if err != nil {
			t.logger.WithField("route", route).Warn("lease renewal failed", err)
			continue
		}
		t.apply(route, leased)
	}
}

func (t *RoutingTable) apply(route string, leased []string) {
	current := make(map[string]bool, len(leased))
	for _, addr := range leased {
		current[addr] = true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var kept []*instanceState
	seen := make(map[string]bool)
	for _, inst := range t.instances[route] {
		seen[inst.address] = true
		if current[inst.address] {
			inst.misses = 0
			kept = append(kept, inst)
			continue
		}
		inst.misses++
		if inst.misses < t.maxMisses {
			kept = append(kept, inst)
		} else {
			t.logger.WithField("route", route).WithField("instance", inst.address).Info("instance dropped after missed renewals")
		}
	}
	for _, addr := range leased {
		if !seen[addr] {
			kept = append(kept, &instanceState{address: addr})
		}
	}
	t.instances[route] = kept
}

// Pick returns a healthy instance for the route, round-robin. ok is false
// when no instance is available.
func (t *RoutingTable) Pick(route string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pool := t.instances[route]
	if len(pool) == 0 {
		return "", false
	}
	idx := t.rr[route] % len(pool)
	t.rr[route] = idx + 1
	return pool[idx].address, true
}

// Instances lists the current pool, for introspection.
func (t *RoutingTable) Instances(route string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for _, inst := range t.instances[route] {
		out = append(out, inst.address)
	}
	return out
}
