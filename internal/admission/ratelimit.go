package admission

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is the per-identity token bucket. The Redis adapter implements it
// for multi-replica gateways; Local serves single-process deployments and
// tests.
type Limiter interface {
	Allow(ctx context.Context, identity string) (bool, error)
	RetryAfter() time.Duration
}

// Local keeps one x/time/rate bucket per identity.
type Local struct {
	burst  int
	refill time.Duration

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func NewLocal(burst int, refill time.Duration) *Local {
	return &Local{burst: burst, refill: refill, buckets: make(map[string]*rate.Limiter)}
}

func (l *Local) Allow(_ context.Context, identity string) (bool, error) {
	l.mu.Lock()
	bucket, ok := l.buckets[identity]
	if !ok {
		bucket = rate.NewLimiter(rate.Every(l.refill/time.Duration(l.burst)), l.burst)
		l.buckets[identity] = bucket
	}
	l.mu.Unlock()
	return bucket.Allow(), nil
}

func (l *Local) RetryAfter() time.Duration {
	return l.refill
}
