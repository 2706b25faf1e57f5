package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter counts requests per client identity in Redis so the limit holds
// across gateway replicas. A bucket of `burst` tokens refills fully every
// refill interval.
type Limiter struct {
	client *redis.Client
	burst  int
	refill time.Duration
}

func NewLimiter(client *redis.Client, burst int, refill time.Duration) *Limiter {
	return &Limiter{client: client, burst: burst, refill: refill}
}

func (l *Limiter) Allow(ctx context.Context, identity string) (bool, error) {
	key := "rl:" + identity

	pipe := l.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, l.refill)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return incr.Val() <= int64(l.burst), nil
}

// RetryAfter is the hint returned with RateLimited rejections.
func (l *Limiter) RetryAfter() time.Duration {
	return l.refill
}
