package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"qrtrust/internal/domain"
)

const defaultNamespace = "qrtrust:rl"

type RedisConfig struct {
	// Namespace prefixes every counter key. Defaults to "qrtrust:rl".
	Namespace string
	Now       func() time.Time
}

// RedisLimiter counts requests in clock-aligned windows shared by every
// verifier instance. The window start is part of the counter key, so
// instances agree on boundaries without comparing TTLs and an old window is
// never extended by late traffic.
type RedisLimiter struct {
	client    redis.UniversalClient
	namespace string
	now       func() time.Time
}

func NewRedis(client redis.UniversalClient, cfg RedisConfig) (*RedisLimiter, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Namespace == "" {
		cfg.Namespace = defaultNamespace
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &RedisLimiter{client: client, namespace: cfg.Namespace, now: cfg.Now}, nil
}

func (r *RedisLimiter) Allow(ctx context.Context, key string, limit int, period time.Duration) (domain.RateLimitDecision, error) {
	if limit <= 0 {
		return domain.RateLimitDecision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	start, end := alignWindow(r.now(), period)
	counter := r.counterKey(key, start)

	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, counter)
		// One second of slack absorbs clock skew between instances.
		pipe.PExpireAt(ctx, counter, end.Add(time.Second))
		return nil
	})
	if err != nil {
		return domain.RateLimitDecision{}, fmt.Errorf("rate limit counter %s: %w", key, err)
	}
	current := incr.Val()

	remaining := limit - int(current)
	if remaining < 0 {
		remaining = 0
	}
	return domain.RateLimitDecision{
		Allowed:   current <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   end,
	}, nil
}

func (r *RedisLimiter) counterKey(key string, windowStart time.Time) string {
	return fmt.Sprintf("%s:%s:%d", r.namespace, key, windowStart.Unix())
}

// alignWindow returns the fixed window containing now. Windows shorter than a
// second are widened to one second.
func alignWindow(now time.Time, period time.Duration) (time.Time, time.Time) {
	if period < time.Second {
		period = time.Second
	}
	start := now.UTC().Truncate(period)
	return start, start.Add(period)
}
