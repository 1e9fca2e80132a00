package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"qrtrust/internal/domain"
)

// MemoryLimiter is a fixed-window counter per key for single-instance
// deployments.
type MemoryLimiter struct {
	mu      sync.Mutex
	now     func() time.Time
	windows map[string]*window
	maxKeys int
}

type window struct {
	count int
	end   time.Time
}

type MemoryConfig struct {
	Now     func() time.Time
	MaxKeys int
}

func NewMemory(cfg MemoryConfig) *MemoryLimiter {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = 10000
	}
	return &MemoryLimiter{
		now:     cfg.Now,
		windows: make(map[string]*window),
		maxKeys: cfg.MaxKeys,
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string, limit int, period time.Duration) (domain.RateLimitDecision, error) {
	if limit <= 0 {
		return domain.RateLimitDecision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok || now.After(w.end) {
		if !ok && len(m.windows) >= m.maxKeys {
			m.evictExpired(now)
			if len(m.windows) >= m.maxKeys {
				return domain.RateLimitDecision{}, errors.New("rate limiter capacity exceeded")
			}
		}
		w = &window{end: now.Add(period)}
		m.windows[key] = w
	}

	if w.count >= limit {
		return domain.RateLimitDecision{Allowed: false, Limit: limit, ResetAt: w.end}, nil
	}
	w.count++
	return domain.RateLimitDecision{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - w.count,
		ResetAt:   w.end,
	}, nil
}

func (m *MemoryLimiter) evictExpired(now time.Time) {
	for key, w := range m.windows {
		if now.After(w.end) {
			delete(m.windows, key)
		}
	}
}
