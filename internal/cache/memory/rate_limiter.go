package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/stratbot/internal/domain"
)

// RateLimiter implements domain.RateLimiter with one token bucket per key.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter creates an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{limiters: make(map[string]*rate.Limiter)}
}

// Allow reports whether another request for key fits into limit per window.
func (r *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return false, fmt.Errorf("memory: rate limit %d/%s: %w", limit, window, domain.ErrValidation)
	}
	bucket := fmt.Sprintf("%s|%d|%s", key, limit, window)

	r.mu.Lock()
	l, ok := r.limiters[bucket]
	if !ok {
		l = rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)
		r.limiters[bucket] = l
	}
	r.mu.Unlock()

	return l.Allow(), nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
