package memory

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/arbscreener/internal/domain"
)

// RateLimiter is a per-key token bucket limiter for a single process.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter creates an empty limiter set.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{limiters: make(map[string]*rate.Limiter)}
}

// Allow reports whether a request for key fits within limit per window. The
// bucket of a key is sized on first use.
func (r *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	l, ok := r.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(window/time.Duration(max(limit, 1))), max(limit, 1))
		r.limiters[key] = l
	}
	r.mu.Unlock()
	return l.Allow(), nil
}

// Compile-time interface check.
var _ domain.RateLimiter = (*RateLimiter)(nil)
