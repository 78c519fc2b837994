package realtime

import (
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter caps client frames on one connection: a bucket of limit tokens
// refilled evenly over window.
type RateLimiter struct {
	lim *rate.Limiter
}

// NewRateLimiter falls back to the package defaults for non-positive inputs.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{lim: rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)}
}

// Allow reports whether a frame received at now is within budget.
func (r *RateLimiter) Allow(now time.Time) bool {
	return r.lim.AllowN(now, 1)
}
