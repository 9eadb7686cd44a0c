package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter throttles how quickly the broker accepts new connections.
//
// It is a token bucket: tokens refill at requestsPerSecond and at most burst
// tokens accumulate. Each accepted connection consumes one token.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a RateLimiter.
//
// A requestsPerSecond of 0 disables limiting entirely (every call succeeds).
// A burst of 0 is raised to 1 so that the sustained rate is reachable.
func New(requestsPerSecond, burst uint) *RateLimiter {
	if requestsPerSecond == 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst == 0 {
		burst = 1
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(burst)),
	}
}

// Allow reports whether a connection may be accepted right now, consuming a
// token if so. It never blocks.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
//
// The accept loop calls Wait before each Accept so that a burst of clients
// queues in the listen backlog instead of being served all at once.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Unlimited reports whether limiting is disabled.
func (r *RateLimiter) Unlimited() bool {
	return r.limiter.Limit() == rate.Inf
}
