// Package ratelimiter paces outbound requests with a token bucket.
//
// The sync core can hammer a server during a cold enumeration of a large
// account. Wrapping the remote client with a limiter keeps the request rate
// inside whatever the server tolerates while still allowing short bursts.
package ratelimiter

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// effectively unlimited; rate.Inf misbehaves with SetLimit round trips.
const unlimited = 1_000_000_000

// RateLimiter is a token bucket over golang.org/x/time/rate.
// Safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New builds a limiter allowing requestsPerSecond sustained and burst
// immediate requests. A zero rate disables limiting entirely.
func New(requestsPerSecond, burst uint) *RateLimiter {
	if requestsPerSecond == 0 {
		requestsPerSecond = unlimited
		burst = unlimited
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(burst)),
	}
}

// Allow reports whether a request may proceed right now, consuming a token
// when it may. It never blocks.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// AllowN consumes n tokens at once, or none when fewer are available.
func (r *RateLimiter) AllowN(n uint) bool {
	return r.limiter.AllowN(time.Now(), int(n))
}

// Wait blocks until a token is available or ctx is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// SetLimit changes the sustained rate. The burst follows the new rate when it
// was at or below the old one, so the bucket stays usable after the change.
func (r *RateLimiter) SetLimit(requestsPerSecond uint) {
	if requestsPerSecond == 0 {
		requestsPerSecond = unlimited
	}
	oldRate := uint(r.limiter.Limit())
	oldBurst := uint(r.limiter.Burst())
	r.limiter.SetLimit(rate.Limit(requestsPerSecond))
	if oldBurst == oldRate*2 || oldBurst <= oldRate {
		r.limiter.SetBurst(int(requestsPerSecond * 2))
	}
}

// SetBurst changes the bucket capacity.
func (r *RateLimiter) SetBurst(burst uint) {
	r.limiter.SetBurst(int(burst))
}

// Tokens returns the current bucket fill. Monitoring only; the value is
// stale the moment it returns.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}
