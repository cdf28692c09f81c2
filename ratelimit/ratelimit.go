// Package ratelimit implements C4: a token-bucket limiter guarding outbound
// requests, grounded on golang.org/x/time/rate the way the REST transport
// package in the example pack's gidari-derived client throttles its own
// HTTP calls.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter wraps rate.Limiter with an explicit disable switch, since
// the allows a client to turn rate limiting off entirely.
type Limiter struct {
	limiter  *rate.Limiter
	disabled bool
}

// New returns a Limiter permitting requestsPerSecond steady-state with the
// given burst capacity.
func New(requestsPerSecond float64, burstSize int) *Limiter {
	if requestsPerSecond <= 0 {
		return &Limiter{disabled: true}
	}
	if burstSize < 1 {
		burstSize = 1
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burstSize)}
}

// Disabled returns a Limiter that never blocks.
func Disabled() *Limiter {
	return &Limiter{disabled: true}
}

// Wait suspends until a token is available, or ctx is canceled.
func (l *Limiter) Wait(ctx context.Context) error {
	if l.disabled || l.limiter == nil {
		return nil
	}
	return l.limiter.Wait(ctx)
}

// TryAcquire attempts a non-blocking token acquisition, reporting whether
// one was available.
func (l *Limiter) TryAcquire() bool {
	if l.disabled || l.limiter == nil {
		return true
	}
	return l.limiter.Allow()
}
