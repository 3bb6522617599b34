// Package webhook implements the webhook delivery engine: retryable HTTP
// delivery with backoff, authentication injection, HMAC signing and
// dead-letter queueing.
package webhook

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes retry delays: exponential growth capped at MaxDelay,
// plus bounded additive jitter.
type Backoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64

	// rand returns a uniform draw in [0,1). Injectable for tests.
	rand func() float64
	// now is injectable for tests.
	now func() time.Time
}

// NewBackoff creates a backoff calculator. Zero values fall back to
// 1s initial delay, 60s cap, base 2 and 10% jitter.
func NewBackoff(initial, max time.Duration, multiplier, jitter float64) *Backoff {
	if initial <= 0 {
		initial = time.Second
	}
	if max <= 0 {
		max = 60 * time.Second
	}
	if multiplier < 1 {
		multiplier = 2
	}
	if jitter < 0 {
		jitter = 0.1
	}
	return &Backoff{
		InitialDelay: initial,
		MaxDelay:     max,
		Multiplier:   multiplier,
		JitterFactor: jitter,
		rand:         rand.Float64,
		now:          time.Now,
	}
}

// Delay returns the wait before the given attempt. Attempt 1 (and below)
// always waits the initial delay; exponentiation starts at attempt 2.
func (b *Backoff) Delay(attempt int) time.Duration {
	base := b.base(attempt)
	jitter := time.Duration(float64(base) * b.JitterFactor * b.rand())
	return base + jitter
}

// NextRetryAt returns the wall-clock time of the next retry for the attempt.
func (b *Backoff) NextRetryAt(attempt int) time.Time {
	return b.now().Add(b.Delay(attempt))
}

// base returns the pre-jitter delay for the attempt.
func (b *Backoff) base(attempt int) time.Duration {
	if attempt <= 1 {
		return b.InitialDelay
	}
	d := float64(b.InitialDelay) * math.Pow(b.Multiplier, float64(attempt-1))
	if d > float64(b.MaxDelay) {
		return b.MaxDelay
	}
	return time.Duration(d)
}
