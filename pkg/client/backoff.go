package client

import (
	"math"
	"time"
)

// Backoff computes reconnect delays. The zero value is not usable; start
// from DefaultBackoff.
type Backoff struct {
	// Base is the delay before the first retry.
	Base time.Duration

	// Max caps every delay.
	Max time.Duration

	// MaxAttempts is the number of retries after which the controller
	// gives up. Zero means retry forever.
	MaxAttempts int
}

// DefaultBackoff returns a 1s base, 30s cap and 10 attempts.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:        time.Second,
		Max:         30 * time.Second,
		MaxAttempts: 10,
	}
}

// Delay returns the wait before retry attempt (1-based):
// Base * 2^(attempt-1), capped at Max.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		if b.Max > 0 && d >= b.Max {
			break
		}
		if d > math.MaxInt64/2 {
			break
		}
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

// Exhausted reports whether attempt exceeds the retry budget.
func (b Backoff) Exhausted(attempt int) bool {
	return b.MaxAttempts > 0 && attempt > b.MaxAttempts
}
