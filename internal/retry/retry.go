// Package retry provides the exponential backoff policy shared by every
// component that calls the generation service.
package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Policy describes a bounded exponential backoff with additive jitter.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first one.
	MaxAttempts int
	// Base is the delay before the second attempt.
	Base time.Duration
	// Cap bounds the exponential part of the delay.
	Cap time.Duration
	// Jitter is the upper bound of the random delay added on top.
	Jitter time.Duration
}

// DefaultPolicy returns the policy used for submissions.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 8,
		Base:        1 * time.Second,
		Cap:         30 * time.Second,
		Jitter:      500 * time.Millisecond,
	}
}

// Delay returns how long to wait after the given failed attempt (1-based):
// min(Cap, Base*2^(attempt-1)) + random(0, Jitter).
// A positive hint (from a retry-after response header) takes precedence.
func (p Policy) Delay(attempt int, hint time.Duration) time.Duration {
	if hint > 0 {
		return hint
	}
	if attempt < 1 {
		attempt = 1
	}

	d := p.Base
	for i := 1; i < attempt; i++ {
		if d >= p.Cap || d > d*2 {
			break
		}
		d *= 2
	}
	if p.Cap > 0 && d > p.Cap {
		d = p.Cap
	}

	if p.Jitter > 0 {
		d += rand.N(p.Jitter) // #nosec G404 - jitter does not need a CSPRNG
	}
	return d
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("retry: context cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
