// Package retry provides a small, explicit retry policy applied uniformly to
// the pipeline's network calls: index-batch upserts and readiness polling both
// use the same [Policy] value rather than hand-rolled loops.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Policy describes a bounded retry loop with exponential backoff.
// The zero value is not usable; construct with [DefaultPolicy] or fill all
// fields explicitly.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt. Subsequent delays
	// grow by Multiplier per attempt, capped at MaxDelay.
	BaseDelay time.Duration

	// Multiplier is the per-attempt backoff growth factor (e.g. 2.0).
	Multiplier float64

	// MaxDelay caps the computed backoff. Zero means no cap.
	MaxDelay time.Duration

	// Jitter adds up to 50% random extra delay when true, so concurrent
	// batches do not retry in lockstep against the same backend.
	Jitter bool
}

// DefaultPolicy is the policy used for batch upserts: three attempts with
// 1s/2s backoff plus jitter, capped at 30s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxDelay:    30 * time.Second,
		Jitter:      true,
	}
}

// Do invokes fn until it succeeds, the attempts are exhausted, or ctx is
// cancelled. It returns the last error from fn, or ctx.Err() if the context
// ended while waiting to retry.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.Backoff(attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

// Backoff returns the delay to wait after attempt n (0-indexed).
func (p Policy) Backoff(attempt int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 0; i < attempt; i++ {
		d *= p.Multiplier
	}
	delay := time.Duration(d)
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.Jitter && delay > 0 {
		delay += time.Duration(rand.Int64N(int64(delay)/2 + 1))
	}
	return delay
}
