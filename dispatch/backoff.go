package dispatch

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy controls how transient failures are retried: a bounded number of
// attempts paced by capped exponential backoff with optional jitter.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first call.
	MaxAttempts int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the computed delay.
	MaxDelay time.Duration

	// Multiplier is the exponential growth factor between retries.
	Multiplier float64

	// Jitter spreads delays by ±25% to avoid retry alignment across tasks.
	Jitter bool

	// OnRetry is invoked before each backoff sleep.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy returns the default retry pacing.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// delay computes the backoff before retry number retryNo (1-based):
// base × multiplier^(retryNo-1), capped at MaxDelay, jittered ±25%.
func (p *Policy) delay(retryNo int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(retryNo-1))

	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}

	if p.Jitter {
		jitter := d * 0.25
		d = d + (rand.Float64()*2-1)*jitter
	}

	if d < float64(p.BaseDelay) {
		d = float64(p.BaseDelay)
	}

	return time.Duration(d)
}

// sleepFor waits out a backoff delay, aborting early when ctx is done.
func sleepFor(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
