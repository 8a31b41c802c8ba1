package dispatch

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestProperty_BackoffDelayBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("jittered delay stays within 25% of the capped ideal", prop.ForAll(
		func(baseMs, retryNo int) bool {
			p := &Policy{
				MaxAttempts: retryNo + 1,
				BaseDelay:   time.Duration(baseMs) * time.Millisecond,
				MaxDelay:    5 * time.Second,
				Multiplier:  2.0,
				Jitter:      true,
			}

			ideal := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(retryNo-1))
			if ideal > float64(p.MaxDelay) {
				ideal = float64(p.MaxDelay)
			}
			lower := 0.75 * ideal
			if lower < float64(p.BaseDelay) {
				lower = float64(p.BaseDelay)
			}
			upper := 1.25 * ideal

			d := float64(p.delay(retryNo))
			return d >= lower-1 && d <= upper+1
		},
		gen.IntRange(10, 500),
		gen.IntRange(1, 15),
	))

	properties.Property("without jitter the delay is monotone and capped", prop.ForAll(
		func(baseMs, retries int) bool {
			p := &Policy{
				MaxAttempts: retries + 1,
				BaseDelay:   time.Duration(baseMs) * time.Millisecond,
				MaxDelay:    2 * time.Second,
				Multiplier:  1.5,
			}

			prev := time.Duration(0)
			for n := 1; n <= retries; n++ {
				d := p.delay(n)
				if d < prev || d < p.BaseDelay || d > p.MaxDelay {
					return false
				}
				prev = d
			}
			return true
		},
		gen.IntRange(1, 300),
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}
