package sitepacer

import (
	"math"
	"math/rand"
	"time"
)

// delayController owns the adjustment arithmetic and jitter.
type delayController struct {
	min      float64
	max      float64
	interval float64

	jitter *float64
	rng    *rand.Rand
}

// adjust applies decision to the stored delay. It returns the stored delay
// and whether a slow-down was cut short by the max ceiling.
func (c *delayController) adjust(cal *calibrated, decision Decision) (delay float64, ceiling bool) {
	switch decision {
	case DecisionSlowDown:
		next := cal.delay + c.interval
		if next > c.max {
			next = c.max
			ceiling = true
		}
		cal.delay = next
	case DecisionSpeedUp:
		cal.delay = math.Max(cal.delay-c.interval, c.min)
	}
	return cal.delay, ceiling
}

// apply returns the value handed to the caller for a stored delay. With
// jitter configured it is uniform in [max(delay-r, 0), delay+r]; it is not
// clamped to [min, max].
func (c *delayController) apply(delay float64) float64 {
	if c.jitter == nil {
		return delay
	}
	r := *c.jitter
	lo := math.Max(delay-r, 0)
	hi := delay + r
	return lo + c.rng.Float64()*(hi-lo)
}

// secondsToDuration converts a delay for the sleeper.
func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
