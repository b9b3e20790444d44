package util

import (
	"time"
)

// Jitter spreads d by up to ±pct using the supplied unit random value.
// A pct of 0.05 with random=1.0 yields d*1.05; random=0.0 yields d*0.95.
func Jitter(d time.Duration, pct float64, random float64) time.Duration {
	if pct <= 0 {
		return d
	}
	spread := float64(d) * pct * (2*random - 1)
	return time.Duration(float64(d) + spread)
}

// BoundedDelay clamps delay into [0, max]. Negative delays collapse to zero
// so an overdue account fires immediately rather than in the past.
func BoundedDelay(delay, max time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}
