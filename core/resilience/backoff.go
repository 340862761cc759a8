package resilience

import (
	"math"
	"math/rand"
	"time"
)

// Delay computes the exponential backoff delay for a given attempt.
// Formula: base * 2^attempt, capped at maxDelay.
func Delay(attempt int, base, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	factor := math.Pow(2, float64(attempt))
	delay := time.Duration(float64(base) * factor)
	if maxDelay > 0 && delay > maxDelay {
		return maxDelay
	}
	return delay
}

// AddJitter applies random jitter of ±jitterPercent to the delay to prevent
// thundering herd. A non-positive jitterPercent leaves the delay unchanged.
func AddJitter(delay time.Duration, jitterPercent float64) time.Duration {
	if jitterPercent <= 0 {
		return delay
	}
	jitterRange := float64(delay) * jitterPercent
	offset := (rand.Float64()*2 - 1) * jitterRange
	jittered := time.Duration(float64(delay) + offset)
	if jittered < time.Millisecond {
		return time.Millisecond
	}
	return jittered
}
