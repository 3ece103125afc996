package retry

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func newExponential(policy Policy) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = policy.InitialInterval
	exp.MaxInterval = policy.MaxInterval
	exp.Multiplier = policy.Multiplier
	exp.MaxElapsedTime = policy.MaxElapsedTime
	exp.Reset()
	return exp
}

// Delay is the un-jittered wait before retry number attempt (zero based),
// capped at maxInterval.
func Delay(attempt int, initialInterval time.Duration, multiplier float64, maxInterval time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	duration := float64(initialInterval) * math.Pow(multiplier, float64(attempt))
	if maxInterval > 0 && duration > float64(maxInterval) {
		return maxInterval
	}
	return time.Duration(duration)
}
