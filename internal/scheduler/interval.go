package scheduler

import (
	"math"
	"math/rand/v2"
	"time"
)

// IntervalFunc returns the delay before the next reading.
type IntervalFunc func() time.Duration

// Exponential draws memoryless inter-arrival times with mean 1/rate seconds:
// -ln(U)/rate for U uniform in (0, 1].
func Exponential(rate float64, rng *rand.Rand) IntervalFunc {
	return func() time.Duration {
		u := 1 - rng.Float64()
		return time.Duration(-math.Log(u) / rate * float64(time.Second))
	}
}

// Periodic always returns period.
func Periodic(period time.Duration) IntervalFunc {
	return func() time.Duration { return period }
}
