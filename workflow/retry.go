package workflow

import (
	"hash/fnv"
	"math"
	"time"
)

// RetryPolicy defines the back-off applied between retries of a failed operation.
type RetryPolicy struct {
	// Base is the delay before the first retry is multiplied in.
	Base time.Duration
	// BackoffCoefficient is the rate at which the delay grows per failure.
	BackoffCoefficient float64
	// MaxJitter bounds the random delay added to every back-off.
	MaxJitter time.Duration
	// MaxInterval caps the delay; zero means uncapped.
	MaxInterval time.Duration
}

// DefaultRetryPolicy waits 2^failures seconds plus up to one second of jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Base:               time.Second,
		BackoffCoefficient: 2.0,
		MaxJitter:          time.Second,
	}
}

// Delay returns the back-off after failCount failures. jitter is in [0, 1).
func (p RetryPolicy) Delay(failCount int, jitter float64) time.Duration {
	if failCount < 0 {
		failCount = 0
	}
	d := time.Duration(float64(p.Base) * math.Pow(p.BackoffCoefficient, float64(failCount)))
	if p.MaxInterval > 0 && (d > p.MaxInterval || d < 0) {
		d = p.MaxInterval
	}
	return d + time.Duration(jitter*float64(p.MaxJitter))
}

// Jitter derives a value in [0, 1) from key. Deriving it from the execution
// and signature instead of a random source keeps replays of the same history
// producing identical timer decisions.
func Jitter(key string) float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return float64(h.Sum64()>>11) / float64(1<<53)
}
