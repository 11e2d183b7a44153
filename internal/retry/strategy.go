package retry

import (
	"math"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Strategy computes the delay before retry attempt n (1-indexed).
type Strategy func(attempt int) time.Duration

// Fixed always waits d.
func Fixed(d time.Duration) Strategy {
	return func(int) time.Duration { return d }
}

// Linear waits attempt*d.
func Linear(d time.Duration) Strategy {
	return func(attempt int) time.Duration { return time.Duration(attempt) * d }
}

// Exponential waits base*2^(attempt-1), delegating the doubling itself to
// backoff/v5's ExponentialBackOff so the SDK doesn't re-implement the same
// arithmetic the library already gets right (overflow guards included).
func Exponential(base time.Duration) Strategy {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = time.Duration(math.MaxInt64)
	return func(attempt int) time.Duration {
		var d time.Duration
		for i := 0; i < attempt; i++ {
			res := b.NextBackOff()
			d = res
		}
		b.Reset()
		return d
	}
}

// Jittered wraps s and multiplies its delay by a uniform random factor in
// [0.5, 1.5), the classic decorrelated-ish jitter used to avoid thundering
// herds on reconnect.
func Jittered(s Strategy) Strategy {
	return func(attempt int) time.Duration {
		d := s(attempt)
		factor := 0.5 + rand.Float64()
		return time.Duration(float64(d) * factor)
	}
}

// CappedExponential is Exponential(base) clamped to max.
func CappedExponential(base, max time.Duration) Strategy {
	exp := Exponential(base)
	return func(attempt int) time.Duration {
		d := exp(attempt)
		if d > max {
			return max
		}
		return d
	}
}

// Sum composes strategies by adding their delays.
func Sum(strategies ...Strategy) Strategy {
	return func(attempt int) time.Duration {
		var total time.Duration
		for _, s := range strategies {
			total += s(attempt)
		}
		return total
	}
}

// Max composes strategies by taking the largest delay.
func Max(strategies ...Strategy) Strategy {
	return func(attempt int) time.Duration {
		var max time.Duration
		for _, s := range strategies {
			if d := s(attempt); d > max {
				max = d
			}
		}
		return max
	}
}
