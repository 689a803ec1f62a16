package chronos

import (
	"math/rand"
	"time"
)

// fib returns the nth Fibonacci number with fib(1) = fib(2) = 1, the
// indexing the fibonacci retry strategy uses.
func fib(n int) int64 {
	if n <= 2 {
		return 1
	}
	var a, b int64 = 1, 1
	for i := 3; i <= n; i++ {
		a, b = b, a+b
	}
	return b
}

// BackoffDelay computes the delay before retry attempt k (0-indexed):
// strategy curve, then clamp to maxDelay, then optional jitter. jitter is a
// concern narrow enough that the standard library's math/rand is used
// directly rather than reaching for an external dependency (see DESIGN.md).
func BackoffDelay(strategy RetryStrategy, k int, base, maxDelay time.Duration, jitterEnabled bool, jitterFactor float64) time.Duration {
	if maxDelay <= 0 {
		maxDelay = DefaultMaxRetryDelay
	}
	var d time.Duration
	switch strategy {
	case RetryFixed:
		d = base
	case RetryLinear:
		d = base * time.Duration(k+1)
	case RetryFibonacci:
		d = base * time.Duration(fib(k+1))
	case RetryExponential:
		fallthrough
	default:
		d = base * time.Duration(int64(1)<<uint(k))
	}
	if d > maxDelay {
		d = maxDelay
	}
	if jitterEnabled {
		if jitterFactor <= 0 {
			jitterFactor = DefaultJitterFactor
		}
		lo := 1 - jitterFactor
		hi := 1 + jitterFactor
		factor := lo + rand.Float64()*(hi-lo)
		d = time.Duration(float64(d) * factor)
		if d < 0 {
			d = 0
		}
	}
	return d
}
