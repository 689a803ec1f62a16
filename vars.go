package chronos

import "time"

// sleep and timeNow are indirected so tests can swap them out (see
// store/postgres_test.go's swap[T] helper) instead of sleeping or racing
// the wall clock for real.
var (
	sleep   = time.Sleep
	timeNow = time.Now
)
