package lock

import "time"

// timeNow and newTicker are indirected so tests can control acquisition
// timestamps and the renewal loop's cadence, following the same
// swappable-var idiom the store package uses.
var (
	timeNow   = time.Now
	newTicker = time.NewTicker
)
