// Package lock is the Lock Manager: named advisory locks with TTL, holder
// checks, renewal, and scoped acquire-run-release, used for cross-worker
// coordination beyond the per-job locks the store already enforces (e.g.
// "only one worker runs the stale-recovery sweep at a time").
package lock

import (
	"context"
	"time"
)

// DefaultTTL is used by AcquireWithRenewal and WithLock when the caller
// does not specify one.
const DefaultTTL = 30 * time.Second

// Manager is the advisory-lock contract every operation takes a lockId
// naming, and reports to "self" — this Manager's own configured holder
// id.
type Manager interface {
	// Acquire performs an atomic upsert that succeeds only if the lock is
	// unheld, expired, or already held by self (renewal). Returns true iff
	// self now holds it.
	Acquire(ctx context.Context, lockID string, ttl time.Duration) (bool, error)

	// Release deletes the lock only if self is the current holder.
	Release(ctx context.Context, lockID string) (bool, error)

	// Renew extends a lock's TTL, gated on self being the current holder,
	// and increments its renew counter.
	Renew(ctx context.Context, lockID string, ttl time.Duration) (bool, error)

	// AcquireWithRenewal acquires lockID then starts a background goroutine
	// renewing it every renewEvery (ttl/2 if renewEvery is 0) until the
	// returned cancel func is called or renewal fails. Renewal failure
	// (lock lost to another holder) stops the loop silently; the caller
	// should treat the lock as gone at that point.
	AcquireWithRenewal(ctx context.Context, lockID string, ttl, renewEvery time.Duration) (acquired bool, cancel func(), err error)

	// IsHeldByMe reports whether self currently holds lockID.
	IsHeldByMe(ctx context.Context, lockID string) (bool, error)

	// ReleaseAll releases every lock this Manager has successfully
	// acquired in its lifetime, used on worker shutdown.
	ReleaseAll(ctx context.Context) error

	// WithLock acquires lockID, runs fn if and only if acquisition
	// succeeded, and releases the lock on every exit path (including fn
	// panicking). acquired reports whether fn ran at all.
	WithLock(ctx context.Context, lockID string, ttl time.Duration, fn func(ctx context.Context) error) (acquired bool, err error)
}
