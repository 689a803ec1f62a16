// Package picker is the Job Picker: the atomic claim protocol every
// worker uses to take ownership of due jobs without any in-memory
// coordination between workers.
package picker

import (
	"context"
	"time"

	"github.com/akshat111/CHRONOS"
	"github.com/akshat111/CHRONOS/store"
)

var timeNow = time.Now

// Picker wraps a store.Store and implements the claim, release, and
// stale-recovery operations.
type Picker struct {
	Store store.Store
	Self  string
}

// New returns a Picker claiming jobs as "self" — normally a worker id.
func New(s store.Store, self string) *Picker {
	return &Picker{Store: s, Self: self}
}

// PickOne is the heart of the engine: one call to store.FindAndUpdateJob
// with the filter, sort, and update that claims a due job. Because the
// find-and-update is atomic, at most one worker observes a match for any
// given job; everyone else sees no match. Returns (nil, nil) when nothing
// is due.
func (p *Picker) PickOne(ctx context.Context) (*chronos.Job, error) {
	now := timeNow()
	// SCHEDULED jobs are not expected to carry a lock (invariants 3/4), but
	// the claim filter still guards against one left over from a crashed
	// release, treating anything older than the default lock timeout as
	// stale. Recovering stale locks on QUEUED/RUNNING jobs is
	// RecoverStaleJobs's job, not this one.
	staleBefore := now.Add(-chronos.DefaultLockTimeout)
	queued := chronos.StatusQueued
	filter := store.JobFilter{
		Statuses:                     []chronos.Status{chronos.StatusScheduled},
		NextRunAtLTE:                 &now,
		IsActive:                     boolPtr(true),
		LockedByNullOrStaleBefore:    &staleBefore,
		OrderByPriorityThenNextRunAt: true,
	}
	update := store.JobUpdate{
		Status:      &queued,
		SetLockedBy: &p.Self,
		SetLockedAt: &now,
	}
	return p.Store.FindAndUpdateJob(ctx, filter, update)
}

// PickMany calls PickOne up to n times, stopping early the first time it
// yields no record.
func (p *Picker) PickMany(ctx context.Context, n int) ([]*chronos.Job, error) {
	jobs := make([]*chronos.Job, 0, n)
	for i := 0; i < n; i++ {
		job, err := p.PickOne(ctx)
		if err != nil {
			return jobs, err
		}
		if job == nil {
			break
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Release returns a job this worker holds back to SCHEDULED, conditional
// on lockedBy = self, used for voluntary drain.
func (p *Picker) Release(ctx context.Context, jobID string) (*chronos.Job, error) {
	scheduled := chronos.StatusScheduled
	filter := store.JobFilter{ID: &jobID, LockedBy: &p.Self}
	update := store.JobUpdate{Status: &scheduled, ClearLock: true}
	return p.Store.FindAndUpdateJob(ctx, filter, update)
}

// ReleaseAll bulk-releases everything this worker holds, used on shutdown.
func (p *Picker) ReleaseAll(ctx context.Context) (int64, error) {
	scheduled := chronos.StatusScheduled
	filter := store.JobFilter{LockedBy: &p.Self}
	update := store.JobUpdate{Status: &scheduled, ClearLock: true}
	return p.Store.UpdateManyJobs(ctx, filter, update)
}

// RecoverStaleJobs resets QUEUED/RUNNING jobs whose lock is older than
// defaultTimeout (chronos.DefaultLockTimeout when zero or negative; the
// same threshold for every job, whatever its own lockTimeout) back to
// SCHEDULED, so a crashed worker's claims eventually
// become pickable again. Recovery is idempotent: a job already reclaimed
// by another worker no longer matches the staleness filter by the time
// this runs, so there is no double-release race.
func (p *Picker) RecoverStaleJobs(ctx context.Context, defaultTimeout time.Duration) (int64, error) {
	if defaultTimeout <= 0 {
		defaultTimeout = chronos.DefaultLockTimeout
	}
	staleBefore := timeNow().Add(-defaultTimeout)
	scheduled := chronos.StatusScheduled
	filter := store.JobFilter{
		Statuses:                    []chronos.Status{chronos.StatusQueued, chronos.StatusRunning},
		LockedNotNullAndStaleBefore: &staleBefore,
	}
	// A crashed worker leaves no error of its own; stale-recovery counts the
	// crash itself as an attempt, so retryCount still advances even though
	// no ExecutionLog is written for it.
	update := store.JobUpdate{Status: &scheduled, ClearLock: true, IncRetryCount: true}
	return p.Store.UpdateManyJobs(ctx, filter, update)
}

// CountDueJobs reports how many SCHEDULED, active, unlocked-or-stale jobs
// are currently due, using the same filter as PickOne, for observability.
func (p *Picker) CountDueJobs(ctx context.Context) (int, error) {
	now := timeNow()
	staleBefore := now.Add(-chronos.DefaultLockTimeout)
	jobs, err := p.Store.QueryJobs(ctx, store.JobQuery{Filter: store.JobFilter{
		Statuses:                  []chronos.Status{chronos.StatusScheduled},
		NextRunAtLTE:              &now,
		IsActive:                  boolPtr(true),
		LockedByNullOrStaleBefore: &staleBefore,
	}})
	if err != nil {
		return 0, err
	}
	return len(jobs), nil
}

func boolPtr(b bool) *bool { return &b }
