// Package store is the Job Store: the single coordination point every
// other CHRONOS component goes through. Store is an interface so the
// Postgres-backed implementation (postgres.go) and the in-memory fake used
// by the rest of the module's tests (storetest) can be swapped freely;
// picker, executor, and worker depend only on this interface.
package store

import (
	"context"
	"time"

	"github.com/akshat111/CHRONOS"
)

// JobFilter expresses the conjunctive predicate used for conditional reads
// and updates. A nil field means "no constraint on this dimension."
// Postgres.FindAndUpdateJob and UpdateManyJobs translate this into a WHERE
// clause — a filter expression for the store's one atomic primitive.
type JobFilter struct {
	ID       *string
	IDs      []string
	Statuses []chronos.Status

	NextRunAtLTE *time.Time
	IsActive     *bool

	// LockedBy, when non-nil, requires an exact match (used by Release,
	// gated on "lockedBy = self").
	LockedBy *string
	// LockedByNullOrStaleBefore implements the picker's claim filter:
	// lockedBy IS NULL OR lockedAt < *LockedByNullOrStaleBefore.
	LockedByNullOrStaleBefore *time.Time
	// LockedNotNullAndStaleBefore implements stale-lock recovery's filter:
	// lockedBy IS NOT NULL AND lockedAt < *LockedNotNullAndStaleBefore.
	LockedNotNullAndStaleBefore *time.Time

	DependsOnJobID *string

	// OrderByPriorityThenNextRunAt sorts ascending priority, then ascending
	// nextRunAt, matching the picker's tie-break rule.
	OrderByPriorityThenNextRunAt bool
}

// JobUpdate expresses the conditional write half of findAndUpdate. Every
// field is a pointer so "don't touch this column" (nil) is distinguishable
// from "set it to the zero value." UpdatedAt is always stamped by the
// store, not the caller.
type JobUpdate struct {
	Status *chronos.Status

	SetLockedBy   *string
	ClearLock     bool
	SetLockedAt   *time.Time

	SetNextRunAt   *time.Time
	ClearNextRunAt bool

	SetLastRunAt *time.Time

	SetRetryCount *int
	IncRetryCount bool

	SetExecutionDuration *time.Duration

	SetLastError      *string
	SetLastErrorStack *string
	ClearError        bool

	SetLastResult []byte
	ClearResult   bool

	SetExpireAt   *time.Time
	ClearExpireAt bool

	SetPausedAt   *time.Time
	ClearPausedAt bool
}

// JobQuery is a read-only counterpart to JobFilter for QueryJobs, with
// pagination.
type JobQuery struct {
	Filter JobFilter
	Limit  int
	Offset int
}

// Stats is the aggregation the engine reports: by status, by task type,
// and an hourly histogram.
type Stats struct {
	ByStatus      map[chronos.Status]int64
	ByTaskType    map[string]int64
	HourlyCounts  [24]int64
}

// Store is the engine's persistence contract.
type Store interface {
	// InsertJob assigns ID/HumanID via NextCounter, computes the initial
	// nextRunAt/status, validates invariants, and persists the job.
	InsertJob(ctx context.Context, job *chronos.Job) error

	// FindAndUpdateJob is the one primitive the core relies on for
	// correctness: atomically find a job matching filter and apply update,
	// returning the post-update record, or (nil, nil) if no job matched.
	FindAndUpdateJob(ctx context.Context, filter JobFilter, update JobUpdate) (*chronos.Job, error)

	// UpdateManyJobs applies update to every job matching filter and
	// returns the number of rows affected.
	UpdateManyJobs(ctx context.Context, filter JobFilter, update JobUpdate) (int64, error)

	GetJob(ctx context.Context, id string) (*chronos.Job, error)
	QueryJobs(ctx context.Context, q JobQuery) ([]*chronos.Job, error)
	Stats(ctx context.Context) (Stats, error)

	// NextCounter atomically increments and returns the named counter,
	// used to mint sequential human-readable job ids.
	NextCounter(ctx context.Context, name string) (int64, error)

	InsertLog(ctx context.Context, log *chronos.ExecutionLog) error
	ListLogs(ctx context.Context, jobID string, limit int) ([]*chronos.ExecutionLog, error)

	// PurgeExpiredJobs and PurgeExpiredLogs emulate TTL-index eviction
	// (Postgres has no native TTL index) by deleting rows whose ExpireAt
	// has passed.
	PurgeExpiredJobs(ctx context.Context) (int64, error)
	PurgeExpiredLogs(ctx context.Context) (int64, error)

	Close() error
}
