// Package storetest provides an in-memory store.Store, so picker,
// executor, and worker tests can exercise the same findAndUpdate contract
// the Postgres implementation provides without a database.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/akshat111/CHRONOS"
	"github.com/akshat111/CHRONOS/store"
)

// Memory is a sequential, mutex-guarded store.Store. It is not meant to be
// fast; it is meant to apply exactly the same filter/update semantics as
// store.Postgres so tests can assert on behavior instead of SQL.
type Memory struct {
	mu       sync.Mutex
	jobs     map[string]*chronos.Job
	logs     []*chronos.ExecutionLog
	counters map[string]int64
	now      func() time.Time
}

// New returns an empty Memory store. now defaults to time.Now if nil.
func New(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		jobs:     make(map[string]*chronos.Job),
		counters: make(map[string]int64),
		now:      now,
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) NextCounter(ctx context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name]++
	return m.counters[name], nil
}

func (m *Memory) InsertJob(ctx context.Context, job *chronos.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.ID == "" {
		m.counters["job_id"]++
		job.ID = fmt.Sprintf("job_%d", m.counters["job_id"])
	}
	if job.HumanID == "" {
		m.counters["job_human_id"]++
		job.HumanID = fmt.Sprintf("%d", m.counters["job_human_id"])
	}

	if job.DependsOnJobID != nil {
		job.Status = chronos.StatusWaiting
		job.NextRunAt = nil
	} else {
		job.Status = chronos.StatusScheduled
		switch job.Kind {
		case chronos.KindOneTime:
			job.NextRunAt = job.ScheduleTime
		case chronos.KindRecurring:
			start := now
			if job.StartTime != nil && job.StartTime.After(now) {
				start = *job.StartTime
			}
			if job.Interval > 0 {
				t := start
				job.NextRunAt = &t
			} else if next, ok := chronos.NextRun(job, start.Add(-time.Second)); ok {
				job.NextRunAt = &next
			}
		}
	}

	if err := job.Validate(); err != nil {
		return err
	}

	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *Memory) GetJob(ctx context.Context, id string) (*chronos.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, &chronos.NotFoundError{Kind: "job", ID: id}
	}
	cp := *j
	return &cp, nil
}

func (m *Memory) FindAndUpdateJob(ctx context.Context, filter store.JobFilter, update store.JobUpdate) (*chronos.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	matches := m.match(filter)
	if len(matches) == 0 {
		return nil, nil
	}
	sortJobs(matches, filter)
	target := matches[0]
	m.apply(target, update)
	cp := *target
	return &cp, nil
}

func (m *Memory) UpdateManyJobs(ctx context.Context, filter store.JobFilter, update store.JobUpdate) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	matches := m.match(filter)
	for _, j := range matches {
		m.apply(j, update)
	}
	return int64(len(matches)), nil
}

func (m *Memory) QueryJobs(ctx context.Context, q store.JobQuery) ([]*chronos.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	matches := m.match(q.Filter)
	sortJobs(matches, q.Filter)
	if q.Offset > 0 {
		if q.Offset >= len(matches) {
			matches = nil
		} else {
			matches = matches[q.Offset:]
		}
	}
	if q.Limit > 0 && len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}
	out := make([]*chronos.Job, len(matches))
	for i, j := range matches {
		cp := *j
		out[i] = &cp
	}
	return out, nil
}

func (m *Memory) Stats(ctx context.Context) (store.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := store.Stats{ByStatus: map[chronos.Status]int64{}, ByTaskType: map[string]int64{}}
	for _, j := range m.jobs {
		out.ByStatus[j.Status]++
		out.ByTaskType[j.TaskType]++
	}
	cutoff := m.now().Add(-24 * time.Hour)
	for _, l := range m.logs {
		if l.StartedAt.After(cutoff) {
			out.HourlyCounts[l.StartedAt.Hour()]++
		}
	}
	return out, nil
}

func (m *Memory) InsertLog(ctx context.Context, l *chronos.ExecutionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l.ID == "" {
		m.counters["log_id"]++
		l.ID = fmt.Sprintf("log_%d", m.counters["log_id"])
	}
	cp := *l
	m.logs = append(m.logs, &cp)
	return nil
}

func (m *Memory) ListLogs(ctx context.Context, jobID string, limit int) ([]*chronos.ExecutionLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*chronos.ExecutionLog
	for i := len(m.logs) - 1; i >= 0; i-- {
		if m.logs[i].JobID == jobID {
			cp := *m.logs[i]
			out = append(out, &cp)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) PurgeExpiredJobs(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var n int64
	for id, j := range m.jobs {
		if j.ExpireAt != nil && j.ExpireAt.Before(now) {
			delete(m.jobs, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) PurgeExpiredLogs(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var kept []*chronos.ExecutionLog
	var n int64
	for _, l := range m.logs {
		if l.ExpireAt.Before(now) {
			n++
			continue
		}
		kept = append(kept, l)
	}
	m.logs = kept
	return n, nil
}

func (m *Memory) match(f store.JobFilter) []*chronos.Job {
	var out []*chronos.Job
	for _, j := range m.jobs {
		if matchJob(j, f) {
			out = append(out, j)
		}
	}
	return out
}

func matchJob(j *chronos.Job, f store.JobFilter) bool {
	if f.ID != nil && j.ID != *f.ID {
		return false
	}
	if len(f.IDs) > 0 && !containsID(f.IDs, j.ID) {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, j.Status) {
		return false
	}
	if f.NextRunAtLTE != nil && (j.NextRunAt == nil || j.NextRunAt.After(*f.NextRunAtLTE)) {
		return false
	}
	if f.IsActive != nil && j.IsActive != *f.IsActive {
		return false
	}
	if f.LockedBy != nil && (j.LockedBy == nil || *j.LockedBy != *f.LockedBy) {
		return false
	}
	if f.LockedByNullOrStaleBefore != nil {
		stale := j.LockedBy == nil || (j.LockedAt != nil && j.LockedAt.Before(*f.LockedByNullOrStaleBefore))
		if !stale {
			return false
		}
	}
	if f.LockedNotNullAndStaleBefore != nil {
		stale := j.LockedBy != nil && j.LockedAt != nil && j.LockedAt.Before(*f.LockedNotNullAndStaleBefore)
		if !stale {
			return false
		}
	}
	if f.DependsOnJobID != nil && (j.DependsOnJobID == nil || *j.DependsOnJobID != *f.DependsOnJobID) {
		return false
	}
	return true
}

func containsID(ids []string, id string) bool {
	for _, i := range ids {
		if i == id {
			return true
		}
	}
	return false
}

func containsStatus(statuses []chronos.Status, s chronos.Status) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

func sortJobs(jobs []*chronos.Job, f store.JobFilter) {
	if !f.OrderByPriorityThenNextRunAt {
		return
	}
	sort.Slice(jobs, func(i, k int) bool {
		if jobs[i].Priority != jobs[k].Priority {
			return jobs[i].Priority < jobs[k].Priority
		}
		a, b := jobs[i].NextRunAt, jobs[k].NextRunAt
		if a == nil || b == nil {
			return b != nil
		}
		return a.Before(*b)
	})
}

func (m *Memory) apply(j *chronos.Job, u store.JobUpdate) {
	j.UpdatedAt = m.now()

	if u.Status != nil {
		j.Status = *u.Status
	}
	switch {
	case u.ClearLock:
		j.LockedBy = nil
		j.LockedAt = nil
	case u.SetLockedBy != nil:
		by := *u.SetLockedBy
		j.LockedBy = &by
		at := m.now()
		if u.SetLockedAt != nil {
			at = *u.SetLockedAt
		}
		j.LockedAt = &at
	}
	switch {
	case u.ClearNextRunAt:
		j.NextRunAt = nil
	case u.SetNextRunAt != nil:
		t := *u.SetNextRunAt
		j.NextRunAt = &t
	}
	if u.SetLastRunAt != nil {
		t := *u.SetLastRunAt
		j.LastRunAt = &t
	}
	switch {
	case u.IncRetryCount:
		j.RetryCount++
	case u.SetRetryCount != nil:
		j.RetryCount = *u.SetRetryCount
	}
	if u.SetExecutionDuration != nil {
		j.ExecutionDuration = *u.SetExecutionDuration
	}
	switch {
	case u.ClearError:
		j.LastError = ""
		j.LastErrorStack = ""
	default:
		if u.SetLastError != nil {
			j.LastError = *u.SetLastError
		}
		if u.SetLastErrorStack != nil {
			j.LastErrorStack = *u.SetLastErrorStack
		}
	}
	switch {
	case u.ClearResult:
		j.LastResult = nil
	case u.SetLastResult != nil:
		j.LastResult = append([]byte(nil), u.SetLastResult...)
	}
	switch {
	case u.ClearExpireAt:
		j.ExpireAt = nil
	case u.SetExpireAt != nil:
		t := *u.SetExpireAt
		j.ExpireAt = &t
	}
	switch {
	case u.ClearPausedAt:
		j.PausedAt = nil
	case u.SetPausedAt != nil:
		t := *u.SetPausedAt
		j.PausedAt = &t
	}
}

var _ store.Store = (*Memory)(nil)
