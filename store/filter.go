package store

import (
	"fmt"
	"strings"
)

// buildJobWhere translates a JobFilter into a SQL WHERE fragment (without
// the WHERE keyword) plus its positional args, starting numbering at
// startParam. An empty filter yields "TRUE" so callers never need a special
// case for "no constraint."
func buildJobWhere(f JobFilter, startParam int) (string, []any) {
	var conds []string
	var args []any
	n := startParam

	next := func(v any) string {
		args = append(args, v)
		p := fmt.Sprintf("$%d", n)
		n++
		return p
	}

	if f.ID != nil {
		conds = append(conds, "id = "+next(*f.ID))
	}
	if len(f.IDs) > 0 {
		conds = append(conds, "id = ANY("+next(f.IDs)+")")
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		conds = append(conds, "status = ANY("+next(statuses)+")")
	}
	if f.NextRunAtLTE != nil {
		conds = append(conds, "next_run_at <= "+next(*f.NextRunAtLTE))
	}
	if f.IsActive != nil {
		conds = append(conds, "is_active = "+next(*f.IsActive))
	}
	if f.LockedBy != nil {
		conds = append(conds, "locked_by = "+next(*f.LockedBy))
	}
	if f.LockedByNullOrStaleBefore != nil {
		p := next(*f.LockedByNullOrStaleBefore)
		conds = append(conds, "(locked_by IS NULL OR locked_at < "+p+")")
	}
	if f.LockedNotNullAndStaleBefore != nil {
		p := next(*f.LockedNotNullAndStaleBefore)
		conds = append(conds, "(locked_by IS NOT NULL AND locked_at < "+p+")")
	}
	if f.DependsOnJobID != nil {
		conds = append(conds, "depends_on_job_id = "+next(*f.DependsOnJobID))
	}

	if len(conds) == 0 {
		return "TRUE", args
	}
	return strings.Join(conds, " AND "), args
}

// buildJobSet translates a JobUpdate into a SQL SET fragment (without the
// SET keyword) plus its positional args, starting numbering at startParam.
// updated_at is always stamped. "Set" and "Clear" pairs are mutually
// exclusive per field by construction of JobUpdate's call sites.
func buildJobSet(u JobUpdate, startParam int) (string, []any) {
	var sets []string
	var args []any
	n := startParam

	next := func(v any) string {
		args = append(args, v)
		p := fmt.Sprintf("$%d", n)
		n++
		return p
	}

	sets = append(sets, "updated_at = "+next(timeNow()))

	if u.Status != nil {
		sets = append(sets, "status = "+next(string(*u.Status)))
	}
	switch {
	case u.ClearLock:
		sets = append(sets, "locked_by = NULL", "locked_at = NULL")
	case u.SetLockedBy != nil:
		sets = append(sets, "locked_by = "+next(*u.SetLockedBy))
		if u.SetLockedAt != nil {
			sets = append(sets, "locked_at = "+next(*u.SetLockedAt))
		} else {
			sets = append(sets, "locked_at = "+next(timeNow()))
		}
	}
	switch {
	case u.ClearNextRunAt:
		sets = append(sets, "next_run_at = NULL")
	case u.SetNextRunAt != nil:
		sets = append(sets, "next_run_at = "+next(*u.SetNextRunAt))
	}
	if u.SetLastRunAt != nil {
		sets = append(sets, "last_run_at = "+next(*u.SetLastRunAt))
	}
	switch {
	case u.IncRetryCount:
		sets = append(sets, "retry_count = retry_count + 1")
	case u.SetRetryCount != nil:
		sets = append(sets, "retry_count = "+next(*u.SetRetryCount))
	}
	if u.SetExecutionDuration != nil {
		sets = append(sets, "execution_duration_ms = "+next(u.SetExecutionDuration.Milliseconds()))
	}
	switch {
	case u.ClearError:
		sets = append(sets, "last_error = ''", "last_error_stack = ''")
	default:
		if u.SetLastError != nil {
			sets = append(sets, "last_error = "+next(*u.SetLastError))
		}
		if u.SetLastErrorStack != nil {
			sets = append(sets, "last_error_stack = "+next(*u.SetLastErrorStack))
		}
	}
	switch {
	case u.ClearResult:
		sets = append(sets, "last_result = NULL")
	case u.SetLastResult != nil:
		sets = append(sets, "last_result = "+next([]byte(u.SetLastResult)))
	}
	switch {
	case u.ClearExpireAt:
		sets = append(sets, "expire_at = NULL")
	case u.SetExpireAt != nil:
		sets = append(sets, "expire_at = "+next(*u.SetExpireAt))
	}
	switch {
	case u.ClearPausedAt:
		sets = append(sets, "paused_at = NULL")
	case u.SetPausedAt != nil:
		sets = append(sets, "paused_at = "+next(*u.SetPausedAt))
	}

	return strings.Join(sets, ", "), args
}
