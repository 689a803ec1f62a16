package chronos

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

// These are indirected like sleep/timeNow so tests can pin cron evaluation
// without depending on the wall clock.
var (
	gronxIsValid  = gronx.IsValid
	nextTickAfter = gronx.NextTickAfter
)

// ErrBadCron is a sentinel for a cron expression that fails validation.
// Nothing in this module returns it: Job.Validate reports a bad cron
// expression as a *ValidationError.
var ErrBadCron = fmt.Errorf("bad cron expression")

// IsValidCron reports whether expr is a syntactically valid standard
// 5-field cron expression.
func IsValidCron(expr string) bool {
	return gronxIsValid(expr)
}

// NextRun computes the next occurrence of job's schedule strictly after
// now, evaluated in the job's timezone. It returns (t, true) when an
// occurrence exists and fits within job.EndTime (or EndTime is unset), and
// (zero, false) — "none" — when the job should complete instead of
// reschedule.
//
// NextRun always uses gronx for cron evaluation and honors the job's IANA
// timezone by evaluating in that location before converting back to UTC
// for storage.
func NextRun(job *Job, now time.Time) (time.Time, bool) {
	var next time.Time
	switch {
	case job.Interval > 0:
		next = now.Add(job.Interval)
	case job.CronExpression != "":
		loc := job.Location()
		localNow := now.In(loc)
		localNext, err := cronNextAfter(job.CronExpression, localNow)
		if err != nil {
			return time.Time{}, false
		}
		next = localNext.In(time.UTC)
	default:
		return time.Time{}, false
	}
	if job.EndTime != nil && next.After(*job.EndTime) {
		return time.Time{}, false
	}
	return next, true
}

// cronNextAfter finds the earliest occurrence of expr strictly after ref.
// inclRefTime=false makes gronx skip ref itself when it lands exactly on a
// tick boundary, which is what "strictly greater than now" requires.
func cronNextAfter(expr string, ref time.Time) (time.Time, error) {
	return nextTickAfter(expr, ref, false)
}
