package store

import (
	"encoding/json"
	"time"

	"github.com/akshat111/CHRONOS"
)

func unmarshalMap(raw []byte, dst *map[string]any) error {
	return json.Unmarshal(raw, dst)
}

// row is the subset of pgx.Row/pgx.Rows that Scan needs, so scanJob works
// against both a single QueryRow result and a Rows cursor.
type row interface {
	Scan(dest ...any) error
}

// jobInsertArgs orders a Job's fields to match jobColumns/insertJobStmt.
func jobInsertArgs(j *chronos.Job) []any {
	return []any{
		j.ID, j.HumanID, j.Name, j.Description, j.Tags, j.Timezone, j.Owner, string(j.Kind),
		j.ScheduleTime, j.CronExpression, j.Interval.Milliseconds(), j.StartTime, j.EndTime,
		j.TaskType, nullableJSON(j.Payload), j.Priority, string(j.Status), j.NextRunAt, j.LastRunAt,
		j.RetryCount, j.ExecutionDuration.Milliseconds(), j.LastError, j.LastErrorStack,
		nullableJSON(j.LastResult), j.PausedAt, j.MaxRetries, j.RetryDelay.Milliseconds(),
		j.UseExponentialBackoff, j.MaxRetryDelay.Milliseconds(), string(j.RetryStrategy),
		j.JitterEnabled, j.JitterFactor, j.LockedBy, j.LockedAt, j.LockTimeout.Milliseconds(),
		j.DependsOnJobID, j.IsActive, j.ExpireAt, j.CreatedAt, j.UpdatedAt,
	}
}

// scanJob reads one chronos_jobs row, in jobColumns order, converting the
// millisecond-BIGINT duration columns back into time.Duration and the JSONB
// columns back into json.RawMessage.
func scanJob(r row) (*chronos.Job, error) {
	var j chronos.Job
	var kind, status, retryStrategy string
	var intervalMS, execDurMS, retryDelayMS, maxRetryDelayMS, lockTimeoutMS int64
	var payload, lastResult []byte

	err := r.Scan(
		&j.ID, &j.HumanID, &j.Name, &j.Description, &j.Tags, &j.Timezone, &j.Owner, &kind,
		&j.ScheduleTime, &j.CronExpression, &intervalMS, &j.StartTime, &j.EndTime,
		&j.TaskType, &payload, &j.Priority, &status, &j.NextRunAt, &j.LastRunAt,
		&j.RetryCount, &execDurMS, &j.LastError, &j.LastErrorStack,
		&lastResult, &j.PausedAt, &j.MaxRetries, &retryDelayMS,
		&j.UseExponentialBackoff, &maxRetryDelayMS, &retryStrategy,
		&j.JitterEnabled, &j.JitterFactor, &j.LockedBy, &j.LockedAt, &lockTimeoutMS,
		&j.DependsOnJobID, &j.IsActive, &j.ExpireAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Kind = chronos.Kind(kind)
	j.Status = chronos.Status(status)
	j.RetryStrategy = chronos.RetryStrategy(retryStrategy)
	j.Interval = time.Duration(intervalMS) * time.Millisecond
	j.ExecutionDuration = time.Duration(execDurMS) * time.Millisecond
	j.RetryDelay = time.Duration(retryDelayMS) * time.Millisecond
	j.MaxRetryDelay = time.Duration(maxRetryDelayMS) * time.Millisecond
	j.LockTimeout = time.Duration(lockTimeoutMS) * time.Millisecond
	j.Payload = payload
	j.LastResult = lastResult
	return &j, nil
}

// scanLog mirrors scanJob for chronos_execution_logs, in listLogsByJobStmt's
// column order.
func scanLog(r row) (*chronos.ExecutionLog, error) {
	var l chronos.ExecutionLog
	var jobKind, status, errorCode string
	var durationMS int64
	var payloadSnapshot, result, metrics, metadata []byte

	err := r.Scan(
		&l.ID, &l.JobID, &l.JobName, &jobKind, &l.TaskType, &l.ScheduledTime,
		&l.StartedAt, &l.EndedAt, &durationMS, &status, &l.RetryAttempt, &l.IsRetry,
		&l.ErrorMessage, &l.ErrorStack, &errorCode, &l.WorkerID, &l.Host,
		&payloadSnapshot, &result, &metrics, &metadata, &l.ExpireAt,
	)
	if err != nil {
		return nil, err
	}

	l.JobKind = chronos.Kind(jobKind)
	l.Status = chronos.LogStatus(status)
	l.ErrorCode = chronos.ErrorCode(errorCode)
	l.Duration = time.Duration(durationMS) * time.Millisecond
	l.PayloadSnapshot = payloadSnapshot
	l.Result = result
	if len(metrics) > 0 {
		if err := unmarshalMap(metrics, &l.Metrics); err != nil {
			return nil, err
		}
	}
	if len(metadata) > 0 {
		if err := unmarshalMap(metadata, &l.Metadata); err != nil {
			return nil, err
		}
	}
	return &l, nil
}
