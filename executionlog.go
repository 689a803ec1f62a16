package chronos

import (
	"encoding/json"
	"time"
)

// ExecutionLog is one append-only record of a single execution attempt.
// isRetry ⇔ retryAttempt > 0, and duration = end − start whenever end is set
// — both are enforced by the constructors/mutators in this package rather
// than left to callers.
type ExecutionLog struct {
	ID    string `json:"id"`
	JobID string `json:"jobId"`

	JobName  string `json:"jobName"`
	JobKind  Kind   `json:"jobKind"`
	TaskType string `json:"taskType"`

	ScheduledTime time.Time  `json:"scheduledTime"`
	StartedAt     time.Time  `json:"startedAt"`
	EndedAt       *time.Time `json:"endedAt,omitempty"`
	Duration      time.Duration `json:"duration,omitempty"`

	Status        LogStatus `json:"status"`
	RetryAttempt  int       `json:"retryAttempt"`
	IsRetry       bool      `json:"isRetry"`

	ErrorMessage string    `json:"errorMessage,omitempty"`
	ErrorStack   string    `json:"errorStack,omitempty"`
	ErrorCode    ErrorCode `json:"errorCode,omitempty"`

	WorkerID string `json:"workerId"`
	Host     string `json:"host"`

	PayloadSnapshot json.RawMessage `json:"payloadSnapshot,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`

	Metrics  map[string]any `json:"metrics,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	ExpireAt time.Time `json:"expireAt"`
}

// NewExecutionLog constructs the RUNNING log entry at the start of an
// attempt (executor.go step 1). It is built in memory only; the executor
// stores it once the attempt has finished.
func NewExecutionLog(job *Job, attempt int, workerID, host string) *ExecutionLog {
	return &ExecutionLog{
		JobID:           job.ID,
		JobName:         job.Name,
		JobKind:         job.Kind,
		TaskType:        job.TaskType,
		ScheduledTime:   derefTime(job.NextRunAt),
		StartedAt:       timeNow(),
		Status:          LogRunning,
		RetryAttempt:    attempt,
		IsRetry:         attempt > 0,
		WorkerID:        workerID,
		Host:            host,
		PayloadSnapshot: job.Payload,
		ExpireAt:        timeNow().Add(DefaultLogTTL),
	}
}

// Finish closes the log with a terminal outcome, computing Duration from
// StartedAt/EndedAt so callers cannot desync the two.
func (l *ExecutionLog) Finish(status LogStatus, end time.Time) {
	l.EndedAt = &end
	l.Duration = end.Sub(l.StartedAt)
	l.Status = status
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// Lock is a named advisory lock record (chronos/lock.Manager's persistence
// shape); it exists ⇔ some holder owns it and the store has not yet evicted
// its expiry record.
type Lock struct {
	LockID     string    `json:"lockId"`
	Holder     string    `json:"holder"`
	AcquiredAt time.Time `json:"acquiredAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	RenewCount int       `json:"renewCount"`
}
