// Package chronos is the CHRONOS scheduling engine: a durable job model,
// atomic claim protocol, retry and backoff policy, and cron evaluation,
// backed by collaborator packages for storage (chronos/store), distributed
// locking (chronos/lock), claiming (chronos/picker), execution
// (chronos/executor), and orchestration (chronos/worker).
package chronos

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	// DefaultLockTimeout is the stale-lock threshold and default handler deadline.
	DefaultLockTimeout = 5 * time.Minute
	// DefaultJobTTL is how long a COMPLETED job is retained before purge.
	DefaultJobTTL = 5 * 24 * time.Hour
	// DefaultLogTTL is how long an ExecutionLog is retained before purge.
	DefaultLogTTL = 30 * 24 * time.Hour

	MinInterval = 1000 * time.Millisecond
	MaxInterval = 30 * 24 * time.Hour

	MinPriority = 1
	MaxPriority = 10
	DefaultPriority = 5

	DefaultMaxRetries     = 3
	MaxMaxRetries         = 10
	DefaultBaseRetryDelay = time.Minute
	DefaultMaxRetryDelay  = time.Hour
	DefaultJitterFactor   = 0.2
)

// Job is the central scheduling entity. Validate enforces the subset of
// its invariants that can be checked without a store round trip.
type Job struct {
	ID      string `json:"id"`
	HumanID string `json:"humanId"`

	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Timezone    string   `json:"timezone"`
	Owner       string   `json:"owner,omitempty"`

	Kind Kind `json:"kind"`

	ScheduleTime   *time.Time `json:"scheduleTime,omitempty"`
	CronExpression string     `json:"cronExpression,omitempty"`
	Interval       time.Duration `json:"interval,omitempty"`
	StartTime      *time.Time `json:"startTime,omitempty"`
	EndTime        *time.Time `json:"endTime,omitempty"`

	TaskType string          `json:"taskType"`
	Payload  json.RawMessage `json:"payload,omitempty"`

	Priority int `json:"priority"`

	Status             Status     `json:"status"`
	NextRunAt          *time.Time `json:"nextRunAt,omitempty"`
	LastRunAt          *time.Time `json:"lastRunAt,omitempty"`
	RetryCount         int        `json:"retryCount"`
	ExecutionDuration  time.Duration `json:"executionDuration,omitempty"`
	LastError          string     `json:"lastError,omitempty"`
	LastErrorStack     string     `json:"lastErrorStack,omitempty"`
	LastResult         json.RawMessage `json:"lastResult,omitempty"`
	PausedAt           *time.Time `json:"pausedAt,omitempty"`

	MaxRetries            int           `json:"maxRetries"`
	RetryDelay            time.Duration `json:"retryDelay"`
	UseExponentialBackoff bool          `json:"useExponentialBackoff"`
	MaxRetryDelay         time.Duration `json:"maxRetryDelay,omitempty"`
	RetryStrategy         RetryStrategy `json:"retryStrategy"`
	JitterEnabled         bool          `json:"jitterEnabled"`
	JitterFactor          float64       `json:"jitterFactor,omitempty"`

	LockedBy    *string       `json:"lockedBy,omitempty"`
	LockedAt    *time.Time    `json:"lockedAt,omitempty"`
	LockTimeout time.Duration `json:"lockTimeout"`

	DependsOnJobID *string `json:"dependsOnJobId,omitempty"`

	IsActive bool       `json:"isActive"`
	ExpireAt *time.Time `json:"expireAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewJob fills in every default a Job needs and validates the result. The
// caller still owns ID/HumanID assignment (done by the store on insert, via
// its counter).
func NewJob(j Job) (*Job, error) {
	if j.Timezone == "" {
		j.Timezone = "UTC"
	}
	if j.Priority == 0 {
		j.Priority = DefaultPriority
	}
	if j.MaxRetries == 0 {
		j.MaxRetries = DefaultMaxRetries
	}
	if j.RetryDelay == 0 {
		j.RetryDelay = DefaultBaseRetryDelay
	}
	if j.MaxRetryDelay == 0 {
		j.MaxRetryDelay = DefaultMaxRetryDelay
	}
	if j.RetryStrategy == "" {
		j.RetryStrategy = RetryExponential
	}
	if j.JitterFactor == 0 {
		j.JitterFactor = DefaultJitterFactor
	}
	if j.LockTimeout == 0 {
		j.LockTimeout = DefaultLockTimeout
	}
	j.Status = StatusPending
	j.IsActive = true
	if j.DependsOnJobID != nil {
		j.Status = StatusWaiting
	}
	if err := j.Validate(); err != nil {
		return nil, err
	}
	return &j, nil
}

// Validate enforces a Job's structural invariants and field bounds,
// independent of any store state.
func (j *Job) Validate() error {
	if l := len(j.Name); l < 3 || l > 200 {
		return &ValidationError{Field: "name", Msg: "must be between 3 and 200 characters"}
	}
	if len(j.Description) > 1000 {
		return &ValidationError{Field: "description", Msg: "must be at most 1000 characters"}
	}
	if _, err := time.LoadLocation(j.Timezone); err != nil {
		return &ValidationError{Field: "timezone", Msg: fmt.Sprintf("not a valid IANA timezone: %v", err)}
	}
	if j.Priority < MinPriority || j.Priority > MaxPriority {
		return &ValidationError{Field: "priority", Msg: "must be between 1 and 10"}
	}
	if j.MaxRetries < 0 || j.MaxRetries > MaxMaxRetries {
		return &ValidationError{Field: "maxRetries", Msg: "must be between 0 and 10"}
	}
	if j.RetryDelay < time.Second {
		return &ValidationError{Field: "retryDelay", Msg: "must be at least 1000ms"}
	}
	switch j.RetryStrategy {
	case RetryFixed, RetryExponential, RetryLinear, RetryFibonacci:
	default:
		return &ValidationError{Field: "retryStrategy", Msg: "must be one of fixed, exponential, linear, fibonacci"}
	}
	if j.TaskType == "" {
		return &ValidationError{Field: "taskType", Msg: "is required"}
	}

	switch j.Kind {
	case KindOneTime:
		if j.ScheduleTime == nil || j.CronExpression != "" || j.Interval != 0 {
			return &ValidationError{Field: "scheduleTime", Msg: "one-time jobs must set scheduleTime only"}
		}
	case KindRecurring:
		if j.ScheduleTime != nil || (j.CronExpression == "") == (j.Interval == 0) {
			return &ValidationError{Field: "cronExpression", Msg: "recurring jobs must set exactly one of cronExpression or interval"}
		}
		if j.CronExpression != "" && !IsValidCron(j.CronExpression) {
			return &ValidationError{Field: "cronExpression", Msg: "not a valid 5-field cron expression"}
		}
		if j.Interval != 0 && (j.Interval < MinInterval || j.Interval > MaxInterval) {
			return &ValidationError{Field: "interval", Msg: "must be between 1000ms and 2592000000ms"}
		}
	default:
		return &ValidationError{Field: "kind", Msg: "must be ONE_TIME or RECURRING"}
	}
	return nil
}

// Location returns the job's configured IANA timezone, defaulting to UTC.
func (j *Job) Location() *time.Location {
	loc, err := time.LoadLocation(j.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
