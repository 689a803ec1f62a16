// Package executor runs one claimed job to completion, implementing the
// six-step attempt lifecycle: begin log, mark RUNNING, resolve handler,
// run with timeout, then either the success path (reschedule/complete,
// dependency fan-out) or the failure path (classify, retry or fail
// permanently, dependency block).
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/akshat111/CHRONOS"
	"github.com/akshat111/CHRONOS/handlers"
	"github.com/akshat111/CHRONOS/store"
)

var timeNow = time.Now

// Executor runs claimed jobs against a Registry, recording outcomes in
// Store. One Executor is owned exclusively by a single Worker for its
// lifetime.
type Executor struct {
	Store    store.Store
	Registry *handlers.Registry
	WorkerID string
	Host     string
}

// New returns an Executor bound to store s, resolving handlers from reg.
func New(s store.Store, reg *handlers.Registry, workerID, host string) *Executor {
	return &Executor{Store: s, Registry: reg, WorkerID: workerID, Host: host}
}

// Execute performs one attempt at job, which the caller must already hold
// the lock for (normally via picker.PickOne). The returned error is a
// meta-failure — the executor could not write to the store — not a
// handler failure; handler failures are captured in the returned log and
// in job state instead of being propagated. The first error either path
// raises ends the attempt; Execute catches and records it, and no
// exception escapes to the Worker loop.
func (e *Executor) Execute(ctx context.Context, job *chronos.Job) (*chronos.ExecutionLog, error) {
	log := chronos.NewExecutionLog(job, job.RetryCount, e.WorkerID, e.Host)

	running := chronos.StatusRunning
	now := timeNow()
	reasserted, err := e.Store.FindAndUpdateJob(ctx, store.JobFilter{ID: &job.ID, LockedBy: &e.WorkerID},
		store.JobUpdate{Status: &running, SetLockedBy: &e.WorkerID, SetLockedAt: &now})
	if err != nil {
		return nil, fmt.Errorf("mark job running: %w", err)
	}
	if reasserted == nil {
		return nil, &chronos.ConflictError{Op: "mark running", ID: job.ID}
	}
	job = reasserted

	handler, herr := e.Registry.Get(job.TaskType)
	if herr != nil {
		return e.fail(ctx, job, log, herr)
	}

	result, runErr := e.runWithTimeout(ctx, handler, job)
	if runErr != nil {
		return e.fail(ctx, job, log, runErr)
	}
	return e.succeed(ctx, job, log, result)
}

// runWithTimeout races the handler against job.LockTimeout using a
// goroutine+select idiom for honoring ctx cancellation around a blocking
// call we don't control: the handler is never forcibly killed, only its
// result is discarded once the deadline fires.
func (e *Executor) runWithTimeout(ctx context.Context, h handlers.Handler, job *chronos.Job) (any, error) {
	timeout := job.LockTimeout
	if timeout <= 0 {
		timeout = chronos.DefaultLockTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := h(runCtx, job.Payload, job)
		done <- outcome{result, err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-runCtx.Done():
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("handler timeout exceeded after %s", timeout)
		}
		return nil, runCtx.Err()
	}
}

func (e *Executor) succeed(ctx context.Context, job *chronos.Job, log *chronos.ExecutionLog, result any) (*chronos.ExecutionLog, error) {
	resultJSON, err := marshalResult(result)
	if err != nil {
		return nil, fmt.Errorf("marshal handler result: %w", err)
	}
	now := timeNow()
	log.Finish(chronos.LogSuccess, now)
	log.Result = resultJSON
	if err := e.Store.InsertLog(ctx, log); err != nil {
		return nil, fmt.Errorf("insert execution log: %w", err)
	}

	update := store.JobUpdate{
		ClearLock:     true,
		SetLastRunAt:  &now,
		SetRetryCount: intPtr(0),
		ClearError:    true,
		SetLastResult: resultJSON,
	}
	switch job.Kind {
	case chronos.KindOneTime:
		completed := chronos.StatusCompleted
		expireAt := now.Add(chronos.DefaultJobTTL)
		update.Status = &completed
		update.SetExpireAt = &expireAt
	case chronos.KindRecurring:
		if next, ok := chronos.NextRun(job, now); ok {
			scheduled := chronos.StatusScheduled
			update.Status = &scheduled
			update.SetNextRunAt = &next
		} else {
			completed := chronos.StatusCompleted
			expireAt := now.Add(chronos.DefaultJobTTL)
			update.Status = &completed
			update.SetExpireAt = &expireAt
		}
	}

	updated, err := e.Store.FindAndUpdateJob(ctx, store.JobFilter{ID: &job.ID}, update)
	if err != nil {
		return log, fmt.Errorf("apply success update: %w", err)
	}
	if updated == nil {
		return log, &chronos.ConflictError{Op: "succeed", ID: job.ID}
	}

	if _, err := e.fanOut(ctx, job.ID, now); err != nil {
		return log, fmt.Errorf("dependency fan-out: %w", err)
	}
	return log, nil
}

func (e *Executor) fail(ctx context.Context, job *chronos.Job, log *chronos.ExecutionLog, runErr error) (*chronos.ExecutionLog, error) {
	now := timeNow()
	code := chronos.ClassifyError(runErr)
	retryable := chronos.IsRetryable(runErr) && job.RetryCount < job.MaxRetries

	logStatus := chronos.LogFailed
	if code == chronos.ErrTimeout {
		logStatus = chronos.LogTimeout
	}
	log.Finish(logStatus, now)
	log.ErrorMessage = runErr.Error()
	log.ErrorCode = code

	update := store.JobUpdate{
		ClearLock:         true,
		SetLastRunAt:      &now,
		SetLastError:      strPtr(runErr.Error()),
		SetLastErrorStack: strPtr(fmt.Sprintf("%+v", runErr)),
	}

	if retryable {
		delay := chronos.BackoffDelay(job.RetryStrategy, job.RetryCount, job.RetryDelay, job.MaxRetryDelay, job.JitterEnabled, job.JitterFactor)
		nextRunAt := now.Add(delay)
		scheduled := chronos.StatusScheduled
		update.Status = &scheduled
		update.IncRetryCount = true
		update.SetNextRunAt = &nextRunAt
		log.Metadata = map[string]any{
			"willRetry":        true,
			"nextRetryAt":      nextRunAt,
			"remainingRetries": job.MaxRetries - job.RetryCount - 1,
			"retryDelay":       delay.Milliseconds(),
		}
	} else {
		failed := chronos.StatusFailed
		update.Status = &failed
		log.Metadata = map[string]any{
			"willRetry":        false,
			"remainingRetries": 0,
		}
	}

	if err := e.Store.InsertLog(ctx, log); err != nil {
		return nil, fmt.Errorf("insert execution log: %w", err)
	}

	updated, err := e.Store.FindAndUpdateJob(ctx, store.JobFilter{ID: &job.ID}, update)
	if err != nil {
		return log, fmt.Errorf("apply failure update: %w", err)
	}
	if updated == nil {
		return log, &chronos.ConflictError{Op: "fail", ID: job.ID}
	}

	if !retryable {
		if _, err := e.fanIn(ctx, job.ID); err != nil {
			return log, fmt.Errorf("dependency block: %w", err)
		}
	}
	return log, nil
}

// fanOut transitions every WAITING child of parentID to SCHEDULED, due
// immediately.
func (e *Executor) fanOut(ctx context.Context, parentID string, now time.Time) (int64, error) {
	scheduled := chronos.StatusScheduled
	return e.Store.UpdateManyJobs(ctx, store.JobFilter{
		DependsOnJobID: &parentID,
		Statuses:       []chronos.Status{chronos.StatusWaiting},
	}, store.JobUpdate{Status: &scheduled, SetNextRunAt: &now})
}

// fanIn transitions every WAITING child of parentID to BLOCKED, triggered
// once a parent permanently fails.
func (e *Executor) fanIn(ctx context.Context, parentID string) (int64, error) {
	blocked := chronos.StatusBlocked
	return e.Store.UpdateManyJobs(ctx, store.JobFilter{
		DependsOnJobID: &parentID,
		Statuses:       []chronos.Status{chronos.StatusWaiting},
	}, store.JobUpdate{Status: &blocked})
}

func intPtr(n int) *int       { return &n }
func strPtr(s string) *string { return &s }

func marshalResult(result any) ([]byte, error) {
	if result == nil {
		return nil, nil
	}
	return json.Marshal(result)
}
