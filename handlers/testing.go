package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/akshat111/CHRONOS"
)

// Echo decodes payload and returns it unchanged as the handler result, so
// a COMPLETED job's ExecutionLog.Result equals the payload it was given.
func Echo(ctx context.Context, payload json.RawMessage, job *chronos.Job) (any, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, err
	}
	return v, nil
}

type delayPayload struct {
	DelayMs int64 `json:"delayMs"`
}

// Delay sleeps for payload.delayMs, honoring ctx cancellation — used to
// exercise the Executor's lockTimeout race.
func Delay(ctx context.Context, payload json.RawMessage, job *chronos.Job) (any, error) {
	var p delayPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
	}
	timer := time.NewTimer(time.Duration(p.DelayMs) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
		return map[string]any{"slept_ms": p.DelayMs}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AlwaysFail fails every invocation with a message that deliberately
// avoids every substring classify.go or IsRetryable treats specially, so
// it classifies as UNKNOWN_ERROR and remains retryable — a job using it
// exhausts maxRetries rather than failing permanently on attempt one.
func AlwaysFail(ctx context.Context, payload json.RawMessage, job *chronos.Job) (any, error) {
	return nil, errors.New("simulated failure for testing")
}

// FailNTimes returns a Handler that fails the first n invocations of a
// given job, then succeeds. It keys on job.RetryCount, which the Executor
// has already incremented by the time of a retry attempt, rather than
// keeping its own per-job counter: the job record itself is the attempt
// counter, so two worker processes retrying the same job observe
// consistent behavior without sharing handler state.
func FailNTimes(n int) Handler {
	return func(ctx context.Context, payload json.RawMessage, job *chronos.Job) (any, error) {
		if job.RetryCount < n {
			return nil, errors.New("simulated failure for testing")
		}
		return Echo(ctx, payload, job)
	}
}

// CountingHandler wraps h and records how many times it has been invoked,
// for assertions in worker/executor tests that need call counts rather
// than job state.
func CountingHandler(h Handler) (Handler, func() int) {
	var mu sync.Mutex
	var n int
	wrapped := func(ctx context.Context, payload json.RawMessage, job *chronos.Job) (any, error) {
		mu.Lock()
		n++
		mu.Unlock()
		return h(ctx, payload, job)
	}
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return n
	}
	return wrapped, count
}
