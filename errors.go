package chronos

import "fmt"

// ValidationError reports a Job field that fails a structural invariant —
// a scheduling error, never seen by the executor.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Msg)
}

// NotFoundError reports a missing Job, ExecutionLog, or Lock.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// ConflictError reports a conditional write that found no matching record
// because another worker already mutated it. A failed conditional write is
// never retried silently; the caller decides whether to re-read and retry.
type ConflictError struct {
	Op  string
	ID  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s on %s matched no record", e.Op, e.ID)
}

// HandlerError reports taskType lookup failure against the handler
// registry. Always non-retryable.
type HandlerError struct {
	TaskType string
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("no handler registered for taskType %q", e.TaskType)
}
