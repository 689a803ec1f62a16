// Package handlers is the taskType → handler binding: an in-process
// registry the Executor consults, keyed by the job's taskType. A plain
// function type rather than an interface, since handlers carry no state
// of their own beyond a closure.
package handlers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/akshat111/CHRONOS"
)

// Handler processes one execution attempt for a taskType. payload is the
// job's raw JSON payload; job is a read-only snapshot of the claimed job
// record. The result, if any, is persisted into the ExecutionLog.
type Handler func(ctx context.Context, payload json.RawMessage, job *chronos.Job) (result any, err error)

// Registry maps taskType to Handler. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds taskType to h, replacing any existing binding.
func (r *Registry) Register(taskType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[taskType] = h
}

// Get returns the handler bound to taskType, or a *chronos.HandlerError if
// none is registered — the executor treats that as a non-retryable
// failure.
func (r *Registry) Get(taskType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[taskType]
	if !ok {
		return nil, &chronos.HandlerError{TaskType: taskType}
	}
	return h, nil
}
