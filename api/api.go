// Package api holds the job-lifecycle operations owned outside the
// scheduling core itself — cancelJob, pauseJob, resumeJob, plus createJob's
// invariant-stamping — without an HTTP surface. Each operation is the same
// findAndUpdate-gated-on-predecessor-state shape the rest of the engine
// uses, so a real HTTP layer built on top of this package inherits the
// same conditional-write discipline the core depends on.
package api

import (
	"context"
	"time"

	"github.com/akshat111/CHRONOS"
	"github.com/akshat111/CHRONOS/store"
)

var timeNow = time.Now

// API wraps a store.Store with the job-lifecycle operations owned by
// collaborators outside the scheduling core.
type API struct {
	Store store.Store
}

// New returns an API bound to s.
func New(s store.Store) *API {
	return &API{Store: s}
}

// CreateJob validates and inserts job, letting the store compute its
// initial status/nextRunAt the way InsertJob always does.
func (a *API) CreateJob(ctx context.Context, j chronos.Job) (*chronos.Job, error) {
	job, err := chronos.NewJob(j)
	if err != nil {
		return nil, err
	}
	if err := a.Store.InsertJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// CancelJob transitions id out of scheduling, conditional on its current
// status being one that has not started running: PENDING, SCHEDULED, or
// QUEUED. A RUNNING job cannot be cancelled mid-flight; the caller observes
// a ConflictError instead.
func (a *API) CancelJob(ctx context.Context, id string) (*chronos.Job, error) {
	cancelled := chronos.StatusCancelled
	job, err := a.Store.FindAndUpdateJob(ctx, store.JobFilter{
		ID:       &id,
		Statuses: []chronos.Status{chronos.StatusPending, chronos.StatusScheduled, chronos.StatusQueued},
	}, store.JobUpdate{Status: &cancelled})
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, &chronos.ConflictError{Op: "cancel", ID: id}
	}
	return job, nil
}

// PauseJob conditionally transitions id to PAUSED, stamping pausedAt.
// PAUSED jobs are invisible to the picker because its claim filter
// requires SCHEDULED.
func (a *API) PauseJob(ctx context.Context, id string) (*chronos.Job, error) {
	paused := chronos.StatusPaused
	now := timeNow()
	job, err := a.Store.FindAndUpdateJob(ctx, store.JobFilter{
		ID:       &id,
		Statuses: []chronos.Status{chronos.StatusPending, chronos.StatusScheduled},
	}, store.JobUpdate{Status: &paused, SetPausedAt: &now})
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, &chronos.ConflictError{Op: "pause", ID: id}
	}
	return job, nil
}

// ResumeJob transitions id from PAUSED back to SCHEDULED, clearing
// pausedAt.
func (a *API) ResumeJob(ctx context.Context, id string) (*chronos.Job, error) {
	scheduled := chronos.StatusScheduled
	job, err := a.Store.FindAndUpdateJob(ctx, store.JobFilter{
		ID:       &id,
		Statuses: []chronos.Status{chronos.StatusPaused},
	}, store.JobUpdate{Status: &scheduled, ClearPausedAt: true})
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, &chronos.ConflictError{Op: "resume", ID: id}
	}
	return job, nil
}

// GetJob is a thin passthrough, kept here so collaborators depend on one
// package for the whole job-lifecycle surface.
func (a *API) GetJob(ctx context.Context, id string) (*chronos.Job, error) {
	return a.Store.GetJob(ctx, id)
}

// ListJobs is a thin passthrough to the store's query operation.
func (a *API) ListJobs(ctx context.Context, q store.JobQuery) ([]*chronos.Job, error) {
	return a.Store.QueryJobs(ctx, q)
}
