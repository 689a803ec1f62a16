// Package worker is the orchestrator: the poll → claim → execute loop
// with bounded concurrency, an independent stale-recovery ticker,
// lifecycle states, graceful drain, and statistics. Built on a
// ticker+select goroutine loop generalized from a single cron dispatch
// loop into two independent tickers, stopped by context cancellation.
package worker

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/akshat111/CHRONOS"
	"github.com/akshat111/CHRONOS/events"
	"github.com/akshat111/CHRONOS/executor"
	"github.com/akshat111/CHRONOS/handlers"
	"github.com/akshat111/CHRONOS/picker"
	"github.com/akshat111/CHRONOS/store"
)

var timeNow = time.Now

// ticker is the narrow surface worker needs from *time.Ticker, following
// the same fake-friendly-interface idiom as store.PgxConn and
// lock.RedisClient: tests substitute a channel they control instead of
// waiting on real wall-clock ticks.
type ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

var newTicker = func(d time.Duration) ticker { return &realTicker{t: time.NewTicker(d)} }

// State is one of the Worker lifecycle states.
type State string

const (
	StateStopped  State = "stopped"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateDraining State = "draining"
)

// Config carries every Worker option that is not a property of an
// individual Job.
type Config struct {
	PollInterval       time.Duration
	Concurrency        int
	StaleRecoveryEvery time.Duration
	DrainTimeout       time.Duration
	WorkerID           string
	Host               string
}

// DefaultConfig returns the engine's default Worker tunables.
func DefaultConfig() Config {
	return Config{
		PollInterval:       5 * time.Second,
		Concurrency:        5,
		StaleRecoveryEvery: time.Minute,
		DrainTimeout:       30 * time.Second,
		WorkerID:           defaultWorkerID(),
	}
}

func defaultWorkerID() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s_%d", host, os.Getpid())
}

// Stats mirrors the running counters a Worker maintains.
type Stats struct {
	JobsProcessed      int64
	JobsSucceeded      int64
	JobsFailed         int64
	TotalRetries       int64
	SuccessfulRetries  int64
	TotalExecutionTime time.Duration
	LastJobAt          time.Time
	ActiveJobs         int
	StartedAt          time.Time
}

// SuccessRate returns JobsSucceeded / JobsProcessed, or 0 if nothing has
// run yet.
func (s Stats) SuccessRate() float64 {
	if s.JobsProcessed == 0 {
		return 0
	}
	return float64(s.JobsSucceeded) / float64(s.JobsProcessed)
}

// AvgExecutionTime returns TotalExecutionTime / JobsProcessed.
func (s Stats) AvgExecutionTime() time.Duration {
	if s.JobsProcessed == 0 {
		return 0
	}
	return s.TotalExecutionTime / time.Duration(s.JobsProcessed)
}

// RetrySuccessRate returns SuccessfulRetries / TotalRetries.
func (s Stats) RetrySuccessRate() float64 {
	if s.TotalRetries == 0 {
		return 0
	}
	return float64(s.SuccessfulRetries) / float64(s.TotalRetries)
}

// Uptime returns the time elapsed since StartedAt, or 0 if not running.
func (s Stats) Uptime() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	return timeNow().Sub(s.StartedAt)
}

// Worker exclusively owns one Picker and one Executor for its lifetime;
// nothing else is expected to call Picker or
// Executor methods concurrently with a running Worker.
type Worker struct {
	Picker   *picker.Picker
	Executor *executor.Executor
	Events   *events.Bus
	cfg      Config

	mu     sync.Mutex
	state  State
	stats  Stats
	cancel context.CancelFunc
	done   chan struct{}
}

// New wires a Worker from a store, handler registry, and Config,
// constructing its own Picker and Executor.
func New(s store.Store, reg *handlers.Registry, cfg Config) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if cfg.StaleRecoveryEvery <= 0 {
		cfg.StaleRecoveryEvery = DefaultConfig().StaleRecoveryEvery
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultConfig().DrainTimeout
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = defaultWorkerID()
	}
	if cfg.Host == "" {
		cfg.Host, _ = os.Hostname()
	}
	return &Worker{
		Picker:   picker.New(s, cfg.WorkerID),
		Executor: executor.New(s, reg, cfg.WorkerID, cfg.Host),
		Events:   events.NewBus(),
		cfg:      cfg,
		state:    StateStopped,
	}
}

// State reports the Worker's current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Stats returns a snapshot of the running counters.
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Start transitions stopped → running and launches the poll and
// stale-recovery loops. Calling Start while already running is a no-op.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.state == StateRunning || w.state == StatePaused {
		w.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.state = StateRunning
	w.stats.StartedAt = timeNow()
	w.mu.Unlock()

	go w.run(runCtx)
	w.Events.Emit(events.Event{Kind: events.Started})
	return nil
}

// Pause stops the poll loop from claiming new work while letting
// in-flight executions finish; the stale-recovery loop keeps running.
func (w *Worker) Pause() {
	w.mu.Lock()
	if w.state == StateRunning {
		w.state = StatePaused
	}
	w.mu.Unlock()
	w.Events.Emit(events.Event{Kind: events.Paused})
}

// Resume transitions paused → running.
func (w *Worker) Resume() {
	w.mu.Lock()
	if w.state == StatePaused {
		w.state = StateRunning
	}
	w.mu.Unlock()
	w.Events.Emit(events.Event{Kind: events.Resumed})
}

// Stop initiates a graceful drain: polling ceases immediately, and Stop
// waits up to cfg.DrainTimeout for in-flight executions to finish before
// releasing any still-held jobs back to SCHEDULED so other workers can
// retry them.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.state == StateStopped {
		w.mu.Unlock()
		return nil
	}
	w.state = StateDraining
	cancel := w.cancel
	done := w.done
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	select {
	case <-done:
	case <-time.After(w.cfg.DrainTimeout):
		if _, err := w.Picker.ReleaseAll(ctx); err != nil {
			w.Events.Emit(events.Event{Kind: events.Error, Err: err.Error()})
		}
	}

	w.mu.Lock()
	w.state = StateStopped
	w.mu.Unlock()
	w.Events.Emit(events.Event{Kind: events.Stopped})
	return nil
}

// run is the single goroutine owning both tickers: one select loop, no
// shared mutable schedule state touched from outside it.
func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	pollTicker := newTicker(w.cfg.PollInterval)
	defer pollTicker.Stop()
	staleTicker := newTicker(w.cfg.StaleRecoveryEvery)
	defer staleTicker.Stop()

	var wg sync.WaitGroup
	var activeMu sync.Mutex
	active := 0

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-staleTicker.C():
			if n, err := w.Picker.RecoverStaleJobs(ctx, 0); err != nil {
				w.Events.Emit(events.Event{Kind: events.Error, Err: err.Error()})
			} else if n > 0 {
				staleRecoveredTotal.Add(float64(n))
				w.Events.Emit(events.Event{Kind: events.Error, Reason: fmt.Sprintf("recovered %d stale job(s)", n)})
			}
		case <-pollTicker.C():
			if w.State() != StateRunning {
				continue
			}
			activeMu.Lock()
			slots := w.cfg.Concurrency - active
			activeMu.Unlock()
			if slots <= 0 {
				continue
			}
			jobs, err := w.Picker.PickMany(ctx, slots)
			if err != nil {
				w.Events.Emit(events.Event{Kind: events.Error, Err: err.Error()})
				continue
			}
			for _, job := range jobs {
				activeMu.Lock()
				active++
				w.mu.Lock()
				w.stats.ActiveJobs = active
				w.mu.Unlock()
				activeMu.Unlock()

				wg.Add(1)
				go func(job *chronos.Job) {
					defer wg.Done()
					defer func() {
						activeMu.Lock()
						active--
						w.mu.Lock()
						w.stats.ActiveJobs = active
						w.mu.Unlock()
						activeMu.Unlock()
					}()
					// Executions do not inherit Stop's cancellation, so a
					// drain lets them finish instead of aborting them.
					w.runOne(context.WithoutCancel(ctx), job)
				}(job)
			}
		}
	}
}

// runOne executes a single claimed job and emits the matching lifecycle
// event, folding the outcome into Stats.
func (w *Worker) runOne(ctx context.Context, job *chronos.Job) {
	w.Events.Emit(events.Event{Kind: events.JobStart, JobID: job.ID, TaskType: job.TaskType, Attempt: job.RetryCount})
	jobsActive.Inc()
	defer jobsActive.Dec()

	log, err := w.Executor.Execute(ctx, job)
	if err != nil {
		w.Events.Emit(events.Event{Kind: events.JobError, JobID: job.ID, Err: err.Error()})
		return
	}

	w.mu.Lock()
	w.stats.JobsProcessed++
	w.stats.LastJobAt = timeNow()
	w.stats.TotalExecutionTime += log.Duration
	w.mu.Unlock()
	jobDurationSeconds.WithLabelValues(job.TaskType).Observe(log.Duration.Seconds())

	switch log.Status {
	case chronos.LogSuccess:
		w.mu.Lock()
		w.stats.JobsSucceeded++
		if job.RetryCount > 0 {
			w.stats.SuccessfulRetries++
		}
		w.mu.Unlock()
		jobsProcessedTotal.WithLabelValues(job.TaskType, string(log.Status)).Inc()
		w.Events.Emit(events.Event{Kind: events.JobComplete, JobID: job.ID, Duration: log.Duration.Milliseconds()})
	case chronos.LogFailed, chronos.LogTimeout:
		jobsProcessedTotal.WithLabelValues(job.TaskType, string(log.Status)).Inc()
		willRetry, _ := log.Metadata["willRetry"].(bool)
		if willRetry {
			w.mu.Lock()
			w.stats.TotalRetries++
			w.mu.Unlock()
			retriesTotal.WithLabelValues(job.TaskType).Inc()
			w.Events.Emit(events.Event{Kind: events.JobRetry, JobID: job.ID, Err: log.ErrorMessage, Attempt: job.RetryCount})
		} else {
			w.mu.Lock()
			w.stats.JobsFailed++
			w.mu.Unlock()
			w.Events.Emit(events.Event{Kind: events.JobFailed, JobID: job.ID, Err: log.ErrorMessage, Reason: string(log.ErrorCode)})
		}
	}
}
