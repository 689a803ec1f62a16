package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/akshat111/CHRONOS"
)

// sleep and timeNow are indirected so tests can swap them instead of
// sleeping for real (see postgres_test.go).
var (
	sleep   = time.Sleep
	timeNow = time.Now
)

// PgxConn is a pgx.Conn or pgxpool.Pool — the narrow surface Postgres
// actually calls.
type PgxConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Postgres is the Store implementation backed by github.com/jackc/pgx/v5:
// retry-with-backoff connection bring-up, and a Log io.Writer field with
// an os.Stderr fallback.
type Postgres struct {
	Log  io.Writer
	conn PgxConn
}

// NewPostgres opens the schema (creating it if absent, retrying the DDL
// three times with exponential backoff) and returns a ready Store.
func NewPostgres(ctx context.Context, conn PgxConn) (*Postgres, error) {
	p := &Postgres{conn: conn}
	if err := p.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Postgres) ensureSchema(ctx context.Context) (err error) {
	for n := 0; n < 3; n++ {
		_, err = p.conn.Exec(ctx, schemaSQL)
		if err != nil {
			p.log(fmt.Sprintf("schema attempt %d failed: %v", n, err))
			sleep(time.Duration(math.Pow(2, float64(n))) * time.Second)
			continue
		}
		return nil
	}
	return fmt.Errorf("could not create chronos schema: %w", err)
}

func (p *Postgres) log(a any) {
	var w io.Writer = p.Log
	if w == nil {
		w = os.Stderr
	}
	_, _ = w.Write([]byte(fmt.Sprintf("chronos/store: %s\n", a)))
}

func (p *Postgres) Close() error { return nil }

// ─── counters ────────────────────────────────────────────────────────────

func (p *Postgres) NextCounter(ctx context.Context, name string) (int64, error) {
	var v int64
	if err := p.conn.QueryRow(ctx, incrCounterStmt, name).Scan(&v); err != nil {
		return 0, fmt.Errorf("NextCounter(%q): %w", name, err)
	}
	return v, nil
}

// ─── jobs ────────────────────────────────────────────────────────────────

func (p *Postgres) InsertJob(ctx context.Context, job *chronos.Job) error {
	now := timeNow()
	job.CreatedAt = now
	job.UpdatedAt = now

	if job.ID == "" {
		n, err := p.NextCounter(ctx, "job_id")
		if err != nil {
			return fmt.Errorf("InsertJob: allocate id: %w", err)
		}
		job.ID = fmt.Sprintf("job_%d", n)
	}
	if job.HumanID == "" {
		n, err := p.NextCounter(ctx, "job_human_id")
		if err != nil {
			return fmt.Errorf("InsertJob: allocate human id: %w", err)
		}
		job.HumanID = fmt.Sprintf("%d", n)
	}

	applyInitialSchedule(job, now)

	if err := job.Validate(); err != nil {
		return err
	}

	args := jobInsertArgs(job)
	if _, err := p.conn.Exec(ctx, insertJobStmt, args...); err != nil {
		return fmt.Errorf("InsertJob(%s): %w", job.ID, err)
	}
	return nil
}

// applyInitialSchedule moves a newly-inserted job from PENDING to
// SCHEDULED with nextRunAt set, or leaves a dependent job WAITING until
// its parent resolves.
func applyInitialSchedule(job *chronos.Job, now time.Time) {
	if job.DependsOnJobID != nil {
		job.Status = chronos.StatusWaiting
		job.NextRunAt = nil
		return
	}
	switch job.Kind {
	case chronos.KindOneTime:
		job.NextRunAt = job.ScheduleTime
	case chronos.KindRecurring:
		start := now
		if job.StartTime != nil && job.StartTime.After(now) {
			start = *job.StartTime
		}
		if job.Interval > 0 {
			t := start
			job.NextRunAt = &t
		} else {
			next, ok := chronos.NextRun(job, start.Add(-time.Second))
			if ok {
				job.NextRunAt = &next
			}
		}
	}
	job.Status = chronos.StatusScheduled
}

func (p *Postgres) GetJob(ctx context.Context, id string) (*chronos.Job, error) {
	row := p.conn.QueryRow(ctx, selectJobByIDStmt, id)
	job, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, &chronos.NotFoundError{Kind: "job", ID: id}
		}
		return nil, fmt.Errorf("GetJob(%s): %w", id, err)
	}
	return job, nil
}

func (p *Postgres) FindAndUpdateJob(ctx context.Context, filter JobFilter, update JobUpdate) (*chronos.Job, error) {
	tx, err := p.conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("FindAndUpdateJob: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	where, args := buildJobWhere(filter, 1)
	order := ""
	if filter.OrderByPriorityThenNextRunAt {
		order = " ORDER BY priority ASC, next_run_at ASC"
	}
	selectSQL := "SELECT id FROM chronos_jobs WHERE " + where + order + " LIMIT 1 FOR UPDATE"

	var id string
	if err := tx.QueryRow(ctx, selectSQL, args...).Scan(&id); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("FindAndUpdateJob: select: %w", err)
	}

	set, setArgs := buildJobSet(update, 1)
	updateSQL := fmt.Sprintf("UPDATE chronos_jobs SET %s WHERE id = $%d", set, len(setArgs)+1)
	execArgs := append(append([]any{}, setArgs...), id)
	if _, err := tx.Exec(ctx, updateSQL, execArgs...); err != nil {
		return nil, fmt.Errorf("FindAndUpdateJob: update: %w", err)
	}

	row := tx.QueryRow(ctx, selectJobByIDStmt, id)
	job, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("FindAndUpdateJob: reselect: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("FindAndUpdateJob: commit: %w", err)
	}
	return job, nil
}

func (p *Postgres) UpdateManyJobs(ctx context.Context, filter JobFilter, update JobUpdate) (int64, error) {
	where, args := buildJobWhere(filter, 1)
	set, setArgs := buildJobSet(update, len(args)+1)
	sql := fmt.Sprintf("UPDATE chronos_jobs SET %s WHERE %s", set, where)
	tag, err := p.conn.Exec(ctx, sql, append(append([]any{}, args...), setArgs...)...)
	if err != nil {
		return 0, fmt.Errorf("UpdateManyJobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) QueryJobs(ctx context.Context, q JobQuery) ([]*chronos.Job, error) {
	where, args := buildJobWhere(q.Filter, 1)
	sql := "SELECT " + jobColumns + " FROM chronos_jobs WHERE " + where
	if q.Filter.OrderByPriorityThenNextRunAt {
		sql += " ORDER BY priority ASC, next_run_at ASC"
	} else {
		sql += " ORDER BY created_at DESC"
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		sql += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := p.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("QueryJobs: %w", err)
	}
	defer rows.Close()

	var out []*chronos.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("QueryJobs: scan: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (p *Postgres) Stats(ctx context.Context) (Stats, error) {
	out := Stats{ByStatus: map[chronos.Status]int64{}, ByTaskType: map[string]int64{}}

	rows, err := p.conn.Query(ctx, statsByStatusStmt)
	if err != nil {
		return out, fmt.Errorf("Stats: by status: %w", err)
	}
	for rows.Next() {
		var s string
		var n int64
		if err := rows.Scan(&s, &n); err != nil {
			rows.Close()
			return out, fmt.Errorf("Stats: by status scan: %w", err)
		}
		out.ByStatus[chronos.Status(s)] = n
	}
	rows.Close()

	rows, err = p.conn.Query(ctx, statsByTaskTypeStmt)
	if err != nil {
		return out, fmt.Errorf("Stats: by task type: %w", err)
	}
	for rows.Next() {
		var t string
		var n int64
		if err := rows.Scan(&t, &n); err != nil {
			rows.Close()
			return out, fmt.Errorf("Stats: by task type scan: %w", err)
		}
		out.ByTaskType[t] = n
	}
	rows.Close()

	rows, err = p.conn.Query(ctx, statsHourlyStmt, timeNow().Add(-24*time.Hour))
	if err != nil {
		return out, fmt.Errorf("Stats: hourly: %w", err)
	}
	for rows.Next() {
		var h int
		var n int64
		if err := rows.Scan(&h, &n); err != nil {
			rows.Close()
			return out, fmt.Errorf("Stats: hourly scan: %w", err)
		}
		if h >= 0 && h < 24 {
			out.HourlyCounts[h] = n
		}
	}
	rows.Close()
	return out, rows.Err()
}

func (p *Postgres) PurgeExpiredJobs(ctx context.Context) (int64, error) {
	tag, err := p.conn.Exec(ctx, purgeExpiredJobsStmt, timeNow())
	if err != nil {
		return 0, fmt.Errorf("PurgeExpiredJobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) PurgeExpiredLogs(ctx context.Context) (int64, error) {
	tag, err := p.conn.Exec(ctx, purgeExpiredLogsStmt, timeNow())
	if err != nil {
		return 0, fmt.Errorf("PurgeExpiredLogs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ─── execution logs ──────────────────────────────────────────────────────

func (p *Postgres) InsertLog(ctx context.Context, l *chronos.ExecutionLog) error {
	if l.ID == "" {
		n, err := p.NextCounter(ctx, "log_id")
		if err != nil {
			return fmt.Errorf("InsertLog: allocate id: %w", err)
		}
		l.ID = fmt.Sprintf("log_%d", n)
	}
	metrics, err := marshalMap(l.Metrics)
	if err != nil {
		return fmt.Errorf("InsertLog: marshal metrics: %w", err)
	}
	metadata, err := marshalMap(l.Metadata)
	if err != nil {
		return fmt.Errorf("InsertLog: marshal metadata: %w", err)
	}
	_, err = p.conn.Exec(ctx, insertLogStmt,
		l.ID, l.JobID, l.JobName, string(l.JobKind), l.TaskType, l.ScheduledTime,
		l.StartedAt, l.EndedAt, l.Duration.Milliseconds(), string(l.Status), l.RetryAttempt, l.IsRetry,
		l.ErrorMessage, l.ErrorStack, string(l.ErrorCode), l.WorkerID, l.Host,
		nullableJSON(l.PayloadSnapshot), nullableJSON(l.Result), metrics, metadata, l.ExpireAt,
	)
	if err != nil {
		return fmt.Errorf("InsertLog(%s): %w", l.ID, err)
	}
	return nil
}

func (p *Postgres) ListLogs(ctx context.Context, jobID string, limit int) ([]*chronos.ExecutionLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.conn.Query(ctx, listLogsByJobStmt, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("ListLogs(%s): %w", jobID, err)
	}
	defer rows.Close()

	var out []*chronos.ExecutionLog
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("ListLogs: scan: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ─── marshaling helpers ──────────────────────────────────────────────────

func marshalMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
