package store

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/akshat111/CHRONOS"
)

// query/unary/fakeConn/fakeRow/swap are a narrow recording fake standing
// in for pgxpool.Pool, driven by queued scan results and errors instead of
// a real database.
type unary struct {
	Ctx context.Context
}

type query struct {
	Ctx context.Context
	Sql string
	Arg []any
}

type fakeConn struct {
	pgx.Tx

	begins    []unary
	commits   []unary
	rollbacks []unary

	queries []query

	queryErrs []error
	scans     [][]any
}

func (c *fakeConn) Begin(ctx context.Context) (pgx.Tx, error) {
	c.begins = append(c.begins, unary{ctx})
	return c, nil
}

func (c *fakeConn) Commit(ctx context.Context) error {
	c.commits = append(c.commits, unary{ctx})
	return nil
}

func (c *fakeConn) Rollback(ctx context.Context) error {
	c.rollbacks = append(c.rollbacks, unary{ctx})
	return nil
}

func (c *fakeConn) Exec(
	ctx context.Context, sql string, a ...any,
) (tag pgconn.CommandTag, err error) {
	if len(c.queryErrs) > len(c.queries) {
		err = c.queryErrs[len(c.queries)]
	}
	c.queries = append(c.queries, query{ctx, sql, a})
	return
}

func (c *fakeConn) Query(
	ctx context.Context, sql string, a ...any,
) (pgx.Rows, error) {
	c.queries = append(c.queries, query{ctx, sql, a})
	return &fakeRows{}, nil
}

func (c *fakeConn) QueryRow(
	ctx context.Context, sql string, a ...any,
) (row pgx.Row) {
	if len(c.scans) > len(c.queries) {
		row = &fakeRow{c.scans[len(c.queries)]}
	} else {
		row = &fakeRow{nil}
	}
	c.queries = append(c.queries, query{ctx, sql, a})
	return
}

type fakeRow struct {
	contents []any
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.contents == nil {
		return pgx.ErrNoRows
	}
	for i, d := range dest {
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(r.contents[i]))
	}
	return nil
}

// fakeRows is an always-empty pgx.Rows, enough for the Stats/QueryJobs paths
// that only need a zero-row result in these tests.
type fakeRows struct{}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Next() bool                                   { return false }
func (r *fakeRows) Scan(dest ...any) error                       { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                               { return nil }

var opts = []cmp.Option{
	cmpopts.IgnoreInterfaces(struct{ context.Context }{}),
}

func swap[T any](t *testing.T, orig *T, with T) {
	t.Helper()
	o := *orig
	t.Cleanup(func() { *orig = o })
	*orig = with
}

func TestNewPostgres(t *testing.T) {
	conn := new(fakeConn)

	_, err := NewPostgres(context.Background(), conn)

	if err != nil {
		t.Errorf("NewPostgres(conn) = _, %q, want <nil>", err)
	}
	wantExecs := []query{{context.Background(), schemaSQL, nil}}
	if got, want := conn.queries, wantExecs; !cmp.Equal(got, want, opts...) {
		t.Errorf("queries -want +got\n%s", cmp.Diff(want, got, opts...))
	}
}

func TestNewPostgresRetriesOnFailure(t *testing.T) {
	conn := new(fakeConn)
	pgErr := errors.New("connection refused")
	conn.queryErrs = []error{pgErr, pgErr, nil}
	var sleeps []time.Duration
	swap(t, &sleep, func(d time.Duration) { sleeps = append(sleeps, d) })

	_, err := NewPostgres(context.Background(), conn)

	if err != nil {
		t.Errorf("NewPostgres(conn) = _, %q, want <nil>", err)
	}
	if got, want := len(conn.queries), 3; got != want {
		t.Errorf("len(queries) = %d, want %d", got, want)
	}
	wantSleeps := []time.Duration{time.Second, 2 * time.Second}
	if got, want := sleeps, wantSleeps; !cmp.Equal(got, want) {
		t.Errorf("sleeps -want +got\n%s", cmp.Diff(want, got))
	}
}

func TestNewPostgresGivesUpAfterThreeFailures(t *testing.T) {
	conn := new(fakeConn)
	pgErr := errors.New("connection refused")
	conn.queryErrs = []error{pgErr, pgErr, pgErr}
	swap(t, &sleep, func(time.Duration) {})

	_, err := NewPostgres(context.Background(), conn)

	if !errors.Is(err, pgErr) {
		t.Errorf("NewPostgres(conn) = _, %q, want wrapping %q", err, pgErr)
	}
}

func TestNextCounter(t *testing.T) {
	conn := new(fakeConn)
	conn.scans = [][]any{{int64(1)}}
	p := &Postgres{conn: conn}

	v, err := p.NextCounter(context.Background(), "job_id")

	if err != nil {
		t.Fatalf("NextCounter(...) = _, %q, want <nil>", err)
	}
	if got, want := v, int64(1); got != want {
		t.Errorf("NextCounter(...) = %d, want %d", got, want)
	}
}

func TestGetJobNotFound(t *testing.T) {
	conn := new(fakeConn)
	p := &Postgres{conn: conn}

	_, err := p.GetJob(context.Background(), "job_404")

	var nf *chronos.NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("GetJob(...) = _, %v, want *chronos.NotFoundError", err)
	}
}

func TestFindAndUpdateJobNoMatch(t *testing.T) {
	conn := new(fakeConn)
	p := &Postgres{conn: conn}

	job, err := p.FindAndUpdateJob(context.Background(), JobFilter{}, JobUpdate{})

	if err != nil {
		t.Errorf("FindAndUpdateJob(...) = _, %q, want <nil>", err)
	}
	if job != nil {
		t.Errorf("FindAndUpdateJob(...) = %v, want <nil>", job)
	}
	if got, want := len(conn.rollbacks), 1; got != want {
		t.Errorf("len(rollbacks) = %d, want %d", got, want)
	}
	if got, want := len(conn.commits), 0; got != want {
		t.Errorf("len(commits) = %d, want %d", got, want)
	}
}

func TestBuildJobWhereEmpty(t *testing.T) {
	where, args := buildJobWhere(JobFilter{}, 1)
	if where != "TRUE" || len(args) != 0 {
		t.Errorf("buildJobWhere({}) = %q, %v, want %q, []", where, args, "TRUE")
	}
}

func TestBuildJobWhereClaim(t *testing.T) {
	now := time.Now()
	filter := JobFilter{
		Statuses:                  []chronos.Status{chronos.StatusScheduled},
		NextRunAtLTE:              &now,
		LockedByNullOrStaleBefore: &now,
	}
	where, args := buildJobWhere(filter, 1)
	if got, want := len(args), 3; got != want {
		t.Errorf("len(args) = %d, want %d", got, want)
	}
	if !strings.Contains(where, "locked_by IS NULL OR locked_at <") {
		t.Errorf("buildJobWhere(...) = %q, missing stale-lock clause", where)
	}
}
