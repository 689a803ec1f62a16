package picker

import (
	"context"
	"testing"
	"time"

	"github.com/akshat111/CHRONOS"
	"github.com/akshat111/CHRONOS/store"
	"github.com/akshat111/CHRONOS/store/storetest"
)

func swap[T any](t *testing.T, orig *T, with T) {
	t.Helper()
	o := *orig
	t.Cleanup(func() { *orig = o })
	*orig = with
}

// fixedClock returns a store-compatible now func and a picker-package
// timeNow func that both read from the same pointer, so advancing *now in
// a test keeps the picker and the store in lockstep.
func fixedClock(now *time.Time) func() time.Time {
	return func() time.Time { return *now }
}

func mustInsert(t *testing.T, s *storetest.Memory, j chronos.Job) *chronos.Job {
	t.Helper()
	job, err := chronos.NewJob(j)
	if err != nil {
		t.Fatalf("NewJob(...) = _, %q", err)
	}
	if err := s.InsertJob(context.Background(), job); err != nil {
		t.Fatalf("InsertJob(...) = %q", err)
	}
	return job
}

func TestPickOneClaimsDueJob(t *testing.T) {
	now := time.Now()
	clock := fixedClock(&now)
	s := storetest.New(clock)
	swap(t, &timeNow, clock)
	due := now.Add(-time.Minute)
	job := mustInsert(t, s, chronos.Job{
		Name: "send reminder", TaskType: "echo", Kind: chronos.KindOneTime, ScheduleTime: &due,
	})

	p := New(s, "worker-1")
	got, err := p.PickOne(context.Background())

	if err != nil {
		t.Fatalf("PickOne(...) = _, %q, want <nil>", err)
	}
	if got == nil {
		t.Fatalf("PickOne(...) = nil, want job %s", job.ID)
	}
	if got.Status != chronos.StatusQueued {
		t.Errorf("Status = %s, want QUEUED", got.Status)
	}
	if got.LockedBy == nil || *got.LockedBy != "worker-1" {
		t.Errorf("LockedBy = %v, want worker-1", got.LockedBy)
	}
}

func TestPickOneSkipsNotDue(t *testing.T) {
	now := time.Now()
	clock := fixedClock(&now)
	s := storetest.New(clock)
	swap(t, &timeNow, clock)
	future := now.Add(time.Hour)
	mustInsert(t, s, chronos.Job{
		Name: "future job", TaskType: "echo", Kind: chronos.KindOneTime, ScheduleTime: &future,
	})

	p := New(s, "worker-1")
	got, err := p.PickOne(context.Background())

	if err != nil {
		t.Fatalf("PickOne(...) = _, %q, want <nil>", err)
	}
	if got != nil {
		t.Errorf("PickOne(...) = %v, want nil", got)
	}
}

func TestPickOneIsExclusive(t *testing.T) {
	now := time.Now()
	clock := fixedClock(&now)
	s := storetest.New(clock)
	swap(t, &timeNow, clock)
	due := now.Add(-time.Minute)
	mustInsert(t, s, chronos.Job{
		Name: "exclusive job", TaskType: "echo", Kind: chronos.KindOneTime, ScheduleTime: &due,
	})

	p1 := New(s, "worker-1")
	p2 := New(s, "worker-2")

	got1, err := p1.PickOne(context.Background())
	if err != nil || got1 == nil {
		t.Fatalf("p1.PickOne(...) = %v, %v, want job, <nil>", got1, err)
	}
	got2, err := p2.PickOne(context.Background())
	if err != nil {
		t.Fatalf("p2.PickOne(...) = _, %q, want <nil>", err)
	}
	if got2 != nil {
		t.Errorf("p2.PickOne(...) = %v, want nil (already claimed)", got2)
	}
}

func TestPickManyStopsWhenDry(t *testing.T) {
	now := time.Now()
	clock := fixedClock(&now)
	s := storetest.New(clock)
	swap(t, &timeNow, clock)
	due := now.Add(-time.Minute)
	for i := 0; i < 2; i++ {
		mustInsert(t, s, chronos.Job{
			Name: "bulk job", TaskType: "echo", Kind: chronos.KindOneTime, ScheduleTime: &due,
		})
	}

	p := New(s, "worker-1")
	jobs, err := p.PickMany(context.Background(), 5)

	if err != nil {
		t.Fatalf("PickMany(...) = _, %q, want <nil>", err)
	}
	if got, want := len(jobs), 2; got != want {
		t.Errorf("len(jobs) = %d, want %d", got, want)
	}
}

func TestReleaseReturnsJobToScheduled(t *testing.T) {
	now := time.Now()
	clock := fixedClock(&now)
	s := storetest.New(clock)
	swap(t, &timeNow, clock)
	due := now.Add(-time.Minute)
	mustInsert(t, s, chronos.Job{
		Name: "released job", TaskType: "echo", Kind: chronos.KindOneTime, ScheduleTime: &due,
	})

	p := New(s, "worker-1")
	claimed, err := p.PickOne(context.Background())
	if err != nil || claimed == nil {
		t.Fatalf("PickOne(...) = %v, %v, want job, <nil>", claimed, err)
	}

	released, err := p.Release(context.Background(), claimed.ID)
	if err != nil {
		t.Fatalf("Release(...) = _, %q, want <nil>", err)
	}
	if released.Status != chronos.StatusScheduled {
		t.Errorf("Status = %s, want SCHEDULED", released.Status)
	}
	if released.LockedBy != nil {
		t.Errorf("LockedBy = %v, want <nil>", released.LockedBy)
	}
}

func TestRecoverStaleJobs(t *testing.T) {
	now := time.Now()
	clock := fixedClock(&now)
	s := storetest.New(clock)
	swap(t, &timeNow, clock)
	due := now.Add(-time.Hour)
	job := mustInsert(t, s, chronos.Job{
		Name: "stuck job", TaskType: "echo", Kind: chronos.KindOneTime, ScheduleTime: &due,
	})

	p := New(s, "worker-1")
	if _, err := p.PickOne(context.Background()); err != nil {
		t.Fatalf("PickOne(...) = _, %q", err)
	}

	// Simulate the worker crashing mid-execution and time passing well
	// beyond the job's lock timeout.
	running := chronos.StatusRunning
	if _, err := s.FindAndUpdateJob(context.Background(),
		store.JobFilter{ID: &job.ID}, store.JobUpdate{Status: &running}); err != nil {
		t.Fatalf("FindAndUpdateJob(...) = _, %q", err)
	}
	now = now.Add(job.LockTimeout * 2)

	n, err := p.RecoverStaleJobs(context.Background(), 0)
	if err != nil {
		t.Fatalf("RecoverStaleJobs(...) = _, %q, want <nil>", err)
	}
	if n != 1 {
		t.Fatalf("RecoverStaleJobs(...) = %d, want 1", n)
	}

	recovered, err := s.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob(...) = _, %q", err)
	}
	if recovered.Status != chronos.StatusScheduled {
		t.Errorf("Status = %s, want SCHEDULED", recovered.Status)
	}
	if recovered.LockedBy != nil {
		t.Errorf("LockedBy = %v, want <nil>", recovered.LockedBy)
	}
}
