package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockRecorder struct {
	mu sync.Mutex

	nextID   int64
	started  []string
	finished []finishCall
	startErr error
}

type finishCall struct {
	id     int64
	status string
	items  int
	err    error
}

func (m *mockRecorder) Start(_ context.Context, jobType string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return 0, m.startErr
	}
	m.nextID++
	m.started = append(m.started, jobType)
	return m.nextID, nil
}

func (m *mockRecorder) Finish(_ context.Context, id int64, status string, items int, jobErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, finishCall{id: id, status: status, items: items, err: jobErr})
	return nil
}

type mockLocker struct {
	mu sync.Mutex

	denied     bool
	acquireErr error
	acquired   []string
	released   []string
	lastWorker string
	lastTTL    time.Duration
}

func (m *mockLocker) Acquire(_ context.Context, lockID, workerID string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acquireErr != nil {
		return false, m.acquireErr
	}
	if m.denied {
		return false, nil
	}
	m.acquired = append(m.acquired, lockID)
	m.lastWorker = workerID
	m.lastTTL = ttl
	return true, nil
}

func (m *mockLocker) Release(_ context.Context, lockID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = append(m.released, lockID)
	return nil
}

// countingJob returns a Job that counts its runs.
func countingJob(name string, interval time.Duration, runs *int32, mu *sync.Mutex) Job {
	return Job{
		Name:     name,
		Interval: interval,
		Run: func(_ context.Context, _ time.Time) (int, error) {
			mu.Lock()
			*runs++
			mu.Unlock()
			return 7, nil
		},
	}
}

func TestDriver_RunsEveryJobImmediately(t *testing.T) {
	var mu sync.Mutex
	var runsA, runsB int32
	jobs := []Job{
		countingJob("generate_due", time.Hour, &runsA, &mu),
		countingJob("process_overdue", time.Hour, &runsB, &mu),
	}
	d := NewDriver(jobs, nil, nil, "worker-1", time.Minute, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return runsA == 1 && runsB == 1
	})
	cancel()
	<-done
}

func TestDriver_TickRecordsHistory(t *testing.T) {
	rec := &mockRecorder{}
	job := Job{
		Name:     "generate_due",
		Interval: time.Hour,
		Run: func(_ context.Context, _ time.Time) (int, error) {
			return 12, nil
		},
	}
	d := NewDriver([]Job{job}, rec, nil, "worker-1", time.Minute, testLogger())

	d.tick(context.Background(), 0)

	if len(rec.started) != 1 || rec.started[0] != "generate_due" {
		t.Fatalf("started %v", rec.started)
	}
	if len(rec.finished) != 1 {
		t.Fatalf("finished %v", rec.finished)
	}
	got := rec.finished[0]
	if got.status != "success" || got.items != 12 || got.err != nil {
		t.Errorf("finish call %+v", got)
	}
}

func TestDriver_TickRecordsFailure(t *testing.T) {
	rec := &mockRecorder{}
	jobErr := errors.New("pool exhausted")
	job := Job{
		Name:     "process_failed",
		Interval: time.Hour,
		Run: func(_ context.Context, _ time.Time) (int, error) {
			return 3, jobErr
		},
	}
	d := NewDriver([]Job{job}, rec, nil, "worker-1", time.Minute, testLogger())

	d.tick(context.Background(), 0)

	if len(rec.finished) != 1 {
		t.Fatalf("finished %v", rec.finished)
	}
	got := rec.finished[0]
	if got.status != "failed" || !errors.Is(got.err, jobErr) {
		t.Errorf("finish call %+v", got)
	}
}

func TestDriver_RecorderStartFailureStillRuns(t *testing.T) {
	rec := &mockRecorder{startErr: errors.New("history table missing")}
	ran := false
	job := Job{
		Name:     "generate_due",
		Interval: time.Hour,
		Run: func(_ context.Context, _ time.Time) (int, error) {
			ran = true
			return 0, nil
		},
	}
	d := NewDriver([]Job{job}, rec, nil, "worker-1", time.Minute, testLogger())

	d.tick(context.Background(), 0)

	if !ran {
		t.Fatal("a history failure must not block the job")
	}
	if len(rec.finished) != 0 {
		t.Error("no finish call without a start row")
	}
}

func TestDriver_SkipsTickWhileInFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	runs := 0
	job := Job{
		Name:     "archive_history",
		Interval: time.Hour,
		Run: func(_ context.Context, _ time.Time) (int, error) {
			mu.Lock()
			runs++
			mu.Unlock()
			close(started)
			<-release
			return 0, nil
		},
	}
	d := NewDriver([]Job{job}, nil, nil, "worker-1", time.Minute, testLogger())

	go d.tick(context.Background(), 0)
	<-started

	// A second tick while the first is executing must return without
	// running the job again.
	d.tick(context.Background(), 0)
	close(release)

	waitFor(t, func() bool {
		return !d.running[0].Load()
	})
	mu.Lock()
	defer mu.Unlock()
	if runs != 1 {
		t.Fatalf("runs %d, want 1", runs)
	}
}

func TestDriver_SkipsWhenLockHeldElsewhere(t *testing.T) {
	locker := &mockLocker{denied: true}
	rec := &mockRecorder{}
	ran := false
	job := Job{
		Name:     "generate_due",
		Interval: time.Hour,
		Run: func(_ context.Context, _ time.Time) (int, error) {
			ran = true
			return 0, nil
		},
	}
	d := NewDriver([]Job{job}, rec, locker, "worker-1", time.Minute, testLogger())

	d.tick(context.Background(), 0)

	if ran {
		t.Fatal("a held lock must skip the run")
	}
	if len(rec.started) != 0 {
		t.Error("no history row for a skipped tick")
	}
	if len(locker.released) != 0 {
		t.Error("nothing to release when acquisition was denied")
	}
}

func TestDriver_LockErrorSkipsRun(t *testing.T) {
	locker := &mockLocker{acquireErr: errors.New("connection refused")}
	ran := false
	job := Job{
		Name:     "generate_due",
		Interval: time.Hour,
		Run: func(_ context.Context, _ time.Time) (int, error) {
			ran = true
			return 0, nil
		},
	}
	d := NewDriver([]Job{job}, nil, locker, "worker-1", time.Minute, testLogger())

	d.tick(context.Background(), 0)

	if ran {
		t.Fatal("a lock error must skip the run")
	}
}

func TestDriver_AcquiresAndReleasesAroundRun(t *testing.T) {
	locker := &mockLocker{}
	job := Job{
		Name:     "process_overdue",
		Interval: time.Hour,
		Run: func(_ context.Context, _ time.Time) (int, error) {
			return 1, nil
		},
	}
	d := NewDriver([]Job{job}, nil, locker, "worker-42", 5*time.Minute, testLogger())

	d.tick(context.Background(), 0)

	if len(locker.acquired) != 1 || locker.acquired[0] != "process_overdue" {
		t.Fatalf("acquired %v", locker.acquired)
	}
	if len(locker.released) != 1 || locker.released[0] != "process_overdue" {
		t.Fatalf("released %v", locker.released)
	}
	if locker.lastWorker != "worker-42" || locker.lastTTL != 5*time.Minute {
		t.Errorf("lock parameters worker=%q ttl=%v", locker.lastWorker, locker.lastTTL)
	}
}

func TestNewDriver_DefaultsLockTTL(t *testing.T) {
	d := NewDriver(nil, nil, nil, "worker-1", 0, testLogger())
	if d.lockTTL != 15*time.Minute {
		t.Errorf("lockTTL %v, want 15m", d.lockTTL)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
