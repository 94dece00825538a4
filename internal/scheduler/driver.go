// Package scheduler provides the periodic driver that invokes the PM engine
// passes. It owns tick cadence, start/stop lifecycle, and overlap
// prevention; all business logic lives in the engine services it is wired
// with.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Job is one schedulable unit of work. The run function receives the tick's
// reference time and returns how many items it processed.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context, now time.Time) (int, error)
}

// JobRecorder persists job executions for operational visibility. It is
// satisfied by the db JobHistoryRepository; a nil recorder disables history.
type JobRecorder interface {
	Start(ctx context.Context, jobType string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, jobErr error) error
}

// JobLocker serializes a job across worker instances. Acquire returns false
// when another worker holds the lock; a nil locker runs everything locally.
type JobLocker interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, lockID string, workerID string) error
}

// Driver runs a set of jobs on their intervals. Each job is guarded by an
// in-flight flag: if a tick arrives while the previous run of that job is
// still executing, the tick is skipped rather than overlapped. Backpressure
// is therefore handled by dropping ticks, never by queueing them.
type Driver struct {
	jobs     []Job
	recorder JobRecorder
	locker   JobLocker
	workerID string
	lockTTL  time.Duration
	logger   *slog.Logger

	running []atomic.Bool // one flag per job, same index
}

// NewDriver creates a Driver for the given jobs. workerID identifies this
// process in job locks; lockTTL bounds how long a crashed worker can hold a
// lock.
func NewDriver(jobs []Job, recorder JobRecorder, locker JobLocker, workerID string, lockTTL time.Duration, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	if lockTTL <= 0 {
		lockTTL = 15 * time.Minute
	}
	return &Driver{
		jobs:     jobs,
		recorder: recorder,
		locker:   locker,
		workerID: workerID,
		lockTTL:  lockTTL,
		logger:   logger,
		running:  make([]atomic.Bool, len(jobs)),
	}
}

// Run starts one ticker per job and blocks until the context is canceled.
// Every job also runs once immediately at startup.
func (d *Driver) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := range d.jobs {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			d.runJobLoop(ctx, idx)
		}(i)
	}
	wg.Wait()
}

func (d *Driver) runJobLoop(ctx context.Context, idx int) {
	job := d.jobs[idx]
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	d.tick(ctx, idx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx, idx)
		}
	}
}

// tick executes one run of the job, skipping if the previous run is still
// in flight or another worker holds the job lock.
func (d *Driver) tick(ctx context.Context, idx int) {
	job := d.jobs[idx]

	if !d.running[idx].CompareAndSwap(false, true) {
		d.logger.WarnContext(ctx, "previous run still in flight, skipping tick",
			"job", job.Name,
		)
		return
	}
	defer d.running[idx].Store(false)

	if d.locker != nil {
		acquired, err := d.locker.Acquire(ctx, job.Name, d.workerID, d.lockTTL)
		if err != nil {
			d.logger.ErrorContext(ctx, "job lock acquisition failed",
				"job", job.Name,
				"error", err,
			)
			return
		}
		if !acquired {
			d.logger.InfoContext(ctx, "job locked by another worker, skipping tick",
				"job", job.Name,
			)
			return
		}
		defer func() {
			if err := d.locker.Release(ctx, job.Name, d.workerID); err != nil {
				d.logger.ErrorContext(ctx, "job lock release failed",
					"job", job.Name,
					"error", err,
				)
			}
		}()
	}

	now := time.Now().UTC()

	var historyID int64
	if d.recorder != nil {
		id, err := d.recorder.Start(ctx, job.Name)
		if err != nil {
			// History is observability, not correctness; run anyway.
			d.logger.ErrorContext(ctx, "failed to record job start",
				"job", job.Name,
				"error", err,
			)
		} else {
			historyID = id
		}
	}

	start := time.Now()
	items, err := job.Run(ctx, now)
	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = "failed"
		d.logger.ErrorContext(ctx, "job run failed",
			"job", job.Name,
			"duration", duration,
			"error", err,
		)
	} else {
		d.logger.InfoContext(ctx, "job run complete",
			"job", job.Name,
			"items", items,
			"duration", duration,
		)
	}

	if d.recorder != nil && historyID != 0 {
		if ferr := d.recorder.Finish(ctx, historyID, status, items, err); ferr != nil {
			d.logger.ErrorContext(ctx, "failed to record job finish",
				"job", job.Name,
				"error", ferr,
			)
		}
	}
}
