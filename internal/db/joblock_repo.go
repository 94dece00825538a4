package db

import (
	"context"
	"time"

	"upkeep/internal/types"
)

// JobLockRepository provides best-effort distributed locking via the
// pm_job_locks table, using INSERT ... ON CONFLICT DO UPDATE to atomically
// acquire a lock. When several pm-worker instances run concurrently, only
// the lock holder executes a given engine pass, which upgrades the
// generator's "skip if active work order exists" check from best-effort to
// the recommended single-runner deployment.
type JobLockRepository struct {
	db DBTX
}

// NewJobLockRepository creates a new JobLockRepository backed by the given
// database connection (pool or transaction).
func NewJobLockRepository(db DBTX) *JobLockRepository {
	return &JobLockRepository{db: db}
}

// Acquire attempts to insert a lock row keyed by task name. Returns true if
// acquired, false if another worker holds an unexpired lock.
//
// The expiry is computed as a concrete timestamp in Go rather than interval
// arithmetic in SQL, so Go duration formatting never reaches PostgreSQL.
//
// SQL pattern:
//
//	INSERT INTO pm_job_locks (id, worker_id, locked_at, expires_at)
//	VALUES ($1, $2, $3, $4)
//	ON CONFLICT (id) DO UPDATE
//	  SET worker_id = EXCLUDED.worker_id,
//	      locked_at = EXCLUDED.locked_at,
//	      expires_at = EXCLUDED.expires_at
//	  WHERE pm_job_locks.expires_at < $3
//
// RowsAffected is 1 when the INSERT succeeded or an expired lock was
// reclaimed, and 0 when another worker still holds the lock.
func (r *JobLockRepository) Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	tag, err := r.db.Exec(ctx,
		`INSERT INTO pm_job_locks (id, worker_id, locked_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		   SET worker_id = EXCLUDED.worker_id,
		       locked_at = EXCLUDED.locked_at,
		       expires_at = EXCLUDED.expires_at
		   WHERE pm_job_locks.expires_at < $3`,
		lockID,
		workerID,
		now,
		expiresAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire job lock", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Release drops the lock row if this worker still owns it. Called after a
// pass completes so the next tick does not have to wait out the TTL.
func (r *JobLockRepository) Release(ctx context.Context, lockID string, workerID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM pm_job_locks WHERE id = $1 AND worker_id = $2`,
		lockID, workerID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release job lock", err)
	}
	return nil
}

// JobHistoryRepository records engine pass executions in the pm_job_history
// table for operational visibility: which pass ran, when, with what outcome
// and item counts.
type JobHistoryRepository struct {
	db DBTX
}

// NewJobHistoryRepository creates a new JobHistoryRepository backed by the
// given database connection (pool or transaction).
func NewJobHistoryRepository(db DBTX) *JobHistoryRepository {
	return &JobHistoryRepository{db: db}
}

// Start inserts a new pm_job_history row with status 'running' and returns
// the auto-generated ID. The caller later records the outcome via Finish.
func (r *JobHistoryRepository) Start(ctx context.Context, jobType string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO pm_job_history (job_type, started_at, status)
		 VALUES ($1, NOW(), 'running')
		 RETURNING id`,
		jobType,
	).Scan(&id)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to start job history entry", err)
	}
	return id, nil
}

// Finish updates the pm_job_history row with the final status ('success' or
// 'failed'), processed item count, and optional error message.
func (r *JobHistoryRepository) Finish(ctx context.Context, id int64, status string, items int, jobErr error) error {
	var errMsg *string
	if jobErr != nil {
		s := jobErr.Error()
		errMsg = &s
	}

	_, err := r.db.Exec(ctx,
		`UPDATE pm_job_history
		 SET finished_at = NOW(), status = $2, items_processed = $3, error = $4
		 WHERE id = $1`,
		id, status, items, errMsg,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to finish job history entry", err)
	}
	return nil
}
