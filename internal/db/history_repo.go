package db

import (
	"context"
	"time"

	"upkeep/internal/types"
)

// MaintenanceHistoryRepository provides data access for the
// maintenance_history table. The table is append-only from the engine's
// perspective: rows are inserted and counted, never edited. Deletion happens
// only through the archival job after rows have been exported.
type MaintenanceHistoryRepository struct {
	db DBTX
}

// NewMaintenanceHistoryRepository creates a new MaintenanceHistoryRepository
// backed by the given database connection (pool or transaction).
func NewMaintenanceHistoryRepository(db DBTX) *MaintenanceHistoryRepository {
	return &MaintenanceHistoryRepository{db: db}
}

// Append inserts a history record. The database assigns ID and created_at,
// which are read back into the struct.
func (r *MaintenanceHistoryRepository) Append(ctx context.Context, h *types.MaintenanceHistory) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO maintenance_history
		 (organization_id, asset_id, pm_schedule_id, work_order_id, type, is_completed)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		h.OrganizationID,
		h.AssetID,
		h.PMScheduleID,
		h.WorkOrderID,
		string(h.Type),
		h.IsCompleted,
	).Scan(&h.ID, &h.CreatedAt)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to append maintenance history", err)
	}
	return nil
}

// CountRecentFailures counts preventive history rows for the schedule that
// are not completed and were created at/after since. This backs the rolling
// failure window; rows older than the window age out naturally.
//
// SQL: SELECT COUNT(*) FROM maintenance_history
//
//	WHERE pm_schedule_id = $1 AND type = 'PREVENTIVE'
//	AND NOT is_completed AND created_at >= $2
func (r *MaintenanceHistoryRepository) CountRecentFailures(ctx context.Context, scheduleID int64, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM maintenance_history
		 WHERE pm_schedule_id = $1 AND type = 'PREVENTIVE'
		 AND NOT is_completed AND created_at >= $2`,
		scheduleID, since,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count recent failures", err)
	}
	return count, nil
}

// ListCompletedBefore returns completed history rows older than cutoff, for
// archival to cold storage. Open attempts and recent failures are never
// archived because the failure tracker still needs them.
func (r *MaintenanceHistoryRepository) ListCompletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.MaintenanceHistory, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, organization_id, asset_id, pm_schedule_id, work_order_id,
		        type, is_completed, created_at
		 FROM maintenance_history
		 WHERE is_completed AND created_at < $1
		 ORDER BY created_at
		 LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list archivable history", err)
	}
	defer rows.Close()

	var entries []types.MaintenanceHistory
	for rows.Next() {
		var h types.MaintenanceHistory
		if err := rows.Scan(
			&h.ID, &h.OrganizationID, &h.AssetID, &h.PMScheduleID,
			&h.WorkOrderID, &h.Type, &h.IsCompleted, &h.CreatedAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan history row", err)
		}
		entries = append(entries, h)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read history rows", err)
	}
	return entries, nil
}

// DeleteByIDs removes archived history rows and returns the count deleted.
//
// SQL: DELETE FROM maintenance_history WHERE id = ANY($1)
func (r *MaintenanceHistoryRepository) DeleteByIDs(ctx context.Context, ids []int64) (int, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM maintenance_history WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete archived history", err)
	}
	return int(tag.RowsAffected()), nil
}
