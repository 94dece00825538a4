package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"upkeep/internal/types"
)

// WorkOrderRepository provides data access for the work_orders and
// work_order_tasks tables. The engine only creates and cancels PM-generated
// orders (those with a pm_schedule_id back-reference); corrective orders are
// read for overdue detection but never written.
type WorkOrderRepository struct {
	db DBTX
}

// NewWorkOrderRepository creates a new WorkOrderRepository backed by the
// given database connection (pool or transaction).
func NewWorkOrderRepository(db DBTX) *WorkOrderRepository {
	return &WorkOrderRepository{db: db}
}

const workOrderColumns = `id, organization_id, asset_id, pm_schedule_id, title, description,
	status, priority, assignee_id, status_changed_at, created_at`

func scanWorkOrder(row pgx.Row) (*types.WorkOrder, error) {
	var wo types.WorkOrder
	err := row.Scan(
		&wo.ID,
		&wo.OrganizationID,
		&wo.AssetID,
		&wo.PMScheduleID,
		&wo.Title,
		&wo.Description,
		&wo.Status,
		&wo.Priority,
		&wo.AssigneeID,
		&wo.StatusChangedAt,
		&wo.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &wo, nil
}

// Create inserts a work order and its checklist tasks, preserving the
// caller-supplied task order via the position column.
func (r *WorkOrderRepository) Create(ctx context.Context, wo *types.WorkOrder) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO work_orders
		 (organization_id, asset_id, pm_schedule_id, title, description,
		  status, priority, assignee_id, status_changed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		 RETURNING id, status_changed_at, created_at`,
		wo.OrganizationID,
		wo.AssetID,
		wo.PMScheduleID,
		wo.Title,
		wo.Description,
		string(wo.Status),
		string(wo.Priority),
		wo.AssigneeID,
	).Scan(&wo.ID, &wo.StatusChangedAt, &wo.CreatedAt)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create work order", err)
	}

	for i := range wo.Tasks {
		task := &wo.Tasks[i]
		task.WorkOrderID = wo.ID
		err := r.db.QueryRow(ctx,
			`INSERT INTO work_order_tasks
			 (work_order_id, title, description, status, position)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id`,
			wo.ID,
			task.Title,
			task.Description,
			string(task.Status),
			task.Position,
		).Scan(&task.ID)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to create work order task", err)
		}
	}
	return nil
}

// GetActiveForSchedule returns the OPEN or IN_PROGRESS work order generated
// from the given schedule, or nil if none exists. At most one is expected;
// the oldest wins if the best-effort idempotency guard ever let two through.
func (r *WorkOrderRepository) GetActiveForSchedule(ctx context.Context, scheduleID int64) (*types.WorkOrder, error) {
	wo, err := scanWorkOrder(r.db.QueryRow(ctx,
		`SELECT `+workOrderColumns+`
		 FROM work_orders
		 WHERE pm_schedule_id = $1 AND status IN ('OPEN', 'IN_PROGRESS')
		 ORDER BY created_at
		 LIMIT 1`,
		scheduleID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load active work order", err)
	}
	return wo, nil
}

// HasActiveForSchedule reports whether an OPEN or IN_PROGRESS work order
// already exists for the schedule. This is the generator's idempotency
// guard against duplicate active orders.
func (r *WorkOrderRepository) HasActiveForSchedule(ctx context.Context, scheduleID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM work_orders
		   WHERE pm_schedule_id = $1 AND status IN ('OPEN', 'IN_PROGRESS')
		 )`,
		scheduleID,
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check active work orders", err)
	}
	return exists, nil
}

// ListFailedCandidates returns PM-generated work orders that qualify for
// failure processing: at least one FAILED checklist task, OPEN for more than
// openStale, or ON_HOLD for more than holdStale.
//
// SQL: SELECT ... FROM work_orders wo
//
//	WHERE wo.pm_schedule_id IS NOT NULL
//	AND ( EXISTS (SELECT 1 FROM work_order_tasks t
//	              WHERE t.work_order_id = wo.id AND t.status = 'FAILED')
//	   OR (wo.status = 'OPEN'    AND wo.created_at < $1)
//	   OR (wo.status = 'ON_HOLD' AND wo.status_changed_at < $2) )
func (r *WorkOrderRepository) ListFailedCandidates(ctx context.Context, now time.Time, openStale, holdStale time.Duration) ([]*types.WorkOrder, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+workOrderColumns+`
		 FROM work_orders wo
		 WHERE wo.pm_schedule_id IS NOT NULL
		 AND wo.status IN ('OPEN', 'IN_PROGRESS', 'ON_HOLD')
		 AND ( EXISTS (SELECT 1 FROM work_order_tasks t
		               WHERE t.work_order_id = wo.id AND t.status = 'FAILED')
		    OR (wo.status = 'OPEN'    AND wo.created_at < $1)
		    OR (wo.status = 'ON_HOLD' AND wo.status_changed_at < $2) )
		 ORDER BY wo.created_at`,
		now.Add(-openStale), now.Add(-holdStale),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list failed work order candidates", err)
	}
	defer rows.Close()

	var orders []*types.WorkOrder
	for rows.Next() {
		wo, err := scanWorkOrder(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan work order", err)
		}
		orders = append(orders, wo)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read work orders", err)
	}
	return orders, nil
}

// CancelWithNote marks the work order CANCELED and appends an explanatory
// note to its description. Failed orders are never hard-deleted.
func (r *WorkOrderRepository) CancelWithNote(ctx context.Context, id int64, note string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE work_orders
		 SET status = 'CANCELED',
		     status_changed_at = NOW(),
		     description = CASE WHEN description = '' THEN $2
		                        ELSE description || E'\n' || $2 END
		 WHERE id = $1`,
		id, note,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to cancel work order", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundWorkOrder, "work order not found", nil)
	}
	return nil
}

// HasFailedTask reports whether any checklist task on the work order is
// marked FAILED.
func (r *WorkOrderRepository) HasFailedTask(ctx context.Context, workOrderID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM work_order_tasks
		   WHERE work_order_id = $1 AND status = 'FAILED'
		 )`,
		workOrderID,
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check work order tasks", err)
	}
	return exists, nil
}
