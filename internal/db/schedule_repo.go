package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"upkeep/internal/types"
)

// PMScheduleRepository provides data access for the pm_schedules and
// pm_task_templates tables. The engine reads schedules, appends attention
// notes on escalation, and nothing else; all other mutation is external CRUD.
type PMScheduleRepository struct {
	db DBTX
}

// NewPMScheduleRepository creates a new PMScheduleRepository backed by the
// given database connection (pool or transaction).
func NewPMScheduleRepository(db DBTX) *PMScheduleRepository {
	return &PMScheduleRepository{db: db}
}

// GetByID returns the schedule with its ordered task templates.
func (r *PMScheduleRepository) GetByID(ctx context.Context, id int64) (*types.PMSchedule, error) {
	var s types.PMSchedule
	err := r.db.QueryRow(ctx,
		`SELECT id, organization_id, asset_id, title, description, notes, created_at
		 FROM pm_schedules
		 WHERE id = $1`,
		id,
	).Scan(&s.ID, &s.OrganizationID, &s.AssetID, &s.Title, &s.Description, &s.Notes, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSchedule, "pm schedule not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load pm schedule", err)
	}

	rows, err := r.db.Query(ctx,
		`SELECT title, description, position
		 FROM pm_task_templates
		 WHERE pm_schedule_id = $1
		 ORDER BY position`,
		id,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load schedule tasks", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t types.PMTaskTemplate
		if err := rows.Scan(&t.Title, &t.Description, &t.Position); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan schedule task", err)
		}
		s.Tasks = append(s.Tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read schedule tasks", err)
	}

	return &s, nil
}

// AppendNote appends a line to the schedule's notes field. Used by the
// ESCALATE strategy to mark a schedule as requiring attention.
//
// SQL: UPDATE pm_schedules
//
//	SET notes = CASE WHEN notes = '' THEN $2 ELSE notes || E'\n' || $2 END
//	WHERE id = $1
func (r *PMScheduleRepository) AppendNote(ctx context.Context, id int64, note string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE pm_schedules
		 SET notes = CASE WHEN notes = '' THEN $2 ELSE notes || E'\n' || $2 END
		 WHERE id = $1`,
		id, note,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to append schedule note", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSchedule, "pm schedule not found", nil)
	}
	return nil
}
