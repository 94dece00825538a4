package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"upkeep/internal/types"
)

// PMTriggerRepository provides data access for the pm_triggers table.
// The type-specific spec is stored as a JSONB column discriminated by the
// type column; rows whose spec fails to decode are surfaced as
// invalid-configuration errors so callers can skip them.
type PMTriggerRepository struct {
	db DBTX
}

// NewPMTriggerRepository creates a new PMTriggerRepository backed by the
// given database connection (pool or transaction).
func NewPMTriggerRepository(db DBTX) *PMTriggerRepository {
	return &PMTriggerRepository{db: db}
}

const triggerColumns = `id, pm_schedule_id, type, spec, is_active, next_due, last_triggered, created_at, updated_at`

// scanTrigger reads one trigger row and decodes its spec variant.
func scanTrigger(row pgx.Row) (*types.PMTrigger, error) {
	var (
		t       types.PMTrigger
		rawSpec []byte
	)
	if err := row.Scan(
		&t.ID,
		&t.PMScheduleID,
		&t.Type,
		&rawSpec,
		&t.IsActive,
		&t.NextDue,
		&t.LastTriggered,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return nil, err
	}

	spec, err := types.DecodeTriggerSpec(t.Type, rawSpec)
	if err != nil {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeInvalidTriggerConfig,
			"trigger spec does not match its declared type",
			err,
			map[string]any{"trigger_id": t.ID},
		)
	}
	t.Spec = spec
	return &t, nil
}

// collectTriggers drains a row set, decoding each trigger. Rows with a
// malformed spec are returned separately so batch callers can log and skip
// them without aborting the whole query (the engine's InvalidConfiguration
// policy).
func collectTriggers(rows pgx.Rows) (triggers []*types.PMTrigger, malformed []error, err error) {
	defer rows.Close()
	for rows.Next() {
		t, scanErr := scanTrigger(rows)
		if scanErr != nil {
			var appErr *types.AppError
			if errors.As(scanErr, &appErr) && appErr.Code == types.ErrCodeInvalidTriggerConfig {
				malformed = append(malformed, scanErr)
				continue
			}
			return nil, nil, scanErr
		}
		triggers = append(triggers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return triggers, malformed, nil
}

// Create inserts a new trigger. The caller must have computed the initial
// NextDue from the spec; the database assigns ID and timestamps, which are
// read back into the struct.
func (r *PMTriggerRepository) Create(ctx context.Context, t *types.PMTrigger) error {
	rawSpec, err := types.EncodeTriggerSpec(t.Spec)
	if err != nil {
		return types.NewAppError(types.ErrCodeValidationInvalidTrigger, "failed to encode trigger spec", err)
	}

	err = r.db.QueryRow(ctx,
		`INSERT INTO pm_triggers
		 (pm_schedule_id, type, spec, is_active, next_due, last_triggered)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		t.PMScheduleID,
		string(t.Type),
		rawSpec,
		t.IsActive,
		t.NextDue,
		t.LastTriggered,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create pm trigger", err)
	}
	return nil
}

// GetByID returns a single trigger by its identifier.
func (r *PMTriggerRepository) GetByID(ctx context.Context, id int64) (*types.PMTrigger, error) {
	t, err := scanTrigger(r.db.QueryRow(ctx,
		`SELECT `+triggerColumns+` FROM pm_triggers WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundTrigger, "pm trigger not found", err)
		}
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load pm trigger", err)
	}
	return t, nil
}

// Update rewrites the trigger's mutable fields (spec, activity, schedule
// state) and bumps updated_at.
func (r *PMTriggerRepository) Update(ctx context.Context, t *types.PMTrigger) error {
	rawSpec, err := types.EncodeTriggerSpec(t.Spec)
	if err != nil {
		return types.NewAppError(types.ErrCodeValidationInvalidTrigger, "failed to encode trigger spec", err)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE pm_triggers
		 SET type = $2, spec = $3, is_active = $4, next_due = $5,
		     last_triggered = $6, updated_at = NOW()
		 WHERE id = $1`,
		t.ID,
		string(t.Type),
		rawSpec,
		t.IsActive,
		t.NextDue,
		t.LastTriggered,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update pm trigger", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundTrigger, "pm trigger not found", nil)
	}
	return nil
}

// Delete removes a trigger row. Deletion is an administrative CRUD
// operation; the engine itself only ever deactivates triggers.
func (r *PMTriggerRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM pm_triggers WHERE id = $1`, id)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete pm trigger", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundTrigger, "pm trigger not found", nil)
	}
	return nil
}

// ListDue returns active triggers whose calendar due date has arrived.
// Triggers without a calendar due date (next_due IS NULL) never match.
//
// SQL: SELECT ... FROM pm_triggers
//
//	WHERE is_active AND next_due IS NOT NULL AND next_due <= $1
//	ORDER BY next_due LIMIT $2
func (r *PMTriggerRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*types.PMTrigger, []error, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+triggerColumns+`
		 FROM pm_triggers
		 WHERE is_active AND next_due IS NOT NULL AND next_due <= $1
		 ORDER BY next_due
		 LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list due triggers", err)
	}
	return collectTriggers(rows)
}

// ListActiveByAsset returns active triggers of the given type attached to
// schedules owned by the asset.
func (r *PMTriggerRepository) ListActiveByAsset(ctx context.Context, assetID int64, t types.TriggerType) ([]*types.PMTrigger, []error, error) {
	rows, err := r.db.Query(ctx,
		`SELECT t.id, t.pm_schedule_id, t.type, t.spec, t.is_active,
		        t.next_due, t.last_triggered, t.created_at, t.updated_at
		 FROM pm_triggers t
		 JOIN pm_schedules s ON s.id = t.pm_schedule_id
		 WHERE s.asset_id = $1 AND t.type = $2 AND t.is_active`,
		assetID, string(t),
	)
	if err != nil {
		return nil, nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list asset triggers", err)
	}
	return collectTriggers(rows)
}

// ListBySchedule returns all triggers attached to a schedule, active or not,
// ordered by creation.
func (r *PMTriggerRepository) ListBySchedule(ctx context.Context, scheduleID int64) ([]*types.PMTrigger, []error, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+triggerColumns+`
		 FROM pm_triggers
		 WHERE pm_schedule_id = $1
		 ORDER BY id`,
		scheduleID,
	)
	if err != nil {
		return nil, nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list schedule triggers", err)
	}
	return collectTriggers(rows)
}

// MarkFired records a firing: last_triggered is set and next_due advances to
// the caller-computed next occurrence (nil for triggers with no calendar due
// date). This is the sole write path that advances scheduling state.
func (r *PMTriggerRepository) MarkFired(ctx context.Context, id int64, firedAt time.Time, nextDue *time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE pm_triggers
		 SET last_triggered = $2, next_due = $3, updated_at = NOW()
		 WHERE id = $1`,
		id, firedAt, nextDue,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark trigger fired", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundTrigger, "pm trigger not found", nil)
	}
	return nil
}

// SetNextDue overwrites the trigger's next due date without touching
// last_triggered. Used by the DELAY and IMMEDIATE reschedule strategies.
func (r *PMTriggerRepository) SetNextDue(ctx context.Context, id int64, nextDue time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE pm_triggers SET next_due = $2, updated_at = NOW() WHERE id = $1`,
		id, nextDue,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to set trigger next due", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundTrigger, "pm trigger not found", nil)
	}
	return nil
}

// DeactivateBySchedule disables every trigger belonging to the schedule and
// returns how many were switched off. Used by the MANUAL strategy; no
// automatic firing occurs until a human reactivates them.
func (r *PMTriggerRepository) DeactivateBySchedule(ctx context.Context, scheduleID int64) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE pm_triggers
		 SET is_active = FALSE, updated_at = NOW()
		 WHERE pm_schedule_id = $1 AND is_active`,
		scheduleID,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to deactivate schedule triggers", err)
	}
	return int(tag.RowsAffected()), nil
}
