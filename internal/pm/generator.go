package pm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"upkeep/internal/types"
)

// GeneratorScheduleRepo abstracts schedule loading for the generator.
type GeneratorScheduleRepo interface {
	GetByID(ctx context.Context, id int64) (*types.PMSchedule, error)
}

// GeneratorTriggerRepo abstracts the trigger operations the generator needs.
type GeneratorTriggerRepo interface {
	GetByID(ctx context.Context, id int64) (*types.PMTrigger, error)

	// MarkFired records a firing: last_triggered and the caller-computed
	// next due date (nil for triggers with no calendar due date).
	MarkFired(ctx context.Context, id int64, firedAt time.Time, nextDue *time.Time) error
}

// GeneratorWorkOrderRepo abstracts work-order creation and the idempotency
// guard query.
type GeneratorWorkOrderRepo interface {
	Create(ctx context.Context, wo *types.WorkOrder) error
	HasActiveForSchedule(ctx context.Context, scheduleID int64) (bool, error)
}

// GeneratorHistoryRepo abstracts the maintenance-history append.
type GeneratorHistoryRepo interface {
	Append(ctx context.Context, h *types.MaintenanceHistory) error
}

// GeneratorAssetRepo abstracts asset lookup for priority computation.
type GeneratorAssetRepo interface {
	GetByID(ctx context.Context, id int64) (*types.Asset, error)
}

// WorkOrderGenerator turns a due trigger and its PM schedule into a new work
// order with its task checklist, and records the maintenance-history entry
// that opens the attempt.
type WorkOrderGenerator struct {
	schedules  GeneratorScheduleRepo
	triggers   GeneratorTriggerRepo
	workOrders GeneratorWorkOrderRepo
	history    GeneratorHistoryRepo
	assets     GeneratorAssetRepo
	evaluator  *TriggerEvaluator
	logger     *slog.Logger
}

// NewWorkOrderGenerator creates a new WorkOrderGenerator.
func NewWorkOrderGenerator(
	schedules GeneratorScheduleRepo,
	triggers GeneratorTriggerRepo,
	workOrders GeneratorWorkOrderRepo,
	history GeneratorHistoryRepo,
	assets GeneratorAssetRepo,
	evaluator *TriggerEvaluator,
	logger *slog.Logger,
) *WorkOrderGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkOrderGenerator{
		schedules:  schedules,
		triggers:   triggers,
		workOrders: workOrders,
		history:    history,
		assets:     assets,
		evaluator:  evaluator,
		logger:     logger,
	}
}

// Generate creates a work order from the schedule's template.
//
// Steps:
//  1. Load the schedule with its asset and ordered task templates; a missing
//     schedule surfaces as NotFound.
//  2. Compute priority from asset criticality.
//  3. Create the work order: status OPEN, back-reference to the schedule,
//     title "PM: <schedule title>", no assignee (assignment is a downstream
//     manual step).
//  4. Instantiate the checklist preserving template order.
//  5. Append an open maintenance-history attempt linking the order.
//  6. If triggerID is non-nil, mark the trigger fired. This is the only path
//     that advances a trigger's due-date state.
func (g *WorkOrderGenerator) Generate(ctx context.Context, now time.Time, pmScheduleID int64, triggerID *int64) (*types.WorkOrder, error) {
	schedule, err := g.schedules.GetByID(ctx, pmScheduleID)
	if err != nil {
		return nil, fmt.Errorf("loading pm schedule %d: %w", pmScheduleID, err)
	}

	asset, err := g.assets.GetByID(ctx, schedule.AssetID)
	if err != nil {
		return nil, fmt.Errorf("loading asset %d: %w", schedule.AssetID, err)
	}

	wo := &types.WorkOrder{
		OrganizationID: schedule.OrganizationID,
		AssetID:        schedule.AssetID,
		PMScheduleID:   &schedule.ID,
		Title:          "PM: " + schedule.Title,
		Description:    composeDescription(asset.Name, schedule.Description),
		Status:         types.WorkOrderOpen,
		Priority:       PriorityForCriticality(asset.Criticality),
	}
	for _, tmpl := range schedule.Tasks {
		wo.Tasks = append(wo.Tasks, types.WorkOrderTask{
			Title:       tmpl.Title,
			Description: tmpl.Description,
			Status:      types.TaskPending,
			Position:    tmpl.Position,
		})
	}

	if err := g.workOrders.Create(ctx, wo); err != nil {
		return nil, fmt.Errorf("creating work order for schedule %d: %w", pmScheduleID, err)
	}

	if err := g.history.Append(ctx, &types.MaintenanceHistory{
		OrganizationID: schedule.OrganizationID,
		AssetID:        schedule.AssetID,
		PMScheduleID:   schedule.ID,
		WorkOrderID:    wo.ID,
		Type:           types.MaintenancePreventive,
		IsCompleted:    false,
	}); err != nil {
		return nil, fmt.Errorf("recording maintenance attempt for work order %d: %w", wo.ID, err)
	}

	if triggerID != nil {
		if err := g.markFired(ctx, now, *triggerID); err != nil {
			return nil, err
		}
	}

	g.logger.InfoContext(ctx, "work order generated",
		"work_order_id", wo.ID,
		"pm_schedule_id", schedule.ID,
		"asset_id", schedule.AssetID,
		"priority", string(wo.Priority),
	)

	return wo, nil
}

// markFired advances the trigger's scheduling state after a firing.
func (g *WorkOrderGenerator) markFired(ctx context.Context, now time.Time, triggerID int64) error {
	trigger, err := g.triggers.GetByID(ctx, triggerID)
	if err != nil {
		return fmt.Errorf("loading trigger %d: %w", triggerID, err)
	}

	nextDue, ok := NextDueAfter(now, trigger.Spec)
	if !ok {
		// Condition specs yield no calendar due date; only last_triggered
		// advances and the stored due date stays as is.
		g.logger.DebugContext(ctx, "trigger spec yields no next-due computation, leaving due date unchanged",
			"trigger_id", triggerID,
			"type", string(trigger.Type),
		)
		nextDue = trigger.NextDue
	}

	if err := g.triggers.MarkFired(ctx, triggerID, now, nextDue); err != nil {
		return fmt.Errorf("marking trigger %d fired: %w", triggerID, err)
	}
	return nil
}

// GenerateForAllDue runs the evaluator's time-based due query and generates
// a work order for each due trigger, unless an OPEN or IN_PROGRESS order
// already exists for that schedule. The guard keeps the pass idempotent when
// it runs more often than the PM cadence. Items are isolated: one failure is
// recorded and the batch continues.
func (g *WorkOrderGenerator) GenerateForAllDue(ctx context.Context, now time.Time) (BatchResult, error) {
	due, err := g.evaluator.DueTimeTriggers(ctx, now)
	if err != nil {
		return BatchResult{}, fmt.Errorf("evaluating due triggers: %w", err)
	}

	result := g.generateBatch(ctx, now, due)

	g.logger.InfoContext(ctx, "due trigger generation complete",
		"due", len(due),
		"generated", result.Generated,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)

	return result, nil
}

// GenerateForAsset evaluates one asset's usage triggers against its latest
// meter readings and, when a sensor snapshot is provided, its condition
// triggers against that snapshot, generating a work order per due trigger
// under the same active-order guard as the calendar pass. This backs the
// on-demand evaluation endpoint; meter and sensor ingestion pipelines call
// the same path.
func (g *WorkOrderGenerator) GenerateForAsset(ctx context.Context, now time.Time, assetID int64, snapshot map[string]float64) (BatchResult, error) {
	due, err := g.evaluator.DueUsageTriggers(ctx, assetID, now)
	if err != nil {
		return BatchResult{}, fmt.Errorf("evaluating usage triggers: %w", err)
	}
	if len(snapshot) > 0 {
		cond, err := g.evaluator.DueConditionTriggers(ctx, assetID, snapshot)
		if err != nil {
			return BatchResult{}, fmt.Errorf("evaluating condition triggers: %w", err)
		}
		due = append(due, cond...)
	}

	result := g.generateBatch(ctx, now, due)

	g.logger.InfoContext(ctx, "asset trigger evaluation complete",
		"asset_id", assetID,
		"due", len(due),
		"generated", result.Generated,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)

	return result, nil
}

// generateBatch runs the guarded per-trigger generation loop. Items are
// isolated: one failure is recorded and the batch continues.
func (g *WorkOrderGenerator) generateBatch(ctx context.Context, now time.Time, due []*types.PMTrigger) BatchResult {
	var result BatchResult
	for _, trigger := range due {
		active, err := g.workOrders.HasActiveForSchedule(ctx, trigger.PMScheduleID)
		if err != nil {
			g.logger.ErrorContext(ctx, "failed to check active work orders",
				"pm_schedule_id", trigger.PMScheduleID,
				"error", err,
			)
			result.recordError(trigger.ID, err)
			continue
		}
		if active {
			result.Skipped++
			continue
		}

		triggerID := trigger.ID
		if _, err := g.Generate(ctx, now, trigger.PMScheduleID, &triggerID); err != nil {
			g.logger.ErrorContext(ctx, "failed to generate work order",
				"trigger_id", trigger.ID,
				"pm_schedule_id", trigger.PMScheduleID,
				"error", err,
			)
			result.recordError(trigger.ID, err)
			continue
		}
		result.Generated++
	}
	return result
}

// composeDescription builds the generated order's description from the asset
// name and schedule description.
func composeDescription(assetName, scheduleDescription string) string {
	if scheduleDescription == "" {
		return fmt.Sprintf("Preventive maintenance for %s.", assetName)
	}
	return fmt.Sprintf("Preventive maintenance for %s. %s", assetName, scheduleDescription)
}
