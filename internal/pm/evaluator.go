package pm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"upkeep/internal/types"
)

// EvaluatorTriggerRepo abstracts the trigger queries the evaluator needs.
// Malformed triggers (spec not matching the declared type) are returned in
// the second slice so the evaluator can log and skip them without aborting
// the batch.
type EvaluatorTriggerRepo interface {
	// ListDue returns active triggers with a calendar due date at or before
	// now, up to limit.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*types.PMTrigger, []error, error)

	// ListActiveByAsset returns active triggers of one type attached to
	// schedules owned by the asset.
	ListActiveByAsset(ctx context.Context, assetID int64, t types.TriggerType) ([]*types.PMTrigger, []error, error)
}

// EvaluatorMeterRepo abstracts the meter reading lookups for usage triggers.
type EvaluatorMeterRepo interface {
	// Latest returns the most recent reading of the meter type, or nil if
	// the asset has none.
	Latest(ctx context.Context, assetID int64, meter types.MeterType) (*types.MeterReading, error)

	// LatestAt returns the most recent reading recorded at or before the
	// given time, or nil if none exists.
	LatestAt(ctx context.Context, assetID int64, meter types.MeterType, at time.Time) (*types.MeterReading, error)
}

// TriggerEvaluator decides, given "now", which active triggers require a
// work order. It applies per-type semantics but performs no mutation; the
// generator owns every state change.
type TriggerEvaluator struct {
	triggers EvaluatorTriggerRepo
	meters   EvaluatorMeterRepo
	logger   *slog.Logger
}

// NewTriggerEvaluator creates a new TriggerEvaluator.
func NewTriggerEvaluator(triggers EvaluatorTriggerRepo, meters EvaluatorMeterRepo, logger *slog.Logger) *TriggerEvaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &TriggerEvaluator{
		triggers: triggers,
		meters:   meters,
		logger:   logger,
	}
}

// DueTimeTriggers returns all active triggers whose calendar due date has
// arrived. Due-ness for time-based firing is entirely captured by the stored
// next-due date; no further type-specific logic applies here.
func (e *TriggerEvaluator) DueTimeTriggers(ctx context.Context, now time.Time) ([]*types.PMTrigger, error) {
	due, malformed, err := e.triggers.ListDue(ctx, now, DueBatchLimit)
	if err != nil {
		return nil, fmt.Errorf("listing due triggers: %w", err)
	}
	e.logSkipped(ctx, malformed)
	return due, nil
}

// DueUsageTriggers returns the asset's usage-based triggers whose meter has
// freshly crossed its threshold since the trigger last fired.
//
// A trigger fires iff the latest reading is at/above threshold AND the
// reading in effect at the previous firing was below it. That second check
// prevents a trigger from refiring every evaluation cycle while the meter
// stays above threshold. A missing baseline reading (never fired, or no
// reading recorded by then) counts as below threshold, so firing is allowed.
func (e *TriggerEvaluator) DueUsageTriggers(ctx context.Context, assetID int64, now time.Time) ([]*types.PMTrigger, error) {
	candidates, malformed, err := e.triggers.ListActiveByAsset(ctx, assetID, types.TriggerUsageBased)
	if err != nil {
		return nil, fmt.Errorf("listing usage triggers for asset %d: %w", assetID, err)
	}
	e.logSkipped(ctx, malformed)

	var due []*types.PMTrigger
	for _, trigger := range candidates {
		spec, ok := trigger.Spec.(types.UsageSpec)
		if !ok {
			e.logger.WarnContext(ctx, "usage trigger carries non-usage spec, skipping",
				"trigger_id", trigger.ID,
				"spec_type", trigger.Spec.TriggerType(),
			)
			continue
		}

		latest, err := e.meters.Latest(ctx, assetID, spec.Meter)
		if err != nil {
			e.logger.ErrorContext(ctx, "failed to read latest meter value, skipping trigger",
				"trigger_id", trigger.ID,
				"meter", string(spec.Meter),
				"error", err,
			)
			continue
		}
		if latest == nil || latest.Value < spec.Threshold {
			continue
		}

		crossed, err := e.freshlyCrossed(ctx, assetID, spec, trigger.LastTriggered)
		if err != nil {
			e.logger.ErrorContext(ctx, "failed to check threshold crossing, skipping trigger",
				"trigger_id", trigger.ID,
				"error", err,
			)
			continue
		}
		if crossed {
			due = append(due, trigger)
		}
	}
	return due, nil
}

// freshlyCrossed reports whether the meter was below threshold at the
// trigger's previous firing.
func (e *TriggerEvaluator) freshlyCrossed(ctx context.Context, assetID int64, spec types.UsageSpec, lastTriggered *time.Time) (bool, error) {
	if lastTriggered == nil {
		// Never fired: absence is treated as below threshold.
		return true, nil
	}
	baseline, err := e.meters.LatestAt(ctx, assetID, spec.Meter, *lastTriggered)
	if err != nil {
		return false, err
	}
	return baseline == nil || baseline.Value < spec.Threshold, nil
}

// DueConditionTriggers returns the asset's condition-based triggers whose
// sensor comparison holds against the given snapshot. Triggers whose sensor
// field is absent from the snapshot are skipped (not due).
//
// No de-duplication against prior firings is performed: every evaluation
// call can refire while the condition still holds. The generator's
// active-work-order guard is the only protection against duplicate orders.
func (e *TriggerEvaluator) DueConditionTriggers(ctx context.Context, assetID int64, snapshot map[string]float64) ([]*types.PMTrigger, error) {
	candidates, malformed, err := e.triggers.ListActiveByAsset(ctx, assetID, types.TriggerConditionBased)
	if err != nil {
		return nil, fmt.Errorf("listing condition triggers for asset %d: %w", assetID, err)
	}
	e.logSkipped(ctx, malformed)

	var due []*types.PMTrigger
	for _, trigger := range candidates {
		spec, ok := trigger.Spec.(types.ConditionSpec)
		if !ok {
			e.logger.WarnContext(ctx, "condition trigger carries non-condition spec, skipping",
				"trigger_id", trigger.ID,
				"spec_type", trigger.Spec.TriggerType(),
			)
			continue
		}

		value, present := snapshot[spec.SensorField]
		if !present {
			continue
		}
		if spec.Operator.Apply(value, spec.Threshold) {
			due = append(due, trigger)
		}
	}
	return due, nil
}

// logSkipped records malformed trigger rows. Evaluation must never abort
// because of one bad record.
func (e *TriggerEvaluator) logSkipped(ctx context.Context, malformed []error) {
	for _, err := range malformed {
		e.logger.WarnContext(ctx, "skipping malformed trigger", "error", err)
	}
}
