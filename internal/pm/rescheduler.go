package pm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"upkeep/internal/types"
)

// FailureHistoryRepo abstracts the maintenance-history operations used by
// failure tracking.
type FailureHistoryRepo interface {
	Append(ctx context.Context, h *types.MaintenanceHistory) error
	CountRecentFailures(ctx context.Context, scheduleID int64, since time.Time) (int, error)
}

// FailureTracker counts recent failures (unresolved maintenance-history
// entries) per PM schedule within a rolling window.
type FailureTracker struct {
	history FailureHistoryRepo
	window  time.Duration
}

// NewFailureTracker creates a FailureTracker over the given window. A zero
// window falls back to the standard 30 days.
func NewFailureTracker(history FailureHistoryRepo, window time.Duration) *FailureTracker {
	if window <= 0 {
		window = FailureWindow
	}
	return &FailureTracker{history: history, window: window}
}

// FailureCount returns the number of preventive attempts for the schedule
// that are still unresolved and fall inside the rolling window ending at
// now. Old failures age out; this is not a lifetime counter.
func (f *FailureTracker) FailureCount(ctx context.Context, scheduleID int64, now time.Time) (int, error) {
	count, err := f.history.CountRecentFailures(ctx, scheduleID, now.Add(-f.window))
	if err != nil {
		return 0, fmt.Errorf("counting recent failures for schedule %d: %w", scheduleID, err)
	}
	return count, nil
}

// RecordFailure appends an unresolved preventive attempt for the work order,
// feeding the rolling failure count.
func (f *FailureTracker) RecordFailure(ctx context.Context, schedule *types.PMSchedule, workOrderID int64) error {
	err := f.history.Append(ctx, &types.MaintenanceHistory{
		OrganizationID: schedule.OrganizationID,
		AssetID:        schedule.AssetID,
		PMScheduleID:   schedule.ID,
		WorkOrderID:    workOrderID,
		Type:           types.MaintenancePreventive,
		IsCompleted:    false,
	})
	if err != nil {
		return fmt.Errorf("recording failure for work order %d: %w", workOrderID, err)
	}
	return nil
}

// ReschedulerTriggerRepo abstracts the trigger operations the rescheduler
// needs.
type ReschedulerTriggerRepo interface {
	ListBySchedule(ctx context.Context, scheduleID int64) ([]*types.PMTrigger, []error, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*types.PMTrigger, []error, error)
	SetNextDue(ctx context.Context, id int64, nextDue time.Time) error
	DeactivateBySchedule(ctx context.Context, scheduleID int64) (int, error)
}

// ReschedulerScheduleRepo abstracts schedule loading and note appending.
type ReschedulerScheduleRepo interface {
	GetByID(ctx context.Context, id int64) (*types.PMSchedule, error)
	AppendNote(ctx context.Context, id int64, note string) error
}

// ReschedulerWorkOrderRepo abstracts the work-order queries and the cancel
// operation used by failure processing.
type ReschedulerWorkOrderRepo interface {
	ListFailedCandidates(ctx context.Context, now time.Time, openStale, holdStale time.Duration) ([]*types.WorkOrder, error)
	GetActiveForSchedule(ctx context.Context, scheduleID int64) (*types.WorkOrder, error)
	HasFailedTask(ctx context.Context, workOrderID int64) (bool, error)
	CancelWithNote(ctx context.Context, id int64, note string) error
}

// EscalationDirectory lists the users an escalation targets.
type EscalationDirectory interface {
	ListByOrgAndRoles(ctx context.Context, orgID int64, roles []types.UserRole) ([]*types.User, error)
}

// WorkOrderCreator is the slice of the generator the rescheduler needs for
// the IMMEDIATE strategy and overdue regeneration.
type WorkOrderCreator interface {
	Generate(ctx context.Context, now time.Time, pmScheduleID int64, triggerID *int64) (*types.WorkOrder, error)
}

// Rescheduler runs the failure-escalation ladder: it resolves the rule for a
// schedule's trigger type and failure count, executes the matched strategy,
// and cancels the stalled work order with an explanatory note.
type Rescheduler struct {
	triggers   ReschedulerTriggerRepo
	schedules  ReschedulerScheduleRepo
	workOrders ReschedulerWorkOrderRepo
	users      EscalationDirectory
	tracker    *FailureTracker
	generator  WorkOrderCreator
	rules      RuleTable
	notifier   types.Notifier
	logger     *slog.Logger
}

// NewRescheduler creates a new Rescheduler with the given collaborators and
// rule table.
func NewRescheduler(
	triggers ReschedulerTriggerRepo,
	schedules ReschedulerScheduleRepo,
	workOrders ReschedulerWorkOrderRepo,
	users EscalationDirectory,
	tracker *FailureTracker,
	generator WorkOrderCreator,
	rules RuleTable,
	notifier types.Notifier,
	logger *slog.Logger,
) *Rescheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rescheduler{
		triggers:   triggers,
		schedules:  schedules,
		workOrders: workOrders,
		users:      users,
		tracker:    tracker,
		generator:  generator,
		rules:      rules,
		notifier:   notifier,
		logger:     logger,
	}
}

// ProcessFailedWorkOrders selects PM-generated work orders that have a
// FAILED task, have been OPEN for more than seven days, or ON_HOLD for more
// than three, and routes each through the rescheduling ladder. Items are
// isolated: one failing order is recorded and the batch continues.
func (r *Rescheduler) ProcessFailedWorkOrders(ctx context.Context, now time.Time) (BatchResult, error) {
	candidates, err := r.workOrders.ListFailedCandidates(ctx, now, OpenStaleAfter, HoldStaleAfter)
	if err != nil {
		return BatchResult{}, fmt.Errorf("listing failed work order candidates: %w", err)
	}

	var result BatchResult
	for _, wo := range candidates {
		if err := r.rescheduleFailed(ctx, now, wo, &result); err != nil {
			r.logger.ErrorContext(ctx, "failed to reschedule work order",
				"work_order_id", wo.ID,
				"error", err,
			)
			result.recordError(wo.ID, err)
		}
	}

	r.logger.InfoContext(ctx, "failed work order processing complete",
		"candidates", len(candidates),
		"rescheduled", result.Rescheduled,
		"escalated", result.Escalated,
		"deactivated", result.Deactivated,
		"failed", result.Failed,
	)

	return result, nil
}

// rescheduleFailed runs the ladder for one stalled or failed work order:
// record the failure, resolve the rule for the schedule's primary trigger,
// execute the strategy, notify, and cancel the order.
func (r *Rescheduler) rescheduleFailed(ctx context.Context, now time.Time, wo *types.WorkOrder, result *BatchResult) error {
	if wo.PMScheduleID == nil {
		// Corrective orders never enter the ladder.
		return fmt.Errorf("work order %d has no pm schedule back-reference", wo.ID)
	}

	schedule, err := r.schedules.GetByID(ctx, *wo.PMScheduleID)
	if err != nil {
		return fmt.Errorf("loading schedule %d: %w", *wo.PMScheduleID, err)
	}

	if err := r.tracker.RecordFailure(ctx, schedule, wo.ID); err != nil {
		return err
	}

	failures, err := r.tracker.FailureCount(ctx, schedule.ID, now)
	if err != nil {
		return err
	}

	primary := r.primaryTrigger(ctx, schedule.ID)
	rule := fallbackRule
	if primary != nil {
		rule = r.rules.Resolve(primary.Type, failures)
	}

	r.logger.InfoContext(ctx, "resolved reschedule strategy",
		"work_order_id", wo.ID,
		"pm_schedule_id", schedule.ID,
		"failure_count", failures,
		"strategy", string(rule.Strategy),
	)

	if err := r.execute(ctx, now, schedule, primary, rule, failures, result); err != nil {
		return err
	}

	r.notifyAssignee(ctx, wo, schedule, rule)

	note := fmt.Sprintf("Canceled by the PM engine on %s (%s): %d recent failed attempt(s), strategy %s.",
		now.Format("2006-01-02"), r.cancelReason(ctx, wo), failures, rule.Strategy)
	if err := r.workOrders.CancelWithNote(ctx, wo.ID, note); err != nil {
		return fmt.Errorf("canceling work order %d: %w", wo.ID, err)
	}
	return nil
}

// cancelReason names why the order entered the ladder: a technician marked
// a checklist task FAILED, or the order went stale in OPEN or ON_HOLD. The
// distinction is informational only, so a lookup error degrades to the
// stale wording.
func (r *Rescheduler) cancelReason(ctx context.Context, wo *types.WorkOrder) string {
	failed, err := r.workOrders.HasFailedTask(ctx, wo.ID)
	if err != nil {
		r.logger.WarnContext(ctx, "failed to check work order tasks",
			"work_order_id", wo.ID,
			"error", err,
		)
		return "stalled"
	}
	if failed {
		return "task failure"
	}
	return "stalled"
}

// primaryTrigger returns the schedule's first trigger, or nil when the
// schedule has none (the fallback rule then applies).
func (r *Rescheduler) primaryTrigger(ctx context.Context, scheduleID int64) *types.PMTrigger {
	triggers, malformed, err := r.triggers.ListBySchedule(ctx, scheduleID)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to load schedule triggers",
			"pm_schedule_id", scheduleID,
			"error", err,
		)
		return nil
	}
	for _, err := range malformed {
		r.logger.WarnContext(ctx, "skipping malformed trigger", "error", err)
	}
	if len(triggers) == 0 {
		return nil
	}
	return triggers[0]
}

// execute runs the matched strategy.
func (r *Rescheduler) execute(ctx context.Context, now time.Time, schedule *types.PMSchedule, primary *types.PMTrigger, rule Rule, failures int, result *BatchResult) error {
	switch rule.Strategy {
	case types.StrategyImmediate:
		if primary == nil {
			return fmt.Errorf("immediate strategy requires a trigger on schedule %d", schedule.ID)
		}
		if err := r.triggers.SetNextDue(ctx, primary.ID, now); err != nil {
			return fmt.Errorf("setting trigger %d due now: %w", primary.ID, err)
		}
		triggerID := primary.ID
		if _, err := r.generator.Generate(ctx, now, schedule.ID, &triggerID); err != nil {
			return fmt.Errorf("generating immediate work order for schedule %d: %w", schedule.ID, err)
		}
		result.Rescheduled++
		return nil

	case types.StrategyDelay:
		if primary == nil {
			return fmt.Errorf("delay strategy requires a trigger on schedule %d", schedule.ID)
		}
		nextDue := now.AddDate(0, 0, rule.DelayDays)
		if err := r.triggers.SetNextDue(ctx, primary.ID, nextDue); err != nil {
			return fmt.Errorf("delaying trigger %d: %w", primary.ID, err)
		}
		result.Rescheduled++
		return nil

	case types.StrategyEscalate:
		// Scheduling stays untouched; the schedule is flagged and managers
		// are notified.
		note := fmt.Sprintf("Escalated on %s: requires attention after %d failed attempt(s).",
			now.Format("2006-01-02"), failures)
		if err := r.schedules.AppendNote(ctx, schedule.ID, note); err != nil {
			return fmt.Errorf("appending escalation note to schedule %d: %w", schedule.ID, err)
		}
		role := rule.EscalateTo
		if role == "" {
			role = types.RoleManager
		}
		r.notifyRoles(ctx, schedule, []types.UserRole{role}, rule.Level,
			fmt.Sprintf("PM escalation: %s", schedule.Title),
			fmt.Sprintf("Preventive maintenance %q has failed %d time(s) in the last %d days and requires attention.",
				schedule.Title, failures, int(r.tracker.window.Hours()/24)),
		)
		result.Escalated++
		return nil

	case types.StrategyManual:
		deactivated, err := r.triggers.DeactivateBySchedule(ctx, schedule.ID)
		if err != nil {
			return fmt.Errorf("deactivating triggers for schedule %d: %w", schedule.ID, err)
		}
		r.notifyRoles(ctx, schedule, []types.UserRole{types.RoleManager, types.RoleAdmin}, rule.Level,
			fmt.Sprintf("PM schedule needs manual rescheduling: %s", schedule.Title),
			fmt.Sprintf("All triggers for preventive maintenance %q have been deactivated after repeated failures. Reschedule it by hand.",
				schedule.Title),
		)
		r.logger.InfoContext(ctx, "schedule handed to manual rescheduling",
			"pm_schedule_id", schedule.ID,
			"triggers_deactivated", deactivated,
		)
		result.Deactivated++
		return nil

	default:
		return fmt.Errorf("unknown reschedule strategy %q", rule.Strategy)
	}
}

// ProcessOverduePMs handles triggers past their due date. When the schedule
// has no active work order one is generated; when it has one that has been
// open longer than three days, the order is routed through the same
// rescheduling path as failed work orders.
func (r *Rescheduler) ProcessOverduePMs(ctx context.Context, now time.Time) (BatchResult, error) {
	overdue, malformed, err := r.triggers.ListDue(ctx, now, DueBatchLimit)
	if err != nil {
		return BatchResult{}, fmt.Errorf("listing overdue triggers: %w", err)
	}
	for _, err := range malformed {
		r.logger.WarnContext(ctx, "skipping malformed trigger", "error", err)
	}

	var result BatchResult
	for _, trigger := range overdue {
		active, err := r.workOrders.GetActiveForSchedule(ctx, trigger.PMScheduleID)
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to load active work order",
				"pm_schedule_id", trigger.PMScheduleID,
				"error", err,
			)
			result.recordError(trigger.ID, err)
			continue
		}

		switch {
		case active == nil:
			triggerID := trigger.ID
			if _, err := r.generator.Generate(ctx, now, trigger.PMScheduleID, &triggerID); err != nil {
				r.logger.ErrorContext(ctx, "failed to generate overdue work order",
					"trigger_id", trigger.ID,
					"pm_schedule_id", trigger.PMScheduleID,
					"error", err,
				)
				result.recordError(trigger.ID, err)
				continue
			}
			result.Generated++

		case now.Sub(active.CreatedAt) > OverdueRescheduleAfter:
			if err := r.rescheduleFailed(ctx, now, active, &result); err != nil {
				r.logger.ErrorContext(ctx, "failed to reschedule overdue work order",
					"work_order_id", active.ID,
					"error", err,
				)
				result.recordError(active.ID, err)
			}

		default:
			// An active order exists and is still fresh; let it run.
			result.Skipped++
		}
	}

	r.logger.InfoContext(ctx, "overdue pm processing complete",
		"overdue", len(overdue),
		"generated", result.Generated,
		"rescheduled", result.Rescheduled,
		"escalated", result.Escalated,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)

	return result, nil
}

// notifyRoles sends a notice to every user holding one of the roles in the
// schedule's organization. Notification failures are logged and swallowed:
// scheduling correctness never depends on delivery succeeding.
func (r *Rescheduler) notifyRoles(ctx context.Context, schedule *types.PMSchedule, roles []types.UserRole, level types.NotificationLevel, title, message string) {
	users, err := r.users.ListByOrgAndRoles(ctx, schedule.OrganizationID, roles)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to list escalation targets",
			"organization_id", schedule.OrganizationID,
			"error", err,
		)
		return
	}
	for _, user := range users {
		r.send(ctx, types.NotificationRequest{
			UserID:            user.ID,
			OrganizationID:    schedule.OrganizationID,
			Title:             title,
			Message:           message,
			Level:             level,
			RelatedEntityType: "pm_schedule",
			RelatedEntityID:   schedule.ID,
		})
	}
}

// notifyAssignee tells the work order's assignee, if any, that the order was
// rescheduled and canceled.
func (r *Rescheduler) notifyAssignee(ctx context.Context, wo *types.WorkOrder, schedule *types.PMSchedule, rule Rule) {
	if wo.AssigneeID == nil {
		return
	}
	r.send(ctx, types.NotificationRequest{
		UserID:            *wo.AssigneeID,
		OrganizationID:    wo.OrganizationID,
		Title:             fmt.Sprintf("Work order rescheduled: %s", wo.Title),
		Message:           fmt.Sprintf("Work order %q was canceled and the schedule %q rescheduled (strategy %s).", wo.Title, schedule.Title, rule.Strategy),
		Level:             rule.Level,
		RelatedEntityType: "work_order",
		RelatedEntityID:   wo.ID,
	})
}

// send delivers one notification, logging and swallowing failures.
func (r *Rescheduler) send(ctx context.Context, req types.NotificationRequest) {
	if err := r.notifier.Notify(ctx, req); err != nil {
		r.logger.ErrorContext(ctx, "notification delivery failed",
			"user_id", req.UserID,
			"title", req.Title,
			"error", err,
		)
	}
}
