// Package pm implements the preventive-maintenance trigger engine: deciding
// when maintenance work is due, generating work orders from schedules, and
// running the failure-escalation ladder that reschedules, delays, or
// escalates a schedule when its work fails or stalls.
//
// The engine is driven by periodic invocation (the pm-worker driver or the
// manual-run API), never by continuous background threads. Every pass is a
// single-threaded batch over its candidate set with per-item failure
// isolation: one bad trigger or work order is logged and skipped, never
// allowed to abort the rest of the batch.
package pm

import (
	"time"

	"upkeep/internal/types"
)

// TaskType identifies which engine pass a run request targets. Each constant
// maps to one service method; the pm-worker driver schedules all of them and
// the runs API accepts them for manual invocation.
type TaskType string

const (
	TaskGenerateDue    TaskType = "generate_due"
	TaskProcessFailed  TaskType = "process_failed"
	TaskProcessOverdue TaskType = "process_overdue"
	TaskArchiveHistory TaskType = "archive_history"
)

// RunPayload is the request body for a manual engine run. ReferenceTime
// overrides "now" for deterministic execution and backfilling; when nil,
// the current UTC time is used.
type RunPayload struct {
	Task          TaskType   `json:"task" validate:"required,oneof=generate_due process_failed process_overdue archive_history"`
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}

// ItemError records one failed item of a batch pass. Batches accumulate
// these instead of aborting, so callers see exactly which entities failed
// and why while the rest of the batch still ran.
type ItemError struct {
	EntityID int64  `json:"entity_id"`
	Reason   string `json:"reason"`
}

// BatchResult summarizes one engine pass. Batch passes never surface partial
// failures as a hard error; callers inspect the counts and Errors instead.
type BatchResult struct {
	Generated   int         `json:"generated"`
	Rescheduled int         `json:"rescheduled"`
	Escalated   int         `json:"escalated"`
	Deactivated int         `json:"deactivated"`
	Skipped     int         `json:"skipped"`
	Archived    int         `json:"archived,omitempty"`
	Failed      int         `json:"failed"`
	Errors      []ItemError `json:"errors,omitempty"`
}

// Processed returns the total number of items the pass acted on, for job
// history bookkeeping.
func (r BatchResult) Processed() int {
	return r.Generated + r.Rescheduled + r.Escalated + r.Deactivated + r.Skipped + r.Archived + r.Failed
}

// recordError appends an item failure and bumps the failure counter.
func (r *BatchResult) recordError(entityID int64, err error) {
	r.Failed++
	r.Errors = append(r.Errors, ItemError{EntityID: entityID, Reason: err.Error()})
}

// Engine-wide policy constants.
const (
	// FailureWindow is the rolling window over which failures are counted.
	// Failures older than this age out of the escalation ladder.
	FailureWindow = 30 * 24 * time.Hour

	// OpenStaleAfter is how long a PM work order may stay OPEN before the
	// failure processor treats it as stalled.
	OpenStaleAfter = 7 * 24 * time.Hour

	// HoldStaleAfter is how long a PM work order may stay ON_HOLD before the
	// failure processor treats it as stalled.
	HoldStaleAfter = 3 * 24 * time.Hour

	// OverdueRescheduleAfter is how long an active work order for an overdue
	// trigger may stay open before the overdue pass routes it into the
	// failure-rescheduling path.
	OverdueRescheduleAfter = 3 * 24 * time.Hour

	// DueBatchLimit bounds the number of due triggers handled per pass so a
	// single tick stays a bounded batch job.
	DueBatchLimit = 500
)

// PriorityForCriticality maps asset criticality to the priority of generated
// work orders. MEDIUM is the default for unknown criticalities.
func PriorityForCriticality(c types.AssetCriticality) types.Priority {
	switch c {
	case types.CriticalityImportant, types.CriticalityHigh:
		return types.PriorityHigh
	case types.CriticalityLow:
		return types.PriorityLow
	default:
		return types.PriorityMedium
	}
}
