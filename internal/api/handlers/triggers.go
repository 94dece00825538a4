// Package handlers contains the HTTP handler implementations for the Upkeep
// API: PM trigger administration and manual engine runs.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"upkeep/internal/core"
	"upkeep/internal/pm"
	"upkeep/internal/types"
)

// --- Service interfaces ---
//
// Handlers depend on narrow local interfaces mirroring the concrete db
// repository methods they use, so tests can inject struct mocks.

// TriggerStore is the data access contract for trigger administration.
type TriggerStore interface {
	Create(ctx context.Context, t *types.PMTrigger) error
	GetByID(ctx context.Context, id int64) (*types.PMTrigger, error)
	Update(ctx context.Context, t *types.PMTrigger) error
	Delete(ctx context.Context, id int64) error
	ListBySchedule(ctx context.Context, scheduleID int64) ([]*types.PMTrigger, []error, error)
}

// ScheduleStore verifies that a trigger's parent schedule exists.
type ScheduleStore interface {
	GetByID(ctx context.Context, id int64) (*types.PMSchedule, error)
}

// --- Request/response models ---

// CreateTriggerRequest is the request body for POST /v1/pm/triggers.
// Spec is the raw JSON configuration for the given trigger type; it is
// decoded and validated against the type before persisting.
type CreateTriggerRequest struct {
	PMScheduleID int64             `json:"pm_schedule_id" validate:"required,gt=0"`
	Type         types.TriggerType `json:"type" validate:"required,oneof=TIME_BASED USAGE_BASED CONDITION_BASED"`
	Spec         json.RawMessage   `json:"spec" validate:"required"`
	IsActive     *bool             `json:"is_active,omitempty"`
}

// UpdateTriggerRequest is the request body for PATCH /v1/pm/triggers/{id}.
// Only the provided fields change; the trigger type itself is immutable.
type UpdateTriggerRequest struct {
	Spec     json.RawMessage `json:"spec,omitempty"`
	IsActive *bool           `json:"is_active,omitempty"`
}

// --- Handler ---

// TriggerHandler manages PM trigger CRUD.
type TriggerHandler struct {
	triggers  TriggerStore
	schedules ScheduleStore
	validator *core.Validator
	clock     types.Clock
	logger    *slog.Logger
}

// NewTriggerHandler creates a TriggerHandler with the provided dependencies.
func NewTriggerHandler(
	triggers TriggerStore,
	schedules ScheduleStore,
	v *core.Validator,
	clock types.Clock,
	logger *slog.Logger,
) *TriggerHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &TriggerHandler{
		triggers:  triggers,
		schedules: schedules,
		validator: v,
		clock:     clock,
		logger:    logger,
	}
}

// RegisterRoutes mounts trigger routes on the provided chi.Router.
func (h *TriggerHandler) RegisterRoutes(r chi.Router) {
	r.Route("/pm/triggers", func(r chi.Router) {
		r.Post("/", h.Create)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Patch("/", h.Update)
			r.Delete("/", h.Delete)
		})
	})
}

// Create handles POST /v1/pm/triggers. The initial next_due is computed from
// the decoded spec; usage and condition triggers carry no calendar due date.
func (h *TriggerHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateTriggerRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	spec, err := types.DecodeTriggerSpec(req.Type, req.Spec)
	if err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidTrigger, err.Error(), err))
		return
	}

	if _, err := h.schedules.GetByID(r.Context(), req.PMScheduleID); err != nil {
		core.Error(w, r, err)
		return
	}

	now := h.clock.Now()
	nextDue, _ := pm.NextDueAfter(now, spec)

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	trigger := &types.PMTrigger{
		PMScheduleID: req.PMScheduleID,
		Type:         req.Type,
		Spec:         spec,
		IsActive:     active,
		NextDue:      nextDue,
	}

	if err := h.triggers.Create(r.Context(), trigger); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "pm trigger created",
		slog.Int64("trigger_id", trigger.ID),
		slog.Int64("pm_schedule_id", trigger.PMScheduleID),
		slog.String("type", string(trigger.Type)),
	)

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: trigger})
}

// Get handles GET /v1/pm/triggers/{id}.
func (h *TriggerHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := triggerID(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	trigger, err := h.triggers.GetByID(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: trigger})
}

// Update handles PATCH /v1/pm/triggers/{id}. Replacing the spec recomputes
// next_due from the current time; flipping is_active does not.
func (h *TriggerHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := triggerID(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req UpdateTriggerRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if req.Spec == nil && req.IsActive == nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"at least one of spec or is_active must be provided",
			nil,
		))
		return
	}

	trigger, err := h.triggers.GetByID(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if req.Spec != nil {
		spec, err := types.DecodeTriggerSpec(trigger.Type, req.Spec)
		if err != nil {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidTrigger, err.Error(), err))
			return
		}
		trigger.Spec = spec

		nextDue, ok := pm.NextDueAfter(h.clock.Now(), spec)
		if ok {
			trigger.NextDue = nextDue
		}
	}
	if req.IsActive != nil {
		trigger.IsActive = *req.IsActive
	}

	if err := h.triggers.Update(r.Context(), trigger); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: trigger})
}

// Delete handles DELETE /v1/pm/triggers/{id}.
func (h *TriggerHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := triggerID(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.triggers.Delete(r.Context(), id); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "pm trigger deleted", slog.Int64("trigger_id", id))

	w.WriteHeader(http.StatusNoContent)
}

// triggerID parses the {id} path parameter.
func triggerID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, types.NewAppError(
			types.ErrCodeValidationInvalidField,
			"trigger id must be a positive integer",
			err,
		)
	}
	return id, nil
}

// --- Manual runs ---

// GenerateRunner executes the due-trigger generation pass.
type GenerateRunner interface {
	GenerateForAllDue(ctx context.Context, now time.Time) (pm.BatchResult, error)
}

// RescheduleRunner executes the failed and overdue passes.
type RescheduleRunner interface {
	ProcessFailedWorkOrders(ctx context.Context, now time.Time) (pm.BatchResult, error)
	ProcessOverduePMs(ctx context.Context, now time.Time) (pm.BatchResult, error)
}

// ArchiveRunner executes the history archival pass.
type ArchiveRunner interface {
	ArchiveOldHistory(ctx context.Context, now time.Time, retention time.Duration) (int, error)
}

// RunsHandler exposes manual, synchronous engine runs for operators. The
// worker drives the same passes on a schedule; this endpoint exists for
// backfills and incident response.
type RunsHandler struct {
	generator   GenerateRunner
	rescheduler RescheduleRunner
	archiver    ArchiveRunner
	retention   time.Duration
	validator   *core.Validator
	clock       types.Clock
	logger      *slog.Logger
}

// RunResponse summarizes a manual engine run.
type RunResponse struct {
	Task        pm.TaskType    `json:"task"`
	ReferenceAt time.Time      `json:"reference_at"`
	Result      pm.BatchResult `json:"result"`
}

// NewRunsHandler creates a RunsHandler.
func NewRunsHandler(
	generator GenerateRunner,
	rescheduler RescheduleRunner,
	archiver ArchiveRunner,
	retention time.Duration,
	v *core.Validator,
	clock types.Clock,
	logger *slog.Logger,
) *RunsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &RunsHandler{
		generator:   generator,
		rescheduler: rescheduler,
		archiver:    archiver,
		retention:   retention,
		validator:   v,
		clock:       clock,
		logger:      logger,
	}
}

// RegisterRoutes mounts the runs route on the provided chi.Router.
func (h *RunsHandler) RegisterRoutes(r chi.Router) {
	r.Post("/pm/runs", h.Run)
}

// Run handles POST /v1/pm/runs. The optional reference_time lets operators
// replay a pass as of a past instant; it defaults to the current time.
func (h *RunsHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req pm.RunPayload
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	now := h.clock.Now()
	if req.ReferenceTime != nil {
		now = req.ReferenceTime.UTC()
	}

	var (
		result pm.BatchResult
		err    error
	)

	switch req.Task {
	case pm.TaskGenerateDue:
		result, err = h.generator.GenerateForAllDue(r.Context(), now)
	case pm.TaskProcessFailed:
		result, err = h.rescheduler.ProcessFailedWorkOrders(r.Context(), now)
	case pm.TaskProcessOverdue:
		result, err = h.rescheduler.ProcessOverduePMs(r.Context(), now)
	case pm.TaskArchiveHistory:
		var archived int
		archived, err = h.archiver.ArchiveOldHistory(r.Context(), now, h.retention)
		result.Archived = archived
	default:
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidField,
			"unknown task: "+string(req.Task),
			nil,
		))
		return
	}
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "manual engine run completed",
		slog.String("task", string(req.Task)),
		slog.Time("reference_at", now),
		slog.Int("processed", result.Processed()),
		slog.Int("failed", result.Failed),
	)

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: RunResponse{
		Task:        req.Task,
		ReferenceAt: now,
		Result:      result,
	}})
}
