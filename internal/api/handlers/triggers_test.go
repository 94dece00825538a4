package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upkeep/internal/core"
	"upkeep/internal/pm"
	"upkeep/internal/types"
)

// =============================================================================
// Mock Implementations
// =============================================================================

// mockTriggerStore implements TriggerStore for testing.
type mockTriggerStore struct {
	createFn  func(ctx context.Context, trigger *types.PMTrigger) error
	getByIDFn func(ctx context.Context, id int64) (*types.PMTrigger, error)
	updateFn  func(ctx context.Context, trigger *types.PMTrigger) error
	deleteFn  func(ctx context.Context, id int64) error

	// capturedTrigger stores the trigger passed to Create or Update.
	capturedTrigger *types.PMTrigger
}

func (m *mockTriggerStore) Create(ctx context.Context, trigger *types.PMTrigger) error {
	m.capturedTrigger = trigger
	if m.createFn != nil {
		return m.createFn(ctx, trigger)
	}
	trigger.ID = 11
	return nil
}

func (m *mockTriggerStore) GetByID(ctx context.Context, id int64) (*types.PMTrigger, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundTrigger, "pm trigger not found", nil)
}

func (m *mockTriggerStore) Update(ctx context.Context, trigger *types.PMTrigger) error {
	m.capturedTrigger = trigger
	if m.updateFn != nil {
		return m.updateFn(ctx, trigger)
	}
	return nil
}

func (m *mockTriggerStore) Delete(ctx context.Context, id int64) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

func (m *mockTriggerStore) ListBySchedule(_ context.Context, _ int64) ([]*types.PMTrigger, []error, error) {
	return nil, nil, nil
}

// mockScheduleStore implements ScheduleStore for testing.
type mockScheduleStore struct {
	getByIDFn func(ctx context.Context, id int64) (*types.PMSchedule, error)
}

func (m *mockScheduleStore) GetByID(ctx context.Context, id int64) (*types.PMSchedule, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return &types.PMSchedule{ID: id, OrganizationID: 5, AssetID: 1, Title: "Quarterly pump service"}, nil
}

// fixedClock implements types.Clock at a pinned instant.
type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

// =============================================================================
// Test Helpers
// =============================================================================

var testNow = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

func testHandlerLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTriggerRouter mounts a TriggerHandler the way the API server does.
func newTriggerRouter(triggers *mockTriggerStore, schedules *mockScheduleStore) http.Handler {
	logger := testHandlerLogger()
	h := NewTriggerHandler(triggers, schedules, core.NewValidator(logger), fixedClock{at: testNow}, logger)
	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		h.RegisterRoutes(r)
	})
	return r
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewBuffer(body)
}

// decodeData unmarshals the data envelope of a successful response into out.
func decodeData(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	var resp core.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	dataBytes, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(dataBytes, out))
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) core.ErrorDetail {
	t.Helper()
	var resp core.APIErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

// triggerEnvelope mirrors the wire shape of a PMTrigger response. Spec stays
// raw because the response carries the variant's fields, not a tagged union.
type triggerEnvelope struct {
	ID           int64             `json:"id"`
	PMScheduleID int64             `json:"pm_schedule_id"`
	Type         types.TriggerType `json:"type"`
	Spec         json.RawMessage   `json:"spec"`
	IsActive     bool              `json:"is_active"`
	NextDue      *time.Time        `json:"next_due"`
}

// =============================================================================
// Create
// =============================================================================

func TestTriggerHandler_Create_TimeBased(t *testing.T) {
	triggers := &mockTriggerStore{}
	router := newTriggerRouter(triggers, &mockScheduleStore{})

	body := jsonBody(t, CreateTriggerRequest{
		PMScheduleID: 70,
		Type:         types.TriggerTimeBased,
		Spec:         json.RawMessage(`{"interval_days":30}`),
	})
	r := httptest.NewRequest(http.MethodPost, "/v1/pm/triggers", body)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var got triggerEnvelope
	decodeData(t, w, &got)
	assert.Equal(t, int64(11), got.ID)
	assert.Equal(t, int64(70), got.PMScheduleID)
	assert.Equal(t, types.TriggerTimeBased, got.Type)
	assert.True(t, got.IsActive, "triggers default to active")

	// next_due is computed from the pinned clock.
	require.NotNil(t, got.NextDue)
	assert.Equal(t, testNow.AddDate(0, 0, 30), got.NextDue.UTC())

	require.NotNil(t, triggers.capturedTrigger)
	spec, ok := triggers.capturedTrigger.Spec.(types.TimeSpec)
	require.True(t, ok, "spec must be decoded to its variant before persisting")
	assert.Equal(t, 30, spec.IntervalDays)
}

func TestTriggerHandler_Create_UsageBasedHasNoCalendarDue(t *testing.T) {
	triggers := &mockTriggerStore{}
	router := newTriggerRouter(triggers, &mockScheduleStore{})

	body := jsonBody(t, CreateTriggerRequest{
		PMScheduleID: 70,
		Type:         types.TriggerUsageBased,
		Spec:         json.RawMessage(`{"meter_type":"HOURS_RUN","threshold_value":500}`),
	})
	r := httptest.NewRequest(http.MethodPost, "/v1/pm/triggers", body)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var got triggerEnvelope
	decodeData(t, w, &got)
	assert.Nil(t, got.NextDue, "usage triggers are meter-driven, not calendar-driven")
}

func TestTriggerHandler_Create_InvalidSpecIsRejected(t *testing.T) {
	triggers := &mockTriggerStore{}
	router := newTriggerRouter(triggers, &mockScheduleStore{})

	// Threshold must be positive for usage specs.
	body := jsonBody(t, CreateTriggerRequest{
		PMScheduleID: 70,
		Type:         types.TriggerUsageBased,
		Spec:         json.RawMessage(`{"meter_type":"HOURS_RUN","threshold_value":-5}`),
	})
	r := httptest.NewRequest(http.MethodPost, "/v1/pm/triggers", body)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	detail := decodeError(t, w)
	assert.Equal(t, string(types.ErrCodeValidationInvalidTrigger), detail.Code)
	assert.Nil(t, triggers.capturedTrigger, "nothing may be persisted")
}

func TestTriggerHandler_Create_UnknownTypeFailsValidation(t *testing.T) {
	router := newTriggerRouter(&mockTriggerStore{}, &mockScheduleStore{})

	body := jsonBody(t, map[string]any{
		"pm_schedule_id": 70,
		"type":           "CALENDAR",
		"spec":           map[string]any{"interval_days": 30},
	})
	r := httptest.NewRequest(http.MethodPost, "/v1/pm/triggers", body)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTriggerHandler_Create_MissingScheduleIs404(t *testing.T) {
	schedules := &mockScheduleStore{
		getByIDFn: func(_ context.Context, id int64) (*types.PMSchedule, error) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSchedule, "pm schedule not found", nil)
		},
	}
	router := newTriggerRouter(&mockTriggerStore{}, schedules)

	body := jsonBody(t, CreateTriggerRequest{
		PMScheduleID: 999,
		Type:         types.TriggerTimeBased,
		Spec:         json.RawMessage(`{"interval_days":30}`),
	})
	r := httptest.NewRequest(http.MethodPost, "/v1/pm/triggers", body)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusNotFound, w.Code)
	detail := decodeError(t, w)
	assert.Equal(t, string(types.ErrCodeNotFoundSchedule), detail.Code)
}

// =============================================================================
// Get / Delete
// =============================================================================

func TestTriggerHandler_Get_NotFound(t *testing.T) {
	router := newTriggerRouter(&mockTriggerStore{}, &mockScheduleStore{})

	r := httptest.NewRequest(http.MethodGet, "/v1/pm/triggers/42", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusNotFound, w.Code)
	detail := decodeError(t, w)
	assert.Equal(t, string(types.ErrCodeNotFoundTrigger), detail.Code)
}

func TestTriggerHandler_Get_BadID(t *testing.T) {
	router := newTriggerRouter(&mockTriggerStore{}, &mockScheduleStore{})

	r := httptest.NewRequest(http.MethodGet, "/v1/pm/triggers/abc", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTriggerHandler_Delete_NoContent(t *testing.T) {
	deleted := int64(0)
	triggers := &mockTriggerStore{
		deleteFn: func(_ context.Context, id int64) error {
			deleted = id
			return nil
		},
	}
	router := newTriggerRouter(triggers, &mockScheduleStore{})

	r := httptest.NewRequest(http.MethodDelete, "/v1/pm/triggers/11", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, int64(11), deleted)
}

// =============================================================================
// Update
// =============================================================================

func existingTrigger() *types.PMTrigger {
	due := testNow.AddDate(0, 0, 5)
	return &types.PMTrigger{
		ID:           11,
		PMScheduleID: 70,
		Type:         types.TriggerTimeBased,
		Spec:         types.TimeSpec{IntervalDays: 30},
		IsActive:     true,
		NextDue:      &due,
	}
}

func TestTriggerHandler_Update_SpecReplacementRecomputesNextDue(t *testing.T) {
	triggers := &mockTriggerStore{
		getByIDFn: func(_ context.Context, _ int64) (*types.PMTrigger, error) {
			return existingTrigger(), nil
		},
	}
	router := newTriggerRouter(triggers, &mockScheduleStore{})

	body := jsonBody(t, UpdateTriggerRequest{Spec: json.RawMessage(`{"interval_weeks":2}`)})
	r := httptest.NewRequest(http.MethodPatch, "/v1/pm/triggers/11", body)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotNil(t, triggers.capturedTrigger)
	spec, ok := triggers.capturedTrigger.Spec.(types.TimeSpec)
	require.True(t, ok)
	assert.Equal(t, 2, spec.IntervalWeeks)
	require.NotNil(t, triggers.capturedTrigger.NextDue)
	assert.Equal(t, testNow.AddDate(0, 0, 14), triggers.capturedTrigger.NextDue.UTC())
}

func TestTriggerHandler_Update_ActiveFlagLeavesNextDueAlone(t *testing.T) {
	existing := existingTrigger()
	triggers := &mockTriggerStore{
		getByIDFn: func(_ context.Context, _ int64) (*types.PMTrigger, error) {
			return existing, nil
		},
	}
	router := newTriggerRouter(triggers, &mockScheduleStore{})

	inactive := false
	body := jsonBody(t, UpdateTriggerRequest{IsActive: &inactive})
	r := httptest.NewRequest(http.MethodPatch, "/v1/pm/triggers/11", body)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotNil(t, triggers.capturedTrigger)
	assert.False(t, triggers.capturedTrigger.IsActive)
	require.NotNil(t, triggers.capturedTrigger.NextDue)
	assert.Equal(t, testNow.AddDate(0, 0, 5), triggers.capturedTrigger.NextDue.UTC())
}

func TestTriggerHandler_Update_EmptyBodyIsRejected(t *testing.T) {
	router := newTriggerRouter(&mockTriggerStore{}, &mockScheduleStore{})

	r := httptest.NewRequest(http.MethodPatch, "/v1/pm/triggers/11", bytes.NewBufferString(`{}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	detail := decodeError(t, w)
	assert.Equal(t, string(types.ErrCodeValidationMissingField), detail.Code)
}

func TestTriggerHandler_Update_SpecMustMatchTriggerType(t *testing.T) {
	triggers := &mockTriggerStore{
		getByIDFn: func(_ context.Context, _ int64) (*types.PMTrigger, error) {
			return existingTrigger(), nil
		},
	}
	router := newTriggerRouter(triggers, &mockScheduleStore{})

	// A time-based trigger cannot take an empty scheduling payload.
	body := jsonBody(t, UpdateTriggerRequest{Spec: json.RawMessage(`{"threshold_value":500}`)})
	r := httptest.NewRequest(http.MethodPatch, "/v1/pm/triggers/11", body)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	detail := decodeError(t, w)
	assert.Equal(t, string(types.ErrCodeValidationInvalidTrigger), detail.Code)
}

// =============================================================================
// Manual runs
// =============================================================================

// mockGenerateRunner implements GenerateRunner.
type mockGenerateRunner struct {
	result pm.BatchResult
	err    error
	gotNow time.Time
}

func (m *mockGenerateRunner) GenerateForAllDue(_ context.Context, now time.Time) (pm.BatchResult, error) {
	m.gotNow = now
	return m.result, m.err
}

// mockRescheduleRunner implements RescheduleRunner.
type mockRescheduleRunner struct {
	failedResult  pm.BatchResult
	overdueResult pm.BatchResult
	failedCalls   int
	overdueCalls  int
}

func (m *mockRescheduleRunner) ProcessFailedWorkOrders(_ context.Context, _ time.Time) (pm.BatchResult, error) {
	m.failedCalls++
	return m.failedResult, nil
}

func (m *mockRescheduleRunner) ProcessOverduePMs(_ context.Context, _ time.Time) (pm.BatchResult, error) {
	m.overdueCalls++
	return m.overdueResult, nil
}

// mockArchiveRunner implements ArchiveRunner.
type mockArchiveRunner struct {
	archived     int
	err          error
	gotRetention time.Duration
}

func (m *mockArchiveRunner) ArchiveOldHistory(_ context.Context, _ time.Time, retention time.Duration) (int, error) {
	m.gotRetention = retention
	return m.archived, m.err
}

func newRunsRouter(gen *mockGenerateRunner, resched *mockRescheduleRunner, arch *mockArchiveRunner) http.Handler {
	logger := testHandlerLogger()
	h := NewRunsHandler(gen, resched, arch, 90*24*time.Hour, core.NewValidator(logger), fixedClock{at: testNow}, logger)
	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		h.RegisterRoutes(r)
	})
	return r
}

func TestRunsHandler_GenerateDue(t *testing.T) {
	gen := &mockGenerateRunner{result: pm.BatchResult{Generated: 4, Skipped: 2}}
	router := newRunsRouter(gen, &mockRescheduleRunner{}, &mockArchiveRunner{})

	body := jsonBody(t, map[string]any{"task": "generate_due"})
	r := httptest.NewRequest(http.MethodPost, "/v1/pm/runs", body)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got RunResponse
	decodeData(t, w, &got)
	assert.Equal(t, pm.TaskGenerateDue, got.Task)
	assert.Equal(t, 4, got.Result.Generated)
	assert.Equal(t, 2, got.Result.Skipped)
	assert.Equal(t, testNow, got.ReferenceAt)
	assert.Equal(t, testNow, gen.gotNow, "the pinned clock is the reference time")
}

func TestRunsHandler_ReferenceTimeOverridesClock(t *testing.T) {
	gen := &mockGenerateRunner{}
	router := newRunsRouter(gen, &mockRescheduleRunner{}, &mockArchiveRunner{})

	ref := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	body := jsonBody(t, map[string]any{"task": "generate_due", "reference_time": ref})
	r := httptest.NewRequest(http.MethodPost, "/v1/pm/runs", body)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, ref, gen.gotNow)
}

func TestRunsHandler_DispatchesRescheduleTasks(t *testing.T) {
	resched := &mockRescheduleRunner{
		failedResult:  pm.BatchResult{Rescheduled: 1},
		overdueResult: pm.BatchResult{Generated: 2},
	}
	router := newRunsRouter(&mockGenerateRunner{}, resched, &mockArchiveRunner{})

	for _, task := range []string{"process_failed", "process_overdue"} {
		body := jsonBody(t, map[string]any{"task": task})
		r := httptest.NewRequest(http.MethodPost, "/v1/pm/runs", body)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	assert.Equal(t, 1, resched.failedCalls)
	assert.Equal(t, 1, resched.overdueCalls)
}

func TestRunsHandler_ArchiveReportsCount(t *testing.T) {
	arch := &mockArchiveRunner{archived: 120}
	router := newRunsRouter(&mockGenerateRunner{}, &mockRescheduleRunner{}, arch)

	body := jsonBody(t, map[string]any{"task": "archive_history"})
	r := httptest.NewRequest(http.MethodPost, "/v1/pm/runs", body)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got RunResponse
	decodeData(t, w, &got)
	assert.Equal(t, 120, got.Result.Archived)
	assert.Equal(t, 90*24*time.Hour, arch.gotRetention, "retention comes from configuration")
}

func TestRunsHandler_UnknownTaskFailsValidation(t *testing.T) {
	router := newRunsRouter(&mockGenerateRunner{}, &mockRescheduleRunner{}, &mockArchiveRunner{})

	body := jsonBody(t, map[string]any{"task": "vacuum"})
	r := httptest.NewRequest(http.MethodPost, "/v1/pm/runs", body)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunsHandler_RunnerErrorSurfaces(t *testing.T) {
	gen := &mockGenerateRunner{err: errors.New("pool exhausted")}
	router := newRunsRouter(gen, &mockRescheduleRunner{}, &mockArchiveRunner{})

	body := jsonBody(t, map[string]any{"task": "generate_due"})
	r := httptest.NewRequest(http.MethodPost, "/v1/pm/runs", body)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
