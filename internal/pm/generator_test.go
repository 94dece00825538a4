package pm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"upkeep/internal/types"
)

// ============================================================
// Mocks for the generator's repositories
// ============================================================

type mockScheduleRepo struct {
	schedules map[int64]*types.PMSchedule
	notes     []string
}

func (m *mockScheduleRepo) GetByID(_ context.Context, id int64) (*types.PMSchedule, error) {
	s, ok := m.schedules[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundSchedule, "pm schedule not found", nil)
	}
	return s, nil
}

func (m *mockScheduleRepo) AppendNote(_ context.Context, _ int64, note string) error {
	m.notes = append(m.notes, note)
	return nil
}

type mockGenTriggerRepo struct {
	mu sync.Mutex

	triggers     map[int64]*types.PMTrigger
	markFiredErr error

	firedID      int64
	firedAt      time.Time
	firedNextDue *time.Time
	markCalls    int
}

func (m *mockGenTriggerRepo) GetByID(_ context.Context, id int64) (*types.PMTrigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.triggers[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundTrigger, "pm trigger not found", nil)
	}
	return t, nil
}

func (m *mockGenTriggerRepo) MarkFired(_ context.Context, id int64, firedAt time.Time, nextDue *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markFiredErr != nil {
		return m.markFiredErr
	}
	m.markCalls++
	m.firedID = id
	m.firedAt = firedAt
	m.firedNextDue = nextDue
	return nil
}

type mockWorkOrderRepo struct {
	mu sync.Mutex

	nextID       int64
	created      []*types.WorkOrder
	createErr    error
	activeByID   map[int64]bool
	hasActiveErr error
}

func (m *mockWorkOrderRepo) Create(_ context.Context, wo *types.WorkOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	wo.ID = m.nextID
	m.created = append(m.created, wo)
	return nil
}

func (m *mockWorkOrderRepo) HasActiveForSchedule(_ context.Context, scheduleID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasActiveErr != nil {
		return false, m.hasActiveErr
	}
	return m.activeByID[scheduleID], nil
}

type mockHistoryRepo struct {
	mu        sync.Mutex
	appended  []*types.MaintenanceHistory
	appendErr error
}

func (m *mockHistoryRepo) Append(_ context.Context, h *types.MaintenanceHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.appended = append(m.appended, h)
	return nil
}

type mockAssetRepo struct {
	assets map[int64]*types.Asset
}

func (m *mockAssetRepo) GetByID(_ context.Context, id int64) (*types.Asset, error) {
	a, ok := m.assets[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundAsset, "asset not found", nil)
	}
	return a, nil
}

// ============================================================
// Fixtures
// ============================================================

func pumpSchedule() *types.PMSchedule {
	return &types.PMSchedule{
		ID:             70,
		OrganizationID: 5,
		AssetID:        1,
		Title:          "Quarterly pump service",
		Description:    "Grease bearings and inspect seals.",
		Tasks: []types.PMTaskTemplate{
			{Title: "Inspect seals", Position: 1},
			{Title: "Grease bearings", Description: "Use grade 2 lithium grease.", Position: 2},
		},
	}
}

type generatorFixture struct {
	schedules  *mockScheduleRepo
	triggers   *mockGenTriggerRepo
	evalRepo   *mockEvalTriggerRepo
	meters     *mockMeterRepo
	workOrders *mockWorkOrderRepo
	history    *mockHistoryRepo
	assets     *mockAssetRepo
	gen        *WorkOrderGenerator
}

func newGeneratorFixture(criticality types.AssetCriticality) *generatorFixture {
	f := &generatorFixture{
		schedules:  &mockScheduleRepo{schedules: map[int64]*types.PMSchedule{70: pumpSchedule()}},
		triggers:   &mockGenTriggerRepo{triggers: map[int64]*types.PMTrigger{}},
		evalRepo:   &mockEvalTriggerRepo{},
		meters:     &mockMeterRepo{},
		workOrders: &mockWorkOrderRepo{activeByID: map[int64]bool{}},
		history:    &mockHistoryRepo{},
		assets: &mockAssetRepo{assets: map[int64]*types.Asset{
			1: {ID: 1, OrganizationID: 5, Name: "Feed pump 3", Criticality: criticality},
		}},
	}
	evaluator := NewTriggerEvaluator(f.evalRepo, f.meters, pmTestLogger())
	f.gen = NewWorkOrderGenerator(f.schedules, f.triggers, f.workOrders, f.history, f.assets, evaluator, pmTestLogger())
	return f
}

// ============================================================
// Generate
// ============================================================

func TestGenerate_BuildsWorkOrderFromTemplate(t *testing.T) {
	f := newGeneratorFixture(types.CriticalityHigh)
	now := time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC)

	wo, err := f.gen.Generate(context.Background(), now, 70, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if wo.Title != "PM: Quarterly pump service" {
		t.Errorf("title %q", wo.Title)
	}
	if wo.Status != types.WorkOrderOpen {
		t.Errorf("status %s, want OPEN", wo.Status)
	}
	if wo.Priority != types.PriorityHigh {
		t.Errorf("priority %s, want HIGH for HIGH criticality", wo.Priority)
	}
	if wo.PMScheduleID == nil || *wo.PMScheduleID != 70 {
		t.Error("work order must carry the schedule back-reference")
	}
	if wo.AssigneeID != nil {
		t.Error("generated orders start unassigned")
	}
	if len(wo.Tasks) != 2 {
		t.Fatalf("expected 2 checklist tasks, got %d", len(wo.Tasks))
	}
	if wo.Tasks[0].Title != "Inspect seals" || wo.Tasks[0].Position != 1 {
		t.Errorf("task order not preserved: %+v", wo.Tasks[0])
	}
	if wo.Tasks[1].Status != types.TaskPending {
		t.Errorf("tasks start PENDING, got %s", wo.Tasks[1].Status)
	}
	if wo.Description != "Preventive maintenance for Feed pump 3. Grease bearings and inspect seals." {
		t.Errorf("description %q", wo.Description)
	}
}

func TestGenerate_PriorityFollowsCriticality(t *testing.T) {
	cases := []struct {
		criticality types.AssetCriticality
		want        types.Priority
	}{
		{types.CriticalityImportant, types.PriorityHigh},
		{types.CriticalityHigh, types.PriorityHigh},
		{types.CriticalityMedium, types.PriorityMedium},
		{types.CriticalityLow, types.PriorityLow},
		{types.AssetCriticality(""), types.PriorityMedium},
	}

	for _, tc := range cases {
		f := newGeneratorFixture(tc.criticality)
		wo, err := f.gen.Generate(context.Background(), time.Now().UTC(), 70, nil)
		if err != nil {
			t.Fatalf("criticality %q: %v", tc.criticality, err)
		}
		if wo.Priority != tc.want {
			t.Errorf("criticality %q: priority %s, want %s", tc.criticality, wo.Priority, tc.want)
		}
	}
}

func TestGenerate_AppendsOpenHistoryAttempt(t *testing.T) {
	f := newGeneratorFixture(types.CriticalityMedium)

	wo, err := f.gen.Generate(context.Background(), time.Now().UTC(), 70, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.history.appended) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(f.history.appended))
	}
	h := f.history.appended[0]
	if h.WorkOrderID != wo.ID || h.PMScheduleID != 70 {
		t.Errorf("history entry not linked: %+v", h)
	}
	if h.Type != types.MaintenancePreventive || h.IsCompleted {
		t.Errorf("history must open an unresolved PREVENTIVE attempt: %+v", h)
	}
}

func TestGenerate_MarkFiredAdvancesDueDate(t *testing.T) {
	f := newGeneratorFixture(types.CriticalityMedium)
	now := time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC)
	prevDue := now.Add(-time.Hour)
	f.triggers.triggers[11] = &types.PMTrigger{
		ID:           11,
		PMScheduleID: 70,
		Type:         types.TriggerTimeBased,
		Spec:         types.TimeSpec{IntervalDays: 30},
		IsActive:     true,
		NextDue:      &prevDue,
	}

	triggerID := int64(11)
	if _, err := f.gen.Generate(context.Background(), now, 70, &triggerID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if f.triggers.markCalls != 1 || f.triggers.firedID != 11 {
		t.Fatal("expected the trigger to be marked fired")
	}
	if !f.triggers.firedAt.Equal(now) {
		t.Errorf("fired at %v, want %v", f.triggers.firedAt, now)
	}
	want := now.AddDate(0, 0, 30)
	if f.triggers.firedNextDue == nil || !f.triggers.firedNextDue.Equal(want) {
		t.Errorf("next due %v, want %v", f.triggers.firedNextDue, want)
	}
}

func TestGenerate_UsageTriggerClearsCalendarDue(t *testing.T) {
	f := newGeneratorFixture(types.CriticalityMedium)
	now := time.Now().UTC()
	f.triggers.triggers[12] = &types.PMTrigger{
		ID:           12,
		PMScheduleID: 70,
		Type:         types.TriggerUsageBased,
		Spec:         types.UsageSpec{Meter: types.MeterHoursRun, Threshold: 500},
		IsActive:     true,
	}

	triggerID := int64(12)
	if _, err := f.gen.Generate(context.Background(), now, 70, &triggerID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.triggers.firedNextDue != nil {
		t.Errorf("usage triggers carry no calendar due date, got %v", *f.triggers.firedNextDue)
	}
}

func TestGenerate_MissingScheduleSurfacesNotFound(t *testing.T) {
	f := newGeneratorFixture(types.CriticalityMedium)

	_, err := f.gen.Generate(context.Background(), time.Now().UTC(), 999, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeNotFoundSchedule {
		t.Fatalf("expected not_found_pm_schedule, got %v", err)
	}
}

// ============================================================
// GenerateForAllDue
// ============================================================

func TestGenerateForAllDue_SkipsSchedulesWithActiveOrders(t *testing.T) {
	f := newGeneratorFixture(types.CriticalityMedium)
	now := time.Now().UTC()

	f.triggers.triggers[11] = &types.PMTrigger{
		ID: 11, PMScheduleID: 70, Type: types.TriggerTimeBased,
		Spec: types.TimeSpec{IntervalDays: 30}, IsActive: true,
	}
	f.evalRepo.dueTriggers = []*types.PMTrigger{f.triggers.triggers[11]}
	f.workOrders.activeByID[70] = true

	result, err := f.gen.GenerateForAllDue(context.Background(), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Skipped != 1 || result.Generated != 0 {
		t.Fatalf("expected skip, got %+v", result)
	}
	if len(f.workOrders.created) != 0 {
		t.Error("no order may be created while one is active")
	}
	if f.triggers.markCalls != 0 {
		t.Error("a skipped trigger must not be marked fired")
	}
}

func TestGenerateForAllDue_GeneratesAndIsolatesFailures(t *testing.T) {
	f := newGeneratorFixture(types.CriticalityMedium)
	now := time.Now().UTC()

	f.triggers.triggers[11] = &types.PMTrigger{
		ID: 11, PMScheduleID: 70, Type: types.TriggerTimeBased,
		Spec: types.TimeSpec{IntervalDays: 30}, IsActive: true,
	}
	// Trigger 12 points at a schedule that does not exist; its failure must
	// not stop trigger 11 from generating.
	broken := &types.PMTrigger{
		ID: 12, PMScheduleID: 999, Type: types.TriggerTimeBased,
		Spec: types.TimeSpec{IntervalDays: 7}, IsActive: true,
	}
	f.evalRepo.dueTriggers = []*types.PMTrigger{broken, f.triggers.triggers[11]}

	result, err := f.gen.GenerateForAllDue(context.Background(), now)
	if err != nil {
		t.Fatalf("partial failure must not become a batch error: %v", err)
	}
	if result.Generated != 1 {
		t.Errorf("generated %d, want 1", result.Generated)
	}
	if result.Failed != 1 || len(result.Errors) != 1 {
		t.Fatalf("expected 1 recorded item error, got %+v", result)
	}
	if result.Errors[0].EntityID != 12 {
		t.Errorf("item error attributed to %d, want trigger 12", result.Errors[0].EntityID)
	}
}

func TestGenerateForAllDue_SecondRunIsIdempotent(t *testing.T) {
	f := newGeneratorFixture(types.CriticalityMedium)
	now := time.Now().UTC()

	f.triggers.triggers[11] = &types.PMTrigger{
		ID: 11, PMScheduleID: 70, Type: types.TriggerTimeBased,
		Spec: types.TimeSpec{IntervalDays: 30}, IsActive: true,
	}
	f.evalRepo.dueTriggers = []*types.PMTrigger{f.triggers.triggers[11]}

	first, err := f.gen.GenerateForAllDue(context.Background(), now)
	if err != nil || first.Generated != 1 {
		t.Fatalf("first run: %+v err=%v", first, err)
	}

	// The created order is now active for the schedule.
	f.workOrders.activeByID[70] = true

	second, err := f.gen.GenerateForAllDue(context.Background(), now)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Generated != 0 || second.Skipped != 1 {
		t.Fatalf("second run must skip, got %+v", second)
	}
	if len(f.workOrders.created) != 1 {
		t.Fatalf("expected exactly 1 order, got %d", len(f.workOrders.created))
	}
}

// ============================================================
// GenerateForAsset
// ============================================================

func TestGenerateForAsset_UsageTriggerGeneratesOrder(t *testing.T) {
	f := newGeneratorFixture(types.CriticalityMedium)
	now := time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC)

	trigger := usageTrigger(7, 500, nil)
	f.triggers.triggers[7] = trigger
	f.evalRepo.byAsset = map[types.TriggerType][]*types.PMTrigger{
		types.TriggerUsageBased: {trigger},
	}
	f.meters.latest = reading(512, now)

	result, err := f.gen.GenerateForAsset(context.Background(), now, 1, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Generated != 1 {
		t.Fatalf("generated %d, want 1: %+v", result.Generated, result)
	}
	if len(f.workOrders.created) != 1 || *f.workOrders.created[0].PMScheduleID != 70 {
		t.Fatalf("order not created for schedule 70: %+v", f.workOrders.created)
	}
	if f.triggers.firedID != 7 || f.triggers.firedNextDue != nil {
		t.Errorf("usage trigger must be marked fired with no calendar due, got id=%d due=%v",
			f.triggers.firedID, f.triggers.firedNextDue)
	}
}

func TestGenerateForAsset_BelowThresholdGeneratesNothing(t *testing.T) {
	f := newGeneratorFixture(types.CriticalityMedium)
	now := time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC)

	trigger := usageTrigger(7, 500, nil)
	f.evalRepo.byAsset = map[types.TriggerType][]*types.PMTrigger{
		types.TriggerUsageBased: {trigger},
	}
	f.meters.latest = reading(480, now)

	result, err := f.gen.GenerateForAsset(context.Background(), now, 1, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Generated != 0 || len(f.workOrders.created) != 0 {
		t.Fatalf("nothing may be generated below threshold, got %+v", result)
	}
}

func TestGenerateForAsset_SnapshotEvaluatesConditionTriggers(t *testing.T) {
	f := newGeneratorFixture(types.CriticalityMedium)
	now := time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC)

	trigger := &types.PMTrigger{
		ID: 8, PMScheduleID: 70, Type: types.TriggerConditionBased,
		Spec:     types.ConditionSpec{SensorField: "temperature_c", Operator: types.OpGreaterThan, Threshold: 90},
		IsActive: true,
	}
	f.triggers.triggers[8] = trigger
	f.evalRepo.byAsset = map[types.TriggerType][]*types.PMTrigger{
		types.TriggerConditionBased: {trigger},
	}

	result, err := f.gen.GenerateForAsset(context.Background(), now, 1,
		map[string]float64{"temperature_c": 95})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Generated != 1 || len(f.workOrders.created) != 1 {
		t.Fatalf("condition breach must generate, got %+v", result)
	}
	if f.triggers.firedID != 8 {
		t.Errorf("condition trigger must be marked fired, got id=%d", f.triggers.firedID)
	}
}

func TestGenerateForAsset_NoSnapshotSkipsConditionTriggers(t *testing.T) {
	f := newGeneratorFixture(types.CriticalityMedium)
	now := time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC)

	result, err := f.gen.GenerateForAsset(context.Background(), now, 1, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Generated != 0 {
		t.Fatalf("expected nothing due, got %+v", result)
	}
	// Only the usage-trigger query runs without a snapshot.
	if f.evalRepo.byAssetCalls != 1 {
		t.Errorf("asset queries %d, want 1", f.evalRepo.byAssetCalls)
	}
}

func TestGenerateForAsset_ActiveOrderGuardApplies(t *testing.T) {
	f := newGeneratorFixture(types.CriticalityMedium)
	now := time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC)

	trigger := usageTrigger(7, 500, nil)
	f.evalRepo.byAsset = map[types.TriggerType][]*types.PMTrigger{
		types.TriggerUsageBased: {trigger},
	}
	f.meters.latest = reading(512, now)
	f.workOrders.activeByID[70] = true

	result, err := f.gen.GenerateForAsset(context.Background(), now, 1, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Skipped != 1 || result.Generated != 0 {
		t.Fatalf("expected skip while an order is active, got %+v", result)
	}
	if f.triggers.markCalls != 0 {
		t.Error("a skipped trigger must not be marked fired")
	}
}
