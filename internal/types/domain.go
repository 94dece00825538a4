package types

import "time"

// PMSchedule is a preventive-maintenance template: what work to perform on
// which asset, expressed as an ordered list of task templates. Schedules are
// created by users; the engine reads them, appends attention notes when a
// schedule escalates, and deactivates their triggers under the MANUAL
// strategy. It never deletes them.
type PMSchedule struct {
	ID             int64            `json:"id"`
	OrganizationID int64            `json:"organization_id"`
	AssetID        int64            `json:"asset_id"`
	Title          string           `json:"title"`
	Description    string           `json:"description,omitempty"`
	Notes          string           `json:"notes,omitempty"`
	Tasks          []PMTaskTemplate `json:"tasks,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// PMTaskTemplate is one entry of a schedule's checklist template. Position
// defines the order in which tasks are instantiated on generated work orders.
type PMTaskTemplate struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Position    int    `json:"position"`
}

// PMTrigger decides when a PMSchedule becomes due. Each trigger belongs to
// exactly one schedule and carries exactly one type-specific Spec variant.
//
// NextDue is nil for triggers with no calendar due date (usage-based ones
// become due only through a fresh meter threshold crossing, never through
// time-based polling). For active time-based triggers NextDue is always set.
type PMTrigger struct {
	ID            int64       `json:"id"`
	PMScheduleID  int64       `json:"pm_schedule_id"`
	Type          TriggerType `json:"type"`
	Spec          TriggerSpec `json:"spec"`
	IsActive      bool        `json:"is_active"`
	NextDue       *time.Time  `json:"next_due,omitempty"`
	LastTriggered *time.Time  `json:"last_triggered,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// WorkOrder is a unit of maintenance work. PM-generated orders carry a
// PMScheduleID back-reference; manually created (corrective) orders do not,
// and the engine never mutates those.
type WorkOrder struct {
	ID              int64           `json:"id"`
	OrganizationID  int64           `json:"organization_id"`
	AssetID         int64           `json:"asset_id"`
	PMScheduleID    *int64          `json:"pm_schedule_id,omitempty"`
	Title           string          `json:"title"`
	Description     string          `json:"description,omitempty"`
	Status          WorkOrderStatus `json:"status"`
	Priority        Priority        `json:"priority"`
	AssigneeID      *int64          `json:"assignee_id,omitempty"`
	Tasks           []WorkOrderTask `json:"tasks,omitempty"`
	StatusChangedAt time.Time       `json:"status_changed_at"`
	CreatedAt       time.Time       `json:"created_at"`
}

// WorkOrderTask is one checklist item on a work order, instantiated from a
// schedule's PMTaskTemplate for PM-generated orders.
type WorkOrderTask struct {
	ID          int64      `json:"id"`
	WorkOrderID int64      `json:"work_order_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      TaskStatus `json:"status"`
	Position    int        `json:"position"`
}

// MaintenanceHistory is an append-only audit record of a PM attempt.
// IsCompleted=false records an open attempt or a failure; true a success.
// The failure tracker counts these rows inside a rolling window; past
// entries are never edited.
type MaintenanceHistory struct {
	ID             int64           `json:"id"`
	OrganizationID int64           `json:"organization_id"`
	AssetID        int64           `json:"asset_id"`
	PMScheduleID   int64           `json:"pm_schedule_id"`
	WorkOrderID    int64           `json:"work_order_id"`
	Type           MaintenanceType `json:"type"`
	IsCompleted    bool            `json:"is_completed"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Asset is the minimal view of an asset record the engine needs. Assets are
// owned by external CRUD; the engine only reads them by identifier.
type Asset struct {
	ID             int64            `json:"id"`
	OrganizationID int64            `json:"organization_id"`
	Name           string           `json:"name"`
	Criticality    AssetCriticality `json:"criticality"`
}

// MeterReading is a single usage-meter sample recorded against an asset.
type MeterReading struct {
	AssetID    int64     `json:"asset_id"`
	Meter      MeterType `json:"meter"`
	Value      float64   `json:"value"`
	RecordedAt time.Time `json:"recorded_at"`
}

// User is the minimal directory view needed for escalation targeting.
type User struct {
	ID             int64    `json:"id"`
	OrganizationID int64    `json:"organization_id"`
	Email          string   `json:"email"`
	Name           string   `json:"name"`
	Role           UserRole `json:"role"`
}

// NotificationRequest is the payload the engine hands to the Notifier
// collaborator. Delivery is fire-and-forget; the engine only constructs
// these and must never depend on delivery succeeding.
type NotificationRequest struct {
	UserID            int64             `json:"user_id"`
	OrganizationID    int64             `json:"organization_id"`
	Title             string            `json:"title"`
	Message           string            `json:"message"`
	Level             NotificationLevel `json:"level"`
	RelatedEntityType string            `json:"related_entity_type,omitempty"`
	RelatedEntityID   int64             `json:"related_entity_id,omitempty"`
}
