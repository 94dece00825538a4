package types

// TriggerType identifies what kind of signal makes a PM trigger fire.
type TriggerType string

const (
	TriggerTimeBased      TriggerType = "TIME_BASED"
	TriggerUsageBased     TriggerType = "USAGE_BASED"
	TriggerConditionBased TriggerType = "CONDITION_BASED"
)

// AllTriggerTypes is the closed set of valid trigger types, used by
// validators when checking create/update requests.
var AllTriggerTypes = []TriggerType{
	TriggerTimeBased,
	TriggerUsageBased,
	TriggerConditionBased,
}

// WorkOrderStatus represents the lifecycle state of a work order.
type WorkOrderStatus string

const (
	WorkOrderOpen       WorkOrderStatus = "OPEN"
	WorkOrderInProgress WorkOrderStatus = "IN_PROGRESS"
	WorkOrderOnHold     WorkOrderStatus = "ON_HOLD"
	WorkOrderCompleted  WorkOrderStatus = "COMPLETED"
	WorkOrderCanceled   WorkOrderStatus = "CANCELED"
)

// TaskStatus represents the state of a single checklist task on a work order.
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskFailed     TaskStatus = "FAILED"
)

// Priority determines work-order ordering in technician queues.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// AssetCriticality describes how important an asset is to operations.
// It drives the priority of PM-generated work orders.
type AssetCriticality string

const (
	CriticalityLow       AssetCriticality = "LOW"
	CriticalityMedium    AssetCriticality = "MEDIUM"
	CriticalityHigh      AssetCriticality = "HIGH"
	CriticalityImportant AssetCriticality = "IMPORTANT"
)

// MeterType identifies a usage meter tracked on an asset.
type MeterType string

const (
	MeterHoursRun   MeterType = "HOURS_RUN"
	MeterCycles     MeterType = "CYCLES"
	MeterDistanceKM MeterType = "DISTANCE_KM"
	MeterFuelLiters MeterType = "FUEL_LITERS"
)

// ComparisonOperator defines the comparison applied by condition-based triggers.
type ComparisonOperator string

const (
	OpGreaterThan   ComparisonOperator = ">"
	OpGreaterThanEq ComparisonOperator = ">="
	OpLessThan      ComparisonOperator = "<"
	OpLessThanEq    ComparisonOperator = "<="
	OpEqual         ComparisonOperator = "="
	OpNotEqual      ComparisonOperator = "!="
)

// NotificationLevel determines how loudly the Notifier surfaces a message.
type NotificationLevel string

const (
	NotifyLow    NotificationLevel = "LOW"
	NotifyMedium NotificationLevel = "MEDIUM"
	NotifyHigh   NotificationLevel = "HIGH"
	NotifyUrgent NotificationLevel = "URGENT"
)

// UserRole defines authorization levels within an organization.
// The escalation ladder targets users by role.
type UserRole string

const (
	RoleAdmin      UserRole = "ADMIN"
	RoleManager    UserRole = "MANAGER"
	RoleTechnician UserRole = "TECHNICIAN"
	RoleViewer     UserRole = "VIEWER"
)

// MaintenanceType distinguishes planned from reactive maintenance history.
type MaintenanceType string

const (
	MaintenancePreventive MaintenanceType = "PREVENTIVE"
	MaintenanceCorrective MaintenanceType = "CORRECTIVE"
)

// RescheduleStrategy is the action taken when a PM schedule accumulates failures.
type RescheduleStrategy string

const (
	StrategyImmediate RescheduleStrategy = "IMMEDIATE"
	StrategyDelay     RescheduleStrategy = "DELAY"
	StrategyEscalate  RescheduleStrategy = "ESCALATE"
	StrategyManual    RescheduleStrategy = "MANUAL"
)
