package types

import (
	"encoding/json"
	"fmt"
)

// TriggerSpec is the type-specific configuration of a PMTrigger, modeled as a
// closed sum type: exactly one variant exists per TriggerType and carries
// only the fields that type needs. Consumers switch on the concrete variant
// exhaustively instead of null-checking a wide record.
type TriggerSpec interface {
	// TriggerType returns the variant's discriminator.
	TriggerType() TriggerType
	// Validate checks the variant's own field constraints.
	Validate() error
}

// TimeSpec configures a TIME_BASED trigger. At most one field is
// authoritative per evaluation; precedence when several are set is
// IntervalDays, IntervalWeeks, IntervalMonths, DayOfWeek, DayOfMonth.
type TimeSpec struct {
	IntervalDays   int  `json:"interval_days,omitempty"`
	IntervalWeeks  int  `json:"interval_weeks,omitempty"`
	IntervalMonths int  `json:"interval_months,omitempty"`
	DayOfWeek      *int `json:"day_of_week,omitempty"`  // 0 (Sunday) - 6
	DayOfMonth     *int `json:"day_of_month,omitempty"` // 1 - 31
}

// TriggerType implements TriggerSpec.
func (TimeSpec) TriggerType() TriggerType { return TriggerTimeBased }

// Validate implements TriggerSpec. A TimeSpec must have at least one
// scheduling field populated, and calendar fields must be in range.
func (s TimeSpec) Validate() error {
	if s.IntervalDays < 0 || s.IntervalWeeks < 0 || s.IntervalMonths < 0 {
		return fmt.Errorf("time spec: interval fields must be non-negative")
	}
	if s.DayOfWeek != nil && (*s.DayOfWeek < 0 || *s.DayOfWeek > 6) {
		return fmt.Errorf("time spec: day_of_week %d out of range 0-6", *s.DayOfWeek)
	}
	if s.DayOfMonth != nil && (*s.DayOfMonth < 1 || *s.DayOfMonth > 31) {
		return fmt.Errorf("time spec: day_of_month %d out of range 1-31", *s.DayOfMonth)
	}
	if s.IntervalDays == 0 && s.IntervalWeeks == 0 && s.IntervalMonths == 0 &&
		s.DayOfWeek == nil && s.DayOfMonth == nil {
		return fmt.Errorf("time spec: no scheduling field populated")
	}
	return nil
}

// UsageSpec configures a USAGE_BASED trigger: it fires when the asset's
// meter of the given type freshly crosses Threshold.
type UsageSpec struct {
	Meter     MeterType `json:"meter_type"`
	Threshold float64   `json:"threshold_value"`
}

// TriggerType implements TriggerSpec.
func (UsageSpec) TriggerType() TriggerType { return TriggerUsageBased }

// Validate implements TriggerSpec.
func (s UsageSpec) Validate() error {
	switch s.Meter {
	case MeterHoursRun, MeterCycles, MeterDistanceKM, MeterFuelLiters:
	default:
		return fmt.Errorf("usage spec: unknown meter type %q", s.Meter)
	}
	if s.Threshold <= 0 {
		return fmt.Errorf("usage spec: threshold must be positive, got %v", s.Threshold)
	}
	return nil
}

// ConditionSpec configures a CONDITION_BASED trigger: it fires whenever the
// named sensor field compares true against Threshold.
type ConditionSpec struct {
	SensorField string             `json:"sensor_field"`
	Operator    ComparisonOperator `json:"comparison_operator"`
	Threshold   float64            `json:"threshold_value"`
}

// TriggerType implements TriggerSpec.
func (ConditionSpec) TriggerType() TriggerType { return TriggerConditionBased }

// Validate implements TriggerSpec.
func (s ConditionSpec) Validate() error {
	if s.SensorField == "" {
		return fmt.Errorf("condition spec: sensor_field is required")
	}
	switch s.Operator {
	case OpGreaterThan, OpGreaterThanEq, OpLessThan, OpLessThanEq, OpEqual, OpNotEqual:
	default:
		return fmt.Errorf("condition spec: unknown operator %q", s.Operator)
	}
	return nil
}

// Apply evaluates `value op threshold` using ordinary numeric comparison.
// Unknown operators return false.
func (op ComparisonOperator) Apply(value, threshold float64) bool {
	switch op {
	case OpGreaterThan:
		return value > threshold
	case OpGreaterThanEq:
		return value >= threshold
	case OpLessThan:
		return value < threshold
	case OpLessThanEq:
		return value <= threshold
	case OpEqual:
		return value == threshold
	case OpNotEqual:
		return value != threshold
	default:
		return false
	}
}

// EncodeTriggerSpec serializes a spec variant for JSONB column storage.
// The trigger's type column is the discriminator; the payload holds only the
// variant's own fields.
func EncodeTriggerSpec(spec TriggerSpec) ([]byte, error) {
	if spec == nil {
		return nil, fmt.Errorf("trigger spec is nil")
	}
	data, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("encoding %s spec: %w", spec.TriggerType(), err)
	}
	return data, nil
}

// DecodeTriggerSpec deserializes a JSONB payload into the variant matching
// the declared trigger type. The returned spec is validated; a payload that
// does not satisfy its variant's constraints is an error so malformed
// triggers can be skipped rather than half-interpreted.
func DecodeTriggerSpec(t TriggerType, data []byte) (TriggerSpec, error) {
	var spec TriggerSpec
	switch t {
	case TriggerTimeBased:
		var s TimeSpec
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("decoding time spec: %w", err)
		}
		spec = s
	case TriggerUsageBased:
		var s UsageSpec
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("decoding usage spec: %w", err)
		}
		spec = s
	case TriggerConditionBased:
		var s ConditionSpec
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("decoding condition spec: %w", err)
		}
		spec = s
	default:
		return nil, fmt.Errorf("unknown trigger type %q", t)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}
