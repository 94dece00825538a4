package pm

import (
	"sort"

	"upkeep/internal/types"
)

// Rule maps a trigger type and minimum failure count to a rescheduling
// strategy and its parameters.
type Rule struct {
	Type        types.TriggerType
	MinFailures int
	Strategy    types.RescheduleStrategy
	DelayDays   int                     // DELAY only
	Level       types.NotificationLevel // notification level for the outcome
	EscalateTo  types.UserRole          // ESCALATE only; role to notify
}

// fallbackRule applies when no rule matches a (type, failure count) pair,
// including a failure count of zero. It hands the schedule to a human.
var fallbackRule = Rule{
	Strategy: types.StrategyManual,
	Level:    types.NotifyUrgent,
}

// RuleTable is a decision table over (trigger type, failure count). For a
// given type it selects the rule with the largest MinFailures that does not
// exceed the current failure count: most-specific wins, not exact match.
type RuleTable struct {
	rules []Rule
}

// NewRuleTable builds a table from the given rules, sorted by type and
// ascending MinFailures so resolution can scan for the highest qualifying
// threshold.
func NewRuleTable(rules []Rule) RuleTable {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Type != sorted[j].Type {
			return sorted[i].Type < sorted[j].Type
		}
		return sorted[i].MinFailures < sorted[j].MinFailures
	})
	return RuleTable{rules: sorted}
}

// DefaultRuleTable returns the standard escalation ladder:
//
//	TIME_BASED      >=1 DELAY 1 day (LOW), >=2 DELAY 3 days (MEDIUM),
//	                >=3 ESCALATE to MANAGER (HIGH)
//	USAGE_BASED     >=1 IMMEDIATE (MEDIUM), >=2 ESCALATE to MANAGER (HIGH)
//	CONDITION_BASED >=1 IMMEDIATE (HIGH), >=2 ESCALATE to MANAGER (URGENT)
func DefaultRuleTable() RuleTable {
	return NewRuleTable([]Rule{
		{Type: types.TriggerTimeBased, MinFailures: 1, Strategy: types.StrategyDelay, DelayDays: 1, Level: types.NotifyLow},
		{Type: types.TriggerTimeBased, MinFailures: 2, Strategy: types.StrategyDelay, DelayDays: 3, Level: types.NotifyMedium},
		{Type: types.TriggerTimeBased, MinFailures: 3, Strategy: types.StrategyEscalate, Level: types.NotifyHigh, EscalateTo: types.RoleManager},
		{Type: types.TriggerUsageBased, MinFailures: 1, Strategy: types.StrategyImmediate, Level: types.NotifyMedium},
		{Type: types.TriggerUsageBased, MinFailures: 2, Strategy: types.StrategyEscalate, Level: types.NotifyHigh, EscalateTo: types.RoleManager},
		{Type: types.TriggerConditionBased, MinFailures: 1, Strategy: types.StrategyImmediate, Level: types.NotifyHigh},
		{Type: types.TriggerConditionBased, MinFailures: 2, Strategy: types.StrategyEscalate, Level: types.NotifyUrgent, EscalateTo: types.RoleManager},
	})
}

// Resolve returns the rule with the largest MinFailures at or below the
// current failure count for the trigger type. When no rule qualifies --
// including failure count zero, since no default rule has MinFailures of
// zero -- the MANUAL/URGENT fallback applies.
func (t RuleTable) Resolve(triggerType types.TriggerType, failureCount int) Rule {
	best := fallbackRule
	found := false
	for _, r := range t.rules {
		if r.Type != triggerType || r.MinFailures > failureCount {
			continue
		}
		if !found || r.MinFailures >= best.MinFailures {
			best = r
			found = true
		}
	}
	return best
}
