package pm

import (
	"time"

	"upkeep/internal/types"
)

// NextDueAfter computes a trigger's next due date after a firing at now,
// from its spec's populated fields in precedence order: interval days,
// interval weeks, interval months, day of week, day of month.
//
// The returned ok is false when the spec yields no computation at all
// (condition specs, or a time spec with nothing populated); the caller must
// leave the trigger's due date unchanged and log the misuse. Usage specs
// return (nil, true): they have no calendar due date and become due again
// only through a fresh meter threshold crossing.
func NextDueAfter(now time.Time, spec types.TriggerSpec) (*time.Time, bool) {
	switch s := spec.(type) {
	case types.TimeSpec:
		return nextTimeDue(now, s)
	case types.UsageSpec:
		return nil, true
	default:
		return nil, false
	}
}

func nextTimeDue(now time.Time, s types.TimeSpec) (*time.Time, bool) {
	switch {
	case s.IntervalDays > 0:
		t := now.AddDate(0, 0, s.IntervalDays)
		return &t, true

	case s.IntervalWeeks > 0:
		t := now.AddDate(0, 0, 7*s.IntervalWeeks)
		return &t, true

	case s.IntervalMonths > 0:
		// Calendar month arithmetic, not a fixed day count. The day is
		// clamped to the target month's length so a Jan 31 firing with a
		// one-month interval lands on Feb 28/29, not Mar 2.
		t := addMonthsClamped(now, s.IntervalMonths, now.Day())
		return &t, true

	case s.DayOfWeek != nil:
		// Next occurrence of the weekday strictly after today. Firing on
		// the target weekday itself advances a full week, never zero days.
		delta := (*s.DayOfWeek - int(now.Weekday()) + 7) % 7
		if delta == 0 {
			delta = 7
		}
		t := now.AddDate(0, 0, delta)
		return &t, true

	case s.DayOfMonth != nil:
		// The given day in the following calendar month. This always
		// advances at least one month, even if the day has not yet passed
		// this month; the day is clamped for short months.
		t := addMonthsClamped(now, 1, *s.DayOfMonth)
		return &t, true

	default:
		return nil, false
	}
}

// addMonthsClamped advances now by months calendar months and sets the day
// of month to day, clamped to the target month's last valid day. The clock
// time is preserved. time.Time.AddDate is deliberately avoided for the day
// placement because it normalizes overflow into the next month.
func addMonthsClamped(now time.Time, months int, day int) time.Time {
	year, month, _ := now.Date()
	hour, minute, sec := now.Clock()

	// Normalize the target month; time.Date handles month overflow.
	first := time.Date(year, month+time.Month(months), 1, 0, 0, 0, 0, now.Location())
	if last := daysInMonth(first.Year(), first.Month()); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, hour, minute, sec, now.Nanosecond(), now.Location())
}

// daysInMonth returns the number of days in the given month.
func daysInMonth(year int, month time.Month) int {
	// Day zero of the following month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
