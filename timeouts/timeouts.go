// Package timeouts computes absolute step deadlines from configured
// durations and units. Wall-clock scheduling of the resulting deadlines is
// the timer service's concern.
package timeouts

import (
	"time"

	"github.com/crmflow/crmflow/workflow"
)

// Calendar resolves business-time arithmetic. The engine treats it as an
// opaque function; implementations account for working hours, weekends and
// holidays.
type Calendar interface {
	// AddBusinessHours returns the timestamp reached after the given number
	// of business hours from start.
	AddBusinessHours(start time.Time, hours int) time.Time

	// AddBusinessDays returns the timestamp reached after the given number
	// of business days from start.
	AddBusinessDays(start time.Time, days int) time.Time
}

// Calculator turns a step's timeout configuration into absolute deadlines.
type Calculator struct {
	calendar Calendar
}

// NewCalculator creates a calculator. calendar may be nil if no definition
// uses business units; business units then degrade to plain hours and days.
func NewCalculator(calendar Calendar) *Calculator {
	return &Calculator{calendar: calendar}
}

// Deadline computes the absolute timeout deadline for a step activated at
// start.
func (c *Calculator) Deadline(start time.Time, duration int, unit workflow.TimeoutUnit) time.Time {
	switch unit {
	case workflow.UnitMinutes:
		return start.Add(time.Duration(duration) * time.Minute)
	case workflow.UnitHours:
		return start.Add(time.Duration(duration) * time.Hour)
	case workflow.UnitDays:
		return start.Add(time.Duration(duration) * 24 * time.Hour)
	case workflow.UnitBusinessHours:
		if c.calendar != nil {
			return c.calendar.AddBusinessHours(start, duration)
		}
		return start.Add(time.Duration(duration) * time.Hour)
	case workflow.UnitBusinessDays:
		if c.calendar != nil {
			return c.calendar.AddBusinessDays(start, duration)
		}
		return start.Add(time.Duration(duration) * 24 * time.Hour)
	default:
		return start.Add(time.Duration(duration) * time.Hour)
	}
}

// ReminderAt computes the reminder deadline for a step activated at start
// with the given timeout deadline. The reminder fires at percent of the way
// from activation to the deadline. The second return value is false when no
// reminder should be scheduled; at percent >= 100 the timeout preempts the
// reminder.
func ReminderAt(start, deadline time.Time, percent int) (time.Time, bool) {
	if percent <= 0 || percent >= 100 {
		return time.Time{}, false
	}

	total := deadline.Sub(start)
	if total <= 0 {
		return time.Time{}, false
	}

	return start.Add(total * time.Duration(percent) / 100), true
}
