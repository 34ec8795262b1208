package timeouts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crmflow/crmflow/workflow"
)

// Monday 2024-01-08 10:00 UTC
var monday = time.Date(2024, time.January, 8, 10, 0, 0, 0, time.UTC)

func Test_Deadline_PlainUnits(t *testing.T) {
	c := NewCalculator(nil)

	require.Equal(t, monday.Add(30*time.Minute), c.Deadline(monday, 30, workflow.UnitMinutes))
	require.Equal(t, monday.Add(24*time.Hour), c.Deadline(monday, 24, workflow.UnitHours))
	require.Equal(t, monday.Add(48*time.Hour), c.Deadline(monday, 2, workflow.UnitDays))
}

func Test_Deadline_BusinessUnitsWithoutCalendar(t *testing.T) {
	// Without a calendar, business units degrade to plain hours and days.
	c := NewCalculator(nil)

	require.Equal(t, monday.Add(4*time.Hour), c.Deadline(monday, 4, workflow.UnitBusinessHours))
	require.Equal(t, monday.Add(24*time.Hour), c.Deadline(monday, 1, workflow.UnitBusinessDays))
}

func Test_Deadline_BusinessHours(t *testing.T) {
	c := NewCalculator(NewStandardCalendar())

	// 10:00 + 4 business hours lands at 14:00 the same day.
	require.Equal(t, monday.Add(4*time.Hour), c.Deadline(monday, 4, workflow.UnitBusinessHours))

	// 10:00 + 10 business hours: 7 hours remain on Monday (until 17:00),
	// the other 3 land on Tuesday from 09:00.
	tuesdayNoon := time.Date(2024, time.January, 9, 12, 0, 0, 0, time.UTC)
	require.Equal(t, tuesdayNoon, c.Deadline(monday, 10, workflow.UnitBusinessHours))
}

func Test_Deadline_BusinessHoursOverWeekend(t *testing.T) {
	c := NewCalculator(NewStandardCalendar())

	// Friday 16:00 + 2 business hours: 1 hour Friday, 1 hour Monday.
	friday := time.Date(2024, time.January, 12, 16, 0, 0, 0, time.UTC)
	mondayTen := time.Date(2024, time.January, 15, 10, 0, 0, 0, time.UTC)

	require.Equal(t, mondayTen, c.Deadline(friday, 2, workflow.UnitBusinessHours))
}

func Test_Deadline_BusinessDays(t *testing.T) {
	c := NewCalculator(NewStandardCalendar())

	// Friday + 2 business days skips the weekend and lands on Tuesday.
	friday := time.Date(2024, time.January, 12, 10, 0, 0, 0, time.UTC)
	tuesday := time.Date(2024, time.January, 16, 10, 0, 0, 0, time.UTC)

	require.Equal(t, tuesday, c.Deadline(friday, 2, workflow.UnitBusinessDays))
}

func Test_Deadline_BusinessDaysWithHoliday(t *testing.T) {
	cal := NewStandardCalendar()
	cal.Holidays = map[string]bool{"2024-01-09": true}

	c := NewCalculator(cal)

	// Monday + 1 business day would be Tuesday, but Tuesday is a holiday.
	wednesday := time.Date(2024, time.January, 10, 10, 0, 0, 0, time.UTC)
	require.Equal(t, wednesday, c.Deadline(monday, 1, workflow.UnitBusinessDays))
}

func Test_ReminderAt(t *testing.T) {
	deadline := monday.Add(24 * time.Hour)

	// 50 percent of a 24 hour timeout is exactly 12 hours in.
	at, ok := ReminderAt(monday, deadline, 50)
	require.True(t, ok)
	require.Equal(t, monday.Add(12*time.Hour), at)

	at, ok = ReminderAt(monday, deadline, 25)
	require.True(t, ok)
	require.Equal(t, monday.Add(6*time.Hour), at)

	// At or past 100 percent the timeout preempts the reminder.
	_, ok = ReminderAt(monday, deadline, 100)
	require.False(t, ok)

	_, ok = ReminderAt(monday, deadline, 150)
	require.False(t, ok)

	_, ok = ReminderAt(monday, deadline, 0)
	require.False(t, ok)
}
