package timeouts

import "time"

// StandardCalendar is a reference Calendar: Monday through Friday working
// days with a fixed daily working window and an optional holiday list.
// Deployments with an external calendar service plug in their own Calendar
// instead.
type StandardCalendar struct {
	// OpenHour and CloseHour bound the working day, e.g. 9 and 17.
	OpenHour  int
	CloseHour int

	// Holidays are non-working dates, in the timestamps' location.
	Holidays map[string]bool
}

var _ Calendar = (*StandardCalendar)(nil)

// NewStandardCalendar returns a Monday-to-Friday 9:00-17:00 calendar.
func NewStandardCalendar() *StandardCalendar {
	return &StandardCalendar{OpenHour: 9, CloseHour: 17}
}

func (c *StandardCalendar) workingDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}

	return !c.Holidays[t.Format("2006-01-02")]
}

// nextOpen moves t forward to the next moment within working hours.
func (c *StandardCalendar) nextOpen(t time.Time) time.Time {
	for {
		if !c.workingDay(t) || t.Hour() >= c.CloseHour {
			y, m, d := t.AddDate(0, 0, 1).Date()
			t = time.Date(y, m, d, c.OpenHour, 0, 0, 0, t.Location())
			continue
		}

		if t.Hour() < c.OpenHour {
			y, m, d := t.Date()
			t = time.Date(y, m, d, c.OpenHour, 0, 0, 0, t.Location())
		}

		return t
	}
}

// AddBusinessHours consumes working-window time day by day until the
// requested number of hours is spent.
func (c *StandardCalendar) AddBusinessHours(start time.Time, hours int) time.Time {
	t := c.nextOpen(start)
	remaining := time.Duration(hours) * time.Hour

	for {
		y, m, d := t.Date()
		closeAt := time.Date(y, m, d, c.CloseHour, 0, 0, 0, t.Location())

		window := closeAt.Sub(t)
		if remaining <= window {
			return t.Add(remaining)
		}

		remaining -= window
		t = c.nextOpen(closeAt)
	}
}

// AddBusinessDays advances whole working days, skipping weekends and
// holidays.
func (c *StandardCalendar) AddBusinessDays(start time.Time, days int) time.Time {
	t := start

	for days > 0 {
		t = t.AddDate(0, 0, 1)
		if c.workingDay(t) {
			days--
		}
	}

	return t
}
