package sla

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/facilityops/backend/internal/models"
)

const dateLayout = "2006-01-02"

// parseClock turns "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	return h*60 + m, nil
}

// location resolves the calendar's timezone. Timezones are validated at load
// time; an unresolvable one on a hand-built calendar falls back to UTC.
func location(cal models.BusinessCalendar) *time.Location {
	if cal.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(cal.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func isHoliday(cal models.BusinessCalendar, t time.Time) bool {
	day := t.Format(dateLayout)
	for _, h := range cal.Holidays {
		if h == day {
			return true
		}
	}
	return false
}

// workingWindow returns the working window of t's calendar day in the
// calendar's timezone, or ok=false on non-working days and holidays.
// Calendars are validated at load time, so clock parse failures here mean a
// hand-built calendar; treat as non-working.
func workingWindow(cal models.BusinessCalendar, t time.Time) (open, close time.Time, ok bool) {
	t = t.In(location(cal))
	if isHoliday(cal, t) {
		return time.Time{}, time.Time{}, false
	}
	for _, wh := range cal.Hours {
		if wh.Weekday != int(t.Weekday()) {
			continue
		}
		openMin, err := parseClock(wh.Start)
		if err != nil {
			return time.Time{}, time.Time{}, false
		}
		closeMin, err := parseClock(wh.End)
		if err != nil {
			return time.Time{}, time.Time{}, false
		}
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		return day.Add(time.Duration(openMin) * time.Minute), day.Add(time.Duration(closeMin) * time.Minute), true
	}
	return time.Time{}, time.Time{}, false
}

func nextDayOpen(cal models.BusinessCalendar, t time.Time) (time.Time, bool) {
	t = t.In(location(cal))
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	for i := 1; i <= 366; i++ {
		candidate := day.AddDate(0, 0, i)
		if open, _, ok := workingWindow(cal, candidate); ok {
			return open, true
		}
	}
	return time.Time{}, false
}

// AddWorkingDuration walks forward from start consuming only working time,
// so non-working hours and holidays do not count toward elapsed SLA time.
func AddWorkingDuration(cal models.BusinessCalendar, start time.Time, d time.Duration) time.Time {
	cur := start
	remaining := d
	for remaining > 0 {
		open, close, ok := workingWindow(cal, cur)
		if !ok || !cur.Before(close) {
			next, found := nextDayOpen(cal, cur)
			if !found {
				// Calendar with no working days at all; validated away at
				// load time, fall back to wall clock.
				return start.Add(d)
			}
			cur = next
			continue
		}
		if cur.Before(open) {
			cur = open
		}
		available := close.Sub(cur)
		if available >= remaining {
			return cur.Add(remaining)
		}
		remaining -= available
		next, found := nextDayOpen(cal, cur)
		if !found {
			return start.Add(d)
		}
		cur = next
	}
	return cur
}

// CoversInterval reports whether [start, end) falls entirely inside a single
// working window. Used to validate booking windows on hours-restricted
// resources; multi-day windows never qualify.
func CoversInterval(cal models.BusinessCalendar, start, end time.Time) bool {
	if !start.Before(end) {
		return false
	}
	open, close, ok := workingWindow(cal, start)
	if !ok {
		return false
	}
	return !start.Before(open) && !end.After(close)
}
