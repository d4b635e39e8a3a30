package schedule

import (
	"fmt"
	"strings"
)

const maxOccurrences = 52

const (
	FreqDaily   = "daily"
	FreqWeekly  = "weekly"
	FreqMonthly = "monthly"
)

// Recurrence describes a fixed-count repetition of a base interval.
type Recurrence struct {
	Freq  string `json:"freq"`
	Count int    `json:"count"`
}

// Expand materializes the discrete occurrence intervals of base under r,
// base included. Each occurrence is validated independently by the scheduler.
func (r Recurrence) Expand(base Interval) ([]Interval, error) {
	if r.Count < 1 || r.Count > maxOccurrences {
		return nil, fmt.Errorf("%w: recurrence count must be 1..%d", ErrInvalidWindow, maxOccurrences)
	}
	out := make([]Interval, 0, r.Count)
	cur := base
	for i := 0; i < r.Count; i++ {
		out = append(out, cur)
		switch strings.ToLower(r.Freq) {
		case FreqDaily:
			cur = Interval{Start: cur.Start.AddDate(0, 0, 1), End: cur.End.AddDate(0, 0, 1)}
		case FreqWeekly:
			cur = Interval{Start: cur.Start.AddDate(0, 0, 7), End: cur.End.AddDate(0, 0, 7)}
		case FreqMonthly:
			cur = Interval{Start: cur.Start.AddDate(0, 1, 0), End: cur.End.AddDate(0, 1, 0)}
		default:
			return nil, fmt.Errorf("%w: unknown recurrence freq %q", ErrInvalidWindow, r.Freq)
		}
	}
	return out, nil
}
