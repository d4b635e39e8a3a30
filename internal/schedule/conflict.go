package schedule

import "fmt"

const (
	ReasonCapacityExceeded = "CAPACITY_EXCEEDED"
)

// Decision is the outcome of conflict detection for one candidate interval.
type Decision struct {
	OK         bool
	ReasonCode string
	ReasonText string
}

func accept() Decision {
	return Decision{OK: true}
}

func reject(code, text string) Decision {
	return Decision{ReasonCode: code, ReasonText: text}
}

// Decide checks whether candidate can join the existing committed intervals
// without pushing concurrent occupancy above capacity. It is a pure function:
// callers are responsible for holding the resource lock so that existing is a
// consistent snapshot from Query.
//
// Occupancy within the candidate window only changes at interval boundaries,
// so checking each overlapping interval's start (clamped to the candidate
// start) covers every sub-interval.
func Decide(capacity int, existing []Interval, candidate Interval) Decision {
	if capacity < 1 {
		capacity = 1
	}

	overlapping := make([]Interval, 0, len(existing))
	for _, iv := range existing {
		if iv.Overlaps(candidate) {
			overlapping = append(overlapping, iv)
		}
	}
	if len(overlapping) == 0 {
		return accept()
	}
	if capacity == 1 {
		return reject(ReasonCapacityExceeded, fmt.Sprintf("interval %s is already booked", candidate))
	}

	points := []Interval{candidate}
	points = append(points, overlapping...)
	for _, p := range points {
		at := p.Start
		if at.Before(candidate.Start) {
			at = candidate.Start
		}
		if !candidate.Contains(at) {
			continue
		}
		count := 0
		for _, iv := range overlapping {
			if iv.Contains(at) {
				count++
			}
		}
		if count+1 > capacity {
			return reject(ReasonCapacityExceeded, fmt.Sprintf("capacity %d exhausted at %s", capacity, at.Format("2006-01-02T15:04:05Z07:00")))
		}
	}
	return accept()
}
