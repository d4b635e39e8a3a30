package schedule

import (
	"sort"
	"sync"
	"time"
)

// Token identifies a committed interval inside a Calendar so that a
// cancellation can release exactly the interval it confirmed.
type Token int64

type slot struct {
	token Token
	iv    Interval
}

// Calendar is the authoritative in-memory record of committed intervals per
// resource. Each resource keeps its slots sorted by start time so overlap
// queries can binary-search to the first candidate instead of scanning.
type Calendar struct {
	mu    sync.RWMutex
	next  Token
	byRes map[string][]slot
}

func NewCalendar() *Calendar {
	return &Calendar{byRes: map[string][]slot{}}
}

// Query returns the committed intervals overlapping window, ordered by start.
func (c *Calendar) Query(resourceID string, window Interval) []Interval {
	c.mu.RLock()
	defer c.mu.RUnlock()

	slots := c.byRes[resourceID]
	var out []Interval
	for _, s := range seekOverlapping(slots, window) {
		out = append(out, s.iv)
	}
	return out
}

// Insert commits an interval and returns the token that releases it. It does
// not check for conflicts; callers decide first via Decide under the
// per-resource lock held by the scheduler.
func (c *Calendar) Insert(resourceID string, iv Interval) Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.next++
	t := c.next
	slots := c.byRes[resourceID]
	idx := sort.Search(len(slots), func(i int) bool {
		return !slots[i].iv.Start.Before(iv.Start)
	})
	slots = append(slots, slot{})
	copy(slots[idx+1:], slots[idx:])
	slots[idx] = slot{token: t, iv: iv}
	c.byRes[resourceID] = slots
	return t
}

// Remove releases the interval committed under token. Removing an unknown
// token is a no-op.
func (c *Calendar) Remove(resourceID string, token Token) {
	c.mu.Lock()
	defer c.mu.Unlock()

	slots := c.byRes[resourceID]
	for i, s := range slots {
		if s.token == token {
			c.byRes[resourceID] = append(slots[:i], slots[i+1:]...)
			return
		}
	}
}

// FreeWithin returns the sub-intervals of window where fewer than capacity
// intervals are committed, ordered and non-adjacent.
func (c *Calendar) FreeWithin(resourceID string, window Interval, capacity int) []Interval {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !window.Valid() || capacity < 1 {
		return nil
	}

	overlapping := seekOverlapping(c.byRes[resourceID], window)
	if len(overlapping) == 0 {
		return []Interval{window}
	}

	// Sweep the clipped boundary points, tracking concurrent occupancy.
	type boundary struct {
		at    int64
		delta int
	}
	var bounds []boundary
	for _, s := range overlapping {
		start, end := s.iv.Start, s.iv.End
		if start.Before(window.Start) {
			start = window.Start
		}
		if end.After(window.End) {
			end = window.End
		}
		bounds = append(bounds, boundary{start.UnixNano(), +1}, boundary{end.UnixNano(), -1})
	}
	sort.Slice(bounds, func(i, j int) bool {
		if bounds[i].at == bounds[j].at {
			return bounds[i].delta < bounds[j].delta
		}
		return bounds[i].at < bounds[j].at
	})

	var out []Interval
	count := 0
	cursor := window.Start
	for _, b := range bounds {
		at := unixTime(b.at)
		if count < capacity && cursor.Before(at) {
			out = appendFree(out, Interval{Start: cursor, End: at})
		}
		count += b.delta
		if at.After(cursor) {
			cursor = at
		}
	}
	if cursor.Before(window.End) {
		out = appendFree(out, Interval{Start: cursor, End: window.End})
	}
	return out
}

func unixTime(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

func appendFree(out []Interval, iv Interval) []Interval {
	if n := len(out); n > 0 && out[n-1].End.Equal(iv.Start) {
		out[n-1].End = iv.End
		return out
	}
	return append(out, iv)
}

func seekOverlapping(slots []slot, window Interval) []slot {
	var out []slot
	// First slot that could still overlap: all earlier ones end before or at
	// window.Start only if their ends are sorted too, which is not guaranteed,
	// so seek on start and scan left-bounded.
	idx := sort.Search(len(slots), func(i int) bool {
		return !slots[i].iv.Start.Before(window.Start)
	})
	for i := idx; i < len(slots); i++ {
		if !slots[i].iv.Start.Before(window.End) {
			break
		}
		out = append(out, slots[i])
	}
	for i := idx - 1; i >= 0; i-- {
		if slots[i].iv.End.After(window.Start) {
			out = append([]slot{slots[i]}, out...)
		}
	}
	return out
}
