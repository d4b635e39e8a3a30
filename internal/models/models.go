package models

import "time"

type Resource struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Kind       string    `json:"kind"`
	Capacity   int       `json:"capacity"`
	CalendarID string    `json:"calendar_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type Booking struct {
	ID          string     `json:"id"`
	ResourceID  string     `json:"resource_id"`
	Start       time.Time  `json:"start"`
	End         time.Time  `json:"end"`
	Requester   string     `json:"requester"`
	Kind        string     `json:"kind,omitempty"`
	Headcount   int        `json:"headcount,omitempty"`
	Status      string     `json:"status"`
	SeriesID    string     `json:"series_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

type WorkItem struct {
	ID              string    `json:"id"`
	Priority        string    `json:"priority"`
	PolicyID        string    `json:"policy_id"`
	CreatedAt       time.Time `json:"created_at"`
	Deadline        time.Time `json:"deadline"`
	State           string    `json:"state"`
	EscalationLevel int       `json:"escalation_level"`
	Breached        bool      `json:"breached"`
	HeldFrom        string    `json:"held_from,omitempty"`
	Version         int64     `json:"version"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// SLAPolicy maps work item priorities to response durations and carries the
// escalation chain evaluated against elapsed SLA time.
type SLAPolicy struct {
	ID         string                   `json:"id"`
	Name       string                   `json:"name"`
	CalendarID string                   `json:"calendar_id,omitempty"`
	Durations  map[string]time.Duration `json:"durations"`
	Rules      []EscalationRule         `json:"rules"`
}

type EscalationRule struct {
	Level      int     `json:"level"`
	Threshold  float64 `json:"threshold"`
	TargetRole string  `json:"target_role"`
}

// BusinessCalendar defines working hours per weekday plus holiday dates.
// Clock values are "HH:MM"; holidays are "YYYY-MM-DD".
type BusinessCalendar struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Timezone string         `json:"timezone,omitempty"`
	Hours    []WorkingHours `json:"hours"`
	Holidays []string       `json:"holidays,omitempty"`
}

type WorkingHours struct {
	Weekday int    `json:"weekday"` // 0=Sunday .. 6=Saturday
	Start   string `json:"start"`
	End     string `json:"end"`
}

// EscalationEntry is one append-only audit row for an escalation or breach.
type EscalationEntry struct {
	ID         string    `json:"id"`
	WorkItemID string    `json:"work_item_id"`
	Kind       string    `json:"kind"`
	Level      int       `json:"level"`
	TargetRole string    `json:"target_role,omitempty"`
	Fraction   float64   `json:"fraction"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}
