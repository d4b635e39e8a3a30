package sla

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/facilityops/backend/internal/models"
)

// Library holds the operator-maintained SLA policies and business calendars,
// loaded once at startup from a YAML seed file.
type Library struct {
	Policies  map[string]models.SLAPolicy
	Calendars map[string]models.BusinessCalendar
}

type yamlFile struct {
	Calendars []yamlCalendar `yaml:"calendars"`
	Policies  []yamlPolicy   `yaml:"policies"`
}

type yamlCalendar struct {
	ID       string      `yaml:"id"`
	Name     string      `yaml:"name"`
	Timezone string      `yaml:"timezone"`
	Hours    []yamlHours `yaml:"hours"`
	Holidays []string    `yaml:"holidays"`
}

type yamlHours struct {
	Weekday int    `yaml:"weekday"`
	Start   string `yaml:"start"`
	End     string `yaml:"end"`
}

type yamlPolicy struct {
	ID        string            `yaml:"id"`
	Name      string            `yaml:"name"`
	Calendar  string            `yaml:"calendar"`
	Durations map[string]string `yaml:"durations"`
	Rules     []yamlRule        `yaml:"rules"`
}

type yamlRule struct {
	Level      int     `yaml:"level"`
	Threshold  float64 `yaml:"threshold"`
	TargetRole string  `yaml:"target_role"`
}

// LoadLibrary reads and validates the policy seed file.
func LoadLibrary(path string) (*Library, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return ParseLibrary(raw)
}

func ParseLibrary(raw []byte) (*Library, error) {
	var f yamlFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}

	lib := &Library{
		Policies:  map[string]models.SLAPolicy{},
		Calendars: map[string]models.BusinessCalendar{},
	}

	for _, yc := range f.Calendars {
		cal, err := buildCalendar(yc)
		if err != nil {
			return nil, err
		}
		if _, dup := lib.Calendars[cal.ID]; dup {
			return nil, fmt.Errorf("calendar %s: duplicate id", cal.ID)
		}
		lib.Calendars[cal.ID] = cal
	}

	for _, yp := range f.Policies {
		pol, err := buildPolicy(yp)
		if err != nil {
			return nil, err
		}
		if pol.CalendarID != "" {
			if _, ok := lib.Calendars[pol.CalendarID]; !ok {
				return nil, fmt.Errorf("policy %s: unknown calendar %q", pol.ID, pol.CalendarID)
			}
		}
		if _, dup := lib.Policies[pol.ID]; dup {
			return nil, fmt.Errorf("policy %s: duplicate id", pol.ID)
		}
		lib.Policies[pol.ID] = pol
	}
	return lib, nil
}

// Policy resolves a policy id. The bool follows the comma-ok convention.
func (l *Library) Policy(id string) (models.SLAPolicy, bool) {
	p, ok := l.Policies[id]
	return p, ok
}

// CalendarFor resolves the business calendar referenced by id, nil when the
// reference is empty.
func (l *Library) CalendarFor(id string) *models.BusinessCalendar {
	if id == "" {
		return nil
	}
	if cal, ok := l.Calendars[id]; ok {
		return &cal
	}
	return nil
}

func buildCalendar(yc yamlCalendar) (models.BusinessCalendar, error) {
	if yc.ID == "" {
		return models.BusinessCalendar{}, fmt.Errorf("calendar without id")
	}
	if len(yc.Hours) == 0 {
		return models.BusinessCalendar{}, fmt.Errorf("calendar %s: no working hours", yc.ID)
	}
	if yc.Timezone != "" {
		if _, err := time.LoadLocation(yc.Timezone); err != nil {
			return models.BusinessCalendar{}, fmt.Errorf("calendar %s: unknown timezone %q", yc.ID, yc.Timezone)
		}
	}
	cal := models.BusinessCalendar{ID: yc.ID, Name: yc.Name, Timezone: yc.Timezone, Holidays: yc.Holidays}
	seen := map[int]bool{}
	for _, h := range yc.Hours {
		if h.Weekday < 0 || h.Weekday > 6 {
			return models.BusinessCalendar{}, fmt.Errorf("calendar %s: weekday %d out of range", yc.ID, h.Weekday)
		}
		if seen[h.Weekday] {
			return models.BusinessCalendar{}, fmt.Errorf("calendar %s: duplicate weekday %d", yc.ID, h.Weekday)
		}
		seen[h.Weekday] = true
		open, err := parseClock(h.Start)
		if err != nil {
			return models.BusinessCalendar{}, fmt.Errorf("calendar %s: %v", yc.ID, err)
		}
		close, err := parseClock(h.End)
		if err != nil {
			return models.BusinessCalendar{}, fmt.Errorf("calendar %s: %v", yc.ID, err)
		}
		if open >= close {
			return models.BusinessCalendar{}, fmt.Errorf("calendar %s: weekday %d start must precede end", yc.ID, h.Weekday)
		}
		cal.Hours = append(cal.Hours, models.WorkingHours{Weekday: h.Weekday, Start: h.Start, End: h.End})
	}
	for _, d := range yc.Holidays {
		if _, err := time.Parse(dateLayout, d); err != nil {
			return models.BusinessCalendar{}, fmt.Errorf("calendar %s: invalid holiday %q", yc.ID, d)
		}
	}
	return cal, nil
}

func buildPolicy(yp yamlPolicy) (models.SLAPolicy, error) {
	if yp.ID == "" {
		return models.SLAPolicy{}, fmt.Errorf("policy without id")
	}
	if len(yp.Durations) == 0 {
		return models.SLAPolicy{}, fmt.Errorf("policy %s: no priority durations", yp.ID)
	}
	pol := models.SLAPolicy{
		ID:         yp.ID,
		Name:       yp.Name,
		CalendarID: yp.Calendar,
		Durations:  map[string]time.Duration{},
	}
	for prio, ds := range yp.Durations {
		d, err := time.ParseDuration(ds)
		if err != nil || d <= 0 {
			return models.SLAPolicy{}, fmt.Errorf("policy %s: invalid duration %q for priority %s", yp.ID, ds, prio)
		}
		pol.Durations[prio] = d
	}

	lastLevel, lastThreshold := 0, 0.0
	for _, r := range yp.Rules {
		if r.Level <= lastLevel {
			return models.SLAPolicy{}, fmt.Errorf("policy %s: rule levels must be strictly increasing", yp.ID)
		}
		if r.Threshold <= lastThreshold || r.Threshold > 1 {
			return models.SLAPolicy{}, fmt.Errorf("policy %s: rule thresholds must be strictly increasing within (0, 1]", yp.ID)
		}
		if r.TargetRole == "" {
			return models.SLAPolicy{}, fmt.Errorf("policy %s: rule level %d missing target role", yp.ID, r.Level)
		}
		lastLevel, lastThreshold = r.Level, r.Threshold
		pol.Rules = append(pol.Rules, models.EscalationRule{Level: r.Level, Threshold: r.Threshold, TargetRole: r.TargetRole})
	}
	return pol, nil
}
