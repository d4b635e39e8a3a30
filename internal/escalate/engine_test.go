package escalate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/facilityops/backend/internal/events"
	"github.com/facilityops/backend/internal/models"
	"github.com/facilityops/backend/internal/sla"
	"github.com/facilityops/backend/internal/workorder"
)

type memStore struct{}

func (memStore) InsertWorkItem(context.Context, models.WorkItem) error { return nil }
func (memStore) UpdateWorkItem(context.Context, models.WorkItem) error { return nil }

type recordingNotifier struct {
	mu        sync.Mutex
	escalated []events.Escalated
	breached  []events.SLABreached
	fail      error
}

func (n *recordingNotifier) BookingConfirmed(context.Context, events.BookingConfirmed) error {
	return nil
}

func (n *recordingNotifier) BookingConflict(context.Context, events.BookingConflict) error {
	return nil
}

func (n *recordingNotifier) Escalated(_ context.Context, ev events.Escalated) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.escalated = append(n.escalated, ev)
	return nil
}

func (n *recordingNotifier) SLABreached(_ context.Context, ev events.SLABreached) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.breached = append(n.breached, ev)
	return nil
}

type recordingAuditor struct {
	mu      sync.Mutex
	entries []models.EscalationEntry
	fail    error
}

func (a *recordingAuditor) AppendEscalation(_ context.Context, entry models.EscalationEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail != nil {
		return a.fail
	}
	a.entries = append(a.entries, entry)
	return nil
}

func testLibrary() *sla.Library {
	return &sla.Library{
		Policies: map[string]models.SLAPolicy{
			"pol-1": {
				ID: "pol-1",
				Durations: map[string]time.Duration{
					"high": 4 * time.Hour,
				},
				Rules: []models.EscalationRule{
					{Level: 1, Threshold: 0.5, TargetRole: "supervisor"},
					{Level: 2, Threshold: 0.75, TargetRole: "manager"},
				},
			},
		},
		Calendars: map[string]models.BusinessCalendar{},
	}
}

func createdAt() time.Time {
	return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
}

func newTestEngine(t *testing.T) (*Engine, *workorder.Registry, *recordingNotifier, *recordingAuditor) {
	t.Helper()
	lib := testLibrary()
	registry := workorder.NewRegistry(memStore{}, lib, zerolog.Nop())
	notifier := &recordingNotifier{}
	auditor := &recordingAuditor{}
	engine := &Engine{
		Registry: registry,
		Library:  lib,
		Notifier: notifier,
		Auditor:  auditor,
		Logger:   zerolog.Nop(),
	}
	return engine, registry, notifier, auditor
}

func TestTickAdvancesToHighestReachedLevel(t *testing.T) {
	engine, registry, notifier, auditor := newTestEngine(t)
	ctx := context.Background()

	// Created 09:00, deadline 13:00.
	it, err := registry.Create(ctx, "high", "pol-1", createdAt())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// 12:00 is 75% of the window: both rules are reached, only the highest fires.
	summary := engine.Tick(ctx, createdAt().Add(3*time.Hour))
	if summary.Evaluated != 1 || summary.Escalations != 1 || summary.Breaches != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	got, _ := registry.Get(it.ID)
	if got.EscalationLevel != 2 {
		t.Fatalf("level = %d, want 2", got.EscalationLevel)
	}
	if len(notifier.escalated) != 1 || notifier.escalated[0].Level != 2 || notifier.escalated[0].TargetRole != "manager" {
		t.Fatalf("unexpected escalation events: %+v", notifier.escalated)
	}
	if len(auditor.entries) != 1 || auditor.entries[0].Kind != EntryEscalated {
		t.Fatalf("unexpected audit entries: %+v", auditor.entries)
	}
}

func TestTickIsIdempotent(t *testing.T) {
	engine, registry, notifier, _ := newTestEngine(t)
	ctx := context.Background()
	it, _ := registry.Create(ctx, "high", "pol-1", createdAt())

	engine.Tick(ctx, createdAt().Add(3*time.Hour))
	summary := engine.Tick(ctx, createdAt().Add(3*time.Hour+5*time.Minute))
	if summary.Escalations != 0 || summary.Breaches != 0 {
		t.Fatalf("second sweep must not re-escalate: %+v", summary)
	}

	got, _ := registry.Get(it.ID)
	if got.EscalationLevel != 2 || len(notifier.escalated) != 1 {
		t.Fatalf("level advanced twice: level=%d events=%d", got.EscalationLevel, len(notifier.escalated))
	}
}

func TestTickEmitsBreachExactlyOnce(t *testing.T) {
	engine, registry, notifier, auditor := newTestEngine(t)
	ctx := context.Background()
	it, _ := registry.Create(ctx, "high", "pol-1", createdAt())

	summary := engine.Tick(ctx, createdAt().Add(5*time.Hour))
	if summary.Escalations != 1 || summary.Breaches != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	summary = engine.Tick(ctx, createdAt().Add(6*time.Hour))
	if summary.Breaches != 0 {
		t.Fatalf("breach must fire once, got %+v", summary)
	}

	got, _ := registry.Get(it.ID)
	if !got.Breached {
		t.Fatalf("breach flag not set")
	}
	if len(notifier.breached) != 1 {
		t.Fatalf("expected 1 breach event, got %d", len(notifier.breached))
	}

	kinds := map[string]int{}
	for _, e := range auditor.entries {
		kinds[e.Kind]++
	}
	if kinds[EntryBreached] != 1 || kinds[EntryEscalated] != 1 {
		t.Fatalf("unexpected audit log: %+v", auditor.entries)
	}
}

func TestTickSkipsTerminalItems(t *testing.T) {
	engine, registry, _, _ := newTestEngine(t)
	ctx := context.Background()
	it, _ := registry.Create(ctx, "high", "pol-1", createdAt())
	if _, err := registry.Advance(ctx, it.ID, workorder.TransitionCancel); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	summary := engine.Tick(ctx, createdAt().Add(5*time.Hour))
	if summary.Evaluated != 0 || summary.Escalations != 0 || summary.Breaches != 0 {
		t.Fatalf("terminal item must be skipped: %+v", summary)
	}
}

func TestTickIsolatesPerItemFailures(t *testing.T) {
	engine, registry, notifier, _ := newTestEngine(t)
	ctx := context.Background()

	registry.Restore(models.WorkItem{
		ID:        "wrk-broken",
		Priority:  "high",
		PolicyID:  "pol-gone",
		CreatedAt: createdAt(),
		Deadline:  createdAt().Add(4 * time.Hour),
		State:     workorder.StateOpen,
		Version:   1,
	})
	healthy, err := registry.Create(ctx, "high", "pol-1", createdAt())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	summary := engine.Tick(ctx, createdAt().Add(3*time.Hour))
	if summary.Failures != 1 {
		t.Fatalf("expected 1 failure, got %+v", summary)
	}
	if summary.Escalations != 1 {
		t.Fatalf("healthy item must still escalate: %+v", summary)
	}

	got, _ := registry.Get(healthy.ID)
	if got.EscalationLevel != 2 || len(notifier.escalated) != 1 {
		t.Fatalf("healthy item not escalated: %+v", got)
	}
}

func TestDispatchFailureDoesNotBlockLevelCommit(t *testing.T) {
	engine, registry, notifier, auditor := newTestEngine(t)
	ctx := context.Background()
	it, _ := registry.Create(ctx, "high", "pol-1", createdAt())

	notifier.fail = errors.New("webhook down")
	auditor.fail = errors.New("log down")

	summary := engine.Tick(ctx, createdAt().Add(3*time.Hour))
	if summary.Escalations != 1 || summary.Failures != 0 {
		t.Fatalf("dispatch failures must not count as sweep failures: %+v", summary)
	}

	got, _ := registry.Get(it.ID)
	if got.EscalationLevel != 2 {
		t.Fatalf("level must be committed before dispatch, got %d", got.EscalationLevel)
	}

	// The level does not re-advance once notifications recover.
	notifier.fail = nil
	auditor.fail = nil
	summary = engine.Tick(ctx, createdAt().Add(3*time.Hour+time.Minute))
	if summary.Escalations != 0 {
		t.Fatalf("recovered dispatch must not re-escalate: %+v", summary)
	}
}
