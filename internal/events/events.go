package events

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/facilityops/backend/internal/models"
)

type BookingConfirmed struct {
	Booking models.Booking `json:"booking"`
}

type BookingConflict struct {
	ResourceID string    `json:"resource_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	ReasonCode string    `json:"reason_code"`
	ReasonText string    `json:"reason_text"`
}

type Escalated struct {
	WorkItemID string `json:"work_item_id"`
	Level      int    `json:"level"`
	TargetRole string `json:"target_role"`
}

type SLABreached struct {
	WorkItemID string `json:"work_item_id"`
}

// Notifier is the outbound collaborator for scheduling and escalation
// events. Delivery mechanics (mail, chat, webhooks) live behind it; dispatch
// errors are the caller's to log and the collaborator's to retry.
type Notifier interface {
	BookingConfirmed(ctx context.Context, ev BookingConfirmed) error
	BookingConflict(ctx context.Context, ev BookingConflict) error
	Escalated(ctx context.Context, ev Escalated) error
	SLABreached(ctx context.Context, ev SLABreached) error
}

// Auditor records escalation transitions in the append-only log.
type Auditor interface {
	AppendEscalation(ctx context.Context, entry models.EscalationEntry) error
}

// LogNotifier writes every event to the structured log. It stands in for the
// real notification collaborator in development and tests.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n LogNotifier) BookingConfirmed(_ context.Context, ev BookingConfirmed) error {
	n.Logger.Info().
		Str("event", "booking_confirmed").
		Str("booking_id", ev.Booking.ID).
		Str("resource_id", ev.Booking.ResourceID).
		Time("start", ev.Booking.Start).
		Time("end", ev.Booking.End).
		Msg("booking confirmed")
	return nil
}

func (n LogNotifier) BookingConflict(_ context.Context, ev BookingConflict) error {
	n.Logger.Info().
		Str("event", "booking_conflict").
		Str("resource_id", ev.ResourceID).
		Time("start", ev.Start).
		Time("end", ev.End).
		Str("reason_code", ev.ReasonCode).
		Msg("booking conflict")
	return nil
}

func (n LogNotifier) Escalated(_ context.Context, ev Escalated) error {
	n.Logger.Warn().
		Str("event", "escalated").
		Str("work_item_id", ev.WorkItemID).
		Int("level", ev.Level).
		Str("target_role", ev.TargetRole).
		Msg("work item escalated")
	return nil
}

func (n LogNotifier) SLABreached(_ context.Context, ev SLABreached) error {
	n.Logger.Error().
		Str("event", "sla_breached").
		Str("work_item_id", ev.WorkItemID).
		Msg("sla breached")
	return nil
}
