package escalate

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/facilityops/backend/internal/events"
	"github.com/facilityops/backend/internal/models"
	"github.com/facilityops/backend/internal/sla"
	"github.com/facilityops/backend/internal/utils"
	"github.com/facilityops/backend/internal/workorder"
)

const (
	EntryEscalated = "escalated"
	EntryBreached  = "breached"
)

// Engine advances escalation levels as a function of elapsed SLA time. It
// owns no schedule of its own: an external driver calls Tick with the
// evaluation instant, which keeps sweeps deterministic under synthetic time.
type Engine struct {
	Registry *workorder.Registry
	Library  *sla.Library
	Notifier events.Notifier
	Auditor  events.Auditor
	Logger   zerolog.Logger
}

// TickSummary reports one sweep.
type TickSummary struct {
	At          time.Time `json:"at"`
	Evaluated   int       `json:"evaluated"`
	Escalations int       `json:"escalations"`
	Breaches    int       `json:"breaches"`
	Failures    int       `json:"failures"`
}

type outcome struct {
	escalated *events.Escalated
	breached  *events.SLABreached
	fraction  float64
}

// Tick sweeps every non-terminal work item once. The sweep is idempotent: the
// level advance is guarded by "highest rule not yet reached" and the breach
// emission by a dedicated flag, so re-running at an unchanged now performs no
// additional transitions. Failures on one item never abort the sweep for the
// others.
func (e *Engine) Tick(ctx context.Context, now time.Time) TickSummary {
	summary := TickSummary{At: now}
	for _, it := range e.Registry.Snapshot() {
		if workorder.Terminal(it.State) {
			continue
		}
		summary.Evaluated++

		out, err := e.evaluate(ctx, it.ID, now)
		if err != nil {
			summary.Failures++
			e.Logger.Error().Err(err).Str("work_item_id", it.ID).Msg("escalation evaluation failed")
			continue
		}
		if out.escalated != nil {
			summary.Escalations++
			e.dispatchEscalated(ctx, *out.escalated, out.fraction)
		}
		if out.breached != nil {
			summary.Breaches++
			e.dispatchBreached(ctx, *out.breached, out.fraction)
		}
	}
	e.Logger.Info().
		Time("now", now).
		Int("evaluated", summary.Evaluated).
		Int("escalations", summary.Escalations).
		Int("breaches", summary.Breaches).
		Int("failures", summary.Failures).
		Msg("escalation sweep")
	return summary
}

// evaluate advances one item under its lock. The level/flag change is
// committed to the registry and store before any dispatch, so a failed
// notification is retried by the collaborator without re-advancing the level.
func (e *Engine) evaluate(ctx context.Context, id string, now time.Time) (outcome, error) {
	var out outcome
	_, err := e.Registry.Mutate(ctx, id, func(it *models.WorkItem) (bool, error) {
		out = outcome{}
		if workorder.Terminal(it.State) {
			return false, nil
		}
		pol, ok := e.Library.Policy(it.PolicyID)
		if !ok {
			return false, fmt.Errorf("%w: %s", sla.ErrPolicyMissing, it.PolicyID)
		}

		out.fraction = sla.ElapsedFraction(it.CreatedAt, it.Deadline, now)
		changed := false

		if rule, ok := nextRule(pol.Rules, out.fraction, it.EscalationLevel); ok {
			it.EscalationLevel = rule.Level
			out.escalated = &events.Escalated{WorkItemID: it.ID, Level: rule.Level, TargetRole: rule.TargetRole}
			changed = true
		}
		if out.fraction >= 1 && !it.Breached {
			it.Breached = true
			out.breached = &events.SLABreached{WorkItemID: it.ID}
			changed = true
		}
		return changed, nil
	})
	if err != nil {
		return outcome{}, err
	}
	return out, nil
}

func (e *Engine) dispatchEscalated(ctx context.Context, ev events.Escalated, fraction float64) {
	entry := models.EscalationEntry{
		ID:         utils.NewID("esc"),
		WorkItemID: ev.WorkItemID,
		Kind:       EntryEscalated,
		Level:      ev.Level,
		TargetRole: ev.TargetRole,
		Fraction:   fraction,
		Reason:     fmt.Sprintf("elapsed fraction %.2f crossed level %d threshold", fraction, ev.Level),
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.Auditor.AppendEscalation(ctx, entry); err != nil {
		e.Logger.Error().Err(err).Str("work_item_id", ev.WorkItemID).Msg("escalation audit append failed")
	}
	if err := e.Notifier.Escalated(ctx, ev); err != nil {
		e.Logger.Error().Err(err).Str("work_item_id", ev.WorkItemID).Int("level", ev.Level).Msg("escalation dispatch failed")
	}
}

func (e *Engine) dispatchBreached(ctx context.Context, ev events.SLABreached, fraction float64) {
	entry := models.EscalationEntry{
		ID:         utils.NewID("esc"),
		WorkItemID: ev.WorkItemID,
		Kind:       EntryBreached,
		Fraction:   fraction,
		Reason:     "sla deadline passed",
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.Auditor.AppendEscalation(ctx, entry); err != nil {
		e.Logger.Error().Err(err).Str("work_item_id", ev.WorkItemID).Msg("breach audit append failed")
	}
	if err := e.Notifier.SLABreached(ctx, ev); err != nil {
		e.Logger.Error().Err(err).Str("work_item_id", ev.WorkItemID).Msg("breach dispatch failed")
	}
}

// nextRule picks the highest rule whose threshold is covered by fraction and
// whose level is above the current one. Rules are validated to be ordered by
// level with strictly increasing thresholds.
func nextRule(rules []models.EscalationRule, fraction float64, currentLevel int) (models.EscalationRule, bool) {
	var picked models.EscalationRule
	found := false
	for _, r := range rules {
		if r.Threshold <= fraction && r.Level > currentLevel {
			picked = r
			found = true
		}
	}
	return picked, found
}
