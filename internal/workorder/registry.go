package workorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/facilityops/backend/internal/models"
	"github.com/facilityops/backend/internal/sla"
	"github.com/facilityops/backend/internal/utils"
)

const (
	StateOpen       = "open"
	StateAssigned   = "assigned"
	StateInProgress = "in_progress"
	StateOnHold     = "on_hold"
	StateCompleted  = "completed"
	StateCancelled  = "cancelled"
)

const (
	TransitionAssign   = "assign"
	TransitionStart    = "start"
	TransitionHold     = "hold"
	TransitionResume   = "resume"
	TransitionComplete = "complete"
	TransitionCancel   = "cancel"
)

var (
	ErrNotFound = errors.New("work item not found")

	// ErrStaleState signals a lost optimistic check: the caller's view of the
	// item is outdated. Re-read and resubmit.
	ErrStaleState = errors.New("work item changed concurrently, re-read and retry")
)

// InvalidTransitionError reports a state transition not permitted from the
// item's current state.
type InvalidTransitionError struct {
	WorkItemID string
	From       string
	Transition string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("work item %s: transition %q not allowed from state %q", e.WorkItemID, e.Transition, e.From)
}

func Terminal(state string) bool {
	return state == StateCompleted || state == StateCancelled
}

// Store is the persistence needed by the registry; implemented by db.Store.
type Store interface {
	InsertWorkItem(ctx context.Context, it models.WorkItem) error
	UpdateWorkItem(ctx context.Context, it models.WorkItem) error
}

// Registry is the authoritative in-memory view of work items, backed by the
// store. Every mutation happens under a per-item lock and bumps the item
// version, so a concurrent priority change and an in-flight escalation
// evaluation cannot interleave into an inconsistent deadline/level pair.
type Registry struct {
	Store   Store
	Library *sla.Library
	Logger  zerolog.Logger

	mu    sync.RWMutex
	items map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	item models.WorkItem
}

func NewRegistry(store Store, lib *sla.Library, logger zerolog.Logger) *Registry {
	return &Registry{Store: store, Library: lib, Logger: logger, items: map[string]*entry{}}
}

// Create computes the deadline synchronously and persists the new item.
// Creation fails without a resolvable policy.
func (r *Registry) Create(ctx context.Context, priority, policyID string, createdAt time.Time) (models.WorkItem, error) {
	pol, ok := r.Library.Policy(policyID)
	if !ok {
		return models.WorkItem{}, fmt.Errorf("%w: %s", sla.ErrPolicyMissing, policyID)
	}
	deadline, err := sla.ComputeDeadline(createdAt, priority, pol, r.Library.CalendarFor(pol.CalendarID))
	if err != nil {
		return models.WorkItem{}, err
	}

	it := models.WorkItem{
		ID:        utils.NewID("wrk"),
		Priority:  priority,
		PolicyID:  policyID,
		CreatedAt: createdAt,
		Deadline:  deadline,
		State:     StateOpen,
		Version:   1,
		UpdatedAt: createdAt,
	}
	if err := r.Store.InsertWorkItem(ctx, it); err != nil {
		return models.WorkItem{}, err
	}

	r.mu.Lock()
	r.items[it.ID] = &entry{item: it}
	r.mu.Unlock()
	return it, nil
}

// Restore re-registers an item loaded from the store at startup.
func (r *Registry) Restore(it models.WorkItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[it.ID] = &entry{item: it}
}

func (r *Registry) Get(id string) (models.WorkItem, bool) {
	e, ok := r.lookup(id)
	if !ok {
		return models.WorkItem{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.item, true
}

// Snapshot copies every registered item; the escalation sweep iterates over
// it without holding registry locks.
func (r *Registry) Snapshot() []models.WorkItem {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.items))
	for _, e := range r.items {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]models.WorkItem, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.item)
		e.mu.Unlock()
	}
	return out
}

// ChangePriority recomputes the deadline from the original creation time.
// Escalation level and breach flag are untouched: escalation history is never
// invalidated by priority edits. A non-zero expectedVersion is an optimistic
// check; on mismatch the caller gets ErrStaleState and must re-read.
func (r *Registry) ChangePriority(ctx context.Context, id, priority string, expectedVersion int64) (models.WorkItem, error) {
	return r.Mutate(ctx, id, func(it *models.WorkItem) (bool, error) {
		if Terminal(it.State) {
			return false, &InvalidTransitionError{WorkItemID: id, From: it.State, Transition: "change_priority"}
		}
		if expectedVersion != 0 && expectedVersion != it.Version {
			return false, fmt.Errorf("%w: version %d, expected %d", ErrStaleState, it.Version, expectedVersion)
		}
		if it.Priority == priority {
			return false, nil
		}
		pol, ok := r.Library.Policy(it.PolicyID)
		if !ok {
			return false, fmt.Errorf("%w: %s", sla.ErrPolicyMissing, it.PolicyID)
		}
		deadline, err := sla.ComputeDeadline(it.CreatedAt, priority, pol, r.Library.CalendarFor(pol.CalendarID))
		if err != nil {
			return false, err
		}
		it.Priority = priority
		it.Deadline = deadline
		return true, nil
	})
}

// Advance applies one state machine transition:
// open -> assigned -> in_progress -> completed, any non-terminal state can
// hold (and resume back to where it was) or cancel.
func (r *Registry) Advance(ctx context.Context, id, transition string) (models.WorkItem, error) {
	return r.Mutate(ctx, id, func(it *models.WorkItem) (bool, error) {
		next, heldFrom, err := nextState(it, transition)
		if err != nil {
			return false, err
		}
		it.State = next
		it.HeldFrom = heldFrom
		return true, nil
	})
}

// Mutate runs fn on a copy of the item under its lock and persists the result
// when fn reports a change. The in-memory item is only replaced after the
// store accepted the update, so a failed write leaves both views unchanged
// and the next sweep retries from the same state.
func (r *Registry) Mutate(ctx context.Context, id string, fn func(it *models.WorkItem) (bool, error)) (models.WorkItem, error) {
	e, ok := r.lookup(id)
	if !ok {
		return models.WorkItem{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	updated := e.item
	changed, err := fn(&updated)
	if err != nil {
		return models.WorkItem{}, err
	}
	if !changed {
		return e.item, nil
	}
	updated.Version++
	updated.UpdatedAt = time.Now().UTC()
	if err := r.Store.UpdateWorkItem(ctx, updated); err != nil {
		return models.WorkItem{}, err
	}
	e.item = updated
	return updated, nil
}

func (r *Registry) lookup(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.items[id]
	return e, ok
}

func nextState(it *models.WorkItem, transition string) (state, heldFrom string, err error) {
	invalid := func() (string, string, error) {
		return "", "", &InvalidTransitionError{WorkItemID: it.ID, From: it.State, Transition: transition}
	}
	switch transition {
	case TransitionAssign:
		if it.State != StateOpen {
			return invalid()
		}
		return StateAssigned, "", nil
	case TransitionStart:
		if it.State != StateAssigned {
			return invalid()
		}
		return StateInProgress, "", nil
	case TransitionHold:
		if Terminal(it.State) || it.State == StateOnHold {
			return invalid()
		}
		return StateOnHold, it.State, nil
	case TransitionResume:
		if it.State != StateOnHold {
			return invalid()
		}
		prior := it.HeldFrom
		if prior == "" {
			prior = StateOpen
		}
		return prior, "", nil
	case TransitionComplete:
		if it.State != StateInProgress {
			return invalid()
		}
		return StateCompleted, "", nil
	case TransitionCancel:
		if Terminal(it.State) {
			return invalid()
		}
		return StateCancelled, "", nil
	default:
		return invalid()
	}
}
