package sla

import (
	"errors"
	"fmt"
	"time"

	"github.com/facilityops/backend/internal/models"
)

var (
	// ErrPolicyMissing is fatal for the specific work item creation that hit
	// it; a work item must not exist without a resolvable policy.
	ErrPolicyMissing = errors.New("sla policy not found")

	ErrUnknownPriority = errors.New("priority not covered by sla policy")
)

// ComputeDeadline derives the deadline for a work item created at createdAt
// with the given priority. With a business calendar attached to the policy,
// only working time counts toward the SLA duration.
func ComputeDeadline(createdAt time.Time, priority string, policy models.SLAPolicy, cal *models.BusinessCalendar) (time.Time, error) {
	d, ok := policy.Durations[priority]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %q in policy %s", ErrUnknownPriority, priority, policy.ID)
	}
	if cal == nil {
		return createdAt.Add(d), nil
	}
	return AddWorkingDuration(*cal, createdAt, d), nil
}

// ElapsedFraction is (now - createdAt) / (deadline - createdAt), clamped to
// [0, +inf). 1.0 means the deadline is reached; values above 1.0 measure how
// far past it the item is.
func ElapsedFraction(createdAt, deadline, now time.Time) float64 {
	total := deadline.Sub(createdAt)
	if total <= 0 {
		return 1
	}
	elapsed := now.Sub(createdAt)
	if elapsed < 0 {
		return 0
	}
	return float64(elapsed) / float64(total)
}
