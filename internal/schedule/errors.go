package schedule

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidWindow marks malformed intervals or intervals outside a
	// resource's bookable hours. Never retried automatically.
	ErrInvalidWindow = errors.New("invalid booking window")

	// ErrStaleState marks a commit attempt that lost an optimistic race.
	// Callers re-query and resubmit.
	ErrStaleState = errors.New("stale state, re-query and retry")

	ErrResourceNotFound = errors.New("resource not found")
	ErrBookingNotFound  = errors.New("booking not found")
)

// ConflictError reports a rejected booking candidate. Recoverable: the caller
// should pick another interval.
type ConflictError struct {
	ResourceID string
	Candidate  Interval
	ReasonCode string
	ReasonText string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("booking conflict on %s: %s", e.ResourceID, e.ReasonText)
}
