package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/facilityops/backend/internal/events"
	"github.com/facilityops/backend/internal/models"
	"github.com/facilityops/backend/internal/sla"
	"github.com/facilityops/backend/internal/utils"
)

const (
	StatusDraft     = "draft"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

// BookingStore is the persistence needed by the scheduler. Implemented by
// db.Store; tests substitute lightweight fakes.
type BookingStore interface {
	InsertBooking(ctx context.Context, b models.Booking) error
	MarkBookingCancelled(ctx context.Context, id string, at time.Time) error
}

type BookingRequest struct {
	ResourceID string
	Window     Interval
	Requester  string
	Kind       string
	Headcount  int
}

type RejectedOccurrence struct {
	Window     Interval `json:"window"`
	ReasonCode string   `json:"reason_code"`
	ReasonText string   `json:"reason_text"`
}

type SeriesResult struct {
	SeriesID  string               `json:"series_id"`
	Confirmed []models.Booking     `json:"confirmed"`
	Rejected  []RejectedOccurrence `json:"rejected"`
}

// Scheduler validates booking candidates against the resource calendar and
// commits them atomically. Query, decide and insert happen under one
// per-resource lock, so commits are serialized per resource and two
// concurrent requests can never both claim the last capacity unit. Requests
// for different resources do not contend.
type Scheduler struct {
	Store    BookingStore
	Notifier events.Notifier
	Library  *sla.Library
	Logger   zerolog.Logger

	cal *Calendar

	mu        sync.Mutex
	resources map[string]models.Resource
	locks     map[string]*sync.Mutex
	bookings  map[string]*bookingRef
}

type bookingRef struct {
	booking models.Booking
	token   Token
}

func NewScheduler(store BookingStore, notifier events.Notifier, lib *sla.Library, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		Store:     store,
		Notifier:  notifier,
		Library:   lib,
		Logger:    logger,
		cal:       NewCalendar(),
		resources: map[string]models.Resource{},
		locks:     map[string]*sync.Mutex{},
		bookings:  map[string]*bookingRef{},
	}
}

func (s *Scheduler) AddResource(res models.Resource) error {
	if res.ID == "" {
		return fmt.Errorf("resource without id")
	}
	if res.Capacity < 1 {
		return fmt.Errorf("resource %s: capacity must be >= 1", res.ID)
	}
	if res.CalendarID != "" && s.Library.CalendarFor(res.CalendarID) == nil {
		return fmt.Errorf("resource %s: unknown calendar %q", res.ID, res.CalendarID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[res.ID] = res
	return nil
}

func (s *Scheduler) Resource(id string) (models.Resource, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.resources[id]
	return res, ok
}

func (s *Scheduler) Resources() []models.Resource {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Resource, 0, len(s.resources))
	for _, r := range s.resources {
		out = append(out, r)
	}
	return out
}

// Restore re-registers a confirmed booking loaded from the store at startup.
func (s *Scheduler) Restore(b models.Booking) error {
	if b.Status != StatusConfirmed {
		return fmt.Errorf("restore: booking %s is %s, want confirmed", b.ID, b.Status)
	}
	if _, ok := s.Resource(b.ResourceID); !ok {
		return fmt.Errorf("restore: booking %s references unknown resource %s", b.ID, b.ResourceID)
	}
	token := s.cal.Insert(b.ResourceID, Interval{Start: b.Start, End: b.End})
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[b.ID] = &bookingRef{booking: b, token: token}
	return nil
}

// RequestBooking validates and commits one booking. The returned booking is
// confirmed; every failure path leaves the calendar untouched.
func (s *Scheduler) RequestBooking(ctx context.Context, req BookingRequest) (models.Booking, error) {
	res, err := s.validateRequest(req)
	if err != nil {
		return models.Booking{}, err
	}

	lock := s.lockFor(req.ResourceID)
	lock.Lock()
	defer lock.Unlock()

	b, rej, err := s.commitOne(ctx, res, req, "")
	if err != nil {
		return models.Booking{}, err
	}
	if rej != nil {
		return models.Booking{}, s.conflictOf(ctx, req.ResourceID, *rej)
	}
	return b, nil
}

// RequestSeries expands a recurrence and validates each occurrence
// independently: one conflicting occurrence does not block the others unless
// allOrNothing is set, in which case nothing commits.
func (s *Scheduler) RequestSeries(ctx context.Context, req BookingRequest, rec Recurrence, allOrNothing bool) (SeriesResult, error) {
	res, err := s.validateRequest(req)
	if err != nil {
		return SeriesResult{}, err
	}
	occurrences, err := rec.Expand(req.Window)
	if err != nil {
		return SeriesResult{}, err
	}
	for _, occ := range occurrences {
		if err := s.checkWindow(res, occ); err != nil {
			return SeriesResult{}, err
		}
	}

	lock := s.lockFor(req.ResourceID)
	lock.Lock()
	defer lock.Unlock()

	if allOrNothing {
		accepted := make([]Interval, 0, len(occurrences))
		for _, occ := range occurrences {
			existing := s.cal.Query(req.ResourceID, occ)
			existing = append(existing, overlappingOf(accepted, occ)...)
			if dec := Decide(res.Capacity, existing, occ); !dec.OK {
				rej := RejectedOccurrence{Window: occ, ReasonCode: dec.ReasonCode, ReasonText: dec.ReasonText}
				return SeriesResult{}, s.conflictOf(ctx, req.ResourceID, rej)
			}
			accepted = append(accepted, occ)
		}
	}

	result := SeriesResult{SeriesID: utils.NewID("ser")}
	for _, occ := range occurrences {
		occReq := req
		occReq.Window = occ
		b, rej, err := s.commitOne(ctx, res, occReq, result.SeriesID)
		if err != nil {
			s.Logger.Error().Err(err).Str("resource_id", req.ResourceID).Msg("series occurrence commit failed")
			if allOrNothing {
				s.unwindSeries(ctx, result.Confirmed)
				return SeriesResult{}, err
			}
			result.Rejected = append(result.Rejected, RejectedOccurrence{Window: occ, ReasonCode: "COMMIT_FAILED", ReasonText: err.Error()})
			continue
		}
		if rej != nil {
			if allOrNothing {
				s.unwindSeries(ctx, result.Confirmed)
				return SeriesResult{}, s.conflictOf(ctx, req.ResourceID, *rej)
			}
			result.Rejected = append(result.Rejected, *rej)
			s.notifyConflict(ctx, req.ResourceID, *rej)
			continue
		}
		result.Confirmed = append(result.Confirmed, b)
	}
	return result, nil
}

// unwindSeries cancels occurrences already committed by an all-or-nothing
// series whose later occurrence failed. Callers hold the resource lock.
// Store cancellations are best effort: a row that cannot be flipped is logged
// and left cancelled in memory, invisible to the calendar.
func (s *Scheduler) unwindSeries(ctx context.Context, committed []models.Booking) {
	now := time.Now().UTC()
	for _, b := range committed {
		s.mu.Lock()
		ref, ok := s.bookings[b.ID]
		s.mu.Unlock()
		if !ok {
			continue
		}
		if err := s.Store.MarkBookingCancelled(ctx, b.ID, now); err != nil {
			s.Logger.Error().Err(err).Str("booking_id", b.ID).Msg("series unwind cancellation failed")
		}
		s.cal.Remove(b.ResourceID, ref.token)
		s.cancelRef(ref, now)
	}
}

// CancelBooking releases a booking's interval. Cancelling an already
// cancelled booking is a no-op success.
func (s *Scheduler) CancelBooking(ctx context.Context, id string) error {
	s.mu.Lock()
	ref, ok := s.bookings[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrBookingNotFound, id)
	}

	// ResourceID never changes after commit; Status does, so it is re-read
	// under s.mu below.
	lock := s.lockFor(ref.booking.ResourceID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	cancelled := ref.booking.Status == StatusCancelled
	s.mu.Unlock()
	if cancelled {
		return nil
	}

	now := time.Now().UTC()
	if err := s.Store.MarkBookingCancelled(ctx, id, now); err != nil {
		return err
	}
	s.cal.Remove(ref.booking.ResourceID, ref.token)
	s.cancelRef(ref, now)
	return nil
}

// cancelRef flips a committed booking to cancelled. Booking reads and ref
// mutations both happen under s.mu so concurrent readers never see a torn
// struct.
func (s *Scheduler) cancelRef(ref *bookingRef, at time.Time) {
	s.mu.Lock()
	ref.booking.Status = StatusCancelled
	ref.booking.CancelledAt = &at
	s.mu.Unlock()
}

// Availability returns the free sub-intervals of window, honoring capacity.
func (s *Scheduler) Availability(resourceID string, window Interval) ([]Interval, error) {
	res, ok := s.Resource(resourceID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, resourceID)
	}
	if !window.Valid() {
		return nil, fmt.Errorf("%w: start must precede end", ErrInvalidWindow)
	}
	return s.cal.FreeWithin(resourceID, window, res.Capacity), nil
}

// Booking returns the live view of a booking by id.
func (s *Scheduler) Booking(id string) (models.Booking, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.bookings[id]
	if !ok {
		return models.Booking{}, false
	}
	return ref.booking, true
}

// commitOne runs the query-decide-insert-persist sequence for one candidate.
// Callers must hold the resource lock.
func (s *Scheduler) commitOne(ctx context.Context, res models.Resource, req BookingRequest, seriesID string) (models.Booking, *RejectedOccurrence, error) {
	existing := s.cal.Query(req.ResourceID, req.Window)
	dec := Decide(res.Capacity, existing, req.Window)
	if !dec.OK {
		return models.Booking{}, &RejectedOccurrence{Window: req.Window, ReasonCode: dec.ReasonCode, ReasonText: dec.ReasonText}, nil
	}

	b := models.Booking{
		ID:         utils.NewID("bkg"),
		ResourceID: req.ResourceID,
		Start:      req.Window.Start,
		End:        req.Window.End,
		Requester:  req.Requester,
		Kind:       req.Kind,
		Headcount:  req.Headcount,
		Status:     StatusConfirmed,
		SeriesID:   seriesID,
		CreatedAt:  time.Now().UTC(),
	}
	token := s.cal.Insert(req.ResourceID, req.Window)
	if err := s.Store.InsertBooking(ctx, b); err != nil {
		s.cal.Remove(req.ResourceID, token)
		return models.Booking{}, nil, err
	}

	s.mu.Lock()
	s.bookings[b.ID] = &bookingRef{booking: b, token: token}
	s.mu.Unlock()

	if err := s.Notifier.BookingConfirmed(ctx, events.BookingConfirmed{Booking: b}); err != nil {
		s.Logger.Error().Err(err).Str("booking_id", b.ID).Msg("booking confirmation dispatch failed")
	}
	return b, nil, nil
}

func (s *Scheduler) validateRequest(req BookingRequest) (models.Resource, error) {
	res, ok := s.Resource(req.ResourceID)
	if !ok {
		return models.Resource{}, fmt.Errorf("%w: %s", ErrResourceNotFound, req.ResourceID)
	}
	if req.Headcount < 0 {
		return models.Resource{}, fmt.Errorf("%w: headcount must not be negative", ErrInvalidWindow)
	}
	if req.Headcount > res.Capacity {
		return models.Resource{}, fmt.Errorf("%w: headcount %d exceeds resource capacity %d", ErrInvalidWindow, req.Headcount, res.Capacity)
	}
	if err := s.checkWindow(res, req.Window); err != nil {
		return models.Resource{}, err
	}
	return res, nil
}

func (s *Scheduler) checkWindow(res models.Resource, iv Interval) error {
	if !iv.Valid() {
		return fmt.Errorf("%w: start must precede end", ErrInvalidWindow)
	}
	if res.CalendarID == "" {
		return nil
	}
	cal := s.Library.CalendarFor(res.CalendarID)
	if cal == nil {
		return fmt.Errorf("resource %s: unknown calendar %q", res.ID, res.CalendarID)
	}
	if !sla.CoversInterval(*cal, iv.Start, iv.End) {
		return fmt.Errorf("%w: %s is outside bookable hours of resource %s", ErrInvalidWindow, iv, res.ID)
	}
	return nil
}

func (s *Scheduler) conflictOf(ctx context.Context, resourceID string, rej RejectedOccurrence) error {
	s.notifyConflict(ctx, resourceID, rej)
	return &ConflictError{
		ResourceID: resourceID,
		Candidate:  rej.Window,
		ReasonCode: rej.ReasonCode,
		ReasonText: rej.ReasonText,
	}
}

func (s *Scheduler) notifyConflict(ctx context.Context, resourceID string, rej RejectedOccurrence) {
	ev := events.BookingConflict{
		ResourceID: resourceID,
		Start:      rej.Window.Start,
		End:        rej.Window.End,
		ReasonCode: rej.ReasonCode,
		ReasonText: rej.ReasonText,
	}
	if err := s.Notifier.BookingConflict(ctx, ev); err != nil {
		s.Logger.Error().Err(err).Str("resource_id", resourceID).Msg("booking conflict dispatch failed")
	}
}

func (s *Scheduler) lockFor(resourceID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[resourceID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[resourceID] = lock
	}
	return lock
}

func overlappingOf(ivs []Interval, window Interval) []Interval {
	var out []Interval
	for _, iv := range ivs {
		if iv.Overlaps(window) {
			out = append(out, iv)
		}
	}
	return out
}
