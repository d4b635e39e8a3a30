package schedule

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
)

type fakeBookingStore struct {
	mu        sync.Mutex
	inserted  []models.Booking
	cancelled []string
	failNext  error
	failOn    int // 1-based insert ordinal that fails
	attempts  int
}

func (f *fakeBookingStore) InsertBooking(_ context.Context, b models.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	if f.failOn != 0 && f.attempts == f.failOn {
		return errors.New("db down")
	}
	f.inserted = append(f.inserted, b)
	return nil
}

func (f *fakeBookingStore) MarkBookingCancelled(_ context.Context, id string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	confirmed int
	conflicts int
}

func (f *fakeNotifier) BookingConfirmed(context.Context, events.BookingConfirmed) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmed++
	return nil
}

func (f *fakeNotifier) BookingConflict(context.Context, events.BookingConflict) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conflicts++
	return nil
}

func (f *fakeNotifier) Escalated(context.Context, events.Escalated) error { return nil }

func (f *fakeNotifier) SLABreached(context.Context, events.SLABreached) error { return nil }

func newTestScheduler(t *testing.T, capacity int) (*Scheduler, *fakeBookingStore, *fakeNotifier) {
	t.Helper()
	store := &fakeBookingStore{}
	notifier := &fakeNotifier{}
	lib := &sla.Library{
		Policies:  map[string]models.SLAPolicy{},
		Calendars: map[string]models.BusinessCalendar{},
	}
	s := NewScheduler(store, notifier, lib, zerolog.Nop())
	if err := s.AddResource(models.Resource{ID: "room-a", Name: "Room A", Kind: "room", Capacity: capacity}); err != nil {
		t.Fatalf("add resource: %v", err)
	}
	return s, store, notifier
}

func request(window Interval) BookingRequest {
	return BookingRequest{ResourceID: "room-a", Window: window, Requester: "alice"}
}

func TestRequestBookingConflictAndTouching(t *testing.T) {
	s, store, notifier := newTestScheduler(t, 1)
	ctx := context.Background()

	first, err := s.RequestBooking(ctx, request(iv(9, 0, 10, 0)))
	if err != nil {
		t.Fatalf("first booking: %v", err)
	}
	if first.Status != StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", first.Status)
	}

	_, err = s.RequestBooking(ctx, request(iv(9, 30, 10, 30)))
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.ReasonCode != ReasonCapacityExceeded {
		t.Fatalf("expected %s, got %s", ReasonCapacityExceeded, conflict.ReasonCode)
	}

	if _, err := s.RequestBooking(ctx, request(iv(10, 0, 11, 0))); err != nil {
		t.Fatalf("touching booking must succeed: %v", err)
	}

	if len(store.inserted) != 2 {
		t.Fatalf("expected 2 persisted bookings, got %d", len(store.inserted))
	}
	if notifier.confirmed != 2 || notifier.conflicts != 1 {
		t.Fatalf("expected 2 confirmations and 1 conflict, got %d/%d", notifier.confirmed, notifier.conflicts)
	}
}

func TestRequestBookingRejectsInvalidWindow(t *testing.T) {
	s, _, _ := newTestScheduler(t, 1)
	ctx := context.Background()

	if _, err := s.RequestBooking(ctx, request(iv(10, 0, 10, 0))); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("zero-length window must be rejected, got %v", err)
	}
	if _, err := s.RequestBooking(ctx, request(iv(11, 0, 10, 0))); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("reversed window must be rejected, got %v", err)
	}

	req := request(iv(9, 0, 10, 0))
	req.ResourceID = "nope"
	if _, err := s.RequestBooking(ctx, req); !errors.Is(err, ErrResourceNotFound) {
		t.Fatalf("unknown resource must be rejected, got %v", err)
	}
}

func TestRequestBookingHeadcount(t *testing.T) {
	s, _, _ := newTestScheduler(t, 2)
	ctx := context.Background()

	req := request(iv(9, 0, 10, 0))
	req.Headcount = 3
	if _, err := s.RequestBooking(ctx, req); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("headcount above capacity must be rejected, got %v", err)
	}

	req.Headcount = 2
	if _, err := s.RequestBooking(ctx, req); err != nil {
		t.Fatalf("headcount at capacity must succeed: %v", err)
	}
}

func TestCancelRestoresAvailability(t *testing.T) {
	s, store, _ := newTestScheduler(t, 1)
	ctx := context.Background()

	window := iv(9, 0, 10, 0)
	b, err := s.RequestBooking(ctx, request(window))
	if err != nil {
		t.Fatalf("booking: %v", err)
	}

	if err := s.CancelBooking(ctx, b.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := s.CancelBooking(ctx, b.ID); err != nil {
		t.Fatalf("cancel must be idempotent: %v", err)
	}
	if len(store.cancelled) != 1 {
		t.Fatalf("second cancel must not hit the store, got %d writes", len(store.cancelled))
	}
	if err := s.CancelBooking(ctx, "bkg-unknown"); !errors.Is(err, ErrBookingNotFound) {
		t.Fatalf("unknown booking must fail with ErrBookingNotFound, got %v", err)
	}

	if _, err := s.RequestBooking(ctx, request(window)); err != nil {
		t.Fatalf("slot must be free again after cancel: %v", err)
	}
}

func TestStoreFailureLeavesCalendarUntouched(t *testing.T) {
	s, store, _ := newTestScheduler(t, 1)
	ctx := context.Background()

	store.failNext = errors.New("db down")
	if _, err := s.RequestBooking(ctx, request(iv(9, 0, 10, 0))); err == nil {
		t.Fatalf("expected store error to propagate")
	}

	if _, err := s.RequestBooking(ctx, request(iv(9, 0, 10, 0))); err != nil {
		t.Fatalf("slot must remain free after a failed commit: %v", err)
	}
}

func TestConcurrentRequestsAdmitExactlyCapacity(t *testing.T) {
	s, _, _ := newTestScheduler(t, 1)
	ctx := context.Background()
	window := iv(9, 0, 10, 0)

	const attempts = 16
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.RequestBooking(ctx, request(window))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		var conflict *ConflictError
		if !errors.As(err, &conflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("exactly one request must win the slot, got %d", succeeded)
	}
}

func TestRequestSeriesPartialCommit(t *testing.T) {
	s, _, _ := newTestScheduler(t, 1)
	ctx := context.Background()

	// Block the second daily occurrence in advance.
	blocker := request(Interval{Start: at(9, 0).AddDate(0, 0, 1), End: at(10, 0).AddDate(0, 0, 1)})
	if _, err := s.RequestBooking(ctx, blocker); err != nil {
		t.Fatalf("blocker booking: %v", err)
	}

	result, err := s.RequestSeries(ctx, request(iv(9, 0, 10, 0)), Recurrence{Freq: FreqDaily, Count: 3}, false)
	if err != nil {
		t.Fatalf("series: %v", err)
	}
	if len(result.Confirmed) != 2 || len(result.Rejected) != 1 {
		t.Fatalf("expected 2 confirmed and 1 rejected, got %d/%d", len(result.Confirmed), len(result.Rejected))
	}
	if result.SeriesID == "" {
		t.Fatalf("series id missing")
	}
	for _, b := range result.Confirmed {
		if b.SeriesID != result.SeriesID {
			t.Fatalf("confirmed occurrence not tagged with series id")
		}
	}
}

func TestRequestSeriesAllOrNothing(t *testing.T) {
	s, store, _ := newTestScheduler(t, 1)
	ctx := context.Background()

	blocker := request(Interval{Start: at(9, 0).AddDate(0, 0, 1), End: at(10, 0).AddDate(0, 0, 1)})
	if _, err := s.RequestBooking(ctx, blocker); err != nil {
		t.Fatalf("blocker booking: %v", err)
	}
	persistedBefore := len(store.inserted)

	_, err := s.RequestSeries(ctx, request(iv(9, 0, 10, 0)), Recurrence{Freq: FreqDaily, Count: 3}, true)
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if len(store.inserted) != persistedBefore {
		t.Fatalf("all-or-nothing series must not persist partial occurrences")
	}

	// The unblocked occurrences are still free afterwards.
	if _, err := s.RequestBooking(ctx, request(iv(9, 0, 10, 0))); err != nil {
		t.Fatalf("first occurrence slot must still be free: %v", err)
	}
}

func TestBookingReadDuringCancelIsConsistent(t *testing.T) {
	s, _, _ := newTestScheduler(t, 1)
	ctx := context.Background()

	b, err := s.RequestBooking(ctx, request(iv(9, 0, 10, 0)))
	if err != nil {
		t.Fatalf("booking: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			got, ok := s.Booking(b.ID)
			if !ok {
				t.Errorf("booking disappeared mid-cancel")
				return
			}
			if got.Status == StatusCancelled && got.CancelledAt == nil {
				t.Errorf("cancelled booking without timestamp: %+v", got)
				return
			}
		}
	}()

	if err := s.CancelBooking(ctx, b.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	<-done

	got, ok := s.Booking(b.ID)
	if !ok || got.Status != StatusCancelled || got.CancelledAt == nil {
		t.Fatalf("expected cancelled booking with timestamp, got %+v", got)
	}
}

func TestRequestSeriesAllOrNothingUnwindsOnStoreFailure(t *testing.T) {
	s, store, _ := newTestScheduler(t, 1)
	ctx := context.Background()
	store.failOn = 2

	_, err := s.RequestSeries(ctx, request(iv(9, 0, 10, 0)), Recurrence{Freq: FreqDaily, Count: 3}, true)
	if err == nil {
		t.Fatalf("expected store error to propagate")
	}
	if len(store.cancelled) != 1 {
		t.Fatalf("committed occurrence must be cancelled on unwind, got %d", len(store.cancelled))
	}

	// Every occurrence window is free again afterwards.
	for i := 0; i < 3; i++ {
		w := Interval{Start: at(9, 0).AddDate(0, 0, i), End: at(10, 0).AddDate(0, 0, i)}
		if _, err := s.RequestBooking(ctx, request(w)); err != nil {
			t.Fatalf("occurrence %d slot must be free after unwind: %v", i, err)
		}
	}
}

func TestAvailabilityReflectsBookings(t *testing.T) {
	s, _, _ := newTestScheduler(t, 1)
	ctx := context.Background()

	if _, err := s.RequestBooking(ctx, request(iv(10, 0, 11, 0))); err != nil {
		t.Fatalf("booking: %v", err)
	}

	free, err := s.Availability("room-a", iv(9, 0, 12, 0))
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	want := []Interval{iv(9, 0, 10, 0), iv(11, 0, 12, 0)}
	if len(free) != len(want) {
		t.Fatalf("expected %d free intervals, got %v", len(want), free)
	}
	for i := range want {
		if !free[i].Start.Equal(want[i].Start) || !free[i].End.Equal(want[i].End) {
			t.Fatalf("free[%d] = %s, want %s", i, free[i], want[i])
		}
	}

	if _, err := s.Availability("nope", iv(9, 0, 12, 0)); !errors.Is(err, ErrResourceNotFound) {
		t.Fatalf("unknown resource must fail, got %v", err)
	}
}

func TestBookableHoursRestriction(t *testing.T) {
	store := &fakeBookingStore{}
	lib := &sla.Library{
		Policies: map[string]models.SLAPolicy{},
		Calendars: map[string]models.BusinessCalendar{
			"cal-biz": {
				ID: "cal-biz",
				Hours: []models.WorkingHours{
					{Weekday: 1, Start: "09:00", End: "17:00"},
				},
			},
		},
	}
	s := NewScheduler(store, &fakeNotifier{}, lib, zerolog.Nop())
	res := models.Resource{ID: "room-a", Name: "Room A", Kind: "room", Capacity: 1, CalendarID: "cal-biz"}
	if err := s.AddResource(res); err != nil {
		t.Fatalf("add resource: %v", err)
	}
	ctx := context.Background()

	// 2026-03-02 is a Monday.
	if _, err := s.RequestBooking(ctx, request(iv(9, 0, 10, 0))); err != nil {
		t.Fatalf("in-hours booking must succeed: %v", err)
	}
	if _, err := s.RequestBooking(ctx, request(iv(18, 0, 19, 0))); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("after-hours booking must be rejected, got %v", err)
	}

	res.CalendarID = "cal-missing"
	res.ID = "room-b"
	if err := s.AddResource(res); err == nil {
		t.Fatalf("resource with unknown calendar must be rejected")
	}
}

func TestRestoreRebuildsCalendar(t *testing.T) {
	s, _, _ := newTestScheduler(t, 1)
	ctx := context.Background()

	b := models.Booking{
		ID:         "bkg-1",
		ResourceID: "room-a",
		Start:      at(9, 0),
		End:        at(10, 0),
		Requester:  "alice",
		Status:     StatusConfirmed,
		CreatedAt:  at(8, 0),
	}
	if err := s.Restore(b); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if _, err := s.RequestBooking(ctx, request(iv(9, 30, 10, 30))); err == nil {
		t.Fatalf("restored booking must occupy its slot")
	}
	if got, ok := s.Booking("bkg-1"); !ok || got.Requester != "alice" {
		t.Fatalf("restored booking must be readable, got %+v ok=%v", got, ok)
	}

	b.Status = StatusCancelled
	b.ID = "bkg-2"
	if err := s.Restore(b); err == nil {
		t.Fatalf("restoring a cancelled booking must fail")
	}
}
