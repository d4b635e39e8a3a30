package sla

import (
	"errors"
	"testing"
	"time"

	"github.com/facilityops/backend/internal/models"
)

func testPolicy() models.SLAPolicy {
	return models.SLAPolicy{
		ID: "pol-1",
		Durations: map[string]time.Duration{
			"normal": 24 * time.Hour,
			"high":   4 * time.Hour,
		},
	}
}

func TestComputeDeadlineWallClock(t *testing.T) {
	created := monday(10, 0)
	got, err := ComputeDeadline(created, "high", testPolicy(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := created.Add(4 * time.Hour); !got.Equal(want) {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestComputeDeadlineBusinessHours(t *testing.T) {
	cal := businessWeek()
	created := monday(15, 0)
	got, err := ComputeDeadline(created, "high", testPolicy(), &cal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 2 hours Monday, 2 hours Tuesday morning.
	if want := monday(11, 0).AddDate(0, 0, 1); !got.Equal(want) {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestComputeDeadlineUnknownPriority(t *testing.T) {
	if _, err := ComputeDeadline(monday(10, 0), "urgent", testPolicy(), nil); !errors.Is(err, ErrUnknownPriority) {
		t.Fatalf("expected ErrUnknownPriority, got %v", err)
	}
}

func TestElapsedFraction(t *testing.T) {
	created := monday(9, 0)
	deadline := monday(13, 0)

	cases := []struct {
		name string
		now  time.Time
		want float64
	}{
		{"halfway", monday(11, 0), 0.5},
		{"at deadline", monday(13, 0), 1.0},
		{"past deadline", monday(15, 0), 1.5},
		{"before creation", monday(8, 0), 0.0},
		{"at creation", monday(9, 0), 0.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ElapsedFraction(created, deadline, tc.now); got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestElapsedFractionDegenerateWindow(t *testing.T) {
	created := monday(9, 0)
	if got := ElapsedFraction(created, created, monday(8, 0)); got != 1 {
		t.Fatalf("zero-length window must read as already due, got %v", got)
	}
}
