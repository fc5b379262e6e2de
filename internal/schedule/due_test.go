package schedule

import (
	"testing"
	"time"

	"github.com/PortNumber53/social-autopilot/backend/internal/models"
)

func at(day, hour, minute int) time.Time {
	// March 2026: the 2nd is a Monday.
	return time.Date(2026, 3, day, hour, minute, 0, 0, time.UTC)
}

func TestInWindow(t *testing.T) {
	s := models.Schedule{Weekdays: models.Weekdays{Monday: true}, StartTimeUTC: "09:00", EndTimeUTC: "17:00", MinuteIntervals: 60}
	cases := []struct {
		when time.Time
		want bool
	}{
		{at(2, 9, 0), true},
		{at(2, 17, 0), true},
		{at(2, 17, 1), false},
		{at(2, 8, 59), false},
		{at(3, 12, 0), false}, // Tuesday
	}
	for _, c := range cases {
		if got := InWindow(s, c.when); got != c.want {
			t.Fatalf("InWindow(%s) expected %v got %v", c.when, c.want, got)
		}
	}
}

func TestInWindow_WrapsMidnight(t *testing.T) {
	s := models.Schedule{Weekdays: models.Weekdays{Monday: true}, StartTimeUTC: "22:30", EndTimeUTC: "02:00"}
	if !InWindow(s, at(2, 23, 0)) || !InWindow(s, at(2, 1, 59)) {
		t.Fatalf("expected wrapped window to include late evening and early morning")
	}
	if InWindow(s, at(2, 12, 0)) {
		t.Fatalf("expected midday to be outside wrapped window")
	}
}

func TestInWindow_EqualBoundsIsAllDay(t *testing.T) {
	s := models.Schedule{Weekdays: models.Weekdays{Monday: true}, StartTimeUTC: "06:00", EndTimeUTC: "06:00"}
	for h := 0; h < 24; h++ {
		if !InWindow(s, at(2, h, 17)) {
			t.Fatalf("expected hour %d to be in all-day window", h)
		}
	}
}

func TestIsDue(t *testing.T) {
	s := models.Schedule{Weekdays: models.Weekdays{Monday: true}, StartTimeUTC: "09:15", EndTimeUTC: "12:00", MinuteIntervals: 30}
	due := map[[2]int]bool{
		{9, 15}:  true,
		{9, 45}:  true,
		{10, 0}:  false,
		{11, 45}: true,
		{12, 15}: false,
	}
	for hm, want := range due {
		if got := IsDue(s, at(2, hm[0], hm[1])); got != want {
			t.Fatalf("IsDue at %02d:%02d expected %v got %v", hm[0], hm[1], want, got)
		}
	}

	s.MinuteIntervals = 0
	if IsDue(s, at(2, 9, 15)) {
		t.Fatalf("zero interval is never due")
	}
}
