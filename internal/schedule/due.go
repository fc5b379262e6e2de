package schedule

import (
	"time"

	"github.com/PortNumber53/social-autopilot/backend/internal/models"
)

const minutesPerDay = 24 * 60

// InWindow reports whether at (taken in UTC) falls on an active weekday and inside the
// schedule's UTC window. Windows with start > end wrap past midnight; start == end covers the
// whole day.
func InWindow(s models.Schedule, at time.Time) bool {
	_, ok := elapsedInWindow(s, at)
	return ok
}

// IsDue reports whether a post should fire at at's minute: the schedule is in its window and a
// whole number of intervals has elapsed since the window opened.
func IsDue(s models.Schedule, at time.Time) bool {
	if s.MinuteIntervals <= 0 {
		return false
	}
	elapsed, ok := elapsedInWindow(s, at)
	return ok && elapsed%s.MinuteIntervals == 0
}

func elapsedInWindow(s models.Schedule, at time.Time) (int, bool) {
	at = at.UTC()
	if !s.On(at.Weekday()) {
		return 0, false
	}
	sh, sm, err := ParseClock(s.StartTimeUTC)
	if err != nil {
		return 0, false
	}
	eh, em, err := ParseClock(s.EndTimeUTC)
	if err != nil {
		return 0, false
	}
	start, end := sh*60+sm, eh*60+em
	now := at.Hour()*60 + at.Minute()

	elapsed := (now - start + minutesPerDay) % minutesPerDay
	if start == end {
		return elapsed, true
	}
	length := (end - start + minutesPerDay) % minutesPerDay
	return elapsed, elapsed <= length
}
