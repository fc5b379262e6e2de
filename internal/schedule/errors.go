package schedule

import (
	"fmt"

	"github.com/PortNumber53/social-autopilot/backend/internal/tiers"
)

// MissingFieldError reports a required form field left empty.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s is required", e.Field)
}

func (e *MissingFieldError) Kind() string { return "missing_field" }

// InvalidFieldError reports a present but malformed value (bad time, unknown timezone, ...).
type InvalidFieldError struct {
	Field  string
	Reason string
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidFieldError) Kind() string { return "invalid_field" }

// ScheduleLimitExceededError reports that the user already owns as many schedules as the tier allows.
type ScheduleLimitExceededError struct {
	Tier  tiers.Tier
	Limit int
}

func (e *ScheduleLimitExceededError) Error() string {
	return fmt.Sprintf("%s accounts can only create %d schedule(s)", e.Tier, e.Limit)
}

func (e *ScheduleLimitExceededError) Kind() string { return "schedule_limit_exceeded" }

// IntervalTooShortError reports a polling interval below the tier minimum.
type IntervalTooShortError struct {
	Tier      tiers.Tier
	Minimum   int
	Requested int
}

func (e *IntervalTooShortError) Error() string {
	return fmt.Sprintf("%s accounts require minimum %d minute intervals", e.Tier, e.Minimum)
}

func (e *IntervalTooShortError) Kind() string { return "interval_too_short" }
