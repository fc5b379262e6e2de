package tiers

import "fmt"

// Resource names a per-user countable resource gated by a tier cap.
type Resource string

const (
	Schedules      Resource = "schedules"
	AiPrompts      Resource = "ai_prompts"
	RssFeeds       Resource = "rss_feeds"
	LinkedAccounts Resource = "linked_accounts"
)

// Label is the human-readable resource name used in error messages.
func (r Resource) Label() string {
	switch r {
	case Schedules:
		return "schedule(s)"
	case AiPrompts:
		return "AI prompt(s)"
	case RssFeeds:
		return "RSS feed(s)"
	case LinkedAccounts:
		return "X account credential(s)"
	default:
		return string(r)
	}
}

// LimitReachedError reports that creating one more resource would exceed the tier cap.
type LimitReachedError struct {
	Resource Resource
	Tier     Tier
	Limit    int
}

func (e *LimitReachedError) Error() string {
	return fmt.Sprintf("%s accounts can only create %d %s", e.Tier, e.Limit, e.Resource.Label())
}

func (e *LimitReachedError) Kind() string { return "limit_reached" }

// CheckCapacity permits creation while existing < cap for the resource.
func CheckCapacity(r Resource, existing int, tier Tier, l Limits) error {
	max := l.Max(r)
	if existing >= max {
		return &LimitReachedError{Resource: r, Tier: tier, Limit: max}
	}
	return nil
}
