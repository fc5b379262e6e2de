package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/PortNumber53/social-autopilot/backend/internal/models"
	"github.com/PortNumber53/social-autopilot/backend/internal/tiers"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
)

var profileColumns = []string{"id", "email", "full_name", "access_level", "stripe_customer_id", "created_at", "updated_at"}

// LoadUserContext resolves the caller's tier. An unrecognized access level is kept as-is and
// falls back to FREE limits wherever it is looked up.
func (s *Store) LoadUserContext(ctx context.Context, userID string) (models.UserContext, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("access_level").From("profiles").Where(sb.Equal("id", userID))
	q, args := sb.Build()
	var level string
	if err := s.db.GetContext(ctx, &level, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.UserContext{}, ErrNotFound
		}
		return models.UserContext{}, persistence("load user context", err)
	}
	return models.UserContext{ID: userID, Tier: tiers.ParseTier(level)}, nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(profileColumns...).From("profiles").Where(sb.Equal("id", userID))
	q, args := sb.Build()
	var p models.Profile
	if err := s.db.GetContext(ctx, &p, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, persistence("get profile", err)
	}
	return &p, nil
}

// Usage is the number of rows the user owns per capped resource.
type Usage struct {
	Schedules      int `json:"schedules" db:"schedules"`
	AiPrompts      int `json:"ai_prompts" db:"ai_prompts"`
	RssFeeds       int `json:"rss_feeds" db:"rss_feeds"`
	LinkedAccounts int `json:"linked_accounts" db:"linked_accounts"`
}

func (u Usage) Of(r tiers.Resource) int {
	switch r {
	case tiers.Schedules:
		return u.Schedules
	case tiers.AiPrompts:
		return u.AiPrompts
	case tiers.RssFeeds:
		return u.RssFeeds
	case tiers.LinkedAccounts:
		return u.LinkedAccounts
	}
	return 0
}

func (s *Store) UsageCounts(ctx context.Context, userID string) (Usage, error) {
	const q = `SELECT
  (SELECT COUNT(*) FROM schedules WHERE user_id = $1) AS schedules,
  (SELECT COUNT(*) FROM ai_prompts WHERE user_id = $1) AS ai_prompts,
  (SELECT COUNT(*) FROM rss_feeds WHERE user_id = $1) AS rss_feeds,
  (SELECT COUNT(*) FROM x_credentials WHERE user_id = $1) AS linked_accounts`
	var u Usage
	if err := s.db.GetContext(ctx, &u, q, userID); err != nil {
		return Usage{}, persistence("usage counts", err)
	}
	return u, nil
}

// EnsureDashboard returns the user's dashboard, creating it with the tier's credit allowance on
// first access.
func (s *Store) EnsureDashboard(ctx context.Context, user models.UserContext) (*models.Dashboard, error) {
	now := s.now().UTC()
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("dashboard").
		Cols("id", "user_id", "current_credits", "created_at", "updated_at").
		Values(uuid.NewString(), user.ID, s.limits(user.Tier).CreditAllowance, now, now)
	ib.SQL("ON CONFLICT (user_id) DO NOTHING")
	q, args := ib.Build()
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return nil, persistence("create dashboard", err)
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "user_id", "current_credits", "created_at", "updated_at").From("dashboard").Where(sb.Equal("user_id", user.ID))
	q, args = sb.Build()
	var d models.Dashboard
	if err := s.db.GetContext(ctx, &d, q, args...); err != nil {
		return nil, persistence("get dashboard", err)
	}
	return &d, nil
}

// SetTier changes a user's access level. Unknown tiers are refused rather than stored.
func (s *Store) SetTier(ctx context.Context, userID string, t tiers.Tier) error {
	if !s.Policy().Known(t) {
		return fmt.Errorf("unknown tier %q", t)
	}
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("profiles").Set(ub.Assign("access_level", string(tiers.ParseTier(string(t)))), "updated_at = NOW()").Where(ub.Equal("id", userID))
	q, args := ub.Build()
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return persistence("set tier", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return persistence("set tier", err)
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTierByStripeCustomer applies t to the profile linked to customerID and returns its id.
// eventAt is when the billing event was created; an event older than the last one applied to the
// profile is refused with ErrStaleEvent so a late redelivery cannot undo a newer change.
func (s *Store) SetTierByStripeCustomer(ctx context.Context, customerID string, t tiers.Tier, eventAt time.Time) (string, error) {
	if !s.Policy().Known(t) {
		return "", fmt.Errorf("unknown tier %q", t)
	}
	eventAt = eventAt.UTC()
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("profiles").
		Set(ub.Assign("access_level", string(tiers.ParseTier(string(t)))), ub.Assign("stripe_event_at", eventAt), "updated_at = NOW()").
		Where(
			ub.Equal("stripe_customer_id", customerID),
			ub.Or("stripe_event_at IS NULL", ub.LessEqualThan("stripe_event_at", eventAt)),
		)
	ub.SQL("RETURNING id")
	q, args := ub.Build()
	var id string
	err := s.db.GetContext(ctx, &id, q, args...)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", persistence("set tier by stripe customer", err)
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id").From("profiles").Where(sb.Equal("stripe_customer_id", customerID))
	q, args = sb.Build()
	if err := s.db.GetContext(ctx, &id, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", persistence("set tier by stripe customer", err)
	}
	return id, ErrStaleEvent
}

func (s *Store) LinkStripeCustomer(ctx context.Context, userID, customerID string) error {
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("profiles").Set(ub.Assign("stripe_customer_id", customerID), "updated_at = NOW()").Where(ub.Equal("id", userID))
	q, args := ub.Build()
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return persistence("link stripe customer", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordBillingEvent stores a webhook event once. It reports false when the event was already seen.
func (s *Store) RecordBillingEvent(ctx context.Context, eventID, eventType string, payload []byte) (bool, error) {
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("billing_events").
		Cols("id", "stripe_event_id", "stripe_event_type", "data", "created_at").
		Values(uuid.NewString(), eventID, eventType, string(payload), s.now().UTC())
	ib.SQL("ON CONFLICT (stripe_event_id) DO NOTHING")
	q, args := ib.Build()
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, persistence("record billing event", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, persistence("record billing event", err)
	}
	return n > 0, nil
}

// OverCap describes a user owning more schedules than their current tier allows, typically
// after a downgrade.
type OverCap struct {
	UserID    string     `json:"user_id" db:"user_id"`
	Tier      tiers.Tier `json:"tier" db:"access_level"`
	Schedules int        `json:"schedules" db:"schedules"`
	Limit     int        `json:"limit" db:"-"`
}

func (s *Store) OverCapUsers(ctx context.Context) ([]OverCap, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("p.id AS user_id", "p.access_level", "COUNT(s.id) AS schedules").
		From("profiles p").
		Join("schedules s", "s.user_id = p.id").
		GroupBy("p.id", "p.access_level").
		OrderBy("p.id")
	q, args := sb.Build()
	var rows []OverCap
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, persistence("over cap users", err)
	}
	out := make([]OverCap, 0)
	for _, r := range rows {
		r.Tier = tiers.ParseTier(string(r.Tier))
		r.Limit = s.limits(r.Tier).MaxSchedules
		if r.Schedules > r.Limit {
			out = append(out, r)
		}
	}
	return out, nil
}
