// Package store is the PostgreSQL persistence layer. Every create runs inside a transaction that
// locks the owner's profile row, so tier caps hold even under concurrent submissions.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/PortNumber53/social-autopilot/backend/internal/models"
	"github.com/PortNumber53/social-autopilot/backend/internal/schedule"
	"github.com/PortNumber53/social-autopilot/backend/internal/tiers"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// ErrNotFound is returned when a row does not exist or is not owned by the caller.
var ErrNotFound = errors.New("not found")

// ErrStaleEvent is returned when a billing event is older than the last one applied to a profile.
var ErrStaleEvent = errors.New("stale billing event")

// PersistenceError wraps any datastore failure. Callers show a generic message and never
// interpret the underlying driver error.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Kind() string { return "persistence" }

func persistence(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		log.Printf("[Store] op=%q pq_code=%s err=%v", op, pqErr.Code, err)
	} else {
		log.Printf("[Store] op=%q err=%v", op, err)
	}
	return &PersistenceError{Op: op, Err: err}
}

// ReferenceNotFoundError reports a schedule field pointing at a row the user does not own.
type ReferenceNotFoundError struct {
	Field string
}

func (e *ReferenceNotFoundError) Error() string {
	return fmt.Sprintf("%s does not reference one of your records", e.Field)
}

func (e *ReferenceNotFoundError) Kind() string { return "not_found" }

func (e *ReferenceNotFoundError) Is(target error) bool { return target == ErrNotFound }

type Store struct {
	db      *sqlx.DB
	policy  *tiers.Policy
	builder *schedule.Builder
	now     func() time.Time
}

type Option func(*Store)

// WithPolicy replaces the built-in tier table.
func WithPolicy(p *tiers.Policy) Option {
	return func(s *Store) { s.policy = p }
}

// WithZones replaces the built-in timezone table used when building schedules.
func WithZones(z *schedule.Zones) Option {
	return func(s *Store) { s.builder = schedule.NewBuilder(z) }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:      sqlx.NewDb(db, "postgres"),
		builder: schedule.NewBuilder(nil),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Policy is the tier table the store enforces.
func (s *Store) Policy() *tiers.Policy {
	if s.policy == nil {
		return tiers.Default()
	}
	return s.policy
}

func (s *Store) limits(t tiers.Tier) tiers.Limits {
	return s.Policy().LimitsFor(t)
}

func tableFor(r tiers.Resource) string {
	switch r {
	case tiers.Schedules:
		return "schedules"
	case tiers.AiPrompts:
		return "ai_prompts"
	case tiers.RssFeeds:
		return "rss_feeds"
	case tiers.LinkedAccounts:
		return "x_credentials"
	}
	return ""
}

// withCapacityLock runs fn in a transaction after locking the owner's profile row and counting
// the rows of resource r the owner already has. fn's errors are returned unchanged.
func (s *Store) withCapacityLock(ctx context.Context, userID string, r tiers.Resource, fn func(tx *sqlx.Tx, user models.UserContext, existing int) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return persistence("begin transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("access_level").From("profiles").Where(sb.Equal("id", userID)).ForUpdate()
	q, args := sb.Build()
	var level string
	if err := tx.GetContext(ctx, &level, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return persistence("lock profile", err)
	}
	user := models.UserContext{ID: userID, Tier: tiers.ParseTier(level)}

	existing, err := countOwned(ctx, tx, tableFor(r), userID)
	if err != nil {
		return err
	}

	if err := fn(tx, user, existing); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return persistence("commit", err)
	}
	committed = true
	return nil
}

// CheckCapacity reports, without locking, whether userID may create one more r. Creates re-check
// under the capacity lock; this lets callers skip outbound work for accounts that are already full.
func (s *Store) CheckCapacity(ctx context.Context, userID string, r tiers.Resource) error {
	user, err := s.LoadUserContext(ctx, userID)
	if err != nil {
		return err
	}
	existing, err := countOwned(ctx, s.db, tableFor(r), userID)
	if err != nil {
		return err
	}
	return tiers.CheckCapacity(r, existing, user.Tier, s.limits(user.Tier))
}

func countOwned(ctx context.Context, q sqlx.QueryerContext, table, userID string) (int, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("COUNT(*)").From(table).Where(sb.Equal("user_id", userID))
	query, args := sb.Build()
	var n int
	if err := sqlx.GetContext(ctx, q, &n, query, args...); err != nil {
		return 0, persistence("count "+table, err)
	}
	return n, nil
}

func (s *Store) deleteOwned(ctx context.Context, table, userID, id string) error {
	del := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	del.DeleteFrom(table).Where(del.Equal("id", id), del.Equal("user_id", userID))
	q, args := del.Build()
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return persistence("delete from "+table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistence("delete from "+table, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) selectOwned(ctx context.Context, dest any, table string, cols []string, userID string) error {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(cols...).From(table).Where(sb.Equal("user_id", userID)).OrderBy("created_at").Desc()
	q, args := sb.Build()
	if err := s.db.SelectContext(ctx, dest, q, args...); err != nil {
		return persistence("list "+table, err)
	}
	return nil
}
