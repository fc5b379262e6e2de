package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/PortNumber53/social-autopilot/backend/internal/models"
	"github.com/PortNumber53/social-autopilot/backend/internal/schedule"
	"github.com/PortNumber53/social-autopilot/backend/internal/tiers"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
)

var scheduleColumns = []string{
	"id", "user_id", "name", "rss_feed_id", "ai_prompt_id", "x_account_id",
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
	"image_option", "video_option", "start_time_utc", "end_time_utc", "timezone",
	"minute_intervals", "last_url", "created_at", "updated_at",
}

func (s *Store) ListSchedules(ctx context.Context, userID string) ([]models.Schedule, error) {
	out := []models.Schedule{}
	if err := s.selectOwned(ctx, &out, "schedules", scheduleColumns, userID); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) DeleteSchedule(ctx context.Context, userID, id string) error {
	return s.deleteOwned(ctx, "schedules", userID, id)
}

// ScheduleRefs is what the user owns among the records a schedule request points at.
type ScheduleRefs struct {
	Feed            schedule.FeedRef
	FeedFound       bool
	PromptFound     bool
	CredentialFound bool
}

// Missing names the first reference the user does not own, or "" when all resolve.
func (r ScheduleRefs) Missing() string {
	switch {
	case !r.FeedFound:
		return "rss_feed_id"
	case !r.PromptFound:
		return "ai_prompt_id"
	case !r.CredentialFound:
		return "x_account_id"
	}
	return ""
}

// LookupScheduleRefs resolves the feed, prompt and credential a schedule request references,
// restricted to rows owned by userID.
func (s *Store) LookupScheduleRefs(ctx context.Context, userID, feedID, promptID, credentialID string) (ScheduleRefs, error) {
	return lookupScheduleRefs(ctx, s.db, userID, feedID, promptID, credentialID)
}

func lookupScheduleRefs(ctx context.Context, q sqlx.QueryerContext, userID, feedID, promptID, credentialID string) (ScheduleRefs, error) {
	const query = `SELECT
  (SELECT is_x_source FROM rss_feeds WHERE id = $1 AND user_id = $4) AS feed_is_x_source,
  EXISTS (SELECT 1 FROM ai_prompts WHERE id = $2 AND user_id = $4) AS prompt_found,
  EXISTS (SELECT 1 FROM x_credentials WHERE id = $3 AND user_id = $4) AS credential_found`
	var row struct {
		FeedIsXSource   sql.NullBool `db:"feed_is_x_source"`
		PromptFound     bool         `db:"prompt_found"`
		CredentialFound bool         `db:"credential_found"`
	}
	if err := sqlx.GetContext(ctx, q, &row, query, feedID, promptID, credentialID, userID); err != nil {
		return ScheduleRefs{}, persistence("lookup schedule references", err)
	}
	return ScheduleRefs{
		Feed:            schedule.FeedRef{ID: feedID, IsXSource: row.FeedIsXSource.Valid && row.FeedIsXSource.Bool},
		FeedFound:       row.FeedIsXSource.Valid,
		PromptFound:     row.PromptFound,
		CredentialFound: row.CredentialFound,
	}, nil
}

// CreateSchedule validates req against the caller's tier under the capacity lock and inserts the
// resulting schedule. Validation errors take precedence over unresolved references.
func (s *Store) CreateSchedule(ctx context.Context, userID string, req schedule.Request) (*models.Schedule, error) {
	var out *models.Schedule
	err := s.withCapacityLock(ctx, userID, tiers.Schedules, func(tx *sqlx.Tx, user models.UserContext, existing int) error {
		refs, err := lookupScheduleRefs(ctx, tx, userID,
			strings.TrimSpace(req.RssFeedID), strings.TrimSpace(req.AiPromptID), strings.TrimSpace(req.XAccountID))
		if err != nil {
			return err
		}
		sched, err := s.builder.ValidateAndBuild(user, req, existing, s.limits(user.Tier), refs.Feed)
		if err != nil {
			return err
		}
		if field := refs.Missing(); field != "" {
			return &ReferenceNotFoundError{Field: field}
		}

		sched.ID = uuid.NewString()
		sched.CreatedAt = s.now().UTC()
		sched.UpdatedAt = sched.CreatedAt
		ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
		ib.InsertInto("schedules").Cols(scheduleColumns...).Values(
			sched.ID, sched.UserID, sched.Name, sched.RssFeedID, sched.AiPromptID, sched.XAccountID,
			sched.Monday, sched.Tuesday, sched.Wednesday, sched.Thursday, sched.Friday, sched.Saturday, sched.Sunday,
			sched.ImageOption, sched.VideoOption, sched.StartTimeUTC, sched.EndTimeUTC, sched.Timezone,
			sched.MinuteIntervals, sched.LastURL, sched.CreatedAt, sched.UpdatedAt,
		)
		q, args := ib.Build()
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return persistence("insert schedule", err)
		}
		out = sched
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ActiveSchedules lists schedules whose weekday flag for at's UTC weekday is set and whose UTC
// window contains at's UTC clock time. Windows with start > end wrap past midnight; start == end
// covers the whole day.
func (s *Store) ActiveSchedules(ctx context.Context, at time.Time) ([]models.Schedule, error) {
	at = at.UTC()
	clock := schedule.FormatClock(at.Hour(), at.Minute())

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(scheduleColumns...).From("schedules").Where(
		sb.Equal(models.WeekdayColumn(at.Weekday()), true),
		sb.Or(
			"start_time_utc = end_time_utc",
			sb.And("start_time_utc < end_time_utc", sb.LessEqualThan("start_time_utc", clock), sb.GreaterEqualThan("end_time_utc", clock)),
			sb.And("start_time_utc > end_time_utc", sb.Or(sb.LessEqualThan("start_time_utc", clock), sb.GreaterEqualThan("end_time_utc", clock))),
		),
	).OrderBy("user_id", "id")
	q, args := sb.Build()

	out := []models.Schedule{}
	if err := s.db.SelectContext(ctx, &out, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return out, nil
		}
		return nil, persistence("active schedules", err)
	}
	return out, nil
}
