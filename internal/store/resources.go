package store

import (
	"context"

	"github.com/PortNumber53/social-autopilot/backend/internal/models"
	"github.com/PortNumber53/social-autopilot/backend/internal/tiers"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
)

var (
	rssFeedColumns     = []string{"id", "user_id", "name", "url", "is_x_source", "feed_type", "created_at", "updated_at"}
	aiPromptColumns    = []string{"id", "user_id", "name", "prompt", "created_at", "updated_at"}
	xCredentialColumns = []string{"id", "user_id", "account_name", "api_key", "api_secret_key", "access_token", "access_token_secret", "bearer_token", "latest_post", "created_at", "updated_at"}
)

func (s *Store) ListRssFeeds(ctx context.Context, userID string) ([]models.RssFeed, error) {
	out := []models.RssFeed{}
	if err := s.selectOwned(ctx, &out, "rss_feeds", rssFeedColumns, userID); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateRssFeed inserts in as a new feed for userID once the RSS feed cap allows it.
func (s *Store) CreateRssFeed(ctx context.Context, userID string, in models.RssFeed) (*models.RssFeed, error) {
	var out *models.RssFeed
	err := s.withCapacityLock(ctx, userID, tiers.RssFeeds, func(tx *sqlx.Tx, user models.UserContext, existing int) error {
		if err := tiers.CheckCapacity(tiers.RssFeeds, existing, user.Tier, s.limits(user.Tier)); err != nil {
			return err
		}
		f := in
		f.ID, f.UserID = uuid.NewString(), userID
		f.CreatedAt = s.now().UTC()
		f.UpdatedAt = f.CreatedAt
		if f.FeedType == "" {
			f.FeedType = "rss"
		}
		ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
		ib.InsertInto("rss_feeds").Cols(rssFeedColumns...).
			Values(f.ID, f.UserID, f.Name, f.URL, f.IsXSource, f.FeedType, f.CreatedAt, f.UpdatedAt)
		q, args := ib.Build()
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return persistence("insert rss feed", err)
		}
		out = &f
		return nil
	})
	return out, err
}

func (s *Store) DeleteRssFeed(ctx context.Context, userID, id string) error {
	return s.deleteOwned(ctx, "rss_feeds", userID, id)
}

func (s *Store) ListAiPrompts(ctx context.Context, userID string) ([]models.AiPrompt, error) {
	out := []models.AiPrompt{}
	if err := s.selectOwned(ctx, &out, "ai_prompts", aiPromptColumns, userID); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) CreateAiPrompt(ctx context.Context, userID string, in models.AiPrompt) (*models.AiPrompt, error) {
	var out *models.AiPrompt
	err := s.withCapacityLock(ctx, userID, tiers.AiPrompts, func(tx *sqlx.Tx, user models.UserContext, existing int) error {
		if err := tiers.CheckCapacity(tiers.AiPrompts, existing, user.Tier, s.limits(user.Tier)); err != nil {
			return err
		}
		p := in
		p.ID, p.UserID = uuid.NewString(), userID
		p.CreatedAt = s.now().UTC()
		p.UpdatedAt = p.CreatedAt
		ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
		ib.InsertInto("ai_prompts").Cols(aiPromptColumns...).
			Values(p.ID, p.UserID, p.Name, p.Prompt, p.CreatedAt, p.UpdatedAt)
		q, args := ib.Build()
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return persistence("insert ai prompt", err)
		}
		out = &p
		return nil
	})
	return out, err
}

func (s *Store) DeleteAiPrompt(ctx context.Context, userID, id string) error {
	return s.deleteOwned(ctx, "ai_prompts", userID, id)
}

// ListXCredentials returns credentials unmasked; handlers mask them before responding.
func (s *Store) ListXCredentials(ctx context.Context, userID string) ([]models.XCredential, error) {
	out := []models.XCredential{}
	if err := s.selectOwned(ctx, &out, "x_credentials", xCredentialColumns, userID); err != nil {
		return nil, err
	}
	return out, nil
}

// LatestPosts lists the user's credentials that have recorded a latest post.
func (s *Store) LatestPosts(ctx context.Context, userID string) ([]models.XCredential, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(xCredentialColumns...).From("x_credentials").
		Where(sb.Equal("user_id", userID), sb.IsNotNull("latest_post")).
		OrderBy("updated_at").Desc()
	q, args := sb.Build()
	out := []models.XCredential{}
	if err := s.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, persistence("latest posts", err)
	}
	return out, nil
}

func (s *Store) CreateXCredential(ctx context.Context, userID string, in models.XCredential) (*models.XCredential, error) {
	var out *models.XCredential
	err := s.withCapacityLock(ctx, userID, tiers.LinkedAccounts, func(tx *sqlx.Tx, user models.UserContext, existing int) error {
		if err := tiers.CheckCapacity(tiers.LinkedAccounts, existing, user.Tier, s.limits(user.Tier)); err != nil {
			return err
		}
		c := in
		c.ID, c.UserID = uuid.NewString(), userID
		c.LatestPost = nil
		c.CreatedAt = s.now().UTC()
		c.UpdatedAt = c.CreatedAt
		ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
		ib.InsertInto("x_credentials").Cols(xCredentialColumns...).
			Values(c.ID, c.UserID, c.AccountName, c.APIKey, c.APISecretKey, c.AccessToken, c.AccessTokenSecret, c.BearerToken, nil, c.CreatedAt, c.UpdatedAt)
		q, args := ib.Build()
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return persistence("insert x credential", err)
		}
		out = &c
		return nil
	})
	return out, err
}

func (s *Store) DeleteXCredential(ctx context.Context, userID, id string) error {
	return s.deleteOwned(ctx, "x_credentials", userID, id)
}
