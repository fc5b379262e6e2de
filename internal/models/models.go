package models

import (
	"strings"
	"time"

	"github.com/PortNumber53/social-autopilot/backend/internal/tiers"
)

// UserContext is the caller identity threaded into every policy decision.
type UserContext struct {
	ID   string
	Tier tiers.Tier
}

type Profile struct {
	ID               string     `json:"id" db:"id"`
	Email            *string    `json:"email,omitempty" db:"email"`
	FullName         *string    `json:"fullName,omitempty" db:"full_name"`
	AccessLevel      string     `json:"accessLevel" db:"access_level"`
	StripeCustomerID *string    `json:"-" db:"stripe_customer_id"`
	CreatedAt        *time.Time `json:"createdAt,omitempty" db:"created_at"`
	UpdatedAt        *time.Time `json:"updatedAt,omitempty" db:"updated_at"`
}

type RssFeed struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Name      string    `json:"name" db:"name"`
	URL       string    `json:"url" db:"url"`
	IsXSource bool      `json:"is_x_source" db:"is_x_source"`
	FeedType  string    `json:"feed_type" db:"feed_type"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type AiPrompt struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Name      string    `json:"name" db:"name"`
	Prompt    string    `json:"prompt" db:"prompt"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type XCredential struct {
	ID                string    `json:"id" db:"id"`
	UserID            string    `json:"user_id" db:"user_id"`
	AccountName       string    `json:"account_name" db:"account_name"`
	APIKey            string    `json:"api_key" db:"api_key"`
	APISecretKey      string    `json:"api_secret_key" db:"api_secret_key"`
	AccessToken       string    `json:"access_token" db:"access_token"`
	AccessTokenSecret string    `json:"access_token_secret" db:"access_token_secret"`
	BearerToken       string    `json:"bearer_token" db:"bearer_token"`
	LatestPost        *string   `json:"latest_post" db:"latest_post"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// Masked returns a copy safe to send back to a browser.
func (c XCredential) Masked() XCredential {
	c.APIKey = MaskSecret(c.APIKey)
	c.APISecretKey = MaskSecret(c.APISecretKey)
	c.AccessToken = MaskSecret(c.AccessToken)
	c.AccessTokenSecret = MaskSecret(c.AccessTokenSecret)
	c.BearerToken = MaskSecret(c.BearerToken)
	return c
}

// MaskSecret keeps the last four characters of s.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	r := []rune(s)
	if len(r) <= 4 {
		return strings.Repeat("*", len(r))
	}
	return strings.Repeat("*", 8) + string(r[len(r)-4:])
}

// Weekdays are stored as seven independent columns so the worker can filter on them directly.
type Weekdays struct {
	Monday    bool `json:"monday" db:"monday"`
	Tuesday   bool `json:"tuesday" db:"tuesday"`
	Wednesday bool `json:"wednesday" db:"wednesday"`
	Thursday  bool `json:"thursday" db:"thursday"`
	Friday    bool `json:"friday" db:"friday"`
	Saturday  bool `json:"saturday" db:"saturday"`
	Sunday    bool `json:"sunday" db:"sunday"`
}

// On reports whether the flag for d is set.
func (w Weekdays) On(d time.Weekday) bool {
	switch d {
	case time.Monday:
		return w.Monday
	case time.Tuesday:
		return w.Tuesday
	case time.Wednesday:
		return w.Wednesday
	case time.Thursday:
		return w.Thursday
	case time.Friday:
		return w.Friday
	case time.Saturday:
		return w.Saturday
	case time.Sunday:
		return w.Sunday
	}
	return false
}

// Labels lists the active days Monday first, e.g. ["Mon", "Wed"].
func (w Weekdays) Labels() []string {
	out := make([]string, 0, 7)
	for _, d := range []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday} {
		if w.On(d) {
			out = append(out, d.String()[:3])
		}
	}
	return out
}

// Any reports whether at least one day is active.
func (w Weekdays) Any() bool {
	return w.Monday || w.Tuesday || w.Wednesday || w.Thursday || w.Friday || w.Saturday || w.Sunday
}

// WeekdayColumn is the schedules column holding the flag for d.
func WeekdayColumn(d time.Weekday) string {
	return strings.ToLower(d.String())
}

type Schedule struct {
	ID         string `json:"id" db:"id"`
	UserID     string `json:"user_id" db:"user_id"`
	Name       string `json:"name" db:"name"`
	RssFeedID  string `json:"rss_feed_id" db:"rss_feed_id"`
	AiPromptID string `json:"ai_prompt_id" db:"ai_prompt_id"`
	XAccountID string `json:"x_account_id" db:"x_account_id"`
	Weekdays
	ImageOption     bool      `json:"image_option" db:"image_option"`
	VideoOption     bool      `json:"video_option" db:"video_option"`
	StartTimeUTC    string    `json:"start_time_utc" db:"start_time_utc"`
	EndTimeUTC      string    `json:"end_time_utc" db:"end_time_utc"`
	Timezone        string    `json:"timezone" db:"timezone"`
	MinuteIntervals int       `json:"minute_intervals" db:"minute_intervals"`
	LastURL         *string   `json:"last_url" db:"last_url"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

type Dashboard struct {
	ID             string    `json:"id" db:"id"`
	UserID         string    `json:"user_id" db:"user_id"`
	CurrentCredits int       `json:"current_credits" db:"current_credits"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}
