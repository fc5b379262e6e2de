// Package schedule validates schedule submissions against the caller's tier and normalizes them
// into UTC-based records ready for persistence.
package schedule

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/PortNumber53/social-autopilot/backend/internal/models"
	"github.com/PortNumber53/social-autopilot/backend/internal/tiers"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report json names so errors match what the client submitted.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// Minutes accepts either a JSON number or a numeric string, as HTML number inputs submit both.
type Minutes string

func (m *Minutes) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*m = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*m = Minutes(strings.TrimSpace(s))
		return nil
	}
	*m = Minutes(b)
	return nil
}

// Int parses the interval as a whole number of minutes.
func (m Minutes) Int() (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(string(m)))
	if err != nil {
		return 0, &InvalidFieldError{Field: "minute_intervals", Reason: fmt.Sprintf("%q is not a whole number of minutes", string(m))}
	}
	return n, nil
}

// Request is the schedule form as submitted by the user. Times are local to Timezone.
type Request struct {
	Name            string  `json:"name" validate:"required,max=200"`
	RssFeedID       string  `json:"rss_feed_id" validate:"required"`
	AiPromptID      string  `json:"ai_prompt_id" validate:"required"`
	XAccountID      string  `json:"x_account_id" validate:"required"`
	Timezone        string  `json:"timezone" validate:"required"`
	StartTime       string  `json:"start_time" validate:"required"`
	EndTime         string  `json:"end_time" validate:"required"`
	MinuteIntervals Minutes `json:"minute_intervals" validate:"required"`
	models.Weekdays
	ImageOption bool `json:"image_option"`
	VideoOption bool `json:"video_option"`
}

func (r Request) trimmed() Request {
	r.Name = strings.TrimSpace(r.Name)
	r.RssFeedID = strings.TrimSpace(r.RssFeedID)
	r.AiPromptID = strings.TrimSpace(r.AiPromptID)
	r.XAccountID = strings.TrimSpace(r.XAccountID)
	r.Timezone = strings.TrimSpace(r.Timezone)
	r.StartTime = strings.TrimSpace(r.StartTime)
	r.EndTime = strings.TrimSpace(r.EndTime)
	r.MinuteIntervals = Minutes(strings.TrimSpace(string(r.MinuteIntervals)))
	return r
}

// FeedRef is the part of the referenced RSS feed the builder needs.
type FeedRef struct {
	ID        string
	IsXSource bool
}

// Builder turns requests into schedules. The zero value uses the default zone table.
type Builder struct {
	Zones *Zones
}

func NewBuilder(z *Zones) *Builder {
	return &Builder{Zones: z}
}

// ValidateAndBuild checks req in order (presence, schedule cap, interval minimum, time fields),
// clears video_option for non-X feeds and returns the normalized schedule. existing is the number
// of schedules the user already owns.
func (b *Builder) ValidateAndBuild(user models.UserContext, req Request, existing int, limits tiers.Limits, feed FeedRef) (*models.Schedule, error) {
	req = req.trimmed()

	if err := validate.Struct(req); err != nil {
		return nil, fieldError(err)
	}

	if err := tiers.CheckCapacity(tiers.Schedules, existing, user.Tier, limits); err != nil {
		var lr *tiers.LimitReachedError
		if errors.As(err, &lr) {
			return nil, &ScheduleLimitExceededError{Tier: user.Tier, Limit: lr.Limit}
		}
		return nil, err
	}

	interval, err := req.MinuteIntervals.Int()
	if err != nil {
		return nil, err
	}
	if interval < limits.MinIntervalMinutes {
		return nil, &IntervalTooShortError{Tier: user.Tier, Minimum: limits.MinIntervalMinutes, Requested: interval}
	}

	zones := b.zones()
	if _, ok := zones.Lookup(req.Timezone); !ok {
		return nil, &InvalidFieldError{Field: "timezone", Reason: fmt.Sprintf("unsupported timezone %q", req.Timezone)}
	}
	startUTC, err := zones.ToUTC(req.StartTime, req.Timezone)
	if err != nil {
		return nil, renameField(err, "start_time")
	}
	endUTC, err := zones.ToUTC(req.EndTime, req.Timezone)
	if err != nil {
		return nil, renameField(err, "end_time")
	}

	video := req.VideoOption
	if !feed.IsXSource {
		video = false
	}

	return &models.Schedule{
		UserID:          user.ID,
		Name:            req.Name,
		RssFeedID:       req.RssFeedID,
		AiPromptID:      req.AiPromptID,
		XAccountID:      req.XAccountID,
		Weekdays:        req.Weekdays,
		ImageOption:     req.ImageOption,
		VideoOption:     video,
		StartTimeUTC:    startUTC,
		EndTimeUTC:      endUTC,
		Timezone:        req.Timezone,
		MinuteIntervals: interval,
	}, nil
}

func (b *Builder) zones() *Zones {
	if b == nil || b.Zones == nil {
		return DefaultZones()
	}
	return b.Zones
}

// ValidateAndBuild runs the default builder.
func ValidateAndBuild(user models.UserContext, req Request, existing int, limits tiers.Limits, feed FeedRef) (*models.Schedule, error) {
	return (&Builder{}).ValidateAndBuild(user, req, existing, limits, feed)
}

func fieldError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	if fe.Tag() == "required" {
		return &MissingFieldError{Field: fe.Field()}
	}
	return &InvalidFieldError{Field: fe.Field(), Reason: fmt.Sprintf("failed %s validation", fe.Tag())}
}

func renameField(err error, field string) error {
	var inv *InvalidFieldError
	if errors.As(err, &inv) {
		return &InvalidFieldError{Field: field, Reason: inv.Reason}
	}
	return err
}
