package schedule

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/PortNumber53/social-autopilot/backend/internal/models"
	"github.com/PortNumber53/social-autopilot/backend/internal/tiers"
	"github.com/cucumber/godog"
)

type builderScenario struct {
	user     models.UserContext
	existing int
	feed     FeedRef
	result   *models.Schedule
	err      error
}

func (s *builderScenario) reset() {
	*s = builderScenario{}
}

func (s *builderScenario) aUserWithExistingSchedules(tier string, n int) error {
	s.user = models.UserContext{ID: "bdd-user", Tier: tiers.ParseTier(tier)}
	s.existing = n
	return nil
}

func (s *builderScenario) theFeedIsNotAnXSource() error {
	s.feed = FeedRef{ID: "feed-1", IsXSource: false}
	return nil
}

func (s *builderScenario) theFeedIsAnXSource() error {
	s.feed = FeedRef{ID: "feed-1", IsXSource: true}
	return nil
}

func (s *builderScenario) submit(interval, start, end, tz string, video bool) {
	req := Request{
		Name:            "bdd",
		RssFeedID:       "feed-1",
		AiPromptID:      "prompt-1",
		XAccountID:      "acct-1",
		Timezone:        tz,
		StartTime:       start,
		EndTime:         end,
		MinuteIntervals: Minutes(interval),
		Weekdays:        models.Weekdays{Monday: true},
		VideoOption:     video,
	}
	s.result, s.err = ValidateAndBuild(s.user, req, s.existing, tiers.LimitsFor(s.user.Tier), s.feed)
}

func (s *builderScenario) theySubmit(interval, start, end, tz string) error {
	s.submit(interval, start, end, tz, false)
	return nil
}

func (s *builderScenario) theySubmitWithVideo(interval, start, end, tz string) error {
	s.submit(interval, start, end, tz, true)
	return nil
}

func (s *builderScenario) theScheduleIsAccepted() error {
	if s.err != nil {
		return fmt.Errorf("expected success, got %v", s.err)
	}
	if s.result == nil {
		return fmt.Errorf("expected a schedule")
	}
	return nil
}

func (s *builderScenario) theStoredWindowIs(start, end string) error {
	if s.result.StartTimeUTC != start || s.result.EndTimeUTC != end {
		return fmt.Errorf("expected %s-%s got %s-%s", start, end, s.result.StartTimeUTC, s.result.EndTimeUTC)
	}
	return nil
}

func (s *builderScenario) videoIsDisabled() error {
	if s.result.VideoOption {
		return fmt.Errorf("expected video_option=false")
	}
	return nil
}

func (s *builderScenario) videoIsEnabled() error {
	if !s.result.VideoOption {
		return fmt.Errorf("expected video_option=true")
	}
	return nil
}

func (s *builderScenario) rejectedWith(kind string) error {
	var k interface{ Kind() string }
	if !errors.As(s.err, &k) {
		return fmt.Errorf("expected a %s error, got %v", kind, s.err)
	}
	if k.Kind() != kind {
		return fmt.Errorf("expected %s got %s (%v)", kind, k.Kind(), s.err)
	}
	return nil
}

func (s *builderScenario) theReportedLimitIs(n int) error {
	var le *ScheduleLimitExceededError
	if errors.As(s.err, &le) {
		if le.Limit != n {
			return fmt.Errorf("expected limit %d got %d", n, le.Limit)
		}
		return nil
	}
	var it *IntervalTooShortError
	if errors.As(s.err, &it) {
		if it.Minimum != n {
			return fmt.Errorf("expected minimum %d got %d", n, it.Minimum)
		}
		return nil
	}
	return fmt.Errorf("error %v carries no limit", s.err)
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	s := &builderScenario{}

	ctx.Before(func(c context.Context, sc *godog.Scenario) (context.Context, error) {
		s.reset()
		return c, nil
	})

	ctx.Step(`^a "([^"]*)" user with (\d+) existing schedules$`, s.aUserWithExistingSchedules)
	ctx.Step(`^the referenced feed is not an X source$`, s.theFeedIsNotAnXSource)
	ctx.Step(`^the referenced feed is an X source$`, s.theFeedIsAnXSource)
	ctx.Step(`^they submit a schedule every "([^"]*)" minutes from "([^"]*)" to "([^"]*)" in "([^"]*)"$`, s.theySubmit)
	ctx.Step(`^they submit a schedule every "([^"]*)" minutes from "([^"]*)" to "([^"]*)" in "([^"]*)" with video enabled$`, s.theySubmitWithVideo)
	ctx.Step(`^the schedule is accepted$`, s.theScheduleIsAccepted)
	ctx.Step(`^the stored window is "([^"]*)" to "([^"]*)" UTC$`, s.theStoredWindowIs)
	ctx.Step(`^video is disabled$`, s.videoIsDisabled)
	ctx.Step(`^video is enabled$`, s.videoIsEnabled)
	ctx.Step(`^the submission is rejected with "([^"]*)"$`, s.rejectedWith)
	ctx.Step(`^the reported limit is (\d+)$`, s.theReportedLimitIs)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
			Strict:   true,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
