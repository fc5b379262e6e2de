package tiers

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefault_AllTiersPositive(t *testing.T) {
	p := Default()
	for _, tier := range []Tier{Free, Beginner, Pro, Business, Student} {
		if !p.Known(tier) {
			t.Fatalf("expected tier %s in default table", tier)
		}
		l := p.LimitsFor(tier)
		if l.MinIntervalMinutes <= 0 || l.MaxSchedules <= 0 {
			t.Fatalf("tier %s has non-positive limits: %#v", tier, l)
		}
	}
}

func TestLimitsFor_CanonicalTable(t *testing.T) {
	cases := map[Tier]Limits{
		Free:     {MaxSchedules: 1, MinIntervalMinutes: 60, MaxAiPrompts: 1, MaxRssFeeds: 1, MaxLinkedAccounts: 1, CreditAllowance: 20},
		Beginner: {MaxSchedules: 2, MinIntervalMinutes: 30, MaxAiPrompts: 2, MaxRssFeeds: 2, MaxLinkedAccounts: 2, CreditAllowance: 150},
		Pro:      {MaxSchedules: 5, MinIntervalMinutes: 15, MaxAiPrompts: 5, MaxRssFeeds: 5, MaxLinkedAccounts: 5, CreditAllowance: 300},
		Business: {MaxSchedules: 10, MinIntervalMinutes: 5, MaxAiPrompts: 10, MaxRssFeeds: 10, MaxLinkedAccounts: 10, CreditAllowance: 500},
	}
	for tier, want := range cases {
		if got := LimitsFor(tier); got != want {
			t.Fatalf("tier %s: expected %#v got %#v", tier, want, got)
		}
	}
}

func TestLimitsFor_UnknownFailsClosedToFree(t *testing.T) {
	free := LimitsFor(Free)
	for _, raw := range []string{"", "PLATINUM", "admin"} {
		if got := LimitsFor(Tier(raw)); got != free {
			t.Fatalf("tier %q: expected FREE limits got %#v", raw, got)
		}
	}
}

func TestLimitsFor_CaseInsensitive(t *testing.T) {
	if got := LimitsFor(Tier(" pro ")); got != LimitsFor(Pro) {
		t.Fatalf("expected PRO limits for lowercase input, got %#v", got)
	}
}

func TestTiers_Ordered(t *testing.T) {
	got := Default().Tiers()
	if len(got) != 5 {
		t.Fatalf("expected 5 tiers got %v", got)
	}
	if got[0] != Free || got[len(got)-1] != Business {
		t.Fatalf("unexpected ordering %v", got)
	}
}

func TestParse_RejectsNonPositive(t *testing.T) {
	doc := []byte(`
tiers:
  FREE:
    max_schedules: 0
    min_interval_minutes: 60
    max_ai_prompts: 1
    max_rss_feeds: 1
    max_linked_accounts: 1
    credit_allowance: 20
`)
	if _, err := Parse(doc); err == nil {
		t.Fatalf("expected error for zero max_schedules")
	}
}

func TestParse_RequiresFree(t *testing.T) {
	doc := []byte(`
tiers:
  PRO:
    max_schedules: 5
    min_interval_minutes: 15
    max_ai_prompts: 5
    max_rss_feeds: 5
    max_linked_accounts: 5
    credit_allowance: 300
`)
	if _, err := Parse(doc); err == nil {
		t.Fatalf("expected error when FREE is missing")
	}
}

func TestParse_RejectsUnknownField(t *testing.T) {
	doc := []byte(`
tiers:
  FREE:
    max_schedules: 1
    min_interval_minutes: 60
    max_ai_prompts: 1
    max_rss_feeds: 1
    max_linked_accounts: 1
    credit_allowance: 20
    max_teams: 3
`)
	if _, err := Parse(doc); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoad_Override(t *testing.T) {
	path := filepath.Join(t.TempDir(), "limits.yaml")
	doc := []byte(`
tiers:
  free:
    max_schedules: 3
    min_interval_minutes: 10
    max_ai_prompts: 1
    max_rss_feeds: 1
    max_linked_accounts: 1
    credit_allowance: 20
`)
	if err := os.WriteFile(path, doc, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := p.LimitsFor(Business).MaxSchedules; got != 3 {
		t.Fatalf("expected unknown tier to fall back to overridden FREE, got %d", got)
	}
}

func TestLoad_EmptyPathIsDefault(t *testing.T) {
	p, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p != Default() {
		t.Fatalf("expected default policy")
	}
}

func TestCheckCapacity(t *testing.T) {
	l := LimitsFor(Beginner)

	if err := CheckCapacity(AiPrompts, 1, Beginner, l); err != nil {
		t.Fatalf("expected capacity at 1/2, got %v", err)
	}

	err := CheckCapacity(AiPrompts, 2, Beginner, l)
	var lr *LimitReachedError
	if !errors.As(err, &lr) {
		t.Fatalf("expected LimitReachedError got %v", err)
	}
	if lr.Limit != 2 || lr.Resource != AiPrompts || lr.Tier != Beginner {
		t.Fatalf("unexpected error payload %#v", lr)
	}
	if lr.Error() != "BEGINNER accounts can only create 2 AI prompt(s)" {
		t.Fatalf("unexpected message %q", lr.Error())
	}
}

func TestCheckCapacity_UnknownResourceAlwaysFull(t *testing.T) {
	if err := CheckCapacity(Resource("teams"), 0, Pro, LimitsFor(Pro)); err == nil {
		t.Fatalf("expected unknown resource to be rejected")
	}
}
