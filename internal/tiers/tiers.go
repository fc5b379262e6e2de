// Package tiers maps subscription tiers to the numeric resource limits they grant.
//
// The table itself lives in limits.yaml and is embedded at build time; callers always look up
// concrete numbers instead of comparing tiers with each other.
package tiers

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

type Tier string

const (
	Free     Tier = "FREE"
	Beginner Tier = "BEGINNER"
	Pro      Tier = "PRO"
	Business Tier = "BUSINESS"
	Student  Tier = "STUDENT"
)

// ParseTier normalizes a stored access level. Unknown values are returned as-is (uppercased) so
// they can still be displayed; LimitsFor treats them as Free.
func ParseTier(s string) Tier {
	return Tier(strings.ToUpper(strings.TrimSpace(s)))
}

// Limits are the numeric caps for one tier.
type Limits struct {
	MaxSchedules       int `yaml:"max_schedules" json:"max_schedules"`
	MinIntervalMinutes int `yaml:"min_interval_minutes" json:"min_interval_minutes"`
	MaxAiPrompts       int `yaml:"max_ai_prompts" json:"max_ai_prompts"`
	MaxRssFeeds        int `yaml:"max_rss_feeds" json:"max_rss_feeds"`
	MaxLinkedAccounts  int `yaml:"max_linked_accounts" json:"max_linked_accounts"`
	CreditAllowance    int `yaml:"credit_allowance" json:"credit_allowance"`
}

// Max returns the cap that applies to the given resource kind.
func (l Limits) Max(r Resource) int {
	switch r {
	case Schedules:
		return l.MaxSchedules
	case AiPrompts:
		return l.MaxAiPrompts
	case RssFeeds:
		return l.MaxRssFeeds
	case LinkedAccounts:
		return l.MaxLinkedAccounts
	default:
		return 0
	}
}

func (l Limits) validate() error {
	vals := map[string]int{
		"max_schedules":        l.MaxSchedules,
		"min_interval_minutes": l.MinIntervalMinutes,
		"max_ai_prompts":       l.MaxAiPrompts,
		"max_rss_feeds":        l.MaxRssFeeds,
		"max_linked_accounts":  l.MaxLinkedAccounts,
		"credit_allowance":     l.CreditAllowance,
	}
	for k, v := range vals {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", k, v)
		}
	}
	return nil
}

// Policy is an immutable tier -> limits table.
type Policy struct {
	table map[Tier]Limits
}

type document struct {
	Tiers map[Tier]Limits `yaml:"tiers"`
}

//go:embed limits.yaml
var defaultLimitsYAML []byte

var (
	defaultOnce   sync.Once
	defaultPolicy *Policy
)

// Default returns the policy built from the embedded table.
func Default() *Policy {
	defaultOnce.Do(func() {
		p, err := Parse(defaultLimitsYAML)
		if err != nil {
			panic(fmt.Sprintf("tiers: embedded limits.yaml is invalid: %v", err))
		}
		defaultPolicy = p
	})
	return defaultPolicy
}

// Parse builds a policy from a YAML document shaped like limits.yaml.
func Parse(data []byte) (*Policy, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode tier limits: %w", err)
	}
	table := make(map[Tier]Limits, len(doc.Tiers))
	for t, l := range doc.Tiers {
		tier := ParseTier(string(t))
		if err := l.validate(); err != nil {
			return nil, fmt.Errorf("tier %s: %w", tier, err)
		}
		table[tier] = l
	}
	if _, ok := table[Free]; !ok {
		return nil, fmt.Errorf("tier limits must define %s", Free)
	}
	return &Policy{table: table}, nil
}

// Load reads a policy override from path. An empty path yields the embedded default.
func Load(path string) (*Policy, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tier limits %s: %w", path, err)
	}
	return Parse(data)
}

// LimitsFor returns the limits for t. Unrecognized tiers get the Free row.
func (p *Policy) LimitsFor(t Tier) Limits {
	if p == nil {
		p = Default()
	}
	if l, ok := p.table[ParseTier(string(t))]; ok {
		return l
	}
	return p.table[Free]
}

// Known reports whether t has its own row in the table.
func (p *Policy) Known(t Tier) bool {
	if p == nil {
		p = Default()
	}
	_, ok := p.table[ParseTier(string(t))]
	return ok
}

// Tiers lists the configured tiers ordered by schedule cap, then name.
func (p *Policy) Tiers() []Tier {
	if p == nil {
		p = Default()
	}
	out := make([]Tier, 0, len(p.table))
	for t := range p.table {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		li, lj := p.table[out[i]], p.table[out[j]]
		if li.MaxSchedules != lj.MaxSchedules {
			return li.MaxSchedules < lj.MaxSchedules
		}
		return out[i] < out[j]
	})
	return out
}

// LimitsFor looks t up in the default policy.
func LimitsFor(t Tier) Limits {
	return Default().LimitsFor(t)
}
