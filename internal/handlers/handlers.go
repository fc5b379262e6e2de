package handlers

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/PortNumber53/social-autopilot/backend/internal/feedprobe"
	"github.com/PortNumber53/social-autopilot/backend/internal/middleware"
	"github.com/PortNumber53/social-autopilot/backend/internal/models"
	"github.com/PortNumber53/social-autopilot/backend/internal/schedule"
	"github.com/PortNumber53/social-autopilot/backend/internal/store"
	"github.com/PortNumber53/social-autopilot/backend/internal/tiers"
)

// FeedProber validates a feed URL before it is saved.
type FeedProber interface {
	Probe(ctx context.Context, url string) (feedprobe.Result, error)
}

type Handler struct {
	store    *store.Store
	rt       *realtimeHub
	zones    *schedule.Zones
	prober   FeedProber
	identity *middleware.Identity
	billing  billingConfig
	now      func() time.Time
}

type Option func(*Handler, *[]store.Option)

func WithPolicy(p *tiers.Policy) Option {
	return func(_ *Handler, so *[]store.Option) { *so = append(*so, store.WithPolicy(p)) }
}

func WithZones(z *schedule.Zones) Option {
	return func(h *Handler, so *[]store.Option) {
		h.zones = z
		*so = append(*so, store.WithZones(z))
	}
}

// WithFeedProber enables fetching feeds on creation to validate them and detect their type.
func WithFeedProber(p FeedProber) Option {
	return func(h *Handler, _ *[]store.Option) { h.prober = p }
}

// WithClock fixes the time used for "active now" views and dispatching. Tests only.
func WithClock(now func() time.Time) Option {
	return func(h *Handler, so *[]store.Option) {
		h.now = now
		*so = append(*so, store.WithClock(now))
	}
}

// WithInternalSecret guards worker-facing endpoints (active schedules, realtime events).
func WithInternalSecret(secret string) Option {
	return func(h *Handler, _ *[]store.Option) { h.identity = middleware.NewIdentity(secret) }
}

func New(db *sql.DB, opts ...Option) *Handler {
	h := &Handler{rt: newRealtimeHub(), identity: middleware.NewIdentity(""), now: time.Now}
	var storeOpts []store.Option
	for _, o := range opts {
		o(h, &storeOpts)
	}
	h.store = store.New(db, storeOpts...)
	if h.zones == nil {
		h.zones = schedule.DefaultZones()
	}
	return h
}

// Identity is the header check the router should install in front of RegisterRoutes.
func (h *Handler) Identity() *middleware.Identity {
	return h.identity
}

// Store exposes the persistence layer to background workers sharing this handler.
func (h *Handler) Store() *store.Store {
	return h.store
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type tierRow struct {
	Tier   tiers.Tier   `json:"tier"`
	Limits tiers.Limits `json:"limits"`
}

// GetTiers returns the whole tier table, ordered from smallest to largest schedule cap.
func (h *Handler) GetTiers(w http.ResponseWriter, r *http.Request) {
	p := h.store.Policy()
	out := make([]tierRow, 0)
	for _, t := range p.Tiers() {
		out = append(out, tierRow{Tier: t, Limits: p.LimitsFor(t)})
	}
	writeJSON(w, http.StatusOK, out)
}

type profileResponse struct {
	Profile   *models.Profile        `json:"profile"`
	Tier      tiers.Tier             `json:"tier"`
	Limits    tiers.Limits           `json:"limits"`
	Usage     store.Usage            `json:"usage"`
	Remaining map[tiers.Resource]int `json:"remaining"`
}

var cappedResources = []tiers.Resource{tiers.Schedules, tiers.AiPrompts, tiers.RssFeeds, tiers.LinkedAccounts}

func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID := userFor(r)
	p, err := h.store.GetProfile(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, userID, err)
		return
	}
	usage, err := h.store.UsageCounts(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, userID, err)
		return
	}
	tier := tiers.ParseTier(p.AccessLevel)
	limits := h.store.Policy().LimitsFor(tier)
	remaining := make(map[tiers.Resource]int, len(cappedResources))
	for _, res := range cappedResources {
		n := limits.Max(res) - usage.Of(res)
		if n < 0 {
			n = 0
		}
		remaining[res] = n
	}
	writeJSON(w, http.StatusOK, profileResponse{Profile: p, Tier: tier, Limits: limits, Usage: usage, Remaining: remaining})
}

type dashboardResponse struct {
	*models.Dashboard
	Tier       tiers.Tier `json:"tier"`
	MaxCredits int        `json:"max_credits"`
	Percentage float64    `json:"percentage"`
	Level      string     `json:"level"`
}

// creditLevel buckets the remaining-credit percentage the way the dashboard colors it.
func creditLevel(pct float64) string {
	switch {
	case pct >= 70:
		return "high"
	case pct >= 40:
		return "medium"
	default:
		return "low"
	}
}

func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	userID := userFor(r)
	user, err := h.store.LoadUserContext(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, userID, err)
		return
	}
	d, err := h.store.EnsureDashboard(r.Context(), user)
	if err != nil {
		h.writeDomainError(w, userID, err)
		return
	}
	maxCredits := h.store.Policy().LimitsFor(user.Tier).CreditAllowance
	pct := 0.0
	if maxCredits > 0 {
		pct = float64(d.CurrentCredits) * 100 / float64(maxCredits)
	}
	writeJSON(w, http.StatusOK, dashboardResponse{
		Dashboard:  d,
		Tier:       user.Tier,
		MaxCredits: maxCredits,
		Percentage: pct,
		Level:      creditLevel(pct),
	})
}

type errorBody struct {
	Error   string     `json:"error"`
	Message string     `json:"message"`
	Field   string     `json:"field,omitempty"`
	Tier    tiers.Tier `json:"tier,omitempty"`
	Minimum int        `json:"minimum,omitempty"`
}

const genericFailure = "Something went wrong while saving. Please try again."

// writeDomainError maps store and validation errors onto HTTP responses. Limit errors also notify
// the user's realtime channel.
func (h *Handler) writeDomainError(w http.ResponseWriter, userID string, err error) {
	var (
		missing  *schedule.MissingFieldError
		invalid  *schedule.InvalidFieldError
		short    *schedule.IntervalTooShortError
		schedCap *schedule.ScheduleLimitExceededError
		capErr   *tiers.LimitReachedError
		ref      *store.ReferenceNotFoundError
	)
	switch {
	case errors.As(err, &missing):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: missing.Kind(), Message: missing.Error(), Field: missing.Field})
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: invalid.Kind(), Message: invalid.Error(), Field: invalid.Field})
	case errors.As(err, &short):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: short.Kind(), Message: short.Error(), Field: "minute_intervals", Tier: short.Tier, Minimum: short.Minimum})
	case errors.As(err, &schedCap):
		h.respondLimit(w, userID, schedCap.Kind(), schedCap.Error(), schedCap.Tier, tiers.Schedules, schedCap.Limit)
	case errors.As(err, &capErr):
		h.respondLimit(w, userID, capErr.Kind(), capErr.Error(), capErr.Tier, capErr.Resource, capErr.Limit)
	case errors.As(err, &ref):
		writeJSON(w, http.StatusNotFound, errorBody{Error: ref.Kind(), Message: ref.Error(), Field: ref.Field})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Message: "Not found"})
	default:
		log.Printf("[API] userId=%s err=%v", userID, err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal_error", Message: genericFailure})
	}
}

func (h *Handler) respondLimit(w http.ResponseWriter, userID, kind, msg string, tier tiers.Tier, res tiers.Resource, limit int) {
	log.Printf("[Limits] exceeded userId=%s tier=%s resource=%s limit=%d", userID, tier, res, limit)
	h.emitEvent(userID, realtimeEvent{Type: "limits.exceeded", Resource: string(res), Limit: limit})
	middleware.RespondLimitExceeded(w, middleware.LimitExceeded{
		Kind:     kind,
		Message:  msg,
		Plan:     tier,
		Resource: res,
		Limit:    limit,
		Limits:   h.store.Policy().LimitsFor(tier),
	})
}

func trimmed(s string) string {
	return strings.TrimSpace(s)
}
