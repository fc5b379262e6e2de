package handlers

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/PortNumber53/social-autopilot/backend/internal/models"
	"github.com/PortNumber53/social-autopilot/backend/internal/schedule"
)

// scheduleView adds the user's local display fields to a stored schedule.
type scheduleView struct {
	models.Schedule
	StartTimeLocal string   `json:"start_time"`
	EndTimeLocal   string   `json:"end_time"`
	TimezoneLabel  string   `json:"timezone_label"`
	Days           []string `json:"days"`
	// ActiveNow is true while the current UTC time is inside the schedule's window.
	ActiveNow bool `json:"active_now"`
	NoDays    bool `json:"no_days"`
}

func (h *Handler) viewOf(s models.Schedule) scheduleView {
	v := scheduleView{
		Schedule:       s,
		StartTimeLocal: s.StartTimeUTC,
		EndTimeLocal:   s.EndTimeUTC,
		TimezoneLabel:  s.Timezone,
		Days:           s.Labels(),
		ActiveNow:      schedule.InWindow(s, h.now()),
		NoDays:         !s.Any(),
	}
	zone, ok := h.zones.Lookup(s.Timezone)
	if !ok {
		// The zone table changed since the schedule was saved; show UTC rather than guess.
		return v
	}
	v.TimezoneLabel = zone.Label
	if start, err := h.zones.FromUTC(s.StartTimeUTC, s.Timezone); err == nil {
		v.StartTimeLocal = start
	}
	if end, err := h.zones.FromUTC(s.EndTimeUTC, s.Timezone); err == nil {
		v.EndTimeLocal = end
	}
	return v
}

func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	userID := userFor(r)
	list, err := h.store.ListSchedules(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, userID, err)
		return
	}
	out := make([]scheduleView, 0, len(list))
	for _, s := range list {
		out = append(out, h.viewOf(s))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	userID := userFor(r)
	var req schedule.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := h.store.CreateSchedule(r.Context(), userID, req)
	if err != nil {
		h.writeDomainError(w, userID, err)
		return
	}
	log.Printf("[Schedules] created userId=%s scheduleId=%s window=%s-%s utc interval=%d video=%v",
		userID, created.ID, created.StartTimeUTC, created.EndTimeUTC, created.MinuteIntervals, created.VideoOption)
	if !created.Any() {
		log.Printf("[Schedules] scheduleId=%s has no active days and will not fire", created.ID)
	}
	h.emitEvent(userID, realtimeEvent{Type: "schedule.created", ID: created.ID})
	writeJSON(w, http.StatusCreated, h.viewOf(*created))
}

func (h *Handler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	h.deleteResource(w, r, "schedule", h.store.DeleteSchedule)
}

type activeSchedule struct {
	models.Schedule
	Due bool `json:"due"`
}

// ActiveSchedules lists schedules whose window contains ?at= (RFC3339, default now). It is
// called by the posting worker and lists every user's schedules, so it requires the internal
// secret (or a loopback caller when no secret is configured).
//
// URL: /api/schedules/active?at=...
func (h *Handler) ActiveSchedules(w http.ResponseWriter, r *http.Request) {
	if !h.internalAllowed(r) {
		log.Printf("[Schedules] active listing refused remote=%s", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	at := time.Now().UTC()
	if raw := strings.TrimSpace(r.URL.Query().Get("at")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "at must be an RFC3339 timestamp")
			return
		}
		at = parsed
	}
	list, err := h.store.ActiveSchedules(r.Context(), at)
	if err != nil {
		h.writeDomainError(w, "", err)
		return
	}
	out := make([]activeSchedule, 0, len(list))
	for _, s := range list {
		out = append(out, activeSchedule{Schedule: s, Due: schedule.IsDue(s, at)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"at": at.UTC().Format(time.RFC3339), "schedules": out})
}
