package handlers

import (
	"github.com/gorilla/mux"
)

// RegisterRoutes registers every API route on r.
func RegisterRoutes(h *Handler, r *mux.Router) {
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/api/tiers", h.GetTiers).Methods("GET")

	r.HandleFunc("/api/profile/user/{userId}", h.GetProfile).Methods("GET")
	r.HandleFunc("/api/dashboard/user/{userId}", h.GetDashboard).Methods("GET")

	r.HandleFunc("/api/rss-feeds/user/{userId}", h.ListRssFeeds).Methods("GET")
	r.HandleFunc("/api/rss-feeds/user/{userId}", h.CreateRssFeed).Methods("POST")
	r.HandleFunc("/api/rss-feeds/{id}/user/{userId}", h.DeleteRssFeed).Methods("DELETE")

	r.HandleFunc("/api/ai-prompts/user/{userId}", h.ListAiPrompts).Methods("GET")
	r.HandleFunc("/api/ai-prompts/user/{userId}", h.CreateAiPrompt).Methods("POST")
	r.HandleFunc("/api/ai-prompts/{id}/user/{userId}", h.DeleteAiPrompt).Methods("DELETE")

	r.HandleFunc("/api/x-credentials/user/{userId}", h.ListXCredentials).Methods("GET")
	r.HandleFunc("/api/x-credentials/user/{userId}", h.CreateXCredential).Methods("POST")
	r.HandleFunc("/api/x-credentials/user/{userId}/latest-posts", h.LatestPosts).Methods("GET")
	r.HandleFunc("/api/x-credentials/{id}/user/{userId}", h.DeleteXCredential).Methods("DELETE")

	r.HandleFunc("/api/schedules/active", h.ActiveSchedules).Methods("GET")
	r.HandleFunc("/api/schedules/user/{userId}", h.ListSchedules).Methods("GET")
	r.HandleFunc("/api/schedules/user/{userId}", h.CreateSchedule).Methods("POST")
	r.HandleFunc("/api/schedules/{id}/user/{userId}", h.DeleteSchedule).Methods("DELETE")

	// Realtime events; both authenticate themselves (loopback or internal secret).
	r.HandleFunc("/api/events/ping", h.EventsPing).Methods("POST")
	r.HandleFunc("/api/events/ws", h.EventsWebSocket).Methods("GET")

	r.HandleFunc("/webhook/stripe", h.StripeWebhook).Methods("POST")
}
