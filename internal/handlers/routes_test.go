package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
)

func TestRegisterRoutes_Matches(t *testing.T) {
	r := mux.NewRouter()
	RegisterRoutes(New(nil), r)

	cases := []struct {
		method, path string
		vars         map[string]string
	}{
		{http.MethodGet, "/health", nil},
		{http.MethodGet, "/api/tiers", nil},
		{http.MethodGet, "/api/profile/user/u1", map[string]string{"userId": "u1"}},
		{http.MethodGet, "/api/dashboard/user/u1", map[string]string{"userId": "u1"}},
		{http.MethodPost, "/api/rss-feeds/user/u1", map[string]string{"userId": "u1"}},
		{http.MethodDelete, "/api/rss-feeds/f1/user/u1", map[string]string{"userId": "u1", "id": "f1"}},
		{http.MethodPost, "/api/ai-prompts/user/u1", map[string]string{"userId": "u1"}},
		{http.MethodDelete, "/api/x-credentials/c1/user/u1", map[string]string{"userId": "u1", "id": "c1"}},
		{http.MethodGet, "/api/x-credentials/user/u1/latest-posts", map[string]string{"userId": "u1"}},
		{http.MethodGet, "/api/schedules/active", nil},
		{http.MethodPost, "/api/schedules/user/u1", map[string]string{"userId": "u1"}},
		{http.MethodDelete, "/api/schedules/s1/user/u1", map[string]string{"userId": "u1", "id": "s1"}},
		{http.MethodPost, "/api/events/ping", nil},
		{http.MethodGet, "/api/events/ws", nil},
		{http.MethodPost, "/webhook/stripe", nil},
	}
	for _, c := range cases {
		var m mux.RouteMatch
		if !r.Match(httptest.NewRequest(c.method, c.path, nil), &m) || m.MatchErr != nil {
			t.Fatalf("%s %s did not match (err=%v)", c.method, c.path, m.MatchErr)
		}
		for k, v := range c.vars {
			if m.Vars[k] != v {
				t.Fatalf("%s %s: expected %s=%s got %#v", c.method, c.path, k, v, m.Vars)
			}
		}
	}

	var m mux.RouteMatch
	if r.Match(httptest.NewRequest(http.MethodPut, "/api/schedules/user/u1", nil), &m) && m.MatchErr == nil {
		t.Fatalf("expected PUT to be rejected")
	}
}
