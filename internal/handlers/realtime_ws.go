package handlers

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

type realtimeHub struct {
	mu    sync.Mutex
	conns map[string]map[*websocket.Conn]struct{}
}

func newRealtimeHub() *realtimeHub {
	return &realtimeHub{
		conns: make(map[string]map[*websocket.Conn]struct{}),
	}
}

func (h *realtimeHub) add(userID string, c *websocket.Conn) {
	if h == nil || c == nil || strings.TrimSpace(userID) == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.conns[userID]
	if m == nil {
		m = make(map[*websocket.Conn]struct{})
		h.conns[userID] = m
	}
	m[c] = struct{}{}
}

func (h *realtimeHub) remove(userID string, c *websocket.Conn) {
	if h == nil || c == nil || strings.TrimSpace(userID) == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.conns[userID]
	if m == nil {
		return
	}
	delete(m, c)
	if len(m) == 0 {
		delete(h.conns, userID)
	}
}

func (h *realtimeHub) broadcast(userID string, msg []byte) {
	if h == nil || strings.TrimSpace(userID) == "" || len(msg) == 0 {
		return
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, 8)
	for c := range h.conns[userID] {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if err := websocket.Message.Send(c, string(msg)); err != nil {
			_ = c.Close()
			h.remove(userID, c)
		}
	}
}

func (h *realtimeHub) count(userID string) int {
	if h == nil || strings.TrimSpace(userID) == "" {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[userID])
}

func isLocalhostRemoteAddr(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil && h != "" {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}

// internalAllowed admits loopback connections (local development) and anything presenting the
// internal secret. With no secret configured only loopback is admitted. It guards the events
// socket and the cross-user worker endpoints.
func (h *Handler) internalAllowed(r *http.Request) bool {
	if isLocalhostRemoteAddr(r.RemoteAddr) {
		return true
	}
	if h.identity == nil || h.identity.Secret == "" {
		return false
	}
	return h.identity.SecretOK(r)
}

// EventsPing reports whether the caller would be admitted to the events socket.
// URL: /api/events/ping
func (h *Handler) EventsPing(w http.ResponseWriter, r *http.Request) {
	ok := h.internalAllowed(r)
	resp := map[string]any{
		"ok":       ok,
		"loopback": isLocalhostRemoteAddr(r.RemoteAddr),
		"secSet":   h.identity != nil && h.identity.Secret != "",
	}
	if !ok {
		writeJSON(w, http.StatusForbidden, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type realtimeEvent struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`

	ID       string `json:"id,omitempty"`
	Resource string `json:"resource,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Count    int    `json:"count,omitempty"`
	Status   string `json:"status,omitempty"`
	At       string `json:"at"`
}

const wsHeartbeat = 30 * time.Second

// EventsWebSocket streams a user's realtime events (schedule.created, schedule.due,
// limits.exceeded, ...).
//
// URL: /api/events/ws?userId=...
// Auth: X-Internal-Secret (or loopback only if no secret is configured)
func (h *Handler) EventsWebSocket(w http.ResponseWriter, r *http.Request) {
	if !h.internalAllowed(r) {
		log.Printf("[RealtimeWS] forbidden remote=%s host=%s", r.RemoteAddr, r.Host)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if userID == "" {
		http.Error(w, "missing_userId", http.StatusBadRequest)
		return
	}

	wsServer := websocket.Server{
		// Auth is handled above; the default origin check would reject proxied connections.
		Handshake: func(cfg *websocket.Config, req *http.Request) error {
			return nil
		},
		Handler: func(c *websocket.Conn) {
			log.Printf("[RealtimeWS] connect userId=%s remote=%s", userID, r.RemoteAddr)
			h.rt.add(userID, c)
			defer h.rt.remove(userID, c)
			defer log.Printf("[RealtimeWS] disconnect userId=%s remote=%s", userID, r.RemoteAddr)

			hello := realtimeEvent{Type: "hello", UserID: userID, At: time.Now().UTC().Format(time.RFC3339)}
			if b, err := json.Marshal(hello); err == nil {
				_ = websocket.Message.Send(c, string(b))
			}

			done := make(chan struct{})
			var doneOnce sync.Once
			closeDone := func() { doneOnce.Do(func() { close(done) }) }
			go func() {
				ticker := time.NewTicker(wsHeartbeat)
				defer ticker.Stop()
				for {
					select {
					case <-done:
						return
					case now := <-ticker.C:
						b, _ := json.Marshal(realtimeEvent{Type: "heartbeat", UserID: userID, At: now.UTC().Format(time.RFC3339)})
						if err := websocket.Message.Send(c, string(b)); err != nil {
							closeDone()
							return
						}
					}
				}
			}()

			for {
				var ignored string
				if err := websocket.Message.Receive(c, &ignored); err != nil {
					closeDone()
					break
				}
			}
		},
	}

	wsServer.ServeHTTP(w, r)
}

func (h *Handler) emitEvent(userID string, ev realtimeEvent) {
	if h == nil || h.rt == nil || strings.TrimSpace(userID) == "" {
		return
	}
	ev.UserID = userID
	if strings.TrimSpace(ev.At) == "" {
		ev.At = time.Now().UTC().Format(time.RFC3339)
	}
	b, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[Realtime] marshal_failed userId=%s err=%v", userID, err)
		return
	}
	log.Printf("[Realtime] emit userId=%s type=%s id=%s subs=%d", userID, ev.Type, ev.ID, h.rt.count(userID))
	h.rt.broadcast(userID, b)
}

// NotifyOverCap tells a user they own more schedules than their tier now allows.
func (h *Handler) NotifyOverCap(userID string, schedules, limit int) {
	h.emitEvent(userID, realtimeEvent{Type: "limits.over_cap", Resource: "schedules", Count: schedules, Limit: limit})
}
