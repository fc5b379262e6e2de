package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/PortNumber53/social-autopilot/backend/internal/middleware"
	"github.com/gorilla/mux"
)

// Form bodies are small; anything larger is rejected before decoding.
const maxRequestBodyBytes = 1 << 20

// writeJSON encodes v as JSON with the provided status code. Encode errors are ignored since the
// header is already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(v)
}

// writeError is for transport-level failures (bad JSON, auth). Domain errors go through
// writeDomainError so clients get a structured body.
func writeError(w http.ResponseWriter, status int, msg string) {
	http.Error(w, msg, status)
}

// pathVar returns the trimmed mux path var value (or empty string if missing).
func pathVar(r *http.Request, key string) string {
	return strings.TrimSpace(mux.Vars(r)[key])
}

// userFor returns the caller authenticated by the identity middleware, or the {userId} route
// variable when the middleware did not run.
func userFor(r *http.Request) string {
	if id, ok := middleware.UserIDFrom(r.Context()); ok {
		return id
	}
	return pathVar(r, "userId")
}

// decodeJSON decodes a bounded JSON request body. Unknown fields are ignored so older clients
// keep working.
func decodeJSON(r *http.Request, dst any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes)).Decode(dst)
	if errors.Is(err, io.EOF) {
		return errors.New("request body is empty")
	}
	return err
}
