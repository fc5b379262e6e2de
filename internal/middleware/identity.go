package middleware

import (
	"context"
	"crypto/subtle"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

type contextKey string

const userIDKey contextKey = "user_id"

// Identity checks the headers forwarded by the auth proxy. It is installed with Router.Use, and
// requests to routes with a {userId} variable must come from that user (X-User-Id); when Secret is set every guarded
// request must also present it in X-Internal-Secret.
type Identity struct {
	Secret string
}

func NewIdentity(secret string) *Identity {
	return &Identity{Secret: strings.TrimSpace(secret)}
}

func (id *Identity) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id.shouldSkip(r) {
			next.ServeHTTP(w, r)
			return
		}

		if !id.SecretOK(r) {
			log.Printf("[Identity] rejected path=%s reason=bad_secret remote=%s", r.URL.Path, r.RemoteAddr)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		pathUser := extractUserID(r)
		if pathUser == "" {
			next.ServeHTTP(w, r)
			return
		}
		caller := strings.TrimSpace(r.Header.Get("X-User-Id"))
		if caller == "" || caller != pathUser {
			log.Printf("[Identity] rejected path=%s reason=user_mismatch caller=%q", r.URL.Path, caller)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), caller)))
	})
}

// SecretOK reports whether r carries the configured internal secret. With no secret configured
// every request passes.
func (id *Identity) SecretOK(r *http.Request) bool {
	if id == nil || id.Secret == "" {
		return true
	}
	got := strings.TrimSpace(r.Header.Get("X-Internal-Secret"))
	return subtle.ConstantTimeCompare([]byte(got), []byte(id.Secret)) == 1
}

func (id *Identity) shouldSkip(r *http.Request) bool {
	if r.Method == http.MethodOptions {
		return true
	}
	// Public routes and routes that authenticate themselves.
	skipPaths := []string{
		"/health",
		"/api/tiers",
		"/api/events",
		"/webhook/stripe",
	}
	for _, path := range skipPaths {
		if strings.HasPrefix(r.URL.Path, path) {
			return true
		}
	}
	return false
}

// extractUserID returns the {userId} route variable. The middleware runs after the router has
// matched, so this is the same value the handler reads.
func extractUserID(r *http.Request) string {
	return strings.TrimSpace(mux.Vars(r)["userId"])
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFrom returns the authenticated caller set by Identity, if any.
func UserIDFrom(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(userIDKey).(string)
	return v, ok && v != ""
}
