package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/PortNumber53/social-autopilot/backend/internal/handlers"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestResolvePort_Default(t *testing.T) {
	got := resolvePort(func(string) string { return "" })
	if got != "18911" {
		t.Fatalf("expected default port 18911, got %q", got)
	}
}

func TestResolvePort_FromEnv(t *testing.T) {
	got := resolvePort(envMap(map[string]string{"PORT": "12345"}))
	if got != "12345" {
		t.Fatalf("expected port 12345, got %q", got)
	}
}

func TestParseIntervalFromEnv(t *testing.T) {
	def := 7 * time.Second

	if got := parseIntervalFromEnv(func(string) string { return "" }, "X", def); got != def {
		t.Fatalf("expected default, got %s", got)
	}
	if got := parseIntervalFromEnv(func(string) string { return "0" }, "X", def); got != def {
		t.Fatalf("expected default on 0, got %s", got)
	}
	if got := parseIntervalFromEnv(func(string) string { return "-1" }, "X", def); got != def {
		t.Fatalf("expected default on -1, got %s", got)
	}
	if got := parseIntervalFromEnv(func(string) string { return "abc" }, "X", def); got != def {
		t.Fatalf("expected default on non-int, got %s", got)
	}
	if got := parseIntervalFromEnv(func(string) string { return "3" }, "X", def); got != 3*time.Second {
		t.Fatalf("expected 3s, got %s", got)
	}
}

func TestBuildRouter_HealthOK(t *testing.T) {
	r := buildRouter(handlers.New(nil))

	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body := rr.Body.String(); body == "" || body[0] != '{' {
		t.Fatalf("expected json response, got %q", body)
	}
}

func TestBuildRouter_IdentityGuardsUserRoutes(t *testing.T) {
	r := buildRouter(handlers.New(nil, handlers.WithInternalSecret("s3cret")))

	req := httptest.NewRequest("GET", "/api/schedules/user/u1", nil)
	req.Header.Set("X-Internal-Secret", "s3cret")
	req.Header.Set("X-User-Id", "u2")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another user's path, got %d", rr.Code)
	}

	req = httptest.NewRequest("GET", "/api/schedules/user/u1", nil)
	req.Header.Set("X-User-Id", "u1")
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without secret, got %d", rr.Code)
	}
}

func TestHandlerOptions_Defaults(t *testing.T) {
	opts, err := handlerOptions(envMap(nil))
	if err != nil {
		t.Fatalf("handlerOptions: %v", err)
	}
	// Internal secret is always configured (possibly empty).
	if len(opts) != 1 {
		t.Fatalf("expected 1 option, got %d", len(opts))
	}
}

func TestHandlerOptions_AllSettings(t *testing.T) {
	dir := t.TempDir()
	limits := filepath.Join(dir, "limits.yaml")
	zones := filepath.Join(dir, "zones.yaml")
	if err := os.WriteFile(limits, []byte(`tiers:
  FREE: {max_schedules: 2, min_interval_minutes: 30, max_ai_prompts: 1, max_rss_feeds: 1, max_linked_accounts: 1, credit_allowance: 10}
`), 0o600); err != nil {
		t.Fatalf("write limits: %v", err)
	}
	if err := os.WriteFile(zones, []byte("zones:\n  - name: UTC\n    label: UTC\n    offset: 0\n"), 0o600); err != nil {
		t.Fatalf("write zones: %v", err)
	}

	opts, err := handlerOptions(envMap(map[string]string{
		"TIER_LIMITS_FILE":      limits,
		"TIMEZONES_FILE":        zones,
		"INTERNAL_API_SECRET":   "s3cret",
		"STRIPE_WEBHOOK_SECRET": "whsec_x",
		"STRIPE_PRICE_TIERS":    "price_a=PRO",
		"FEED_PROBE_ENABLED":    "true",
	}))
	if err != nil {
		t.Fatalf("handlerOptions: %v", err)
	}
	if len(opts) != 5 {
		t.Fatalf("expected 5 options, got %d", len(opts))
	}
	h := handlers.New(nil, opts...)
	if got := h.Store().Policy().LimitsFor("FREE").MaxSchedules; got != 2 {
		t.Fatalf("expected overridden FREE cap 2, got %d", got)
	}
}

func TestHandlerOptions_Errors(t *testing.T) {
	cases := map[string]map[string]string{
		"missing limits file": {"TIER_LIMITS_FILE": filepath.Join(t.TempDir(), "nope.yaml")},
		"missing zones file":  {"TIMEZONES_FILE": filepath.Join(t.TempDir(), "nope.yaml")},
		"bad price mapping":   {"STRIPE_PRICE_TIERS": "price_a"},
	}
	for name, env := range cases {
		if _, err := handlerOptions(envMap(env)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestRun_Smoke_NoRealListen(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectPing()

	stop := make(chan os.Signal, 1)
	stop <- os.Interrupt

	migrated := false
	d := deps{
		getenv: envMap(map[string]string{
			"DATABASE_URL": "postgres://example",
			// keep workers disabled for deterministic tests
		}),
		openDB: func(driverName, dataSourceName string) (*sql.DB, error) {
			if driverName != "postgres" || dataSourceName != "postgres://example" {
				t.Fatalf("unexpected open %s %s", driverName, dataSourceName)
			}
			return db, nil
		},
		migrateUp: func(*sql.DB) error { migrated = true; return nil },
		listenAndServe: func(*http.Server) error {
			// simulate a clean shutdown
			return http.ErrServerClosed
		},
		stopCh: stop,
	}

	if err := run(d); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if !migrated {
		t.Fatalf("expected migrations to run")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestRun_MigrationFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	mock.ExpectPing()

	err = run(deps{
		getenv:         envMap(map[string]string{"DATABASE_URL": "postgres://example"}),
		openDB:         func(string, string) (*sql.DB, error) { return db, nil },
		migrateUp:      func(*sql.DB) error { return errors.New("dirty") },
		listenAndServe: func(*http.Server) error { return http.ErrServerClosed },
	})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestRun_MissingDatabaseURL(t *testing.T) {
	if err := run(deps{getenv: envMap(nil)}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestDefaultDeps_HasRequiredFields(t *testing.T) {
	d := defaultDeps()
	if d.getenv == nil || d.openDB == nil || d.migrateUp == nil || d.listenAndServe == nil || d.notify == nil {
		t.Fatalf("expected all default deps to be non-nil: %#v", d)
	}
}

func TestStartWorkersIfEnabled_EnabledButCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // ensure workers exit immediately

	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	h := handlers.New(db)
	env := envMap(map[string]string{
		"SCHEDULE_DISPATCH_ENABLED":    "true",
		"LIMIT_AUDIT_ENABLED":          "1",
		"LIMIT_AUDIT_INTERVAL_SECONDS": "1",
	})
	startScheduleDispatcherIfEnabled(ctx, h, env)
	startLimitAuditIfEnabled(ctx, h, env)
}

func TestRun_MissingOpenDB(t *testing.T) {
	err := run(deps{
		getenv:         envMap(map[string]string{"DATABASE_URL": "postgres://example"}),
		openDB:         nil,
		listenAndServe: func(*http.Server) error { return http.ErrServerClosed },
	})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestMigrateUp_NilDB(t *testing.T) {
	if err := migrateUp(nil); err == nil {
		t.Fatalf("expected error")
	}
}
