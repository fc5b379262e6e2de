package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/PortNumber53/social-autopilot/backend/db"
	"github.com/PortNumber53/social-autopilot/backend/internal/feedprobe"
	"github.com/PortNumber53/social-autopilot/backend/internal/handlers"
	"github.com/PortNumber53/social-autopilot/backend/internal/schedule"
	"github.com/PortNumber53/social-autopilot/backend/internal/tiers"
	"github.com/PortNumber53/social-autopilot/backend/internal/workers"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/cors"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := run(defaultDeps()); err != nil {
		log.Fatal(err)
	}
}

type deps struct {
	getenv         func(string) string
	openDB         func(driverName, dataSourceName string) (*sql.DB, error)
	migrateUp      func(*sql.DB) error
	listenAndServe func(*http.Server) error
	stopCh         chan os.Signal
	notify         func(c chan<- os.Signal, sig ...os.Signal)
}

func defaultDeps() deps {
	return deps{
		getenv:         os.Getenv,
		openDB:         sql.Open,
		migrateUp:      migrateUp,
		listenAndServe: func(srv *http.Server) error { return srv.ListenAndServe() },
		notify:         signal.Notify,
	}
}

func migrateUp(conn *sql.DB) error {
	if conn == nil {
		return errors.New("db is nil")
	}
	return db.Up(conn)
}

func run(d deps) error {
	if d.getenv == nil {
		d.getenv = os.Getenv
	}
	databaseURL := d.getenv("DATABASE_URL")
	if databaseURL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}
	if d.openDB == nil {
		return errors.New("openDB is required")
	}

	conn, err := d.openDB("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close()

	if err := conn.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if d.migrateUp != nil {
		if err := d.migrateUp(conn); err != nil {
			return fmt.Errorf("database migration failed: %w", err)
		}
		log.Println("Database is up-to-date")
	}

	opts, err := handlerOptions(d.getenv)
	if err != nil {
		return err
	}
	h := handlers.New(conn, opts...)

	// Root context for background workers and graceful shutdown
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startScheduleDispatcherIfEnabled(rootCtx, h, d.getenv)
	startLimitAuditIfEnabled(rootCtx, h, d.getenv)

	port := resolvePort(d.getenv)
	srv := &http.Server{
		Handler:      buildRouter(h),
		Addr:         ":" + port,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	// Handle graceful shutdown on SIGINT/SIGTERM
	stop := d.stopCh
	if stop == nil {
		stop = make(chan os.Signal, 1)
	}
	if d.notify != nil {
		d.notify(stop, os.Interrupt, syscall.SIGTERM)
	}
	go func() {
		<-stop
		log.Println("Shutting down server...")
		cancel()
		ctx, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("Server starting on port %s", port)
	if err := d.listenAndServe(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Println("Server stopped")
	return nil
}

// handlerOptions turns environment settings into handler options. A broken override file is a
// startup error rather than a silent fallback to the built-in tables.
func handlerOptions(getenv func(string) string) ([]handlers.Option, error) {
	var opts []handlers.Option

	if path := strings.TrimSpace(getenv("TIER_LIMITS_FILE")); path != "" {
		p, err := tiers.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load tier limits: %w", err)
		}
		log.Printf("[Config] tier limits loaded from %s", path)
		opts = append(opts, handlers.WithPolicy(p))
	}

	if path := strings.TrimSpace(getenv("TIMEZONES_FILE")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read timezones: %w", err)
		}
		z, err := schedule.ParseZones(data)
		if err != nil {
			return nil, fmt.Errorf("parse timezones %s: %w", path, err)
		}
		log.Printf("[Config] %d timezones loaded from %s", len(z.List()), path)
		opts = append(opts, handlers.WithZones(z))
	}

	opts = append(opts, handlers.WithInternalSecret(getenv("INTERNAL_API_SECRET")))

	if raw := strings.TrimSpace(getenv("STRIPE_PRICE_TIERS")); raw != "" || getenv("STRIPE_WEBHOOK_SECRET") != "" {
		prices, err := handlers.ParsePriceTiers(raw)
		if err != nil {
			return nil, fmt.Errorf("STRIPE_PRICE_TIERS: %w", err)
		}
		opts = append(opts, handlers.WithStripe(getenv("STRIPE_WEBHOOK_SECRET"), prices))
	}

	if enabled(getenv, "FEED_PROBE_ENABLED") {
		cfg := feedprobe.ConfigFromEnv(getenv)
		log.Printf("[Config] feed probe enabled rps=%v burst=%d timeout=%s", cfg.RequestsPerSecond, cfg.Burst, cfg.Timeout)
		opts = append(opts, handlers.WithFeedProber(feedprobe.New(cfg)))
	}
	return opts, nil
}

func enabled(getenv func(string) string, key string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(getenv(key)))
	return err == nil && v
}

func startScheduleDispatcherIfEnabled(ctx context.Context, h *handlers.Handler, getenv func(string) string) {
	if !enabled(getenv, "SCHEDULE_DISPATCH_ENABLED") {
		log.Printf("[ScheduleDispatch] disabled via SCHEDULE_DISPATCH_ENABLED=%q", getenv("SCHEDULE_DISPATCH_ENABLED"))
		return
	}
	interval := parseIntervalFromEnv(getenv, "SCHEDULE_DISPATCH_INTERVAL_SECONDS", time.Minute)
	go h.StartScheduleDispatcher(ctx, interval)
}

func startLimitAuditIfEnabled(ctx context.Context, h *handlers.Handler, getenv func(string) string) {
	if !enabled(getenv, "LIMIT_AUDIT_ENABLED") {
		log.Printf("[LimitAuditWorker] disabled via LIMIT_AUDIT_ENABLED=%q", getenv("LIMIT_AUDIT_ENABLED"))
		return
	}
	interval := parseIntervalFromEnv(getenv, "LIMIT_AUDIT_INTERVAL_SECONDS", 15*time.Minute)
	w := &workers.LimitAuditWorker{
		Source:          h.Store(),
		Notify:          h.NotifyOverCap,
		CheckIntervalMs: int(interval / time.Millisecond),
	}
	go w.Start(ctx)
}

func buildRouter(h *handlers.Handler) http.Handler {
	r := mux.NewRouter()
	r.Use(h.Identity().Middleware)
	handlers.RegisterRoutes(h, r)

	// CORS middleware
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

func resolvePort(getenv func(string) string) string {
	port := strings.TrimSpace(getenv("PORT"))
	if port == "" {
		port = "18911"
	}
	return port
}

// parseIntervalFromEnv reads a positive number of seconds from key, falling back to def.
func parseIntervalFromEnv(getenv func(string) string, key string, def time.Duration) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(getenv(key)))
	if err != nil || secs <= 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}
