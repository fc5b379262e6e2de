package main

import (
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/PortNumber53/social-autopilot/backend/db"
	"github.com/golang-migrate/migrate/v4"
)

func envWithDB(k string) string {
	if k == "DATABASE_URL" {
		return "postgres://example"
	}
	return ""
}

type fakeMigrator struct {
	upCalls    int
	forceCalls []int
	version    uint
	dirty      bool
	versionErr error
}

func (f *fakeMigrator) Up() error                    { f.upCalls++; return nil }
func (f *fakeMigrator) Down() error                  { return nil }
func (f *fakeMigrator) Steps(int) error              { return nil }
func (f *fakeMigrator) Force(v int) error            { f.forceCalls = append(f.forceCalls, v); return nil }
func (f *fakeMigrator) Version() (uint, bool, error) { return f.version, f.dirty, f.versionErr }

func stubMigrator(t *testing.T, fm db.Migrator) {
	t.Helper()
	prev := newMigrator
	t.Cleanup(func() { newMigrator = prev })
	newMigrator = func(*sql.DB) (db.Migrator, error) { return fm, nil }
}

func TestParseArgs_Defaults(t *testing.T) {
	o, err := parseArgs(nil)
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if o.direction != "up" || o.steps != 0 || o.force != -1 || o.forceDirty || o.showVersion {
		t.Fatalf("unexpected defaults %#v", o)
	}
}

func TestParseArgs_Invalid(t *testing.T) {
	if _, err := parseArgs([]string{"-direction", "sideways"}); err == nil {
		t.Fatalf("expected direction error")
	}
	if _, err := parseArgs([]string{"-steps", "-1"}); err == nil {
		t.Fatalf("expected steps error")
	}
}

func TestRun_MissingDatabaseURL(t *testing.T) {
	_, err := run(nil, deps{
		getenv: func(string) string { return "" },
		openDB: func(string, string) (*sql.DB, error) {
			t.Fatalf("openDB should not be called")
			return nil, nil
		},
	})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestRun_NoChange(t *testing.T) {
	conn, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer conn.Close()

	var gotDir string
	var gotSteps int
	msg, err := run([]string{"-direction", "up"}, deps{
		loadEnv: func(...string) error { return nil },
		getenv:  envWithDB,
		openDB:  func(string, string) (*sql.DB, error) { return conn, nil },
		migrateF: func(_ *sql.DB, direction string, steps int) error {
			gotDir, gotSteps = direction, steps
			return migrate.ErrNoChange
		},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if gotDir != "up" || gotSteps != 0 {
		t.Fatalf("expected up/0, got %q/%d", gotDir, gotSteps)
	}
	if msg != "No migrations to apply" {
		t.Fatalf("unexpected msg %q", msg)
	}
}

func TestRun_StepsDown(t *testing.T) {
	conn, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer conn.Close()

	msg, err := run([]string{"-direction", "down", "-steps", "2"}, deps{
		getenv: envWithDB,
		openDB: func(string, string) (*sql.DB, error) { return conn, nil },
		migrateF: func(_ *sql.DB, direction string, steps int) error {
			if direction != "down" || steps != 2 {
				t.Fatalf("expected down/2, got %q/%d", direction, steps)
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if msg != "Migration down completed successfully" {
		t.Fatalf("unexpected msg %q", msg)
	}
}

func TestRun_OpenDBAndMigrateErrors(t *testing.T) {
	if _, err := run(nil, deps{
		getenv: envWithDB,
		openDB: func(string, string) (*sql.DB, error) { return nil, sql.ErrConnDone },
	}); err == nil {
		t.Fatalf("expected open error")
	}

	conn, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer conn.Close()

	if _, err := run(nil, deps{
		getenv:   envWithDB,
		openDB:   func(string, string) (*sql.DB, error) { return conn, nil },
		migrateF: func(*sql.DB, string, int) error { return sql.ErrTxDone },
	}); err == nil {
		t.Fatalf("expected migrate error")
	}
}

func TestRun_ForceVersion(t *testing.T) {
	conn, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer conn.Close()

	fm := &fakeMigrator{}
	stubMigrator(t, fm)

	msg, err := run([]string{"-force", "2"}, deps{
		getenv: envWithDB,
		openDB: func(string, string) (*sql.DB, error) { return conn, nil },
		migrateF: func(*sql.DB, string, int) error {
			t.Fatalf("migrateF should not be called when forcing")
			return nil
		},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if msg != "Forced database to version 2" {
		t.Fatalf("unexpected msg %q", msg)
	}
	if len(fm.forceCalls) != 1 || fm.forceCalls[0] != 2 {
		t.Fatalf("expected Force(2), got %#v", fm.forceCalls)
	}
}

func TestRun_ForceDirty(t *testing.T) {
	conn, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer conn.Close()

	clean := &fakeMigrator{version: 2}
	stubMigrator(t, clean)
	msg, err := run([]string{"-force-dirty"}, deps{getenv: envWithDB, openDB: func(string, string) (*sql.DB, error) { return conn, nil }})
	if err != nil || msg != "Database is not dirty (no force needed)" {
		t.Fatalf("unexpected %q err=%v", msg, err)
	}

	dirty := &fakeMigrator{version: 1, dirty: true}
	stubMigrator(t, dirty)
	msg, err = run([]string{"-force-dirty"}, deps{getenv: envWithDB, openDB: func(string, string) (*sql.DB, error) { return conn, nil }})
	if err != nil || msg != "Forced dirty database to version 1" {
		t.Fatalf("unexpected %q err=%v", msg, err)
	}
}

func TestRun_Version(t *testing.T) {
	conn, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer conn.Close()

	stubMigrator(t, &fakeMigrator{versionErr: migrate.ErrNilVersion})
	msg, err := run([]string{"-version"}, deps{getenv: envWithDB, openDB: func(string, string) (*sql.DB, error) { return conn, nil }})
	if err != nil || msg != "No migrations applied yet" {
		t.Fatalf("unexpected %q err=%v", msg, err)
	}

	stubMigrator(t, &fakeMigrator{version: 2})
	msg, err = run([]string{"-version"}, deps{getenv: envWithDB, openDB: func(string, string) (*sql.DB, error) { return conn, nil }})
	if err != nil || msg != "Schema version 2 (dirty=false)" {
		t.Fatalf("unexpected %q err=%v", msg, err)
	}
}

func TestPerformMigrations_AppliesUp(t *testing.T) {
	fm := &fakeMigrator{}
	stubMigrator(t, fm)
	if err := performMigrations(nil, "up", 0); err != nil {
		t.Fatalf("performMigrations: %v", err)
	}
	if fm.upCalls != 1 {
		t.Fatalf("expected Up called once, got %d", fm.upCalls)
	}
}

func TestDefaultDeps_NonNil(t *testing.T) {
	d := defaultDeps()
	if d.getenv == nil || d.openDB == nil || d.migrateF == nil || d.loadEnv == nil {
		t.Fatalf("expected default deps to be populated")
	}
}
