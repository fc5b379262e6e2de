package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/PortNumber53/social-autopilot/backend/internal/store"
	"github.com/PortNumber53/social-autopilot/backend/internal/tiers"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, defaultDeps()); err != nil {
		log.Fatalf("[ManageTiers] %v", err)
	}
}

type deps struct {
	loadEnv func(...string) error
	getenv  func(string) string
	openDB  func(driverName, dataSourceName string) (*sql.DB, error)
}

func defaultDeps() deps {
	return deps{
		loadEnv: godotenv.Load,
		getenv:  os.Getenv,
		openDB:  sql.Open,
	}
}

type options struct {
	list       bool
	audit      bool
	userID     string
	tier       string
	limitsFile string
}

func parseArgs(args []string, getenv func(string) string) (options, error) {
	fs := flag.NewFlagSet("manage-tiers", flag.ContinueOnError)
	var o options
	fs.BoolVar(&o.list, "list", false, "Print the tier limits table")
	fs.BoolVar(&o.audit, "audit", false, "List users owning more schedules than their tier allows")
	fs.StringVar(&o.userID, "user", "", "Profile id whose tier to change (requires -tier)")
	fs.StringVar(&o.tier, "tier", "", "Tier to assign: FREE, BEGINNER, PRO, BUSINESS or STUDENT")
	defaultLimits := ""
	if getenv != nil {
		defaultLimits = getenv("TIER_LIMITS_FILE")
	}
	fs.StringVar(&o.limitsFile, "limits-file", defaultLimits, "YAML tier table override (defaults to TIER_LIMITS_FILE)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	o.userID, o.tier = strings.TrimSpace(o.userID), strings.TrimSpace(o.tier)
	if (o.userID == "") != (o.tier == "") {
		return options{}, fmt.Errorf("-user and -tier must be given together")
	}
	if !o.list && !o.audit && o.userID == "" {
		o.list = true
	}
	return o, nil
}

func run(args []string, out io.Writer, d deps) error {
	if d.loadEnv != nil {
		_ = d.loadEnv()
	}
	o, err := parseArgs(args, d.getenv)
	if err != nil {
		return err
	}
	policy, err := tiers.Load(o.limitsFile)
	if err != nil {
		return err
	}

	if o.list {
		printTable(out, policy)
	}
	if o.userID == "" && !o.audit {
		return nil
	}

	databaseURL := ""
	if d.getenv != nil {
		databaseURL = d.getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable is required")
	}
	if d.openDB == nil {
		return fmt.Errorf("openDB dependency is required")
	}
	conn, err := d.openDB("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close()

	st := store.New(conn, store.WithPolicy(policy))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if o.userID != "" {
		t := tiers.ParseTier(o.tier)
		if !policy.Known(t) {
			return fmt.Errorf("unknown tier %q (known: %s)", o.tier, joinTiers(policy.Tiers()))
		}
		if err := st.SetTier(ctx, o.userID, t); err != nil {
			return fmt.Errorf("set tier for %s: %w", o.userID, err)
		}
		log.Printf("[ManageTiers] userId=%s tier=%s", o.userID, t)
		fmt.Fprintf(out, "User %s is now on %s\n", o.userID, t)
	}

	if o.audit {
		over, err := st.OverCapUsers(ctx)
		if err != nil {
			return err
		}
		if len(over) == 0 {
			fmt.Fprintln(out, "No users above their schedule cap")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "USER\tTIER\tSCHEDULES\tLIMIT")
		for _, u := range over {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", u.UserID, u.Tier, u.Schedules, u.Limit)
		}
		_ = tw.Flush()
	}
	return nil
}

func printTable(out io.Writer, p *tiers.Policy) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIER\tSCHEDULES\tMIN INTERVAL\tAI PROMPTS\tRSS FEEDS\tX ACCOUNTS\tCREDITS")
	for _, t := range p.Tiers() {
		l := p.LimitsFor(t)
		fmt.Fprintf(tw, "%s\t%d\t%dm\t%d\t%d\t%d\t%d\n", t, l.MaxSchedules, l.MinIntervalMinutes, l.MaxAiPrompts, l.MaxRssFeeds, l.MaxLinkedAccounts, l.CreditAllowance)
	}
	_ = tw.Flush()
}

func joinTiers(ts []tiers.Tier) string {
	s := make([]string, 0, len(ts))
	for _, t := range ts {
		s = append(s, string(t))
	}
	return strings.Join(s, ", ")
}
