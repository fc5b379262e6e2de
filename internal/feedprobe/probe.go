// Package feedprobe fetches a feed URL once to confirm it parses and to learn its format.
package feedprobe

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"
)

type Config struct {
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	// AllowPrivate permits loopback and private-network feeds (local development).
	AllowPrivate bool
}

func DefaultConfig() Config {
	return Config{RequestsPerSecond: 1, Burst: 2, Timeout: 15 * time.Second}
}

// ConfigFromEnv overrides the defaults with FEED_PROBE_RPS, FEED_PROBE_BURST and
// FEED_PROBE_TIMEOUT_SECONDS and FEED_PROBE_ALLOW_PRIVATE. Invalid values are ignored.
func ConfigFromEnv(getenv func(string) string) Config {
	c := DefaultConfig()
	if getenv == nil {
		return c
	}
	if v := getenv("FEED_PROBE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			c.RequestsPerSecond = f
		}
	}
	if v := getenv("FEED_PROBE_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Burst = n
		}
	}
	if v := getenv("FEED_PROBE_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Timeout = time.Duration(n) * time.Second
		}
	}
	if v := getenv("FEED_PROBE_ALLOW_PRIVATE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.AllowPrivate = b
		}
	}
	return c
}

// ErrBlockedAddress is returned when a feed host resolves to a non-public address.
var ErrBlockedAddress = errors.New("feed address is not public")

var cgnat = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

func publicIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsInterfaceLocalMulticast() || ip.IsMulticast() {
		return false
	}
	return !cgnat.Contains(ip)
}

// publicOnly is a net.Dialer Control hook. It runs after name resolution, for every address
// dialed, so redirects and DNS answers pointing inside the network are refused as well.
func publicOnly(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil || !publicIP(ip) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	return nil
}

func newClient(cfg Config) *http.Client {
	dialer := &net.Dialer{Timeout: cfg.Timeout}
	if !cfg.AllowPrivate {
		dialer.Control = publicOnly
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// A proxy would be dialed instead of the feed host and defeat the address check.
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext
	return &http.Client{Timeout: cfg.Timeout, Transport: transport}
}

type Result struct {
	Title    string `json:"title"`
	FeedType string `json:"feed_type"`
	Items    int    `json:"items"`
}

// Prober is shared by all requests so the limiter bounds total outbound fetches.
type Prober struct {
	Client  *http.Client
	Logger  *log.Logger
	limiter *rate.Limiter
}

func New(cfg Config) *Prober {
	if cfg.RequestsPerSecond <= 0 || cfg.Burst <= 0 {
		d := DefaultConfig()
		cfg.RequestsPerSecond, cfg.Burst = d.RequestsPerSecond, d.Burst
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Prober{
		Client:  newClient(cfg),
		Logger:  log.Default(),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}
}

// Probe downloads and parses url. FeedType is "rss", "atom" or "json".
func (p *Prober) Probe(ctx context.Context, url string) (Result, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("rate limit wait: %w", err)
	}
	start := time.Now()
	parser := gofeed.NewParser()
	parser.Client = p.Client
	feed, err := parser.ParseURLWithContext(url, ctx)
	if err != nil {
		p.Logger.Printf("[FeedProbe] failed url=%s dur=%s err=%v", url, time.Since(start), err)
		return Result{}, fmt.Errorf("fetch feed: %w", err)
	}
	res := Result{Title: feed.Title, FeedType: feed.FeedType, Items: len(feed.Items)}
	if res.FeedType == "" {
		res.FeedType = "rss"
	}
	p.Logger.Printf("[FeedProbe] ok url=%s type=%s items=%d dur=%s", url, res.FeedType, res.Items, time.Since(start))
	return res, nil
}
