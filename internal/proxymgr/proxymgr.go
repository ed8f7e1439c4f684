// Package proxymgr rotates the engine's outbound proxies and benches the ones that keep failing.
package proxymgr

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/url"
	"sync"
	"time"

	"ourtube/internal/config"
	"ourtube/internal/errs"
	"ourtube/internal/observability"
	"ourtube/pkg/urls"
)

const (
	dialTimeout = 10 * time.Second
	maxBackoff  = time.Hour

	defaultSOCKSPort = "1080"
	defaultHTTPPort  = "8080"
)

type entry struct {
	url      string
	failures int
	benched  time.Time // zero while in rotation
	checked  time.Time
}

// usable reports whether the proxy may be handed out at now.
func (e *entry) usable(now time.Time) bool {
	return e.benched.IsZero() || now.After(e.benched)
}

// Pool hands out proxies for engine runs.
type Pool struct {
	log     *slog.Logger
	cfg     config.Proxy
	metrics *observability.Metrics
	now     func() time.Time
	dial    func(ctx context.Context, network, addr string) (net.Conn, error)

	mu      sync.Mutex
	entries []*entry
}

// New creates a pool from the configured proxy list. metrics may be nil.
func New(log *slog.Logger, cfg *config.Config, metrics *observability.Metrics) *Pool {
	dialer := &net.Dialer{Timeout: dialTimeout}

	pool := &Pool{
		log:     log.With(slog.String("package", "proxymgr")),
		cfg:     cfg.Proxy,
		metrics: metrics,
		now:     time.Now,
		dial:    dialer.DialContext,
	}

	seen := make(map[string]struct{}, len(cfg.Proxy.Proxies))

	for _, proxyURL := range cfg.Proxy.Proxies {
		if _, dup := seen[proxyURL]; dup {
			continue
		}

		seen[proxyURL] = struct{}{}
		pool.entries = append(pool.entries, &entry{url: proxyURL})
	}

	pool.publish()

	return pool
}

// Pick returns a random usable proxy, or "" when none is configured or all are benched.
func (p *Pool) Pick() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	usable := make([]string, 0, len(p.entries))

	for _, e := range p.entries {
		if e.usable(now) {
			usable = append(usable, e.url)
		}
	}

	if len(usable) == 0 {
		return ""
	}

	return usable[rand.IntN(len(usable))]
}

// Fail counts a failure. After MaxFailures in a row the proxy is benched,
// doubling the bench time on every further failure.
func (p *Pool) Fail(proxyURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.find(proxyURL)
	if e == nil {
		return
	}

	e.failures++

	if p.metrics != nil {
		p.metrics.RecordProxyFailure(urls.Host(proxyURL))
	}

	limit := max(p.cfg.MaxFailures, 1)
	if e.failures < limit {
		return
	}

	backoff := min(p.cfg.FailureBackoff<<min(e.failures-limit, 16), maxBackoff) //nolint:mnd
	e.benched = p.now().Add(backoff)

	p.log.Warn("proxy benched",
		slog.String("proxy", urls.Host(proxyURL)),
		slog.Int("failures", e.failures),
		slog.Duration("backoff", backoff))

	p.publishLocked()
}

// Succeed returns the proxy to rotation and forgets its failures.
func (p *Pool) Succeed(proxyURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.find(proxyURL)
	if e == nil {
		return
	}

	wasBenched := !e.benched.IsZero()
	e.failures = 0
	e.benched = time.Time{}

	if wasBenched {
		p.publishLocked()
	}
}

// Len returns the number of configured proxies.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.entries)
}

// Available returns the number of proxies currently in rotation.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.availableLocked()
}

// Check dials the proxy and feeds the outcome back into the pool.
func (p *Pool) Check(ctx context.Context, proxyURL string) error {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("parse proxy url: %w", err)
	}

	addr, err := dialAddr(u)
	if err != nil {
		return err
	}

	conn, err := p.dial(ctx, "tcp", addr)
	if err != nil {
		p.Fail(proxyURL)

		return fmt.Errorf("dial proxy: %w", err)
	}

	_ = conn.Close()

	p.mu.Lock()
	if e := p.find(proxyURL); e != nil {
		e.checked = p.now()
	}
	p.mu.Unlock()

	p.Succeed(proxyURL)

	return nil
}

// StartHealthChecker checks every proxy each HealthCheckInterval until ctx is done.
// It does nothing without proxies or with a non-positive interval.
func (p *Pool) StartHealthChecker(ctx context.Context) {
	if p.cfg.HealthCheckInterval <= 0 || p.Len() == 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(p.cfg.HealthCheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.checkAll(ctx)
			}
		}
	}()

	p.log.InfoContext(ctx, "proxy health checker started",
		slog.Duration("interval", p.cfg.HealthCheckInterval),
		slog.Int("proxies", p.Len()))
}

func (p *Pool) checkAll(ctx context.Context) {
	p.mu.Lock()
	targets := make([]string, len(p.entries))

	for i, e := range p.entries {
		targets[i] = e.url
	}
	p.mu.Unlock()

	for _, proxyURL := range targets {
		if ctx.Err() != nil {
			return
		}

		if err := p.Check(ctx, proxyURL); err != nil {
			p.log.DebugContext(ctx, "proxy health check failed",
				slog.String("proxy", urls.Host(proxyURL)), slog.Any("error", err))
		}
	}
}

// dialAddr returns host:port for u, filling in the scheme's usual port.
func dialAddr(u *url.URL) (string, error) {
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: no host", errs.ErrInvalidProxy)
	}

	if u.Port() != "" {
		return u.Host, nil
	}

	switch u.Scheme {
	case "socks5", "socks5h":
		return net.JoinHostPort(u.Hostname(), defaultSOCKSPort), nil
	case "http", "https":
		return net.JoinHostPort(u.Hostname(), defaultHTTPPort), nil
	default:
		return "", fmt.Errorf("%w: scheme %q", errs.ErrInvalidProxy, u.Scheme)
	}
}

func (p *Pool) find(proxyURL string) *entry {
	for _, e := range p.entries {
		if e.url == proxyURL {
			return e
		}
	}

	return nil
}

func (p *Pool) availableLocked() int {
	now := p.now()
	n := 0

	for _, e := range p.entries {
		if e.usable(now) {
			n++
		}
	}

	return n
}

func (p *Pool) publish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.publishLocked()
}

func (p *Pool) publishLocked() {
	if p.metrics != nil {
		p.metrics.SetProxiesAvailable(p.availableLocked())
	}
}
