// Package locator implements the Service Locator (spec §4.1, component
// C1): resolving the current list of Config Service endpoints from the
// meta server, refreshed in the background, tolerant of order changes
// between calls.
package locator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vitaliisemenov/confsync/internal/confsync"
	"github.com/vitaliisemenov/confsync/internal/confsync/backoff"
	"github.com/vitaliisemenov/confsync/internal/confsync/ratelimit"
	"github.com/vitaliisemenov/confsync/internal/confsync/transport"
)

// Config holds locator tuning knobs, mirroring the retry/backoff
// configurability of the teacher's K8sClientConfig.
type Config struct {
	// MetaServerURL is the base URL of the meta server (GET /services/config).
	MetaServerURL string
	// AppID is sent to the meta server so it can return app-scoped hints.
	AppID string
	// RefreshInterval is how often the background refresh loop re-polls
	// the meta server. Default 5 minutes.
	RefreshInterval time.Duration
	// RequestTimeout bounds a single meta-server HTTP call. Default 10s.
	RequestTimeout time.Duration
	// MaxAttempts is the retry budget exhausted before NoAvailableService
	// is returned. Default 3.
	MaxAttempts int

	HTTPClient transport.Doer
	Logger     *slog.Logger
}

func (c *Config) withDefaults() *Config {
	cp := *c
	if cp.RefreshInterval <= 0 {
		cp.RefreshInterval = 5 * time.Minute
	}
	if cp.RequestTimeout <= 0 {
		cp.RequestTimeout = 10 * time.Second
	}
	if cp.MaxAttempts <= 0 {
		cp.MaxAttempts = 3
	}
	if cp.HTTPClient == nil {
		cp.HTTPClient = &http.Client{Timeout: cp.RequestTimeout}
	}
	if cp.Logger == nil {
		cp.Logger = slog.Default()
	}
	return &cp
}

// Locator resolves Config Service endpoints. GetConfigServices returns a
// freshly shuffled copy on every call; callers may pin a preferred
// endpoint from the last long-poll response for one attempt (see
// WithPreferred).
type Locator struct {
	cfg     *Config
	limiter *ratelimit.Limiter
	backoff *backoff.Policy

	endpoints atomic.Pointer[[]string]

	stopOnce sync.Once
	stopCh   chan struct{}
	started  atomic.Bool
}

// New constructs a Locator. Start must be called to begin background
// refresh; GetConfigServices works before Start by fetching synchronously
// on first use.
func New(cfg Config) *Locator {
	c := cfg.withDefaults()
	return &Locator{
		cfg:     c,
		limiter: ratelimit.NewFetchLimiter(),
		backoff: backoff.NewFetchPolicy(),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the background refresh loop. Idempotent.
func (l *Locator) Start(ctx context.Context) {
	if !l.started.CompareAndSwap(false, true) {
		return
	}
	go l.refreshLoop(ctx)
}

// Stop halts the background refresh loop.
func (l *Locator) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

func (l *Locator) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-ticker.C:
			if _, err := l.fetch(ctx); err != nil {
				l.cfg.Logger.Warn("locator background refresh failed", "error", err)
			}
		}
	}
}

// GetConfigServices returns a non-empty, shuffled list of endpoints, or
// ErrNoAvailableService after the retry budget is exhausted. Cached
// results are reused between calls; callers must tolerate order changes.
func (l *Locator) GetConfigServices(ctx context.Context) ([]string, error) {
	if cached := l.endpoints.Load(); cached != nil && len(*cached) > 0 {
		return shuffle(*cached), nil
	}
	endpoints, err := l.fetch(ctx)
	if err != nil {
		return nil, err
	}
	return shuffle(endpoints), nil
}

func (l *Locator) fetch(ctx context.Context) ([]string, error) {
	var lastErr error

	for attempt := 0; attempt < l.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(l.backoff.Fail())
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			}
		}

		l.limiter.TryAcquire(ctx, 2*time.Second)

		endpoints, err := l.fetchOnce(ctx)
		if err == nil && len(endpoints) > 0 {
			l.backoff.Success()
			l.endpoints.Store(&endpoints)
			return endpoints, nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("confsync: meta server returned zero config services")
		}
	}

	return nil, fmt.Errorf("%w: %v", confsync.ErrNoAvailableService, lastErr)
}

func (l *Locator) fetchOnce(ctx context.Context) ([]string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, l.cfg.RequestTimeout)
	defer cancel()

	url := transport.ServicesURL(l.cfg.MetaServerURL, l.cfg.AppID)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := l.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("meta server returned status %d: %s", resp.StatusCode, string(body))
	}

	var services []transport.ServiceDTO
	if err := json.NewDecoder(resp.Body).Decode(&services); err != nil {
		return nil, fmt.Errorf("decode meta server response: %w", err)
	}

	out := make([]string, 0, len(services))
	for _, svc := range services {
		if svc.HomepageURL != "" {
			out = append(out, svc.HomepageURL)
		}
	}
	return out, nil
}

func shuffle(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// WithPreferred puts a non-empty preferred at the head of the list for one
// attempt, dropping its other occurrence if the list has one and adding
// it if the list does not, matching spec §4.1's "insert preferred endpoint hint
// at the head for one attempt, then clear it" policy. The caller owns
// clearing its own hint after this call.
func WithPreferred(endpoints []string, preferred string) []string {
	if preferred == "" {
		return endpoints
	}
	out := make([]string, 0, len(endpoints)+1)
	out = append(out, preferred)
	for _, e := range endpoints {
		if e != preferred {
			out = append(out, e)
		}
	}
	return out
}
