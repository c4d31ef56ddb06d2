// Package repository implements the Remote Repository (spec §4.3,
// component C4): the per-namespace owner of a Snapshot reference cell,
// responsible for fetching it from the Config Service, keeping it fresh
// via a periodic timer and Notifier hints, and handing changes to the
// Change Dispatcher. Grounded on the retry/multi-endpoint-iteration shape
// of internal/infrastructure/publishing/rootly_client.go, generalized
// from one fixed endpoint to the locator's shuffled endpoint list.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vitaliisemenov/confsync/internal/confsync"
	"github.com/vitaliisemenov/confsync/internal/confsync/backoff"
	"github.com/vitaliisemenov/confsync/internal/confsync/dispatch"
	"github.com/vitaliisemenov/confsync/internal/confsync/metrics"
	"github.com/vitaliisemenov/confsync/internal/confsync/transport"
)

// EndpointLister is the Service Locator capability this package depends
// on. Satisfied by *locator.Locator; declared here (rather than imported
// directly) to keep the dependency one-directional and narrow.
type EndpointLister interface {
	GetConfigServices(ctx context.Context) ([]string, error)
}

// Registrar is the Long-Poll Notifier capability a Repository needs:
// registering itself so onLongPollNotified gets invoked on relevant
// changes. Declared in this package (not in notifier) so notifier can
// import repository directly to satisfy it, avoiding an import cycle —
// Go requires nominal interface satisfaction, so only one package may
// own this declaration.
type Registrar interface {
	Register(namespace string, registrant Registrant) bool
	Unregister(namespace string, registrant Registrant)
}

// Registrant is what the Notifier calls back into. *Repository
// implements it.
type Registrant interface {
	OnLongPollNotified(endpointHint string, remoteMessages map[string]int64)
}

// Config holds the fixed identity and tuning knobs for one Repository.
type Config struct {
	AppID      string
	Cluster    string
	Namespace  string
	LocalIP    string
	DataCenter string

	// RefreshInterval is the periodic fallback refresh period. Default 5m.
	RefreshInterval time.Duration
	// RequestTimeout bounds a single config-fetch HTTP call. Default 10s.
	RequestTimeout time.Duration
	// ForceRefreshAttempts is the retry budget when forceRefresh is set.
	// Default 2.
	ForceRefreshAttempts int
	// NormalAttempts is the retry budget otherwise. Default 1.
	NormalAttempts int
	// ForceRefreshSleep is the fixed inter-endpoint sleep used when
	// forceRefresh is set. Default 200ms.
	ForceRefreshSleep time.Duration

	Locator    EndpointLister
	Registrar  Registrar
	HTTPClient transport.Doer
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

func (c *Config) withDefaults() *Config {
	cp := *c
	if cp.RefreshInterval <= 0 {
		cp.RefreshInterval = 5 * time.Minute
	}
	if cp.RequestTimeout <= 0 {
		cp.RequestTimeout = 10 * time.Second
	}
	if cp.ForceRefreshAttempts <= 0 {
		cp.ForceRefreshAttempts = 2
	}
	if cp.NormalAttempts <= 0 {
		cp.NormalAttempts = 1
	}
	if cp.ForceRefreshSleep <= 0 {
		cp.ForceRefreshSleep = 200 * time.Millisecond
	}
	if cp.HTTPClient == nil {
		cp.HTTPClient = &http.Client{Timeout: cp.RequestTimeout}
	}
	if cp.Logger == nil {
		cp.Logger = slog.Default()
	}
	return &cp
}

// Repository owns one namespace's Snapshot reference cell. getConfig is
// non-blocking; sync() is serialized per repository by syncMu so readers
// of the snapshot never observe a torn value and never block on a writer.
type Repository struct {
	cfg *Config

	backoff    *backoff.Policy
	dispatcher *dispatch.Dispatcher

	snapshot atomic.Pointer[confsync.Snapshot]

	syncMu sync.Mutex

	// hint/messages/forceRefresh are the state onLongPollNotified writes
	// and sync() consumes; guarded by hintMu since they're touched from
	// the Notifier's goroutine independent of syncMu.
	hintMu         sync.Mutex
	endpointHint   string
	remoteMessages map[string]int64
	forceRefresh   bool

	timerStop chan struct{}
	stopOnce  sync.Once
	started   atomic.Bool

	lastSyncAt atomic.Pointer[time.Time]
	lastErr    atomic.Pointer[error]
}

// New constructs a Repository. Start must be called before use.
func New(cfg Config) *Repository {
	c := cfg.withDefaults()
	return &Repository{
		cfg:        c,
		backoff:    backoff.NewFetchPolicy(),
		dispatcher: dispatch.New(c.Logger),
		timerStop:  make(chan struct{}),
	}
}

// Start fetches once synchronously, registers with the Notifier, and
// arms the periodic refresh timer regardless of whether the initial
// fetch succeeded. It returns confsync.ErrInitialLoadFailed if the first
// fetch did not yield a snapshot — the host decides whether to fall back
// to a disk cache (see client.Manager.Watch/Repository.Seed) — but the
// repository is otherwise fully wired and will keep retrying on its
// normal schedule either way.
func (r *Repository) Start(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return nil
	}

	initialErr := r.sync(ctx)

	if r.cfg.Registrar != nil {
		r.cfg.Registrar.Register(r.cfg.Namespace, r)
	}
	go r.refreshLoop(ctx)

	if initialErr != nil {
		return fmt.Errorf("%w: %v", confsync.ErrInitialLoadFailed, initialErr)
	}
	return nil
}

// Stop cancels the periodic timer and unregisters from the Notifier.
// Idempotent.
func (r *Repository) Stop() {
	r.stopOnce.Do(func() {
		close(r.timerStop)
		if r.cfg.Registrar != nil {
			r.cfg.Registrar.Unregister(r.cfg.Namespace, r)
		}
	})
}

// GetConfig returns the current snapshot, or nil if none has been
// published yet. Non-blocking.
func (r *Repository) GetConfig() *confsync.Snapshot {
	return r.snapshot.Load()
}

// Seed publishes snap as the current snapshot without going through
// sync() or the Change Dispatcher, for a host that chooses to serve a
// disk-cached snapshot after Start returns ErrInitialLoadFailed. The
// registrar is still registered and the periodic timer still armed by
// the caller's normal Start/Watch flow; Seed only fills the reference
// cell a failed first sync() left empty.
func (r *Repository) Seed(snap *confsync.Snapshot) {
	r.snapshot.Store(snap)
}

// AddListener registers l for change/error events on this namespace.
func (r *Repository) AddListener(l confsync.Listener) { r.dispatcher.AddListener(l) }

// RemoveListener unregisters l.
func (r *Repository) RemoveListener(l confsync.Listener) { r.dispatcher.RemoveListener(l) }

// OnLongPollNotified is invoked by the Notifier's single background
// worker when a change is reported for this namespace. It records the
// hint/messages, sets forceRefresh, and kicks an asynchronous sync() —
// it must never block the Notifier's loop.
func (r *Repository) OnLongPollNotified(endpointHint string, remoteMessages map[string]int64) {
	r.hintMu.Lock()
	r.endpointHint = endpointHint
	r.remoteMessages = remoteMessages
	r.forceRefresh = true
	r.hintMu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.RequestTimeout*time.Duration(r.cfg.ForceRefreshAttempts)+5*time.Second)
		defer cancel()
		if err := r.sync(ctx); err != nil {
			r.cfg.Logger.Warn("sync after long-poll notification failed",
				"namespace", r.cfg.Namespace, "error", err)
		}
	}()
}

func (r *Repository) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.timerStop:
			return
		case <-ticker.C:
			if err := r.sync(ctx); err != nil {
				r.cfg.Logger.Warn("periodic sync failed", "namespace", r.cfg.Namespace, "error", err)
			}
		}
	}
}

// sync runs the full fetch/publish algorithm once, serialized per
// repository by syncMu (spec §4.3).
func (r *Repository) sync(ctx context.Context) error {
	r.syncMu.Lock()
	defer r.syncMu.Unlock()

	start := time.Now()

	r.hintMu.Lock()
	forceRefresh := r.forceRefresh
	hint := r.endpointHint
	messages := r.remoteMessages
	r.endpointHint = ""
	r.hintMu.Unlock()

	prev := r.snapshot.Load()

	attempts := r.cfg.NormalAttempts
	if forceRefresh {
		attempts = r.cfg.ForceRefreshAttempts
	}

	next, err := r.loadWithRetry(ctx, prev, hint, messages, attempts, forceRefresh)

	r.hintMu.Lock()
	r.forceRefresh = false
	r.hintMu.Unlock()

	now := time.Now()
	r.lastSyncAt.Store(&now)

	if err != nil {
		r.lastErr.Store(&err)
		r.cfg.Metrics.RecordFetch(r.cfg.Namespace, "error", time.Since(start).Seconds())
		r.dispatcher.DispatchError(r.cfg.Namespace, err)
		return err
	}
	r.lastErr.Store(nil)
	r.cfg.Metrics.RecordFetch(r.cfg.Namespace, "success", time.Since(start).Seconds())

	if !prev.Equals(next) {
		r.snapshot.Store(next)
		// The first snapshot published has nothing to diff against, so it
		// fires no change event.
		event := dispatch.Diff(r.cfg.Namespace, prev, next)
		if prev != nil && len(event.Changes) > 0 {
			r.cfg.Metrics.RecordDispatch(r.cfg.Namespace)
			r.dispatcher.Dispatch(event)
		}
	}

	r.backoff.Success()
	return nil
}

// loadWithRetry iterates endpoints across attempts, each attempt
// shuffling the endpoint list and preferring hint for exactly one
// endpoint (spec §4.3 step 2).
func (r *Repository) loadWithRetry(ctx context.Context, prev *confsync.Snapshot, hint string, messages map[string]int64, attempts int, forceRefresh bool) (*confsync.Snapshot, error) {
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}

		endpoints, err := r.cfg.Locator.GetConfigServices(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		if hint != "" {
			endpoints = withPreferred(endpoints, hint)
			hint = ""
		}

		next, err := r.attemptEndpoints(ctx, endpoints, prev, messages, forceRefresh)
		if err == nil {
			return next, nil
		}
		lastErr = err

		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}
	}

	return nil, fmt.Errorf("%w: %v", confsync.ErrLoadFailed, lastErr)
}

func (r *Repository) attemptEndpoints(ctx context.Context, endpoints []string, prev *confsync.Snapshot, messages map[string]int64, forceRefresh bool) (*confsync.Snapshot, error) {
	var lastErr error

	releaseKey := ""
	if prev != nil {
		releaseKey = prev.ReleaseKey
	}

	for i, endpoint := range endpoints {
		if i > 0 {
			sleep := r.onErrorSleepTime(forceRefresh)
			r.cfg.Metrics.RecordBackoff(r.cfg.Namespace, sleep.Seconds())
			timer := time.NewTimer(sleep)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			}
		}

		next, err := r.fetchOne(ctx, endpoint, releaseKey, messages)
		if err == nil {
			return next, nil
		}
		lastErr = err
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("confsync: no endpoints available")
	}
	return nil, lastErr
}

func (r *Repository) onErrorSleepTime(forceRefresh bool) time.Duration {
	if forceRefresh {
		return r.cfg.ForceRefreshSleep
	}
	return r.backoff.Fail()
}

func (r *Repository) fetchOne(ctx context.Context, endpoint, releaseKey string, messages map[string]int64) (*confsync.Snapshot, error) {
	reqCtx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	defer cancel()

	url := transport.ConfigURL(endpoint, r.cfg.AppID, r.cfg.Cluster, r.cfg.Namespace, releaseKey, r.cfg.LocalIP, r.cfg.DataCenter, messages)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var dto transport.ConfigResponse
		if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
			return nil, fmt.Errorf("decode config response: %w", err)
		}
		return confsync.NewSnapshot(dto.AppID, r.cfg.Cluster, r.cfg.Namespace, dto.ReleaseKey, dto.Configurations, messages), nil

	case resp.StatusCode == http.StatusNotModified:
		current := r.snapshot.Load()
		if current == nil {
			return nil, fmt.Errorf("confsync: unexpected 304 with no prior snapshot")
		}
		return current, nil

	case resp.StatusCode == http.StatusNotFound:
		return nil, &confsync.NamespaceNotReleasedError{Namespace: r.cfg.Namespace, Endpoint: endpoint}

	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("confsync: config service %s returned status %d: %s", endpoint, resp.StatusCode, string(body))
	}
}

func withPreferred(endpoints []string, preferred string) []string {
	out := make([]string, 0, len(endpoints)+1)
	out = append(out, preferred)
	for _, e := range endpoints {
		if e != preferred {
			out = append(out, e)
		}
	}
	return out
}

// Status reports the last sync outcome for health aggregation (Manager.Health).
type Status struct {
	Namespace  string
	LastSyncAt time.Time
	LastError  error
}

// Status returns a point-in-time view of this repository's health.
func (r *Repository) Status() Status {
	s := Status{Namespace: r.cfg.Namespace}
	if t := r.lastSyncAt.Load(); t != nil {
		s.LastSyncAt = *t
	}
	if e := r.lastErr.Load(); e != nil {
		s.LastError = *e
	}
	return s
}
