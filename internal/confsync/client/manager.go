// Package client provides the Manager, the process-wide root object a
// host application constructs once: it owns the Service Locator, the
// Long-Poll Notifier singleton, and the registry of per-namespace
// Repositories, wiring them together the way the spec's component
// diagram implies without naming a concrete owner. Grounded on the
// Design Notes' "process-wide singletons... model each as an explicitly
// constructed object owned by a root context" and on the teacher's
// pervasive Health(ctx) error convention
// (internal/infrastructure/k8s/client.go, internal/business/publishing).
package client

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vitaliisemenov/confsync/internal/confsync"
	"github.com/vitaliisemenov/confsync/internal/confsync/cache"
	"github.com/vitaliisemenov/confsync/internal/confsync/locator"
	"github.com/vitaliisemenov/confsync/internal/confsync/metrics"
	"github.com/vitaliisemenov/confsync/internal/confsync/notifier"
	"github.com/vitaliisemenov/confsync/internal/confsync/repository"
	"github.com/vitaliisemenov/confsync/internal/confsync/transport"
)

// Config holds the fixed client identity shared by every namespace this
// process watches.
type Config struct {
	AppID      string
	Cluster    string
	LocalIP    string
	DataCenter string

	MetaServerURL string

	HTTPClient transport.Doer
	// Cache, if set, backs the stale-on-failure fallback in Watch and
	// receives every successful snapshot for durability across restarts.
	Cache cache.SnapshotCache
	// Registry, if set, receives this Manager's Prometheus metrics. A nil
	// Registry means metrics are computed but never exported.
	Registry prometheus.Registerer
	Logger   *slog.Logger
}

func (c *Config) withDefaults() *Config {
	cp := *c
	if cp.Cluster == "" {
		cp.Cluster = "default"
	}
	if cp.Logger == nil {
		cp.Logger = slog.Default()
	}
	if cp.HTTPClient == nil {
		cp.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &cp
}

// Manager owns every confsync component for one application identity.
// Construct one per process.
type Manager struct {
	cfg *Config

	locator  *locator.Locator
	notifier *notifier.Notifier
	metrics  *metrics.Metrics

	mu    sync.RWMutex
	repos map[string]*repository.Repository
}

// NewManager constructs a Manager. Start must be called before watching
// any namespace.
func NewManager(cfg Config) *Manager {
	c := cfg.withDefaults()

	m := &Manager{cfg: c, repos: map[string]*repository.Repository{}}
	m.metrics = metrics.New(c.Registry)

	m.locator = locator.New(locator.Config{
		MetaServerURL: c.MetaServerURL,
		AppID:         c.AppID,
		HTTPClient:    c.HTTPClient,
		Logger:        c.Logger,
	})

	m.notifier = notifier.New(notifier.Config{
		AppID:      c.AppID,
		Cluster:    c.Cluster,
		LocalIP:    c.LocalIP,
		DataCenter: c.DataCenter,
		Locator:    m.locator,
		HTTPClient: c.HTTPClient,
		Logger:     c.Logger,
		Metrics:    m.metrics,
	})

	return m
}

// Start launches the locator's background refresh loop. Individual
// namespaces are watched via Watch.
func (m *Manager) Start(ctx context.Context) {
	m.locator.Start(ctx)
}

// Stop halts the locator, the notifier worker, and every watched
// repository's periodic timer.
func (m *Manager) Stop() {
	m.locator.Stop()
	m.notifier.Stop()

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, repo := range m.repos {
		repo.Stop()
	}
}

// Watch starts following namespace: fetches once synchronously,
// registers with the Notifier, and arms the periodic refresh timer
// (repository.Start). If the initial load fails and a SnapshotCache was
// configured, it falls back to the last cached snapshot for the
// namespace instead of propagating confsync.ErrInitialLoadFailed — the
// "host decides whether to fall back to on-disk cache" hook from spec §6
// resolved in favor of cache-first availability whenever a cache is
// present; callers that want strict fail-fast semantics simply omit
// Config.Cache.
func (m *Manager) Watch(ctx context.Context, namespace string) (*repository.Repository, error) {
	m.mu.Lock()
	if existing, ok := m.repos[namespace]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.mu.Unlock()

	repo := repository.New(repository.Config{
		AppID:      m.cfg.AppID,
		Cluster:    m.cfg.Cluster,
		Namespace:  namespace,
		LocalIP:    m.cfg.LocalIP,
		DataCenter: m.cfg.DataCenter,
		Locator:    m.locator,
		Registrar:  m.notifier,
		HTTPClient: m.cfg.HTTPClient,
		Logger:     m.cfg.Logger,
		Metrics:    m.metrics,
	})

	if err := repo.Start(ctx); err != nil {
		cached, ok := m.loadFromCache(namespace)
		if !ok {
			return nil, err
		}
		m.cfg.Logger.Warn("serving stale cached snapshot after initial load failure",
			"namespace", namespace, "error", err)
		repo.Seed(cached)
	}

	if m.cfg.Cache != nil {
		repo.AddListener(cacheWriter{cache: m.cfg.Cache, namespace: namespace, repo: repo, logger: m.cfg.Logger})
	}

	m.mu.Lock()
	m.repos[namespace] = repo
	m.mu.Unlock()

	return repo, nil
}

func (m *Manager) loadFromCache(namespace string) (*confsync.Snapshot, bool) {
	if m.cfg.Cache == nil {
		return nil, false
	}
	snap, ok, err := m.cfg.Cache.Load(namespace)
	if err != nil || !ok {
		return nil, false
	}
	return snap, true
}

// Repository returns the Repository for namespace, if it is being
// watched.
func (m *Manager) Repository(namespace string) (*repository.Repository, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.repos[namespace]
	return r, ok
}

// Health aggregates the status of every watched repository.
type Health struct {
	Namespaces map[string]repository.Status
}

// Health reports the current sync status of every watched namespace.
func (m *Manager) Health() Health {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h := Health{Namespaces: make(map[string]repository.Status, len(m.repos))}
	for ns, repo := range m.repos {
		h.Namespaces[ns] = repo.Status()
	}
	return h
}

// cacheWriter persists every successful snapshot for namespace, the
// write side of Watch's stale-cache fallback.
type cacheWriter struct {
	cache     cache.SnapshotCache
	namespace string
	repo      *repository.Repository
	logger    *slog.Logger
}

func (c cacheWriter) OnChange(confsync.ChangeEvent) {
	snap := c.repo.GetConfig()
	if snap == nil {
		return
	}
	if err := c.cache.Store(c.namespace, snap); err != nil {
		c.logger.Warn("cache store failed", "namespace", c.namespace, "error", err)
	}
}
