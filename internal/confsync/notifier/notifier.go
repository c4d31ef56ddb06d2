// Package notifier implements the Long-Poll Notifier (spec §4.4,
// component C5): a process-wide singleton worker that multiplexes every
// watched namespace over one outstanding long-poll HTTP request, waking
// the registered Remote Repositories when the server reports a change.
// Grounded on internal/realtime/bus.go's single background worker
// fanning one event out to many subscribers; here, one long-poll
// response fans out to the repositories registered for each namespace
// it names.
package notifier

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vitaliisemenov/confsync/internal/confsync"
	"github.com/vitaliisemenov/confsync/internal/confsync/backoff"
	"github.com/vitaliisemenov/confsync/internal/confsync/metrics"
	"github.com/vitaliisemenov/confsync/internal/confsync/ratelimit"
	"github.com/vitaliisemenov/confsync/internal/confsync/repository"
	"github.com/vitaliisemenov/confsync/internal/confsync/transport"
)

// EndpointLister is the Service Locator capability the Notifier needs.
type EndpointLister interface {
	GetConfigServices(ctx context.Context) ([]string, error)
}

// workerState names the points in the worker's lifecycle (spec §4.4's
// "Idle → Running → Stopping → Stopped" state machine).
type workerState int32

const (
	stateIdle workerState = iota
	stateRunning
	stateStopping
	stateStopped
)

// Config holds Notifier tuning knobs.
type Config struct {
	AppID      string
	Cluster    string
	LocalIP    string
	DataCenter string

	// ReadTimeout bounds the long-poll HTTP call's client-side read
	// timeout. Must exceed ServerHoldTimeout. Default 90s.
	ReadTimeout time.Duration
	// ServerHoldTimeout documents the server's own hold time, used only
	// to validate ReadTimeout > ServerHoldTimeout at construction.
	// Default 60s.
	ServerHoldTimeout time.Duration

	Locator    EndpointLister
	HTTPClient transport.Doer
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

func (c *Config) withDefaults() *Config {
	cp := *c
	if cp.ReadTimeout <= 0 {
		cp.ReadTimeout = 90 * time.Second
	}
	if cp.ServerHoldTimeout <= 0 {
		cp.ServerHoldTimeout = 60 * time.Second
	}
	if cp.HTTPClient == nil {
		cp.HTTPClient = &http.Client{Timeout: cp.ReadTimeout + 10*time.Second}
	}
	if cp.Logger == nil {
		cp.Logger = slog.Default()
	}
	return &cp
}

// Notifier is the process-wide long-poll singleton. Callers register one
// Repository per namespace; Notifier multiplexes all of them over one
// outstanding long-poll request, waking the right registrants when the
// server reports a change.
type Notifier struct {
	cfg     *Config
	limiter *ratelimit.Limiter
	backoff *backoff.Policy

	mu           sync.RWMutex
	registrants  map[string][]repository.Registrant
	notifyIDs    map[string]int64
	lastService  atomic.Pointer[string]

	state atomic.Int32

	stopCh chan struct{}
}

// New constructs a Notifier. Worker starts on the first Register call.
// cfg.ReadTimeout must exceed cfg.ServerHoldTimeout or this panics — a
// misconfigured client would otherwise sever its own long-poll before the
// server's 304 can arrive, defeating the entire mechanism.
func New(cfg Config) *Notifier {
	c := cfg.withDefaults()
	if c.ReadTimeout <= c.ServerHoldTimeout {
		panic("confsync: notifier ReadTimeout must strictly exceed ServerHoldTimeout")
	}
	return &Notifier{
		cfg:         c,
		limiter:     ratelimit.NewLongPollLimiter(),
		backoff:     backoff.NewLongPollPolicy(),
		registrants: map[string][]repository.Registrant{},
		notifyIDs:   map[string]int64{},
		stopCh:      make(chan struct{}),
	}
}

// Register adds registrant to the fan-out for namespace, inserting
// namespace -> -1 in the id map if absent, and starts the worker if this
// is the first-ever registration (Idle -> Running via CAS). Idempotent
// for duplicate (namespace, registrant) pairs.
func (n *Notifier) Register(namespace string, registrant repository.Registrant) bool {
	n.mu.Lock()
	added := false
	existing := n.registrants[namespace]
	for _, r := range existing {
		if r == registrant {
			added = true
			break
		}
	}
	if !added {
		n.registrants[namespace] = append(existing, registrant)
	}
	if _, ok := n.notifyIDs[namespace]; !ok {
		n.notifyIDs[namespace] = -1
	}
	n.mu.Unlock()

	n.cfg.Metrics.SetWatchedNamespaces(n.watchedCount())

	if n.state.CompareAndSwap(int32(stateIdle), int32(stateRunning)) {
		go n.workerLoop()
	}

	return !added
}

// Unregister removes registrant from namespace's fan-out.
func (n *Notifier) Unregister(namespace string, registrant repository.Registrant) {
	n.mu.Lock()
	defer n.mu.Unlock()
	existing := n.registrants[namespace]
	for i, r := range existing {
		if r == registrant {
			n.registrants[namespace] = append(existing[:i], existing[i+1:]...)
			break
		}
	}
	if len(n.registrants[namespace]) == 0 {
		delete(n.registrants, namespace)
	}
}

func (n *Notifier) watchedCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.registrants)
}

// Stop sets the stop flag; the worker exits at the next loop-head check.
func (n *Notifier) Stop() {
	if n.state.CompareAndSwap(int32(stateRunning), int32(stateStopping)) {
		close(n.stopCh)
	}
}

func (n *Notifier) workerLoop() {
	ctx := context.Background()
	for {
		if workerState(n.state.Load()) == stateStopping {
			n.state.Store(int32(stateStopped))
			return
		}

		n.limiter.TryAcquire(ctx, 5*time.Second)

		endpoint := n.pickEndpoint(ctx)
		if endpoint == "" {
			n.sleepFail()
			continue
		}

		entries := n.snapshotEntries()
		if len(entries) == 0 {
			// Nothing registered yet; avoid spinning the worker hot.
			select {
			case <-time.After(time.Second):
			case <-n.stopCh:
			}
			continue
		}

		start := time.Now()
		status, body, err := n.longPoll(ctx, endpoint, entries)
		elapsed := time.Since(start).Seconds()

		switch {
		case err != nil:
			n.lastService.Store(nil)
			n.cfg.Metrics.RecordLongPoll("error", elapsed)
			n.cfg.Logger.Warn("long-poll request failed", "error", err)
			n.sleepFail()

		case status == http.StatusOK:
			n.cfg.Metrics.RecordLongPoll("changed", elapsed)
			changes := n.updateNotificationIDs(body)
			n.fanOutNotify(changes, endpoint)
			n.backoff.Success()

		case status == http.StatusNotModified:
			n.cfg.Metrics.RecordLongPoll("not_changed", elapsed)
			n.backoff.Success()
			if rand.Float64() < 0.5 {
				n.lastService.Store(nil)
			}

		default:
			n.lastService.Store(nil)
			n.cfg.Metrics.RecordLongPoll("error", elapsed)
			n.cfg.Logger.Warn("long-poll request returned unexpected status", "status", status)
			n.sleepFail()
		}

		if workerState(n.state.Load()) == stateStopping {
			n.state.Store(int32(stateStopped))
			return
		}
	}
}

func (n *Notifier) sleepFail() {
	delay := n.backoff.Fail()
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-n.stopCh:
	}
}

// pickEndpoint resolves an endpoint, preferring the last service picked
// while it is still listed. The remembered service is dropped on an error
// and, at random, on a 304, so the next pick rebalances.
func (n *Notifier) pickEndpoint(ctx context.Context) string {
	endpoints, err := n.cfg.Locator.GetConfigServices(ctx)
	if err != nil || len(endpoints) == 0 {
		return ""
	}
	if hint := n.lastService.Load(); hint != nil && *hint != "" {
		for _, e := range endpoints {
			if e == *hint {
				return e
			}
		}
	}
	endpoint := endpoints[0]
	n.lastService.Store(&endpoint)
	return endpoint
}

func (n *Notifier) snapshotEntries() []transport.NotificationEntry {
	n.mu.RLock()
	defer n.mu.RUnlock()
	entries := make([]transport.NotificationEntry, 0, len(n.notifyIDs))
	for ns, id := range n.notifyIDs {
		entries = append(entries, transport.NotificationEntry{NamespaceName: ns, NotificationID: id})
	}
	return entries
}

func (n *Notifier) longPoll(ctx context.Context, endpoint string, entries []transport.NotificationEntry) (int, []transport.NotificationEntry, error) {
	reqCtx, cancel := context.WithTimeout(ctx, n.cfg.ReadTimeout)
	defer cancel()

	url := transport.NotificationsURL(endpoint, n.cfg.AppID, n.cfg.Cluster, n.cfg.DataCenter, n.cfg.LocalIP, entries)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, err
	}

	resp, err := n.cfg.HTTPClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil, nil
	}

	var changed []transport.NotificationEntry
	if err := json.NewDecoder(resp.Body).Decode(&changed); err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, changed, nil
}

// updateNotificationIDs applies the "only entries whose id increased are
// updated" rule (spec §4.4) and returns the entries that actually moved.
func (n *Notifier) updateNotificationIDs(entries []transport.NotificationEntry) []transport.NotificationEntry {
	n.mu.Lock()
	defer n.mu.Unlock()

	var changed []transport.NotificationEntry
	for _, e := range entries {
		current, ok := n.notifyIDs[e.NamespaceName]
		if !ok || e.NotificationID > current {
			n.notifyIDs[e.NamespaceName] = e.NotificationID
			changed = append(changed, e)
		}
	}
	return changed
}

// fanOutNotify delivers onLongPollNotified to every repository registered
// under namespaceName and namespaceName+".properties" (spec §4.4), one
// bad listener logged and swallowed rather than blocking the others.
func (n *Notifier) fanOutNotify(changes []transport.NotificationEntry, endpoint string) {
	for _, change := range changes {
		var messages map[string]int64
		if change.Messages != nil {
			messages = copyMessages(change.Messages.Details)
		}

		for _, variant := range confsync.NamespaceVariants(change.NamespaceName) {
			n.mu.RLock()
			targets := append([]repository.Registrant(nil), n.registrants[variant]...)
			n.mu.RUnlock()

			for _, target := range targets {
				n.notifyOne(target, endpoint, messages)
			}
		}
	}
}

func (n *Notifier) notifyOne(target repository.Registrant, endpoint string, messages map[string]int64) {
	defer func() {
		if r := recover(); r != nil {
			n.cfg.Logger.Error("registrant panicked handling long-poll notification", "panic", r)
		}
	}()
	target.OnLongPollNotified(endpoint, messages)
}

func copyMessages(in map[string]int64) map[string]int64 {
	if in == nil {
		return nil
	}
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
