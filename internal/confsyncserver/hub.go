// Package confsyncserver implements the Notification Server counterpart
// (spec §4.5, component C8): the server side of the long-poll protocol,
// parking GET /notifications/v2 requests until a publication pipeline
// reports a change or a 60-second hold timeout expires. Grounded on
// internal/api/router.go's gorilla/mux wiring and, for the parked-request
// bookkeeping, the client-side subscriber/publisher shape in
// internal/realtime/bus.go turned inside out: there a worker fans one
// event out to many subscribers; here one publication resolves many
// parked HTTP requests indexed by namespace.
package confsyncserver

import (
	"log/slog"
	"sync"
	"time"
)

// NamespaceState is the server's current view of one namespace: the
// monotonically increasing notification id assigned on each publish.
type NamespaceState struct {
	NotificationID int64
}

// Result is what a parked request resolves to: the namespaces (under
// their client-supplied original spelling) whose id has increased, or an
// empty Changed on timeout (mapped to an HTTP 304 by the handler).
type Result struct {
	Changed []ChangedNamespace
}

// ChangedNamespace pairs a changed namespace (its original client
// spelling) with its new server-side id and any accompanying messages.
type ChangedNamespace struct {
	Namespace      string
	NotificationID int64
	Messages       map[string]int64
}

// handle is one parked request: a channel the hub completes exactly
// once, and the watches (normalized -> original) it is indexed under.
type handle struct {
	id       uint64
	watches  []ClientWatch
	resultCh chan Result
	done     sync.Once
}

func (h *handle) originalFor(normalized string) string {
	for _, w := range h.watches {
		if w.Normalized == normalized {
			return w.Original
		}
	}
	return normalized
}

func (h *handle) complete(result Result) {
	h.done.Do(func() {
		h.resultCh <- result
		close(h.resultCh)
	})
}

// Hub holds server-side namespace state and the parked requests awaiting
// a change. Safe for concurrent use.
type Hub struct {
	mu sync.Mutex

	states map[string]*NamespaceState
	// parked indexes handles by every normalized namespace they watch.
	parked map[string]map[uint64]*handle

	nextID uint64

	logger *slog.Logger
}

// NewHub constructs an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		states: map[string]*NamespaceState{},
		parked: map[string]map[uint64]*handle{},
		logger: logger,
	}
}

// ClientWatch is one entry of a client's long-poll vector: the namespace
// as the client spelled it, normalized for server-side lookups, and the
// id the client already has.
type ClientWatch struct {
	Original   string
	Normalized string
	ClientID   int64
}

// Poll implements the parking decision of spec §4.5 steps 2-3: if any
// watched namespace's current server id strictly exceeds the client's id,
// it returns those namespaces at once as immediate (wait is nil). Otherwise it
// parks the request and returns a channel that resolves within timeout,
// defaulting to an empty Result (mapped to 304) on expiry.
func (h *Hub) Poll(watches []ClientWatch, timeout time.Duration) (immediate []ChangedNamespace, wait <-chan Result, cancelWait func()) {
	h.mu.Lock()

	var changed []ChangedNamespace
	for _, w := range watches {
		if state, ok := h.states[w.Normalized]; ok && state.NotificationID > w.ClientID {
			changed = append(changed, ChangedNamespace{Namespace: w.Original, NotificationID: state.NotificationID})
		}
	}

	if len(changed) > 0 {
		h.mu.Unlock()
		return changed, nil, func() {}
	}

	h.nextID++
	id := h.nextID

	hdl := &handle{id: id, watches: watches, resultCh: make(chan Result, 1)}
	for _, w := range watches {
		if h.parked[w.Normalized] == nil {
			h.parked[w.Normalized] = map[uint64]*handle{}
		}
		h.parked[w.Normalized][id] = hdl
	}
	h.mu.Unlock()

	timer := time.AfterFunc(timeout, func() {
		h.removeHandle(hdl)
		hdl.complete(Result{})
	})

	return nil, hdl.resultCh, func() { timer.Stop(); h.removeHandle(hdl); hdl.complete(Result{}) }
}

func (h *Hub) removeHandle(hdl *handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, w := range hdl.watches {
		delete(h.parked[w.Normalized], hdl.id)
		if len(h.parked[w.Normalized]) == 0 {
			delete(h.parked, w.Normalized)
		}
	}
}

// Publish records a new notification id for namespace and wakes every
// parked request watching it (spec §4.5 step 4), returning each result
// under the watching client's own original spelling for that namespace.
func (h *Hub) Publish(namespace string, notificationID int64, messages map[string]int64) {
	h.mu.Lock()
	state, ok := h.states[namespace]
	if !ok {
		state = &NamespaceState{}
		h.states[namespace] = state
	}
	if notificationID <= state.NotificationID {
		h.mu.Unlock()
		return
	}
	state.NotificationID = notificationID

	handles := make([]*handle, 0, len(h.parked[namespace]))
	for _, hdl := range h.parked[namespace] {
		handles = append(handles, hdl)
	}
	h.mu.Unlock()

	for _, hdl := range handles {
		h.removeHandle(hdl)
		hdl.complete(Result{Changed: []ChangedNamespace{
			{Namespace: hdl.originalFor(namespace), NotificationID: notificationID, Messages: messages},
		}})
	}
}

// ParkedCount reports how many distinct handles are currently parked,
// for health/diagnostics.
func (h *Hub) ParkedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	seen := map[uint64]struct{}{}
	for _, byID := range h.parked {
		for id := range byID {
			seen[id] = struct{}{}
		}
	}
	return len(seen)
}
