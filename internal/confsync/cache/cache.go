// Package cache implements the locally persisted Snapshot fallback named
// in spec §6 ("each Repository writes the latest successful Snapshot to a
// local file so the next process start can serve stale-but-available
// data"). The wire/file format is explicitly out of scope for the spec;
// this package supplies a concrete, swappable default (pluggable backend
// selection grounded on the teacher's internal/storage/factory.go, atomic
// rename-based replace grounded on its in-memory default's
// graceful-degradation intent).
package cache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vitaliisemenov/confsync/internal/confsync"
)

// SnapshotCache persists the latest successful Snapshot per namespace so
// a Repository's host can serve stale-but-available data across process
// restarts (spec §6). Implementations must make Store atomic: a reader
// must never observe a partially written snapshot.
type SnapshotCache interface {
	Store(namespace string, snapshot *confsync.Snapshot) error
	Load(namespace string) (*confsync.Snapshot, bool, error)
}

// MemoryCache is an in-memory, LRU-bounded SnapshotCache. It does not
// survive a process restart — it exists for graceful degradation when a
// durable backend is unavailable, and as the default for tests and
// short-lived demo processes, the same role the teacher's
// memory.MemoryStorage plays for alert storage.
type MemoryCache struct {
	mu      sync.RWMutex
	entries *lru.Cache[string, *confsync.Snapshot]
	logger  *slog.Logger
}

// NewMemoryCache builds a MemoryCache holding up to capacity namespaces.
func NewMemoryCache(capacity int, logger *slog.Logger) *MemoryCache {
	if capacity <= 0 {
		capacity = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	entries, _ := lru.New[string, *confsync.Snapshot](capacity)
	return &MemoryCache{entries: entries, logger: logger}
}

func (c *MemoryCache) Store(namespace string, snapshot *confsync.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Add(namespace, snapshot)
	return nil
}

func (c *MemoryCache) Load(namespace string) (*confsync.Snapshot, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.entries.Get(namespace)
	return snap, ok, nil
}

// fileSnapshot is the on-disk JSON representation. The spec leaves the
// format out of scope; this is this package's own choice, not a protocol
// contract.
type fileSnapshot struct {
	AppID                string            `json:"appId"`
	Cluster              string            `json:"cluster"`
	Namespace            string            `json:"namespace"`
	ReleaseKey           string            `json:"releaseKey"`
	Configurations       map[string]string `json:"configurations"`
	NotificationMessages map[string]int64  `json:"notificationMessages,omitempty"`
}

// FileCache persists one JSON file per namespace under Dir, replacing it
// atomically via write-to-temp + rename so a reader never observes a
// torn write.
type FileCache struct {
	Dir    string
	logger *slog.Logger
}

// NewFileCache builds a FileCache rooted at dir, creating it if absent.
func NewFileCache(dir string, logger *slog.Logger) (*FileCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("confsync: create cache dir: %w", err)
	}
	return &FileCache{Dir: dir, logger: logger}, nil
}

func (c *FileCache) pathFor(namespace string) string {
	return filepath.Join(c.Dir, namespace+".json")
}

func (c *FileCache) Store(namespace string, snapshot *confsync.Snapshot) error {
	if snapshot == nil {
		return nil
	}
	payload := fileSnapshot{
		AppID:                snapshot.AppID,
		Cluster:              snapshot.Cluster,
		Namespace:            snapshot.Namespace,
		ReleaseKey:           snapshot.ReleaseKey,
		Configurations:       snapshot.Configurations,
		NotificationMessages: snapshot.NotificationMessages,
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("confsync: marshal cached snapshot: %w", err)
	}

	dest := c.pathFor(namespace)
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("confsync: write cache temp file: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("confsync: replace cache file: %w", err)
	}
	return nil
}

func (c *FileCache) Load(namespace string) (*confsync.Snapshot, bool, error) {
	data, err := os.ReadFile(c.pathFor(namespace))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("confsync: read cache file: %w", err)
	}

	var payload fileSnapshot
	if err := json.Unmarshal(data, &payload); err != nil {
		c.logger.Warn("discarding corrupt cache file", "namespace", namespace, "error", err)
		return nil, false, nil
	}

	snap := confsync.NewSnapshot(payload.AppID, payload.Cluster, payload.Namespace, payload.ReleaseKey, payload.Configurations, payload.NotificationMessages)
	return snap, true, nil
}
