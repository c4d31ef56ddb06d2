// Package confsync defines the shared data model for the configuration
// synchronization core: the immutable Snapshot, change events, listener
// capabilities, and the sentinel errors the fetch/notify subsystem surfaces.
package confsync

// Snapshot is an immutable view of a namespace's configuration at a point
// in time. Two snapshots are considered equal iff their ReleaseKey values
// are equal; a changed ReleaseKey implies at least one differing entry in
// Configurations. A Snapshot is never mutated after construction — callers
// that need a different view must build a new one.
type Snapshot struct {
	AppID      string
	Cluster    string
	Namespace  string
	ReleaseKey string

	// Configurations holds the namespace's key/value pairs. Insertion order
	// is irrelevant; callers must not mutate the map after the Snapshot is
	// published.
	Configurations map[string]string

	// NotificationMessages is the latest notification channel -> id bundle
	// delivered alongside this snapshot, if any.
	NotificationMessages map[string]int64
}

// NewSnapshot builds a Snapshot, defensively copying the supplied maps so
// the caller's mutations after the call cannot leak into the published
// value.
func NewSnapshot(appID, cluster, namespace, releaseKey string, configurations map[string]string, notificationMessages map[string]int64) *Snapshot {
	cfg := make(map[string]string, len(configurations))
	for k, v := range configurations {
		cfg[k] = v
	}

	var msgs map[string]int64
	if notificationMessages != nil {
		msgs = make(map[string]int64, len(notificationMessages))
		for k, v := range notificationMessages {
			msgs[k] = v
		}
	}

	return &Snapshot{
		AppID:                appID,
		Cluster:              cluster,
		Namespace:            namespace,
		ReleaseKey:           releaseKey,
		Configurations:       cfg,
		NotificationMessages: msgs,
	}
}

// Equals reports whether two snapshots carry the same release key. A nil
// Snapshot is only equal to another nil Snapshot.
func (s *Snapshot) Equals(other *Snapshot) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.ReleaseKey == other.ReleaseKey
}

// Get returns the value for key and whether it was present.
func (s *Snapshot) Get(key string) (string, bool) {
	if s == nil {
		return "", false
	}
	v, ok := s.Configurations[key]
	return v, ok
}
