// Package facade implements the Config Facade (spec §4.7, component C7):
// a merged, read-through view over ordered property sources, re-
// publishing repository change events after priority filtering. Grounded
// on internal/config/config.go's layered config (viper + mapstructure +
// env override), generalized from one fixed set of config sections to N
// ordered property sources, one of which is a live Repository snapshot.
package facade

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/vitaliisemenov/confsync/internal/confsync"
)

// Source is one property source in the Facade's priority chain.
type Source interface {
	// Get returns the value for key and whether it was present in this
	// source specifically.
	Get(key string) (string, bool)
}

// MapSource is a simple static Source backed by a map — used for
// process-level overrides and built-in resource defaults.
type MapSource map[string]string

func (m MapSource) Get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// EnvSource reads from the process environment.
type EnvSource struct{}

func (EnvSource) Get(key string) (string, bool) { return os.LookupEnv(key) }

// RepositorySource adapts a *repository.Repository's GetConfig to Source
// without importing the repository package, avoiding a dependency the
// Facade does not otherwise need.
type RepositorySource struct {
	GetConfig func() *confsync.Snapshot
}

func (r RepositorySource) Get(key string) (string, bool) {
	snap := r.GetConfig()
	if snap == nil {
		return "", false
	}
	return snap.Get(key)
}

// Facade presents a single merged read-through view composed of ordered
// Sources (highest priority first): process overrides, repository
// snapshot, environment variables, built-in defaults. GetProperty never
// errors; the typed accessors return ErrTypeMismatch whenever the value is
// present but does not parse, and have no lenient mode.
type Facade struct {
	mu      sync.RWMutex
	sources []Source

	listenerMu sync.RWMutex
	listeners  []confsync.Listener
}

// New constructs a Facade with sources in priority order, highest first.
func New(sources ...Source) *Facade {
	return &Facade{sources: sources}
}

// GetProperty returns the first source's value for key in priority
// order, or fallback if no source has it. Never errors.
func (f *Facade) GetProperty(key, fallback string) string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, s := range f.sources {
		if v, ok := s.Get(key); ok {
			return v
		}
	}
	return fallback
}

// GetString is an alias for GetProperty, matching the typed-accessor
// family below.
func (f *Facade) GetString(key, fallback string) string {
	return f.GetProperty(key, fallback)
}

// GetInt parses the resolved property as an integer. Returns fallback
// and a nil error if the key is absent; returns ErrTypeMismatch if
// present but unparsable.
func (f *Facade) GetInt(key string, fallback int) (int, error) {
	raw, ok := f.lookup(key)
	if !ok {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback, fmt.Errorf("%w: key %q value %q is not an int", confsync.ErrTypeMismatch, key, raw)
	}
	return v, nil
}

// GetBool parses the resolved property as a bool.
func (f *Facade) GetBool(key string, fallback bool) (bool, error) {
	raw, ok := f.lookup(key)
	if !ok {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback, fmt.Errorf("%w: key %q value %q is not a bool", confsync.ErrTypeMismatch, key, raw)
	}
	return v, nil
}

// GetDuration parses the resolved property via time.ParseDuration.
func (f *Facade) GetDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := f.lookup(key)
	if !ok {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback, fmt.Errorf("%w: key %q value %q is not a duration", confsync.ErrTypeMismatch, key, raw)
	}
	return v, nil
}

func (f *Facade) lookup(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, s := range f.sources {
		if v, ok := s.Get(key); ok {
			return v, true
		}
	}
	return "", false
}

// AddListener registers l to receive change events re-published by the
// Facade after priority filtering.
func (f *Facade) AddListener(l confsync.Listener) {
	f.listenerMu.Lock()
	defer f.listenerMu.Unlock()
	f.listeners = append(f.listeners, l)
}

// RemoveListener unregisters l.
func (f *Facade) RemoveListener(l confsync.Listener) {
	f.listenerMu.Lock()
	defer f.listenerMu.Unlock()
	for i, existing := range f.listeners {
		if existing == l {
			f.listeners = append(f.listeners[:i], f.listeners[i+1:]...)
			return
		}
	}
}

// SourceListener returns a confsync.Listener that re-publishes change
// events from the source at sourceRank (its index in the Facade's
// priority chain) through the Facade, filtering out any key that a
// higher-priority source currently hides — "an added key overridden by a
// higher-priority source becomes invisible and is filtered out" (spec
// §4.7). Register the returned value directly with the Repository
// backing that source.
func (f *Facade) SourceListener(sourceRank int) confsync.Listener {
	return sourceListener{facade: f, rank: sourceRank}
}

type sourceListener struct {
	facade *Facade
	rank   int
}

func (s sourceListener) OnChange(event confsync.ChangeEvent) {
	s.facade.dispatchFiltered(event, s.rank)
}

func (f *Facade) dispatchFiltered(event confsync.ChangeEvent, sourceRank int) {
	visible := confsync.ChangeEvent{Namespace: event.Namespace}

	for _, change := range event.Changes {
		if f.hiddenByHigherPriority(change.Key, sourceRank) {
			continue
		}
		visible.Changes = append(visible.Changes, change)
	}

	if len(visible.Changes) == 0 {
		return
	}

	f.listenerMu.RLock()
	listeners := append([]confsync.Listener(nil), f.listeners...)
	f.listenerMu.RUnlock()

	for _, l := range listeners {
		l.OnChange(visible)
	}
}

func (f *Facade) hiddenByHigherPriority(key string, sourceRank int) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for i := 0; i < sourceRank && i < len(f.sources); i++ {
		if _, ok := f.sources[i].Get(key); ok {
			return true
		}
	}
	return false
}
