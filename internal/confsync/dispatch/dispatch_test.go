package dispatch

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/confsync/internal/confsync"
)

func TestDiff_AddedModifiedDeleted(t *testing.T) {
	prev := confsync.NewSnapshot("app", "default", "app", "r1", map[string]string{
		"k": "v1",
		"gone": "bye",
	}, nil)
	next := confsync.NewSnapshot("app", "default", "app", "r2", map[string]string{
		"k":   "v2",
		"new": "n1",
	}, nil)

	event := Diff("app", prev, next)
	require.Len(t, event.Changes, 3)

	byKey := map[string]confsync.PropertyChange{}
	for _, c := range event.Changes {
		byKey[c.Key] = c
	}

	assert.Equal(t, confsync.ChangeModified, byKey["k"].ChangeType)
	assert.Equal(t, "v1", byKey["k"].OldValue)
	assert.Equal(t, "v2", byKey["k"].NewValue)

	assert.Equal(t, confsync.ChangeAdded, byKey["new"].ChangeType)
	assert.Equal(t, "n1", byKey["new"].NewValue)

	assert.Equal(t, confsync.ChangeDeleted, byKey["gone"].ChangeType)
	assert.Equal(t, "bye", byKey["gone"].OldValue)
}

func TestDiff_NilPrevious_AllAdded(t *testing.T) {
	next := confsync.NewSnapshot("app", "default", "app", "r1", map[string]string{"k": "v1"}, nil)
	event := Diff("app", nil, next)
	require.Len(t, event.Changes, 1)
	assert.Equal(t, confsync.ChangeAdded, event.Changes[0].ChangeType)
}

func TestDiff_SameSnapshot_NoChanges(t *testing.T) {
	snap := confsync.NewSnapshot("app", "default", "app", "r1", map[string]string{"k": "v1"}, nil)
	event := Diff("app", snap, snap)
	assert.Empty(t, event.Changes)
}

type recordingListener struct {
	mu     sync.Mutex
	events []confsync.ChangeEvent
	errs   []error
}

func (r *recordingListener) OnChange(e confsync.ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingListener) OnSyncError(_ string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recordingListener) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type panickingListener struct{}

func (panickingListener) OnChange(confsync.ChangeEvent) { panic("boom") }

func TestDispatcher_IsolatesPanickingListener(t *testing.T) {
	d := New(nil)
	good := &recordingListener{}
	d.AddListener(panickingListener{})
	d.AddListener(good)

	d.Dispatch(confsync.ChangeEvent{Namespace: "app"})

	assert.Equal(t, 1, good.count(), "the well-behaved listener must still receive the event")
}

func TestDispatcher_RemoveListener(t *testing.T) {
	d := New(nil)
	l := &recordingListener{}
	d.AddListener(l)
	d.RemoveListener(l)

	d.Dispatch(confsync.ChangeEvent{Namespace: "app"})
	assert.Equal(t, 0, l.count())
}

func TestDispatcher_DispatchError_OnlyErrorListeners(t *testing.T) {
	d := New(nil)
	l := &recordingListener{}
	d.AddListener(l)

	d.DispatchError("app", assert.AnError)

	l.mu.Lock()
	defer l.mu.Unlock()
	require.Len(t, l.errs, 1)
	assert.ErrorIs(t, l.errs[0], assert.AnError)
}
