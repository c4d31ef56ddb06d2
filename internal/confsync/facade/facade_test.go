package facade

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/confsync/internal/confsync"
)

func TestFacade_GetProperty_PriorityOrder(t *testing.T) {
	overrides := MapSource{"k": "override"}
	defaults := MapSource{"k": "default", "only-default": "d"}
	f := New(overrides, defaults)

	assert.Equal(t, "override", f.GetProperty("k", "fallback"))
	assert.Equal(t, "d", f.GetProperty("only-default", "fallback"))
	assert.Equal(t, "fallback", f.GetProperty("missing", "fallback"))
}

func TestFacade_TypedAccessors(t *testing.T) {
	f := New(MapSource{"n": "42", "b": "true", "d": "5s", "bad": "nope"})

	n, err := f.GetInt("n", 0)
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	b, err := f.GetBool("b", false)
	require.NoError(t, err)
	assert.True(t, b)

	d, err := f.GetDuration("d", 0)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)

	_, err = f.GetInt("bad", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, confsync.ErrTypeMismatch)

	missing, err := f.GetInt("missing", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, missing)
}

func TestFacade_SourceListener_FiltersKeysHiddenByHigherPriority(t *testing.T) {
	overrides := MapSource{"k": "pinned"}
	f := New(overrides, MapSource{})

	var received []confsync.ChangeEvent
	f.AddListener(listenerFunc(func(e confsync.ChangeEvent) { received = append(received, e) }))

	repoListener := f.SourceListener(1)
	repoListener.OnChange(confsync.ChangeEvent{
		Namespace: "app",
		Changes: []confsync.PropertyChange{
			{Key: "k", ChangeType: confsync.ChangeAdded, NewValue: "hidden"},
			{Key: "visible", ChangeType: confsync.ChangeAdded, NewValue: "v"},
		},
	})

	require.Len(t, received, 1)
	require.Len(t, received[0].Changes, 1)
	assert.Equal(t, "visible", received[0].Changes[0].Key)
}

func TestFacade_SourceListener_TopRankNeverFiltered(t *testing.T) {
	f := New(MapSource{"k": "v"})

	var received []confsync.ChangeEvent
	f.AddListener(listenerFunc(func(e confsync.ChangeEvent) { received = append(received, e) }))

	f.SourceListener(0).OnChange(confsync.ChangeEvent{
		Namespace: "app",
		Changes:   []confsync.PropertyChange{{Key: "k", ChangeType: confsync.ChangeAdded, NewValue: "v"}},
	})

	require.Len(t, received, 1)
}

type listenerFunc func(confsync.ChangeEvent)

func (f listenerFunc) OnChange(e confsync.ChangeEvent) { f(e) }
