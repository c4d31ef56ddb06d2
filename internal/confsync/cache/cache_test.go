package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/confsync/internal/confsync"
)

func TestMemoryCache_StoreLoadRoundTrip(t *testing.T) {
	c := NewMemoryCache(4, nil)
	snap := confsync.NewSnapshot("app", "default", "app.ns", "r1", map[string]string{"k": "v"}, nil)

	require.NoError(t, c.Store("app.ns", snap))

	got, ok, err := c.Load("app.ns")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equals(snap))
}

func TestMemoryCache_LoadMiss(t *testing.T) {
	c := NewMemoryCache(4, nil)
	_, ok, err := c.Load("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileCache_StoreLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c, err := NewFileCache(dir, nil)
	require.NoError(t, err)

	snap := confsync.NewSnapshot("app", "default", "app.ns", "r1", map[string]string{"k": "v"}, map[string]int64{"app.ns": 7})
	require.NoError(t, c.Store("app.ns", snap))

	got, ok, err := c.Load("app.ns")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, snap.ReleaseKey, got.ReleaseKey)
	assert.Equal(t, snap.Configurations, got.Configurations)
	assert.Equal(t, snap.NotificationMessages, got.NotificationMessages)

	assert.FileExists(t, filepath.Join(dir, "app.ns.json"))
}

func TestFileCache_LoadMiss(t *testing.T) {
	dir := t.TempDir()
	c, err := NewFileCache(dir, nil)
	require.NoError(t, err)

	_, ok, err := c.Load("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileCache_CorruptFileTreatedAsMiss(t *testing.T) {
	dir := t.TempDir()
	c, err := NewFileCache(dir, nil)
	require.NoError(t, err)

	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, ok, err := c.Load("bad")
	require.NoError(t, err)
	assert.False(t, ok)
}
