package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	opts, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "default", opts.Cluster)
	assert.Equal(t, 5*time.Minute, opts.RefreshInterval)
	assert.Equal(t, 90*time.Second, opts.LongPollReadTimeout)
	assert.Equal(t, 60*time.Second, opts.NotificationServerHoldTimeout)
	assert.Equal(t, "info", opts.Log.Level)
}

func TestLoad_FromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "confsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app_id: demo-app\ncluster: prod\nload_config_qps: 5\n"), 0o644))

	opts, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "demo-app", opts.AppID)
	assert.Equal(t, "prod", opts.Cluster)
	assert.Equal(t, 5.0, opts.LoadConfigQPS)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CONFSYNC_APP_ID", "env-app")
	opts, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "env-app", opts.AppID)
}

func TestLoad_MissingFileIgnoredNotError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
}
