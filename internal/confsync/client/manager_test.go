package client

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/confsync/internal/confsync"
	"github.com/vitaliisemenov/confsync/internal/confsync/cache"
)

type scriptedDoer struct {
	mu    sync.Mutex
	byURL map[string][]fakeResponse
	calls map[string]int
}

type fakeResponse struct {
	status int
	body   string
}

func newScriptedDoer() *scriptedDoer {
	return &scriptedDoer{byURL: map[string][]fakeResponse{}, calls: map[string]int{}}
}

func (d *scriptedDoer) on(substr string, responses ...fakeResponse) {
	d.byURL[substr] = responses
}

func (d *scriptedDoer) Do(req *http.Request) (*http.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	url := req.URL.String()
	for substr, responses := range d.byURL {
		if strings.Contains(url, substr) {
			idx := d.calls[substr]
			if idx >= len(responses) {
				idx = len(responses) - 1
			}
			d.calls[substr]++
			r := responses[idx]
			return &http.Response{StatusCode: r.status, Body: io.NopCloser(strings.NewReader(r.body))}, nil
		}
	}
	return &http.Response{StatusCode: 404, Body: io.NopCloser(strings.NewReader(""))}, nil
}

func TestManager_Watch_ColdStart(t *testing.T) {
	doer := newScriptedDoer()
	doer.on("/services/config", fakeResponse{status: 200, body: `[{"homepageUrl":"http://cfgsvc"}]`})
	doer.on("/configs/", fakeResponse{status: 200, body: `{"appId":"app1","releaseKey":"r1","configurations":{"k":"v1"}}`})

	mgr := NewManager(Config{AppID: "app1", MetaServerURL: "http://meta", HTTPClient: doer})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr.Start(ctx)
	defer mgr.Stop()

	repo, err := mgr.Watch(ctx, "application")
	require.NoError(t, err)

	snap := repo.GetConfig()
	require.NotNil(t, snap)
	v, ok := snap.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v1", v)
}

func TestManager_Watch_FallsBackToCacheOnInitialLoadFailure(t *testing.T) {
	doer := newScriptedDoer()
	doer.on("/services/config", fakeResponse{status: 200, body: `[{"homepageUrl":"http://cfgsvc"}]`})
	doer.on("/configs/", fakeResponse{status: 500, body: ""})

	memCache := cache.NewMemoryCache(4, nil)
	cached := confsync.NewSnapshot("app1", "default", "application", "stale-r1", map[string]string{"k": "stale"}, nil)
	require.NoError(t, memCache.Store("application", cached))

	mgr := NewManager(Config{AppID: "app1", MetaServerURL: "http://meta", HTTPClient: doer, Cache: memCache})
	ctx := context.Background()
	mgr.Start(ctx)
	defer mgr.Stop()

	repo, err := mgr.Watch(ctx, "application")
	require.NoError(t, err, "a configured cache must absorb the initial load failure")

	snap := repo.GetConfig()
	require.NotNil(t, snap)
	assert.Equal(t, "stale-r1", snap.ReleaseKey)
}

func TestManager_Watch_NoCacheSurfacesInitialLoadFailed(t *testing.T) {
	doer := newScriptedDoer()
	doer.on("/services/config", fakeResponse{status: 200, body: `[{"homepageUrl":"http://cfgsvc"}]`})
	doer.on("/configs/", fakeResponse{status: 500, body: ""})

	mgr := NewManager(Config{AppID: "app1", MetaServerURL: "http://meta", HTTPClient: doer})
	ctx := context.Background()
	mgr.Start(ctx)
	defer mgr.Stop()

	_, err := mgr.Watch(ctx, "application")
	require.Error(t, err)
	assert.ErrorIs(t, err, confsync.ErrInitialLoadFailed)
}

func TestManager_Watch_Idempotent(t *testing.T) {
	doer := newScriptedDoer()
	doer.on("/services/config", fakeResponse{status: 200, body: `[{"homepageUrl":"http://cfgsvc"}]`})
	doer.on("/configs/", fakeResponse{status: 200, body: `{"appId":"app1","releaseKey":"r1","configurations":{"k":"v1"}}`})

	mgr := NewManager(Config{AppID: "app1", MetaServerURL: "http://meta", HTTPClient: doer})
	ctx := context.Background()
	mgr.Start(ctx)
	defer mgr.Stop()

	first, err := mgr.Watch(ctx, "application")
	require.NoError(t, err)
	second, err := mgr.Watch(ctx, "application")
	require.NoError(t, err)

	assert.Same(t, first, second)
}

func TestManager_Health_ReportsWatchedNamespaces(t *testing.T) {
	doer := newScriptedDoer()
	doer.on("/services/config", fakeResponse{status: 200, body: `[{"homepageUrl":"http://cfgsvc"}]`})
	doer.on("/configs/", fakeResponse{status: 200, body: `{"appId":"app1","releaseKey":"r1","configurations":{"k":"v1"}}`})

	mgr := NewManager(Config{AppID: "app1", MetaServerURL: "http://meta", HTTPClient: doer})
	ctx := context.Background()
	mgr.Start(ctx)
	defer mgr.Stop()

	_, err := mgr.Watch(ctx, "application")
	require.NoError(t, err)

	health := mgr.Health()
	require.Contains(t, health.Namespaces, "application")
	assert.WithinDuration(t, time.Now(), health.Namespaces["application"].LastSyncAt, 5*time.Second)
}
