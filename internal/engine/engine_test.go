package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/showgrid/showgrid/internal/cache"
	"github.com/showgrid/showgrid/internal/config"
	"github.com/showgrid/showgrid/internal/health"
	"github.com/showgrid/showgrid/pkg/errors"
	"github.com/showgrid/showgrid/pkg/types"
)

func newTestConfig(t *testing.T) *config.Configuration {
	cfg := config.NewDefault()
	cfg.Store.Directory = t.TempDir()
	return cfg
}

// newMetadataStub serves movie detail payloads and counts upstream hits.
// Full fetches carry append_to_response and get a marker field back so
// tests can tell which record shape they received.
func newMetadataStub(t *testing.T, calls *atomic.Int32) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("append_to_response") != "" {
			w.Write([]byte(`{"id":603,"title":"The Matrix","overview":"full record"}`))
			return
		}
		w.Write([]byte(`{"id":603,"title":"The Matrix"}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func newEngineWithStub(t *testing.T, upstream *httptest.Server) *Engine {
	cfg := newTestConfig(t)
	cfg.Metadata.APIKey = "test-key"
	cfg.Metadata.BaseURL = upstream.URL

	e, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Stop(context.Background()) })
	return e
}

func TestNewBuildsComponents(t *testing.T) {
	e, err := New(newTestConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Stop(context.Background()) })

	assert.NotNil(t, e.Orchestrator())
	assert.NotNil(t, e.Requests())
	assert.NotNil(t, e.Network())
	assert.NotNil(t, e.Session())
	assert.NotNil(t, e.Health())
	assert.NotNil(t, e.Metrics())
	assert.NotNil(t, e.Prefetch())
}

func TestNewNilConfigUsesDefaults(t *testing.T) {
	e, err := New(nil)
	require.NoError(t, err)

	assert.NotNil(t, e.Orchestrator())
	assert.NoError(t, e.Stop(context.Background()))
}

func TestNewInvalidConfig(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Memory.MaxEntries = -1

	e, err := New(cfg)
	require.Error(t, err)
	assert.Nil(t, e)
	assert.Equal(t, errors.ErrCodeConfigValidation, errors.Code(err))
}

func TestNewLeavesStoreUnopened(t *testing.T) {
	cfg := newTestConfig(t)

	e, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Stop(context.Background()) })

	entries, err := os.ReadDir(cfg.Store.Directory)
	require.NoError(t, err)
	assert.Empty(t, entries, "constructing an engine must not touch the store directory")
}

func TestWithFallbackDatastore(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)

	// Park the store directory under a regular file so the object store
	// cannot open and writes land in the fallback tier.
	blocker := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0600))
	cfg.Store.Directory = filepath.Join(blocker, "store")

	fallback := dssync.MutexWrap(ds.NewMapDatastore())
	e, err := New(cfg, WithFallbackDatastore(fallback))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Stop(ctx) })

	e.Orchestrator().Set(ctx, "movie:603", json.RawMessage(`{"id":603}`),
		cache.Options{Class: cache.TTLMedium, SkipMemory: true})

	results, err := fallback.Query(ctx, dsq.Query{KeysOnly: true})
	require.NoError(t, err)
	defer results.Close()
	entries, err := results.Rest()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Key, "movie:603")

	// The injected tier serves reads back through the cache.
	data, ok := e.Orchestrator().Get(ctx, "movie:603", cache.Options{})
	require.True(t, ok)
	assert.JSONEq(t, `{"id":603}`, string(data))
}

func TestFetcherNilWithoutAPIKey(t *testing.T) {
	e, err := New(newTestConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Stop(context.Background()) })

	assert.Nil(t, e.FetcherFor(types.KindMovie, "603", false))
}

func TestPrefetchDisabled(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Prefetch.Enabled = false

	e, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Stop(context.Background()) })

	assert.Nil(t, e.Prefetch())
}

func TestStartStopLifecycle(t *testing.T) {
	ctx := context.Background()
	e, err := New(newTestConfig(t))
	require.NoError(t, err)

	require.NoError(t, e.Start(ctx))

	err = e.Start(ctx)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeAlreadyStarted, errors.Code(err))

	require.NoError(t, e.Stop(ctx))
	require.NoError(t, e.Stop(ctx))

	err = e.Start(ctx)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeComponentStopped, errors.Code(err))
}

func TestStopNeverStarted(t *testing.T) {
	e, err := New(newTestConfig(t))
	require.NoError(t, err)

	assert.NoError(t, e.Stop(context.Background()))
}

func TestStartStopWithAPIServer(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	cfg.Monitoring.API.Enabled = true
	cfg.Monitoring.API.Address = "localhost:0"

	e, err := New(cfg)
	require.NoError(t, err)

	require.NoError(t, e.Start(ctx))
	require.NoError(t, e.Stop(ctx))
}

func TestStartStopWithOptionalLoops(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	cfg.Store.WriteBehind.Enabled = true
	cfg.Memory.Pressure.Enabled = true
	cfg.Memory.Pressure.SampleInterval = 10 * time.Millisecond

	e, err := New(cfg)
	require.NoError(t, err)

	require.NoError(t, e.Start(ctx))
	require.NoError(t, e.Stop(ctx))
}

func TestStatsAggregation(t *testing.T) {
	ctx := context.Background()
	e, err := New(newTestConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Stop(ctx) })

	e.Orchestrator().Set(ctx, "list:popular", json.RawMessage(`{"page":1}`), cache.Options{Class: cache.TTLShort})
	data, ok := e.Orchestrator().Get(ctx, "list:popular", cache.Options{})
	require.True(t, ok)
	assert.JSONEq(t, `{"page":1}`, string(data))

	stats := e.Stats()
	assert.Equal(t, uint64(1), stats.Cache.TotalHits)
	assert.Equal(t, 1, stats.Cache.Memory.Size)
	assert.True(t, stats.Session.Anonymous)
}

func TestHealthSettlesAfterStart(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	cfg.Monitoring.Health.Interval = 50 * time.Millisecond

	e, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Stop(ctx) })

	require.NoError(t, e.Start(ctx))

	assert.Eventually(t, func() bool {
		snapshot := e.Health().Snapshot()
		return snapshot.Status == health.StatusHealthy && len(snapshot.Checks) == 4
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStartWithProbe(t *testing.T) {
	var probes atomic.Int32
	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probes.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer endpoint.Close()

	ctx := context.Background()
	cfg := newTestConfig(t)
	cfg.Network.ProbeEnabled = true
	cfg.Network.ProbeURL = endpoint.URL
	cfg.Network.ProbeInterval = 10 * time.Millisecond

	e, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Stop(ctx) })

	require.NoError(t, e.Start(ctx))

	assert.Eventually(t, func() bool {
		return probes.Load() >= 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestTTLClassForKinds(t *testing.T) {
	assert.Equal(t, cache.TTLMedium, ttlClassFor(types.KindMovie))
	assert.Equal(t, cache.TTLMedium, ttlClassFor(types.KindTVShow))
	assert.Equal(t, cache.TTLShort, ttlClassFor(types.KindList))
	assert.Equal(t, cache.TTLShort, ttlClassFor(types.KindSearch))
}

func TestFetcherCachesUpstream(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	e := newEngineWithStub(t, newMetadataStub(t, &calls))

	fetch := e.FetcherFor(types.KindMovie, "603", false)
	require.NotNil(t, fetch)

	data, err := fetch(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(data), "The Matrix")
	assert.Equal(t, int32(1), calls.Load())

	// The second fetch is served from the cache.
	data, err = fetch(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(data), "The Matrix")
	assert.Equal(t, int32(1), calls.Load())

	stats := e.Stats()
	assert.Equal(t, uint64(1), stats.Network.Samples)
	assert.Equal(t, uint64(1), stats.Cache.TotalHits)
}

func TestFetcherEssentialKeying(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	e := newEngineWithStub(t, newMetadataStub(t, &calls))

	essentialKey := types.EssentialKey((&types.PrefetchItem{Kind: types.KindMovie, ID: "603"}).Key())

	// An essential fetch caches the reduced record under its own key.
	data, err := e.FetcherFor(types.KindMovie, "603", true)(ctx)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "full record")
	assert.Equal(t, int32(1), calls.Load())

	_, ok := e.Orchestrator().Get(ctx, essentialKey, cache.Options{})
	assert.True(t, ok)

	// A full fetch must not be satisfied by the reduced record.
	data, err = e.FetcherFor(types.KindMovie, "603", false)(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(data), "full record")
	assert.Equal(t, int32(2), calls.Load())

	// A later essential fetch is satisfied by the cached full record.
	data, err = e.FetcherFor(types.KindMovie, "603", true)(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(data), "full record")
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchCancelledNotCachedNotSampled(t *testing.T) {
	var calls atomic.Int32
	e := newEngineWithStub(t, newMetadataStub(t, &calls))

	fetch := e.FetcherFor(types.KindMovie, "603", false)
	require.NotNil(t, fetch)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fetch(cancelled)
	require.Error(t, err)
	assert.True(t, fetchCancelled(err), "cancellation must survive the error chain")

	// The cancelled fetch said nothing about connectivity and cached
	// nothing.
	assert.Equal(t, uint64(0), e.Stats().Network.Samples)

	data, err := fetch(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(data), "The Matrix")
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, uint64(1), e.Stats().Network.Samples)
}

func TestIdentitySwitchWipesUserScope(t *testing.T) {
	ctx := context.Background()
	e, err := New(newTestConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Stop(ctx) })

	orch := e.Orchestrator()
	orch.Set(ctx, "list:watchlist", json.RawMessage(`{"items":[1]}`), cache.Options{UserScoped: true})
	orch.Set(ctx, "movie:603", json.RawMessage(`{"id":603}`), cache.Options{})

	wiped, err := e.Session().SetIdentity(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, wiped)

	// The previous identity's entry is gone; the new identity misses.
	_, ok := orch.Get(ctx, "list:watchlist", cache.Options{UserScoped: true})
	assert.False(t, ok)

	// Shared entries survive the switch.
	_, ok = orch.Get(ctx, "movie:603", cache.Options{})
	assert.True(t, ok)
}
