package strategy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/offline-hub/offline-hub/internal/cache"
	"github.com/offline-hub/offline-hub/internal/fetch"
	"github.com/offline-hub/offline-hub/internal/routing"
)

const (
	scriptURL = "https://unpkg.com/vue@3/dist/vue.global.js"
	apiURL    = "https://project.supabase.co/rest/v1/employees?select=*"
	pageURL   = "https://hris.example.com/app/employees/42"
	shellURL  = "https://hris.example.com/app/index.html"
)

func TestStaticAssetHitNeverTouchesNetwork(t *testing.T) {
	engine, store, network := newTestEngine(t)
	ctx := context.Background()
	if err := store.Put(ctx, "Kantor Pusat Ibka", scriptURL, cache.Entry{Status: 200, Body: []byte("cached")}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	network.set(scriptURL, http.StatusOK, "fresh")

	resp, err := engine.StaticAsset(ctx, mustRequest(t, http.MethodGet, scriptURL))
	if err != nil {
		t.Fatalf("StaticAsset: %v", err)
	}
	if string(resp.Body) != "cached" || resp.Source != fetch.SourceCache {
		t.Fatalf("expected cached body, got %q from %s", resp.Body, resp.Source)
	}
	if network.count(scriptURL) != 0 {
		t.Fatalf("cache hit must not reach network")
	}
}

func TestStaticAssetMissStoresOnly200(t *testing.T) {
	engine, store, network := newTestEngine(t)
	ctx := context.Background()
	network.set(scriptURL, http.StatusOK, "vue")
	missing := "https://hris.example.com/app/missing.png"

	if _, err := engine.StaticAsset(ctx, mustRequest(t, http.MethodGet, scriptURL)); err != nil {
		t.Fatalf("StaticAsset: %v", err)
	}
	entry, err := store.Get(ctx, "Kantor Pusat Ibka", scriptURL)
	if err != nil || string(entry.Body) != "vue" {
		t.Fatalf("200 response should be cached, got %v / %v", entry, err)
	}

	resp, err := engine.StaticAsset(ctx, mustRequest(t, http.MethodGet, missing))
	if err != nil {
		t.Fatalf("StaticAsset 404: %v", err)
	}
	if resp.Status != http.StatusNotFound {
		t.Fatalf("404 should pass through, got %d", resp.Status)
	}
	if _, err := store.Get(ctx, "Kantor Pusat Ibka", missing); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("non-200 response must not be cached, got %v", err)
	}
}

func TestStaticAssetNonGetNotCached(t *testing.T) {
	engine, store, network := newTestEngine(t)
	ctx := context.Background()
	target := "https://hris.example.com/app/upload"
	network.set(target, http.StatusOK, "ok")

	if _, err := engine.StaticAsset(ctx, mustRequest(t, http.MethodPost, target)); err != nil {
		t.Fatalf("StaticAsset POST: %v", err)
	}
	if _, err := store.Get(ctx, "Kantor Pusat Ibka", target); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("POST must never be cached")
	}
}

func TestStaticAssetOfflineMissPropagates(t *testing.T) {
	engine, _, network := newTestEngine(t)
	network.setOffline(true)

	_, err := engine.StaticAsset(context.Background(), mustRequest(t, http.MethodGet, scriptURL))
	if !errors.Is(err, ErrNoFallback) || !errors.Is(err, errOffline) {
		t.Fatalf("expected ErrNoFallback wrapping network error, got %v", err)
	}
}

func TestDynamicDataUpdatesAndFallsBack(t *testing.T) {
	engine, store, network := newTestEngine(t)
	ctx := context.Background()

	network.set(apiURL, http.StatusOK, `[{"id":1}]`)
	resp, err := engine.DynamicData(ctx, mustRequest(t, http.MethodGet, apiURL))
	if err != nil || resp.Source != fetch.SourceNetwork {
		t.Fatalf("online fetch should return live response, got %v / %v", resp, err)
	}

	network.set(apiURL, http.StatusOK, `[{"id":1},{"id":2}]`)
	if _, err := engine.DynamicData(ctx, mustRequest(t, http.MethodGet, apiURL)); err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	entry, err := store.Get(ctx, "KantorPusatIbkaData", apiURL)
	if err != nil || string(entry.Body) != `[{"id":1},{"id":2}]` {
		t.Fatalf("entry should hold latest 200 body, got %v / %v", entry, err)
	}

	network.setOffline(true)
	resp, err = engine.DynamicData(ctx, mustRequest(t, http.MethodGet, apiURL))
	if err != nil {
		t.Fatalf("offline fetch should fall back: %v", err)
	}
	if resp.Source != fetch.SourceCache || string(resp.Body) != `[{"id":1},{"id":2}]` {
		t.Fatalf("expected last cached body, got %q from %s", resp.Body, resp.Source)
	}
}

func TestDynamicDataNon200FallsBackToCache(t *testing.T) {
	engine, store, network := newTestEngine(t)
	ctx := context.Background()
	if err := store.Put(ctx, "KantorPusatIbkaData", apiURL, cache.Entry{Status: 200, Body: []byte("old")}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	network.set(apiURL, http.StatusServiceUnavailable, "down")

	resp, err := engine.DynamicData(ctx, mustRequest(t, http.MethodGet, apiURL))
	if err != nil {
		t.Fatalf("DynamicData: %v", err)
	}
	if string(resp.Body) != "old" {
		t.Fatalf("non-200 should fall back to cached entry, got %q", resp.Body)
	}
	entry, _ := store.Get(ctx, "KantorPusatIbkaData", apiURL)
	if string(entry.Body) != "old" {
		t.Fatalf("non-200 must not overwrite the entry")
	}
}

func TestDynamicDataMissReturnsNon200AsIs(t *testing.T) {
	engine, _, network := newTestEngine(t)
	network.set(apiURL, http.StatusUnauthorized, "denied")

	resp, err := engine.DynamicData(context.Background(), mustRequest(t, http.MethodGet, apiURL))
	if err != nil {
		t.Fatalf("DynamicData: %v", err)
	}
	if resp.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 pass-through, got %d", resp.Status)
	}
}

func TestDynamicDataOfflineMissPropagates(t *testing.T) {
	engine, _, network := newTestEngine(t)
	network.setOffline(true)

	_, err := engine.DynamicData(context.Background(), mustRequest(t, http.MethodGet, apiURL))
	if !errors.Is(err, ErrNoFallback) {
		t.Fatalf("expected ErrNoFallback, got %v", err)
	}
}

func TestDynamicDataNonGetBypassesCache(t *testing.T) {
	engine, store, network := newTestEngine(t)
	ctx := context.Background()
	rpc := "https://project.supabase.co/rest/v1/rpc/checkin"
	if err := store.Put(ctx, "KantorPusatIbkaData", rpc, cache.Entry{Status: 200, Body: []byte("stale")}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	network.setOffline(true)

	if _, err := engine.DynamicData(ctx, mustRequest(t, http.MethodPost, rpc)); !errors.Is(err, ErrNoFallback) {
		t.Fatalf("POST must not fall back to cache, got %v", err)
	}
}

func TestNavigationOfflineServesShell(t *testing.T) {
	engine, store, network := newTestEngine(t)
	ctx := context.Background()
	if err := store.Put(ctx, "Kantor Pusat Ibka", shellURL, cache.Entry{Status: 200, Body: []byte("<html>shell</html>")}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	network.setOffline(true)

	req := mustRequest(t, http.MethodGet, pageURL)
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	resp, err := engine.Navigation(ctx, req)
	if err != nil {
		t.Fatalf("Navigation: %v", err)
	}
	if resp.Source != fetch.SourceShell || string(resp.Body) != "<html>shell</html>" {
		t.Fatalf("expected shell document, got %q from %s", resp.Body, resp.Source)
	}
}

func TestNavigationOnlineNeverCached(t *testing.T) {
	engine, store, network := newTestEngine(t)
	ctx := context.Background()
	network.set(pageURL, http.StatusOK, "<html>live</html>")

	resp, err := engine.Navigation(ctx, mustRequest(t, http.MethodGet, pageURL))
	if err != nil || string(resp.Body) != "<html>live</html>" {
		t.Fatalf("expected live page, got %v / %v", resp, err)
	}
	namespaces, _ := store.Namespaces(ctx)
	if len(namespaces) != 0 {
		t.Fatalf("navigation must not write to cache, got %v", namespaces)
	}
}

func TestNavigationOfflineWithoutShellFails(t *testing.T) {
	engine, _, network := newTestEngine(t)
	network.setOffline(true)

	_, err := engine.Navigation(context.Background(), mustRequest(t, http.MethodGet, pageURL))
	if !errors.Is(err, ErrNoFallback) {
		t.Fatalf("expected ErrNoFallback, got %v", err)
	}
}

func TestHandlersCoverEveryStrategy(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	handlers := engine.Handlers()
	for _, s := range routing.Strategies {
		if handlers[s] == nil {
			t.Fatalf("missing handler for %s", s)
		}
	}
	if engine.ShellKey() != shellURL {
		t.Fatalf("unexpected shell key %s", engine.ShellKey())
	}
}

// countingGate 记录缓存读写期间锁是否被持有。
type countingGate struct {
	held     atomic.Bool
	acquired atomic.Int32
}

func (g *countingGate) AcquireCache() func() {
	g.held.Store(true)
	g.acquired.Add(1)
	return func() { g.held.Store(false) }
}

// gateCheckingFetcher 在网络请求时断言 gate 未被持有。
type gateCheckingFetcher struct {
	gate     *countingGate
	violated atomic.Bool
	next     fetch.Fetcher
}

func (f *gateCheckingFetcher) Fetch(ctx context.Context, req *fetch.Request) (*fetch.Response, error) {
	if f.gate.held.Load() {
		f.violated.Store(true)
	}
	return f.next.Fetch(ctx, req)
}

func TestGateHeldOnlyAroundCacheAccess(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	network := newFakeNetwork()
	network.set(scriptURL, http.StatusOK, "vue")
	network.set(apiURL, http.StatusOK, "[]")
	gate := &countingGate{}
	fetcher := &gateCheckingFetcher{gate: gate, next: network}

	engine, err := New(Options{
		Store:   cache.NewMemoryStore(),
		Fetcher: fetcher,
		App:     testApp(),
		Logger:  logger,
		Gate:    gate,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	if _, err := engine.StaticAsset(ctx, mustRequest(t, http.MethodGet, scriptURL)); err != nil {
		t.Fatalf("StaticAsset: %v", err)
	}
	if _, err := engine.DynamicData(ctx, mustRequest(t, http.MethodGet, apiURL)); err != nil {
		t.Fatalf("DynamicData: %v", err)
	}
	network.setOffline(true)
	if _, err := engine.DynamicData(ctx, mustRequest(t, http.MethodGet, apiURL)); err != nil {
		t.Fatalf("DynamicData fallback: %v", err)
	}

	if fetcher.violated.Load() {
		t.Fatalf("gate must not be held while fetching from the network")
	}
	if gate.held.Load() {
		t.Fatalf("gate left held after request")
	}
	// static: lookup + store; dynamic: store; fallback: lookup
	if got := gate.acquired.Load(); got != 4 {
		t.Fatalf("expected 4 gated cache accesses, got %d", got)
	}
}
