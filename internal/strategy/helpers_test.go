package strategy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/offline-hub/offline-hub/internal/cache"
	"github.com/offline-hub/offline-hub/internal/config"
	"github.com/offline-hub/offline-hub/internal/fetch"
)

var errOffline = errors.New("network unreachable")

// fakeNetwork 以 URL 为键返回预设响应，offline 时所有请求失败。
type fakeNetwork struct {
	mu        sync.Mutex
	offline   bool
	responses map[string]*fetch.Response
	calls     map[string]int
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		responses: make(map[string]*fetch.Response),
		calls:     make(map[string]int),
	}
}

func (n *fakeNetwork) set(url string, status int, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.responses[url] = &fetch.Response{
		Status: status,
		Header: http.Header{"Content-Type": {"text/plain"}},
		Body:   []byte(body),
		Source: fetch.SourceNetwork,
	}
}

func (n *fakeNetwork) setOffline(offline bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offline = offline
}

func (n *fakeNetwork) count(url string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[url]
}

func (n *fakeNetwork) Fetch(_ context.Context, req *fetch.Request) (*fetch.Response, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	key := req.Key()
	n.calls[key]++
	if n.offline {
		return nil, &fetch.NetworkError{URL: key, Err: errOffline}
	}
	resp, ok := n.responses[key]
	if !ok {
		return &fetch.Response{Status: http.StatusNotFound, Header: http.Header{}, Source: fetch.SourceNetwork}, nil
	}
	cloned := *resp
	cloned.Header = resp.Header.Clone()
	cloned.Body = append([]byte(nil), resp.Body...)
	return &cloned, nil
}

func testApp() config.AppConfig {
	return config.AppConfig{
		BaseURL:           "https://hris.example.com/app/",
		StaticNamespace:   "Kantor Pusat Ibka",
		DynamicNamespace:  "KantorPusatIbkaData",
		ShellDocument:     "./index.html",
		DataOriginPattern: "supabase",
		ShareTargetPath:   "/share-target",
		SharedDataKey:     "/shared-data",
	}
}

func newTestEngine(t *testing.T) (*Engine, cache.Store, *fakeNetwork) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	store := cache.NewMemoryStore()
	network := newFakeNetwork()
	engine, err := New(Options{
		Store:   store,
		Fetcher: network,
		App:     testApp(),
		Logger:  logger,
		Now:     func() time.Time { return time.UnixMilli(1700000000123) },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return engine, store, network
}

func mustRequest(t *testing.T, method, url string) *fetch.Request {
	t.Helper()
	req, err := fetch.NewRequest(method, url)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	return req
}
