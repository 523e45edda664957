package reconcile

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/offline-hub/offline-hub/internal/cache"
	"github.com/offline-hub/offline-hub/internal/fetch"
)

const dynamicNS = "KantorPusatIbkaData"

type countingFetcher struct {
	mu      sync.Mutex
	calls   map[string]int
	fail    map[string]bool
	status  map[string]int
	body    string
	block   chan struct{}
	started chan struct{}
}

func (c *countingFetcher) Fetch(_ context.Context, req *fetch.Request) (*fetch.Response, error) {
	if c.started != nil {
		c.started <- struct{}{}
	}
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	key := req.Key()
	c.calls[key]++
	if c.fail[key] {
		return nil, errors.New("offline")
	}
	status := http.StatusOK
	if code, ok := c.status[key]; ok {
		status = code
	}
	return &fetch.Response{Status: status, Header: http.Header{}, Body: []byte(c.body), Source: fetch.SourceNetwork}, nil
}

func (c *countingFetcher) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

func newWorker(t *testing.T, store cache.Store, fetcher fetch.Fetcher, local ...string) *Worker {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	w, err := New(Options{Store: store, Fetcher: fetcher, Namespace: dynamicNS, Logger: logger, LocalKeys: local})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w
}

func seed(t *testing.T, store cache.Store, keys ...string) {
	t.Helper()
	for _, key := range keys {
		if err := store.Put(context.Background(), dynamicNS, key, cache.Entry{Status: 200, Body: []byte("old")}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func TestRunAttemptsEveryKeyDespiteFailures(t *testing.T) {
	store := cache.NewMemoryStore()
	keys := []string{
		"https://project.supabase.co/rest/v1/a",
		"https://project.supabase.co/rest/v1/b",
		"https://project.supabase.co/rest/v1/c",
		"https://project.supabase.co/rest/v1/d",
	}
	seed(t, store, keys...)
	fetcher := &countingFetcher{
		body:   "new",
		fail:   map[string]bool{keys[1]: true},
		status: map[string]int{keys[2]: http.StatusInternalServerError},
	}

	newWorker(t, store, fetcher).Run(context.Background())

	if got := fetcher.total(); got != len(keys) {
		t.Fatalf("expected %d fetch attempts, got %d", len(keys), got)
	}
	ctx := context.Background()
	expect := map[string]string{keys[0]: "new", keys[1]: "old", keys[2]: "old", keys[3]: "new"}
	for key, want := range expect {
		entry, err := store.Get(ctx, dynamicNS, key)
		if err != nil {
			t.Fatalf("get %s: %v", key, err)
		}
		if string(entry.Body) != want {
			t.Fatalf("%s body = %q, want %q", key, entry.Body, want)
		}
	}
}

func TestRunEmptyNamespace(t *testing.T) {
	fetcher := &countingFetcher{}
	newWorker(t, cache.NewMemoryStore(), fetcher).Run(context.Background())
	if fetcher.total() != 0 {
		t.Fatalf("empty namespace should not fetch")
	}
}

func TestRunFetchesLocalKeysWithoutOverwriting(t *testing.T) {
	store := cache.NewMemoryStore()
	shared := "https://hris.example.com/shared-data"
	data := "https://project.supabase.co/rest/v1/a"
	seed(t, store, shared, data)
	fetcher := &countingFetcher{body: "new"}

	newWorker(t, store, fetcher, shared).Run(context.Background())

	if fetcher.total() != 2 {
		t.Fatalf("every key should be fetched once, calls=%d", fetcher.total())
	}
	entry, err := store.Get(context.Background(), dynamicNS, shared)
	if err != nil {
		t.Fatalf("get shared: %v", err)
	}
	if string(entry.Body) != "old" {
		t.Fatalf("shared-data record must not be overwritten, got %q", entry.Body)
	}
	entry, err = store.Get(context.Background(), dynamicNS, data)
	if err != nil {
		t.Fatalf("get data: %v", err)
	}
	if string(entry.Body) != "new" {
		t.Fatalf("data entry should be refreshed, got %q", entry.Body)
	}
}

func TestConcurrentRunsShareOnePass(t *testing.T) {
	store := cache.NewMemoryStore()
	seed(t, store, "https://project.supabase.co/rest/v1/a")
	fetcher := &countingFetcher{body: "new", block: make(chan struct{}), started: make(chan struct{}, 8)}
	w := newWorker(t, store, fetcher)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Run(context.Background())
	}()
	<-fetcher.started

	var finished atomic.Int32
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(context.Background())
			finished.Add(1)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(fetcher.block)
	wg.Wait()

	if got := fetcher.total(); got != 1 {
		t.Fatalf("concurrent triggers should share one pass, got %d fetches", got)
	}
	if finished.Load() != 3 {
		t.Fatalf("all callers should return")
	}
}
