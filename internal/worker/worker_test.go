package worker

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
	"github.com/offline-hub/offline-hub/internal/config"
	"github.com/offline-hub/offline-hub/internal/fetch"
	"github.com/offline-hub/offline-hub/internal/lifecycle"
	"github.com/offline-hub/offline-hub/internal/notify"
	"github.com/offline-hub/offline-hub/internal/reconcile"
)

type switchFetcher struct {
	offline atomic.Bool
	calls   atomic.Int32
}

func (s *switchFetcher) Fetch(_ context.Context, req *fetch.Request) (*fetch.Response, error) {
	s.calls.Add(1)
	if s.offline.Load() {
		return nil, &fetch.NetworkError{URL: req.Key(), Err: errors.New("offline")}
	}
	return &fetch.Response{Status: http.StatusOK, Header: http.Header{}, Body: []byte("ok"), Source: fetch.SourceNetwork}, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	shown []notify.Notification
}

func (r *recordingNotifier) Show(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shown = append(r.shown, n)
	return nil
}

type recordingOpener struct {
	opened atomic.Int32
}

func (r *recordingOpener) Open(context.Context, string) error {
	r.opened.Add(1)
	return nil
}

type harness struct {
	store    cache.Store
	fetcher  *switchFetcher
	lc       *lifecycle.Manager
	d        *Dispatcher
	notifier *recordingNotifier
	opener   *recordingOpener
}

func newHarness(t *testing.T, deferActivation bool) *harness {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	app := config.AppConfig{
		BaseURL:          "https://hris.example.com/",
		StaticNamespace:  "static-v2",
		DynamicNamespace: "data",
		Manifest:         []string{"./", "./index.html"},
		SyncTag:          "background-sync",
		PeriodicSyncTag:  "hris-sync",
		DeferActivation:  deferActivation,
	}
	h := &harness{
		store:    cache.NewMemoryStore(),
		fetcher:  &switchFetcher{},
		notifier: &recordingNotifier{},
		opener:   &recordingOpener{},
	}
	lc, err := lifecycle.New(lifecycle.Options{Store: h.store, Fetcher: h.fetcher, App: app, Logger: logger})
	if err != nil {
		t.Fatalf("lifecycle.New: %v", err)
	}
	rec, err := reconcile.New(reconcile.Options{Store: h.store, Fetcher: h.fetcher, Namespace: app.DynamicNamespace, Logger: logger})
	if err != nil {
		t.Fatalf("reconcile.New: %v", err)
	}
	h.lc = lc
	h.d = NewDispatcher(logger, nil)
	if err := Bind(h.d, Runtime{
		App:        app,
		Lifecycle:  lc,
		Reconciler: rec,
		Notifier:   h.notifier,
		Opener:     h.opener,
		Logger:     logger,
		Now:        func() time.Time { return time.UnixMilli(42) },
	}); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	return h
}

func TestBindCoversEveryKind(t *testing.T) {
	h := newHarness(t, false)
	for _, kind := range Kinds {
		if !h.d.Bound(kind) {
			t.Fatalf("kind %s not bound", kind)
		}
	}
	if err := h.d.Bind(KindPush, HandlerFunc(func(context.Context, *Event) {})); !errors.Is(err, ErrAlreadyBound) {
		t.Fatalf("expected ErrAlreadyBound, got %v", err)
	}
}

func TestDispatchUnboundKind(t *testing.T) {
	d := NewDispatcher(logrus.New(), nil)
	if err := d.Dispatch(context.Background(), NewEvent(KindPush)); !errors.Is(err, ErrUnbound) {
		t.Fatalf("expected ErrUnbound, got %v", err)
	}
}

func TestDispatchAwaitsAllTasksAndJoinsErrors(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	d := NewDispatcher(logger, nil)
	var done atomic.Int32
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	_ = d.Bind(KindSync, HandlerFunc(func(_ context.Context, ev *Event) {
		ev.WaitUntil(func(context.Context) error { time.Sleep(10 * time.Millisecond); done.Add(1); return errA })
		ev.WaitUntil(func(context.Context) error { done.Add(1); return nil })
		ev.WaitUntil(func(context.Context) error { done.Add(1); return errB })
	}))

	err := d.Dispatch(context.Background(), NewEvent(KindSync))
	if done.Load() != 3 {
		t.Fatalf("dispatch returned before all tasks finished")
	}
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Fatalf("expected joined error, got %v", err)
	}
}

func TestDispatchRecoversHandlerPanic(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	d := NewDispatcher(logger, nil)
	_ = d.Bind(KindPush, HandlerFunc(func(context.Context, *Event) { panic("boom") }))
	if err := d.Dispatch(context.Background(), NewEvent(KindPush)); err == nil {
		t.Fatalf("panic should surface as error")
	}
}

func TestBootInstallsAndActivates(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	_ = h.store.Open(ctx, "static-v1")

	if err := Boot(ctx, h.d, h.lc, BootOptions{MaxRetries: 1, InitialBackoff: time.Millisecond}); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if !h.lc.Controlling() {
		t.Fatalf("boot should activate")
	}
	names, _ := h.store.Namespaces(ctx)
	for _, name := range names {
		if name == "static-v1" {
			t.Fatalf("old version should be pruned on activation")
		}
	}
}

func TestBootDeferredWaitsForSkipWaiting(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	if err := Boot(ctx, h.d, h.lc, BootOptions{InitialBackoff: time.Millisecond}); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if h.lc.Controlling() {
		t.Fatalf("deferred activation must wait")
	}
	ev := NewEvent(KindMessage)
	ev.Data = []byte(`{"type":"SKIP_WAITING"}`)
	if err := h.d.Dispatch(ctx, ev); err != nil {
		t.Fatalf("dispatch SKIP_WAITING: %v", err)
	}
	if !h.lc.Controlling() {
		t.Fatalf("SKIP_WAITING should activate")
	}
}

func TestBootRetriesThenResumes(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	h.fetcher.offline.Store(true)

	err := Boot(ctx, h.d, h.lc, BootOptions{MaxRetries: 2, InitialBackoff: time.Millisecond})
	if !errors.Is(err, lifecycle.ErrInstallFailed) || !errors.Is(err, lifecycle.ErrNothingToResume) {
		t.Fatalf("expected install + resume failure, got %v", err)
	}
	// 两个清单条目 × 3 次尝试；errgroup 在首个失败后可能取消剩余请求。
	if calls := h.fetcher.calls.Load(); calls < 3 {
		t.Fatalf("expected at least one fetch per attempt, got %d", calls)
	}

	_ = h.store.Put(ctx, "static-v2", "https://hris.example.com/index.html", cache.Entry{Status: 200})
	if err := Boot(ctx, h.d, h.lc, BootOptions{InitialBackoff: time.Millisecond}); err != nil {
		t.Fatalf("boot should resume from persisted namespace: %v", err)
	}
	if !h.lc.Controlling() {
		t.Fatalf("resume should activate")
	}
}

func TestMessageCacheClearAndUnknown(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	_ = h.store.Open(ctx, "static-v2")
	_ = h.store.Open(ctx, "data")

	unknown := NewEvent(KindMessage)
	unknown.Data = []byte(`{"type":"PING"}`)
	if err := h.d.Dispatch(ctx, unknown); err != nil {
		t.Fatalf("unknown message should be ignored: %v", err)
	}
	garbage := NewEvent(KindMessage)
	garbage.Data = []byte(`not json`)
	if err := h.d.Dispatch(ctx, garbage); err != nil {
		t.Fatalf("garbage message should be ignored: %v", err)
	}
	names, _ := h.store.Namespaces(ctx)
	if len(names) != 2 {
		t.Fatalf("ignored messages must not touch cache, got %v", names)
	}

	clearMsg := NewEvent(KindMessage)
	clearMsg.Data = []byte(`{"type":"CACHE_CLEAR"}`)
	if err := h.d.Dispatch(ctx, clearMsg); err != nil {
		t.Fatalf("CACHE_CLEAR: %v", err)
	}
	names, _ = h.store.Namespaces(ctx)
	if len(names) != 0 {
		t.Fatalf("CACHE_CLEAR should remove all namespaces, got %v", names)
	}
}

func TestSyncTagsTriggerReconcile(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	_ = h.store.Put(ctx, "data", "https://project.supabase.co/rest/v1/a", cache.Entry{Status: 200, Body: []byte("old")})

	cases := []struct {
		kind  Kind
		tag   string
		delta int32
	}{
		{KindSync, "background-sync", 1},
		{KindSync, "other-tag", 0},
		{KindPeriodicSync, "hris-sync", 1},
		{KindPeriodicSync, "background-sync", 0},
	}
	for _, tc := range cases {
		before := h.fetcher.calls.Load()
		ev := NewEvent(tc.kind)
		ev.Tag = tc.tag
		if err := h.d.Dispatch(ctx, ev); err != nil {
			t.Fatalf("dispatch %s/%s: %v", tc.kind, tc.tag, err)
		}
		if got := h.fetcher.calls.Load() - before; got != tc.delta {
			t.Fatalf("%s/%s: expected %d fetches, got %d", tc.kind, tc.tag, tc.delta, got)
		}
	}
	entry, _ := h.store.Get(ctx, "data", "https://project.supabase.co/rest/v1/a")
	if string(entry.Body) != "ok" {
		t.Fatalf("reconcile should refresh entry, got %q", entry.Body)
	}
}

func TestPushAndNotificationClick(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	push := NewEvent(KindPush)
	push.Data = []byte(`{"title":"Gaji"}`)
	if err := h.d.Dispatch(ctx, push); err != nil {
		t.Fatalf("push: %v", err)
	}
	if len(h.notifier.shown) != 1 || h.notifier.shown[0].Title != "Gaji" || h.notifier.shown[0].Data.DateOfArrival != 42 {
		t.Fatalf("unexpected notifications %+v", h.notifier.shown)
	}

	for _, action := range []string{notify.ActionClose, notify.ActionExplore} {
		ev := NewEvent(KindNotificationClick)
		ev.Action = action
		if err := h.d.Dispatch(ctx, ev); err != nil {
			t.Fatalf("click %s: %v", action, err)
		}
	}
	if h.opener.opened.Load() != 1 {
		t.Fatalf("only explore should open a window, got %d", h.opener.opened.Load())
	}
	names, _ := h.store.Namespaces(ctx)
	if len(names) != 0 {
		t.Fatalf("notifications must not touch the cache, got %v", names)
	}
}

func TestErrorEventIsLoggedOnly(t *testing.T) {
	h := newHarness(t, false)
	ev := NewEvent(KindError)
	ev.Err = errors.New("unhandled rejection")
	if err := h.d.Dispatch(context.Background(), ev); err != nil {
		t.Fatalf("error events should not fail dispatch: %v", err)
	}
}
