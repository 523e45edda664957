// Package lifecycle manages the versioned cache namespaces: install-time
// population of the static namespace, activation-time pruning of stale
// namespaces, explicit clears, and the cache gate that serializes those
// transitions against the cache reads and writes of request handling.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/offline-hub/offline-hub/internal/cache"
	"github.com/offline-hub/offline-hub/internal/config"
	"github.com/offline-hub/offline-hub/internal/fetch"
	"github.com/offline-hub/offline-hub/internal/metrics"
)

// State mirrors the worker registration states.
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

var (
	// ErrInstallFailed 表示安装阶段有清单条目获取失败，整个安装未提交任何内容。
	ErrInstallFailed = errors.New("install failed")
	// ErrNothingToResume 表示存储中不存在当前版本的静态命名空间。
	ErrNothingToResume = errors.New("no installed static namespace to resume")
)

const installConcurrency = 8

// Options 汇总 Manager 依赖。
type Options struct {
	Store   cache.Store
	Fetcher fetch.Fetcher
	App     config.AppConfig
	Logger  *logrus.Logger
	Metrics *metrics.Collectors
}

// Manager 驱动 install → activate 状态机。所有方法可并发调用。
type Manager struct {
	store   cache.Store
	fetcher fetch.Fetcher
	logger  *logrus.Logger
	metrics *metrics.Collectors

	staticName  string
	dynamicName string
	manifest    []string
	deferred    bool

	gate        sync.RWMutex
	controlling atomic.Bool

	mu          sync.Mutex
	state       State
	waiting     bool
	lastErr     error
	installedAt time.Time
	activatedAt time.Time
}

// New resolves the manifest against the app base URL.
func New(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}

	manifest := make([]string, 0, len(opts.App.Manifest))
	seen := make(map[string]struct{}, len(opts.App.Manifest))
	for _, ref := range opts.App.Manifest {
		resolved, err := opts.App.Resolve(ref)
		if err != nil {
			return nil, fmt.Errorf("manifest entry %q: %w", ref, err)
		}
		key := resolved.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		manifest = append(manifest, key)
	}

	return &Manager{
		store:       opts.Store,
		fetcher:     opts.Fetcher,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		staticName:  opts.App.StaticNamespace,
		dynamicName: opts.App.DynamicNamespace,
		manifest:    manifest,
		deferred:    opts.App.DeferActivation,
		state:       StateParsed,
	}, nil
}

// Manifest returns the resolved install manifest.
func (m *Manager) Manifest() []string {
	return append([]string(nil), m.manifest...)
}

// Deferred reports whether an installed version waits for SKIP_WAITING.
func (m *Manager) Deferred() bool {
	return m.deferred
}

// Install 并发获取清单中的全部 URL；任一失败则整体失败且不写入任何条目。
func (m *Manager) Install(ctx context.Context) error {
	started := time.Now()
	m.setState(StateInstalling, nil)

	entries, err := m.fetchManifest(ctx)
	if err == nil {
		err = m.commit(ctx, entries)
	}
	m.metrics.ObserveLifecycle("install", err)

	fields := logrus.Fields{
		"action":     "install",
		"namespace":  m.staticName,
		"entries":    len(m.manifest),
		"elapsed_ms": time.Since(started).Milliseconds(),
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrInstallFailed, err)
		m.setState(StateRedundant, err)
		m.logger.WithFields(fields).WithError(err).Error("install_failed")
		return err
	}

	m.mu.Lock()
	m.state = StateInstalled
	m.waiting = true
	m.lastErr = nil
	m.installedAt = time.Now().UTC()
	m.mu.Unlock()
	m.logger.WithFields(fields).Info("install_complete")
	return nil
}

func (m *Manager) fetchManifest(ctx context.Context) ([]cache.Entry, error) {
	entries := make([]cache.Entry, len(m.manifest))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(installConcurrency)

	for i, target := range m.manifest {
		g.Go(func() error {
			req, err := fetch.NewRequest(http.MethodGet, target)
			if err != nil {
				return err
			}
			resp, err := m.fetcher.Fetch(gctx, req)
			if err != nil {
				return err
			}
			if !resp.OK() {
				return fmt.Errorf("%s: unexpected status %d", target, resp.Status)
			}
			entries[i] = resp.Entry(req.Key())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

// commit 写入全部条目。写入失败时：命名空间为本次新建则整体删除；
// 已存在（同版本重装）则把已写入的 key 恢复为写入前的快照。
func (m *Manager) commit(ctx context.Context, entries []cache.Entry) error {
	existed, err := m.namespaceExists(ctx, m.staticName)
	if err != nil {
		return err
	}
	var priors []*cache.Entry
	if existed {
		if priors, err = m.snapshot(ctx, entries); err != nil {
			return err
		}
	}
	if err := m.store.Open(ctx, m.staticName); err != nil {
		return fmt.Errorf("open %s: %w", m.staticName, err)
	}
	for i, entry := range entries {
		if err := m.store.Put(ctx, m.staticName, entry.Key, entry); err != nil {
			rbCtx := context.WithoutCancel(ctx)
			if existed {
				m.restore(rbCtx, entries[:i], priors[:i])
			} else if _, rbErr := m.store.DeleteNamespace(rbCtx, m.staticName); rbErr != nil {
				m.logger.WithError(rbErr).WithField("namespace", m.staticName).Warn("install_rollback_failed")
			}
			return fmt.Errorf("store %s: %w", entry.Key, err)
		}
	}
	if err := m.store.Open(ctx, m.dynamicName); err != nil {
		return fmt.Errorf("open %s: %w", m.dynamicName, err)
	}
	return nil
}

// snapshot 读取每个待写 key 的当前值，nil 表示写入前不存在。
func (m *Manager) snapshot(ctx context.Context, entries []cache.Entry) ([]*cache.Entry, error) {
	priors := make([]*cache.Entry, len(entries))
	for i, entry := range entries {
		prior, err := m.store.Get(ctx, m.staticName, entry.Key)
		switch {
		case errors.Is(err, cache.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("snapshot %s: %w", entry.Key, err)
		default:
			priors[i] = prior
		}
	}
	return priors, nil
}

func (m *Manager) restore(ctx context.Context, written []cache.Entry, priors []*cache.Entry) {
	for i, entry := range written {
		var err error
		if priors[i] != nil {
			err = m.store.Put(ctx, m.staticName, entry.Key, *priors[i])
		} else {
			_, err = m.store.Delete(ctx, m.staticName, entry.Key)
		}
		if err != nil {
			m.logger.WithError(err).WithFields(logrus.Fields{
				"namespace": m.staticName,
				"key":       entry.Key,
			}).Warn("install_rollback_failed")
		}
	}
}

// Activate 删除除当前静态/动态命名空间以外的所有命名空间，期间独占 cache gate。
// 重复调用只会做一次空的清理。
func (m *Manager) Activate(ctx context.Context) error {
	m.gate.Lock()
	defer m.gate.Unlock()

	m.setState(StateActivating, nil)
	removed, err := m.prune(ctx)
	m.metrics.ObserveLifecycle("activate", err)

	fields := logrus.Fields{
		"action":  "activate",
		"removed": removed,
	}
	if err != nil {
		m.setState(StateRedundant, err)
		m.logger.WithFields(fields).WithError(err).Error("activate_failed")
		return fmt.Errorf("activate: %w", err)
	}

	m.mu.Lock()
	m.state = StateActivated
	m.waiting = false
	m.lastErr = nil
	m.activatedAt = time.Now().UTC()
	m.mu.Unlock()
	m.controlling.Store(true)

	m.logger.WithFields(fields).Info("activate_complete")
	return nil
}

func (m *Manager) prune(ctx context.Context) ([]string, error) {
	names, err := m.store.Namespaces(ctx)
	if err != nil {
		return nil, err
	}
	var (
		removed []string
		errs    []error
	)
	for _, name := range names {
		if name == m.staticName || name == m.dynamicName {
			continue
		}
		if _, err := m.store.DeleteNamespace(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", name, err))
			continue
		}
		removed = append(removed, name)
	}
	return removed, errors.Join(errs...)
}

// Clear 删除所有命名空间，不区分名称。
func (m *Manager) Clear(ctx context.Context) error {
	m.gate.Lock()
	defer m.gate.Unlock()

	names, err := m.store.Namespaces(ctx)
	if err != nil {
		m.metrics.ObserveLifecycle("clear", err)
		return err
	}
	var errs []error
	for _, name := range names {
		if _, err := m.store.DeleteNamespace(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", name, err))
		}
	}
	err = errors.Join(errs...)
	m.metrics.ObserveLifecycle("clear", err)
	m.logger.WithFields(logrus.Fields{
		"action":  "clear",
		"removed": len(names) - len(errs),
	}).Info("cache_cleared")
	return err
}

// SkipWaiting 立即激活处于等待状态的已安装版本；没有等待版本时不做任何事。
func (m *Manager) SkipWaiting(ctx context.Context) error {
	m.mu.Lock()
	waiting := m.waiting
	m.mu.Unlock()
	if !waiting {
		return nil
	}
	return m.Activate(ctx)
}

// Resume 在安装失败但存储中已有当前静态命名空间时直接激活，保证离线启动可用。
func (m *Manager) Resume(ctx context.Context) error {
	exists, err := m.namespaceExists(ctx, m.staticName)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNothingToResume
	}
	m.logger.WithFields(logrus.Fields{
		"action":    "resume",
		"namespace": m.staticName,
	}).Warn("activating previously installed namespace")
	return m.Activate(ctx)
}

// AcquireCache 获取 cache gate 的读锁，返回释放函数；激活与清理期间会阻塞。
// 调用方只应在单次缓存读写期间持有，不可跨越网络请求。
func (m *Manager) AcquireCache() func() {
	m.gate.RLock()
	return m.gate.RUnlock
}

// Controlling reports whether requests are routed through the strategies.
func (m *Manager) Controlling() bool {
	return m.controlling.Load()
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot 是 /-/lifecycle 诊断接口的返回体。
type Snapshot struct {
	State            State     `json:"state"`
	Controlling      bool      `json:"controlling"`
	Waiting          bool      `json:"waiting"`
	StaticNamespace  string    `json:"static_namespace"`
	DynamicNamespace string    `json:"dynamic_namespace"`
	ManifestSize     int       `json:"manifest_size"`
	InstalledAt      time.Time `json:"installed_at,omitempty"`
	ActivatedAt      time.Time `json:"activated_at,omitempty"`
	LastError        string    `json:"last_error,omitempty"`
}

// Snapshot returns a copy of the current state for diagnostics.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := Snapshot{
		State:            m.state,
		Controlling:      m.controlling.Load(),
		Waiting:          m.waiting,
		StaticNamespace:  m.staticName,
		DynamicNamespace: m.dynamicName,
		ManifestSize:     len(m.manifest),
		InstalledAt:      m.installedAt,
		ActivatedAt:      m.activatedAt,
	}
	if m.lastErr != nil {
		snap.LastError = m.lastErr.Error()
	}
	return snap
}

func (m *Manager) setState(state State, err error) {
	m.mu.Lock()
	m.state = state
	if err != nil {
		m.lastErr = err
	}
	m.mu.Unlock()
}

func (m *Manager) namespaceExists(ctx context.Context, name string) (bool, error) {
	names, err := m.store.Namespaces(ctx)
	if err != nil {
		return false, err
	}
	for _, existing := range names {
		if existing == name {
			return true, nil
		}
	}
	return false, nil
}
