// Package strategy implements the four response strategies: cache-first for
// static assets, network-first for data-origin calls, network with shell
// fallback for navigations, and the share-target form sink.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/offline-hub/offline-hub/internal/cache"
	"github.com/offline-hub/offline-hub/internal/config"
	"github.com/offline-hub/offline-hub/internal/fetch"
	"github.com/offline-hub/offline-hub/internal/routing"
)

// ErrNoFallback 表示网络失败且缓存中没有可用的兜底条目。
var ErrNoFallback = errors.New("network failed and no cached fallback")

// Gate 由 lifecycle.Manager 实现，只包住缓存读写，网络请求期间不持有。
type Gate interface {
	AcquireCache() func()
}

type openGate struct{}

func (openGate) AcquireCache() func() { return func() {} }

// Options 汇总构建 Engine 所需的依赖。
type Options struct {
	Store   cache.Store
	Fetcher fetch.Fetcher
	App     config.AppConfig
	Logger  *logrus.Logger
	// Gate 为空时缓存访问不与生命周期切换互斥。
	Gate Gate
	// Now 用于生成分享记录时间戳，测试中可替换。
	Now func() time.Time
}

// Engine 持有静态/动态命名空间句柄，各策略方法可被多个请求并发调用。
type Engine struct {
	static    cache.Namespace
	dynamic   cache.Namespace
	fetcher   fetch.Fetcher
	gate      Gate
	logger    *logrus.Logger
	now       func() time.Time
	shellKey  string
	sharedKey string
	// rootPath 是应用根路径（BaseURL 下的 "./"），分享完成后重定向到这里。
	rootPath string
}

// New validates the options and resolves the shell and shared-data keys.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	shell, err := opts.App.Resolve(opts.App.ShellDocument)
	if err != nil {
		return nil, fmt.Errorf("resolve shell document: %w", err)
	}
	shared, err := opts.App.Resolve(opts.App.SharedDataKey)
	if err != nil {
		return nil, fmt.Errorf("resolve shared data key: %w", err)
	}
	root, err := opts.App.Resolve("./")
	if err != nil {
		return nil, fmt.Errorf("resolve app root: %w", err)
	}
	rootPath := root.EscapedPath()
	if rootPath == "" {
		rootPath = "/"
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	gate := opts.Gate
	if gate == nil {
		gate = openGate{}
	}
	return &Engine{
		static:    cache.Bind(opts.Store, opts.App.StaticNamespace),
		dynamic:   cache.Bind(opts.Store, opts.App.DynamicNamespace),
		fetcher:   opts.Fetcher,
		gate:      gate,
		logger:    opts.Logger,
		now:       now,
		shellKey:  shell.String(),
		sharedKey: shared.String(),
		rootPath:  rootPath,
	}, nil
}

// Handlers returns the strategy table consumed by routing.NewDispatcher.
func (e *Engine) Handlers() map[routing.Strategy]routing.Handler {
	return map[routing.Strategy]routing.Handler{
		routing.StaticAsset: routing.HandlerFunc(e.StaticAsset),
		routing.DynamicData: routing.HandlerFunc(e.DynamicData),
		routing.Navigation:  routing.HandlerFunc(e.Navigation),
		routing.ShareTarget: routing.HandlerFunc(e.ShareTarget),
	}
}

// ShellKey is the cache key of the offline shell document.
func (e *Engine) ShellKey() string {
	return e.shellKey
}

// StaticAsset 缓存优先：命中直接返回且不触网；未命中回源，仅 GET + 200 写入静态命名空间。
func (e *Engine) StaticAsset(ctx context.Context, req *fetch.Request) (*fetch.Response, error) {
	key := req.Key()
	if req.IsGet() {
		if entry, ok := e.match(ctx, e.static, key); ok {
			return fetch.FromEntry(entry, fetch.SourceCache), nil
		}
	}

	resp, err := e.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoFallback, err)
	}
	if req.IsGet() && resp.Status == http.StatusOK {
		e.store(ctx, e.static, key, resp)
	}
	return resp, nil
}

// DynamicData 网络优先：200 写入动态命名空间后返回实时响应；网络失败或非 200 时回退到缓存。
func (e *Engine) DynamicData(ctx context.Context, req *fetch.Request) (*fetch.Response, error) {
	if !req.IsGet() {
		resp, err := e.fetcher.Fetch(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoFallback, err)
		}
		return resp, nil
	}

	key := req.Key()
	resp, err := e.fetcher.Fetch(ctx, req)
	if err == nil && resp.Status == http.StatusOK {
		e.store(ctx, e.dynamic, key, resp)
		return resp, nil
	}

	if entry, ok := e.match(ctx, e.dynamic, key); ok {
		e.logger.WithFields(logrus.Fields{
			"action":   "fallback",
			"strategy": string(routing.DynamicData),
			"url":      key,
		}).Debug("serving cached data")
		return fetch.FromEntry(entry, fetch.SourceCache), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoFallback, err)
	}
	return resp, nil
}

// Navigation 网络优先且从不缓存；网络失败时无论路径如何都返回静态命名空间中的壳文档。
func (e *Engine) Navigation(ctx context.Context, req *fetch.Request) (*fetch.Response, error) {
	resp, err := e.fetcher.Fetch(ctx, req)
	if err == nil {
		return resp, nil
	}

	if entry, ok := e.match(ctx, e.static, e.shellKey); ok {
		return fetch.FromEntry(entry, fetch.SourceShell), nil
	}
	return nil, fmt.Errorf("%w: %w", ErrNoFallback, err)
}

func (e *Engine) match(ctx context.Context, ns cache.Namespace, key string) (*cache.Entry, bool) {
	release := e.gate.AcquireCache()
	entry, ok, err := ns.Match(ctx, key)
	release()
	if err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"action":    "cache_get",
			"namespace": ns.Name(),
			"url":       key,
		}).Warn("cache_get_failed")
		return nil, false
	}
	return entry, ok
}

func (e *Engine) store(ctx context.Context, ns cache.Namespace, key string, resp *fetch.Response) {
	release := e.gate.AcquireCache()
	err := ns.Put(ctx, key, resp.Entry(key))
	release()
	if err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"action":    "cache_put",
			"namespace": ns.Name(),
			"url":       key,
		}).Warn("cache_put_failed")
	}
}
