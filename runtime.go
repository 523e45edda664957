package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/offline-hub/offline-hub/internal/cache"
	"github.com/offline-hub/offline-hub/internal/config"
	"github.com/offline-hub/offline-hub/internal/fetch"
	"github.com/offline-hub/offline-hub/internal/lifecycle"
	"github.com/offline-hub/offline-hub/internal/logging"
	"github.com/offline-hub/offline-hub/internal/metrics"
	"github.com/offline-hub/offline-hub/internal/proxy"
	"github.com/offline-hub/offline-hub/internal/reconcile"
	"github.com/offline-hub/offline-hub/internal/routing"
	"github.com/offline-hub/offline-hub/internal/server"
	"github.com/offline-hub/offline-hub/internal/server/routes"
	"github.com/offline-hub/offline-hub/internal/strategy"
	"github.com/offline-hub/offline-hub/internal/version"
	"github.com/offline-hub/offline-hub/internal/worker"
)

// components 是进程级单例集合，启动时按 配置 → 存储 → 网络 → 生命周期 → 策略 → 事件 顺序构建。
type components struct {
	store      cache.Store
	registry   *server.OriginRegistry
	fetcher    *fetch.HTTPFetcher
	metrics    *metrics.Collectors
	engine     *strategy.Engine
	dispatcher *routing.Dispatcher
	lifecycle  *lifecycle.Manager
	reconciler *reconcile.Worker
	events     *worker.Dispatcher
}

func buildComponents(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*components, error) {
	registry, err := server.NewOriginRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("构建源站注册表失败: %w", err)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	c := &components{
		store:    store,
		registry: registry,
		fetcher:  fetch.NewHTTPFetcher(fetch.NewUpstreamClient(cfg.Global.UpstreamTimeout.DurationValue()), registry.Proxies()),
		metrics:  metrics.New(nil),
	}

	c.lifecycle, err = lifecycle.New(lifecycle.Options{
		Store:   store,
		Fetcher: c.fetcher,
		App:     cfg.App,
		Logger:  logger,
		Metrics: c.metrics,
	})
	if err != nil {
		return nil, c.closeWith(err)
	}

	c.engine, err = strategy.New(strategy.Options{
		Store:   store,
		Fetcher: c.fetcher,
		App:     cfg.App,
		Logger:  logger,
		Gate:    c.lifecycle,
	})
	if err != nil {
		return nil, c.closeWith(err)
	}

	policy, err := routing.NewPolicy(cfg.App)
	if err != nil {
		return nil, c.closeWith(err)
	}
	c.dispatcher, err = routing.NewDispatcher(policy, c.engine.Handlers(), logger, c.metrics)
	if err != nil {
		return nil, c.closeWith(err)
	}

	c.reconciler, err = reconcile.New(reconcile.Options{
		Store:     store,
		Fetcher:   c.fetcher,
		Namespace: cfg.App.DynamicNamespace,
		Logger:    logger,
		Metrics:   c.metrics,
		Gate:      c.lifecycle,
		LocalKeys: []string{cfg.App.ResolveString(cfg.App.SharedDataKey)},
	})
	if err != nil {
		return nil, c.closeWith(err)
	}

	c.events = worker.NewDispatcher(logger, c.metrics)
	if err := worker.Bind(c.events, worker.Runtime{
		App:        cfg.App,
		Lifecycle:  c.lifecycle,
		Reconciler: c.reconciler,
		Logger:     logger,
	}); err != nil {
		return nil, c.closeWith(err)
	}
	return c, nil
}

func (c *components) closeWith(err error) error {
	if c.store != nil {
		if closeErr := c.store.Close(); closeErr != nil {
			return errors.Join(err, closeErr)
		}
	}
	return err
}

func openStore(ctx context.Context, cfg *config.Config) (cache.Store, error) {
	store, err := cache.New(ctx, cache.Options{
		Driver:      cache.Driver(cfg.Global.StorageDriver),
		StoragePath: cfg.Global.StoragePath,
		RedisAddr:   cfg.Global.RedisAddr,
		RedisPrefix: cfg.Global.RedisPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化缓存存储失败: %w", err)
	}
	return store, nil
}

// serve 启动 Fiber 服务与后台任务（安装/激活、周期同步、连通性探测），收到信号后优雅退出。
func serve(cfg *config.Config, configPath string, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := buildComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.store.Close()

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   c.registry,
		Proxy:      proxy.NewHandler(c.dispatcher, c.lifecycle, c.fetcher, logger),
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		return err
	}
	routes.RegisterControlRoutes(app, routes.ControlOptions{
		Events:          c.events,
		Lifecycle:       c.lifecycle,
		Store:           c.store,
		Shared:          c.engine,
		Registry:        c.registry,
		Metrics:         c.metrics,
		SyncTag:         cfg.App.SyncTag,
		PeriodicSyncTag: cfg.App.PeriodicSyncTag,
	})

	fields := logging.BaseFields("startup", configPath)
	fields["origins"] = config.OriginNames(cfg.Origins)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["storage_driver"] = cfg.Global.StorageDriver
	fields["static_namespace"] = cfg.App.StaticNamespace
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	startBackground(ctx, cfg, c, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"action": "listen",
			"port":   cfg.Global.ListenPort,
		}).Info("Fiber 服务启动")
		errCh <- app.Listen(fmt.Sprintf(":%d", cfg.Global.ListenPort))
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.WithField("action", "shutdown").Info("收到退出信号")
		return app.Shutdown()
	}
}

// startBackground 启动安装、周期同步与连通性探测三个后台循环，均随 ctx 退出。
func startBackground(ctx context.Context, cfg *config.Config, c *components, logger *logrus.Logger) {
	go func() {
		err := worker.Boot(ctx, c.events, c.lifecycle, worker.BootOptions{
			MaxRetries:     cfg.Global.MaxRetries,
			InitialBackoff: cfg.Global.InitialBackoff.DurationValue(),
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			ev := worker.NewEvent(worker.KindError)
			ev.Err = err
			_ = c.events.Dispatch(ctx, ev)
		}
	}()

	dispatchSync := func(kind worker.Kind, tag string) func(context.Context) {
		return func(ctx context.Context) {
			ev := worker.NewEvent(kind)
			ev.Tag = tag
			if err := c.events.Dispatch(ctx, ev); err != nil {
				logger.WithFields(logging.EventFields(string(kind), tag)).WithError(err).Warn("sync_dispatch_failed")
			}
		}
	}

	go reconcile.Every(ctx, cfg.App.PeriodicSyncInterval.DurationValue(),
		dispatchSync(worker.KindPeriodicSync, cfg.App.PeriodicSyncTag))

	probe := &reconcile.Probe{
		Target:   cfg.App.BaseURL,
		Fetcher:  c.fetcher,
		Interval: cfg.App.ConnectivityProbeInterval.DurationValue(),
		OnOnline: dispatchSync(worker.KindSync, cfg.App.SyncTag),
	}
	go probe.Run(ctx)
}

// clearCache 删除存储中的全部命名空间，等价于 CACHE_CLEAR 消息。
func clearCache(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	lc, err := lifecycle.New(lifecycle.Options{
		Store:   store,
		Fetcher: fetch.NewHTTPFetcher(nil, nil),
		App:     cfg.App,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	return lc.Clear(ctx)
}
