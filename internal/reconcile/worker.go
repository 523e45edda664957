// Package reconcile refreshes every entry of the dynamic namespace from the
// network. A pass is triggered by sync events, the periodic schedule and the
// connectivity probe; concurrent triggers share one in-flight pass.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/offline-hub/offline-hub/internal/cache"
	"github.com/offline-hub/offline-hub/internal/fetch"
	"github.com/offline-hub/offline-hub/internal/metrics"
)

// Gate 由 lifecycle.Manager 实现，只在写回缓存时持有。
type Gate interface {
	AcquireCache() func()
}

// Options 汇总 Worker 依赖。
type Options struct {
	Store     cache.Store
	Fetcher   fetch.Fetcher
	Namespace string
	Logger    *logrus.Logger
	Metrics   *metrics.Collectors
	Gate      Gate
	// LocalKeys 列出本地生成的 key（例如分享记录）：照常回源请求，但结果从不覆盖本地记录。
	LocalKeys []string
}

// Report summarizes one pass.
type Report struct {
	Attempted int
	Refreshed int
	Failed    int
}

// Worker 执行对账；单条失败只记录日志，不影响其余条目。
type Worker struct {
	ns      cache.Namespace
	fetcher fetch.Fetcher
	logger  *logrus.Logger
	metrics *metrics.Collectors
	gate    Gate
	local   map[string]struct{}
	group   singleflight.Group
}

// New validates the options.
func New(opts Options) (*Worker, error) {
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Namespace == "" {
		return nil, errors.New("namespace is required")
	}
	local := make(map[string]struct{}, len(opts.LocalKeys))
	for _, key := range opts.LocalKeys {
		local[key] = struct{}{}
	}
	return &Worker{
		ns:      cache.Bind(opts.Store, opts.Namespace),
		fetcher: opts.Fetcher,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		gate:    opts.Gate,
		local:   local,
	}, nil
}

// Run 执行一次对账；已有进行中的对账时等待其完成而不是重复执行。
func (w *Worker) Run(ctx context.Context) {
	_, _, _ = w.group.Do("reconcile", func() (interface{}, error) {
		return w.run(ctx), nil
	})
}

func (w *Worker) run(ctx context.Context) Report {
	started := time.Now()
	var report Report

	keys, err := w.ns.Keys(ctx)
	if err != nil {
		w.logger.WithError(err).WithFields(logrus.Fields{
			"action":    "reconcile",
			"namespace": w.ns.Name(),
		}).Error("reconcile_list_failed")
		return report
	}

	for _, key := range keys {
		if ctx.Err() != nil {
			break
		}
		report.Attempted++
		if err := w.refresh(ctx, key); err != nil {
			report.Failed++
			w.metrics.ObserveReconcileItem("failed")
			w.logger.WithError(err).WithFields(logrus.Fields{
				"action": "reconcile",
				"url":    key,
			}).Warn("reconcile_item_failed")
			continue
		}
		report.Refreshed++
		w.metrics.ObserveReconcileItem("refreshed")
	}

	w.metrics.ObserveReconcileRun()
	w.logger.WithFields(logrus.Fields{
		"action":     "reconcile",
		"namespace":  w.ns.Name(),
		"attempted":  report.Attempted,
		"refreshed":  report.Refreshed,
		"failed":     report.Failed,
		"elapsed_ms": time.Since(started).Milliseconds(),
	}).Info("reconcile_complete")
	return report
}

func (w *Worker) refresh(ctx context.Context, key string) error {
	req, err := fetch.NewRequest(http.MethodGet, key)
	if err != nil {
		return err
	}
	resp, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("unexpected status %d", resp.Status)
	}
	if _, ok := w.local[key]; ok {
		return nil
	}
	if w.gate != nil {
		release := w.gate.AcquireCache()
		defer release()
	}
	return w.ns.Put(ctx, key, resp.Entry(key))
}
