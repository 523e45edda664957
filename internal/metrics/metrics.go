// Package metrics owns the Prometheus collectors exported at /-/metrics.
// A nil *Collectors is valid and records nothing, so components can be built
// without metrics in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "offline_hub"

// Collectors groups every metric the service records.
type Collectors struct {
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	reconcileRuns  prometheus.Counter
	reconcileItems *prometheus.CounterVec
	lifecycle      *prometheus.CounterVec
	events         *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg gets a fresh registry with
// the Go runtime and process collectors attached.
func New(reg *prometheus.Registry) *Collectors {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	c := &Collectors{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Intercepted requests by strategy, response source and outcome.",
		}, []string{"strategy", "source", "outcome"}),
		reconcileRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_runs_total",
			Help:      "Completed reconciliation passes.",
		}),
		reconcileItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_items_total",
			Help:      "Reconciled dynamic entries by result.",
		}, []string{"result"}),
		lifecycle: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_transitions_total",
			Help:      "Lifecycle phases by result.",
		}, []string{"phase", "result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Dispatched worker events by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(c.requests, c.reconcileRuns, c.reconcileItems, c.lifecycle, c.events)
	return c
}

// Registry exposes the underlying registry.
func (c *Collectors) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collectors) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one strategy outcome.
func (c *Collectors) ObserveRequest(strategy, source string, err error) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	if source == "" {
		source = "none"
	}
	c.requests.WithLabelValues(strategy, source, outcome).Inc()
}

// ObserveReconcileRun records a finished reconciliation pass.
func (c *Collectors) ObserveReconcileRun() {
	if c == nil {
		return
	}
	c.reconcileRuns.Inc()
}

// ObserveReconcileItem records one refreshed (or skipped) dynamic entry.
func (c *Collectors) ObserveReconcileItem(result string) {
	if c == nil {
		return
	}
	c.reconcileItems.WithLabelValues(result).Inc()
}

// ObserveLifecycle records a lifecycle phase result.
func (c *Collectors) ObserveLifecycle(phase string, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.lifecycle.WithLabelValues(phase, result).Inc()
}

// ObserveEvent records one dispatched event.
func (c *Collectors) ObserveEvent(kind string) {
	if c == nil {
		return
	}
	c.events.WithLabelValues(kind).Inc()
}
