// Package metrics exposes pipeline counters for Prometheus scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "metro"

// Metrics holds every collector on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	Runs          *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	Entities      *prometheus.CounterVec
	SpendUSD      prometheus.Counter
	BudgetLeft    prometheus.Gauge
	Signals       *prometheus.CounterVec
}

// New registers the collectors on a fresh registry, plus the Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by trigger and result.",
		}, []string{"trigger", "result"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Stage wall time.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"stage", "result"}),
		Entities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entities_total",
			Help:      "Entities handled by kind and outcome (created, skipped, failed).",
		}, []string{"kind", "outcome"}),
		SpendUSD: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spend_usd_total",
			Help:      "Recorded API spend in USD.",
		}),
		BudgetLeft: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "budget_remaining_usd",
			Help:      "Remaining daily budget after the last recorded spend.",
		}),
		Signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Stage-completed signals published.",
		}, []string{"stage"}),
	}
	reg.MustRegister(
		m.Runs, m.StageDuration, m.Entities, m.SpendUSD, m.BudgetLeft, m.Signals,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// ObserveStage records one stage outcome. Safe on a nil receiver.
func (m *Metrics) ObserveStage(stage string, ok bool, seconds float64) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage, result(ok)).Observe(seconds)
}

// ObserveRun counts one run. Safe on a nil receiver.
func (m *Metrics) ObserveRun(trigger string, ok bool) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(trigger, result(ok)).Inc()
}

// AddEntities counts n entities of kind with outcome. Safe on a nil receiver.
func (m *Metrics) AddEntities(kind, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Entities.WithLabelValues(kind, outcome).Add(float64(n))
}

// ObserveSpend records spend and the resulting remaining budget. Safe on a
// nil receiver.
func (m *Metrics) ObserveSpend(amount, remaining float64) {
	if m == nil {
		return
	}
	if amount > 0 {
		m.SpendUSD.Add(amount)
	}
	m.BudgetLeft.Set(remaining)
}

// ObserveSignal counts a published signal. Safe on a nil receiver.
func (m *Metrics) ObserveSignal(stage string) {
	if m == nil {
		return
	}
	m.Signals.WithLabelValues(stage).Inc()
}
