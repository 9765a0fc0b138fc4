// Package metrics exposes Prometheus metrics for the active dataflow registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dataflow"

// Metrics holds the collectors for registry operations. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	registrations  *prometheus.CounterVec // By status (registered/replaced/rejected)
	rejections     *prometheus.CounterVec // By reason
	checkouts      *prometheus.CounterVec // By status (ok/not_found/disabled)
	activeFlows    prometheus.Gauge
	reloadDuration prometheus.Histogram
}

// New creates the collectors and registers them, with the Go and process
// collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "registrations_total",
			Help:      "Total number of dataflow registration attempts",
		}, []string{"status"}),

		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "rejections_total",
			Help:      "Total number of dataflows rejected at registration",
		}, []string{"reason"}), // reason: validation, unresolved_builder, looping, compile

		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "checkouts_total",
			Help:      "Total number of per-run dataflow copies handed out",
		}, []string{"status"}),

		activeFlows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "active_flows",
			Help:      "Number of dataflows currently registered",
		}),

		reloadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "reload_duration_seconds",
			Help:      "Time spent rebuilding the active set from storage",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(
		m.registrations,
		m.rejections,
		m.checkouts,
		m.activeFlows,
		m.reloadDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry is the Prometheus registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}

	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}

	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordRegistration(replaced bool) {
	if m == nil {
		return
	}

	status := "registered"
	if replaced {
		status = "replaced"
	}

	m.registrations.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordRejection(reason string) {
	if m == nil {
		return
	}

	m.registrations.WithLabelValues("rejected").Inc()
	m.rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordCheckout(status string) {
	if m == nil {
		return
	}

	m.checkouts.WithLabelValues(status).Inc()
}

func (m *Metrics) SetActiveFlows(count int) {
	if m == nil {
		return
	}

	m.activeFlows.Set(float64(count))
}

func (m *Metrics) ObserveReload(duration time.Duration) {
	if m == nil {
		return
	}

	m.reloadDuration.Observe(duration.Seconds())
}
