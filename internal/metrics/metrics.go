// Package metrics holds the Prometheus collectors of the bridge.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chainpost"

// Metrics is safe for concurrent use. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	posted       *prometheus.CounterVec // by metric
	dropped      *prometheus.CounterVec // by metric and reason
	connected    prometheus.Gauge
	postDuration prometheus.Histogram
}

// New creates the collectors on a private registry, together with the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		posted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_posted_total",
			Help:      "Readings accepted by the Chain site",
		}, []string{"metric"}),

		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_dropped_total",
			Help:      "Readings lost because a post failed",
		}, []string{"metric", "reason"}), // reason: not_connected, connection, other

		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while the poster holds a site connection",
		}),

		postDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "post_duration_seconds",
			Help:      "Time spent posting one reading, including device and sensor lookup",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}

	m.registry.MustRegister(
		m.posted,
		m.dropped,
		m.connected,
		m.postDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Posted(metric string) {
	if m == nil {
		return
	}
	m.posted.WithLabelValues(metric).Inc()
}

func (m *Metrics) Dropped(metric, reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(metric, reason).Inc()
}

func (m *Metrics) SetConnected(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

func (m *Metrics) ObservePost(d time.Duration) {
	if m == nil {
		return
	}
	m.postDuration.Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
