// Package metrics exposes publish and quota counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

// Metrics owns a private registry so several clients can coexist in one process.
type Metrics struct {
	registry        *prometheus.Registry
	publishTotal    *prometheus.CounterVec
	publishDuration *prometheus.HistogramVec
	quotaRejections *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		publishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trailercast_publish_total",
			Help: "Publish attempts by target and result.",
		}, []string{"target", "result"}),
		publishDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trailercast_publish_duration_seconds",
			Help:    "Time spent in one publish call.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"target"}),
		quotaRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trailercast_quota_rejections_total",
			Help: "Publishes refused because a quota or posting gap was hit.",
		}, []string{"target"}),
	}
	m.registry.MustRegister(m.publishTotal, m.publishDuration, m.quotaRejections)
	return m
}

// ObservePublish records one finished publish call. A nil Metrics is a no-op.
func (m *Metrics) ObservePublish(target, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.publishTotal.WithLabelValues(target, result).Inc()
	if result != ResultSkipped {
		m.publishDuration.WithLabelValues(target).Observe(took.Seconds())
	}
}

// QuotaRejected counts a publish refused by a limiter.
func (m *Metrics) QuotaRejected(target string) {
	if m == nil {
		return
	}
	m.quotaRejections.WithLabelValues(target).Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
