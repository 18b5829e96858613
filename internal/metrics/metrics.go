// Package metrics exposes gateway counters on a private Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/mattjoyce/ccgateway/internal/response"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ccgateway"

// Metrics records dispatch outcomes and broker drops.
// It satisfies dispatch.Recorder and broker.DropRecorder.
type Metrics struct {
	registry *prometheus.Registry

	dispatched *prometheus.CounterVec
	inflight   prometheus.Gauge
	duration   *prometheus.HistogramVec
	dropped    prometheus.Counter
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		dispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "total",
				Help:      "Dispatched requests by reply token.",
			},
			[]string{"token"},
		),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "inflight",
			Help:      "Requests currently being dispatched.",
		}),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "duration_seconds",
				Help:      "Handler run time in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Inbound messages dropped as malformed.",
		}),
	}
	m.registry.MustRegister(m.dispatched, m.inflight, m.duration, m.dropped)
	return m
}

// RequestStarted counts one more request in flight.
func (m *Metrics) RequestStarted() {
	m.inflight.Inc()
}

// RequestFinished ends an in-flight request and counts its reply token.
func (m *Metrics) RequestFinished(token response.Token) {
	m.inflight.Dec()
	m.dispatched.WithLabelValues(token.String()).Inc()
}

// HandlerObserved records how long an action's handler ran.
func (m *Metrics) HandlerObserved(action string, elapsed time.Duration) {
	m.duration.WithLabelValues(action).Observe(elapsed.Seconds())
}

// FrameDropped counts one malformed inbound message.
func (m *Metrics) FrameDropped() {
	m.dropped.Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
