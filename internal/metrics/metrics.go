// Package metrics owns the hub's prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relay"

// Metrics is safe to use through a nil pointer, which records nothing.
type Metrics struct {
	registry *prometheus.Registry

	framesReceived    *prometheus.CounterVec
	broadcasts        *prometheus.CounterVec
	sendDrops         prometheus.Counter
	transformFailures *prometheus.CounterVec
	transformDuration *prometheus.HistogramVec
	sinkPublishes     *prometheus.CounterVec
	sessions          prometheus.Gauge
	producers         *prometheus.GaugeVec
}

// New builds the collectors on a private registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		framesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_received_total",
				Help:      "Frames accepted into a channel queue.",
			},
			[]string{"channel"},
		),
		broadcasts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "broadcasts_total",
				Help:      "Frames fanned out to consumers.",
			},
			[]string{"channel"},
		),
		sendDrops: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "send_drops_total",
				Help:      "Messages dropped because a consumer could not keep up.",
			},
		),
		transformFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transform_failures_total",
				Help:      "Transform failures recovered by relaying the original frame.",
			},
			[]string{"channel"},
		),
		transformDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transform_duration_seconds",
				Help:      "Time spent in the per-channel transform.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"channel"},
		),
		sinkPublishes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sink_publishes_total",
				Help:      "Detection results handed to the MQTT sink, by outcome.",
			},
			[]string{"result"},
		),
		sessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions",
				Help:      "Connected consumer sessions.",
			},
		),
		producers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "producers",
				Help:      "Connected producers per channel.",
			},
			[]string{"channel"},
		),
	}

	m.registry.MustRegister(
		m.framesReceived,
		m.broadcasts,
		m.sendDrops,
		m.transformFailures,
		m.transformDuration,
		m.sinkPublishes,
		m.sessions,
		m.producers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) FrameReceived(channel string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(channel).Inc()
}

func (m *Metrics) Broadcast(channel string) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(channel).Inc()
}

func (m *Metrics) SendDropped() {
	if m == nil {
		return
	}
	m.sendDrops.Inc()
}

func (m *Metrics) TransformFailed(channel string) {
	if m == nil {
		return
	}
	m.transformFailures.WithLabelValues(channel).Inc()
}

func (m *Metrics) ObserveTransform(channel string, d time.Duration) {
	if m == nil {
		return
	}
	m.transformDuration.WithLabelValues(channel).Observe(d.Seconds())
}

// SinkPublished counts one publish attempt; result is "ok", "error" or
// "dropped".
func (m *Metrics) SinkPublished(result string) {
	if m == nil {
		return
	}
	m.sinkPublishes.WithLabelValues(result).Inc()
}

func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

func (m *Metrics) SetProducers(channel string, n int) {
	if m == nil {
		return
	}
	m.producers.WithLabelValues(channel).Set(float64(n))
}
