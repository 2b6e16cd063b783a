// Package metrics exposes Prometheus instruments for the session engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeApplied  = "applied"
	OutcomeDeclined = "declined"
	OutcomeIgnored  = "ignored"
)

type Metrics struct {
	registry            *prometheus.Registry
	events              *prometheus.CounterVec
	activeSessions      prometheus.Gauge
	connections         prometheus.Gauge
	evictions           prometheus.Counter
	persistenceFailures *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "syncplayer",
			Name:      "events_total",
			Help:      "Session events processed, by event name and outcome.",
		}, []string{"event", "outcome"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "syncplayer",
			Name:      "active_sessions",
			Help:      "Sessions resident in memory.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "syncplayer",
			Name:      "websocket_connections",
			Help:      "Open websocket connections.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "syncplayer",
			Name:      "presence_evictions_total",
			Help:      "Members evicted for stale heartbeats.",
		}),
		persistenceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "syncplayer",
			Name:      "persistence_failures_total",
			Help:      "Failed durable store writes, by write kind.",
		}, []string{"kind"}),
	}
	m.registry.MustRegister(
		m.events,
		m.activeSessions,
		m.connections,
		m.evictions,
		m.persistenceFailures,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Event(event, outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Metrics) Evicted(n int) {
	if m == nil {
		return
	}
	m.evictions.Add(float64(n))
}

func (m *Metrics) PersistenceFailed(kind string) {
	if m == nil {
		return
	}
	m.persistenceFailures.WithLabelValues(kind).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
