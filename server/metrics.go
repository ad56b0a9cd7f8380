package server

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implements handler.Recorder and manager.EvictionObserver by
// structural typing: neither package imports this one.
type Metrics struct {
	registry      *prometheus.Registry
	requests      *prometheus.CounterVec
	cacheOutcomes *prometheus.CounterVec
	bytesServed   prometheus.Counter
	evictions     prometheus.Counter
	evictedBytes  prometheus.Counter
}

// NewMetrics creates a Metrics with its own registry, independent of the
// default global one, so tests can construct several without collisions.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rangeproxy_requests_total",
			Help: "Total number of proxy requests by response status code.",
		}, []string{"status"}),
		cacheOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rangeproxy_cache_outcomes_total",
			Help: "Total number of requests by cache outcome (hit, partial, miss).",
		}, []string{"outcome"}),
		bytesServed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rangeproxy_bytes_served_total",
			Help: "Total number of response bytes served to clients.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rangeproxy_evictions_total",
			Help: "Total number of cache stores evicted.",
		}),
		evictedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rangeproxy_evicted_bytes_total",
			Help: "Total number of bytes freed by eviction.",
		}),
	}
	reg.MustRegister(m.requests, m.cacheOutcomes, m.bytesServed, m.evictions, m.evictedBytes)
	return m
}

// ObserveRequest records one completed request by its response status.
func (m *Metrics) ObserveRequest(status int) {
	m.requests.WithLabelValues(strconv.Itoa(status)).Inc()
}

// ObserveCacheOutcome records one completed request by cache outcome.
func (m *Metrics) ObserveCacheOutcome(outcome string) {
	m.cacheOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveBytesServed adds n to the running total of bytes served.
func (m *Metrics) ObserveBytesServed(n int64) {
	m.bytesServed.Add(float64(n))
}

// ObserveEviction records one evicted store and the bytes it freed.
func (m *Metrics) ObserveEviction(freedBytes int64) {
	m.evictions.Inc()
	m.evictedBytes.Add(float64(freedBytes))
}

// Handler returns the /metrics HTTP handler for this Metrics' registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
