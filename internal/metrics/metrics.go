// Package metrics exposes Prometheus collectors for the service hot paths.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors on a private registry so tests can
// create isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	ClicksEnqueued  prometheus.Counter
	ClicksDropped   prometheus.Counter
	ClicksPersisted prometheus.Counter
	ClicksDiscarded prometheus.Counter
	ClickRetries    prometheus.Counter

	Redirects prometheus.Counter
}

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "resolver_cache_hits_total",
			Help: "Redirect resolutions served from the cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "resolver_cache_misses_total",
			Help: "Redirect resolutions that fell through to the link store.",
		}),
		ClicksEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clicks_enqueued_total",
			Help: "Click events accepted onto the recorder queue.",
		}),
		ClicksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clicks_dropped_total",
			Help: "Click events rejected because the recorder queue was full.",
		}),
		ClicksPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clicks_persisted_total",
			Help: "Click events written to the event store.",
		}),
		ClicksDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clicks_discarded_total",
			Help: "Click events discarded after exhausting persistence retries.",
		}),
		ClickRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "click_persist_retries_total",
			Help: "Retried click persistence attempts.",
		}),
		Redirects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "redirects_total",
			Help: "Successful redirect responses.",
		}),
	}

	reg.MustRegister(
		m.CacheHits, m.CacheMisses,
		m.ClicksEnqueued, m.ClicksDropped, m.ClicksPersisted, m.ClicksDiscarded, m.ClickRetries,
		m.Redirects,
	)
	return m
}

// Handler serves the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
