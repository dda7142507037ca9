// Package metrics exposes Prometheus collectors for the dashboard server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's collectors on their own registry.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	DatasetLoad     *prometheus.HistogramVec
	Observations    *prometheus.GaugeVec
	PlotCache       *prometheus.CounterVec
	SelectionsTotal *prometheus.CounterVec
	Sessions        *prometheus.GaugeVec
}

// New registers the collectors on a fresh registry, together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geocell",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status code.",
		}, []string{"route", "method", "status"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "geocell",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		DatasetLoad: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "geocell",
			Name:      "dataset_load_seconds",
			Help:      "Time to acquire and reshape a dataset.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"dataset", "source", "result"}),
		Observations: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "geocell",
			Name:      "dataset_observations",
			Help:      "Number of cells in each loaded dataset.",
		}, []string{"dataset"}),
		PlotCache: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geocell",
			Name:      "plot_cache_requests_total",
			Help:      "Plot cache lookups by result.",
		}, []string{"result"}),
		SelectionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geocell",
			Name:      "selection_updates_total",
			Help:      "Selection updates by dataset and outcome.",
		}, []string{"dataset", "result"}),
		Sessions: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "geocell",
			Name:      "selection_sessions",
			Help:      "Live selection sessions per dataset.",
		}, []string{"dataset"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(route, method string, status int, d time.Duration) {
	m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// ObserveLoad records a dataset load attempt.
func (m *Metrics) ObserveLoad(dataset, source string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.DatasetLoad.WithLabelValues(dataset, source, result).Observe(d.Seconds())
}

// PlotCacheResult counts a plot cache hit or miss.
func (m *Metrics) PlotCacheResult(hit bool) {
	if hit {
		m.PlotCache.WithLabelValues("hit").Inc()
		return
	}
	m.PlotCache.WithLabelValues("miss").Inc()
}
