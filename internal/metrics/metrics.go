// Package metrics exposes engine and HTTP measurements to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MarkoPoloResearchLab/infoboard/internal/widget"
)

const (
	labelModuleType = "type"
	labelOutcome    = "outcome"
	labelMethod     = "method"
	labelRoute      = "route"
	labelStatus     = "status"

	fetchOutcomeSucceeded = "ok"
	fetchOutcomeFailed    = "error"
)

// Collector owns the infoboard metrics and the registry they are exposed through.
type Collector struct {
	registry         *prometheus.Registry
	widgetCycles     *prometheus.CounterVec
	cycleDuration    *prometheus.HistogramVec
	fetchDuration    *prometheus.HistogramVec
	credentialLookup *prometheus.CounterVec
	activeSessions   prometheus.Gauge
	httpRequests     *prometheus.CounterVec
}

// NewCollector registers every metric on a fresh registry, together with the Go and process collectors.
func NewCollector() *Collector {
	collector := &Collector{
		registry: prometheus.NewRegistry(),
		widgetCycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "infoboard_widget_cycles_total",
				Help: "Completed widget fetch-render cycles by module type and outcome",
			},
			[]string{labelModuleType, labelOutcome},
		),
		cycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "infoboard_widget_cycle_seconds",
				Help:    "Duration of widget fetch-render cycles",
				Buckets: prometheus.DefBuckets,
			},
			[]string{labelModuleType},
		),
		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "infoboard_widget_fetch_seconds",
				Help:    "Duration of upstream widget fetches",
				Buckets: prometheus.DefBuckets,
			},
			[]string{labelModuleType, labelOutcome},
		),
		credentialLookup: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "infoboard_credential_lookups_total",
				Help: "Credential cache lookups by outcome",
			},
			[]string{labelOutcome},
		),
		activeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "infoboard_dashboard_sessions",
				Help: "Dashboard sessions currently running",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "infoboard_http_requests_total",
				Help: "HTTP requests by method, route and status",
			},
			[]string{labelMethod, labelRoute, labelStatus},
		),
	}
	collector.registry.MustRegister(
		collector.widgetCycles,
		collector.cycleDuration,
		collector.fetchDuration,
		collector.credentialLookup,
		collector.activeSessions,
		collector.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return collector
}

// Registry returns the registry the metrics are exposed through.
func (collector *Collector) Registry() *prometheus.Registry {
	return collector.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (collector *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(collector.registry, promhttp.HandlerOpts{Registry: collector.registry})
}

func (collector *Collector) CycleCompleted(moduleType string, outcome widget.CycleOutcome, duration time.Duration) {
	collector.widgetCycles.WithLabelValues(moduleType, string(outcome)).Inc()
	collector.cycleDuration.WithLabelValues(moduleType).Observe(duration.Seconds())
}

func (collector *Collector) FetchCompleted(moduleType string, succeeded bool, duration time.Duration) {
	outcome := fetchOutcomeFailed
	if succeeded {
		outcome = fetchOutcomeSucceeded
	}
	collector.fetchDuration.WithLabelValues(moduleType, outcome).Observe(duration.Seconds())
}

func (collector *Collector) CredentialLookup(outcome widget.CredentialOutcome) {
	collector.credentialLookup.WithLabelValues(string(outcome)).Inc()
}

// SessionStarted and SessionStopped track running dashboard sessions.
func (collector *Collector) SessionStarted() {
	collector.activeSessions.Inc()
}

func (collector *Collector) SessionStopped() {
	collector.activeSessions.Dec()
}

// RequestServed counts an HTTP response. route is the matched route template, not the raw path.
func (collector *Collector) RequestServed(method string, route string, status int) {
	collector.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
