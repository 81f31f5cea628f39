// Package metrics owns the Prometheus collectors shared by the pipeline and the HTTP API.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "remedial"

var (
	registerOnce     sync.Once
	dispatchOutcomes *prometheus.CounterVec
	dispatchSeconds  *prometheus.HistogramVec
	queryDuration    *prometheus.HistogramVec
	queryFailures    *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpLatency      *prometheus.HistogramVec
)

// Register initialises the collectors once and registers them with the default registry.
func Register() {
	registerOnce.Do(func() {
		dispatchOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "outcomes_total",
			Help:      "Dispatch outcomes by channel and status.",
		}, []string{"channel", "status"})

		dispatchSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "send_duration_seconds",
			Help:      "Duration of single delivery channel invocations.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"channel"})

		queryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Duration of natural-language score queries.",
		}, []string{"model"})

		queryFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "failures_total",
			Help:      "Number of failed natural-language score queries.",
		}, []string{"model"})

		httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "latency_seconds",
			Help:      "Latency distribution for API requests.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
		}, []string{"method", "route"})

		prometheus.MustRegister(dispatchOutcomes, dispatchSeconds, queryDuration, queryFailures, httpRequests, httpLatency)
	})
}

// DispatchOutcomes counts dispatch outcomes.
func DispatchOutcomes() *prometheus.CounterVec {
	Register()
	return dispatchOutcomes
}

// DispatchSeconds observes channel invocation latency.
func DispatchSeconds() *prometheus.HistogramVec {
	Register()
	return dispatchSeconds
}

// QueryDuration observes query agent latency.
func QueryDuration() *prometheus.HistogramVec {
	Register()
	return queryDuration
}

// QueryFailures counts failed queries.
func QueryFailures() *prometheus.CounterVec {
	Register()
	return queryFailures
}

// HTTPRequests counts API requests.
func HTTPRequests() *prometheus.CounterVec {
	Register()
	return httpRequests
}

// HTTPLatency observes API request latency.
func HTTPLatency() *prometheus.HistogramVec {
	Register()
	return httpLatency
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}
