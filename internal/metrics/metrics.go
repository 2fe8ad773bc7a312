// Package metrics exposes Prometheus collectors for the collector service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tasksTotal             *prometheus.CounterVec
	activeWorkers          prometheus.Gauge
	cacheLookupsTotal      *prometheus.CounterVec
	fetchDurationSeconds   *prometheus.HistogramVec
	proxyPoolActive        prometheus.Gauge
	identityPoolActive     prometheus.Gauge
	rateLimitDelaysSeconds prometheus.Histogram
	upsertFailuresTotal    *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_tasks_total",
				Help: "Total number of tasks processed, labeled by terminal status.",
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "collector_active_workers",
				Help: "Number of workers currently processing a task.",
			},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_cache_lookups_total",
				Help: "Cache lookups, labeled by query kind and outcome (hit/miss).",
			},
			[]string{"kind", "outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "collector_fetch_duration_seconds",
				Help:    "Histogram of outbound fetch latencies, labeled by kind and status code.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
			},
			[]string{"kind", "code"},
		)

		proxyPoolActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "collector_proxy_pool_active",
				Help: "Number of active proxies in the pool snapshot.",
			},
		)

		identityPoolActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "collector_identity_pool_active",
				Help: "Number of active identities in the pool snapshot.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "collector_rate_limit_delays_seconds",
				Help:    "Histogram of dequeue throttle wait durations.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
		)

		upsertFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_upsert_failures_total",
				Help: "Persistence upsert failures, labeled by entity kind.",
			},
			[]string{"entity"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTask increments the task counter for the given terminal status.
func ObserveTask(status string) {
	if tasksTotal == nil {
		return
	}
	tasksTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if activeWorkers == nil {
		return
	}
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if activeWorkers == nil {
		return
	}
	activeWorkers.Dec()
}

// ObserveCacheLookup records one cache lookup outcome.
func ObserveCacheLookup(kind string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	if cacheLookupsTotal == nil {
		return
	}
	cacheLookupsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveFetch records one outbound fetch.
func ObserveFetch(kind string, code string, duration time.Duration) {
	if fetchDurationSeconds == nil {
		return
	}
	fetchDurationSeconds.WithLabelValues(kind, code).Observe(duration.Seconds())
}

// SetProxyPoolActive records the current active proxy count.
func SetProxyPoolActive(n int) {
	if proxyPoolActive == nil {
		return
	}
	proxyPoolActive.Set(float64(n))
}

// SetIdentityPoolActive records the current active identity count.
func SetIdentityPoolActive(n int) {
	if identityPoolActive == nil {
		return
	}
	identityPoolActive.Set(float64(n))
}

// ObserveRateLimitDelay records the duration of a dequeue throttle wait.
func ObserveRateLimitDelay(duration time.Duration) {
	if rateLimitDelaysSeconds == nil {
		return
	}
	rateLimitDelaysSeconds.Observe(duration.Seconds())
}

// ObserveUpsertFailure counts one swallowed persistence failure.
func ObserveUpsertFailure(entity string) {
	if upsertFailuresTotal == nil {
		return
	}
	upsertFailuresTotal.WithLabelValues(entity).Inc()
}
