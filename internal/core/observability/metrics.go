// Package observability holds the Prometheus collectors recorded on the request path.
//
// Collectors are registered by Init on the registry of the metrics provider.
// Until Init runs, or when metrics are disabled, every Observe call is a no-op.
package observability

import (
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

type collectors struct {
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	cacheResults  *prometheus.CounterVec
	cacheOps      *prometheus.CounterVec
	cacheOpDur    *prometheus.HistogramVec
	queryDuration *prometheus.HistogramVec
	queryErrors   *prometheus.CounterVec
	eventsDropped prometheus.Counter
}

var active atomic.Pointer[collectors]

func newCollectors() *collectors {
	return &collectors{
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
			},
			[]string{"method", "route", "status"},
		),
		cacheResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_results_total",
				Help: "Cache-aside outcomes per endpoint (hit, miss, bypass).",
			},
			[]string{"outcome", "endpoint"},
		),
		cacheOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_op_total",
				Help: "Cache store operations by result.",
			},
			[]string{"op", "result"},
		),
		cacheOpDur: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cache_operation_duration_seconds",
				Help:    "Latency of cache store operations.",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
			[]string{"op"},
		),
		queryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "query_duration_seconds",
				Help:    "Latency of analytical queries against the executor.",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"endpoint"},
		),
		queryErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "query_errors_total",
				Help: "Failed analytical queries.",
			},
			[]string{"endpoint"},
		),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "events_dropped_total",
			Help: "Query events dropped because the publisher queue was full.",
		}),
	}
}

// Init registers the collectors on reg. Calling it again swaps in a fresh set,
// so each registry only ever sees one registration.
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil {
		active.Store(nil)
		return
	}
	c := newCollectors()
	reg.MustRegister(
		c.httpRequests, c.httpDuration,
		c.cacheResults, c.cacheOps, c.cacheOpDur,
		c.queryDuration, c.queryErrors,
		c.eventsDropped,
	)
	active.Store(c)
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	c := active.Load()
	if c == nil {
		return
	}
	st := strconv.Itoa(status)
	c.httpRequests.WithLabelValues(method, route, st).Inc()
	c.httpDuration.WithLabelValues(method, route, st).Observe(durationSeconds)
}

// ObserveCacheResult records the outcome of one cache-aside lookup.
func ObserveCacheResult(endpoint, outcome string) {
	c := active.Load()
	if c == nil {
		return
	}
	c.cacheResults.WithLabelValues(outcome, endpoint).Inc()
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	c := active.Load()
	if c == nil {
		return
	}
	c.cacheOps.WithLabelValues(op, result(err)).Inc()
	c.cacheOpDur.WithLabelValues(op).Observe(durationSeconds)
}

func ObserveQuery(endpoint string, err error, durationSeconds float64) {
	c := active.Load()
	if c == nil {
		return
	}
	c.queryDuration.WithLabelValues(endpoint).Observe(durationSeconds)
	if err != nil {
		c.queryErrors.WithLabelValues(endpoint).Inc()
	}
}

func IncEventsDropped() {
	if c := active.Load(); c != nil {
		c.eventsDropped.Inc()
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
