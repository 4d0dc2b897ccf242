package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate on the serve-mode surface. Watch for: sudden drops (daemon down).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request on the serve-mode surface.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight.
	HTTPRequestsInFlight prometheus.Gauge

	// Unit probe rate. Watch for: fail vs pass ratio per service.
	ProbesTotal *prometheus.CounterVec

	// Unit probe latency per attempt. Watch for: p95 approaching probe timeout (units degrading).
	ProbeDurationSeconds *prometheus.HistogramVec

	// Probe retry attempts. High retries = flaky units or network.
	ProbeRetriesTotal prometheus.Counter

	// Verification run rate by outcome (pass, fail, error).
	VerifyRunsTotal *prometheus.CounterVec

	// End-to-end verification run latency.
	VerifyRunDurationSeconds prometheus.Histogram

	// juju status invocations. Watch for: error ratio (controller health).
	JujuStatusCallsTotal *prometheus.CounterVec

	// Breaker state around the juju client: 0 closed, 1 open, 2 half-open.
	JujuBreakerState prometheus.Gauge

	// Report cache failures by operation.
	ReportCacheErrorsTotal *prometheus.CounterVec

	// Rate limit denials on the serve-mode surface.
	RateLimitDeniedTotal prometheus.Counter
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	ProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "probesTotal",
			Help: "Total number of unit probes by service and outcome",
		},
		[]string{"service", "status"},
	)
	ProbeDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "probeDurationSeconds",
			Help:    "Unit probe latency in seconds (per attempt)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"service"},
	)
	ProbeRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "probeRetriesTotal",
			Help: "Total number of probe retry attempts",
		},
	)
	VerifyRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verifyRunsTotal",
			Help: "Total number of verification runs by outcome (pass, fail, error)",
		},
		[]string{"outcome"},
	)
	VerifyRunDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "verifyRunDurationSeconds",
			Help:    "End-to-end verification run latency in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)
	JujuStatusCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jujuStatusCallsTotal",
			Help: "Total number of juju status invocations",
		},
		[]string{"status"},
	)
	JujuBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jujuBreakerState",
			Help: "Breaker state around the juju client (0 closed, 1 open, 2 half-open)",
		},
	)
	ReportCacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportCacheErrorsTotal",
			Help: "Total number of report cache failures by operation",
		},
		[]string{"operation"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		ProbesTotal, ProbeDurationSeconds, ProbeRetriesTotal,
		VerifyRunsTotal, VerifyRunDurationSeconds,
		JujuStatusCallsTotal, JujuBreakerState,
		ReportCacheErrorsTotal,
		RateLimitDeniedTotal,
	)
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
