package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "governor"

var (
	// HTTP Request Metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code",
		},
		[]string{"method", "route", "status_code"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "route"},
	)

	httpActiveRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "active_requests",
			Help:      "Number of currently active HTTP requests",
		},
	)

	// Rate Limiting Metrics
	rateLimitChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "checks_total",
			Help:      "Total number of rate limit checks by route and decision",
		},
		[]string{"route", "decision"}, // allowed, blocked, error
	)

	rateLimitCheckDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "check_duration_seconds",
			Help:      "Duration of rate limit checks including store round-trips",
			Buckets:   []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		},
	)

	rateLimitUtilization = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "utilization_percent",
			Help:      "Weighted hit estimate as a percentage of the policy maximum",
			Buckets:   []float64{10, 25, 50, 75, 90, 100, 150, 200},
		},
		[]string{"route"},
	)

	rateLimitStoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "store_errors_total",
			Help:      "Total number of counter store failures by operation",
		},
		[]string{"operation"}, // incr, expire, get
	)

	rateLimitFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "fallbacks_total",
			Help:      "Decisions taken by the failure mode because the store was unavailable",
		},
		[]string{"mode"},
	)

	// Audit Metrics
	auditRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "records_total",
			Help:      "Audit records by outcome",
		},
		[]string{"result"}, // written, failed, dropped
	)

	identityResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "identity",
			Name:      "results_total",
			Help:      "Caller identification outcomes",
		},
		[]string{"result"}, // identified, anonymous, invalid
	)

	auditQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "queue_depth",
			Help:      "Audit records waiting to be written",
		},
	)

	// Circuit Breaker Metrics
	circuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "circuitbreaker",
			Name:      "state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)

	circuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuitbreaker",
			Name:      "transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Health Check Metrics
	healthCheckTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "checks_total",
			Help:      "Total number of health checks performed",
		},
		[]string{"check_name", "status"},
	)

	healthCheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "check_duration_seconds",
			Help:      "Duration of health checks in seconds",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 2},
		},
		[]string{"check_name"},
	)

	once sync.Once
)

// Init registers all collectors with the default Prometheus registry.
// Recording before Init is safe; values are simply not exported.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			httpActiveRequests,
			rateLimitChecksTotal,
			rateLimitCheckDuration,
			rateLimitUtilization,
			rateLimitStoreErrorsTotal,
			rateLimitFallbacksTotal,
			auditRecordsTotal,
			auditQueueDepth,
			identityResultsTotal,
			circuitBreakerState,
			circuitBreakerTransitionsTotal,
			healthCheckTotal,
			healthCheckDuration,
		)
	})
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordHTTPRequest(method, route, statusCode string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func IncActiveRequests() { httpActiveRequests.Inc() }
func DecActiveRequests() { httpActiveRequests.Dec() }

// RecordRateLimitCheck counts one decision; decision is allowed, blocked or error.
func RecordRateLimitCheck(route, decision string, duration time.Duration) {
	rateLimitChecksTotal.WithLabelValues(route, decision).Inc()
	rateLimitCheckDuration.Observe(duration.Seconds())
}

func RecordRateLimitUtilization(route string, utilizationPercent float64) {
	rateLimitUtilization.WithLabelValues(route).Observe(utilizationPercent)
}

func RecordStoreError(operation string) {
	rateLimitStoreErrorsTotal.WithLabelValues(operation).Inc()
}

func RecordFallback(mode string) {
	rateLimitFallbacksTotal.WithLabelValues(mode).Inc()
}

func RecordAuditRecord(result string) {
	auditRecordsTotal.WithLabelValues(result).Inc()
}

func SetAuditQueueDepth(depth int) {
	auditQueueDepth.Set(float64(depth))
}

func RecordIdentityResult(result string) {
	identityResultsTotal.WithLabelValues(result).Inc()
}

func SetCircuitBreakerState(name string, state int) {
	circuitBreakerState.WithLabelValues(name).Set(float64(state))
}

func RecordCircuitBreakerTransition(name, fromState, toState string) {
	circuitBreakerTransitionsTotal.WithLabelValues(name, fromState, toState).Inc()
}

func RecordHealthCheck(checkName, status string, duration time.Duration) {
	healthCheckTotal.WithLabelValues(checkName, status).Inc()
	healthCheckDuration.WithLabelValues(checkName).Observe(duration.Seconds())
}
