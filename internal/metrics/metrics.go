// Package metrics exposes Prometheus collectors for the availability monitor.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	probesTotal                *prometheus.CounterVec
	probeDurationSeconds       *prometheus.HistogramVec
	classificationsTotal       *prometheus.CounterVec
	cycleDurationSeconds       prometheus.Histogram
	cycleTargets               *prometheus.GaugeVec
	breakerTransitionsTotal    *prometheus.CounterVec
	inflightProbes             prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	compliancePercentage       *prometheus.GaugeVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		probesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storewatch_probes_total",
				Help: "Total number of storefront probes, labeled by platform and outcome.",
			},
			[]string{"platform", "outcome"},
		)

		probeDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storewatch_probe_duration_seconds",
				Help:    "Histogram of probe latencies including retries, labeled by platform.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
			},
			[]string{"platform"},
		)

		classificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storewatch_classifications_total",
				Help: "Total number of classifications, labeled by platform and status.",
			},
			[]string{"platform", "status"},
		)

		cycleDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "storewatch_cycle_duration_seconds",
				Help:    "Histogram of check cycle wall time.",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
			},
		)

		cycleTargets = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "storewatch_cycle_targets",
				Help: "Targets per status in the most recent cycle.",
			},
			[]string{"status"},
		)

		breakerTransitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storewatch_breaker_transitions_total",
				Help: "Total circuit breaker transitions, labeled by destination state.",
			},
			[]string{"to"},
		)

		inflightProbes = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "storewatch_inflight_probes",
				Help: "Number of probes currently executing.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storewatch_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"platform"},
		)

		compliancePercentage = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "storewatch_compliance_percentage",
				Help: "Latest SKU compliance percentage per target.",
			},
			[]string{"target_id"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveProbe records one finished probe.
func ObserveProbe(platform, outcome string, duration time.Duration) {
	Init()
	probesTotal.WithLabelValues(platform, outcome).Inc()
	probeDurationSeconds.WithLabelValues(platform).Observe(duration.Seconds())
}

// ObserveClassification counts a classification.
func ObserveClassification(platform, status string) {
	Init()
	classificationsTotal.WithLabelValues(platform, status).Inc()
}

// ObserveCycle records a finished cycle and its per-status breakdown.
func ObserveCycle(duration time.Duration, counts map[string]int) {
	Init()
	cycleDurationSeconds.Observe(duration.Seconds())
	cycleTargets.Reset()
	for status, n := range counts {
		cycleTargets.WithLabelValues(status).Set(float64(n))
	}
}

// ObserveBreakerTransition counts a breaker state change.
func ObserveBreakerTransition(to string) {
	Init()
	breakerTransitionsTotal.WithLabelValues(to).Inc()
}

// IncInflightProbes increments the in-flight probe gauge.
func IncInflightProbes() {
	Init()
	inflightProbes.Inc()
}

// DecInflightProbes decrements the in-flight probe gauge.
func DecInflightProbes() {
	Init()
	inflightProbes.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(platform string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(platform).Observe(duration.Seconds())
}

// SetCompliance publishes the latest compliance percentage for a target.
func SetCompliance(targetID string, percentage float64) {
	Init()
	compliancePercentage.WithLabelValues(targetID).Set(percentage)
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
