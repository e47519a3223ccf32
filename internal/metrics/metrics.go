// Package metrics exposes Prometheus collectors for the enrichment service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchFallbacksTotal        *prometheus.CounterVec
	extractionDurationSeconds  *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	probeTLSHandshakeTimeouts  prometheus.Counter
	activeTriggers             prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	stuckRecordsReapedTotal    prometheus.Counter
	triggerEventsSkippedTotal  prometheus.Counter
	persistenceFailuresTotal   *prometheus.CounterVec
	once                       sync.Once
)

// Init registers the collectors with the default registry. Safe to call repeatedly.
func Init() {
	once.Do(func() {
		fetchFallbacksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enricher_fetch_fallbacks_total",
				Help: "Fetch failures that fell back to search-based extraction, labeled by site.",
			},
			[]string{"site"},
		)

		extractionDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "enricher_extraction_duration_seconds",
				Help:    "Latency of extraction calls, labeled by outcome.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 120},
			},
			[]string{"outcome"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
			},
			[]string{"method", "route"},
		)

		probeTLSHandshakeTimeouts = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "enricher_probe_tls_handshake_timeout_total",
				Help: "TLS handshake timeouts encountered while probing robots.txt.",
			},
		)

		activeTriggers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "enricher_active_triggers",
				Help: "Trigger invocations currently enriching a record.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "enricher_rate_limit_delays_seconds",
				Help:    "Histogram of extraction pacing waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"key"},
		)

		stuckRecordsReapedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "enricher_stuck_records_reaped_total",
				Help: "Records moved from SCRAPING to ERROR by the reaper.",
			},
		)

		triggerEventsSkippedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "enricher_trigger_events_skipped_total",
				Help: "Change events ignored by the activation guard.",
			},
		)

		persistenceFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enricher_persistence_failures_total",
				Help: "Record store write failures, labeled by operation.",
			},
			[]string{"op"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL, or "unknown".
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetchFallback counts a fetch failure that continued with search.
func ObserveFetchFallback(rawURL string) {
	Init()
	fetchFallbacksTotal.WithLabelValues(SanitizeSite(rawURL)).Inc()
}

// ObserveExtraction records the latency of one extraction call.
func ObserveExtraction(outcome string, duration time.Duration) {
	Init()
	extractionDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveProbeTLSHandshakeTimeout increments the robots probe handshake timeout counter.
func ObserveProbeTLSHandshakeTimeout() {
	Init()
	probeTLSHandshakeTimeouts.Inc()
}

// IncActiveTriggers increments the active trigger gauge.
func IncActiveTriggers() {
	Init()
	activeTriggers.Inc()
}

// DecActiveTriggers decrements the active trigger gauge.
func DecActiveTriggers() {
	Init()
	activeTriggers.Dec()
}

// ObserveRateLimitDelay records the duration of a pacing wait.
func ObserveRateLimitDelay(key string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(key).Observe(duration.Seconds())
}

// ObserveReaped counts records recovered from a stuck SCRAPING state.
func ObserveReaped(n int) {
	Init()
	if n > 0 {
		stuckRecordsReapedTotal.Add(float64(n))
	}
}

// ObserveTriggerSkipped counts change events that did not activate enrichment.
func ObserveTriggerSkipped() {
	Init()
	triggerEventsSkippedTotal.Inc()
}

// ObservePersistenceFailure counts a failed record store write.
func ObservePersistenceFailure(op string) {
	Init()
	persistenceFailuresTotal.WithLabelValues(op).Inc()
}
