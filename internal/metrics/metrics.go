// Package metrics exposes Prometheus collectors for the bookmarking service.
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
	tweetsIngestedTotal        *prometheus.CounterVec
	enrichmentJobsTotal        *prometheus.CounterVec
	enrichmentDurationSeconds  prometheus.Histogram
	scrapeFailuresTotal        prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. It is safe to call this
// function multiple times.
func Init() {
	once.Do(func() {
		tweetsIngestedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pandamark_tweets_ingested_total",
				Help: "Total number of webhook tweets processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		enrichmentJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pandamark_enrichment_jobs_total",
				Help: "Total number of enrichment jobs completed, labeled by result.",
			},
			[]string{"result"},
		)

		enrichmentDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pandamark_enrichment_duration_seconds",
				Help:    "Wall-clock duration of enrichment jobs.",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
			},
		)

		scrapeFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pandamark_scrape_failures_total",
				Help: "Total number of scrapes that exhausted their retry budget.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pandamark_http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pandamark_http_request_duration_seconds",
				Help:    "HTTP request latency.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		)
	})
}

// TweetIngested records one per-tweet webhook outcome.
func TweetIngested(outcome string) {
	Init()
	tweetsIngestedTotal.WithLabelValues(outcome).Inc()
}

// EnrichmentCompleted records one finished enrichment job.
func EnrichmentCompleted(result string, duration time.Duration) {
	Init()
	enrichmentJobsTotal.WithLabelValues(result).Inc()
	enrichmentDurationSeconds.Observe(duration.Seconds())
}

// ScrapeFailed records one scrape that exhausted its retries.
func ScrapeFailed() {
	Init()
	scrapeFailuresTotal.Inc()
}

// Handler serves the default registry at /metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// Middleware instruments HTTP handlers with request count and latency.
func Middleware(next http.Handler) http.Handler {
	Init()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(sw.status)).Inc()
		httpRequestDurationSeconds.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
