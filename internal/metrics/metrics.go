// Package metrics exposes Prometheus collectors for the risk pipeline.
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
	hotlistFetchesTotal        *prometheus.CounterVec
	hoursMergedTotal           prometheus.Counter
	dailyPassesTotal           *prometheus.CounterVec
	topicsAnnotatedTotal       *prometheus.CounterVec
	dailyPassDurationSeconds   prometheus.Histogram
	streamSubscribers          *prometheus.GaugeVec
	streamDropsTotal           *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		hotlistFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskradar_hotlist_fetches_total",
				Help: "Total hot-list hour fetches, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		hoursMergedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "riskradar_hours_merged_total",
				Help: "Total hourly snapshots merged into daily archives.",
			},
		)

		dailyPassesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskradar_daily_passes_total",
				Help: "Total daily annotation passes, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		topicsAnnotatedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskradar_topics_annotated_total",
				Help: "Total topics annotated, labeled by annotation source.",
			},
			[]string{"source"},
		)

		dailyPassDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "riskradar_daily_pass_duration_seconds",
				Help:    "Histogram of daily pass wall-clock durations.",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
			},
		)

		streamSubscribers = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "riskradar_stream_subscribers",
				Help: "Connected stream subscribers, labeled by channel.",
			},
			[]string{"channel"},
		)

		streamDropsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskradar_stream_drops_total",
				Help: "Snapshots dropped for slow subscribers, labeled by channel.",
			},
			[]string{"channel"},
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

// ObserveHotListFetch counts one hot-list hour fetch by outcome
// ("ok", "unavailable", "error").
func ObserveHotListFetch(outcome string) {
	hotlistFetchesTotal.WithLabelValues(outcome).Inc()
}

// ObserveHourMerged counts one merged hourly snapshot.
func ObserveHourMerged() {
	hoursMergedTotal.Inc()
}

// ObserveDailyPass counts one completed daily pass by outcome
// ("ok", "partial", "skipped", "error") and records its duration.
func ObserveDailyPass(outcome string, duration time.Duration) {
	dailyPassesTotal.WithLabelValues(outcome).Inc()
	dailyPassDurationSeconds.Observe(duration.Seconds())
}

// ObserveTopicAnnotated counts one annotated topic by annotation source.
func ObserveTopicAnnotated(source string) {
	topicsAnnotatedTotal.WithLabelValues(source).Inc()
}

// SetStreamSubscribers records the subscriber count for a stream channel.
func SetStreamSubscribers(channel string, count int) {
	streamSubscribers.WithLabelValues(channel).Set(float64(count))
}

// ObserveStreamDrop counts one dropped snapshot on a stream channel.
func ObserveStreamDrop(channel string) {
	streamDropsTotal.WithLabelValues(channel).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
