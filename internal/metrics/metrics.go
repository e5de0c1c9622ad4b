// Package metrics holds the Prometheus collectors for the crawl pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PagesPolled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "touchless_poll_pages_total",
			Help: "Result pages fetched from the crawl provider, labeled by outcome.",
		},
		[]string{"outcome"},
	)
	PollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "touchless_poll_duration_seconds",
			Help:    "Duration of one poll call in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
	ListingsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "touchless_listings_written_total",
			Help: "Listing writes by crawl_status.",
		},
		[]string{"crawl_status"},
	)
	UnresolvedItems = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "touchless_unresolved_items_total",
			Help: "Scraped items that matched no submitted listing.",
		},
	)
	ClassifierCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "touchless_classifier_calls_total",
			Help: "AI classifier calls, labeled by result.",
		},
		[]string{"result"},
	)
	ClassifierDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "touchless_classifier_duration_seconds",
			Help:    "Duration of AI classifier calls in seconds.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		},
	)
	BatchesSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "touchless_batches_submitted_total",
			Help: "Crawl batches submitted, labeled by mode.",
		},
		[]string{"mode"},
	)
	WatchdogActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "touchless_watchdog_actions_total",
			Help: "Watchdog interventions, labeled by action.",
		},
		[]string{"action"},
	)
	RunningBatches = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "touchless_running_batches",
			Help: "Batches in status running at the last watchdog sweep.",
		},
	)
)

func init() {
	prometheus.MustRegister(PagesPolled)
	prometheus.MustRegister(PollDuration)
	prometheus.MustRegister(ListingsWritten)
	prometheus.MustRegister(UnresolvedItems)
	prometheus.MustRegister(ClassifierCalls)
	prometheus.MustRegister(ClassifierDuration)
	prometheus.MustRegister(BatchesSubmitted)
	prometheus.MustRegister(WatchdogActions)
	prometheus.MustRegister(RunningBatches)
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
