package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesCompared = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdfbatcher",
			Name:      "pages_compared_total",
			Help:      "Pages compared with the master page, by match",
		},
		[]string{"match"},
	)

	differenceScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pdfbatcher",
			Name:      "page_difference_percent",
			Help:      "Pixel difference between a page and the master page, in percent",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 40, 70, 100},
		},
	)

	batchesWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdfbatcher",
			Name:      "batches_total",
			Help:      "Batches materialized by result (written, failed)",
		},
		[]string{"result"},
	)

	passes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdfbatcher",
			Name:      "passes_total",
			Help:      "Batching passes by mode and result (success, partial, error)",
		},
		[]string{"mode", "result"},
	)

	passDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pdfbatcher",
			Name:      "pass_duration_seconds",
			Help:      "Duration of batching passes by mode",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		},
		[]string{"mode"},
	)

	cleanupWarnings = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pdfbatcher",
			Name:      "cleanup_locked_total",
			Help:      "Files still locked after the deletion retry ceiling",
		},
	)

	retriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pdfbatcher",
			Name:      "retries_total",
			Help:      "Total number of job retries",
		},
	)

	breakerEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdfbatcher",
			Name:      "breaker_events_total",
			Help:      "Publish circuit breaker events by target and action",
		},
		[]string{"target", "action"},
	)

	passesInflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pdfbatcher",
			Name:      "passes_inflight",
			Help:      "Passes holding a worker slot, by mode",
		},
		[]string{"mode"},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pdfbatcher",
			Name:      "queue_depth",
			Help:      "Queue depth gauges for stream, delayed and dlq",
		},
		[]string{"type"},
	)
)

// Init registers collectors.
func Init() {
	prometheus.MustRegister(pagesCompared, differenceScore, batchesWritten, passes, passDuration, cleanupWarnings, retriesTotal, breakerEvents, passesInflight, queueDepth)
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

// WriteTextfile dumps the default registry in the node_exporter textfile format.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}

func ObservePage(score float64, match bool) {
	pagesCompared.WithLabelValues(boolToStr(match)).Inc()
	differenceScore.Observe(score)
}

func IncBatch(ok bool) {
	if ok {
		batchesWritten.WithLabelValues("written").Inc()
		return
	}
	batchesWritten.WithLabelValues("failed").Inc()
}

func ObservePass(mode, result string, dur time.Duration) {
	passes.WithLabelValues(mode, result).Inc()
	passDuration.WithLabelValues(mode).Observe(dur.Seconds())
}

func IncCleanupWarning() { cleanupWarnings.Inc() }
func IncRetry()          { retriesTotal.Inc() }

func BreakerOpened(target string) { breakerEvents.WithLabelValues(target, "opened").Inc() }
func BreakerClosed(target string) { breakerEvents.WithLabelValues(target, "closed").Inc() }

func SetQueueDepth(kind string, v int64) { queueDepth.WithLabelValues(kind).Set(float64(v)) }
func SetInflight(mode string, n int)    { passesInflight.WithLabelValues(mode).Set(float64(n)) }

func boolToStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
