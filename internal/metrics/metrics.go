// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "arbscreener"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	quotesIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quotes",
			Name:      "ingested_total",
			Help:      "Quote updates accepted into a Quote Store.",
		},
		[]string{"market", "exchange"},
	)

	quotesRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quotes",
			Name:      "rejected_total",
			Help:      "Quote updates dropped before storage.",
		},
		[]string{"market", "exchange", "reason"},
	)

	quotesStored = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "quotes",
			Name:      "stored",
			Help:      "Quotes currently held per market.",
		},
		[]string{"market"},
	)

	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "duration_seconds",
			Help:      "Duration of a recomputation cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		},
	)

	cycleErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "errors_total",
			Help:      "Recomputation cycles that failed.",
		},
	)

	candidates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "book",
			Name:      "candidates",
			Help:      "Diff candidates computed in the last cycle.",
		},
		[]string{"book"},
	)

	activeOpportunities = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "book",
			Name:      "active_opportunities",
			Help:      "Active opportunities after the last cycle.",
		},
		[]string{"book"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "book",
			Name:      "transitions_total",
			Help:      "Opportunity open and close transitions.",
		},
		[]string{"book", "kind"},
	)

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path"},
	)

	archiveRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "runs_total",
			Help:      "History archive runs by result.",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		quotesIngested,
		quotesRejected,
		quotesStored,
		cycleDuration,
		cycleErrors,
		candidates,
		activeOpportunities,
		transitions,
		httpInFlight,
		httpRequests,
		httpDuration,
		archiveRuns,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// QuoteIngested counts an accepted quote.
func QuoteIngested(market, exchange string) {
	quotesIngested.WithLabelValues(market, exchange).Inc()
}

// QuoteRejected counts a dropped quote. reason is a short stable label such as
// "invalid_price".
func QuoteRejected(market, exchange, reason string) {
	quotesRejected.WithLabelValues(market, exchange, reason).Inc()
}

// QuotesStored sets the stored quote gauge of a market.
func QuotesStored(market string, n int) {
	quotesStored.WithLabelValues(market).Set(float64(n))
}

// RecordCycle records the duration and outcome of one recomputation cycle.
func RecordCycle(duration time.Duration, err error) {
	cycleDuration.Observe(duration.Seconds())
	if err != nil {
		cycleErrors.Inc()
	}
}

// RecordBook records the per-book results of one cycle.
func RecordBook(book string, cands, active, opened, closed int) {
	candidates.WithLabelValues(book).Set(float64(cands))
	activeOpportunities.WithLabelValues(book).Set(float64(active))
	transitions.WithLabelValues(book, "opened").Add(float64(opened))
	transitions.WithLabelValues(book, "closed").Add(float64(closed))
}

// RecordArchive counts an archive run.
func RecordArchive(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	archiveRuns.WithLabelValues(result).Inc()
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack implements http.Hijacker so that WebSocket upgrades work through
// the instrumentation.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("metrics: underlying ResponseWriter does not support hijacking")
	}
	return h.Hijack()
}

// canonicalPath keeps label cardinality bounded: only the first two segments
// of /api routes are kept.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] == "api" && len(parts) > 1 {
		return "/api/" + parts[1]
	}
	return "/" + parts[0]
}
