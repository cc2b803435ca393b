// Package monitoring exposes pipeline health as prometheus metrics and runs
// the background sweep of expired store state.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all pipeline collectors on a dedicated registry so the
// serve command can expose exactly this set and nothing else.
type Metrics struct {
	registry *prometheus.Registry

	fetchTotal    *prometheus.CounterVec
	fetchErrors   *prometheus.CounterVec
	mentionsSeen  *prometheus.GaugeVec
	lastSuccessTS *prometheus.GaugeVec

	cycleDuration prometheus.Histogram
	cyclesTotal   *prometheus.CounterVec
	queuedTotal   prometheus.Counter
}

// New registers all pipeline collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.fetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mentions",
		Name:      "source_fetches_total",
		Help:      "Completed fetch attempts per source adapter",
	}, []string{"source"})
	m.fetchErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mentions",
		Name:      "source_fetch_errors_total",
		Help:      "Failed fetches per source adapter",
	}, []string{"source"})
	m.mentionsSeen = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mentions",
		Name:      "source_mentions_last_fetch",
		Help:      "Mentions returned by the most recent fetch per source adapter",
	}, []string{"source"})
	m.lastSuccessTS = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mentions",
		Name:      "source_last_success_timestamp_seconds",
		Help:      "Unix time of the last successful fetch per source adapter",
	}, []string{"source"})

	m.cycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mentions",
		Name:      "cycle_duration_seconds",
		Help:      "End-to-end ingestion cycle duration",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})
	m.cyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mentions",
		Name:      "cycles_total",
		Help:      "Ingestion cycles by outcome",
	}, []string{"outcome"})
	m.queuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mentions",
		Name:      "queued_mentions_total",
		Help:      "Mentions distributed onto brand queues",
	})

	m.registry.MustRegister(
		m.fetchTotal, m.fetchErrors, m.mentionsSeen, m.lastSuccessTS,
		m.cycleDuration, m.cyclesTotal, m.queuedTotal,
	)
	return m
}

// Registry returns the dedicated registry for the metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveFetch records one adapter fetch. A healthy adapter moves its
// last-success timestamp even when it returns zero mentions, which is what
// separates a quiet source from a silently broken one.
func (m *Metrics) ObserveFetch(source string, mentions int, err error) {
	m.fetchTotal.WithLabelValues(source).Inc()
	if err != nil {
		m.fetchErrors.WithLabelValues(source).Inc()
		return
	}
	m.mentionsSeen.WithLabelValues(source).Set(float64(mentions))
	m.lastSuccessTS.WithLabelValues(source).Set(float64(time.Now().Unix()))
}

// ObserveCycle records one completed ingestion cycle.
func (m *Metrics) ObserveCycle(d time.Duration, err error) {
	m.cycleDuration.Observe(d.Seconds())
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.cyclesTotal.WithLabelValues(outcome).Inc()
}

// ObserveQueued records mentions distributed onto a brand queue.
func (m *Metrics) ObserveQueued(n int) {
	m.queuedTotal.Add(float64(n))
}
