// Package metrics exposes prometheus instrumentation for the matching service.
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "invoicematch"

// Metrics holds the service collectors.
type Metrics struct {
	acquisitions   *prometheus.CounterVec
	retryAttempts  *prometheus.CounterVec
	extractionRuns *prometheus.CounterVec
	catalogLoads   *prometheus.CounterVec
	catalogSize    prometheus.Gauge
	exactSkips     *prometheus.CounterVec
	matches        *prometheus.CounterVec
	rankDuration   prometheus.Histogram
}

// New creates the collectors and registers them with registerer. A nil
// registerer uses prometheus.DefaultRegisterer.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		acquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_acquisitions_total",
			Help:      "Credential acquisitions by outcome.",
		}, []string{"outcome"}),
		retryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Failed attempts of the extraction call by classification.",
		}, []string{"class"}),
		extractionRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_runs_total",
			Help:      "Retry-wrapped extraction runs by final outcome.",
		}, []string{"outcome"}),
		catalogLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_loads_total",
			Help:      "Catalog snapshot loads by result.",
		}, []string{"result"}),
		catalogSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "catalog_entries",
			Help:      "Entries in the current catalog snapshot.",
		}),
		exactSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exact_lookup_skipped_total",
			Help:      "Line items for which the exact mapping lookup was not attempted, by reason.",
		}, []string{"reason"}),
		matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "line_item_matches_total",
			Help:      "Matched line items by confidence band.",
		}, []string{"confidence"}),
		rankDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rank_duration_seconds",
			Help:      "Time spent ranking one query against a snapshot.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
	registerer.MustRegister(
		m.acquisitions,
		m.retryAttempts,
		m.extractionRuns,
		m.catalogLoads,
		m.catalogSize,
		m.exactSkips,
		m.matches,
		m.rankDuration,
	)
	return m
}

func (m *Metrics) Acquisition(outcome string) {
	if m == nil {
		return
	}
	m.acquisitions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RetryAttempt(class string) {
	if m == nil {
		return
	}
	m.retryAttempts.WithLabelValues(class).Inc()
}

func (m *Metrics) ExtractionRun(outcome string) {
	if m == nil {
		return
	}
	m.extractionRuns.WithLabelValues(outcome).Inc()
}

// CatalogLoad records a load attempt. size is only applied on success.
func (m *Metrics) CatalogLoad(ok bool, size int) {
	if m == nil {
		return
	}
	if !ok {
		m.catalogLoads.WithLabelValues("error").Inc()
		return
	}
	m.catalogLoads.WithLabelValues("ok").Inc()
	m.catalogSize.Set(float64(size))
}

func (m *Metrics) ExactLookupSkipped(reason string) {
	if m == nil {
		return
	}
	m.exactSkips.WithLabelValues(reason).Inc()
}

func (m *Metrics) Match(confidence string) {
	if m == nil {
		return
	}
	m.matches.WithLabelValues(confidence).Inc()
}

func (m *Metrics) ObserveRank(seconds float64) {
	if m == nil {
		return
	}
	m.rankDuration.Observe(seconds)
}
