// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package metrics exposes extraction counters for Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pdiddy/claim-engine/pkg/types"
)

const namespace = "claim_engine"

// Batch outcomes.
const (
	BatchCommitted = "committed"
	BatchReplayed  = "replayed"
	BatchFailed    = "failed"
)

// ExtractionMetrics holds the collectors for the extraction pipeline and
// the model client. All record methods are safe on a nil receiver.
type ExtractionMetrics struct {
	registry *prometheus.Registry

	batchesTotal                *prometheus.CounterVec
	claimsCreatedTotal          prometheus.Counter
	referencesCreatedTotal      prometheus.Counter
	referencesDeduplicatedTotal prometheus.Counter
	anomaliesTotal              *prometheus.CounterVec
	failuresTotal               *prometheus.CounterVec
	modelRequestDuration        *prometheus.HistogramVec

	collectors []prometheus.Collector
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() (*ExtractionMetrics, error) {
	registry := prometheus.NewRegistry()
	m := &ExtractionMetrics{registry: registry}
	m.initMetrics()

	if err := registry.Register(m); err != nil {
		return nil, err
	}
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *ExtractionMetrics) initMetrics() {
	m.batchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Extraction batches by outcome",
		},
		[]string{"outcome"}, // committed, replayed, failed
	)
	m.claimsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "claims_created_total",
		Help:      "Claims written by committed batches",
	})
	m.referencesCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "references_created_total",
		Help:      "References inserted by committed batches",
	})
	m.referencesDeduplicatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "references_deduplicated_total",
		Help:      "Extracted references resolved to an existing row",
	})
	m.anomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_anomalies_total",
			Help:      "Soft schema repairs applied to model output",
		},
		[]string{"kind"},
	)
	m.failuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_failures_total",
			Help:      "Failed extraction batches by error kind",
		},
		[]string{"kind"},
	)
	m.modelRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_request_duration_seconds",
			Help:      "Duration of chat completion requests",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 12), // 250ms to ~8.5m
		},
		[]string{"outcome"},
	)

	m.collectors = []prometheus.Collector{
		m.batchesTotal,
		m.claimsCreatedTotal,
		m.referencesCreatedTotal,
		m.referencesDeduplicatedTotal,
		m.anomaliesTotal,
		m.failuresTotal,
		m.modelRequestDuration,
	}
}

// Describe implements prometheus.Collector.
func (m *ExtractionMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *ExtractionMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors {
		c.Collect(ch)
	}
}

// Registry returns the registry the collectors live on.
func (m *ExtractionMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *ExtractionMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordCommitted counts a committed batch and what it wrote.
func (m *ExtractionMetrics) RecordCommitted(claims, refsCreated, refsDeduplicated int) {
	if m == nil {
		return
	}
	m.batchesTotal.WithLabelValues(BatchCommitted).Inc()
	m.claimsCreatedTotal.Add(float64(claims))
	m.referencesCreatedTotal.Add(float64(refsCreated))
	m.referencesDeduplicatedTotal.Add(float64(refsDeduplicated))
}

// RecordReplayed counts a batch answered from a stored idempotent result.
func (m *ExtractionMetrics) RecordReplayed() {
	if m == nil {
		return
	}
	m.batchesTotal.WithLabelValues(BatchReplayed).Inc()
}

// RecordAnomalies adds a validated extraction's repair counts.
func (m *ExtractionMetrics) RecordAnomalies(a types.Anomalies) {
	if m == nil {
		return
	}
	m.anomaliesTotal.WithLabelValues("unknown_claim_type").Add(float64(a.UnknownClaimTypes))
	m.anomaliesTotal.WithLabelValues("dropped_reference_index").Add(float64(a.DroppedReferenceIndices))
	m.anomaliesTotal.WithLabelValues("invalid_doi").Add(float64(a.InvalidDOIs))
	m.anomaliesTotal.WithLabelValues("discarded_field").Add(float64(a.DiscardedFields))
}

// RecordFailure counts a failed batch under the kind of err.
func (m *ExtractionMetrics) RecordFailure(err error) {
	if m == nil || err == nil {
		return
	}
	m.batchesTotal.WithLabelValues(BatchFailed).Inc()
	m.failuresTotal.WithLabelValues(ErrorKind(err)).Inc()
}

// ObserveModelRequest records one completion request. Its signature
// matches llm.Observer.
func (m *ExtractionMetrics) ObserveModelRequest(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.modelRequestDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ErrorKind names the error class of err for labels and logs.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, types.ErrInvalidInput), errors.Is(err, types.ErrNotFound):
		return "invalid_input"
	case errors.Is(err, types.ErrModelUnavailable):
		return "model_unavailable"
	case errors.Is(err, types.ErrMalformedExtraction):
		return "malformed_extraction"
	case errors.Is(err, types.ErrPersistence):
		return "persistence"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "internal"
	}
}
