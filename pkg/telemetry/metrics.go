// Package telemetry provides Prometheus metrics and the OpenTelemetry
// tracer bootstrap for the gateway.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the pipeline instruments. Everything is registered on a
// private Prometheus registry for the /metrics endpoint and mirrored onto
// OpenTelemetry instruments so deployments with an OTLP collector get the
// same series without scraping.
type Metrics struct {
	checksTotal     *prometheus.CounterVec
	checkDuration   *prometheus.HistogramVec
	cacheLookups    *prometheus.CounterVec
	cacheEntries    prometheus.Gauge
	scannerCalls    *prometheus.CounterVec
	scannerDuration *prometheus.HistogramVec
	breakerState    *prometheus.GaugeVec

	otelChecks        metric.Int64Counter
	otelCheckDuration metric.Float64Histogram
	otelScannerCalls  metric.Int64Counter

	registry *prometheus.Registry
}

// NewMetrics creates a metrics instance with a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		checksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardgate_checks_total",
				Help: "Total security checks by content type and outcome",
			},
			[]string{"content_type", "outcome"},
		),
		checkDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "guardgate_check_duration_seconds",
				Help:    "Security check latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"content_type"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardgate_cache_lookups_total",
				Help: "Cache lookups by result (hit, miss, bypass)",
			},
			[]string{"result"},
		),
		cacheEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "guardgate_cache_entries",
				Help: "Current number of cached pipeline results",
			},
		),
		scannerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guardgate_scanner_calls_total",
				Help: "Scanner invocations by scanner and status (ok, failed, skipped, timeout)",
			},
			[]string{"scanner", "status"},
		),
		scannerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "guardgate_scanner_duration_seconds",
				Help:    "Per-scanner evaluation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"scanner"},
		),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "guardgate_breaker_state",
				Help: "Circuit breaker state per scanner (0=closed, 1=half-open, 2=open)",
			},
			[]string{"scanner"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.checksTotal,
		m.checkDuration,
		m.cacheLookups,
		m.cacheEntries,
		m.scannerCalls,
		m.scannerDuration,
		m.breakerState,
	)

	meter := otel.Meter("guardgate")
	m.otelChecks, _ = meter.Int64Counter("guardgate.checks",
		metric.WithDescription("Total security checks by content type and outcome"))
	m.otelCheckDuration, _ = meter.Float64Histogram("guardgate.check.duration",
		metric.WithDescription("Security check latency"),
		metric.WithUnit("s"))
	m.otelScannerCalls, _ = meter.Int64Counter("guardgate.scanner.calls",
		metric.WithDescription("Scanner invocations by scanner and status"))

	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCheck records one completed security check.
func (m *Metrics) RecordCheck(contentType, outcome string, duration time.Duration) {
	m.checksTotal.WithLabelValues(contentType, outcome).Inc()
	m.checkDuration.WithLabelValues(contentType).Observe(duration.Seconds())

	attrs := metric.WithAttributes(
		attribute.String("content_type", contentType),
		attribute.String("outcome", outcome),
	)
	m.otelChecks.Add(context.Background(), 1, attrs)
	m.otelCheckDuration.Record(context.Background(), duration.Seconds(),
		metric.WithAttributes(attribute.String("content_type", contentType)))
}

// RecordCacheLookup records a cache lookup result.
func (m *Metrics) RecordCacheLookup(result string) {
	m.cacheLookups.WithLabelValues(result).Inc()
}

// SetCacheEntries updates the cached entry gauge.
func (m *Metrics) SetCacheEntries(n int) {
	m.cacheEntries.Set(float64(n))
}

// RecordScannerCall records one scanner invocation.
func (m *Metrics) RecordScannerCall(scannerID, status string, duration time.Duration) {
	m.scannerCalls.WithLabelValues(scannerID, status).Inc()
	if duration > 0 {
		m.scannerDuration.WithLabelValues(scannerID).Observe(duration.Seconds())
	}
	m.otelScannerCalls.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("scanner", scannerID),
		attribute.String("status", status),
	))
}

// SetBreakerState updates the breaker state gauge for a scanner.
func (m *Metrics) SetBreakerState(scannerID string, state string) {
	var v float64
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	m.breakerState.WithLabelValues(scannerID).Set(v)
}
