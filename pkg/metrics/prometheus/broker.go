// Package prometheus implements the metrics interfaces on
// prometheus/client_golang.
package prometheus

import (
	"time"

	"github.com/marmos91/immutabled/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "immutabled"

// brokerMetrics is the Prometheus implementation of metrics.BrokerMetrics.
type brokerMetrics struct {
	requestsTotal          *prometheus.CounterVec
	requestDuration        *prometheus.HistogramVec
	requestsInFlight       *prometheus.GaugeVec
	payloadBytes           prometheus.Histogram
	authFailures           *prometheus.CounterVec
	retentionRefusals      prometheus.Counter
	labelFailures          prometheus.Counter
	ledgerOperations       *prometheus.CounterVec
	ledgerDuration         *prometheus.HistogramVec
	archiveUploads         *prometheus.CounterVec
	archiveDuration        prometheus.Histogram
	archiveBytes           prometheus.Counter
	activeConnections      prometheus.Gauge
	connectionsAccepted    prometheus.Counter
	connectionsClosed      prometheus.Counter
	connectionsForceClosed prometheus.Counter
}

// NewBrokerMetrics creates a Prometheus-backed BrokerMetrics on the global
// registry.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewBrokerMetrics() metrics.BrokerMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopBrokerMetrics()
	}
	return NewBrokerMetricsWith(metrics.GetRegistry())
}

// NewBrokerMetricsWith registers the broker metrics on reg.
func NewBrokerMetricsWith(reg prometheus.Registerer) metrics.BrokerMetrics {
	f := promauto.With(reg)

	return &brokerMetrics{
		requestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of requests by command and outcome",
			},
			[]string{"command", "status", "kind"},
		),
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Duration of requests in seconds",
				Buckets: []float64{
					0.001, // 1ms
					0.005, // 5ms
					0.01,  // 10ms
					0.05,  // 50ms
					0.1,   // 100ms
					0.5,   // 500ms
					1,     // 1s
					5,     // 5s
					30,    // 30s
				},
			},
			[]string{"command"},
		),
		requestsInFlight: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "requests_in_flight",
				Help:      "Current number of requests being processed",
			},
			[]string{"command"},
		),
		payloadBytes: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "write_payload_bytes",
				Help:      "Distribution of write payload sizes",
				Buckets: []float64{
					1024,     // 1KB
					65536,    // 64KB
					1048576,  // 1MB
					10485760, // 10MB
					67108864, // 64MB
				},
			},
		),
		authFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_failures_total",
				Help:      "Total number of rejected requests by reason",
			},
			[]string{"reason"},
		),
		retentionRefusals: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retention_refusals_total",
				Help:      "Total number of deletes refused by an active retention window",
			},
		),
		labelFailures: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "label_failures_total",
				Help:      "Total number of failed immutability labels",
			},
		),
		ledgerOperations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_operations_total",
				Help:      "Total number of ledger operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		ledgerDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ledger_operation_duration_seconds",
				Help:      "Duration of ledger operations in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 8),
			},
			[]string{"operation"},
		),
		archiveUploads: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archive_uploads_total",
				Help:      "Total number of ledger snapshot uploads by status",
			},
			[]string{"status"},
		),
		archiveDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "archive_upload_duration_seconds",
				Help:      "Duration of ledger snapshot uploads in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		archiveBytes: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archive_bytes_total",
				Help:      "Total bytes of ledger snapshots uploaded",
			},
		),
		activeConnections: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_connections",
				Help:      "Current number of active connections",
			},
		),
		connectionsAccepted: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_accepted_total",
				Help:      "Total number of connections accepted",
			},
		),
		connectionsClosed: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_closed_total",
				Help:      "Total number of connections closed",
			},
		),
		connectionsForceClosed: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_force_closed_total",
				Help:      "Total number of connections force-closed during shutdown timeout",
			},
		),
	}
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (m *brokerMetrics) RecordRequest(command string, duration time.Duration, kind string) {
	status := "success"
	if kind != "" {
		status = "error"
	}
	m.requestsTotal.WithLabelValues(command, status, kind).Inc()
	m.requestDuration.WithLabelValues(command).Observe(duration.Seconds())
}

func (m *brokerMetrics) RecordRequestStart(command string) {
	m.requestsInFlight.WithLabelValues(command).Inc()
}

func (m *brokerMetrics) RecordRequestEnd(command string) {
	m.requestsInFlight.WithLabelValues(command).Dec()
}

func (m *brokerMetrics) RecordPayloadBytes(bytes uint64) {
	m.payloadBytes.Observe(float64(bytes))
}

func (m *brokerMetrics) RecordAuthFailure(reason string) {
	m.authFailures.WithLabelValues(reason).Inc()
}

func (m *brokerMetrics) RecordRetentionRefusal() {
	m.retentionRefusals.Inc()
}

func (m *brokerMetrics) RecordLabelFailure() {
	m.labelFailures.Inc()
}

func (m *brokerMetrics) RecordLedgerOperation(operation string, duration time.Duration, err error) {
	m.ledgerOperations.WithLabelValues(operation, statusOf(err)).Inc()
	m.ledgerDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *brokerMetrics) RecordArchiveUpload(duration time.Duration, bytes int64, err error) {
	m.archiveUploads.WithLabelValues(statusOf(err)).Inc()
	m.archiveDuration.Observe(duration.Seconds())
	if err == nil {
		m.archiveBytes.Add(float64(bytes))
	}
}

func (m *brokerMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

func (m *brokerMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *brokerMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

func (m *brokerMetrics) RecordConnectionForceClosed() {
	m.connectionsForceClosed.Inc()
}
