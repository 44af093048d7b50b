package observability

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// Reconciliation metrics
	ReconciliationsTotal   *prometheus.CounterVec
	ReconciliationDuration *prometheus.HistogramVec

	// Remote operation metrics
	RemoteOperationsTotal   *prometheus.CounterVec
	RemoteOperationDuration *prometheus.HistogramVec
	RemoteOperationsSkipped *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "repo_provisioner"
	}

	return &Metrics{
		ReconciliationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconciliations_total",
				Help:      "Total number of repository reconciliations by outcome",
			},
			[]string{"outcome"},
		),
		ReconciliationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reconciliation_duration_seconds",
				Help:      "Time taken for a full repository reconciliation",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"outcome"},
		),
		RemoteOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_operations_total",
				Help:      "Total number of registry operations by result",
			},
			[]string{"operation", "status"},
		),
		RemoteOperationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "remote_operation_duration_seconds",
				Help:      "Latency of registry operations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		RemoteOperationsSkipped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_operations_skipped_total",
				Help:      "Registry writes skipped because the current state already matched",
			},
			[]string{"operation"},
		),
	}
}

// RecordReconciliation records a finished reconciliation
func (m *Metrics) RecordReconciliation(outcome string, seconds float64) {
	m.ReconciliationsTotal.WithLabelValues(outcome).Inc()
	m.ReconciliationDuration.WithLabelValues(outcome).Observe(seconds)
}

// RecordRemoteOperation records a single registry call
func (m *Metrics) RecordRemoteOperation(operation, status string, seconds float64) {
	m.RemoteOperationsTotal.WithLabelValues(operation, status).Inc()
	m.RemoteOperationDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordSkippedOperation records a write that was not needed
func (m *Metrics) RecordSkippedOperation(operation string) {
	m.RemoteOperationsSkipped.WithLabelValues(operation).Inc()
}

// PushConfig configures delivery of metrics to a Prometheus Pushgateway.
// Short-lived CI jobs cannot be scraped, so metrics are pushed at exit.
type PushConfig struct {
	URL      string
	Job      string
	Grouping map[string]string
}

// Push sends the default registry's metrics to the configured Pushgateway
func Push(ctx context.Context, cfg PushConfig) error {
	if cfg.URL == "" {
		return nil
	}
	job := cfg.Job
	if job == "" {
		job = "repo_provisioner"
	}

	pusher := push.New(cfg.URL, job).Gatherer(prometheus.DefaultGatherer)
	for k, v := range cfg.Grouping {
		pusher = pusher.Grouping(k, v)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", cfg.URL, err)
	}
	return nil
}
