package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// metricRecords counts appended execution records by final status.
	metricRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remedyd",
			Subsystem: "audit",
			Name:      "records_total",
			Help:      "Total number of execution records appended to the trail",
		},
		[]string{"status"},
	)

	// metricExportFailures counts failed exports; the in-memory trail still
	// holds the record.
	metricExportFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "remedyd",
			Subsystem: "audit",
			Name:      "export_failures_total",
			Help:      "Total number of audit export failures",
		},
	)

	// metricRedactions counts secrets scrubbed from appended records.
	metricRedactions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "remedyd",
			Subsystem: "audit",
			Name:      "redactions_total",
			Help:      "Total number of secret redactions applied to audit records",
		},
	)
)
