package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// metricSubmissions counts submissions by requested mode and outcome.
	metricSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remedyd",
			Subsystem: "gateway",
			Name:      "submissions_total",
			Help:      "Total number of intent submissions by mode and status",
		},
		[]string{"mode", "status"},
	)

	// metricDenials counts validation denials by chain stage.
	metricDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remedyd",
			Subsystem: "gateway",
			Name:      "denials_total",
			Help:      "Total number of validation denials by stage",
		},
		[]string{"stage"},
	)

	// metricExecutions counts tool executions by outcome.
	metricExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remedyd",
			Subsystem: "gateway",
			Name:      "executions_total",
			Help:      "Total number of tool executions by outcome",
		},
		[]string{"tool", "outcome"},
	)

	// metricApprovals counts approval resolutions.
	metricApprovals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remedyd",
			Subsystem: "gateway",
			Name:      "approvals_total",
			Help:      "Total number of approval resolutions by kind",
		},
		[]string{"resolution"},
	)

	// metricPendingApprovals tracks unresolved approvals.
	metricPendingApprovals = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "remedyd",
			Subsystem: "gateway",
			Name:      "pending_approvals",
			Help:      "Current number of unresolved approval records",
		},
	)

	// metricDuplicates counts resubmissions of known intent IDs.
	metricDuplicates = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "remedyd",
			Subsystem: "gateway",
			Name:      "duplicate_submissions_total",
			Help:      "Total number of duplicate intent submissions acknowledged",
		},
	)
)
