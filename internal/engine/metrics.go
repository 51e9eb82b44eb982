package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// metricEvents counts fully processed events by status.
	metricEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remedyd",
			Subsystem: "engine",
			Name:      "events_total",
			Help:      "Total number of processed events by pipeline status",
		},
		[]string{"status"},
	)

	// metricRateLimited counts events rejected before validation.
	metricRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "remedyd",
			Subsystem: "engine",
			Name:      "rate_limited_total",
			Help:      "Total number of events rejected by the intake rate limit",
		},
	)

	// metricRecallDegraded counts recalls degraded to empty context.
	metricRecallDegraded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "remedyd",
			Subsystem: "engine",
			Name:      "recall_degraded_total",
			Help:      "Total number of recalls degraded to no historical context",
		},
	)

	// metricIntents counts healing intents emitted.
	metricIntents = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "remedyd",
			Subsystem: "engine",
			Name:      "intents_total",
			Help:      "Total number of healing intents emitted",
		},
	)

	// metricOutcomes counts recorded remediation outcomes.
	metricOutcomes = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "remedyd",
			Subsystem: "engine",
			Name:      "outcomes_recorded_total",
			Help:      "Total number of remediation outcomes recorded",
		},
	)

	// metricOutcomeFailures counts isolated outcome-recording failures.
	metricOutcomeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "remedyd",
			Subsystem: "engine",
			Name:      "outcome_failures_total",
			Help:      "Total number of outcome recording failures (isolated)",
		},
	)
)
