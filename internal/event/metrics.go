package event

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// metricValidationAccepted counts events that passed validation.
	metricValidationAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "remedyd",
			Subsystem: "event",
			Name:      "validation_accepted_total",
			Help:      "Total number of telemetry records accepted by validation",
		},
	)

	// metricValidationFailures counts rejected records by offending field.
	metricValidationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remedyd",
			Subsystem: "event",
			Name:      "validation_failures_total",
			Help:      "Total number of telemetry records rejected by validation",
		},
		[]string{"field"},
	)
)
