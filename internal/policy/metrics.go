package policy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// metricFired counts policy firings.
	metricFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remedyd",
			Subsystem: "policy",
			Name:      "fired_total",
			Help:      "Total number of policy firings",
		},
		[]string{"policy"},
	)

	// metricSuppressed counts matches suppressed by cooldown or rate limit.
	metricSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remedyd",
			Subsystem: "policy",
			Name:      "suppressed_total",
			Help:      "Total number of policy matches suppressed by cooldown or rate limit",
		},
		[]string{"policy", "reason"},
	)

	// metricMalformed counts policy specs rejected at load.
	metricMalformed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "remedyd",
			Subsystem: "policy",
			Name:      "malformed_total",
			Help:      "Total number of malformed policy specs skipped at load",
		},
	)
)
