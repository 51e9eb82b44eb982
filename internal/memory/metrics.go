package memory

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// metricIncidents counts incident nodes created (dedup hits excluded).
	metricIncidents = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "remedyd",
			Subsystem: "memory",
			Name:      "incidents_stored_total",
			Help:      "Total number of incident nodes created",
		},
	)

	// metricIncidentCount tracks the live incident node count.
	metricIncidentCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "remedyd",
			Subsystem: "memory",
			Name:      "incident_nodes",
			Help:      "Current number of incident nodes held in memory",
		},
	)

	// metricEvictions counts LRU evictions of incident nodes.
	metricEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "remedyd",
			Subsystem: "memory",
			Name:      "evictions_total",
			Help:      "Total number of incident nodes evicted",
		},
	)

	// metricOutcomes counts outcome nodes recorded (idempotent replays excluded).
	metricOutcomes = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "remedyd",
			Subsystem: "memory",
			Name:      "outcomes_stored_total",
			Help:      "Total number of outcome nodes recorded",
		},
	)

	// metricRecalls counts successful similarity recalls.
	metricRecalls = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "remedyd",
			Subsystem: "memory",
			Name:      "recalls_total",
			Help:      "Total number of similarity recall queries served",
		},
	)

	// metricUnavailable counts calls rejected by the open breaker.
	metricUnavailable = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "remedyd",
			Subsystem: "memory",
			Name:      "unavailable_total",
			Help:      "Total number of calls rejected while the memory breaker was open",
		},
	)
)
