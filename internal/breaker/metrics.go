package breaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// metricState reports breaker state (0=closed, 1=half-open, 2=open).
	metricState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "remedyd",
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"breaker"},
	)

	// metricTrips counts closed/half-open to open transitions.
	metricTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remedyd",
			Subsystem: "breaker",
			Name:      "trips_total",
			Help:      "Total number of circuit breaker trips to open",
		},
		[]string{"breaker"},
	)

	// metricRejected counts calls failed fast without invoking the resource.
	metricRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remedyd",
			Subsystem: "breaker",
			Name:      "rejected_total",
			Help:      "Total number of calls rejected while the breaker was open",
		},
		[]string{"breaker"},
	)
)
