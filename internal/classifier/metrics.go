package classifier

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// metricClassifications counts events per classification bucket.
	metricClassifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remedyd",
			Subsystem: "classifier",
			Name:      "classifications_total",
			Help:      "Total number of classified events by bucket",
		},
		[]string{"class"},
	)

	// metricBaselineResets counts corrupt baselines discarded.
	metricBaselineResets = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "remedyd",
			Subsystem: "classifier",
			Name:      "baseline_resets_total",
			Help:      "Total number of corrupt component baselines reset",
		},
	)
)
