package embeddings

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/fyrsmithlabs/remedyd/internal/event"
)

// metricDimension is the fixed size of metric-projection vectors.
const metricDimension = 8

// MetricProvider projects the event's numeric metrics directly into a small
// vector. Identical events always produce identical vectors, so recall
// behaves deterministically without any model dependency.
type MetricProvider struct{}

// NewMetricProvider creates the deterministic metric-projection provider.
func NewMetricProvider() *MetricProvider {
	return &MetricProvider{}
}

// Dimension returns the fixed vector size.
func (p *MetricProvider) Dimension() int {
	return metricDimension
}

// Embed projects the event. Latency and throughput use a log scale so that
// large absolute values do not dominate the utilization fractions.
func (p *MetricProvider) Embed(_ context.Context, ev *event.Event) ([]float32, error) {
	vec := make([]float32, metricDimension)
	vec[0] = logScale(ev.LatencyP99, 10000)
	vec[1] = float32(ev.ErrorRate)
	vec[2] = logScale(ev.Throughput, 100000)
	vec[3] = float32(ev.CPUUtil)
	vec[4] = float32(ev.MemoryUtil)
	if ev.HasCPUUtil {
		vec[5] = 1
	}
	if ev.HasMemoryUtil {
		vec[6] = 1
	}
	vec[7] = componentFeature(ev.Component)
	return vec, nil
}

// Close implements Provider. Nothing to release.
func (p *MetricProvider) Close() error { return nil }

func logScale(v, max float64) float32 {
	if v <= 0 {
		return 0
	}
	scaled := math.Log1p(v) / math.Log1p(max)
	if scaled > 1 {
		scaled = 1
	}
	return float32(scaled)
}

// componentFeature maps the component name to a stable value in [0,1) so
// same-component incidents cluster in the embedding space.
func componentFeature(component string) float32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(component))
	return float32(h.Sum32()) / float32(math.MaxUint32)
}
