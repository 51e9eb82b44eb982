// Package classifier scores reliability events against static and adaptive
// per-component baselines and buckets them into severity classifications.
//
// Classification determines downstream eligibility for policy firing; it
// never selects actions itself. Baselines are updated exponentially on every
// processed event under a per-component shard lock, and corrupt baseline
// state degrades to static thresholds rather than failing the event.
package classifier

import (
	"hash/fnv"
	"math"
	"sync"

	"github.com/fyrsmithlabs/remedyd/internal/config"
	"github.com/fyrsmithlabs/remedyd/internal/event"
	"go.uber.org/zap"
)

// Classification buckets an anomaly score.
type Classification string

const (
	Normal    Classification = "NORMAL"
	Degrading Classification = "DEGRADING"
	Critical  Classification = "CRITICAL"
	Systemic  Classification = "SYSTEMIC"
)

// Score bucket boundaries.
const (
	degradingThreshold = 0.3
	criticalThreshold  = 0.6
	systemicThreshold  = 0.85
)

// Eligible reports whether this classification permits policy evaluation.
func (c Classification) Eligible() bool {
	return c != Normal
}

// AtLeast reports whether c is at or above the given classification.
func (c Classification) AtLeast(min Classification) bool {
	return rank(c) >= rank(min)
}

func rank(c Classification) int {
	switch c {
	case Degrading:
		return 1
	case Critical:
		return 2
	case Systemic:
		return 3
	default:
		return 0
	}
}

// Result is the outcome of classifying one event.
type Result struct {
	// Score is the combined anomaly score in [0,1].
	Score float64
	// Class is the score bucket.
	Class Classification
	// MetricScores holds the per-metric deviation contributions.
	MetricScores map[string]float64
	// BaselineUsed is false when the component had no usable baseline and
	// static thresholds applied.
	BaselineUsed bool
}

const shardCount = 16

// baseline is the adaptive per-component state. Guarded by its shard lock.
type baseline struct {
	latency   float64
	errorRate float64
	samples   int
}

type shard struct {
	mu        sync.Mutex
	baselines map[string]*baseline
}

// Classifier scores events. Safe for concurrent use; per-component state is
// partitioned across shards so unrelated components never contend.
type Classifier struct {
	cfg    config.ClassifierConfig
	logger *zap.Logger
	shards [shardCount]*shard
}

// New creates a classifier with the given thresholds and weights.
func New(cfg config.ClassifierConfig, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Classifier{cfg: cfg, logger: logger}
	for i := range c.shards {
		c.shards[i] = &shard{baselines: make(map[string]*baseline)}
	}
	return c
}

func (c *Classifier) shardFor(component string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(component))
	return c.shards[h.Sum32()%shardCount]
}

// Classify scores the event and updates the component baseline. The
// baseline read, score and update happen under one shard lock so concurrent
// events for the same component cannot interleave partial updates.
func (c *Classifier) Classify(ev *event.Event) Result {
	s := c.shardFor(ev.Component)
	s.mu.Lock()
	defer s.mu.Unlock()

	latWarn := c.cfg.LatencyWarningMs
	errWarn := c.cfg.ErrorRateWarning
	baselineUsed := false

	b := s.baselines[ev.Component]
	if b != nil {
		if baselineCorrupt(b) {
			// ClassificationError path: reset and fall back to static
			// thresholds for this event.
			c.logger.Warn("corrupt baseline, falling back to static thresholds",
				zap.String("component", ev.Component),
				zap.Float64("latency", b.latency),
				zap.Float64("error_rate", b.errorRate),
			)
			metricBaselineResets.Inc()
			delete(s.baselines, ev.Component)
			b = nil
		} else if b.samples >= minBaselineSamples {
			// A healthy baseline can only raise the warning floor, never
			// lower it below the static configuration.
			latWarn = math.Max(latWarn, b.latency*1.25)
			errWarn = math.Max(errWarn, b.errorRate*2)
			baselineUsed = true
		}
	}

	res := c.score(ev, latWarn, errWarn)
	res.BaselineUsed = baselineUsed

	c.updateBaseline(s, ev)

	metricClassifications.WithLabelValues(string(res.Class)).Inc()
	return res
}

// minBaselineSamples is how many observations a component needs before its
// adaptive baseline participates in scoring.
const minBaselineSamples = 5

// score computes the weighted anomaly score against the given thresholds.
func (c *Classifier) score(ev *event.Event, latWarn, errWarn float64) Result {
	scores := make(map[string]float64, 4)

	var latDev float64
	if ev.LatencyP99 > latWarn && latWarn > 0 {
		latDev = clamp01((ev.LatencyP99 - latWarn) / (1.5 * latWarn))
	}
	scores[event.MetricLatencyP99] = latDev

	var errDev float64
	if ev.ErrorRate > errWarn && errWarn > 0 {
		errDev = clamp01(ev.ErrorRate / (3 * errWarn))
	}
	scores[event.MetricErrorRate] = errDev

	var resDev float64
	if ev.HasCPUUtil && ev.CPUUtil > c.cfg.CPUWarning {
		resDev = clamp01((ev.CPUUtil - c.cfg.CPUWarning) / (1 - c.cfg.CPUWarning))
		scores[event.MetricCPUUtil] = resDev
	}
	if ev.HasMemoryUtil && ev.MemoryUtil > c.cfg.MemoryWarning {
		memDev := clamp01((ev.MemoryUtil - c.cfg.MemoryWarning) / (1 - c.cfg.MemoryWarning))
		scores[event.MetricMemoryUtil] = memDev
		resDev = math.Max(resDev, memDev)
	}

	total := clamp01(c.cfg.LatencyWeight*latDev + c.cfg.ErrorRateWeight*errDev + c.cfg.ResourceWeight*resDev)

	return Result{
		Score:        total,
		Class:        bucket(total),
		MetricScores: scores,
	}
}

// updateBaseline blends the event into the component baseline. Caller holds
// the shard lock.
func (c *Classifier) updateBaseline(s *shard, ev *event.Event) {
	alpha := c.cfg.BaselineAlpha
	b := s.baselines[ev.Component]
	if b == nil {
		s.baselines[ev.Component] = &baseline{
			latency:   ev.LatencyP99,
			errorRate: ev.ErrorRate,
			samples:   1,
		}
		return
	}
	b.latency = alpha*ev.LatencyP99 + (1-alpha)*b.latency
	b.errorRate = alpha*ev.ErrorRate + (1-alpha)*b.errorRate
	b.samples++
}

func baselineCorrupt(b *baseline) bool {
	return math.IsNaN(b.latency) || math.IsInf(b.latency, 0) || b.latency < 0 ||
		math.IsNaN(b.errorRate) || math.IsInf(b.errorRate, 0) || b.errorRate < 0 || b.errorRate > 1
}

func bucket(score float64) Classification {
	switch {
	case score >= systemicThreshold:
		return Systemic
	case score >= criticalThreshold:
		return Critical
	case score >= degradingThreshold:
		return Degrading
	default:
		return Normal
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
