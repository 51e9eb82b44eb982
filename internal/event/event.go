// Package event defines the canonical reliability event and its validation.
//
// Raw telemetry records are normalized into immutable Events with a
// deterministic fingerprint. Invalid records are logged and dropped; they
// never reach the classifier or any stateful component downstream.
package event

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Severity indicates the reported severity of a reliability event.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Metric names accepted in policy conditions and classifier baselines.
const (
	MetricLatencyP99 = "latency_p99"
	MetricErrorRate  = "error_rate"
	MetricThroughput = "throughput"
	MetricCPUUtil    = "cpu_util"
	MetricMemoryUtil = "memory_util"
)

// Raw is the ingestion contract: an unvalidated telemetry record as supplied
// by the external collector.
type Raw struct {
	Component  string   `json:"component" validate:"required,max=64,component"`
	LatencyP99 float64  `json:"latency_p99" validate:"gte=0"`
	ErrorRate  float64  `json:"error_rate" validate:"gte=0,lte=1"`
	Throughput float64  `json:"throughput" validate:"gte=0"`
	CPUUtil    *float64 `json:"cpu_util,omitempty" validate:"omitempty,gte=0,lte=1"`
	MemoryUtil *float64 `json:"memory_util,omitempty" validate:"omitempty,gte=0,lte=1"`
	Severity   string   `json:"severity,omitempty" validate:"omitempty,oneof=low medium high critical"`
}

// Event is a validated, canonical reliability event. Immutable once created.
type Event struct {
	Component  string    `json:"component"`
	Timestamp  time.Time `json:"timestamp"`
	LatencyP99 float64   `json:"latency_p99"`
	ErrorRate  float64   `json:"error_rate"`
	Throughput float64   `json:"throughput"`

	CPUUtil       float64 `json:"cpu_util"`
	HasCPUUtil    bool    `json:"has_cpu_util"`
	MemoryUtil    float64 `json:"memory_util"`
	HasMemoryUtil bool    `json:"has_memory_util"`

	Severity Severity `json:"severity"`

	// Fingerprint is a sha256 hash over the canonical field encoding.
	// Events with identical canonical fields share a fingerprint, which is
	// what deduplication and intent idempotency key on. The timestamp is
	// deliberately excluded.
	Fingerprint string `json:"fingerprint"`
}

// Metric returns the named metric value. The second return is false when the
// metric name is unknown or the optional metric was not reported.
func (e *Event) Metric(name string) (float64, bool) {
	switch name {
	case MetricLatencyP99:
		return e.LatencyP99, true
	case MetricErrorRate:
		return e.ErrorRate, true
	case MetricThroughput:
		return e.Throughput, true
	case MetricCPUUtil:
		return e.CPUUtil, e.HasCPUUtil
	case MetricMemoryUtil:
		return e.MemoryUtil, e.HasMemoryUtil
	default:
		return 0, false
	}
}

// EmbeddingText renders the event for text-based embedding providers.
func (e *Event) EmbeddingText() string {
	return fmt.Sprintf("%s latency %.0fms error %.3f throughput %.0f cpu %.2f memory %.2f",
		e.Component, e.LatencyP99, e.ErrorRate, e.Throughput, e.CPUUtil, e.MemoryUtil)
}

// fingerprint computes the deterministic event fingerprint.
func fingerprint(e *Event) string {
	canonical := fmt.Sprintf("%s|%.6f|%.6f|%.6f|%.6f|%t|%.6f|%t|%s",
		e.Component,
		e.LatencyP99,
		e.ErrorRate,
		e.Throughput,
		e.CPUUtil, e.HasCPUUtil,
		e.MemoryUtil, e.HasMemoryUtil,
		e.Severity,
	)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
