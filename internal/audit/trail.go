// Package audit keeps the append-only trail of safety gateway decisions and
// exports it for compliance consumers.
package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/secrets"
)

// ExecutionRecord is one gateway decision. Records are immutable once
// appended and carry a per-trail monotonic sequence for replay.
type ExecutionRecord struct {
	Sequence uint64 `json:"sequence"`
	RecordID string `json:"record_id"`

	IntentID      string `json:"intent_id"`
	Tool          string `json:"tool"`
	Component     string `json:"component"`
	Mode          string `json:"mode"`
	Justification string `json:"justification,omitempty"`

	ValidationPassed bool   `json:"validation_passed"`
	ValidationReason string `json:"validation_reason,omitempty"`

	Status      string    `json:"status"`
	Duplicate   bool      `json:"duplicate,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Trail is the append-only audit log. Appends are ordered by completion of
// validation; the sequence is monotonically increasing per trail instance.
type Trail struct {
	logger   *zap.Logger
	exporter Exporter

	mu      sync.Mutex
	seq     uint64
	records []ExecutionRecord

	scrubber *secrets.Scrubber
}

// NewTrail creates an audit trail. A nil exporter disables export. Records
// are scrubbed for credential material on append; pass WithoutScrubbing to
// opt out.
func NewTrail(exporter Exporter, logger *zap.Logger, opts ...TrailOption) *Trail {
	if logger == nil {
		logger = zap.NewNop()
	}
	if exporter == nil {
		exporter = NopExporter{}
	}
	t := &Trail{logger: logger, exporter: exporter, scrubber: secrets.New()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// TrailOption adjusts trail construction.
type TrailOption func(*Trail)

// WithoutScrubbing disables secret redaction on appended records.
func WithoutScrubbing() TrailOption {
	return func(t *Trail) { t.scrubber = nil }
}

// Append assigns the record's sequence and ID, stores it and exports it.
// An export failure is logged, never propagated; the in-memory trail is the
// source of truth.
func (t *Trail) Append(rec ExecutionRecord) ExecutionRecord {
	if t.scrubber != nil {
		var redactions int
		rec.Justification, redactions = t.scrubber.Scrub(rec.Justification)
		if reason, n := t.scrubber.Scrub(rec.ValidationReason); n > 0 {
			rec.ValidationReason = reason
			redactions += n
		}
		if redactions > 0 {
			metricRedactions.Add(float64(redactions))
		}
	}

	t.mu.Lock()
	t.seq++
	rec.Sequence = t.seq
	rec.RecordID = "audit_" + uuid.NewString()
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = time.Now().UTC()
	}
	t.records = append(t.records, rec)
	t.mu.Unlock()

	metricRecords.WithLabelValues(rec.Status).Inc()

	if err := t.exporter.Export(rec); err != nil {
		metricExportFailures.Inc()
		t.logger.Warn("audit export failed",
			zap.Uint64("sequence", rec.Sequence),
			zap.String("intent_id", rec.IntentID),
			zap.Error(err),
		)
	}
	return rec
}

// Records returns a snapshot of the trail in sequence order.
func (t *Trail) Records() []ExecutionRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ExecutionRecord, len(t.records))
	copy(out, t.records)
	return out
}

// Len reports the number of appended records.
func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Close flushes and closes the exporter.
func (t *Trail) Close() error {
	return t.exporter.Close()
}
