package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/config"
)

type captureExporter struct {
	mu      sync.Mutex
	records []ExecutionRecord
	fail    bool
}

func (e *captureExporter) Export(rec ExecutionRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail {
		return errors.New("exporter down")
	}
	e.records = append(e.records, rec)
	return nil
}

func (e *captureExporter) Close() error { return nil }

func record(intentID, tool, status string) ExecutionRecord {
	return ExecutionRecord{
		IntentID:         intentID,
		Tool:             tool,
		Component:        "api-service",
		Mode:             "advisory",
		ValidationPassed: true,
		Status:           status,
		SubmittedAt:      time.Now().UTC(),
	}
}

func TestAppendAssignsMonotonicSequence(t *testing.T) {
	exp := &captureExporter{}
	trail := NewTrail(exp, zap.NewNop())

	first := trail.Append(record("intent_a", "restart_container", "advisory_only"))
	second := trail.Append(record("intent_b", "rollback", "denied"))

	assert.Equal(t, uint64(1), first.Sequence)
	assert.Equal(t, uint64(2), second.Sequence)
	assert.NotEmpty(t, first.RecordID)
	assert.NotEqual(t, first.RecordID, second.RecordID)
	assert.Len(t, exp.records, 2)
}

func TestAppendConcurrentSequencesAreUnique(t *testing.T) {
	trail := NewTrail(NopExporter{}, zap.NewNop())

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			trail.Append(record("intent_x", "alert_team", "advisory_only"))
		}()
	}
	wg.Wait()

	records := trail.Records()
	require.Len(t, records, n)
	seen := make(map[uint64]struct{}, n)
	for _, r := range records {
		_, dup := seen[r.Sequence]
		require.False(t, dup, "sequence %d assigned twice", r.Sequence)
		seen[r.Sequence] = struct{}{}
	}
}

func TestAppendSurvivesExportFailure(t *testing.T) {
	exp := &captureExporter{fail: true}
	trail := NewTrail(exp, zap.NewNop())

	trail.Append(record("intent_a", "restart_container", "completed"))
	assert.Equal(t, 1, trail.Len())
}

func TestRecordsReturnsSnapshot(t *testing.T) {
	trail := NewTrail(NopExporter{}, zap.NewNop())
	trail.Append(record("intent_a", "restart_container", "completed"))

	records := trail.Records()
	records[0].Status = "mutated"

	assert.Equal(t, "completed", trail.Records()[0].Status)
}

func TestJSONLExporterWritesLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	exp, err := NewJSONLExporter(path)
	require.NoError(t, err)

	trail := NewTrail(exp, zap.NewNop())
	trail.Append(record("intent_a", "restart_container", "completed"))
	trail.Append(record("intent_b", "rollback", "failed"))
	require.NoError(t, trail.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec ExecutionRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		lines++
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, 2, lines)
}

func TestNewExporterSelection(t *testing.T) {
	exp, err := NewExporter(config.AuditConfig{Exporter: "none"}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, NopExporter{}, exp)

	_, err = NewExporter(config.AuditConfig{Exporter: "jsonl"}, zap.NewNop())
	require.Error(t, err, "jsonl without path")

	_, err = NewExporter(config.AuditConfig{Exporter: "bogus"}, zap.NewNop())
	require.Error(t, err)
}

func TestAppendScrubsCredentials(t *testing.T) {
	exp := &captureExporter{}
	trail := NewTrail(exp, zap.NewNop())

	rec := record("intent_a", "restart_container", "completed")
	rec.Justification = "restart with Bearer eyJhbGciOiJIUzI1NiIsInR5cCJ9 attached"
	stored := trail.Append(rec)

	assert.NotContains(t, stored.Justification, "eyJhbGci")
	assert.Contains(t, stored.Justification, "[REDACTED:bearer-token]")

	require.Len(t, exp.records, 1)
	assert.NotContains(t, exp.records[0].Justification, "eyJhbGci")
}

func TestWithoutScrubbingPreservesContent(t *testing.T) {
	trail := NewTrail(&captureExporter{}, zap.NewNop(), WithoutScrubbing())

	rec := record("intent_a", "restart_container", "completed")
	rec.Justification = "restart with password=s3cretvalue"
	stored := trail.Append(rec)

	assert.Equal(t, "restart with password=s3cretvalue", stored.Justification)
}
