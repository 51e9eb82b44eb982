package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fyrsmithlabs/remedyd/internal/event"
)

// IncidentNode wraps a canonical event with its embedding and the outcomes
// recorded against it. Nodes are deduplicated by fingerprint: a repeated
// fingerprint resolves to the existing node rather than creating a new one.
type IncidentNode struct {
	// ID is derived from the event fingerprint, so identical events map to
	// the same node across restarts.
	ID          string         `json:"id"`
	Fingerprint string         `json:"fingerprint"`
	Event       *event.Event   `json:"event"`
	Embedding   []float32      `json:"-"`
	CreatedAt   time.Time      `json:"created_at"`
	Outcomes    []*OutcomeNode `json:"outcomes,omitempty"`
}

// OutcomeNode records one remediation attempt against an incident. Each
// outcome is owned by exactly one incident via a resolved-by edge.
type OutcomeNode struct {
	ID              string    `json:"id"`
	IncidentID      string    `json:"incident_id"`
	Actions         []string  `json:"actions"`
	Success         bool      `json:"success"`
	DurationMinutes float64   `json:"duration_minutes"`
	Lessons         string    `json:"lessons,omitempty"`
	RecordedAt      time.Time `json:"recorded_at"`
}

// RecallResult is one similarity match, ordered by ascending distance.
type RecallResult struct {
	Incident *IncidentNode `json:"incident"`
	Distance float32       `json:"distance"`
}

// ActionStats aggregates historical effectiveness of one action for a
// component.
type ActionStats struct {
	Action      string  `json:"action"`
	Attempts    int     `json:"attempts"`
	Successes   int     `json:"successes"`
	SuccessRate float64 `json:"success_rate"`
}

// outcomeBucket is the idempotency window for repeated outcome reports.
const outcomeBucket = 5 * time.Minute

// incidentID derives the deterministic node ID for a fingerprint.
func incidentID(fingerprint string) string {
	if len(fingerprint) > 16 {
		fingerprint = fingerprint[:16]
	}
	return "inc_" + fingerprint
}

// outcomeID derives a deterministic outcome ID so that identical reports for
// the same incident within one time bucket collapse to a single node.
func outcomeID(incID string, actions []string, at time.Time) string {
	sorted := make([]string, len(actions))
	copy(sorted, actions)
	sort.Strings(sorted)

	canonical := fmt.Sprintf("%s|%s|%d",
		incID,
		strings.Join(sorted, ","),
		at.UTC().Truncate(outcomeBucket).Unix(),
	)
	sum := sha256.Sum256([]byte(canonical))
	return "out_" + hex.EncodeToString(sum[:])[:16]
}

// clone returns a snapshot safe to hand to callers outside the memory lock.
func (n *IncidentNode) clone() *IncidentNode {
	outcomes := make([]*OutcomeNode, len(n.Outcomes))
	for i, o := range n.Outcomes {
		oc := *o
		outcomes[i] = &oc
	}
	c := *n
	c.Outcomes = outcomes
	return &c
}
