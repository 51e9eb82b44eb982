// Package intent defines the immutable healing intent, the declarative
// boundary between decision making and execution. An intent proposes a
// remediation; it never is one.
package intent

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// MaxJustificationLength bounds the human-readable reasoning text.
const MaxJustificationLength = 1000

var (
	// ErrInvalid marks a proposal that failed construction checks.
	ErrInvalid = errors.New("invalid healing intent")
)

// Risk is the coarse risk profile of the proposed action.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// Intent is an immutable remediation proposal. Its ID is derived from the
// triggering fingerprint plus the action, so repeated identical submissions
// produce the same intent and can be handled idempotently downstream.
type Intent struct {
	ID            string            `json:"intent_id"`
	Action        string            `json:"action"`
	Component     string            `json:"component"`
	Parameters    map[string]string `json:"parameters,omitempty"`
	Justification string            `json:"justification"`
	Confidence    float64           `json:"confidence"`
	Risk          Risk              `json:"risk"`

	// Fingerprint is the triggering event's fingerprint; IncidentID links
	// back to the incident-outcome memory when the event was stored.
	Fingerprint string `json:"fingerprint"`
	IncidentID  string `json:"incident_id,omitempty"`

	// PolicyName records which policy proposed the action.
	PolicyName string    `json:"policy_name,omitempty"`
	DetectedAt time.Time `json:"detected_at"`
}

// Spec carries the fields needed to build an Intent.
type Spec struct {
	Fingerprint   string
	Action        string
	Component     string
	Parameters    map[string]string
	Justification string
	Confidence    float64
	Risk          Risk
	IncidentID    string
	PolicyName    string
	DetectedAt    time.Time
}

// New builds an immutable intent from spec, validating required fields.
func New(spec Spec) (*Intent, error) {
	if spec.Fingerprint == "" {
		return nil, fmt.Errorf("%w: fingerprint is required", ErrInvalid)
	}
	if spec.Action == "" {
		return nil, fmt.Errorf("%w: action is required", ErrInvalid)
	}
	if spec.Component == "" {
		return nil, fmt.Errorf("%w: component is required", ErrInvalid)
	}
	if spec.Confidence < 0 || spec.Confidence > 1 {
		return nil, fmt.Errorf("%w: confidence must be in [0,1], got %g", ErrInvalid, spec.Confidence)
	}
	if len(spec.Justification) > MaxJustificationLength {
		return nil, fmt.Errorf("%w: justification exceeds %d characters", ErrInvalid, MaxJustificationLength)
	}
	switch spec.Risk {
	case "":
		spec.Risk = RiskMedium
	case RiskLow, RiskMedium, RiskHigh:
	default:
		return nil, fmt.Errorf("%w: unknown risk profile %q", ErrInvalid, spec.Risk)
	}
	if spec.DetectedAt.IsZero() {
		spec.DetectedAt = time.Now().UTC()
	}

	params := make(map[string]string, len(spec.Parameters))
	for k, v := range spec.Parameters {
		params[k] = v
	}

	return &Intent{
		ID:            deriveID(spec.Fingerprint, spec.Action, spec.Component, params),
		Action:        spec.Action,
		Component:     spec.Component,
		Parameters:    params,
		Justification: spec.Justification,
		Confidence:    spec.Confidence,
		Risk:          spec.Risk,
		Fingerprint:   spec.Fingerprint,
		IncidentID:    spec.IncidentID,
		PolicyName:    spec.PolicyName,
		DetectedAt:    spec.DetectedAt,
	}, nil
}

// deriveID hashes the canonical intent identity. Detection time is excluded
// so identical proposals hash identically.
func deriveID(fingerprint, action, component string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(fingerprint)
	sb.WriteByte('|')
	sb.WriteString(action)
	sb.WriteByte('|')
	sb.WriteString(component)
	for _, k := range keys {
		sb.WriteByte('|')
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(params[k])
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return "intent_" + hex.EncodeToString(sum[:])[:16]
}
