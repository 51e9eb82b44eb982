package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/remedyd/internal/intent"
)

// SafetyLevel is a tool's declared risk class.
type SafetyLevel string

const (
	SafetyLow    SafetyLevel = "low"
	SafetyMedium SafetyLevel = "medium"
	SafetyHigh   SafetyLevel = "high"
)

// Risk maps a safety level onto an intent risk profile.
func (s SafetyLevel) Risk() intent.Risk {
	switch s {
	case SafetyLow:
		return intent.RiskLow
	case SafetyHigh:
		return intent.RiskHigh
	default:
		return intent.RiskMedium
	}
}

// Metadata is a tool's static descriptor.
type Metadata struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	SafetyLevel SafetyLevel   `json:"safety_level"`
	Timeout     time.Duration `json:"timeout"`

	// BlastRadius is the number of components/instances the tool affects
	// when executed.
	BlastRadius int `json:"blast_radius"`

	// SafeDuringBusinessHours permits execution inside a configured
	// business-hours restriction window.
	SafeDuringBusinessHours bool `json:"safe_during_business_hours"`

	RequiredPermissions []string `json:"required_permissions,omitempty"`
}

// Tool is the capability contract every pluggable remediation tool must
// satisfy. Execute is only ever invoked by the gateway, after validation,
// under the metadata timeout.
type Tool interface {
	Metadata() Metadata
	Validate(ctx context.Context, in *intent.Intent) ValidationResult
	Execute(ctx context.Context, in *intent.Intent) (*ToolResult, error)
}

// Registry is the typed tool registry. Unknown tool names fail closed at
// submission time.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Registering two tools under one name is a wiring
// bug surfaced as an error.
func (r *Registry) Register(t Tool) error {
	meta := t.Metadata()
	if meta.Name == "" {
		return fmt.Errorf("tool has empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[meta.Name]; exists {
		return fmt.Errorf("tool %q already registered", meta.Name)
	}
	r.tools[meta.Name] = t
	return nil
}

// Get looks a tool up by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
