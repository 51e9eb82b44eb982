package policy

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/remedyd/internal/classifier"
	"github.com/fyrsmithlabs/remedyd/internal/config"
	"github.com/fyrsmithlabs/remedyd/internal/event"
)

// Remediation action names emitted by policies and resolved to tools by the
// safety gateway.
const (
	ActionRollback         = "rollback"
	ActionRestartContainer = "restart_container"
	ActionScaleOut         = "scale_out"
	ActionCircuitBreaker   = "circuit_breaker"
	ActionTrafficShift     = "traffic_shift"
	ActionAlertTeam        = "alert_team"
)

var (
	// ErrNoPolicies is returned when no valid policy survives compilation.
	ErrNoPolicies = errors.New("no valid policies configured")

	// ErrInvalidPolicy marks a policy spec that failed compilation.
	ErrInvalidPolicy = errors.New("invalid policy")
)

type operator string

const (
	opGreater      operator = ">"
	opLess         operator = "<"
	opGreaterEqual operator = ">="
	opLessEqual    operator = "<="
	opEqual        operator = "=="
)

// Condition compares one event metric against a threshold.
type Condition struct {
	Metric    string
	Operator  operator
	Threshold float64
}

// matches reports whether the event satisfies the condition. A metric the
// event did not report never matches.
func (c Condition) matches(ev *event.Event) bool {
	value, ok := ev.Metric(c.Metric)
	if !ok {
		return false
	}
	switch c.Operator {
	case opGreater:
		return value > c.Threshold
	case opLess:
		return value < c.Threshold
	case opGreaterEqual:
		return value >= c.Threshold
	case opLessEqual:
		return value <= c.Threshold
	case opEqual:
		return value == c.Threshold
	default:
		return false
	}
}

// Policy is a compiled healing policy. Immutable after load. All conditions
// must hold for the policy to fire (AND semantics).
type Policy struct {
	Name       string
	Priority   int
	Conditions []Condition
	Actions    []string
	Cooldown   time.Duration
	MaxPerHour int

	// Terminal stops evaluation of lower-priority policies once this one
	// fires.
	Terminal bool

	// MinClassification, when set, gates firing on the event's
	// classification bucket.
	MinClassification classifier.Classification
}

// Candidate is one proposed action, carrying the policy that emitted it.
type Candidate struct {
	Action     string `json:"action"`
	PolicyName string `json:"policy_name"`
	Priority   int    `json:"priority"`
}

var validMetrics = map[string]struct{}{
	event.MetricLatencyP99: {},
	event.MetricErrorRate:  {},
	event.MetricThroughput: {},
	event.MetricCPUUtil:    {},
	event.MetricMemoryUtil: {},
}

var validClassifications = map[classifier.Classification]struct{}{
	classifier.Normal:    {},
	classifier.Degrading: {},
	classifier.Critical:  {},
	classifier.Systemic:  {},
}

// compile validates one policy spec and fills defaults.
func compile(spec config.PolicySpec) (Policy, error) {
	if spec.Name == "" {
		return Policy{}, fmt.Errorf("%w: name is required", ErrInvalidPolicy)
	}
	if len(spec.Conditions) == 0 {
		return Policy{}, fmt.Errorf("%w: policy %q has no conditions", ErrInvalidPolicy, spec.Name)
	}
	if len(spec.Actions) == 0 {
		return Policy{}, fmt.Errorf("%w: policy %q has no actions", ErrInvalidPolicy, spec.Name)
	}

	conditions := make([]Condition, 0, len(spec.Conditions))
	for _, c := range spec.Conditions {
		if _, ok := validMetrics[c.Metric]; !ok {
			return Policy{}, fmt.Errorf("%w: policy %q references unknown metric %q",
				ErrInvalidPolicy, spec.Name, c.Metric)
		}
		op := operator(c.Operator)
		switch op {
		case opGreater, opLess, opGreaterEqual, opLessEqual, opEqual:
		default:
			return Policy{}, fmt.Errorf("%w: policy %q uses unknown operator %q",
				ErrInvalidPolicy, spec.Name, c.Operator)
		}
		conditions = append(conditions, Condition{
			Metric:    c.Metric,
			Operator:  op,
			Threshold: c.Threshold,
		})
	}

	minClass := classifier.Classification(spec.MinClassification)
	if spec.MinClassification != "" {
		if _, ok := validClassifications[minClass]; !ok {
			return Policy{}, fmt.Errorf("%w: policy %q has unknown min classification %q",
				ErrInvalidPolicy, spec.Name, spec.MinClassification)
		}
	}

	cooldown := spec.Cooldown.Duration()
	if cooldown == 0 {
		cooldown = defaultCooldown
	}

	return Policy{
		Name:              spec.Name,
		Priority:          spec.Priority,
		Conditions:        conditions,
		Actions:           append([]string(nil), spec.Actions...),
		Cooldown:          cooldown,
		MaxPerHour:        spec.MaxPerHour,
		Terminal:          spec.Terminal,
		MinClassification: minClass,
	}, nil
}

const (
	defaultCooldown   = 5 * time.Minute
	defaultMaxPerHour = 6
)

// DefaultSpecs is the built-in policy set, used when no policies are
// configured.
func DefaultSpecs() []config.PolicySpec {
	return []config.PolicySpec{
		{
			Name:     "cascading_failure",
			Priority: 1,
			Conditions: []config.ConditionSpec{
				{Metric: event.MetricErrorRate, Operator: ">", Threshold: 0.15},
			},
			Actions:    []string{ActionCircuitBreaker, ActionAlertTeam},
			MaxPerHour: defaultMaxPerHour,
		},
		{
			Name:     "resource_exhaustion",
			Priority: 1,
			Conditions: []config.ConditionSpec{
				{Metric: event.MetricCPUUtil, Operator: ">", Threshold: 0.85},
				{Metric: event.MetricMemoryUtil, Operator: ">", Threshold: 0.85},
			},
			Actions:    []string{ActionScaleOut, ActionAlertTeam},
			MaxPerHour: defaultMaxPerHour,
		},
		{
			Name:     "critical_failure",
			Priority: 1,
			Conditions: []config.ConditionSpec{
				{Metric: event.MetricLatencyP99, Operator: ">", Threshold: 500},
				{Metric: event.MetricErrorRate, Operator: ">", Threshold: 0.1},
			},
			Actions:    []string{ActionRestartContainer, ActionAlertTeam, ActionTrafficShift},
			MaxPerHour: defaultMaxPerHour,
		},
		{
			Name:     "high_latency_restart",
			Priority: 2,
			Conditions: []config.ConditionSpec{
				{Metric: event.MetricLatencyP99, Operator: ">", Threshold: 300},
				{Metric: event.MetricErrorRate, Operator: "<", Threshold: 0.1},
			},
			Actions:    []string{ActionRestartContainer},
			MaxPerHour: defaultMaxPerHour,
		},
		{
			Name:     "moderate_performance_issue",
			Priority: 3,
			Conditions: []config.ConditionSpec{
				{Metric: event.MetricLatencyP99, Operator: ">", Threshold: 200},
				{Metric: event.MetricErrorRate, Operator: ">", Threshold: 0.05},
			},
			Actions:    []string{ActionTrafficShift},
			MaxPerHour: defaultMaxPerHour,
		},
	}
}
