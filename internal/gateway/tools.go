package gateway

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/intent"
)

// Built-in remediation tools. These implementations carry the full
// metadata, precondition and execution contract; the execution bodies
// produce structured effect descriptions rather than driving real
// infrastructure, which is the integration point for deployment-specific
// drivers.

// DefaultRegistry returns a registry with the built-in tool set.
func DefaultRegistry(logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := NewRegistry()
	tools := []Tool{
		&RollbackTool{logger: logger},
		&RestartContainerTool{logger: logger},
		&ScaleOutTool{logger: logger},
		&CircuitBreakerTool{logger: logger},
		&TrafficShiftTool{logger: logger},
		&AlertTeamTool{logger: logger},
	}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// RollbackTool reverts a component to a previous deployment.
type RollbackTool struct {
	logger *zap.Logger
}

func (t *RollbackTool) Metadata() Metadata {
	return Metadata{
		Name:                "rollback",
		Description:         "Revert the component to a previous deployment",
		SafetyLevel:         SafetyHigh,
		Timeout:             120 * time.Second,
		BlastRadius:         1,
		RequiredPermissions: []string{"deployments:write"},
	}
}

// Validate denies a rollback with no identified target to roll back to.
func (t *RollbackTool) Validate(_ context.Context, in *intent.Intent) ValidationResult {
	if in.Parameters["rollback_target"] == "" {
		return ValidationResult{Allowed: false, Reason: "no rollback target identified"}
	}
	return ValidationResult{Allowed: true}
}

func (t *RollbackTool) Execute(_ context.Context, in *intent.Intent) (*ToolResult, error) {
	target := in.Parameters["rollback_target"]
	t.logger.Info("rolling back deployment",
		zap.String("component", in.Component),
		zap.String("target", target),
	)
	return &ToolResult{
		Success: true,
		Output:  fmt.Sprintf("rolled back %s to %s", in.Component, target),
	}, nil
}

// RestartContainerTool restarts the component's containers.
type RestartContainerTool struct {
	logger *zap.Logger
}

func (t *RestartContainerTool) Metadata() Metadata {
	return Metadata{
		Name:                "restart_container",
		Description:         "Restart the component's containers",
		SafetyLevel:         SafetyMedium,
		Timeout:             60 * time.Second,
		BlastRadius:         1,
		RequiredPermissions: []string{"pods:delete"},
	}
}

func (t *RestartContainerTool) Validate(_ context.Context, in *intent.Intent) ValidationResult {
	if in.Parameters["grace_period"] != "" {
		if _, err := time.ParseDuration(in.Parameters["grace_period"]); err != nil {
			return ValidationResult{Allowed: false, Reason: "invalid grace_period: " + err.Error()}
		}
	}
	return ValidationResult{Allowed: true}
}

func (t *RestartContainerTool) Execute(_ context.Context, in *intent.Intent) (*ToolResult, error) {
	t.logger.Info("restarting containers", zap.String("component", in.Component))
	return &ToolResult{
		Success: true,
		Output:  fmt.Sprintf("restarted containers for %s", in.Component),
	}, nil
}

// ScaleOutTool adds replicas to the component.
type ScaleOutTool struct {
	logger *zap.Logger
}

func (t *ScaleOutTool) Metadata() Metadata {
	return Metadata{
		Name:                    "scale_out",
		Description:             "Add replicas to absorb load",
		SafetyLevel:             SafetyLow,
		Timeout:                 90 * time.Second,
		BlastRadius:             1,
		SafeDuringBusinessHours: true,
		RequiredPermissions:     []string{"deployments:scale"},
	}
}

func (t *ScaleOutTool) Validate(_ context.Context, in *intent.Intent) ValidationResult {
	if raw := in.Parameters["replicas"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return ValidationResult{Allowed: false, Reason: "replicas must be a positive integer"}
		}
	}
	return ValidationResult{Allowed: true}
}

func (t *ScaleOutTool) Execute(_ context.Context, in *intent.Intent) (*ToolResult, error) {
	replicas := in.Parameters["replicas"]
	if replicas == "" {
		replicas = "1"
	}
	t.logger.Info("scaling out",
		zap.String("component", in.Component),
		zap.String("additional_replicas", replicas),
	)
	return &ToolResult{
		Success: true,
		Output:  fmt.Sprintf("scaled %s out by %s replicas", in.Component, replicas),
	}, nil
}

// CircuitBreakerTool opens a protective breaker in front of the component.
type CircuitBreakerTool struct {
	logger *zap.Logger
}

func (t *CircuitBreakerTool) Metadata() Metadata {
	return Metadata{
		Name:                    "circuit_breaker",
		Description:             "Shed traffic by opening a protective circuit breaker",
		SafetyLevel:             SafetyMedium,
		Timeout:                 30 * time.Second,
		BlastRadius:             2,
		SafeDuringBusinessHours: true,
		RequiredPermissions:     []string{"traffic:write"},
	}
}

func (t *CircuitBreakerTool) Validate(context.Context, *intent.Intent) ValidationResult {
	return ValidationResult{Allowed: true}
}

func (t *CircuitBreakerTool) Execute(_ context.Context, in *intent.Intent) (*ToolResult, error) {
	t.logger.Info("activating circuit breaker", zap.String("component", in.Component))
	return &ToolResult{
		Success: true,
		Output:  fmt.Sprintf("circuit breaker activated for %s", in.Component),
	}, nil
}

// TrafficShiftTool moves a share of traffic away from the component.
type TrafficShiftTool struct {
	logger *zap.Logger
}

func (t *TrafficShiftTool) Metadata() Metadata {
	return Metadata{
		Name:                "traffic_shift",
		Description:         "Shift a share of traffic to healthy instances",
		SafetyLevel:         SafetyMedium,
		Timeout:             60 * time.Second,
		BlastRadius:         2,
		RequiredPermissions: []string{"traffic:write"},
	}
}

func (t *TrafficShiftTool) Validate(_ context.Context, in *intent.Intent) ValidationResult {
	if raw := in.Parameters["shift_percent"]; raw != "" {
		pct, err := strconv.Atoi(raw)
		if err != nil || pct < 1 || pct > 100 {
			return ValidationResult{Allowed: false, Reason: "shift_percent must be in [1,100]"}
		}
	}
	return ValidationResult{Allowed: true}
}

func (t *TrafficShiftTool) Execute(_ context.Context, in *intent.Intent) (*ToolResult, error) {
	pct := in.Parameters["shift_percent"]
	if pct == "" {
		pct = "50"
	}
	t.logger.Info("shifting traffic",
		zap.String("component", in.Component),
		zap.String("shift_percent", pct),
	)
	return &ToolResult{
		Success: true,
		Output:  fmt.Sprintf("shifted %s%% of traffic away from %s", pct, in.Component),
	}, nil
}

// AlertTeamTool pages the owning team.
type AlertTeamTool struct {
	logger *zap.Logger
}

func (t *AlertTeamTool) Metadata() Metadata {
	return Metadata{
		Name:                    "alert_team",
		Description:             "Notify the owning team",
		SafetyLevel:             SafetyLow,
		Timeout:                 15 * time.Second,
		BlastRadius:             0,
		SafeDuringBusinessHours: true,
		RequiredPermissions:     []string{"alerts:write"},
	}
}

func (t *AlertTeamTool) Validate(context.Context, *intent.Intent) ValidationResult {
	return ValidationResult{Allowed: true}
}

func (t *AlertTeamTool) Execute(_ context.Context, in *intent.Intent) (*ToolResult, error) {
	t.logger.Info("alerting owning team",
		zap.String("component", in.Component),
		zap.String("justification", in.Justification),
	)
	return &ToolResult{
		Success: true,
		Output:  fmt.Sprintf("alerted owning team for %s", in.Component),
	}, nil
}
