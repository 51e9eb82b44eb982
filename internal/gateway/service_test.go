package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/audit"
	"github.com/fyrsmithlabs/remedyd/internal/config"
	"github.com/fyrsmithlabs/remedyd/internal/intent"
)

func gwConfig() config.GatewayConfig {
	return config.GatewayConfig{
		Blacklist:          []string{"database_drop", "full_rollout", "system_shutdown", "secret_rotation"},
		MaxBlastRadius:     3,
		ToolCooldown:       config.Duration(5 * time.Minute),
		MaxCooldownEntries: 100,
		ApprovalTTL:        config.Duration(15 * time.Minute),
		Breaker: config.BreakerConfig{
			FailureThreshold: 3,
			RecoveryTimeout:  config.Duration(30 * time.Second),
		},
	}
}

func newTestGateway(t *testing.T, cfg config.GatewayConfig, caps Capabilities) (Service, *audit.Trail) {
	t.Helper()
	registry, err := DefaultRegistry(zap.NewNop())
	require.NoError(t, err)
	trail := audit.NewTrail(audit.NopExporter{}, zap.NewNop())
	svc, err := New(cfg, caps, registry, trail, zap.NewNop())
	require.NoError(t, err)
	return svc, trail
}

func testIntent(t *testing.T, action, component string, params map[string]string) *intent.Intent {
	t.Helper()
	in, err := intent.New(intent.Spec{
		Fingerprint:   "a3f8c1d2e5b74960a3f8c1d2e5b74960",
		Action:        action,
		Component:     component,
		Parameters:    params,
		Justification: "elevated error rate on " + component,
		Confidence:    0.85,
	})
	require.NoError(t, err)
	return in
}

func TestSubmitFailsClosedWithoutCapability(t *testing.T) {
	svc, _ := newTestGateway(t, gwConfig(), Capabilities{AutonomousExecution: false})
	ctx := context.Background()

	for i, mode := range []Mode{ModeAdvisory, ModeApproval, ModeAutonomous} {
		in := testIntent(t, "alert_team", fmt.Sprintf("svc-%d", i), nil)
		resp, err := svc.Submit(ctx, in, mode)
		require.NoError(t, err)
		assert.Equal(t, StatusAdvisoryOnly, resp.Status, "mode %s must fail closed", mode)
		assert.True(t, resp.WouldExecute)
		assert.NotEqual(t, StatusCompleted, resp.Status)
	}
}

func TestSubmitBlacklistedActionDenied(t *testing.T) {
	svc, _ := newTestGateway(t, gwConfig(), Capabilities{AutonomousExecution: true})

	in := testIntent(t, "database_drop", "api-service", nil)
	resp, err := svc.Submit(context.Background(), in, ModeAutonomous)
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, resp.Status)
	assert.Contains(t, resp.Reason, "disallowed")
}

func TestSubmitUnknownToolFailsClosed(t *testing.T) {
	svc, _ := newTestGateway(t, gwConfig(), Capabilities{AutonomousExecution: true})

	in := testIntent(t, "format_disk", "api-service", nil)
	resp, err := svc.Submit(context.Background(), in, ModeAutonomous)
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, resp.Status)
	assert.Contains(t, resp.Reason, "unknown tool")
}

func TestSubmitBlastRadiusLimit(t *testing.T) {
	cfg := gwConfig()
	cfg.MaxBlastRadius = 1
	svc, _ := newTestGateway(t, cfg, Capabilities{AutonomousExecution: true})

	// traffic_shift declares a blast radius of 2.
	in := testIntent(t, "traffic_shift", "api-service", nil)
	resp, err := svc.Submit(context.Background(), in, ModeAutonomous)
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, resp.Status)
	assert.Contains(t, resp.Reason, "blast radius")
}

func TestSubmitBusinessHoursRestriction(t *testing.T) {
	cfg := gwConfig()
	cfg.BusinessHours = config.BusinessHoursConfig{
		Enabled:   true,
		StartHour: 9,
		EndHour:   17,
		Location:  "UTC",
	}
	svc, _ := newTestGateway(t, cfg, Capabilities{AutonomousExecution: true})
	g := svc.(*gatewaySvc)
	g.now = func() time.Time {
		return time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)
	}
	ctx := context.Background()

	// rollback is not marked safe during business hours.
	in := testIntent(t, "rollback", "api-service", map[string]string{"rollback_target": "v1.4.2"})
	resp, err := svc.Submit(ctx, in, ModeAutonomous)
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, resp.Status)
	assert.Contains(t, resp.Reason, "business hours")

	// scale_out is.
	safe := testIntent(t, "scale_out", "api-service", nil)
	resp, err = svc.Submit(ctx, safe, ModeAutonomous)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, resp.Status)

	// Outside the window the restriction does not apply.
	g.now = func() time.Time {
		return time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC)
	}
	late := testIntent(t, "rollback", "billing", map[string]string{"rollback_target": "v2.0.1"})
	resp, err = svc.Submit(ctx, late, ModeAutonomous)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, resp.Status)
}

func TestSubmitToolCooldown(t *testing.T) {
	svc, _ := newTestGateway(t, gwConfig(), Capabilities{AutonomousExecution: true})
	g := svc.(*gatewaySvc)
	base := time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)
	now := base
	g.now = func() time.Time { return now }
	ctx := context.Background()

	first := testIntent(t, "restart_container", "api-service", nil)
	resp, err := svc.Submit(ctx, first, ModeAutonomous)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, resp.Status)

	// Distinct intent, same tool+component pair, inside the cooldown.
	now = base.Add(time.Minute)
	second := testIntent(t, "restart_container", "api-service", map[string]string{"grace_period": "10s"})
	resp, err = svc.Submit(ctx, second, ModeAutonomous)
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, resp.Status)
	assert.Contains(t, resp.Reason, "cooldown")

	// Another component is unaffected.
	other := testIntent(t, "restart_container", "billing", nil)
	resp, err = svc.Submit(ctx, other, ModeAutonomous)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, resp.Status)

	// After the cooldown the pair may fire again.
	now = base.Add(6 * time.Minute)
	third := testIntent(t, "restart_container", "api-service", map[string]string{"grace_period": "30s"})
	resp, err = svc.Submit(ctx, third, ModeAutonomous)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, resp.Status)
}

func TestSubmitToolPreconditionDenial(t *testing.T) {
	svc, _ := newTestGateway(t, gwConfig(), Capabilities{AutonomousExecution: true})

	// rollback without an identified target is denied by the tool itself.
	in := testIntent(t, "rollback", "api-service", nil)
	resp, err := svc.Submit(context.Background(), in, ModeAutonomous)
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, resp.Status)
	assert.Contains(t, resp.Reason, "no rollback target")
}

// flakyTool always fails execution, driving the per-tool breaker open.
type flakyTool struct {
	executions int
}

func (t *flakyTool) Metadata() Metadata {
	return Metadata{Name: "flaky", SafetyLevel: SafetyLow, Timeout: time.Second, BlastRadius: 1}
}

func (t *flakyTool) Validate(context.Context, *intent.Intent) ValidationResult {
	return ValidationResult{Allowed: true}
}

func (t *flakyTool) Execute(context.Context, *intent.Intent) (*ToolResult, error) {
	t.executions++
	return nil, errors.New("backend unreachable")
}

func TestSubmitBreakerOpensAfterToolFailures(t *testing.T) {
	registry := NewRegistry()
	tool := &flakyTool{}
	require.NoError(t, registry.Register(tool))
	trail := audit.NewTrail(audit.NopExporter{}, zap.NewNop())
	svc, err := New(gwConfig(), Capabilities{AutonomousExecution: true}, registry, trail, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		in := testIntent(t, "flaky", fmt.Sprintf("svc-%d", i), nil)
		resp, err := svc.Submit(ctx, in, ModeAutonomous)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, resp.Status)
	}
	require.Equal(t, 3, tool.executions)

	// Breaker is open: denied at validation, tool not invoked.
	in := testIntent(t, "flaky", "svc-later", nil)
	resp, err := svc.Submit(ctx, in, ModeAutonomous)
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, resp.Status)
	assert.Contains(t, resp.Reason, "circuit breaker open")
	assert.Equal(t, 3, tool.executions)
}

func TestSubmitDuplicateIntentRecognized(t *testing.T) {
	registry := NewRegistry()
	counting := &countingTool{}
	require.NoError(t, registry.Register(counting))
	trail := audit.NewTrail(audit.NopExporter{}, zap.NewNop())
	svc, err := New(gwConfig(), Capabilities{AutonomousExecution: true}, registry, trail, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	in := testIntent(t, "counting", "api-service", nil)
	first, err := svc.Submit(ctx, in, ModeAutonomous)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, first.Status)
	require.Equal(t, 1, counting.executions)

	second, err := svc.Submit(ctx, in, ModeAutonomous)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, StatusCompleted, second.Status)
	assert.Equal(t, 1, counting.executions, "duplicate must not re-execute")

	records := trail.Records()
	require.Len(t, records, 2)
	assert.False(t, records[0].Duplicate)
	assert.True(t, records[1].Duplicate)
}

type countingTool struct {
	executions int
}

func (t *countingTool) Metadata() Metadata {
	return Metadata{Name: "counting", SafetyLevel: SafetyLow, Timeout: time.Second, BlastRadius: 1}
}

func (t *countingTool) Validate(context.Context, *intent.Intent) ValidationResult {
	return ValidationResult{Allowed: true}
}

func (t *countingTool) Execute(context.Context, *intent.Intent) (*ToolResult, error) {
	t.executions++
	return &ToolResult{Success: true, Output: "ok"}, nil
}

func TestApprovalFlow(t *testing.T) {
	svc, _ := newTestGateway(t, gwConfig(), Capabilities{AutonomousExecution: true})
	ctx := context.Background()

	in := testIntent(t, "scale_out", "api-service", nil)
	resp, err := svc.Submit(ctx, in, ModeApproval)
	require.NoError(t, err)
	require.Equal(t, StatusPendingApproval, resp.Status)
	require.NotEmpty(t, resp.ApprovalID)
	require.Len(t, svc.PendingApprovals(), 1)

	final, err := svc.Approve(ctx, resp.ApprovalID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status)
	require.NotNil(t, final.Result)
	assert.True(t, final.Result.Success)
	assert.Empty(t, svc.PendingApprovals())

	// Resolving twice is an error.
	_, err = svc.Approve(ctx, resp.ApprovalID)
	assert.ErrorIs(t, err, ErrApprovalResolved)

	_, err = svc.Approve(ctx, "appr_nonexistent")
	assert.ErrorIs(t, err, ErrUnknownApproval)
}

func TestApprovalReject(t *testing.T) {
	svc, _ := newTestGateway(t, gwConfig(), Capabilities{AutonomousExecution: true})
	ctx := context.Background()

	in := testIntent(t, "restart_container", "api-service", nil)
	resp, err := svc.Submit(ctx, in, ModeApproval)
	require.NoError(t, err)
	require.Equal(t, StatusPendingApproval, resp.Status)

	rejected, err := svc.Reject(ctx, resp.ApprovalID, "maintenance freeze")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rejected.Status)
	assert.Equal(t, "maintenance freeze", rejected.Reason)
	assert.Empty(t, svc.PendingApprovals())
}

func TestApprovalExpiresAfterTTL(t *testing.T) {
	svc, trail := newTestGateway(t, gwConfig(), Capabilities{AutonomousExecution: true})
	g := svc.(*gatewaySvc)
	base := time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)
	now := base
	g.now = func() time.Time { return now }
	ctx := context.Background()

	in := testIntent(t, "scale_out", "api-service", nil)
	resp, err := svc.Submit(ctx, in, ModeApproval)
	require.NoError(t, err)
	require.Equal(t, StatusPendingApproval, resp.Status)

	// Past the TTL the pending record is auto-rejected.
	now = base.Add(16 * time.Minute)
	assert.Empty(t, svc.PendingApprovals())

	last := trail.Records()[trail.Len()-1]
	assert.Equal(t, string(StatusExpired), last.Status)
}

func TestAuditTrailRecordsEverySubmission(t *testing.T) {
	svc, trail := newTestGateway(t, gwConfig(), Capabilities{AutonomousExecution: true})
	ctx := context.Background()

	ok := testIntent(t, "alert_team", "api-service", nil)
	_, err := svc.Submit(ctx, ok, ModeAdvisory)
	require.NoError(t, err)

	denied := testIntent(t, "database_drop", "api-service", nil)
	_, err = svc.Submit(ctx, denied, ModeAutonomous)
	require.NoError(t, err)

	records := trail.Records()
	require.Len(t, records, 2)
	assert.Equal(t, string(StatusAdvisoryOnly), records[0].Status)
	assert.True(t, records[0].ValidationPassed)
	assert.Equal(t, string(StatusDenied), records[1].Status)
	assert.False(t, records[1].ValidationPassed)
	assert.Less(t, records[0].Sequence, records[1].Sequence)
}

func TestSubmitRejectsUnknownMode(t *testing.T) {
	svc, _ := newTestGateway(t, gwConfig(), Capabilities{})

	in := testIntent(t, "alert_team", "api-service", nil)
	_, err := svc.Submit(context.Background(), in, Mode("yolo"))
	require.Error(t, err)
}

func TestResolvedApprovalRecordsAreDropped(t *testing.T) {
	svc, _ := newTestGateway(t, gwConfig(), Capabilities{AutonomousExecution: true})
	g := svc.(*gatewaySvc)
	ctx := context.Background()

	var approvalIDs []string
	for i := 0; i < 20; i++ {
		in := testIntent(t, "alert_team", fmt.Sprintf("svc-%d", i), nil)
		resp, err := svc.Submit(ctx, in, ModeApproval)
		require.NoError(t, err)
		require.Equal(t, StatusPendingApproval, resp.Status)
		approvalIDs = append(approvalIDs, resp.ApprovalID)
	}

	g.mu.Lock()
	assert.Len(t, g.approvals, 20)
	g.mu.Unlock()

	for i, id := range approvalIDs {
		var err error
		if i%2 == 0 {
			_, err = svc.Approve(ctx, id)
		} else {
			_, err = svc.Reject(ctx, id, "operator declined")
		}
		require.NoError(t, err)
	}

	// Resolution removes the record; only pending approvals are retained.
	g.mu.Lock()
	assert.Empty(t, g.approvals)
	g.mu.Unlock()
	assert.Empty(t, svc.PendingApprovals())

	// A second resolution still reports resolved, not unknown.
	_, err := svc.Approve(ctx, approvalIDs[0])
	assert.ErrorIs(t, err, ErrApprovalResolved)
	_, err = svc.Reject(ctx, approvalIDs[1], "again")
	assert.ErrorIs(t, err, ErrApprovalResolved)
}

func TestExpiredApprovalRecordsAreDropped(t *testing.T) {
	svc, _ := newTestGateway(t, gwConfig(), Capabilities{AutonomousExecution: true})
	g := svc.(*gatewaySvc)
	ctx := context.Background()

	in := testIntent(t, "alert_team", "api-service", nil)
	resp, err := svc.Submit(ctx, in, ModeApproval)
	require.NoError(t, err)
	require.Equal(t, StatusPendingApproval, resp.Status)

	base := g.now()
	g.now = func() time.Time { return base.Add(16 * time.Minute) }

	assert.Empty(t, svc.PendingApprovals())
	g.mu.Lock()
	assert.Empty(t, g.approvals)
	g.mu.Unlock()

	_, err = svc.Approve(ctx, resp.ApprovalID)
	assert.ErrorIs(t, err, ErrApprovalResolved)
}
