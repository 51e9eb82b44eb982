// Package gateway is the safety gateway: the sole path by which a healing
// intent may become a declared recommendation or an executed effect.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/audit"
	"github.com/fyrsmithlabs/remedyd/internal/breaker"
	"github.com/fyrsmithlabs/remedyd/internal/config"
	"github.com/fyrsmithlabs/remedyd/internal/intent"
)

const instrumentationName = "github.com/fyrsmithlabs/remedyd/internal/gateway"

var tracer = otel.Tracer(instrumentationName)

// seenIntentCap bounds the duplicate-detection cache.
const seenIntentCap = 4096

// Service is the safety gateway contract.
type Service interface {
	// Submit runs the validation chain and resolves the intent according
	// to the requested mode. A denial is a normal response, not an error.
	Submit(ctx context.Context, in *intent.Intent, mode Mode) (*Response, error)

	// Approve resolves a pending approval and executes the deferred
	// intent, subject to the capability descriptor.
	Approve(ctx context.Context, approvalID string) (*Response, error)

	// Reject resolves a pending approval without executing.
	Reject(ctx context.Context, approvalID, reason string) (*Response, error)

	// PendingApprovals lists unresolved, unexpired approvals.
	PendingApprovals() []Approval

	// Registry exposes the tool registry for intent construction.
	Registry() *Registry
}

type gatewaySvc struct {
	cfg      config.GatewayConfig
	caps     Capabilities
	registry *Registry
	trail    *audit.Trail
	logger   *zap.Logger
	location *time.Location

	// breakers is keyed by tool name, fixed at construction.
	breakers map[string]*breaker.Breaker

	mu        sync.Mutex
	cooldowns *lru.Cache[string, time.Time]
	approvals map[string]*approvalRecord
	// resolved remembers approval IDs whose records were removed, so a
	// second resolution attempt reports resolved rather than unknown.
	resolved *lru.Cache[string, struct{}]
	seen     *lru.Cache[string, *Response]

	blacklist map[string]struct{}

	now func() time.Time
}

// New constructs the gateway. The capability descriptor is immutable and is
// the only source of execution entitlement.
func New(cfg config.GatewayConfig, caps Capabilities, registry *Registry, trail *audit.Trail, logger *zap.Logger) (Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		return nil, errors.New("tool registry is required")
	}
	if trail == nil {
		return nil, errors.New("audit trail is required")
	}

	location := time.UTC
	if cfg.BusinessHours.Location != "" {
		loc, err := time.LoadLocation(cfg.BusinessHours.Location)
		if err != nil {
			return nil, fmt.Errorf("loading business hours location: %w", err)
		}
		location = loc
	}

	cooldowns, err := lru.New[string, time.Time](cfg.MaxCooldownEntries)
	if err != nil {
		return nil, fmt.Errorf("creating cooldown cache: %w", err)
	}
	seen, err := lru.New[string, *Response](seenIntentCap)
	if err != nil {
		return nil, fmt.Errorf("creating intent cache: %w", err)
	}
	resolved, err := lru.New[string, struct{}](seenIntentCap)
	if err != nil {
		return nil, fmt.Errorf("creating resolved approval cache: %w", err)
	}

	blacklist := make(map[string]struct{}, len(cfg.Blacklist))
	for _, name := range cfg.Blacklist {
		blacklist[name] = struct{}{}
	}

	breakers := make(map[string]*breaker.Breaker)
	for _, name := range registry.Names() {
		breakers[name] = breaker.New("tool_"+name, cfg.Breaker, logger)
	}

	return &gatewaySvc{
		cfg:       cfg,
		caps:      caps,
		registry:  registry,
		trail:     trail,
		logger:    logger,
		location:  location,
		breakers:  breakers,
		cooldowns: cooldowns,
		approvals: make(map[string]*approvalRecord),
		resolved:  resolved,
		seen:      seen,
		blacklist: blacklist,
		now:       time.Now,
	}, nil
}

func (g *gatewaySvc) Registry() *Registry { return g.registry }

func (g *gatewaySvc) Submit(ctx context.Context, in *intent.Intent, mode Mode) (*Response, error) {
	ctx, span := tracer.Start(ctx, "gateway.Submit")
	defer span.End()

	if in == nil {
		return nil, errors.New("intent is required")
	}
	switch mode {
	case ModeAdvisory, ModeApproval, ModeAutonomous:
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
	span.SetAttributes(
		attribute.String("intent_id", in.ID),
		attribute.String("tool", in.Action),
		attribute.String("component", in.Component),
		attribute.String("mode", string(mode)),
	)

	submittedAt := g.now().UTC()
	g.expireStaleApprovals(submittedAt)

	// Duplicate submissions of an already-handled intent ID are
	// acknowledged, never re-executed.
	g.mu.Lock()
	if prev, ok := g.seen.Get(in.ID); ok {
		resp := *prev
		resp.Duplicate = true
		g.mu.Unlock()
		metricDuplicates.Inc()
		g.append(in, mode, &resp, true, "duplicate submission", submittedAt)
		return &resp, nil
	}
	g.mu.Unlock()

	tool, denied := g.runValidationChain(ctx, in, submittedAt)
	if denied != nil {
		resp := &Response{IntentID: in.ID, Status: StatusDenied, Reason: denied.Reason}
		g.remember(in.ID, resp)
		metricDenials.WithLabelValues(denied.Stage).Inc()
		metricSubmissions.WithLabelValues(string(mode), string(StatusDenied)).Inc()
		g.append(in, mode, resp, false, denied.Reason, submittedAt)
		g.logger.Info("intent denied",
			zap.String("intent_id", in.ID),
			zap.String("tool", in.Action),
			zap.String("stage", denied.Stage),
			zap.String("reason", denied.Reason),
		)
		return resp, nil
	}

	// Validation passed: arm the tool+component cooldown.
	g.mu.Lock()
	g.cooldowns.Add(cooldownKey(in.Action, in.Component), submittedAt)
	g.mu.Unlock()

	var resp *Response
	switch {
	case !g.caps.AutonomousExecution:
		// Fail closed: without the execution capability every mode
		// resolves to a recommendation.
		resp = &Response{IntentID: in.ID, Status: StatusAdvisoryOnly, WouldExecute: true}
	case mode == ModeAdvisory:
		resp = &Response{IntentID: in.ID, Status: StatusAdvisoryOnly, WouldExecute: true}
	case mode == ModeApproval:
		resp = g.deferForApproval(in, submittedAt)
	default:
		resp = g.execute(ctx, tool, in)
	}

	g.remember(in.ID, resp)
	metricSubmissions.WithLabelValues(string(mode), string(resp.Status)).Inc()
	g.append(in, mode, resp, true, "", submittedAt)
	return resp, nil
}

// runValidationChain applies the gateway checks in order, short-circuiting
// on the first failure.
func (g *gatewaySvc) runValidationChain(ctx context.Context, in *intent.Intent, now time.Time) (Tool, *DeniedError) {
	if _, banned := g.blacklist[in.Action]; banned {
		return nil, &DeniedError{Stage: "blacklist", Reason: fmt.Sprintf("action %q is disallowed", in.Action)}
	}

	tool, ok := g.registry.Get(in.Action)
	if !ok {
		return nil, &DeniedError{Stage: "registry", Reason: fmt.Sprintf("unknown tool %q", in.Action)}
	}
	meta := tool.Metadata()

	if g.cfg.MaxBlastRadius > 0 && meta.BlastRadius > g.cfg.MaxBlastRadius {
		return nil, &DeniedError{
			Stage: "blast_radius",
			Reason: fmt.Sprintf("blast radius %d exceeds maximum %d",
				meta.BlastRadius, g.cfg.MaxBlastRadius),
		}
	}

	if g.inBusinessHours(now) && !meta.SafeDuringBusinessHours {
		return nil, &DeniedError{
			Stage:  "business_hours",
			Reason: fmt.Sprintf("tool %q is not safe during business hours", in.Action),
		}
	}

	if g.breakers[in.Action].State() == breaker.StateOpen {
		return nil, &DeniedError{
			Stage:  "breaker",
			Reason: fmt.Sprintf("circuit breaker open for tool %q", in.Action),
		}
	}

	g.mu.Lock()
	last, onCooldown := g.cooldowns.Get(cooldownKey(in.Action, in.Component))
	g.mu.Unlock()
	if onCooldown && now.Sub(last) < g.cfg.ToolCooldown.Duration() {
		return nil, &DeniedError{
			Stage: "cooldown",
			Reason: fmt.Sprintf("tool %q on cooldown for component %q",
				in.Action, in.Component),
		}
	}

	if verdict := tool.Validate(ctx, in); !verdict.Allowed {
		return nil, &DeniedError{Stage: "tool", Reason: verdict.Reason}
	}
	return tool, nil
}

// deferForApproval creates a pending approval record for later resolution.
func (g *gatewaySvc) deferForApproval(in *intent.Intent, now time.Time) *Response {
	rec := &approvalRecord{
		ID:        "appr_" + uuid.NewString(),
		Intent:    in,
		CreatedAt: now,
		ExpiresAt: now.Add(g.cfg.ApprovalTTL.Duration()),
	}
	g.mu.Lock()
	g.approvals[rec.ID] = rec
	pending := len(g.approvals)
	g.mu.Unlock()
	metricPendingApprovals.Set(float64(pending))

	return &Response{
		IntentID:   in.ID,
		Status:     StatusPendingApproval,
		ApprovalID: rec.ID,
	}
}

// execute invokes the tool under its breaker and declared timeout. A tool
// error or timeout resolves to FAILED; there is no automatic retry.
func (g *gatewaySvc) execute(ctx context.Context, tool Tool, in *intent.Intent) *Response {
	meta := tool.Metadata()
	start := g.now()

	var result *ToolResult
	err := g.breakers[meta.Name].Call(ctx, func(ctx context.Context) error {
		tctx, cancel := context.WithTimeout(ctx, meta.Timeout)
		defer cancel()

		res, execErr := tool.Execute(tctx, in)
		if execErr != nil {
			return execErr
		}
		if res == nil {
			return errors.New("tool returned no result")
		}
		if !res.Success {
			result = res
			if res.Error != "" {
				return errors.New(res.Error)
			}
			return errors.New("tool reported failure")
		}
		result = res
		return nil
	})
	duration := g.now().Sub(start)

	if err != nil {
		metricExecutions.WithLabelValues(meta.Name, "failed").Inc()
		g.logger.Warn("tool execution failed",
			zap.String("intent_id", in.ID),
			zap.String("tool", meta.Name),
			zap.Error(err),
		)
		if result == nil {
			result = &ToolResult{Error: err.Error()}
		}
		result.Success = false
		result.Duration = duration
		return &Response{IntentID: in.ID, Status: StatusFailed, Result: result}
	}

	result.Duration = duration
	metricExecutions.WithLabelValues(meta.Name, "completed").Inc()
	return &Response{IntentID: in.ID, Status: StatusCompleted, Result: result}
}

func (g *gatewaySvc) Approve(ctx context.Context, approvalID string) (*Response, error) {
	now := g.now().UTC()

	g.mu.Lock()
	rec, ok := g.approvals[approvalID]
	if !ok {
		g.mu.Unlock()
		if g.resolved.Contains(approvalID) {
			return nil, fmt.Errorf("%w: %s", ErrApprovalResolved, approvalID)
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownApproval, approvalID)
	}
	delete(g.approvals, approvalID)
	g.resolved.Add(approvalID, struct{}{})
	expired := now.After(rec.ExpiresAt)
	pending := len(g.approvals)
	g.mu.Unlock()
	metricPendingApprovals.Set(float64(pending))

	if expired {
		resp := &Response{IntentID: rec.Intent.ID, Status: StatusExpired, ApprovalID: approvalID, Intent: rec.Intent}
		g.remember(rec.Intent.ID, resp)
		metricApprovals.WithLabelValues("expired").Inc()
		g.append(rec.Intent, ModeApproval, resp, true, "approval expired", now)
		return resp, nil
	}

	var resp *Response
	if !g.caps.AutonomousExecution {
		resp = &Response{IntentID: rec.Intent.ID, Status: StatusAdvisoryOnly, ApprovalID: approvalID, WouldExecute: true}
	} else if tool, found := g.registry.Get(rec.Intent.Action); found {
		resp = g.execute(ctx, tool, rec.Intent)
		resp.ApprovalID = approvalID
	} else {
		resp = &Response{
			IntentID:   rec.Intent.ID,
			Status:     StatusDenied,
			ApprovalID: approvalID,
			Reason:     fmt.Sprintf("unknown tool %q", rec.Intent.Action),
		}
	}

	resp.Intent = rec.Intent
	g.remember(rec.Intent.ID, resp)
	metricApprovals.WithLabelValues("approved").Inc()
	g.append(rec.Intent, ModeApproval, resp, true, "", now)
	return resp, nil
}

func (g *gatewaySvc) Reject(_ context.Context, approvalID, reason string) (*Response, error) {
	now := g.now().UTC()

	g.mu.Lock()
	rec, ok := g.approvals[approvalID]
	if !ok {
		g.mu.Unlock()
		if g.resolved.Contains(approvalID) {
			return nil, fmt.Errorf("%w: %s", ErrApprovalResolved, approvalID)
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownApproval, approvalID)
	}
	delete(g.approvals, approvalID)
	g.resolved.Add(approvalID, struct{}{})
	pending := len(g.approvals)
	g.mu.Unlock()
	metricPendingApprovals.Set(float64(pending))

	resp := &Response{
		IntentID:   rec.Intent.ID,
		Status:     StatusRejected,
		ApprovalID: approvalID,
		Reason:     reason,
		Intent:     rec.Intent,
	}
	g.remember(rec.Intent.ID, resp)
	metricApprovals.WithLabelValues("rejected").Inc()
	g.append(rec.Intent, ModeApproval, resp, true, reason, now)
	return resp, nil
}

func (g *gatewaySvc) PendingApprovals() []Approval {
	g.expireStaleApprovals(g.now().UTC())

	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Approval, 0, len(g.approvals))
	for _, rec := range g.approvals {
		out = append(out, Approval{
			ID:        rec.ID,
			Intent:    rec.Intent,
			CreatedAt: rec.CreatedAt,
			ExpiresAt: rec.ExpiresAt,
		})
	}
	return out
}

// expireStaleApprovals auto-rejects pending approvals past their TTL and
// drops their records.
func (g *gatewaySvc) expireStaleApprovals(now time.Time) {
	g.mu.Lock()
	var expired []*approvalRecord
	for id, rec := range g.approvals {
		if now.After(rec.ExpiresAt) {
			delete(g.approvals, id)
			g.resolved.Add(id, struct{}{})
			expired = append(expired, rec)
		}
	}
	pending := len(g.approvals)
	g.mu.Unlock()

	if len(expired) == 0 {
		return
	}
	metricPendingApprovals.Set(float64(pending))
	for _, rec := range expired {
		resp := &Response{IntentID: rec.Intent.ID, Status: StatusExpired, ApprovalID: rec.ID}
		g.remember(rec.Intent.ID, resp)
		metricApprovals.WithLabelValues("expired").Inc()
		g.append(rec.Intent, ModeApproval, resp, true, "approval expired", now)
		g.logger.Info("approval expired",
			zap.String("approval_id", rec.ID),
			zap.String("intent_id", rec.Intent.ID),
		)
	}
}

func (g *gatewaySvc) inBusinessHours(now time.Time) bool {
	bh := g.cfg.BusinessHours
	if !bh.Enabled {
		return false
	}
	h := now.In(g.location).Hour()
	if bh.StartHour <= bh.EndHour {
		return h >= bh.StartHour && h < bh.EndHour
	}
	// Overnight window, e.g. 22 to 6.
	return h >= bh.StartHour || h < bh.EndHour
}

func (g *gatewaySvc) remember(intentID string, resp *Response) {
	g.mu.Lock()
	g.seen.Add(intentID, resp)
	g.mu.Unlock()
}

func (g *gatewaySvc) append(in *intent.Intent, mode Mode, resp *Response, passed bool, reason string, submittedAt time.Time) {
	g.trail.Append(audit.ExecutionRecord{
		IntentID:         in.ID,
		Tool:             in.Action,
		Component:        in.Component,
		Mode:             string(mode),
		Justification:    in.Justification,
		ValidationPassed: passed,
		ValidationReason: reason,
		Status:           string(resp.Status),
		Duplicate:        resp.Duplicate,
		SubmittedAt:      submittedAt,
		CompletedAt:      g.now().UTC(),
	})
}

func cooldownKey(tool, component string) string {
	return tool + "|" + component
}
