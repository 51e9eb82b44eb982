// Package engine orchestrates the reliability pipeline: validate, classify,
// recall and evaluate in parallel, build healing intents, pass them through
// the safety gateway and record outcomes back into memory.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/remedyd/internal/classifier"
	"github.com/fyrsmithlabs/remedyd/internal/config"
	"github.com/fyrsmithlabs/remedyd/internal/event"
	"github.com/fyrsmithlabs/remedyd/internal/gateway"
	"github.com/fyrsmithlabs/remedyd/internal/intent"
	"github.com/fyrsmithlabs/remedyd/internal/memory"
	"github.com/fyrsmithlabs/remedyd/internal/policy"
)

const instrumentationName = "github.com/fyrsmithlabs/remedyd/internal/engine"

var tracer = otel.Tracer(instrumentationName)

// ErrRateLimited is returned when event intake exceeds the configured rate.
var ErrRateLimited = errors.New("event rate limit exceeded")

// outcomeRecordTimeout bounds each asynchronous outcome store.
const outcomeRecordTimeout = 5 * time.Second

// Service is the pipeline entry point.
type Service interface {
	// ProcessEvent runs the full pipeline for one raw telemetry record.
	// Invalid input fails with a field-naming ValidationError and causes
	// no downstream side effect.
	ProcessEvent(ctx context.Context, raw event.Raw) (*Result, error)

	// Approve resolves a pending gateway approval and records the outcome.
	Approve(ctx context.Context, approvalID string) (*gateway.Response, error)

	// Reject resolves a pending gateway approval without executing.
	Reject(ctx context.Context, approvalID, reason string) (*gateway.Response, error)

	// ReportOutcome records an externally observed remediation result,
	// asynchronously and with failure isolation.
	ReportOutcome(incidentID string, actions []string, success bool, durationMinutes float64, lessons string)

	// Close drains in-flight outcome recording.
	Close() error
}

// Deps are the pipeline's collaborators, injected at construction.
type Deps struct {
	Validator  *event.Validator
	Classifier *classifier.Classifier
	Memory     memory.Service
	Policies   *policy.Engine
	Gateway    gateway.Service
	Impact     ImpactCalculator
	Logger     *zap.Logger
}

type pipeline struct {
	cfg     config.EngineConfig
	logger  *zap.Logger
	deps    Deps
	limiter *rate.Limiter
	mode    gateway.Mode

	wg sync.WaitGroup
}

// New wires the pipeline. All collaborators except Impact are required.
func New(cfg config.EngineConfig, deps Deps) (Service, error) {
	if deps.Validator == nil || deps.Classifier == nil || deps.Memory == nil ||
		deps.Policies == nil || deps.Gateway == nil {
		return nil, errors.New("validator, classifier, memory, policies and gateway are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	mode := gateway.Mode(cfg.Mode)
	switch mode {
	case gateway.ModeAdvisory, gateway.ModeApproval, gateway.ModeAutonomous:
	case "":
		mode = gateway.ModeAdvisory
	default:
		return nil, fmt.Errorf("unknown engine mode %q", cfg.Mode)
	}

	return &pipeline{
		cfg:     cfg,
		logger:  logger,
		deps:    deps,
		limiter: rate.NewLimiter(rate.Limit(cfg.EventRatePerSecond), cfg.EventRateBurst),
		mode:    mode,
	}, nil
}

func (p *pipeline) ProcessEvent(ctx context.Context, raw event.Raw) (*Result, error) {
	ctx, span := tracer.Start(ctx, "engine.ProcessEvent")
	defer span.End()

	if !p.limiter.Allow() {
		metricRateLimited.Inc()
		return nil, ErrRateLimited
	}

	ev, err := p.deps.Validator.Validate(raw)
	if err != nil {
		// Invalid events are dropped before any classifier, memory or
		// policy side effect.
		return nil, err
	}
	span.SetAttributes(attribute.String("component", ev.Component))

	cls := p.deps.Classifier.Classify(ev)
	result := &Result{
		Status:           StatusNormal,
		Component:        ev.Component,
		Timestamp:        ev.Timestamp,
		Classification:   cls.Class,
		AnomalyScore:     cls.Score,
		HealingIntents:   []*intent.Intent{},
		GatewayResponses: []*gateway.Response{},
	}
	span.SetAttributes(
		attribute.String("classification", string(cls.Class)),
		attribute.Float64("anomaly_score", cls.Score),
	)

	if !cls.Class.Eligible() {
		metricEvents.WithLabelValues(StatusNormal).Inc()
		return result, nil
	}
	result.Status = StatusAnomaly

	// Incident creation precedes any outcome recording for the same
	// fingerprint.
	var incidentID string
	if inc, storeErr := p.deps.Memory.StoreIncident(ctx, ev); storeErr != nil {
		p.logger.Warn("incident store degraded",
			zap.String("component", ev.Component),
			zap.Error(storeErr),
		)
	} else {
		incidentID = inc.ID
	}
	result.IncidentID = incidentID

	recalled, candidates := p.recallAndEvaluate(ctx, ev, cls.Class)
	result.SimilarIncidents = len(recalled)

	result.HealingIntents = p.buildIntents(ctx, ev, candidates, recalled, incidentID)

	for _, in := range result.HealingIntents {
		resp, submitErr := p.deps.Gateway.Submit(ctx, in, p.mode)
		if submitErr != nil {
			p.logger.Warn("gateway submission failed",
				zap.String("intent_id", in.ID),
				zap.Error(submitErr),
			)
			continue
		}
		result.GatewayResponses = append(result.GatewayResponses, resp)
		p.recordExecution(in, resp, incidentID)
	}

	if p.deps.Impact != nil {
		result.BusinessImpact = p.deps.Impact.Calculate(ev, cls.Class)
	}

	metricEvents.WithLabelValues(StatusAnomaly).Inc()
	metricIntents.Add(float64(len(result.HealingIntents)))
	return result, nil
}

// recallAndEvaluate runs memory recall and policy evaluation in parallel,
// joined under the branch timeout. A failed or timed-out recall degrades to
// no historical context; policy evaluation has no remote dependency and is
// never degraded.
func (p *pipeline) recallAndEvaluate(ctx context.Context, ev *event.Event, class classifier.Classification) ([]memory.RecallResult, []policy.Candidate) {
	bctx, cancel := context.WithTimeout(ctx, p.cfg.BranchTimeout.Duration())
	defer cancel()

	var (
		recalled   []memory.RecallResult
		candidates []policy.Candidate
	)
	eg, egctx := errgroup.WithContext(bctx)
	eg.Go(func() error {
		res, err := p.deps.Memory.Recall(egctx, ev, p.cfg.RecallK)
		if err != nil {
			metricRecallDegraded.Inc()
			p.logger.Debug("recall degraded to no context",
				zap.String("component", ev.Component),
				zap.Error(err),
			)
			return nil
		}
		recalled = res
		return nil
	})
	eg.Go(func() error {
		candidates = p.deps.Policies.Evaluate(ev, class)
		return nil
	})
	_ = eg.Wait()
	return recalled, candidates
}

// buildIntents turns policy candidates into immutable healing intents,
// enhanced with historical context from recall.
func (p *pipeline) buildIntents(ctx context.Context, ev *event.Event, candidates []policy.Candidate, recalled []memory.RecallResult, incidentID string) []*intent.Intent {
	if len(candidates) == 0 {
		return []*intent.Intent{}
	}

	avgSimilarity, successRate := recallContext(recalled)

	var best *memory.ActionStats
	if len(recalled) > 0 {
		if stats, err := p.deps.Memory.MostEffectiveActions(ctx, ev.Component, 1); err == nil && len(stats) > 0 {
			best = &stats[0]
		}
	}

	intents := make([]*intent.Intent, 0, len(candidates))
	for _, c := range candidates {
		confidence := 0.7
		justification := fmt.Sprintf("Event: %s with %.0fms latency, %.1f%% errors. Policy %s matched",
			ev.Component, ev.LatencyP99, ev.ErrorRate*100, c.PolicyName)

		if len(recalled) > 0 {
			confidence += 0.15*avgSimilarity + 0.1*successRate
			justification += fmt.Sprintf(". Based on %d similar historical incidents", len(recalled))
		}
		if best != nil && best.Action == c.Action {
			confidence += 0.05
			justification += fmt.Sprintf(". Historically %s has a %.0f%% success rate",
				best.Action, best.SuccessRate*100)
		}
		if confidence > 0.99 {
			confidence = 0.99
		}

		risk := intent.RiskMedium
		if tool, ok := p.deps.Gateway.Registry().Get(c.Action); ok {
			risk = tool.Metadata().SafetyLevel.Risk()
		}

		in, err := intent.New(intent.Spec{
			Fingerprint:   ev.Fingerprint,
			Action:        c.Action,
			Component:     ev.Component,
			Justification: justification,
			Confidence:    confidence,
			Risk:          risk,
			IncidentID:    incidentID,
			PolicyName:    c.PolicyName,
			DetectedAt:    ev.Timestamp,
		})
		if err != nil {
			p.logger.Warn("dropping malformed intent",
				zap.String("action", c.Action),
				zap.Error(err),
			)
			continue
		}
		intents = append(intents, in)
	}
	return intents
}

// recordExecution closes the learning loop for executed intents without
// blocking the response path.
func (p *pipeline) recordExecution(in *intent.Intent, resp *gateway.Response, incidentID string) {
	if incidentID == "" {
		return
	}
	if resp.Status != gateway.StatusCompleted && resp.Status != gateway.StatusFailed {
		return
	}

	success := resp.Status == gateway.StatusCompleted
	var durationMinutes float64
	var lessons string
	if resp.Result != nil {
		durationMinutes = resp.Result.Duration.Minutes()
		if !success && resp.Result.Error != "" {
			lessons = "failed: " + resp.Result.Error
		}
	}
	p.storeOutcomeAsync(incidentID, []string{in.Action}, success, durationMinutes, lessons)
}

func (p *pipeline) ReportOutcome(incidentID string, actions []string, success bool, durationMinutes float64, lessons string) {
	p.storeOutcomeAsync(incidentID, actions, success, durationMinutes, lessons)
}

// recallContext summarizes recalled incidents into an average similarity and
// the success rate of remediations recorded against them. Both are zero when
// nothing was recalled.
func recallContext(recalled []memory.RecallResult) (avgSimilarity, successRate float64) {
	if len(recalled) == 0 {
		return 0, 0
	}

	var simSum float64
	var attempts, successes int
	for _, r := range recalled {
		sim := 1 - float64(r.Distance)
		if sim < 0 {
			sim = 0
		}
		simSum += sim
		for _, out := range r.Incident.Outcomes {
			attempts++
			if out.Success {
				successes++
			}
		}
	}

	avgSimilarity = simSum / float64(len(recalled))
	if attempts > 0 {
		successRate = float64(successes) / float64(attempts)
	}
	return avgSimilarity, successRate
}

// storeOutcomeAsync dispatches an outcome store with failure isolation: a
// memory failure here is logged, never surfaced as a pipeline error.
func (p *pipeline) storeOutcomeAsync(incidentID string, actions []string, success bool, durationMinutes float64, lessons string) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), outcomeRecordTimeout)
		defer cancel()

		if _, err := p.deps.Memory.StoreOutcome(ctx, incidentID, actions, success, durationMinutes, lessons); err != nil {
			metricOutcomeFailures.Inc()
			p.logger.Warn("outcome recording failed",
				zap.String("incident_id", incidentID),
				zap.Error(err),
			)
			return
		}
		metricOutcomes.Inc()
	}()
}

func (p *pipeline) Approve(ctx context.Context, approvalID string) (*gateway.Response, error) {
	resp, err := p.deps.Gateway.Approve(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if resp.Intent != nil {
		p.recordExecution(resp.Intent, resp, resp.Intent.IncidentID)
	}
	return resp, nil
}

func (p *pipeline) Reject(ctx context.Context, approvalID, reason string) (*gateway.Response, error) {
	return p.deps.Gateway.Reject(ctx, approvalID, reason)
}

func (p *pipeline) Close() error {
	p.wg.Wait()
	return nil
}
