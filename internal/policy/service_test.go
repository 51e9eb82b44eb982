package policy

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/classifier"
	"github.com/fyrsmithlabs/remedyd/internal/config"
	"github.com/fyrsmithlabs/remedyd/internal/event"
)

func testEvent(t *testing.T, component string, latency, errorRate, cpu, mem float64) *event.Event {
	t.Helper()
	v := event.NewValidator(zap.NewNop())
	ev, err := v.Validate(event.Raw{
		Component:  component,
		LatencyP99: latency,
		ErrorRate:  errorRate,
		Throughput: 1250,
		CPUUtil:    &cpu,
		MemoryUtil: &mem,
	})
	require.NoError(t, err)
	return ev
}

func newTestEngine(t *testing.T, specs []config.PolicySpec) *Engine {
	t.Helper()
	eng, err := New(config.PolicyConfig{
		MaxTrackedComponents: 100,
		Policies:             specs,
	}, zap.NewNop())
	require.NoError(t, err)
	return eng
}

func actions(candidates []Candidate) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.Action
	}
	return out
}

func TestEvaluateDefaultPolicies(t *testing.T) {
	eng := newTestEngine(t, nil)

	// High error rate, elevated latency and saturated resources: three
	// default policies match, alert_team is deduplicated.
	ev := testEvent(t, "api-service", 320, 0.18, 0.87, 0.92)
	candidates := eng.Evaluate(ev, classifier.Critical)

	assert.Equal(t,
		[]string{ActionCircuitBreaker, ActionAlertTeam, ActionScaleOut, ActionTrafficShift},
		actions(candidates),
	)
	assert.Equal(t, "cascading_failure", candidates[0].PolicyName)
}

func TestEvaluateNormalClassificationIsIneligible(t *testing.T) {
	eng := newTestEngine(t, nil)

	ev := testEvent(t, "api-service", 320, 0.18, 0.87, 0.92)
	assert.Empty(t, eng.Evaluate(ev, classifier.Normal))
}

func TestEvaluateMissingMetricFailsCondition(t *testing.T) {
	eng := newTestEngine(t, nil)

	v := event.NewValidator(zap.NewNop())
	// No cpu/memory utilization reported, so resource_exhaustion cannot
	// fire even though the thresholds would match anything.
	ev, err := v.Validate(event.Raw{
		Component:  "api-service",
		LatencyP99: 100,
		ErrorRate:  0.2,
		Throughput: 1000,
	})
	require.NoError(t, err)

	candidates := eng.Evaluate(ev, classifier.Critical)
	assert.NotContains(t, actions(candidates), ActionScaleOut)
	assert.Contains(t, actions(candidates), ActionCircuitBreaker)
}

func TestEvaluateCooldownSuppressesRefire(t *testing.T) {
	eng := newTestEngine(t, []config.PolicySpec{{
		Name:     "errors",
		Priority: 1,
		Conditions: []config.ConditionSpec{
			{Metric: event.MetricErrorRate, Operator: ">", Threshold: 0.1},
		},
		Actions:  []string{ActionAlertTeam},
		Cooldown: config.Duration(10 * time.Minute),
	}})

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	eng.now = func() time.Time { return now }

	ev := testEvent(t, "api-service", 100, 0.2, 0.5, 0.5)
	require.Len(t, eng.Evaluate(ev, classifier.Critical), 1)

	now = base.Add(5 * time.Minute)
	assert.Empty(t, eng.Evaluate(ev, classifier.Critical), "within cooldown")

	// A different component has independent cooldown state.
	other := testEvent(t, "billing", 100, 0.2, 0.5, 0.5)
	assert.Len(t, eng.Evaluate(other, classifier.Critical), 1)

	now = base.Add(11 * time.Minute)
	assert.Len(t, eng.Evaluate(ev, classifier.Critical), 1, "after cooldown")
}

func TestEvaluateRollingHourRateLimit(t *testing.T) {
	eng := newTestEngine(t, []config.PolicySpec{{
		Name:     "errors",
		Priority: 1,
		Conditions: []config.ConditionSpec{
			{Metric: event.MetricErrorRate, Operator: ">", Threshold: 0.1},
		},
		Actions:    []string{ActionAlertTeam},
		Cooldown:   config.Duration(time.Second),
		MaxPerHour: 2,
	}})

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	eng.now = func() time.Time { return now }

	ev := testEvent(t, "api-service", 100, 0.2, 0.5, 0.5)
	require.Len(t, eng.Evaluate(ev, classifier.Critical), 1)

	now = base.Add(10 * time.Minute)
	require.Len(t, eng.Evaluate(ev, classifier.Critical), 1)

	// Two firings inside the rolling hour: suppressed.
	now = base.Add(30 * time.Minute)
	assert.Empty(t, eng.Evaluate(ev, classifier.Critical))

	// The first firing has aged out of the window.
	now = base.Add(65 * time.Minute)
	assert.Len(t, eng.Evaluate(ev, classifier.Critical), 1)
}

func TestEvaluateTerminalPolicyStopsLowerPriorities(t *testing.T) {
	eng := newTestEngine(t, []config.PolicySpec{
		{
			Name:     "first",
			Priority: 1,
			Conditions: []config.ConditionSpec{
				{Metric: event.MetricErrorRate, Operator: ">", Threshold: 0.1},
			},
			Actions:  []string{ActionCircuitBreaker},
			Terminal: true,
		},
		{
			Name:     "second",
			Priority: 2,
			Conditions: []config.ConditionSpec{
				{Metric: event.MetricErrorRate, Operator: ">", Threshold: 0.1},
			},
			Actions: []string{ActionAlertTeam},
		},
	})

	ev := testEvent(t, "api-service", 100, 0.2, 0.5, 0.5)
	assert.Equal(t, []string{ActionCircuitBreaker}, actions(eng.Evaluate(ev, classifier.Critical)))
}

func TestEvaluateMinClassificationGate(t *testing.T) {
	eng := newTestEngine(t, []config.PolicySpec{{
		Name:     "systemic-only",
		Priority: 1,
		Conditions: []config.ConditionSpec{
			{Metric: event.MetricErrorRate, Operator: ">", Threshold: 0.1},
		},
		Actions:           []string{ActionRollback},
		MinClassification: string(classifier.Systemic),
	}})

	ev := testEvent(t, "api-service", 100, 0.2, 0.5, 0.5)
	assert.Empty(t, eng.Evaluate(ev, classifier.Critical))
	assert.Len(t, eng.Evaluate(ev, classifier.Systemic), 1)
}

func TestNewSkipsMalformedPolicies(t *testing.T) {
	eng := newTestEngine(t, []config.PolicySpec{
		{
			Name:     "broken",
			Priority: 1,
			Conditions: []config.ConditionSpec{
				{Metric: "unknown_metric", Operator: ">", Threshold: 1},
			},
			Actions: []string{ActionAlertTeam},
		},
		{
			Name:     "valid",
			Priority: 2,
			Conditions: []config.ConditionSpec{
				{Metric: event.MetricErrorRate, Operator: ">", Threshold: 0.1},
			},
			Actions: []string{ActionAlertTeam},
		},
	})

	require.Len(t, eng.Policies(), 1)
	assert.Equal(t, "valid", eng.Policies()[0].Name)
}

func TestNewFailsWithoutValidPolicies(t *testing.T) {
	_, err := New(config.PolicyConfig{
		MaxTrackedComponents: 10,
		Policies: []config.PolicySpec{{
			Name:     "broken",
			Priority: 1,
			Conditions: []config.ConditionSpec{
				{Metric: event.MetricErrorRate, Operator: "~", Threshold: 0.1},
			},
			Actions: []string{ActionAlertTeam},
		}},
	}, zap.NewNop())
	require.ErrorIs(t, err, ErrNoPolicies)
}

func TestEvaluateConcurrentRateLimitHolds(t *testing.T) {
	eng := newTestEngine(t, []config.PolicySpec{{
		Name:     "errors",
		Priority: 1,
		Conditions: []config.ConditionSpec{
			{Metric: event.MetricErrorRate, Operator: ">", Threshold: 0.1},
		},
		Actions:    []string{ActionAlertTeam},
		Cooldown:   config.Duration(time.Nanosecond),
		MaxPerHour: 2,
	}})

	ev := testEvent(t, "api-service", 100, 0.2, 0.5, 0.5)

	var mu sync.Mutex
	fired := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if len(eng.Evaluate(ev, classifier.Critical)) > 0 {
				mu.Lock()
				fired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, fired, 2, "rolling-hour limit must hold under concurrency")
	assert.GreaterOrEqual(t, fired, 1)
}
