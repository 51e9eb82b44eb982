package policy

import (
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/classifier"
	"github.com/fyrsmithlabs/remedyd/internal/config"
	"github.com/fyrsmithlabs/remedyd/internal/event"
)

const rateWindow = time.Hour

// policyState tracks firing history of one policy for one component.
type policyState struct {
	lastFired time.Time
	firings   []time.Time
}

// tracker holds all per-policy state for one component. Its mutex gives the
// single-writer-per-key discipline: concurrent evaluation for different
// components never contends on the same tracker.
type tracker struct {
	mu     sync.Mutex
	states map[string]*policyState
}

func (t *tracker) state(policyName string) *policyState {
	s, ok := t.states[policyName]
	if !ok {
		s = &policyState{}
		t.states[policyName] = s
	}
	return s
}

// Engine evaluates healing policies in ascending priority order. Policies
// are immutable after construction; the only mutable state is the bounded
// per-component firing trackers.
type Engine struct {
	logger   *zap.Logger
	policies []Policy

	// trackMu guards tracker creation only; per-component access uses the
	// tracker's own mutex.
	trackMu  sync.Mutex
	trackers *lru.Cache[string, *tracker]

	now func() time.Time
}

// New compiles the configured policies, falling back to the built-in set
// when none are configured. A malformed policy is logged and skipped; the
// engine fails only when no valid policy remains.
func New(cfg config.PolicyConfig, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	specs := cfg.Policies
	if len(specs) == 0 {
		specs = DefaultSpecs()
	}

	policies := make([]Policy, 0, len(specs))
	for _, spec := range specs {
		p, err := compile(spec)
		if err != nil {
			logger.Warn("skipping malformed policy",
				zap.String("policy", spec.Name),
				zap.Error(err),
			)
			metricMalformed.Inc()
			continue
		}
		policies = append(policies, p)
	}
	if len(policies) == 0 {
		return nil, ErrNoPolicies
	}

	// Stable sort keeps declaration order among equal priorities.
	sort.SliceStable(policies, func(i, j int) bool {
		return policies[i].Priority < policies[j].Priority
	})

	trackers, err := lru.New[string, *tracker](cfg.MaxTrackedComponents)
	if err != nil {
		return nil, fmt.Errorf("creating component tracker cache: %w", err)
	}

	return &Engine{
		logger:   logger,
		policies: policies,
		trackers: trackers,
		now:      time.Now,
	}, nil
}

// Policies returns the compiled policy set in evaluation order.
func (e *Engine) Policies() []Policy {
	out := make([]Policy, len(e.policies))
	copy(out, e.policies)
	return out
}

// Evaluate returns candidate actions for the event, ordered by policy
// priority then by each policy's internal action order, duplicates removed.
// Firing a policy is atomic: either all its actions are emitted and its
// cooldown and rate counters advance together, or nothing changes.
func (e *Engine) Evaluate(ev *event.Event, class classifier.Classification) []Candidate {
	if ev == nil || !class.Eligible() {
		return nil
	}

	trk := e.trackerFor(ev.Component)
	trk.mu.Lock()
	defer trk.mu.Unlock()

	now := e.now()
	var candidates []Candidate
	seen := make(map[string]struct{})

	for _, p := range e.policies {
		if p.MinClassification != "" && !class.AtLeast(p.MinClassification) {
			continue
		}
		if !conditionsHold(p, ev) {
			continue
		}

		state := trk.state(p.Name)
		if !state.lastFired.IsZero() && now.Sub(state.lastFired) < p.Cooldown {
			metricSuppressed.WithLabelValues(p.Name, "cooldown").Inc()
			continue
		}
		state.firings = pruneWindow(state.firings, now)
		if p.MaxPerHour > 0 && len(state.firings) >= p.MaxPerHour {
			metricSuppressed.WithLabelValues(p.Name, "rate_limit").Inc()
			continue
		}

		for _, action := range p.Actions {
			if _, dup := seen[action]; dup {
				continue
			}
			seen[action] = struct{}{}
			candidates = append(candidates, Candidate{
				Action:     action,
				PolicyName: p.Name,
				Priority:   p.Priority,
			})
		}
		state.lastFired = now
		state.firings = append(state.firings, now)
		metricFired.WithLabelValues(p.Name).Inc()

		e.logger.Debug("policy fired",
			zap.String("policy", p.Name),
			zap.String("component", ev.Component),
			zap.Int("priority", p.Priority),
		)

		if p.Terminal {
			break
		}
	}
	return candidates
}

func (e *Engine) trackerFor(component string) *tracker {
	if trk, ok := e.trackers.Get(component); ok {
		return trk
	}
	e.trackMu.Lock()
	defer e.trackMu.Unlock()
	if trk, ok := e.trackers.Get(component); ok {
		return trk
	}
	trk := &tracker{states: make(map[string]*policyState)}
	e.trackers.Add(component, trk)
	return trk
}

func conditionsHold(p Policy, ev *event.Event) bool {
	for _, c := range p.Conditions {
		if !c.matches(ev) {
			return false
		}
	}
	return true
}

// pruneWindow drops firings older than the rolling rate window.
func pruneWindow(firings []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-rateWindow)
	i := 0
	for i < len(firings) && !firings[i].After(cutoff) {
		i++
	}
	return firings[i:]
}
