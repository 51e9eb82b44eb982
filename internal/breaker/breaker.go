// Package breaker implements the three-state circuit breaker guarding
// remedyd's long-lived resources.
//
// Each protected resource owns one Breaker and routes calls through Call.
// After FailureThreshold consecutive failures the breaker opens and calls
// fail fast with ErrOpen. After RecoveryTimeout one trial call is allowed
// (half-open); its outcome closes or re-opens the breaker.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fyrsmithlabs/remedyd/internal/config"
	"go.uber.org/zap"
)

// ErrOpen is returned without invoking the protected call while the breaker
// is open, or while a half-open trial is already in flight.
var ErrOpen = errors.New("circuit breaker open")

// State is the breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Breaker is an explicit circuit breaker state machine. The zero value is
// not usable; construct with New.
type Breaker struct {
	name      string
	threshold int
	recovery  time.Duration
	logger    *zap.Logger

	mu            sync.Mutex
	state         State
	failures      int
	openedAt      time.Time
	trialInFlight bool

	now func() time.Time
}

// New creates a closed breaker named for the resource it protects.
func New(name string, cfg config.BreakerConfig, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = 3
	}
	recovery := cfg.RecoveryTimeout.Duration()
	if recovery <= 0 {
		recovery = 30 * time.Second
	}
	b := &Breaker{
		name:      name,
		threshold: threshold,
		recovery:  recovery,
		logger:    logger,
		state:     StateClosed,
		now:       time.Now,
	}
	metricState.WithLabelValues(name).Set(stateValue(StateClosed))
	return b
}

// State returns the current state, accounting for recovery timeout expiry.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.recovery {
		return StateHalfOpen
	}
	return b.state
}

// Call invokes fn under breaker protection. While open it returns ErrOpen
// immediately; half-open admits exactly one trial call at a time.
func (b *Breaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := fn(ctx)
	b.record(err == nil)
	return err
}

// admit decides whether a call may proceed, advancing open->half-open when
// the recovery timeout has elapsed.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.recovery {
			metricRejected.WithLabelValues(b.name).Inc()
			return ErrOpen
		}
		b.transition(StateHalfOpen)
		b.trialInFlight = true
		return nil
	case StateHalfOpen:
		if b.trialInFlight {
			metricRejected.WithLabelValues(b.name).Inc()
			return ErrOpen
		}
		b.trialInFlight = true
		return nil
	}
	return nil
}

// record applies a call outcome to the state machine.
func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.failures = 0
		b.trialInFlight = false
		if b.state != StateClosed {
			b.transition(StateClosed)
		}
		return
	}

	switch b.state {
	case StateHalfOpen:
		// Failed trial re-opens and resets the recovery timeout.
		b.trialInFlight = false
		b.openedAt = b.now()
		b.transition(StateOpen)
	case StateClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.openedAt = b.now()
			b.transition(StateOpen)
		}
	case StateOpen:
		// A call admitted before the breaker opened; keep it open.
		b.openedAt = b.now()
	}
}

// transition must be called with mu held.
func (b *Breaker) transition(next State) {
	if b.state == next {
		return
	}
	b.logger.Info("circuit breaker transition",
		zap.String("breaker", b.name),
		zap.String("from", string(b.state)),
		zap.String("to", string(next)),
	)
	if next == StateOpen {
		metricTrips.WithLabelValues(b.name).Inc()
	}
	b.state = next
	metricState.WithLabelValues(b.name).Set(stateValue(next))
}

func stateValue(s State) float64 {
	switch s {
	case StateClosed:
		return 0
	case StateHalfOpen:
		return 1
	default:
		return 2
	}
}
