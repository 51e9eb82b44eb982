package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fyrsmithlabs/remedyd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errBoom = errors.New("boom")

func newTestBreaker(t *testing.T) (*Breaker, *time.Time) {
	t.Helper()
	b := New("test", config.BreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  config.Duration(30 * time.Second),
	}, zap.NewNop())

	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return current }
	return b, &current
}

func fail(context.Context) error  { return errBoom }
func succeed(context.Context) error { return nil }

func TestOpensAfterThreeConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.ErrorIs(t, b.Call(ctx, fail), errBoom)
		assert.Equal(t, StateClosed, b.State())
	}
	require.ErrorIs(t, b.Call(ctx, fail), errBoom)
	assert.Equal(t, StateOpen, b.State())
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(t)
	ctx := context.Background()

	require.Error(t, b.Call(ctx, fail))
	require.Error(t, b.Call(ctx, fail))
	require.NoError(t, b.Call(ctx, succeed))
	require.Error(t, b.Call(ctx, fail))
	require.Error(t, b.Call(ctx, fail))
	assert.Equal(t, StateClosed, b.State(), "non-consecutive failures must not trip")
}

func TestOpenFailsFastWithoutInvoking(t *testing.T) {
	b, clock := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Call(ctx, fail)
	}

	invoked := false
	*clock = clock.Add(10 * time.Second) // still inside recovery window
	err := b.Call(ctx, func(context.Context) error {
		invoked = true
		return nil
	})
	require.ErrorIs(t, err, ErrOpen)
	assert.False(t, invoked, "protected call must not run while open")
}

func TestHalfOpenTrialClosesOnSuccess(t *testing.T) {
	b, clock := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Call(ctx, fail)
	}

	*clock = clock.Add(31 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Call(ctx, succeed))
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenTrialReopensOnFailureAndResetsTimeout(t *testing.T) {
	b, clock := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Call(ctx, fail)
	}

	*clock = clock.Add(31 * time.Second)
	require.ErrorIs(t, b.Call(ctx, fail), errBoom)
	assert.Equal(t, StateOpen, b.State())

	// The failed trial reset the recovery timeout: 20s later is still open.
	*clock = clock.Add(20 * time.Second)
	require.ErrorIs(t, b.Call(ctx, succeed), ErrOpen)

	*clock = clock.Add(11 * time.Second)
	require.NoError(t, b.Call(ctx, succeed))
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenAdmitsExactlyOneTrial(t *testing.T) {
	b, clock := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Call(ctx, fail)
	}
	*clock = clock.Add(31 * time.Second)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Call(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	// Second caller during the in-flight trial is rejected.
	require.ErrorIs(t, b.Call(ctx, succeed), ErrOpen)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, b.State())
}
