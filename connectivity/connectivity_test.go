package connectivity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	h := WithRetry(3, time.Millisecond, nil)(func(ctx context.Context, payload []byte) ([]byte, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("transient")
		}
		return []byte("ok"), nil
	})

	resp, err := h(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, []byte("ok"), resp)
	require.Equal(t, 3, calls)
}

func TestWithRetryGivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	boom := errors.New("down")
	h := WithRetry(2, time.Millisecond, nil)(func(ctx context.Context, payload []byte) ([]byte, error) {
		calls++
		return nil, boom
	})

	_, err := h(context.Background(), nil)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 3, calls) // first attempt plus two retries
}

func TestWithRetryDoesNotRetryOpenCircuit(t *testing.T) {
	calls := 0
	h := WithRetry(5, time.Millisecond, nil)(func(ctx context.Context, payload []byte) ([]byte, error) {
		calls++
		return nil, &ErrCircuitOpen{Endpoint: "report"}
	})

	_, err := h(context.Background(), nil)
	var open *ErrCircuitOpen
	require.ErrorAs(t, err, &open)
	require.Equal(t, 1, calls)
}

func TestWithRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	h := WithRetry(10, time.Hour, nil)(func(ctx context.Context, payload []byte) ([]byte, error) {
		calls++
		cancel()
		return nil, errors.New("transient")
	})

	_, err := h(ctx, nil)
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestBreakerTripsAndCoolsDown(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker(
		WithTripThreshold(2),
		WithCooldown(10*time.Second),
		WithProbeQuota(1),
		WithClock(func() time.Time { return now }),
	)

	require.True(t, cb.Allow())
	cb.Observe(errors.New("fail"))
	require.True(t, cb.Allow())
	cb.Observe(errors.New("fail"))

	// Tripped: rejected until the cooldown elapses.
	require.False(t, cb.Allow())

	now = now.Add(11 * time.Second)
	require.True(t, cb.Allow()) // half-open probe

	cb.Observe(nil)
	require.True(t, cb.Allow()) // closed again
	cb.Observe(errors.New("fail"))
	require.True(t, cb.Allow()) // single failure does not re-trip
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker(
		WithTripThreshold(1),
		WithCooldown(time.Second),
		WithClock(func() time.Time { return now }),
	)

	cb.Observe(errors.New("fail"))
	require.False(t, cb.Allow())

	now = now.Add(2 * time.Second)
	require.True(t, cb.Allow())
	cb.Observe(errors.New("still down"))
	require.False(t, cb.Allow())
}

func TestWithCircuitBreakerMiddleware(t *testing.T) {
	cb := NewCircuitBreaker(WithTripThreshold(1))
	calls := 0
	h := WithCircuitBreaker(cb, "report")(func(ctx context.Context, payload []byte) ([]byte, error) {
		calls++
		return nil, errors.New("down")
	})

	_, err := h(context.Background(), nil)
	require.Error(t, err)
	require.Equal(t, 1, calls)

	// Breaker is now open: the handler is never reached.
	_, err = h(context.Background(), nil)
	var open *ErrCircuitOpen
	require.ErrorAs(t, err, &open)
	require.Equal(t, "report", open.Endpoint)
	require.Equal(t, 1, calls)
}

func TestWithTimeoutExpires(t *testing.T) {
	h := WithTimeout(5 * time.Millisecond)(func(ctx context.Context, payload []byte) ([]byte, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return []byte("late"), nil
		}
	})

	_, err := h(context.Background(), nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
