// Package connectivity hardens the engine's outbound report path. The
// backend is reached over exactly one shape of call (bytes in, bytes out),
// so the package exposes that shape as Handler plus the three wrappers the
// transport composes around it: a per-call timeout, retry with backoff,
// and a circuit breaker that stops hammering a backend that is down.
package connectivity

import (
	"context"
	"fmt"
	"time"
)

// Handler sends a payload to the backend and returns the response body.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// Middleware wraps a Handler without changing its signature.
type Middleware func(next Handler) Handler

// WithTimeout bounds each call. A zero or negative duration disables the
// bound entirely.
func WithTimeout(d time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			if d > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}
			return next(ctx, payload)
		}
	}
}

// WithRetry retries failed calls up to maxRetries times, doubling the wait
// between attempts starting from baseBackoff. It gives up immediately when
// the context is done or the circuit breaker rejected the call (retrying
// against an open breaker cannot succeed). onRetry, if non-nil, is invoked
// before each wait with the attempt number and the error that caused it.
func WithRetry(maxRetries int, baseBackoff time.Duration, onRetry func(attempt int, err error)) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			var lastErr error
			for attempt := 0; attempt <= maxRetries; attempt++ {
				resp, err := next(ctx, payload)
				if err == nil {
					return resp, nil
				}
				lastErr = err
				if ctx.Err() != nil {
					return nil, lastErr
				}
				if _, open := err.(*ErrCircuitOpen); open {
					return nil, err
				}
				if attempt == maxRetries {
					break
				}
				if onRetry != nil {
					onRetry(attempt+1, err)
				}
				wait := baseBackoff * (1 << uint(attempt))
				select {
				case <-ctx.Done():
					return nil, lastErr
				case <-time.After(wait):
				}
			}
			return nil, lastErr
		}
	}
}

// ErrCircuitOpen is returned when the breaker rejects a call without
// attempting the backend.
type ErrCircuitOpen struct {
	Endpoint string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("connectivity: circuit open: %s", e.Endpoint)
}
