package connectivity

import (
	"context"
	"sync"
	"time"
)

// breakerState is the classic three-state breaker lifecycle.
type breakerState int

const (
	stateClosed   breakerState = iota // calls pass through
	stateOpen                         // calls rejected until cooldown elapses
	stateHalfOpen                     // probe calls allowed, watching for recovery
)

// CircuitBreaker guards the report endpoint: after enough consecutive
// failures it rejects calls outright for a cooldown period, then lets a
// few probes through before trusting the backend again. The engine keeps
// running either way; a rejected report is just a skipped report.
type CircuitBreaker struct {
	mu          sync.Mutex
	state       breakerState
	failures    int
	probes      int
	tripAfter   int
	cooldown    time.Duration
	probeQuota  int
	trippedAt   time.Time
	now         func() time.Time
}

// BreakerOption adjusts a CircuitBreaker at construction.
type BreakerOption func(*CircuitBreaker)

// WithTripThreshold sets how many consecutive failures open the breaker.
func WithTripThreshold(n int) BreakerOption {
	return func(cb *CircuitBreaker) { cb.tripAfter = n }
}

// WithCooldown sets how long the breaker stays open before probing.
func WithCooldown(d time.Duration) BreakerOption {
	return func(cb *CircuitBreaker) { cb.cooldown = d }
}

// WithProbeQuota sets how many consecutive probe successes close the
// breaker again.
func WithProbeQuota(n int) BreakerOption {
	return func(cb *CircuitBreaker) { cb.probeQuota = n }
}

// WithClock injects a clock for tests.
func WithClock(fn func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) { cb.now = fn }
}

// NewCircuitBreaker builds a breaker that trips after 5 consecutive
// failures, cools down for 30 seconds, and closes after 2 probe successes.
func NewCircuitBreaker(opts ...BreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		tripAfter:  5,
		cooldown:   30 * time.Second,
		probeQuota: 2,
		now:        time.Now,
	}
	for _, o := range opts {
		o(cb)
	}
	return cb
}

// Allow reports whether the next call may proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.tickLocked()
	return cb.state != stateOpen
}

// Observe records the outcome of a call that was allowed through.
func (cb *CircuitBreaker) Observe(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.trippedAt = cb.now()
		switch cb.state {
		case stateClosed:
			cb.failures++
			if cb.failures >= cb.tripAfter {
				cb.state = stateOpen
			}
		case stateHalfOpen:
			cb.state = stateOpen
			cb.probes = 0
		}
		return
	}
	switch cb.state {
	case stateHalfOpen:
		cb.probes++
		if cb.probes >= cb.probeQuota {
			cb.state = stateClosed
			cb.failures = 0
			cb.probes = 0
		}
	case stateClosed:
		cb.failures = 0
	}
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = stateClosed
	cb.failures = 0
	cb.probes = 0
}

// tickLocked moves an open breaker to half-open once the cooldown elapses.
func (cb *CircuitBreaker) tickLocked() {
	if cb.state == stateOpen && cb.now().Sub(cb.trippedAt) >= cb.cooldown {
		cb.state = stateHalfOpen
		cb.probes = 0
	}
}

// WithCircuitBreaker rejects calls with ErrCircuitOpen while the breaker
// is open and feeds every allowed call's outcome back into it.
func WithCircuitBreaker(cb *CircuitBreaker, endpoint string) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			if !cb.Allow() {
				return nil, &ErrCircuitOpen{Endpoint: endpoint}
			}
			resp, err := next(ctx, payload)
			cb.Observe(err)
			return resp, err
		}
	}
}
