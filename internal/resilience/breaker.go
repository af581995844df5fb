// Package resilience guards calls to external providers with retries, a
// circuit breaker, and a ledger of failed runs.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/speedrun-cli/internal/config"
)

// BreakerState is the state of a Breaker.
type BreakerState int

const (
	// StateClosed lets calls through.
	StateClosed BreakerState = iota
	// StateOpen rejects calls until the reset timeout passes.
	StateOpen
	// StateHalfOpen lets a probe through.
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the breaker rejects a call.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// Breaker trips after a run of consecutive failures and probes again after
// ResetTimeout. A successful probe closes it; a failed one reopens it.
type Breaker struct {
	threshold    int
	resetTimeout time.Duration
	onChange     func(from, to BreakerState)

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time

	// now is swapped in tests.
	now func() time.Time
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// OnStateChange registers a hook called on every transition.
func OnStateChange(fn func(from, to BreakerState)) BreakerOption {
	return func(b *Breaker) { b.onChange = fn }
}

// NewBreaker builds a breaker from configuration (defaults: 5 failures,
// 30s reset).
func NewBreaker(cfg config.CircuitConfig, opts ...BreakerOption) *Breaker {
	b := &Breaker{
		threshold:    5,
		resetTimeout: 30 * time.Second,
		now:          time.Now,
	}
	if cfg.FailureThreshold > 0 {
		b.threshold = cfg.FailureThreshold
	}
	if cfg.ResetTimeoutSecs > 0 {
		b.resetTimeout = time.Duration(cfg.ResetTimeoutSecs) * time.Second
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// State returns the current state, reporting an expired open breaker as
// half-open.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.resetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.setState(StateClosed)
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return nil
	}
	if b.now().Sub(b.openedAt) < b.resetTimeout {
		return ErrCircuitOpen
	}
	b.setState(StateHalfOpen)
	return nil
}

// record counts a call result. Context cancellation is the caller's doing
// and never counts against the provider.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || errors.Is(err, context.Canceled) {
		b.failures = 0
		if b.state == StateHalfOpen {
			b.setState(StateClosed)
		}
		return
	}

	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.threshold {
		b.openedAt = b.now()
		b.setState(StateOpen)
	}
}

func (b *Breaker) setState(to BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onChange != nil {
		b.onChange(from, to)
	}
}

// Guard runs fn through the breaker.
func Guard[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.allow(); err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	b.record(err)
	return val, err
}
