package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/veloprint/gateway/pkg/errors"
	"github.com/veloprint/gateway/pkg/logger"
)

// CircuitState is the breaker's position for one operation context.
type CircuitState string

const (
	StateClosed   CircuitState = "closed"
	StateOpen     CircuitState = "open"
	StateHalfOpen CircuitState = "half_open"
)

// BreakerConfig holds the circuit breaker thresholds.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the circuit.
	FailureThreshold int
	// MonitoringPeriod bounds how far apart failures may be and still count
	// as consecutive.
	MonitoringPeriod time.Duration
	// ResetTimeout is how long an open circuit waits before probing.
	ResetTimeout time.Duration
}

// circuit is the per-context state. Each key locks independently so slow
// operations on one context never serialize another. generation advances on
// every state transition so calls admitted under an older state cannot apply
// their outcome to the current one.
type circuit struct {
	mu            sync.Mutex
	state         CircuitState
	generation    uint64
	failures      int
	lastFailure   time.Time
	openedAt      time.Time
	probeInFlight bool
}

// CircuitBreaker is an arena of independent circuits keyed by operation
// context.
type CircuitBreaker struct {
	config BreakerConfig
	log    logger.Logger

	mu       sync.RWMutex
	circuits map[string]*circuit

	onTransition func(contextKey string, from, to CircuitState)
}

// NewCircuitBreaker creates the breaker registry.
func NewCircuitBreaker(config BreakerConfig, log logger.Logger) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.MonitoringPeriod <= 0 {
		config.MonitoringPeriod = time.Minute
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		config:   config,
		log:      log.WithComponent("breaker"),
		circuits: make(map[string]*circuit),
	}
}

// OnTransition registers a hook invoked on every state change (metrics).
func (cb *CircuitBreaker) OnTransition(fn func(contextKey string, from, to CircuitState)) {
	cb.onTransition = fn
}

// Execute runs op under the circuit for contextKey. An open circuit fails
// fast with a synthetic error and never invokes op; a half-open circuit
// admits exactly one probe. The circuit lock is never held while op runs.
func (cb *CircuitBreaker) Execute(ctx context.Context, contextKey string, op func(ctx context.Context) error) error {
	c := cb.circuitFor(contextKey)

	c.mu.Lock()
	now := time.Now()

	switch c.state {
	case StateOpen:
		if now.Sub(c.openedAt) < cb.config.ResetTimeout {
			remaining := cb.config.ResetTimeout - now.Sub(c.openedAt)
			c.mu.Unlock()
			return errors.ErrCircuitOpen(contextKey, remaining)
		}
		cb.transition(contextKey, c, StateHalfOpen)
		c.probeInFlight = true
	case StateHalfOpen:
		if c.probeInFlight {
			c.mu.Unlock()
			return errors.ErrCircuitOpen(contextKey, cb.config.ResetTimeout)
		}
		c.probeInFlight = true
	}
	admitted := c.generation
	c.mu.Unlock()

	err := op(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	// a state change while the call was in flight invalidates its outcome:
	// a success admitted before the circuit opened must not close it, and a
	// straggler must not release a probe slot it never claimed
	if c.generation != admitted {
		return err
	}
	c.probeInFlight = false

	if err == nil {
		if c.state != StateClosed {
			cb.transition(contextKey, c, StateClosed)
		}
		c.failures = 0
		return nil
	}

	now = time.Now()
	if c.state == StateHalfOpen {
		// failed probe re-opens and restarts the timeout
		cb.transition(contextKey, c, StateOpen)
		c.openedAt = now
		c.lastFailure = now
		return err
	}

	// failures outside the monitoring period do not accumulate
	if !c.lastFailure.IsZero() && now.Sub(c.lastFailure) > cb.config.MonitoringPeriod {
		c.failures = 0
	}
	c.failures++
	c.lastFailure = now

	if c.state == StateClosed && c.failures >= cb.config.FailureThreshold {
		cb.transition(contextKey, c, StateOpen)
		c.openedAt = now
	}
	return err
}

// State returns the current state for a context key.
func (cb *CircuitBreaker) State(contextKey string) CircuitState {
	cb.mu.RLock()
	c, ok := cb.circuits[contextKey]
	cb.mu.RUnlock()
	if !ok {
		return StateClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// States snapshots every tracked circuit for the ops surface.
func (cb *CircuitBreaker) States() map[string]CircuitState {
	cb.mu.RLock()
	keys := make([]string, 0, len(cb.circuits))
	for k := range cb.circuits {
		keys = append(keys, k)
	}
	cb.mu.RUnlock()

	out := make(map[string]CircuitState, len(keys))
	for _, k := range keys {
		out[k] = cb.State(k)
	}
	return out
}

func (cb *CircuitBreaker) circuitFor(contextKey string) *circuit {
	cb.mu.RLock()
	c, ok := cb.circuits[contextKey]
	cb.mu.RUnlock()
	if ok {
		return c
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if c, ok = cb.circuits[contextKey]; ok {
		return c
	}
	c = &circuit{state: StateClosed}
	cb.circuits[contextKey] = c
	return c
}

// transition must be called with the circuit lock held.
func (cb *CircuitBreaker) transition(contextKey string, c *circuit, to CircuitState) {
	from := c.state
	c.state = to
	c.generation++
	cb.log.Warn(context.Background(), "circuit state change",
		logger.String("operation", contextKey),
		logger.String("from", string(from)),
		logger.String("to", string(to)))
	if cb.onTransition != nil {
		cb.onTransition(contextKey, from, to)
	}
}
