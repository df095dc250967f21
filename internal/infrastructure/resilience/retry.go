package resilience

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/veloprint/gateway/pkg/constants"
	gwerrors "github.com/veloprint/gateway/pkg/errors"
	"github.com/veloprint/gateway/pkg/logger"
)

// BackoffStrategy selects how the inter-attempt delay grows.
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
	BackoffJittered    BackoffStrategy = "jittered"
)

// RetryOptions configures one ExecuteWithRetry call.
type RetryOptions struct {
	// MaxRetries is the number of retries after the first attempt; the
	// operation runs at most MaxRetries+1 times.
	MaxRetries int
	BaseDelay  time.Duration
	Strategy   BackoffStrategy

	// Context names the operation for metrics and circuit-breaker scoping.
	Context string
}

// RetryExhaustedError is raised when every attempt failed with a retryable
// classification. It carries the attempt count and the final classification.
type RetryExhaustedError struct {
	Operation      string
	TotalAttempts  int
	Classification Classification
	LastErr        error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts (%s): %v",
		e.Operation, e.TotalAttempts, e.Classification.Class, e.LastErr)
}

func (e *RetryExhaustedError) Unwrap() error { return e.LastErr }

// ContextMetrics accumulates failure counters per named operation context.
type ContextMetrics struct {
	TotalErrors         int64                `json:"total_errors"`
	ConsecutiveFailures int64                `json:"consecutive_failures"`
	ByClass             map[ErrorClass]int64 `json:"by_class"`
	LastError           string               `json:"last_error,omitempty"`
	LastErrorAt         time.Time            `json:"last_error_at,omitempty"`
}

// Executor runs operations with classified retries. Metrics are kept per
// context key under a dedicated lock.
type Executor struct {
	log logger.Logger

	mu      sync.Mutex
	metrics map[string]*ContextMetrics

	// sleep is swappable in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates a retry executor.
func NewExecutor(log logger.Logger) *Executor {
	return &Executor{
		log:     log.WithComponent("resilience"),
		metrics: make(map[string]*ContextMetrics),
		sleep:   sleepCtx,
	}
}

// ExecuteWithRetry runs op up to MaxRetries+1 times. Delay between attempts
// follows the configured strategy capped by the hard ceiling; an error whose
// classification is not retryable stops immediately. On exhaustion the raised
// error carries attempt count and classification.
func (e *Executor) ExecuteWithRetry(ctx context.Context, op func(ctx context.Context) error, opts RetryOptions) error {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	if opts.Strategy == "" {
		opts.Strategy = BackoffJittered
	}
	if opts.Context == "" {
		opts.Context = "default"
	}

	var lastErr error
	var lastClass Classification

	attempts := 0
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := e.delayFor(opts, attempt, lastClass)
			if err := e.sleep(ctx, delay); err != nil {
				return err
			}
		}

		attempts++
		err := op(ctx)
		if err == nil {
			e.recordSuccess(opts.Context)
			return nil
		}

		lastErr = err
		lastClass = Classify(err)
		e.recordFailure(opts.Context, lastClass, err)

		if !lastClass.Retryable {
			return err
		}
		e.log.Debug(ctx, "retryable failure",
			logger.String("operation", opts.Context),
			logger.String("class", string(lastClass.Class)),
			logger.Int("attempt", attempts),
			logger.Error(err))
	}

	if gwErr, ok := gwerrors.AsGatewayError(lastErr); ok {
		gwErr.WithMetadata("total_attempts", attempts).
			WithMetadata("error_class", string(lastClass.Class))
	}
	return &RetryExhaustedError{
		Operation:      opts.Context,
		TotalAttempts:  attempts,
		Classification: lastClass,
		LastErr:        lastErr,
	}
}

// Metrics returns a copy of the counters for a context key.
func (e *Executor) Metrics(contextKey string) ContextMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.metrics[contextKey]
	if !ok {
		return ContextMetrics{ByClass: map[ErrorClass]int64{}}
	}
	out := *m
	out.ByClass = make(map[ErrorClass]int64, len(m.ByClass))
	for k, v := range m.ByClass {
		out.ByClass[k] = v
	}
	return out
}

// AllMetrics snapshots every context's counters for the ops surface.
func (e *Executor) AllMetrics() map[string]ContextMetrics {
	e.mu.Lock()
	keys := make([]string, 0, len(e.metrics))
	for k := range e.metrics {
		keys = append(keys, k)
	}
	e.mu.Unlock()

	out := make(map[string]ContextMetrics, len(keys))
	for _, k := range keys {
		out[k] = e.Metrics(k)
	}
	return out
}

func (e *Executor) delayFor(opts RetryOptions, attempt int, class Classification) time.Duration {
	base := float64(opts.BaseDelay)
	mult := class.BackoffMultiplier
	if mult <= 0 {
		mult = 2.0
	}

	var d float64
	switch opts.Strategy {
	case BackoffFixed:
		d = base
	case BackoffLinear:
		d = base * float64(attempt)
	case BackoffExponential:
		d = base * pow(mult, attempt-1)
	case BackoffJittered:
		d = base * pow(mult, attempt-1)
		d = d/2 + rand.Float64()*d/2
	default:
		d = base
	}

	if max := float64(constants.MaxRetryDelay); d > max {
		d = max
	}
	return time.Duration(d)
}

func (e *Executor) recordFailure(contextKey string, class Classification, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.metrics[contextKey]
	if !ok {
		m = &ContextMetrics{ByClass: make(map[ErrorClass]int64)}
		e.metrics[contextKey] = m
	}
	m.TotalErrors++
	m.ConsecutiveFailures++
	m.ByClass[class.Class]++
	m.LastError = err.Error()
	m.LastErrorAt = time.Now()
}

func (e *Executor) recordSuccess(contextKey string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if m, ok := e.metrics[contextKey]; ok {
		m.ConsecutiveFailures = 0
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func pow(base float64, exp int) float64 {
	if exp < 0 {
		exp = 0
	}
	out := 1.0
	for i := 0; i < exp; i++ {
		out *= base
	}
	return out
}
