// Package breaker implements the closed/open/half-open circuit breaker
// state machine, grounded directly on the teacher's
// pkg/resilience/circuit_breaker.go: the same atomic-value state storage,
// the same Counts/transitionTo shape, and the same timeout-via-goroutine
// Execute pattern, generalized to the spec's error-kind vocabulary
// (pkg/perrors) instead of the teacher's open ErrorClass enum.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/developer-mesh/ptolemies/pkg/observability"
	"github.com/developer-mesh/ptolemies/pkg/perrors"
)

// State is the circuit breaker's current operating mode.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Errors returned by Execute outside of the wrapped function's own error.
var (
	ErrOpen               = errors.New("circuit breaker is open")
	ErrTimeout            = errors.New("circuit breaker timeout")
	ErrMaxHalfOpenRequests = errors.New("max requests exceeded in half-open state")
)

// Config tunes breaker thresholds. Zero values fall back to defaults.
type Config struct {
	FailureThreshold    int
	FailureRatio        float64
	ResetTimeout        time.Duration
	SuccessThreshold    int
	TimeoutThreshold    time.Duration
	MaxRequestsHalfOpen int
	MinimumRequestCount int
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.FailureRatio == 0 {
		c.FailureRatio = 0.6
	}
	if c.ResetTimeout == 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = 1
	}
	if c.TimeoutThreshold == 0 {
		c.TimeoutThreshold = 5 * time.Second
	}
	if c.MaxRequestsHalfOpen == 0 {
		c.MaxRequestsHalfOpen = 5
	}
	if c.MinimumRequestCount == 0 {
		c.MinimumRequestCount = 10
	}
	return c
}

// counts tracks request outcomes within the current window/state.
type counts struct {
	Requests            int64
	Successes           int64
	Failures            int64
	ConsecutiveSuccesses int64
	ConsecutiveFailures  int64
}

func (c *counts) recordSuccess() {
	c.Requests++
	c.Successes++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *counts) recordFailure() {
	c.Requests++
	c.Failures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// Breaker implements the circuit breaker pattern.
type Breaker struct {
	name   string
	config Config

	mu              sync.RWMutex
	state           State
	cnt             counts
	lastFailureTime time.Time
	lastStateChange time.Time

	halfOpenRequests atomic.Int32

	logger  observability.Logger
	metrics observability.MetricsClient
}

// New creates a circuit breaker with the given name and configuration.
func New(name string, config Config, logger observability.Logger, metrics observability.MetricsClient) *Breaker {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoOpMetricsClient()
	}
	b := &Breaker{
		name:            name,
		config:          config.withDefaults(),
		state:           StateClosed,
		lastStateChange: time.Now(),
		logger:          logger,
		metrics:         metrics,
	}
	b.recordStateMetric(StateClosed)
	return b
}

// Execute runs fn under circuit breaker protection, enforcing the
// configured timeout via ctx and a fallback timer.
func (b *Breaker) Execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	start := time.Now()

	if err := b.canExecute(); err != nil {
		b.recordOutcome(false)
		b.recordMetrics("rejected", false, time.Since(start))
		return nil, perrors.Wrap(err, perrors.KindCircuitOpen, b.name)
	}

	if b.State() == StateHalfOpen {
		b.halfOpenRequests.Add(1)
		defer b.halfOpenRequests.Add(-1)
	}

	type result struct {
		value interface{}
		err   error
	}
	resultCh := make(chan result, 1)

	go func() {
		v, err := fn()
		resultCh <- result{value: v, err: err}
	}()

	select {
	case <-ctx.Done():
		b.recordOutcome(false)
		b.recordMetrics("cancelled", false, time.Since(start))
		return nil, perrors.Wrap(ctx.Err(), perrors.KindCancelled, b.name)

	case <-time.After(b.config.TimeoutThreshold):
		b.recordOutcome(false)
		b.recordMetrics("timeout", false, time.Since(start))
		return nil, perrors.Wrap(ErrTimeout, perrors.KindTimeout, b.name)

	case res := <-resultCh:
		if res.err != nil {
			b.recordOutcome(false)
			b.recordMetrics("failure", false, time.Since(start))
			return nil, res.err
		}
		b.recordOutcome(true)
		b.recordMetrics("success", true, time.Since(start))
		return res.value, nil
	}
}

func (b *Breaker) canExecute() error {
	b.mu.RLock()
	state := b.state
	lastFailure := b.lastFailureTime
	b.mu.RUnlock()

	switch state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(lastFailure) > b.config.ResetTimeout {
			b.transitionTo(StateHalfOpen)
			return nil
		}
		return ErrOpen
	case StateHalfOpen:
		if int(b.halfOpenRequests.Load()) >= b.config.MaxRequestsHalfOpen {
			return ErrMaxHalfOpenRequests
		}
		return nil
	default:
		return fmt.Errorf("unknown circuit breaker state: %v", state)
	}
}

func (b *Breaker) recordOutcome(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.cnt.recordSuccess()
	} else {
		b.cnt.recordFailure()
		b.lastFailureTime = time.Now()
	}

	switch b.state {
	case StateClosed:
		if !success {
			if b.cnt.ConsecutiveFailures >= int64(b.config.FailureThreshold) {
				b.transitionToLocked(StateOpen)
			} else if b.cnt.Requests >= int64(b.config.MinimumRequestCount) {
				ratio := float64(b.cnt.Failures) / float64(b.cnt.Requests)
				if ratio >= b.config.FailureRatio {
					b.transitionToLocked(StateOpen)
				}
			}
		}
	case StateHalfOpen:
		if success {
			if b.cnt.ConsecutiveSuccesses >= int64(b.config.SuccessThreshold) {
				b.transitionToLocked(StateClosed)
			}
		} else {
			b.transitionToLocked(StateOpen)
		}
	}
}

// transitionTo acquires the lock; transitionToLocked assumes it is held.
func (b *Breaker) transitionTo(newState State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionToLocked(newState)
}

func (b *Breaker) transitionToLocked(newState State) {
	if b.state == newState {
		return
	}
	old := b.state
	b.state = newState
	b.lastStateChange = time.Now()

	if newState == StateHalfOpen {
		b.cnt = counts{}
		b.halfOpenRequests.Store(0)
	}

	b.logger.Info("circuit breaker state changed", map[string]interface{}{
		"name": b.name, "from": old.String(), "to": newState.String(),
	})
	b.metrics.IncrementCounterWithLabels("breaker_state_changes_total", 1, map[string]string{
		"name": b.name, "from": old.String(), "to": newState.String(),
	})
	b.recordStateMetric(newState)
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Reset forces the breaker back to closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.transitionToLocked(StateClosed)
	b.cnt = counts{}
	b.halfOpenRequests.Store(0)
	b.mu.Unlock()
}

func (b *Breaker) recordMetrics(status string, success bool, d time.Duration) {
	labels := map[string]string{"name": b.name, "state": b.State().String(), "status": status}
	b.metrics.IncrementCounterWithLabels("breaker_requests_total", 1, labels)
	b.metrics.RecordHistogram("breaker_request_duration_seconds", d.Seconds(), labels)
}

func (b *Breaker) recordStateMetric(s State) {
	b.metrics.RecordGauge("breaker_current_state", float64(s), map[string]string{"name": b.name})
}

// Manager multiplexes named breakers, matching the teacher's
// CircuitBreakerManager.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	defaults Config
	logger   observability.Logger
	metrics  observability.MetricsClient
}

// NewManager creates a breaker manager using defaults for breakers created
// on demand.
func NewManager(defaults Config, logger observability.Logger, metrics observability.MetricsClient) *Manager {
	return &Manager{
		breakers: make(map[string]*Breaker),
		defaults: defaults,
		logger:   logger,
		metrics:  metrics,
	}
}

// Get returns the named breaker, creating it with defaults if absent.
func (m *Manager) Get(name string) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok = m.breakers[name]; ok {
		return b
	}
	b = New(name, m.defaults, m.logger, m.metrics)
	m.breakers[name] = b
	return b
}

// Execute runs fn through the named breaker.
func (m *Manager) Execute(ctx context.Context, name string, fn func() (interface{}, error)) (interface{}, error) {
	return m.Get(name).Execute(ctx, fn)
}
