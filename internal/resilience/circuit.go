// Package resilience provides the circuit breaker, bounded retry, and
// error-classification primitives shared by the source adapters and the
// enrichment cascade.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state — calls flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means too many consecutive failures — calls are skipped.
	CircuitOpen
	// CircuitHalfOpen allows a single probe call to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected because the circuit
// is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig controls trip and recovery behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before the
	// circuit opens. Default: 5.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before allowing a
	// half-open probe. Zero means the circuit stays open until an
	// operator calls Reset. Default: 0 (manual reset only).
	ResetTimeout time.Duration

	// HalfOpenMaxProbes is the number of successful probes required in
	// half-open state before closing the circuit. Default: 1.
	HalfOpenMaxProbes int

	// OnStateChange is called when the circuit transitions between states.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns the defaults used by the cascade:
// trip after 5 consecutive failures, stay open until an operator resets.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:  5,
		HalfOpenMaxProbes: 1,
	}
}

// CircuitBreaker tracks consecutive failures for one source category.
// The orchestrator consults Allow before issuing a call and reports the
// outcome through RecordSuccess/RecordFailure; any success resets the
// counter.
type CircuitBreaker struct {
	cfg   CircuitBreakerConfig
	mu    sync.Mutex
	state CircuitState

	consecutiveFailures int
	lastFailureTime     time.Time
	halfOpenSuccesses   int

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewCircuitBreaker creates a circuit breaker with the given config.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.HalfOpenMaxProbes <= 0 {
		cfg.HalfOpenMaxProbes = 1
	}
	return &CircuitBreaker{
		cfg:     cfg,
		state:   CircuitClosed,
		nowFunc: time.Now,
	}
}

// Allow reports whether a call may be issued now. When the circuit is
// open and a nonzero ResetTimeout has elapsed, the breaker moves to
// half-open and admits a probe.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.cfg.ResetTimeout > 0 && cb.nowFunc().Sub(cb.lastFailureTime) >= cb.cfg.ResetTimeout {
			cb.transition(CircuitHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess notes a successful call. The consecutive-failure counter
// resets regardless of prior count; from half-open the circuit closes
// once enough probes have succeeded.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitHalfOpen:
		cb.halfOpenSuccesses++
		if cb.halfOpenSuccesses >= cb.cfg.HalfOpenMaxProbes {
			cb.transition(CircuitClosed)
			cb.consecutiveFailures = 0
			cb.halfOpenSuccesses = 0
		}
	default:
		cb.consecutiveFailures = 0
	}
}

// RecordFailure notes a failed call, opening the circuit when the
// consecutive count reaches the threshold. A failure during a half-open
// probe reopens the circuit immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.lastFailureTime = cb.nowFunc()

	switch cb.state {
	case CircuitClosed:
		if cb.consecutiveFailures >= cb.cfg.FailureThreshold {
			cb.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.transition(CircuitOpen)
		cb.halfOpenSuccesses = 0
	}
}

// Execute runs fn through the circuit breaker. Returns ErrCircuitOpen
// without calling fn if the circuit is open; otherwise the outcome is
// recorded.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}
	err := fn(ctx)
	if err != nil {
		cb.RecordFailure()
	} else {
		cb.RecordSuccess()
	}
	return err
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && cb.cfg.ResetTimeout > 0 &&
		cb.nowFunc().Sub(cb.lastFailureTime) >= cb.cfg.ResetTimeout {
		return CircuitHalfOpen
	}
	return cb.state
}

// Reset forces the circuit back to closed. This is the operator recovery
// path for breakers configured without a reset timeout.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	old := cb.state
	cb.state = CircuitClosed
	cb.consecutiveFailures = 0
	cb.halfOpenSuccesses = 0
	if old != CircuitClosed && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(old, CircuitClosed)
	}
}

// Counters returns the current failure count and state for observability.
func (cb *CircuitBreaker) Counters() (consecutiveFailures int, state CircuitState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFailures, cb.state
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}

// BreakerStatus is the observable view of one category's breaker.
type BreakerStatus struct {
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	Threshold           int    `json:"threshold"`
}

// CategoryBreakers manages one circuit breaker per source category so
// unrelated categories trip independently. Instances are injectable:
// tests and the status server construct their own rather than sharing a
// package-level singleton.
type CategoryBreakers struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	cfg      CircuitBreakerConfig
}

// NewCategoryBreakers creates a registry of per-category circuit breakers.
func NewCategoryBreakers(cfg CircuitBreakerConfig) *CategoryBreakers {
	return &CategoryBreakers{
		breakers: make(map[string]*CircuitBreaker),
		cfg:      cfg,
	}
}

// Get returns the breaker for the named category, creating one if needed.
func (cb *CategoryBreakers) Get(category string) *CircuitBreaker {
	cb.mu.RLock()
	b, ok := cb.breakers[category]
	cb.mu.RUnlock()
	if ok {
		return b
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	// Double-check after acquiring write lock.
	if b, ok = cb.breakers[category]; ok {
		return b
	}
	b = NewCircuitBreaker(cb.cfg)
	cb.breakers[category] = b
	return b
}

// Snapshot returns the status of every breaker seen so far.
func (cb *CategoryBreakers) Snapshot() map[string]BreakerStatus {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	out := make(map[string]BreakerStatus, len(cb.breakers))
	for name, b := range cb.breakers {
		failures, _ := b.Counters()
		out[name] = BreakerStatus{
			State:               b.State().String(),
			ConsecutiveFailures: failures,
			Threshold:           cb.cfg.FailureThreshold,
		}
	}
	return out
}

// Reset closes the breaker for one category. It reports whether a
// breaker with that name existed.
func (cb *CategoryBreakers) Reset(category string) bool {
	cb.mu.RLock()
	b, ok := cb.breakers[category]
	cb.mu.RUnlock()
	if !ok {
		return false
	}
	b.Reset()
	return true
}

// ResetAll closes every breaker in the registry.
func (cb *CategoryBreakers) ResetAll() {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	for _, b := range cb.breakers {
		b.Reset()
	}
}
