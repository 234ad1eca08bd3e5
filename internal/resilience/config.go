package resilience

import (
	"time"
)

// FromCircuitConfig builds a CircuitBreakerConfig from configuration
// values, falling back to the defaults for anything unset. A zero
// resetTimeoutSecs means the breaker stays open until an operator
// resets it.
func FromCircuitConfig(failureThreshold, resetTimeoutSecs int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}
