package errors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"weaver/internal/logging"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// StateClosed - normal operation, requests allowed.
	StateClosed CircuitState = iota
	// StateOpen - failing, requests blocked.
	StateOpen
	// StateHalfOpen - testing if the provider recovered.
	StateHalfOpen
)

func (s CircuitState) String() string {
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

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	FailureThreshold int           // Consecutive failures to open the circuit (default: 5)
	SuccessThreshold int           // Consecutive half-open successes to close it (default: 2)
	Timeout          time.Duration // Wait before attempting half-open (default: 30s)
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// ErrCircuitOpen is returned when the breaker rejects a request outright.
type CircuitOpenError struct {
	Name string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open", e.Name)
}

// CircuitBreaker guards an external provider. The engine wraps the embedding
// provider with one so a flapping provider degrades retrieval quickly instead
// of stalling every compose call on timeouts.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	logger logging.Logger

	mu              sync.Mutex
	state           CircuitState
	failureCount    int
	successCount    int
	lastStateChange time.Time
}

// NewCircuitBreaker creates a circuit breaker in the closed state.
func NewCircuitBreaker(name string, config CircuitBreakerConfig, logger logging.Logger) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &CircuitBreaker{
		name:            name,
		config:          config,
		logger:          logging.OrNop(logger),
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// ExecuteFunc runs fn under circuit breaker protection and returns its result.
func ExecuteFunc[T any](cb *CircuitBreaker, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.Allow(); err != nil {
		return zero, err
	}
	result, err := fn(ctx)
	cb.Mark(err == nil)
	return result, err
}

// Allow reports whether a request may proceed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(cb.lastStateChange) >= cb.config.Timeout {
			cb.transition(StateHalfOpen)
			return nil
		}
		return &CircuitOpenError{Name: cb.name}
	case StateHalfOpen:
		return nil
	}
	return nil
}

// Mark records a request outcome.
func (cb *CircuitBreaker) Mark(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if success {
		cb.failureCount = 0
		if cb.state == StateHalfOpen {
			cb.successCount++
			if cb.successCount >= cb.config.SuccessThreshold {
				cb.transition(StateClosed)
			}
		}
		return
	}

	cb.successCount = 0
	cb.failureCount++
	if cb.state == StateHalfOpen || cb.failureCount >= cb.config.FailureThreshold {
		cb.transition(StateOpen)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// transition must be called with cb.mu held.
func (cb *CircuitBreaker) transition(to CircuitState) {
	if cb.state == to {
		return
	}
	cb.logger.Warn("circuit breaker %q: %s -> %s", cb.name, cb.state, to)
	cb.state = to
	cb.failureCount = 0
	cb.successCount = 0
	cb.lastStateChange = time.Now()
}
