package proxy

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, reject requests
	CircuitHalfOpen                     // Testing if service recovered
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreakerConfig holds circuit breaker settings
type CircuitBreakerConfig struct {
	Enabled          bool
	FailureThreshold int           // Number of failures before opening
	SuccessThreshold int           // Number of successes to close from half-open
	Timeout          time.Duration // How long to stay open before half-open
	MaxConcurrent    int           // Max concurrent calls (0 = unlimited)
}

// CircuitBreaker guards calls to the generation provider
type CircuitBreaker struct {
	mu          sync.Mutex
	config      CircuitBreakerConfig
	state       CircuitState
	failures    int
	successes   int
	lastFailure time.Time
	concurrent  int
	now         func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 2
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &CircuitBreaker{
		config: config,
		state:  CircuitClosed,
		now:    time.Now,
	}
}

// ErrCircuitOpen is returned when the circuit is open
var ErrCircuitOpen = errors.New("circuit breaker is open: provider unavailable")

// ErrTooManyConcurrent is returned when max concurrent requests exceeded
var ErrTooManyConcurrent = errors.New("too many concurrent requests")

// Execute runs fn unless the circuit is open. Any error from fn counts as
// a failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.config.Enabled {
		return fn(ctx)
	}

	if err := cb.acquire(); err != nil {
		return err
	}

	err := fn(ctx)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.concurrent--
	if err != nil {
		cb.recordFailure()
	} else {
		cb.recordSuccess()
	}
	return err
}

func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen {
		if cb.now().Sub(cb.lastFailure) <= cb.config.Timeout {
			return ErrCircuitOpen
		}
		cb.state = CircuitHalfOpen
		cb.successes = 0
	}

	if cb.config.MaxConcurrent > 0 && cb.concurrent >= cb.config.MaxConcurrent {
		return ErrTooManyConcurrent
	}
	cb.concurrent++
	return nil
}

// caller holds mu
func (cb *CircuitBreaker) recordFailure() {
	cb.failures++
	cb.lastFailure = cb.now()

	if cb.state == CircuitHalfOpen {
		cb.state = CircuitOpen
		return
	}

	if cb.failures >= cb.config.FailureThreshold {
		cb.state = CircuitOpen
	}
}

// caller holds mu
func (cb *CircuitBreaker) recordSuccess() {
	if cb.state == CircuitHalfOpen {
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.state = CircuitClosed
			cb.failures = 0
		}
	} else {
		cb.failures = 0
	}
}

// State returns the current circuit state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns circuit breaker statistics
func (cb *CircuitBreaker) Stats() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return map[string]interface{}{
		"enabled":    cb.config.Enabled,
		"state":      cb.state.String(),
		"failures":   cb.failures,
		"concurrent": cb.concurrent,
	}
}
