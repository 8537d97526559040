package governance

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrCircuitOpen is returned when the circuit breaker is in the open state.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// CircuitBreakerState represents the state of a circuit breaker.
type CircuitBreakerState string

const (
	// StateClosed indicates the circuit is closed and calls are allowed.
	StateClosed CircuitBreakerState = "closed"
	// StateOpen indicates the circuit is open and calls are rejected.
	StateOpen CircuitBreakerState = "open"
	// StateHalfOpen indicates the circuit is probing whether the scanner has recovered.
	StateHalfOpen CircuitBreakerState = "half-open"
)

// CircuitBreakerConfig defines thresholds for circuit breaking.
type CircuitBreakerConfig struct {
	// MaxFailures is the consecutive failure count that opens the circuit.
	MaxFailures int
	// Cooldown is how long the circuit stays open before transitioning to half-open.
	Cooldown time.Duration
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures: 5,
		Cooldown:    30 * time.Second,
	}
}

// CircuitBreaker implements the circuit breaker pattern for one scanner.
// closed -> open after MaxFailures consecutive failures; open -> half-open
// once the cooldown elapses; half-open admits exactly one probe call —
// concurrent callers are rejected while the probe is in flight — and
// closes on probe success or reopens on probe failure.
type CircuitBreaker struct {
	mu                  sync.RWMutex
	state               CircuitBreakerState
	config              CircuitBreakerConfig
	consecutiveFailures int
	probeInFlight       bool
	openedAt            time.Time
	openUntil           time.Time
	lastStateChange     time.Time
	totalFailures       int
	totalSuccesses      int
	now                 func() time.Time
}

// NewCircuitBreaker creates a circuit breaker with the provided configuration.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		state:           StateClosed,
		config:          config,
		lastStateChange: time.Now(),
		now:             time.Now,
	}
}

// Execute wraps a call with circuit breaker protection.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn()
	cb.afterRequest(err)
	return err
}

// Allow reports whether a call may proceed right now, claiming the probe
// slot when the breaker is half-open. Callers that use Allow directly must
// pair it with Record.
func (cb *CircuitBreaker) Allow() error {
	return cb.beforeRequest()
}

// Record feeds a call outcome back into the state machine.
func (cb *CircuitBreaker) Record(err error) {
	cb.afterRequest(err)
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if now.After(cb.openUntil) || now.Equal(cb.openUntil) {
			cb.transitionToLocked(StateHalfOpen, now)
			cb.probeInFlight = true
			return nil
		}
		return ErrCircuitOpen
	case StateHalfOpen:
		if cb.probeInFlight {
			return ErrCircuitOpen
		}
		cb.probeInFlight = true
		return nil
	default:
		return fmt.Errorf("unknown circuit breaker state: %s", cb.state)
	}
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()

	if err == nil {
		cb.totalSuccesses++
		cb.consecutiveFailures = 0
	} else {
		cb.totalFailures++
		cb.consecutiveFailures++
	}

	switch cb.state {
	case StateHalfOpen:
		cb.probeInFlight = false
		if err != nil {
			cb.transitionToLocked(StateOpen, now)
			return
		}
		cb.transitionToLocked(StateClosed, now)
	case StateClosed:
		if err != nil && cb.consecutiveFailures >= cb.config.MaxFailures {
			cb.transitionToLocked(StateOpen, now)
		}
	}
}

func (cb *CircuitBreaker) transitionToLocked(newState CircuitBreakerState, now time.Time) {
	if cb.state == newState {
		return
	}

	cb.state = newState
	cb.lastStateChange = now
	cb.consecutiveFailures = 0
	cb.probeInFlight = false

	switch newState {
	case StateOpen:
		cb.openedAt = now
		cb.openUntil = now.Add(cb.config.Cooldown)
	case StateHalfOpen, StateClosed:
		cb.openUntil = time.Time{}
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset manually resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionToLocked(StateClosed, cb.now())
	cb.totalFailures = 0
	cb.totalSuccesses = 0
}

// CircuitBreakerStats exposes circuit breaker status information.
type CircuitBreakerStats struct {
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutiveFailures"`
	Failures            int    `json:"failures"`
	Successes           int    `json:"successes"`
	LastStateChange     string `json:"lastStateChange"`
	OpenedAt            string `json:"openedAt,omitempty"`
}

// Stats returns current circuit breaker statistics.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	stats := CircuitBreakerStats{
		State:               string(cb.state),
		ConsecutiveFailures: cb.consecutiveFailures,
		Failures:            cb.totalFailures,
		Successes:           cb.totalSuccesses,
		LastStateChange:     cb.lastStateChange.Format(time.RFC3339),
	}
	if !cb.openedAt.IsZero() {
		stats.OpenedAt = cb.openedAt.Format(time.RFC3339)
	}
	return stats
}

// CircuitBreakerManager manages circuit breakers for multiple scanners.
type CircuitBreakerManager struct {
	mu       sync.RWMutex
	config   CircuitBreakerConfig
	breakers map[string]*CircuitBreaker
}

// NewCircuitBreakerManager creates a manager that builds breakers with the
// given configuration.
func NewCircuitBreakerManager(config CircuitBreakerConfig) *CircuitBreakerManager {
	return &CircuitBreakerManager{
		config:   config,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get retrieves the circuit breaker for a scanner, creating one if needed.
func (m *CircuitBreakerManager) Get(scannerID string) *CircuitBreaker {
	m.mu.RLock()
	cb, exists := m.breakers[scannerID]
	m.mu.RUnlock()

	if exists {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cb, exists := m.breakers[scannerID]; exists {
		return cb
	}

	cb = NewCircuitBreaker(m.config)
	m.breakers[scannerID] = cb
	return cb
}

// Stats returns statistics for all circuit breakers.
func (m *CircuitBreakerManager) Stats() map[string]CircuitBreakerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]CircuitBreakerStats, len(m.breakers))
	for scannerID, cb := range m.breakers {
		stats[scannerID] = cb.Stats()
	}
	return stats
}

// ResetAll resets all circuit breakers to closed state.
func (m *CircuitBreakerManager) ResetAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, cb := range m.breakers {
		cb.Reset()
	}
}
