package resilience

import (
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed allows requests to proceed normally.
	CircuitClosed CircuitState = iota

	// CircuitOpen blocks all requests during the recovery timeout.
	CircuitOpen

	// CircuitHalfOpen allows probe requests to test recovery.
	CircuitHalfOpen
)

var circuitStateNames = map[CircuitState]string{
	CircuitClosed:   "closed",
	CircuitOpen:     "open",
	CircuitHalfOpen: "half_open",
}

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	if name, ok := circuitStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// BreakerConfig configures circuit breaker behavior.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures within the
	// rolling window that opens the circuit.
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before the next
	// call transitions it to half-open.
	RecoveryTimeout time.Duration

	// WindowSize is the rolling window used for the observable failure
	// rate. Consecutive-failure counting is what trips the breaker; the
	// window feeds health snapshots.
	WindowSize int
}

// DefaultBreakerConfig returns the default configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		WindowSize:       20,
	}
}

// Breaker implements the circuit breaker pattern for the store backend.
//
// Transitions: CLOSED opens after FailureThreshold consecutive failures;
// OPEN half-opens once RecoveryTimeout elapses; HALF_OPEN closes on the
// first success and reopens on the first failure.
type Breaker struct {
	mu              sync.RWMutex
	state           CircuitState
	failures        int
	lastStateChange time.Time
	config          BreakerConfig
	recentResults   []bool
	windowIndex     int
	now             func() time.Time
}

// NewBreaker creates a circuit breaker with the given configuration.
func NewBreaker(config BreakerConfig) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = DefaultBreakerConfig().RecoveryTimeout
	}
	if config.WindowSize <= 0 {
		config.WindowSize = DefaultBreakerConfig().WindowSize
	}

	b := &Breaker{
		state:         CircuitClosed,
		config:        config,
		recentResults: make([]bool, config.WindowSize),
		now:           time.Now,
	}
	for i := range b.recentResults {
		b.recentResults[i] = true
	}
	b.lastStateChange = b.now()
	return b
}

// Allow reports whether a request should proceed. While open, it returns
// false until the recovery timeout elapses, at which point the breaker
// transitions to half-open and allows a probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		if b.now().Sub(b.lastStateChange) < b.config.RecoveryTimeout {
			return false
		}
		b.transitionTo(CircuitHalfOpen)
		return true
	default:
		return true
	}
}

// RecordSuccess tracks a successful backend call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.recordToWindow(true)
	b.failures = 0
	if b.state == CircuitHalfOpen {
		b.transitionTo(CircuitClosed)
	}
}

// RecordFailure tracks a failed backend call. Caller cancellation must not
// be recorded here: a caller giving up is not evidence the backend failed.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.recordToWindow(false)
	b.failures++

	if b.state == CircuitHalfOpen {
		b.transitionTo(CircuitOpen)
		return
	}
	if b.state == CircuitClosed && b.failures >= b.config.FailureThreshold {
		b.transitionTo(CircuitOpen)
	}
}

func (b *Breaker) recordToWindow(success bool) {
	b.recentResults[b.windowIndex] = success
	b.windowIndex = (b.windowIndex + 1) % len(b.recentResults)
}

func (b *Breaker) transitionTo(state CircuitState) {
	b.state = state
	b.lastStateChange = b.now()
	if state == CircuitClosed {
		b.failures = 0
	}
}

// State returns the current circuit state.
func (b *Breaker) State() CircuitState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Failures returns the current consecutive-failure count.
func (b *Breaker) Failures() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.failures
}

// FailureRate returns the failure rate over the rolling window.
func (b *Breaker) FailureRate() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	failures := 0
	for _, success := range b.recentResults {
		if !success {
			failures++
		}
	}
	return float64(failures) / float64(len(b.recentResults))
}

// LastStateChange returns the time of the last state transition.
func (b *Breaker) LastStateChange() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastStateChange
}

// ForceReset manually resets the breaker to closed.
func (b *Breaker) ForceReset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.transitionTo(CircuitClosed)
	for i := range b.recentResults {
		b.recentResults[i] = true
	}
}
