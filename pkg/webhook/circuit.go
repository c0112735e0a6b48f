package webhook

import (
	"sync"
	"time"
)

// CircuitState is the state of an endpoint's circuit breaker
type CircuitState int

const (
	// CircuitClosed lets requests through
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects requests until the recovery timeout elapses
	CircuitOpen
	// CircuitHalfOpen lets probe requests through
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

// CircuitBreaker stops deliveries to an endpoint after repeated failures.
// Safe for concurrent use.
type CircuitBreaker struct {
	mu  sync.Mutex
	now func() time.Time

	failureThreshold int
	successThreshold int
	recoveryTimeout  time.Duration

	state       CircuitState
	failures    int
	successes   int
	lastFailure time.Time
}

// NewCircuitBreaker opens after failureThreshold consecutive failures (default 5),
// probes after recovery (default 30s) and closes after successThreshold
// successful probes (default 2).
func NewCircuitBreaker(failureThreshold, successThreshold int, recovery time.Duration) *CircuitBreaker {
	return newCircuitBreaker(failureThreshold, successThreshold, recovery, time.Now)
}

func newCircuitBreaker(failureThreshold, successThreshold int, recovery time.Duration, now func() time.Time) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if successThreshold <= 0 {
		successThreshold = 2
	}
	if recovery <= 0 {
		recovery = 30 * time.Second
	}
	return &CircuitBreaker{
		now:              now,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		recoveryTimeout:  recovery,
	}
}

// Allow reports whether a request may go out. An open circuit turns
// half-open once the recovery timeout has passed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return true
	case CircuitOpen:
		if cb.now().Sub(cb.lastFailure) > cb.recoveryTimeout {
			cb.state = CircuitHalfOpen
			cb.successes = 0
			return true
		}
	}
	return false
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failures = 0
	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.state = CircuitClosed
			cb.failures = 0
			cb.successes = 0
		}
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = cb.now()

	switch cb.state {
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.failureThreshold {
			cb.state = CircuitOpen
		}
	case CircuitHalfOpen:
		cb.state = CircuitOpen
		cb.successes = 0
	}
}

// State returns the current state as Allow would see it
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && cb.now().Sub(cb.lastFailure) > cb.recoveryTimeout {
		return CircuitHalfOpen
	}
	return cb.state
}

// breakers keeps one CircuitBreaker per endpoint host
type breakers struct {
	mu  sync.Mutex
	now func() time.Time
	m   map[string]*CircuitBreaker

	failureThreshold int
	successThreshold int
	recovery         time.Duration
}

func newBreakers(failureThreshold, successThreshold int, recovery time.Duration, now func() time.Time) *breakers {
	return &breakers{
		now:              now,
		m:                make(map[string]*CircuitBreaker),
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		recovery:         recovery,
	}
}

func (b *breakers) get(host string) *CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()

	cb, ok := b.m[host]
	if !ok {
		cb = newCircuitBreaker(b.failureThreshold, b.successThreshold, b.recovery, b.now)
		b.m[host] = cb
	}
	return cb
}
