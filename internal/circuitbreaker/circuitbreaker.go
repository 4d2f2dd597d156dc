// Package circuitbreaker stops calls to a failing dependency for a cool-down
// period and then lets a few trial calls decide whether it has recovered.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/maltehedderich/rate-governor/internal/logger"
	"github.com/maltehedderich/rate-governor/internal/metrics"
)

// State is the breaker position
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrCircuitOpen is returned instead of calling through while open, or when
// every half-open trial slot is taken.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config contains circuit breaker configuration
type Config struct {
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold int
	// SuccessThreshold consecutive half-open successes close it again.
	SuccessThreshold int
	// Timeout is the open period before probing starts.
	Timeout time.Duration
	// MaxRequests caps concurrent half-open trials.
	MaxRequests int
}

// DefaultConfig returns default circuit breaker configuration
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          10 * time.Second,
		MaxRequests:      3,
	}
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	name   string
	config *Config
	now    func() time.Time
	logger *logger.ComponentLogger

	mu              sync.Mutex
	state           State
	failures        int
	successes       int
	trials          int
	rejected        uint64
	lastFailureTime time.Time
	lastStateChange time.Time
}

// New creates a closed breaker. A nil config uses DefaultConfig.
func New(name string, config *Config) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	}

	cb := &CircuitBreaker{
		name:   name,
		config: config,
		now:    time.Now,
		state:  StateClosed,
		logger: logger.Get().WithComponent("circuitbreaker"),
	}
	cb.lastStateChange = cb.now()
	metrics.SetCircuitBreakerState(name, int(StateClosed))
	return cb
}

// Execute runs fn unless the breaker rejects the call. A non-nil error
// from fn counts as a failure.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	return cb.ExecuteIgnoring(fn, nil)
}

// ExecuteIgnoring is Execute, except that an error for which ignore returns
// true is neither a failure nor a success. Such a call only gives back its
// half-open slot.
func (cb *CircuitBreaker) ExecuteIgnoring(fn func() error, ignore func(error) bool) error {
	if err := cb.admit(); err != nil {
		return err
	}

	err := fn()
	if err != nil && ignore != nil && ignore(err) {
		cb.release()
		return err
	}
	cb.record(err == nil)
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.lastStateChange) < cb.config.Timeout {
			cb.rejected++
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
	}

	if cb.state == StateHalfOpen {
		if cb.trials >= cb.config.MaxRequests {
			cb.rejected++
			return ErrCircuitOpen
		}
		cb.trials++
	}
	return nil
}

func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen && cb.trials > 0 {
		cb.trials--
	}
}

func (cb *CircuitBreaker) record(ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen && cb.trials > 0 {
		cb.trials--
	}

	if !ok {
		cb.failures++
		cb.successes = 0
		cb.lastFailureTime = cb.now()
		if cb.state == StateHalfOpen || cb.failures >= cb.config.FailureThreshold {
			cb.transition(StateOpen)
		}
		return
	}

	cb.successes++
	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transition(StateClosed)
		}
	}
}

// transition must be called with mu held
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}

	cb.state = to
	cb.lastStateChange = cb.now()
	cb.trials = 0
	if to == StateClosed {
		cb.failures = 0
	}

	metrics.SetCircuitBreakerState(cb.name, int(to))
	metrics.RecordCircuitBreakerTransition(cb.name, from.String(), to.String())

	fields := logger.Fields{
		"name":      cb.name,
		"old_state": from.String(),
		"new_state": to.String(),
		"failures":  cb.failures,
	}
	if to == StateOpen {
		cb.logger.Warn("circuit breaker opened", fields)
	} else {
		cb.logger.Info("circuit breaker state changed", fields)
	}
}

// GetState returns the current state
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// RetryIn is how long an open breaker keeps rejecting calls. Zero unless open.
func (cb *CircuitBreaker) RetryIn() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return 0
	}
	if d := cb.config.Timeout - cb.now().Sub(cb.lastStateChange); d > 0 {
		return d
	}
	return 0
}

// Stats is a point-in-time snapshot of a breaker
type Stats struct {
	Name            string
	State           State
	Failures        int
	Successes       int
	Rejected        uint64
	LastFailureTime time.Time
	LastStateChange time.Time
}

// GetStats returns a snapshot of the breaker's counters
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		Name:            cb.name,
		State:           cb.state,
		Failures:        cb.failures,
		Successes:       cb.successes,
		Rejected:        cb.rejected,
		LastFailureTime: cb.lastFailureTime,
		LastStateChange: cb.lastStateChange,
	}
}

// Reset forces the breaker closed and clears its counters
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.transition(StateClosed)
	cb.failures = 0
	cb.successes = 0
	cb.trials = 0
}
