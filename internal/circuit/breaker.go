// Package circuit implements a circuit breaker used to fail fast against an unreachable backend.
package circuit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed - requests pass through
	StateClosed State = iota
	// StateOpen - requests are rejected without being attempted
	StateOpen
	// StateHalfOpen - a limited number of probe requests are let through
	StateHalfOpen
)

var stateNames = map[State]string{
	StateClosed:   "CLOSED",
	StateOpen:     "OPEN",
	StateHalfOpen: "HALF_OPEN",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

var (
	// ErrOpenState is returned when the circuit breaker is open
	ErrOpenState = errors.New("circuit breaker is open")

	// ErrTooManyRequests is returned when every half-open probe slot is taken
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Config contains circuit breaker configuration
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips the breaker
	FailureThreshold uint32 `yaml:"failure_threshold"`

	// MaxRequests is the number of probes let through while half-open
	MaxRequests uint32 `yaml:"max_requests"`

	// Timeout is how long the breaker stays open before probing
	Timeout time.Duration `yaml:"timeout"`

	// OnStateChange is called on every transition, with the lock held
	OnStateChange func(name string, from State, to State) `yaml:"-"`

	// IsSuccessful decides whether an error counts against the breaker
	IsSuccessful func(err error) bool `yaml:"-"`

	Now func() time.Time `yaml:"-"`
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	State               State
	ConsecutiveFailures uint32
	Trips               uint64
	OpenedAt            time.Time
}

// CircuitBreaker stops calling a backend after FailureThreshold consecutive
// failures, then lets MaxRequests probes through once Timeout has passed.
type CircuitBreaker struct {
	name string
	cfg  Config

	mu       sync.Mutex
	state    State
	failures uint32
	probes   uint32
	trips    uint64
	openedAt time.Time
}

// NewCircuitBreaker creates a closed breaker, filling unset config fields.
func NewCircuitBreaker(name string, cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	if cfg.IsSuccessful == nil {
		cfg.IsSuccessful = func(err error) bool { return err == nil }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{name: name, cfg: cfg}
}

// Name returns the name given at construction.
func (cb *CircuitBreaker) Name() string { return cb.name }

// ExecuteWithContext runs fn if the breaker admits it. While open it returns
// ErrOpenState without calling fn.
func (cb *CircuitBreaker) ExecuteWithContext(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.refresh() {
	case StateOpen:
		return ErrOpenState
	case StateHalfOpen:
		if cb.probes >= cb.cfg.MaxRequests {
			return ErrTooManyRequests
		}
		cb.probes++
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.refresh()
	if cb.cfg.IsSuccessful(err) {
		cb.failures = 0
		if state == StateHalfOpen {
			cb.transition(StateClosed)
		}
		return
	}

	cb.failures++
	if state == StateHalfOpen || (state == StateClosed && cb.failures >= cb.cfg.FailureThreshold) {
		cb.transition(StateOpen)
	}
}

// refresh moves an expired open breaker to half-open. Callers hold mu.
func (cb *CircuitBreaker) refresh() State {
	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.Timeout {
		cb.transition(StateHalfOpen)
	}
	return cb.state
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}

	cb.state = to
	cb.probes = 0
	switch to {
	case StateOpen:
		cb.trips++
		cb.openedAt = cb.cfg.Now()
	case StateClosed:
		cb.failures = 0
		cb.openedAt = time.Time{}
	}

	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, from, to)
	}
}

// GetState returns the current state, moving to half-open when the open
// period has elapsed.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.refresh()
}

func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Snapshot{
		State:               cb.refresh(),
		ConsecutiveFailures: cb.failures,
		Trips:               cb.trips,
		OpenedAt:            cb.openedAt,
	}
}

// Reset closes the breaker. The trip count is kept.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.transition(StateClosed)
	cb.failures = 0
}
