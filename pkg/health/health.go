// Package health tracks per-component health so the agent can run degraded instead of failing
package health

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// HealthState represents the health state of a component
type HealthState int

const (
	// StateHealthy indicates the component is fully operational
	StateHealthy HealthState = iota

	// StateDegraded indicates recent failures; the agent keeps running around it
	StateDegraded

	// StateUnavailable indicates a sustained run of failures
	StateUnavailable
)

// String returns the string representation of a health state
func (s HealthState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name in JSON output.
func (s HealthState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *HealthState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "healthy":
		*s = StateHealthy
	case "degraded":
		*s = StateDegraded
	case "unavailable":
		*s = StateUnavailable
	default:
		return fmt.Errorf("unknown health state %q", text)
	}
	return nil
}

// ComponentHealth tracks the health of a specific component
type ComponentHealth struct {
	Name              string      `json:"name"`
	State             HealthState `json:"state"`
	LastStateChange   time.Time   `json:"last_state_change"`
	LastHealthCheck   time.Time   `json:"last_health_check"`
	LastSuccess       time.Time   `json:"last_success,omitempty"`
	ConsecutiveErrors int         `json:"consecutive_errors"`
	LastErrorMessage  string      `json:"last_error_message,omitempty"`
}

// StateChangeCallback is called when a component's health state changes
type StateChangeCallback func(component string, oldState, newState HealthState, err error)

// TrackerConfig configures health tracking behavior
type TrackerConfig struct {
	// ErrorThreshold is the number of consecutive errors before marking a component degraded
	ErrorThreshold int `yaml:"error_threshold" json:"error_threshold"`

	// UnavailableThreshold is the number of consecutive errors before marking unavailable
	UnavailableThreshold int `yaml:"unavailable_threshold" json:"unavailable_threshold"`
}

// DefaultConfig returns a default tracker configuration
func DefaultConfig() TrackerConfig {
	return TrackerConfig{
		ErrorThreshold:       1,
		UnavailableThreshold: 5,
	}
}

// Tracker tracks the health of multiple components
type Tracker struct {
	mu         sync.RWMutex
	components map[string]*ComponentHealth
	config     TrackerConfig
	callbacks  []StateChangeCallback
	now        func() time.Time
}

// NewTracker creates a new health tracker
func NewTracker(config TrackerConfig) *Tracker {
	if config.ErrorThreshold <= 0 {
		config.ErrorThreshold = 1
	}
	if config.UnavailableThreshold < config.ErrorThreshold {
		config.UnavailableThreshold = config.ErrorThreshold
	}
	return &Tracker{
		components: make(map[string]*ComponentHealth),
		config:     config,
		now:        time.Now,
	}
}

// RegisterComponent registers a new component for health tracking
func (t *Tracker) RegisterComponent(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.components[name]; !exists {
		now := t.now()
		t.components[name] = &ComponentHealth{
			Name:            name,
			State:           StateHealthy,
			LastStateChange: now,
			LastHealthCheck: now,
		}
	}
}

// OnStateChange registers a callback invoked synchronously after every transition
func (t *Tracker) OnStateChange(callback StateChangeCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.callbacks = append(t.callbacks, callback)
}

// RecordSuccess records a successful operation; a single success restores health.
func (t *Tracker) RecordSuccess(component string) {
	t.record(component, nil, func(h *ComponentHealth) HealthState {
		h.ConsecutiveErrors = 0
		h.LastErrorMessage = ""
		h.LastSuccess = h.LastHealthCheck
		return StateHealthy
	})
}

// RecordError records a failed operation
func (t *Tracker) RecordError(component string, err error) {
	t.record(component, err, func(h *ComponentHealth) HealthState {
		h.ConsecutiveErrors++
		if err != nil {
			h.LastErrorMessage = err.Error()
		}
		switch {
		case h.ConsecutiveErrors >= t.config.UnavailableThreshold:
			return StateUnavailable
		case h.ConsecutiveErrors >= t.config.ErrorThreshold:
			return StateDegraded
		default:
			return h.State
		}
	})
}

// MarkDegraded forces a component into the degraded state regardless of thresholds.
func (t *Tracker) MarkDegraded(component string, err error) {
	t.record(component, err, func(h *ComponentHealth) HealthState {
		if err != nil {
			h.LastErrorMessage = err.Error()
		}
		if h.State == StateUnavailable {
			return h.State
		}
		return StateDegraded
	})
}

func (t *Tracker) record(component string, err error, update func(*ComponentHealth) HealthState) {
	t.mu.Lock()
	health, exists := t.components[component]
	if !exists {
		t.mu.Unlock()
		return
	}

	now := t.now()
	health.LastHealthCheck = now
	oldState := health.State
	newState := update(health)
	if newState != oldState {
		health.State = newState
		health.LastStateChange = now
	}
	callbacks := append([]StateChangeCallback(nil), t.callbacks...)
	t.mu.Unlock()

	if newState != oldState {
		for _, cb := range callbacks {
			cb(component, oldState, newState, err)
		}
	}
}

// GetState returns the current health state of a component
func (t *Tracker) GetState(component string) HealthState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if health, exists := t.components[component]; exists {
		return health.State
	}
	return StateUnavailable
}

// GetComponentHealth returns a copy of the health information for a component
func (t *Tracker) GetComponentHealth(component string) (ComponentHealth, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	health, exists := t.components[component]
	if !exists {
		return ComponentHealth{}, fmt.Errorf("component %s not registered", component)
	}
	return *health, nil
}

// GetAllComponents returns health information for all registered components, sorted by name
func (t *Tracker) GetAllComponents() []ComponentHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]ComponentHealth, 0, len(t.components))
	for _, health := range t.components {
		result = append(result, *health)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// GetOverallHealth returns the worst state across all components
func (t *Tracker) GetOverallHealth() HealthState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	overall := StateHealthy
	for _, health := range t.components {
		if health.State > overall {
			overall = health.State
		}
	}
	return overall
}
