// Package breaker implements a per-service closed/open/half-open circuit
// breaker (L4). State transitions are serialized per service name with a
// mutex, in the style of the pack's capture.CircuitBreaker state machine
// (brennhill-gasoline-mcp-ai-devtools/internal/capture/circuit_breaker.go),
// generalized here from a rate-based trigger to the spec's failure-count
// trigger with a half-open probe.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned when a call is rejected because the breaker for a
// service is open (or half-open and a probe is already in flight).
var ErrOpen = errors.New("circuit_open")

// State is one of the three breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Options configures a Breaker. Zero values fall back to spec defaults.
type Options struct {
	FailureThreshold int           // default 5
	CooldownMs       time.Duration // default 30_000ms
}

func (o Options) withDefaults() Options {
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 5
	}
	if o.CooldownMs <= 0 {
		o.CooldownMs = 30 * time.Second
	}
	return o
}

type serviceState struct {
	mu           sync.Mutex
	state        State
	failureCount int
	openedAt     time.Time
	probeInFlight bool
}

// Registry holds one state machine per service name.
type Registry struct {
	opts Options

	mu       sync.Mutex
	services map[string]*serviceState
}

// NewRegistry constructs a Registry with the given options.
func NewRegistry(opts Options) *Registry {
	return &Registry{opts: opts.withDefaults(), services: make(map[string]*serviceState)}
}

func (r *Registry) stateFor(service string) *serviceState {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.services[service]
	if !ok {
		s = &serviceState{state: Closed}
		r.services[service] = s
	}
	return s
}

// Allow decides whether a call to service may proceed. If the breaker is
// open and the cooldown has elapsed, the call is admitted as the half-open
// probe (only one probe at a time); otherwise it fails fast with ErrOpen.
func (r *Registry) Allow(service string) error {
	s := r.stateFor(service)
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Closed:
		return nil
	case HalfOpen:
		if s.probeInFlight {
			return ErrOpen
		}
		s.probeInFlight = true
		return nil
	case Open:
		if time.Since(s.openedAt) >= r.opts.CooldownMs {
			s.state = HalfOpen
			s.probeInFlight = true
			return nil
		}
		return ErrOpen
	default:
		return ErrOpen
	}
}

// Success reports a successful call, closing the breaker and resetting
// counters (from half_open) or simply staying closed.
func (r *Registry) Success(service string) {
	s := r.stateFor(service)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = Closed
	s.failureCount = 0
	s.probeInFlight = false
}

// Failure reports a failed call. From closed, increments the failure count
// and trips to open at the threshold. From half_open, the probe failed and
// the breaker reopens with a fresh cooldown window.
func (r *Registry) Failure(service string) {
	s := r.stateFor(service)
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Closed:
		s.failureCount++
		if s.failureCount >= r.opts.FailureThreshold {
			s.state = Open
			s.openedAt = time.Now()
		}
	case HalfOpen:
		s.state = Open
		s.openedAt = time.Now()
		s.probeInFlight = false
		s.failureCount = r.opts.FailureThreshold
	case Open:
		// Already open; nothing to do.
	}
}

// Do runs fn under the breaker's gate for service: if the call is not
// admitted, fn is never invoked and ErrOpen is returned; otherwise the
// breaker is updated from fn's outcome.
func (r *Registry) Do(service string, fn func() error) error {
	if err := r.Allow(service); err != nil {
		return err
	}
	if err := fn(); err != nil {
		r.Failure(service)
		return err
	}
	r.Success(service)
	return nil
}

// StateOf returns the current state for service (for metrics/tests).
func (r *Registry) StateOf(service string) State {
	s := r.stateFor(service)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
