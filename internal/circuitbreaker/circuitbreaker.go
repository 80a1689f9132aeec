// Package circuitbreaker implements the circuit breaker pattern for failure
// protection. It stops sending traffic to a provider after repeated failures
// and periodically re-tests it.
//
// States:
//   - Closed: normal operation, requests pass through
//   - Open: provider unhealthy, requests fail immediately
//   - Half-Open: testing recovery, exactly one trial request allowed
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/execroute/execroute/internal/domain"
)

// State represents the current state of a circuit breaker.
type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Failing fast
	StateHalfOpen              // Testing recovery
)

func (s State) String() string {
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

// Config defines breaker behavior. Thresholds are per-provider configuration,
// not global constants.
type Config struct {
	FailureThreshold int           // Failures before opening
	RecoveryTimeout  time.Duration // Time in open before allowing a trial
}

// DefaultConfig returns sensible defaults for most providers.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
	}
}

// TransitionFunc is notified of state changes. It must not block; it is
// invoked outside the breaker lock.
type TransitionFunc func(provider string, from, to State)

// Breaker tracks failures and controls request flow to one provider.
type Breaker struct {
	mu            sync.Mutex
	provider      string
	state         State
	failures      int
	openedAt      time.Time
	trialInFlight bool
	config        Config

	now          func() time.Time
	onTransition TransitionFunc
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithTransitionFunc registers a state-change callback.
func WithTransitionFunc(fn TransitionFunc) Option {
	return func(b *Breaker) { b.onTransition = fn }
}

// New creates a circuit breaker for the named provider, starting closed.
func New(provider string, cfg Config, opts ...Option) *Breaker {
	b := &Breaker{
		provider: provider,
		state:    StateClosed,
		config:   cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow checks if a request should pass through. Returns nil if allowed,
// domain.ErrCircuitBreakerOpen otherwise. In open state, once the recovery
// timeout has elapsed the breaker moves to half-open and admits exactly one
// trial request; concurrent callers are rejected until the trial resolves.
func (b *Breaker) Allow() error {
	b.mu.Lock()

	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		return nil

	case StateOpen:
		if b.now().Sub(b.openedAt) < b.config.RecoveryTimeout {
			b.mu.Unlock()
			return domain.ErrCircuitBreakerOpen
		}
		b.setStateLocked(StateHalfOpen)
		b.trialInFlight = true
		b.unlockAndNotify(StateOpen, StateHalfOpen)
		return nil

	case StateHalfOpen:
		if b.trialInFlight {
			b.mu.Unlock()
			return domain.ErrCircuitBreakerOpen
		}
		b.trialInFlight = true
		b.mu.Unlock()
		return nil
	}

	b.mu.Unlock()
	return nil
}

// RecordSuccess records a successful request. A success in closed state fully
// clears failure history: no gradual decay, a deliberate simplest-correct
// policy. A success in half-open closes the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()

	switch b.state {
	case StateClosed:
		b.failures = 0
		b.mu.Unlock()

	case StateHalfOpen:
		b.trialInFlight = false
		b.failures = 0
		b.setStateLocked(StateClosed)
		b.unlockAndNotify(StateHalfOpen, StateClosed)

	default:
		b.mu.Unlock()
	}
}

// RecordFailure records a failed request. Reaching the failure threshold in
// closed state opens the circuit; a failure during the half-open trial
// reopens it and restarts the recovery timer.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.openedAt = b.now()
			b.setStateLocked(StateOpen)
			b.unlockAndNotify(StateClosed, StateOpen)
			return
		}
		b.mu.Unlock()

	case StateHalfOpen:
		b.trialInFlight = false
		b.openedAt = b.now()
		b.setStateLocked(StateOpen)
		b.unlockAndNotify(StateHalfOpen, StateOpen)

	default:
		b.mu.Unlock()
	}
}

// ReleaseTrial relinquishes a half-open trial slot whose request resolved
// neither success nor failure, such as an attempt abandoned by caller
// cancellation. The slot reopens for the next request; state and failure
// history are unchanged. No-op outside half-open.
func (b *Breaker) ReleaseTrial() {
	b.mu.Lock()
	if b.state == StateHalfOpen {
		b.trialInFlight = false
	}
	b.mu.Unlock()
}

// State returns the current state without consuming a half-open trial slot.
// An open breaker whose recovery timeout has elapsed still reports open; the
// transition happens on the next Allow.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ReadyForTrial reports whether an open breaker would admit a trial request.
// Used by the router's candidate filter so that filtering never consumes the
// single half-open trial slot.
func (b *Breaker) ReadyForTrial() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		return b.now().Sub(b.openedAt) >= b.config.RecoveryTimeout
	case StateHalfOpen:
		return !b.trialInFlight
	}
	return false
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) setStateLocked(s State) {
	b.state = s
}

// unlockAndNotify releases the lock and then invokes the transition callback,
// keeping callbacks out of the critical section.
func (b *Breaker) unlockAndNotify(from, to State) {
	fn := b.onTransition
	b.mu.Unlock()
	if fn != nil {
		fn(b.provider, from, to)
	}
}

// Manager holds one breaker per provider, each with its own configuration.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	opts     []Option
}

// NewManager creates an empty breaker manager. Options are applied to every
// breaker it creates.
func NewManager(opts ...Option) *Manager {
	return &Manager{
		breakers: make(map[string]*Breaker),
		opts:     opts,
	}
}

// Register creates (or replaces) the breaker for a provider with its
// per-provider config.
func (m *Manager) Register(provider string, cfg Config) *Breaker {
	b := New(provider, cfg, m.opts...)
	m.mu.Lock()
	m.breakers[provider] = b
	m.mu.Unlock()
	return b
}

// Get returns the breaker for a provider, creating one with defaults if the
// provider was never registered.
func (m *Manager) Get(provider string) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[provider]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.breakers[provider]; ok {
		return existing
	}
	b = New(provider, DefaultConfig(), m.opts...)
	m.breakers[provider] = b
	return b
}

// States returns the current state of all breakers.
func (m *Manager) States() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make(map[string]string, len(m.breakers))
	for name, b := range m.breakers {
		states[name] = b.State().String()
	}
	return states
}
