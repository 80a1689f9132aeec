// Package registry holds the shared per-provider state: static spec,
// executor, circuit breaker, and the dynamic health fields owned by the
// health monitor. Each entry carries its own mutex so concurrent route calls
// and the probe loop never lose updates to a provider's counters, while
// snapshot reads stay cheap and may be slightly stale.
package registry

import (
	"sync"
	"time"

	"github.com/execroute/execroute/internal/circuitbreaker"
	"github.com/execroute/execroute/internal/domain"
	"github.com/execroute/execroute/internal/executor"
)

// latencyEWMAWeight is the weight of a new sample in the running latency
// average.
const latencyEWMAWeight = 0.3

// Entry is one provider's slot in the registry.
type Entry struct {
	Spec     domain.ProviderSpec
	Executor executor.Executor
	Breaker  *circuitbreaker.Breaker

	// index preserves registration order for deterministic tie-breaking.
	index int

	mu                  sync.Mutex
	enabled             bool
	available           bool
	consecutiveFailures int
	lastProbeAt         time.Time
	avgLatency          time.Duration
}

// Index returns the entry's registration order.
func (e *Entry) Index() int { return e.index }

// Enabled reports whether the provider accepts traffic.
func (e *Entry) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// SetEnabled flips the provider's admin enable flag.
func (e *Entry) SetEnabled(enabled bool) {
	e.mu.Lock()
	e.enabled = enabled
	e.mu.Unlock()
}

// RecordProbe stores the outcome of one availability probe.
func (e *Entry) RecordProbe(at time.Time, latency time.Duration, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastProbeAt = at
	if err != nil {
		e.available = false
		e.consecutiveFailures++
		return
	}
	e.available = true
	e.consecutiveFailures = 0
	e.observeLatencyLocked(latency)
}

// ObserveLatency folds a dispatch attempt's latency into the running average.
func (e *Entry) ObserveLatency(latency time.Duration) {
	e.mu.Lock()
	e.observeLatencyLocked(latency)
	e.mu.Unlock()
}

func (e *Entry) observeLatencyLocked(latency time.Duration) {
	if e.avgLatency == 0 {
		e.avgLatency = latency
		return
	}
	e.avgLatency = time.Duration(float64(e.avgLatency)*(1-latencyEWMAWeight) + float64(latency)*latencyEWMAWeight)
}

// AvgLatency returns the current latency average (0 until first observation).
func (e *Entry) AvgLatency() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.avgLatency
}

// Snapshot returns a read-only view of the entry's dynamic state. It never
// blocks on in-flight probes or attempts beyond the brief field copy.
func (e *Entry) Snapshot() domain.ProviderHealth {
	e.mu.Lock()
	defer e.mu.Unlock()

	return domain.ProviderHealth{
		Name:                e.Spec.Name,
		Available:           e.available,
		Enabled:             e.enabled,
		CircuitState:        e.Breaker.State().String(),
		ConsecutiveFailures: e.consecutiveFailures,
		LastProbeAt:         e.lastProbeAt,
		AvgLatency:          e.avgLatency,
	}
}

// Registry is the arena of providers, keyed by name. It is injected into the
// router and health monitor; there are no ambient singletons.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	order   []*Entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register adds a provider. Providers start enabled and unavailable until the
// first probe reports in.
func (r *Registry) Register(spec domain.ProviderSpec, exec executor.Executor, breaker *circuitbreaker.Breaker) *Entry {
	e := &Entry{
		Spec:     spec,
		Executor: exec,
		Breaker:  breaker,
		enabled:  true,
	}

	r.mu.Lock()
	e.index = len(r.order)
	r.entries[spec.Name] = e
	r.order = append(r.order, e)
	r.mu.Unlock()
	return e
}

// Get returns the entry for a provider name.
func (r *Registry) Get(name string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// List returns all entries in registration order.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Entry, len(r.order))
	copy(out, r.order)
	return out
}

// Snapshots returns health snapshots for every provider, in registration
// order.
func (r *Registry) Snapshots() []domain.ProviderHealth {
	entries := r.List()
	out := make([]domain.ProviderHealth, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Snapshot())
	}
	return out
}

// Snapshot returns the health snapshot of one provider.
func (r *Registry) Snapshot(name string) (domain.ProviderHealth, bool) {
	e, ok := r.Get(name)
	if !ok {
		return domain.ProviderHealth{}, false
	}
	return e.Snapshot(), true
}
