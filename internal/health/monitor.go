// Package health runs the periodic availability probe loop. Probe results
// feed each provider's registry entry and circuit breaker; they never
// escalate to snapshot readers.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/execroute/execroute/internal/events"
	"github.com/execroute/execroute/internal/metrics"
	"github.com/execroute/execroute/internal/registry"
)

const (
	DefaultInterval     = 5 * time.Minute
	DefaultProbeTimeout = 5 * time.Second
)

// Monitor probes every registered provider on a fixed interval, independent
// of request traffic.
type Monitor struct {
	registry     *registry.Registry
	interval     time.Duration
	probeTimeout time.Duration
	emitter      events.Emitter
	logger       *slog.Logger
}

// Config configures a Monitor. Zero values fall back to defaults.
type Config struct {
	Interval     time.Duration
	ProbeTimeout time.Duration
	Emitter      events.Emitter
	Logger       *slog.Logger
}

// NewMonitor creates a monitor over the registry.
func NewMonitor(reg *registry.Registry, cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.Emitter == nil {
		cfg.Emitter = events.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Monitor{
		registry:     reg,
		interval:     cfg.Interval,
		probeTimeout: cfg.ProbeTimeout,
		emitter:      cfg.Emitter,
		logger:       cfg.Logger,
	}
}

// Start runs the probe loop until ctx is cancelled. One immediate probe round
// runs at startup so providers do not sit unavailable for a full interval.
func (m *Monitor) Start(ctx context.Context) {
	m.logger.Info("health monitor started", "interval", m.interval, "probe_timeout", m.probeTimeout)
	defer m.logger.Info("health monitor stopped")

	m.ProbeAll(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ProbeAll(ctx)
		}
	}
}

// ProbeAll probes every provider concurrently and waits for the round to
// finish.
func (m *Monitor) ProbeAll(ctx context.Context) {
	entries := m.registry.List()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(e *registry.Entry) {
			defer wg.Done()
			m.probe(ctx, e)
		}(e)
	}
	wg.Wait()
}

func (m *Monitor) probe(ctx context.Context, e *registry.Entry) {
	pctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	start := time.Now()
	err := e.Executor.HealthCheck(pctx)
	latency := time.Since(start)

	e.RecordProbe(start, latency, err)
	if err != nil {
		e.Breaker.RecordFailure()
	} else {
		e.Breaker.RecordSuccess()
	}

	name := e.Spec.Name
	metrics.RecordProbe(name, latency.Seconds())
	metrics.SetProviderAvailable(name, err == nil)

	fields := map[string]any{
		"latency_ms": latency.Milliseconds(),
		"ok":         err == nil,
	}
	if err != nil {
		fields["error"] = err.Error()
		m.logger.Warn("provider probe failed", "provider", name, "error", err)
	}
	m.emitter.Emit(events.New(events.TypeProviderProbed, name, fields))
}
