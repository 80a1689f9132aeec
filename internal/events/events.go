// Package events carries the engine's structured observability events:
// request classified, candidates computed, attempt outcomes, breaker
// transitions, quota and cost rejections. Emission is fire-and-forget; the
// engine never blocks on a consumer.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Type names an event kind.
type Type string

const (
	TypeRequestClassified  Type = "request.classified"
	TypeCandidatesComputed Type = "candidates.computed"
	TypeAttemptFinished    Type = "attempt.finished"
	TypeBreakerTransition  Type = "breaker.transition"
	TypeQuotaRejected      Type = "quota.rejected"
	TypeCostRejected       Type = "cost.rejected"
	TypeProviderProbed     Type = "provider.probed"
)

// Event is one observability record.
type Event struct {
	Type     Type           `json:"type"`
	Provider string         `json:"provider,omitempty"`
	At       time.Time      `json:"at"`
	Fields   map[string]any `json:"fields,omitempty"`
}

// Emitter consumes events. Implementations must not block the caller.
type Emitter interface {
	Emit(ev Event)
}

// Nop discards all events.
type Nop struct{}

func (Nop) Emit(Event) {}

// Log writes events to slog at debug level (attempt failures at warn).
type Log struct {
	logger *slog.Logger
}

// NewLog creates a slog-backed emitter. A nil logger uses slog.Default.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) Emit(ev Event) {
	attrs := make([]any, 0, 2+2*len(ev.Fields))
	if ev.Provider != "" {
		attrs = append(attrs, "provider", ev.Provider)
	}
	for k, v := range ev.Fields {
		attrs = append(attrs, k, v)
	}

	switch ev.Type {
	case TypeBreakerTransition, TypeQuotaRejected, TypeCostRejected:
		l.logger.Warn(string(ev.Type), attrs...)
	default:
		l.logger.Debug(string(ev.Type), attrs...)
	}
}

// Multi fans out to several emitters.
type Multi []Emitter

func (m Multi) Emit(ev Event) {
	for _, e := range m {
		e.Emit(ev)
	}
}

// Hub is an in-memory pub/sub for events. Slow subscribers are dropped-to,
// never waited on: publishing to a full subscriber channel discards the
// event for that subscriber.
type Hub struct {
	mu        sync.Mutex
	subs      map[int]chan Event
	nextSubID int
	buffer    int
}

// NewHub creates a hub whose subscriber channels hold up to buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		subs:   make(map[int]chan Event),
		buffer: buffer,
	}
}

func (h *Hub) Emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns a channel of future events and a cancel func.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, h.buffer)
	h.subs[id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// New builds an event with the current time.
func New(t Type, provider string, fields map[string]any) Event {
	return Event{
		Type:     t,
		Provider: provider,
		At:       time.Now().UTC(),
		Fields:   fields,
	}
}
