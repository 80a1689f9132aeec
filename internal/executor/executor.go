// Package executor defines the port through which providers are invoked.
// The engine treats executors as opaque, potentially slow, potentially
// failing black boxes: it does not care whether an implementation shells out
// to a subprocess, calls an HTTP API, or runs in-process.
package executor

import (
	"context"
	"sync"
)

// Result is the outcome of a successful invocation. Token counts may be
// estimates when the backend does not report exact usage.
type Result struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Executor invokes one provider. Invoke must respect ctx cancellation and
// deadline: a timed-out invocation must terminate the underlying work, not
// merely abandon it.
type Executor interface {
	Name() string
	Invoke(ctx context.Context, prompt string, maxOutputTokens int) (*Result, error)
	HealthCheck(ctx context.Context) error
}

// estimateTokens mirrors the workload analyzer's 4-characters-per-token
// heuristic for backends that do not report usage.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// Static returns canned responses. Used in tests and as the wiring path for
// local smoke runs without any real backend.
type Static struct {
	name string

	mu        sync.Mutex
	responses []string
	next      int
	err       error
	healthErr error
}

// NewStatic creates a static executor cycling through the given responses.
func NewStatic(name string, responses ...string) *Static {
	if len(responses) == 0 {
		responses = []string{"ok"}
	}
	return &Static{name: name, responses: responses}
}

func (s *Static) Name() string { return s.name }

// Fail makes subsequent invocations return err (nil restores success).
func (s *Static) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// FailHealth makes health checks return err (nil restores success).
func (s *Static) FailHealth(err error) {
	s.mu.Lock()
	s.healthErr = err
	s.mu.Unlock()
}

func (s *Static) Invoke(ctx context.Context, prompt string, maxOutputTokens int) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}

	text := s.responses[s.next%len(s.responses)]
	s.next++
	return &Result{
		Text:         text,
		InputTokens:  estimateTokens(prompt),
		OutputTokens: estimateTokens(text),
	}, nil
}

func (s *Static) HealthCheck(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthErr
}
