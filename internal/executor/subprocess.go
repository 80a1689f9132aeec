package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

const (
	// maxStderrBytes caps the amount of stderr captured from a run.
	maxStderrBytes = 64 * 1024

	// terminationGracePeriod is how long a process gets after SIGTERM
	// before it is killed outright.
	terminationGracePeriod = 5 * time.Second
)

// Subprocess invokes a provider by spawning a command, writing the prompt to
// stdin and reading the response from stdout. When the invocation context
// expires the process group receives SIGTERM, then SIGKILL after a grace
// period: a timed-out run is terminated, never abandoned.
type Subprocess struct {
	name    string
	command string
	args    []string
}

// NewSubprocess creates a subprocess executor for the given command line.
func NewSubprocess(name, command string, args ...string) *Subprocess {
	return &Subprocess{name: name, command: command, args: args}
}

func (s *Subprocess) Name() string { return s.name }

func (s *Subprocess) Invoke(ctx context.Context, prompt string, maxOutputTokens int) (*Result, error) {
	cmd := exec.CommandContext(ctx, s.command, s.args...)
	cmd.Stdin = strings.NewReader(prompt)

	var stdout bytes.Buffer
	stderr := &boundedBuffer{limit: maxStderrBytes}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	// Run the command in its own process group so termination reaches any
	// children it spawned.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = terminationGracePeriod

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s terminated: %w", s.name, ctxErr)
		}
		return nil, fmt.Errorf("%s failed: %w (stderr: %s)", s.name, err, stderr.String())
	}

	text := strings.TrimRight(stdout.String(), "\n")
	return &Result{
		Text:         text,
		InputTokens:  estimateTokens(prompt),
		OutputTokens: estimateTokens(text),
	}, nil
}

// HealthCheck verifies the command exists on PATH. Spawning the real command
// for a probe would be as expensive as a dispatch, so availability is
// approximated by resolvability.
func (s *Subprocess) HealthCheck(ctx context.Context) error {
	if _, err := exec.LookPath(s.command); err != nil {
		return fmt.Errorf("command %q not found: %w", s.command, err)
	}
	return nil
}

// boundedBuffer keeps at most limit bytes, discarding the rest.
type boundedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	remaining := b.limit - b.buf.Len()
	if remaining > 0 {
		if len(p) > remaining {
			b.buf.Write(p[:remaining])
		} else {
			b.buf.Write(p)
		}
	}
	// Report full write so the child never sees a pipe error.
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	return b.buf.String()
}
