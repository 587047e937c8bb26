package compiler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultTimeout        = 30 * time.Second
	DefaultMaxOutputBytes = 1 << 20
	DefaultMaxConcurrent  = 4
)

// Config bounds every command the runner executes.
type Config struct {
	Timeout        time.Duration
	MaxOutputBytes int64
	MaxConcurrent  int64
	Logger         *slog.Logger

	// Telemetry hooks, invoked once per enforced limit.
	OnTimeout      func()
	OnOutputCapped func()
}

// Runner executes compiler commands under a wall-clock deadline, a combined
// stdout+stderr byte cap and a concurrency bound. A nonzero exit status is a
// normal Result; only the runner's own limits and spawn failures are errors.
type Runner struct {
	cfg Config
	sem *semaphore.Weighted
}

// Result is the outcome of a command that ran to completion within limits.
type Result struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

func NewRunner(cfg Config) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{cfg: cfg, sem: semaphore.NewWeighted(cfg.MaxConcurrent)}
}

// outputCap tracks combined bytes across both streams and aborts the command
// the moment the limit is crossed.
type outputCap struct {
	limit  int64
	cancel context.CancelFunc

	mu      sync.Mutex
	total   int64
	tripped bool
}

var errOutputCapped = errors.New("output cap exceeded")

type capWriter struct {
	cap *outputCap
	buf bytes.Buffer
}

func (w *capWriter) Write(p []byte) (int, error) {
	c := w.cap
	c.mu.Lock()
	if c.tripped {
		c.mu.Unlock()
		return 0, errOutputCapped
	}
	c.total += int64(len(p))
	if c.total > c.limit {
		c.tripped = true
		c.mu.Unlock()
		c.cancel()
		return 0, errOutputCapped
	}
	c.mu.Unlock()
	return w.buf.Write(p)
}

// Run executes a command in dir with extra environment entries appended to
// the inherited environment.
func (r *Runner) Run(ctx context.Context, dir string, extraEnv []string, name string, args ...string) (*Result, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer r.sem.Release(1)

	label := commandLabel(name, args)
	deadline, cancelDeadline := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancelDeadline()
	cmdCtx, cancelCmd := context.WithCancel(deadline)
	defer cancelCmd()

	cmd := exec.CommandContext(cmdCtx, name, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), extraEnv...)
	// Kill the whole process group so compiler subprocesses cannot outlive
	// the deadline holding the output pipes open.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 2 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Command: label, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Command: label, Err: err}
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Command: label, Err: err}
	}
	r.cfg.Logger.Debug("command started", "command", label, "dir", dir)

	guard := &outputCap{limit: r.cfg.MaxOutputBytes, cancel: cancelCmd}
	outW := &capWriter{cap: guard}
	errW := &capWriter{cap: guard}

	var g errgroup.Group
	g.Go(func() error { _, err := io.Copy(outW, stdout); return err })
	g.Go(func() error { _, err := io.Copy(errW, stderr); return err })
	pumpErr := g.Wait()
	waitErr := cmd.Wait()
	elapsed := time.Since(start)

	guard.mu.Lock()
	tripped, observed := guard.tripped, guard.total
	guard.mu.Unlock()

	switch {
	case tripped:
		if r.cfg.OnOutputCapped != nil {
			r.cfg.OnOutputCapped()
		}
		r.cfg.Logger.Warn("command output capped",
			"command", label, "observed", observed, "limit", r.cfg.MaxOutputBytes)
		return nil, &OutputTooLargeError{Observed: observed, Limit: r.cfg.MaxOutputBytes, Command: label}
	case errors.Is(deadline.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		if r.cfg.OnTimeout != nil {
			r.cfg.OnTimeout()
		}
		r.cfg.Logger.Warn("command timed out", "command", label, "limit", r.cfg.Timeout)
		return nil, &TimeoutError{Limit: r.cfg.Timeout, Command: label}
	case ctx.Err() != nil:
		return nil, ctx.Err()
	}

	if pumpErr != nil && !errors.Is(pumpErr, errOutputCapped) {
		r.cfg.Logger.Warn("stream pump failed", "command", label, "error", pumpErr)
	}

	result := &Result{
		Stdout:   outW.buf.String(),
		Stderr:   errW.buf.String(),
		Duration: elapsed,
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return nil, fmt.Errorf("wait for %s: %w", label, waitErr)
		}
		result.ExitCode = exitErr.ExitCode()
	}
	r.cfg.Logger.Debug("command finished",
		"command", label, "exit_code", result.ExitCode, "duration", elapsed)
	return result, nil
}

// ReadArtifact reads a produced file under the same byte cap as command
// output, so a huge artifact cannot blow past the limits the run honored.
func (r *Runner) ReadArtifact(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > r.cfg.MaxOutputBytes {
		return nil, &OutputTooLargeError{
			Observed: info.Size(),
			Limit:    r.cfg.MaxOutputBytes,
			Command:  "read " + path,
		}
	}
	return os.ReadFile(path)
}

// Limits reports the configured bounds.
func (r *Runner) Limits() (time.Duration, int64) {
	return r.cfg.Timeout, r.cfg.MaxOutputBytes
}

func commandLabel(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}
