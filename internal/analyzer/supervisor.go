package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

// DefaultBinary resolves the rust-analyzer binary path: the explicit override
// wins, otherwise the standard cargo install location.
func DefaultBinary(override string) string {
	if override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "rust-analyzer"
	}
	return filepath.Join(home, ".cargo", "bin", "rust-analyzer")
}

// SupervisorConfig carries what Start needs to bring a subprocess up.
type SupervisorConfig struct {
	Binary        string
	WorkspaceRoot string
	ShutdownGrace time.Duration
	Logger        *slog.Logger

	// OnNotify and OnDecode are forwarded to each Conn the supervisor
	// creates, so they survive restarts.
	OnNotify NotificationHandler
	OnDecode func()

	// OnRestart runs after a replacement subprocess has completed the
	// initialize handshake. The client uses it to replay open documents.
	OnRestart func(conn *Conn)
}

// Supervisor owns the rust-analyzer subprocess: it spawns it, performs the
// initialize handshake, watches for unexpected exits and restarts on demand.
type Supervisor struct {
	cfg SupervisorConfig

	// startMu serializes Start so two callers can never spawn two
	// subprocesses for the same generation.
	startMu sync.Mutex

	mu      sync.Mutex
	cmd     *exec.Cmd
	conn    *Conn
	stdin   io.WriteCloser
	exited  chan struct{}
	gen     int
	stopped bool
}

func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Supervisor{cfg: cfg}
}

// Start spawns the subprocess and completes the LSP handshake. It is also
// used for restarts; the previous process must already be gone.
func (s *Supervisor) Start(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return &UnavailableError{Reason: "supervisor stopped"}
	}
	if s.conn != nil && !s.conn.Down() {
		s.mu.Unlock()
		return nil
	}
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	cmd := exec.Command(s.cfg.Binary)
	cmd.Dir = s.cfg.WorkspaceRoot
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &SpawnError{Path: s.cfg.Binary, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &SpawnError{Path: s.cfg.Binary, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &SpawnError{Path: s.cfg.Binary, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return &SpawnError{Path: s.cfg.Binary, Err: err}
	}

	conn := NewConn(stdout, stdin, s.cfg.Logger, s.cfg.OnNotify, s.cfg.OnDecode)
	exited := make(chan struct{})

	go s.drainStderr(stderr)
	go s.watch(cmd, conn, gen, exited)

	if err := s.handshake(ctx, conn); err != nil {
		s.mu.Lock()
		s.gen++ // keep watch from restarting a process we are discarding
		s.mu.Unlock()
		conn.Close()
		cmd.Process.Kill()
		return err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		conn.Close()
		cmd.Process.Kill()
		return &UnavailableError{Reason: "supervisor stopped"}
	}
	s.cmd = cmd
	s.conn = conn
	s.stdin = stdin
	s.exited = exited
	s.mu.Unlock()

	s.cfg.Logger.Info("rust-analyzer started",
		"binary", s.cfg.Binary, "pid", cmd.Process.Pid, "root", s.cfg.WorkspaceRoot)
	return nil
}

// Conn returns the live connection, or an error when the subprocess is down.
func (s *Supervisor) Conn() (*Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || s.conn.Down() {
		return nil, &UnavailableError{Reason: "subprocess not running"}
	}
	return s.conn, nil
}

// Stop performs the orderly shutdown sequence and kills the subprocess if it
// does not exit within the grace period.
func (s *Supervisor) Stop(ctx context.Context) {
	s.mu.Lock()
	s.stopped = true
	conn := s.conn
	cmd := s.cmd
	exited := s.exited
	s.mu.Unlock()
	if conn == nil || cmd == nil {
		return
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownGrace)
	defer cancel()
	if err := conn.Call(shutdownCtx, "shutdown", nil, nil); err != nil {
		s.cfg.Logger.Warn("analyzer shutdown request failed", "error", err)
	}
	conn.Notify("exit", nil)

	// The watch goroutine is the only Wait caller; it closes exited once
	// the subprocess is gone.
	select {
	case <-exited:
	case <-time.After(s.cfg.ShutdownGrace):
		s.cfg.Logger.Warn("rust-analyzer did not exit, killing", "pid", cmd.Process.Pid)
		cmd.Process.Kill()
		<-exited
	}
}

func (s *Supervisor) handshake(ctx context.Context, conn *Conn) error {
	params := map[string]any{
		"processId": nil,
		"clientInfo": map[string]any{
			"name":    "rustbridge",
			"version": "0.1.0",
		},
		"rootUri": FileURI(s.cfg.WorkspaceRoot),
		"capabilities": map[string]any{
			"textDocument": map[string]any{
				"synchronization": map[string]any{
					"didSave": true,
				},
				"publishDiagnostics": map[string]any{
					"relatedInformation": true,
				},
				"documentSymbol": map[string]any{
					"hierarchicalDocumentSymbolSupport": true,
				},
			},
			"workspace": map[string]any{
				"symbol":        map[string]any{},
				"workspaceEdit": map[string]any{"documentChanges": true},
			},
		},
	}
	var result json.RawMessage
	if err := conn.Call(ctx, "initialize", params, &result); err != nil {
		return fmt.Errorf("initialize handshake: %w", err)
	}
	return conn.Notify("initialized", map[string]any{})
}

func (s *Supervisor) drainStderr(r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.cfg.Logger.Debug("rust-analyzer stderr", "output", string(buf[:n]))
		}
		if err != nil {
			return
		}
	}
}

// watch waits for the subprocess to exit. An exit while the supervisor is
// running fails the connection and triggers a restart. watch owns the single
// cmd.Wait call for its process and signals completion through exited.
func (s *Supervisor) watch(cmd *exec.Cmd, conn *Conn, gen int, exited chan struct{}) {
	err := cmd.Wait()
	close(exited)

	s.mu.Lock()
	stale := gen != s.gen || s.stopped
	s.mu.Unlock()

	conn.fail(&UnavailableError{Reason: fmt.Sprintf("subprocess exited: %v", err)})
	if stale {
		return
	}

	s.cfg.Logger.Error("rust-analyzer exited unexpectedly", "error", err)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.Start(ctx); err != nil {
		s.cfg.Logger.Error("rust-analyzer restart failed", "error", err)
		return
	}
	s.mu.Lock()
	newConn := s.conn
	s.mu.Unlock()
	if s.cfg.OnRestart != nil && newConn != nil {
		s.cfg.OnRestart(newConn)
	}
}
