package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rustbridge/rustbridge/internal/analyzer"
	"github.com/rustbridge/rustbridge/internal/audit"
	"github.com/rustbridge/rustbridge/internal/codegen"
	"github.com/rustbridge/rustbridge/internal/compiler"
	"github.com/rustbridge/rustbridge/internal/core"
	"github.com/rustbridge/rustbridge/internal/inspect"
	"github.com/rustbridge/rustbridge/internal/telemetry"
)

const protocolVersion = "2024-11-05"

// Server speaks JSON-RPC 2.0, one message per line, on stdio and optionally
// on a TCP listener. Each tool call is dispatched against the analyzer
// client, the guarded compiler, or the local generators.
type Server struct {
	analyzer  *analyzer.Client
	cargo     *compiler.Cargo
	inspector *inspect.Service
	generator *codegen.Generator
	audit     *audit.Log
	root      string
	addr      string
	logger    *slog.Logger

	ln     net.Listener
	mu     sync.Mutex
	closed bool
}

func NewServer(addr, workspaceRoot string, ac *analyzer.Client, cargo *compiler.Cargo, inspector *inspect.Service, generator *codegen.Generator, auditLog *audit.Log, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		analyzer:  ac,
		cargo:     cargo,
		inspector: inspector,
		generator: generator,
		audit:     auditLog,
		root:      workspaceRoot,
		addr:      addr,
		logger:    logger,
	}
}

type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ServeStdio runs the message loop over the process's stdin/stdout until
// stdin closes.
func (s *Server) ServeStdio(ctx context.Context) error {
	s.logger.Info("mcp server on stdio", "workspace", s.root)
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.logger.Info("mcp server listening", "addr", s.addr, "workspace", s.root)

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			s.logger.Error("mcp accept error", "err", err)
			continue
		}
		go func() {
			defer conn.Close()
			if err := s.Serve(ctx, conn, conn); err != nil {
				s.logger.Error("mcp connection error", "err", err)
			}
		}()
	}
}

func (s *Server) Shutdown(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

// Serve reads newline-delimited JSON-RPC messages from r and writes
// responses to w. Notifications get no response. Tool calls run in their own
// goroutines so a long compiler run never holds up other requests on the
// same stream; only the response writes are serialized.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	out := &responseWriter{w: w}
	var calls sync.WaitGroup
	defer calls.Wait()

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var req jsonRPCRequest
		if err := json.Unmarshal(line, &req); err != nil {
			out.write(jsonRPCResponse{
				JSONRPC: "2.0",
				ID:      nil,
				Error:   &rpcError{Code: core.CodeParseError, Message: "parse error"},
			})
			continue
		}

		if req.ID == nil && strings.HasPrefix(req.Method, "notifications/") {
			continue
		}

		if req.Method == "tools/call" {
			calls.Add(1)
			go func(req jsonRPCRequest) {
				defer calls.Done()
				out.write(s.dispatch(ctx, req))
			}(req)
			continue
		}

		out.write(s.dispatch(ctx, req))
	}
	return scanner.Err()
}

// responseWriter serializes response lines from concurrent tool calls onto
// one output stream.
type responseWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (rw *responseWriter) write(resp jsonRPCResponse) {
	data, _ := json.Marshal(resp)
	data = append(data, '\n')
	rw.mu.Lock()
	rw.w.Write(data)
	rw.mu.Unlock()
}

func (s *Server) dispatch(ctx context.Context, req jsonRPCRequest) jsonRPCResponse {
	base := jsonRPCResponse{JSONRPC: "2.0", ID: req.ID}

	switch req.Method {
	case "initialize":
		base.Result = map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{"listChanged": false}},
			"serverInfo":      map[string]any{"name": "rustbridge", "version": "0.1.0"},
		}
		return base

	case "ping":
		base.Result = map[string]any{}
		return base

	case "tools/list":
		base.Result = map[string]any{"tools": ToolDefinitions()}
		return base

	case "tools/call":
		return s.handleToolCall(ctx, req, base)

	default:
		base.Error = &rpcError{Code: core.CodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
		return base
	}
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (s *Server) handleToolCall(ctx context.Context, req jsonRPCRequest, base jsonRPCResponse) jsonRPCResponse {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		base.Error = &rpcError{Code: core.CodeInvalidParams, Message: "invalid params: " + err.Error()}
		return base
	}
	if !knownTool(params.Name) {
		base.Error = &rpcError{Code: core.CodeInvalidParams, Message: fmt.Sprintf("unknown tool: %s", params.Name)}
		return base
	}

	traceID := uuid.New().String()
	start := time.Now()
	result, err := s.invoke(ctx, params.Name, params.Arguments)
	elapsed := time.Since(start)

	telemetry.ObserveToolDuration(params.Name, elapsed)
	status := "ok"
	errorCode := ""
	if err != nil {
		status = "error"
		errorCode = core.MapError(err).Code
	}
	telemetry.IncToolCall(params.Name, status)

	if s.audit != nil {
		if recErr := s.audit.Record(ctx, audit.ToolCall{
			TraceID:   traceID,
			ToolName:  params.Name,
			OK:        err == nil,
			ErrorCode: errorCode,
			Duration:  elapsed,
			StartedAt: start,
		}); recErr != nil {
			s.logger.Error("audit record failed", "trace_id", traceID, "err", recErr)
		}
	}

	if err != nil {
		mapped := core.MapError(err)
		s.logger.Error("tool call failed",
			"trace_id", traceID,
			"tool_name", params.Name,
			"code", mapped.Code,
			"duration_ms", elapsed.Milliseconds(),
			"err", err,
		)
		base.Error = &rpcError{Code: mapped.RPCCode, Message: mapped.Code + ": " + mapped.Message}
		return base
	}

	s.logger.Info("tool call completed",
		"trace_id", traceID,
		"tool_name", params.Name,
		"duration_ms", elapsed.Milliseconds(),
	)

	base.Result = core.ToolEnvelope{
		OK:     true,
		Meta:   core.ToolMeta{TraceID: traceID, Tool: params.Name, DurationMS: elapsed.Milliseconds(), Truncated: resultTruncated(result)},
		Result: result,
	}
	return base
}

// invoke runs one tool handler. A panic inside a handler becomes an internal
// error instead of tearing down the message loop.
func (s *Server) invoke(ctx context.Context, name string, raw json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("tool %s panicked: %v", name, r)
			s.logger.Error("tool panic recovered", "tool_name", name, "panic", r)
		}
	}()

	switch name {
	case "find_definition":
		return s.toolFindDefinition(ctx, raw)
	case "find_references":
		return s.toolFindReferences(ctx, raw)
	case "get_diagnostics":
		return s.toolGetDiagnostics(ctx, raw)
	case "workspace_symbols":
		return s.toolWorkspaceSymbols(ctx, raw)
	case "rename_symbol":
		return s.toolRenameSymbol(ctx, raw)
	case "format_code":
		return s.toolFormatCode(ctx, raw)
	case "organize_imports":
		return s.toolOrganizeImports(ctx, raw)
	case "get_type_hierarchy":
		return s.toolGetTypeHierarchy(ctx, raw)
	case "inline_function":
		return s.toolInlineFunction(ctx, raw)
	case "change_signature":
		return s.toolChangeSignature(ctx, raw)
	case "extract_function":
		return s.toolExtractFunction(ctx, raw)
	case "analyze_manifest":
		return s.toolAnalyzeManifest(ctx, raw)
	case "run_cargo_check":
		return s.toolRunCargoCheck(ctx, raw)
	case "apply_clippy_suggestions":
		return s.toolApplyClippySuggestions(ctx, raw)
	case "validate_lifetimes":
		return s.toolValidateLifetimes(ctx, raw)
	case "suggest_dependencies":
		return s.toolSuggestDependencies(ctx, raw)
	case "generate_struct":
		return s.toolGenerateStruct(ctx, raw)
	case "generate_enum":
		return s.toolGenerateEnum(ctx, raw)
	case "generate_trait_impl":
		return s.toolGenerateTraitImpl(ctx, raw)
	case "generate_tests":
		return s.toolGenerateTests(ctx, raw)
	case "create_module":
		return s.toolCreateModule(ctx, raw)
	case "move_items":
		return s.toolMoveItems(ctx, raw)
	case "capabilities":
		return s.toolCapabilities(ctx, raw)
	case "inspect":
		return s.toolInspect(ctx, raw)
	case "inspect_mir":
		return s.toolInspectFixed(ctx, raw, "mir")
	case "inspect_llvm_ir":
		return s.toolInspectFixed(ctx, raw, "llvm-ir")
	case "inspect_asm":
		return s.toolInspectFixed(ctx, raw, "asm")
	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

func resultTruncated(result any) bool {
	if rep, ok := result.(*inspect.Report); ok {
		return rep.Truncated
	}
	return false
}
