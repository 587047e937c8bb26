package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rustbridge/rustbridge/internal/analyzer"
	"github.com/rustbridge/rustbridge/internal/codegen"
	"github.com/rustbridge/rustbridge/internal/compiler"
	"github.com/rustbridge/rustbridge/internal/inspect"
)

func testServer(t *testing.T) (*Server, string) {
	t.Helper()
	root := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ac := analyzer.NewClient(analyzer.ClientConfig{
		Binary:        "/nonexistent/rust-analyzer",
		WorkspaceRoot: root,
		Logger:        logger,
	})
	runner := compiler.NewRunner(compiler.Config{
		Timeout:        2 * time.Second,
		MaxOutputBytes: 1 << 20,
		MaxConcurrent:  2,
		Logger:         logger,
	})
	cargo := compiler.NewCargo(runner, root)
	inspector := inspect.NewService(ac, cargo, inspect.GatingStrict, inspect.Toolchain{Channel: inspect.ChannelStable}, logger)
	gen := codegen.NewGenerator(root)
	return NewServer("", root, ac, cargo, inspector, gen, nil, logger), root
}

// roundTrip feeds newline-delimited requests through the message loop and
// returns the decoded response lines.
func roundTrip(t *testing.T, s *Server, lines ...string) []jsonRPCResponse {
	t.Helper()
	var out bytes.Buffer
	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	if err := s.Serve(context.Background(), in, &out); err != nil {
		t.Fatalf("serve: %v", err)
	}
	var resps []jsonRPCResponse
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var resp jsonRPCResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			t.Fatalf("decode response %q: %v", scanner.Text(), err)
		}
		resps = append(resps, resp)
	}
	return resps
}

func callTool(t *testing.T, s *Server, name string, args map[string]any) jsonRPCResponse {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params":  map[string]any{"name": name, "arguments": args},
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resps := roundTrip(t, s, string(raw))
	if len(resps) != 1 {
		t.Fatalf("expected 1 response, got %d", len(resps))
	}
	return resps[0]
}

// envelope re-decodes a tool result into its envelope shape.
func envelope(t *testing.T, resp jsonRPCResponse) map[string]any {
	t.Helper()
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	var env map[string]any
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func TestInitializeAndPing(t *testing.T) {
	s, _ := testServer(t)
	resps := roundTrip(t, s,
		`{"jsonrpc":"2.0","id":1,"method":"initialize"}`,
		`{"jsonrpc":"2.0","id":2,"method":"ping"}`,
	)
	if len(resps) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(resps))
	}
	if resps[0].Error != nil {
		t.Fatalf("initialize failed: %+v", resps[0].Error)
	}
	init := resps[0].Result.(map[string]any)
	if init["protocolVersion"] != protocolVersion {
		t.Fatalf("protocolVersion = %v", init["protocolVersion"])
	}
	info := init["serverInfo"].(map[string]any)
	if info["name"] != "rustbridge" {
		t.Fatalf("serverInfo.name = %v", info["name"])
	}
	if resps[1].Error != nil {
		t.Fatalf("ping failed: %+v", resps[1].Error)
	}
}

func TestToolsListMatchesDispatch(t *testing.T) {
	s, _ := testServer(t)
	resps := roundTrip(t, s, `{"jsonrpc":"2.0","id":7,"method":"tools/list"}`)
	if len(resps) != 1 || resps[0].Error != nil {
		t.Fatalf("tools/list failed: %+v", resps)
	}
	result := resps[0].Result.(map[string]any)
	tools := result["tools"].([]any)
	if len(tools) != 27 {
		t.Fatalf("expected 27 tools, got %d", len(tools))
	}
	seen := make(map[string]bool)
	for _, tl := range tools {
		def := tl.(map[string]any)
		name := def["name"].(string)
		if seen[name] {
			t.Fatalf("duplicate tool %q", name)
		}
		seen[name] = true
		if !knownTool(name) {
			t.Fatalf("tool %q advertised but not dispatchable", name)
		}
		if def["description"] == "" || def["inputSchema"] == nil {
			t.Fatalf("tool %q missing description or schema", name)
		}
	}
}

func TestUnknownMethod(t *testing.T) {
	s, _ := testServer(t)
	resps := roundTrip(t, s, `{"jsonrpc":"2.0","id":1,"method":"resources/list"}`)
	if resps[0].Error == nil || resps[0].Error.Code != -32601 {
		t.Fatalf("expected -32601, got %+v", resps[0].Error)
	}
}

func TestParseError(t *testing.T) {
	s, _ := testServer(t)
	resps := roundTrip(t, s, `{nonsense`)
	if resps[0].Error == nil || resps[0].Error.Code != -32700 {
		t.Fatalf("expected -32700, got %+v", resps[0].Error)
	}
}

func TestNotificationGetsNoResponse(t *testing.T) {
	s, _ := testServer(t)
	resps := roundTrip(t, s,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":1,"method":"ping"}`,
	)
	if len(resps) != 1 {
		t.Fatalf("expected only the ping response, got %d responses", len(resps))
	}
}

func TestUnknownToolRejected(t *testing.T) {
	s, _ := testServer(t)
	resp := callTool(t, s, "no_such_tool", nil)
	if resp.Error == nil || resp.Error.Code != -32602 {
		t.Fatalf("expected -32602, got %+v", resp.Error)
	}
	if !strings.Contains(resp.Error.Message, "no_such_tool") {
		t.Fatalf("message should name the tool: %q", resp.Error.Message)
	}
}

func TestMissingRequiredArgument(t *testing.T) {
	s, _ := testServer(t)
	resp := callTool(t, s, "find_definition", map[string]any{"line": 3})
	if resp.Error == nil || resp.Error.Code != -32602 {
		t.Fatalf("expected -32602, got %+v", resp.Error)
	}
	if !strings.Contains(resp.Error.Message, "invalid_params") {
		t.Fatalf("expected invalid_params code in %q", resp.Error.Message)
	}
}

func TestDiagnosticsOnMissingDocument(t *testing.T) {
	s, _ := testServer(t)
	resp := callTool(t, s, "get_diagnostics", map[string]any{"file_path": "src/missing.rs"})
	if resp.Error == nil || resp.Error.Code != -32603 {
		t.Fatalf("expected -32603, got %+v", resp.Error)
	}
	if !strings.HasPrefix(resp.Error.Message, "document_not_open") {
		t.Fatalf("expected document_not_open, got %q", resp.Error.Message)
	}
}

func TestGenerateStructTool(t *testing.T) {
	s, _ := testServer(t)
	resp := callTool(t, s, "generate_struct", map[string]any{
		"name":    "Point",
		"fields":  []map[string]string{{"name": "x", "type": "f64"}, {"name": "y", "type": "f64"}},
		"derives": []string{"Debug", "Clone"},
	})
	if resp.Error != nil {
		t.Fatalf("generate_struct failed: %+v", resp.Error)
	}
	env := envelope(t, resp)
	if env["ok"] != true {
		t.Fatalf("envelope not ok: %+v", env)
	}
	meta := env["meta"].(map[string]any)
	if meta["tool"] != "generate_struct" || meta["trace_id"] == "" {
		t.Fatalf("bad meta: %+v", meta)
	}
	result := env["result"].(map[string]any)
	code := result["code"].(string)
	if !strings.Contains(code, "pub struct Point") || !strings.Contains(code, "derive(Debug, Clone)") {
		t.Fatalf("unexpected code:\n%s", code)
	}
}

func TestCreateModuleTool(t *testing.T) {
	s, root := testServer(t)
	if err := os.MkdirAll(filepath.Join(root, "src"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "src", "lib.rs"), []byte("pub fn one() -> u32 { 1 }\n"), 0o644); err != nil {
		t.Fatalf("write lib.rs: %v", err)
	}

	resp := callTool(t, s, "create_module", map[string]any{"name": "parser", "content": "pub fn parse() {}\n"})
	if resp.Error != nil {
		t.Fatalf("create_module failed: %+v", resp.Error)
	}
	if _, err := os.Stat(filepath.Join(root, "src", "parser.rs")); err != nil {
		t.Fatalf("module file not created: %v", err)
	}
	lib, err := os.ReadFile(filepath.Join(root, "src", "lib.rs"))
	if err != nil {
		t.Fatalf("read lib.rs: %v", err)
	}
	if !strings.Contains(string(lib), "pub mod parser;") {
		t.Fatalf("module not declared in lib.rs:\n%s", lib)
	}
}

func TestAnalyzeManifestTool(t *testing.T) {
	s, root := testServer(t)
	manifest := `[package]
name = "sample"
version = "0.1.0"
edition = "2021"

[dependencies]
serde = "1"
`
	if err := os.WriteFile(filepath.Join(root, "Cargo.toml"), []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	resp := callTool(t, s, "analyze_manifest", nil)
	if resp.Error != nil {
		t.Fatalf("analyze_manifest failed: %+v", resp.Error)
	}
	env := envelope(t, resp)
	result := env["result"].(map[string]any)
	pkg := result["package"].(map[string]any)
	if pkg["name"] != "sample" || pkg["edition"] != "2021" {
		t.Fatalf("unexpected package: %+v", pkg)
	}
}

func TestPanicRecoveredAsInternalError(t *testing.T) {
	s, _ := testServer(t)
	s.inspector = nil

	resp := callTool(t, s, "capabilities", nil)
	if resp.Error == nil || resp.Error.Code != -32603 {
		t.Fatalf("expected -32603 after panic, got %+v", resp.Error)
	}
	if !strings.Contains(resp.Error.Message, "panicked") {
		t.Fatalf("expected panic message, got %q", resp.Error.Message)
	}
}

func TestSlowCompilerCallDoesNotBlockOtherRequests(t *testing.T) {
	s, _ := testServer(t)

	binDir := t.TempDir()
	stub := filepath.Join(binDir, "cargo")
	if err := os.WriteFile(stub, []byte("#!/bin/sh\nsleep 0.5\n"), 0o755); err != nil {
		t.Fatalf("write stub cargo: %v", err)
	}
	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	done := make(chan error, 1)
	go func() {
		err := s.Serve(context.Background(), inR, outW)
		outW.Close()
		done <- err
	}()

	fmt.Fprintln(inW, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"run_cargo_check","arguments":{}}}`)
	fmt.Fprintln(inW, `{"jsonrpc":"2.0","id":2,"method":"ping"}`)

	scanner := bufio.NewScanner(outR)
	var order []float64
	for scanner.Scan() {
		var resp jsonRPCResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			t.Fatalf("decode response %q: %v", scanner.Text(), err)
		}
		order = append(order, resp.ID.(float64))
		if len(order) == 2 {
			break
		}
	}
	inW.Close()
	if err := <-done; err != nil {
		t.Fatalf("serve: %v", err)
	}
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("response order = %v, want ping (2) before the compiler run (1)", order)
	}
}

func TestPathTraversalRejected(t *testing.T) {
	s, _ := testServer(t)
	resp := callTool(t, s, "move_items", map[string]any{
		"from_path":  "../outside.rs",
		"to_path":    "src/lib.rs",
		"start_line": 1,
		"end_line":   1,
	})
	if resp.Error == nil {
		t.Fatal("expected traversal to be rejected")
	}
}
