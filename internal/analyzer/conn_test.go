package analyzer

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type fakeServer struct {
	reader *bufio.Reader
	writer io.Writer
}

func (s *fakeServer) readRequest(t *testing.T) rpcRequest {
	t.Helper()
	payload, err := readFrame(s.reader)
	if err != nil {
		t.Fatalf("fake server read: %v", err)
	}
	var req rpcRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		t.Fatalf("fake server decode: %v", err)
	}
	return req
}

func (s *fakeServer) send(t *testing.T, v any) {
	t.Helper()
	payload, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("fake server marshal: %v", err)
	}
	fmt.Fprintf(s.writer, "Content-Length: %d\r\n\r\n", len(payload))
	s.writer.Write(payload)
}

func (s *fakeServer) reply(t *testing.T, id int64, result any) {
	s.send(t, map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
}

func testConn(t *testing.T, onNotify NotificationHandler, onDecode func()) (*Conn, *fakeServer, func()) {
	t.Helper()
	clientReads, serverWrites := io.Pipe()
	serverReads, clientWrites := io.Pipe()
	conn := NewConn(clientReads, clientWrites, slog.New(slog.NewTextHandler(io.Discard, nil)), onNotify, onDecode)
	srv := &fakeServer{reader: bufio.NewReader(serverReads), writer: serverWrites}
	cleanup := func() {
		serverWrites.Close()
		clientWrites.Close()
	}
	return conn, srv, cleanup
}

func TestCallCorrelatesReply(t *testing.T) {
	conn, srv, cleanup := testConn(t, nil, nil)
	defer cleanup()

	go func() {
		req := srv.readRequest(t)
		srv.reply(t, *req.ID, map[string]any{"value": 7})
	}()

	var result struct {
		Value int `json:"value"`
	}
	if err := conn.Call(context.Background(), "test/echo", map[string]any{"x": 1}, &result); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result.Value != 7 {
		t.Fatalf("result = %d, want 7", result.Value)
	}
}

func TestCallOutOfOrderReplies(t *testing.T) {
	conn, srv, cleanup := testConn(t, nil, nil)
	defer cleanup()

	go func() {
		first := srv.readRequest(t)
		second := srv.readRequest(t)
		srv.reply(t, *second.ID, "second")
		srv.reply(t, *first.ID, "first")
	}()

	type outcome struct {
		label string
		got   string
		err   error
	}
	results := make(chan outcome, 2)
	call := func(label string) {
		var got string
		err := conn.Call(context.Background(), "test/"+label, nil, &got)
		results <- outcome{label, got, err}
	}
	go call("first")
	time.Sleep(20 * time.Millisecond)
	go call("second")

	for i := 0; i < 2; i++ {
		out := <-results
		if out.err != nil {
			t.Fatalf("%s: %v", out.label, out.err)
		}
		if out.got != out.label {
			t.Fatalf("%s got payload %q", out.label, out.got)
		}
	}
}

func TestCallServerError(t *testing.T) {
	conn, srv, cleanup := testConn(t, nil, nil)
	defer cleanup()

	go func() {
		req := srv.readRequest(t)
		srv.send(t, map[string]any{
			"jsonrpc": "2.0",
			"id":      *req.ID,
			"error":   map[string]any{"code": -32001, "message": "content modified"},
		})
	}()

	err := conn.Call(context.Background(), "test/fail", nil, nil)
	var serverErr *ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("err = %v, want ServerError", err)
	}
	if serverErr.Code != -32001 || serverErr.Message != "content modified" {
		t.Fatalf("unexpected forwarded error: %+v", serverErr)
	}
	if serverErr.ErrorCode() != "analyzer_error" {
		t.Fatalf("ErrorCode() = %q", serverErr.ErrorCode())
	}
}

func TestConnectionDeathFailsPending(t *testing.T) {
	conn, srv, cleanup := testConn(t, nil, nil)

	errCh := make(chan error, 1)
	go func() {
		errCh <- conn.Call(context.Background(), "test/hang", nil, nil)
	}()
	srv.readRequest(t)
	cleanup()

	err := <-errCh
	var unavailable *UnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("err = %v, want UnavailableError", err)
	}
	if !conn.Down() {
		t.Fatal("connection should be marked down")
	}
	if err := conn.Call(context.Background(), "test/after", nil, nil); !errors.As(err, &unavailable) {
		t.Fatalf("call after death = %v, want UnavailableError", err)
	}
}

func TestNotificationDispatch(t *testing.T) {
	got := make(chan string, 1)
	conn, srv, cleanup := testConn(t, func(method string, params json.RawMessage) {
		got <- method
	}, nil)
	defer cleanup()
	_ = conn

	srv.send(t, map[string]any{
		"jsonrpc": "2.0",
		"method":  "textDocument/publishDiagnostics",
		"params":  map[string]any{"uri": "file:///a.rs", "diagnostics": []any{}},
	})

	select {
	case method := <-got:
		if method != "textDocument/publishDiagnostics" {
			t.Fatalf("method = %q", method)
		}
	case <-time.After(time.Second):
		t.Fatal("notification never dispatched")
	}
}

func TestMalformedFrameCountedAndSkipped(t *testing.T) {
	var decodeErrs atomic.Int64
	conn, srv, cleanup := testConn(t, nil, func() { decodeErrs.Add(1) })
	defer cleanup()

	// Valid framing, unparsable payload. The read loop must count it and
	// keep serving later frames.
	junk := []byte("not json at all")
	fmt.Fprintf(srv.writer, "Content-Length: %d\r\n\r\n", len(junk))
	srv.writer.Write(junk)

	go func() {
		req := srv.readRequest(t)
		srv.reply(t, *req.ID, "ok")
	}()

	var got string
	if err := conn.Call(context.Background(), "test/after-junk", nil, &got); err != nil {
		t.Fatalf("call after junk frame: %v", err)
	}
	if got != "ok" {
		t.Fatalf("got %q", got)
	}
	if decodeErrs.Load() != 1 {
		t.Fatalf("decode errors = %d, want 1", decodeErrs.Load())
	}
}

func TestUnknownIDDropped(t *testing.T) {
	conn, srv, cleanup := testConn(t, nil, nil)
	defer cleanup()

	srv.reply(t, 999, "stray")

	go func() {
		req := srv.readRequest(t)
		srv.reply(t, *req.ID, "real")
	}()

	var got string
	if err := conn.Call(context.Background(), "test/real", nil, &got); err != nil {
		t.Fatalf("call after stray reply: %v", err)
	}
	if got != "real" {
		t.Fatalf("got %q", got)
	}
}

func TestCallContextCancel(t *testing.T) {
	conn, srv, cleanup := testConn(t, nil, nil)
	defer cleanup()

	go srv.readRequest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := conn.Call(ctx, "test/hang", nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestReadFrameHeaderCaseInsensitive(t *testing.T) {
	payload := `{"jsonrpc":"2.0"}`
	framed := fmt.Sprintf("content-length: %d\r\n\r\n%s", len(payload), payload)
	got, err := readFrame(bufio.NewReader(strings.NewReader(framed)))
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if string(got) != payload {
		t.Fatalf("payload = %q", got)
	}
}
