package analyzer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NotificationHandler receives server-initiated notifications, e.g.
// textDocument/publishDiagnostics. It runs on the read loop goroutine and
// must not block.
type NotificationHandler func(method string, params json.RawMessage)

// Conn speaks Content-Length framed JSON-RPC over a byte stream and
// correlates replies to calls by id. A single goroutine owns the read side;
// writes are serialized with a mutex.
type Conn struct {
	reader *bufio.Reader
	writer io.Writer
	logger *slog.Logger

	onNotify NotificationHandler
	onDecode func()

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[int64]chan *rpcResponse
	nextID  int64
	down    bool
	downErr error
}

// NewConn wraps the subprocess stdio pair and starts the read loop. onDecode
// is invoked once per frame that fails to parse; pass nil to ignore.
func NewConn(r io.Reader, w io.Writer, logger *slog.Logger, onNotify NotificationHandler, onDecode func()) *Conn {
	c := &Conn{
		reader:   bufio.NewReader(r),
		writer:   w,
		logger:   logger,
		onNotify: onNotify,
		onDecode: onDecode,
		pending:  make(map[int64]chan *rpcResponse),
	}
	go c.readLoop()
	return c
}

// Call sends a request and blocks until the matching reply arrives, the
// context is done, or the connection dies. A non-nil result is unmarshaled
// from the reply payload.
func (c *Conn) Call(ctx context.Context, method string, params any, result any) error {
	raw, err := marshalParams(params)
	if err != nil {
		return fmt.Errorf("marshal %s params: %w", method, err)
	}

	c.mu.Lock()
	if c.down {
		err := c.downErr
		c.mu.Unlock()
		return err
	}
	c.nextID++
	id := c.nextID
	ch := make(chan *rpcResponse, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	req := rpcRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: raw}
	if err := c.write(req); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return &UnavailableError{Reason: err.Error()}
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			c.mu.Lock()
			err := c.downErr
			c.mu.Unlock()
			return err
		}
		if resp.Error != nil {
			return &ServerError{Code: resp.Error.Code, Message: resp.Error.Message}
		}
		if result != nil && len(resp.Result) > 0 && string(resp.Result) != "null" {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return &DecodeError{Detail: fmt.Sprintf("%s result: %v", method, err)}
			}
		}
		return nil
	}
}

// Notify sends a notification; no reply is expected.
func (c *Conn) Notify(method string, params any) error {
	raw, err := marshalParams(params)
	if err != nil {
		return fmt.Errorf("marshal %s params: %w", method, err)
	}
	req := rpcRequest{JSONRPC: "2.0", Method: method, Params: raw}
	if err := c.write(req); err != nil {
		return &UnavailableError{Reason: err.Error()}
	}
	return nil
}

// Close marks the connection dead and fails all pending calls. The read loop
// exits on its own once the underlying stream is closed by the caller.
func (c *Conn) Close() {
	c.fail(&UnavailableError{Reason: "connection closed"})
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	return json.Marshal(params)
}

func (c *Conn) write(req rpcRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := fmt.Fprintf(c.writer, "Content-Length: %d\r\n\r\n", len(payload)); err != nil {
		return err
	}
	_, err = c.writer.Write(payload)
	return err
}

func (c *Conn) readLoop() {
	for {
		payload, err := readFrame(c.reader)
		if err != nil {
			if err == errBadFrame {
				if c.onDecode != nil {
					c.onDecode()
				}
				c.logger.Warn("analyzer frame dropped", "reason", "bad header")
				continue
			}
			c.fail(&UnavailableError{Reason: err.Error()})
			return
		}
		var msg rpcResponse
		if err := json.Unmarshal(payload, &msg); err != nil {
			if c.onDecode != nil {
				c.onDecode()
			}
			c.logger.Warn("analyzer frame dropped", "reason", "unparsable json", "error", err)
			continue
		}
		switch {
		case msg.ID != nil && msg.Method == "":
			c.dispatch(&msg)
		case msg.Method != "" && msg.ID == nil:
			if c.onNotify != nil {
				c.onNotify(msg.Method, msg.Params)
			}
		case msg.Method != "" && msg.ID != nil:
			// Server-to-client request. We support none of them; reply
			// with MethodNotFound so rust-analyzer does not stall.
			c.replyMethodNotFound(*msg.ID, msg.Method)
		default:
			if c.onDecode != nil {
				c.onDecode()
			}
			c.logger.Warn("analyzer frame dropped", "reason", "neither request nor response")
		}
	}
}

func (c *Conn) dispatch(msg *rpcResponse) {
	id := *msg.ID
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		c.logger.Warn("analyzer reply for unknown id", "id", id)
		return
	}
	ch <- msg
}

func (c *Conn) replyMethodNotFound(id int64, method string) {
	type errBody struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	resp := struct {
		JSONRPC string  `json:"jsonrpc"`
		ID      int64   `json:"id"`
		Error   errBody `json:"error"`
	}{"2.0", id, errBody{Code: -32601, Message: "method not supported: " + method}}
	payload, err := json.Marshal(resp)
	if err != nil {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	fmt.Fprintf(c.writer, "Content-Length: %d\r\n\r\n", len(payload))
	c.writer.Write(payload)
}

func (c *Conn) fail(err error) {
	c.mu.Lock()
	if c.down {
		c.mu.Unlock()
		return
	}
	c.down = true
	c.downErr = err
	pending := c.pending
	c.pending = make(map[int64]chan *rpcResponse)
	c.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
}

// Down reports whether the connection has failed.
func (c *Conn) Down() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.down
}

var errBadFrame = fmt.Errorf("malformed frame header")

// readFrame reads one Content-Length framed payload. Header names are
// matched case-insensitively; unknown headers are skipped.
func readFrame(r *bufio.Reader) ([]byte, error) {
	contentLength := -1
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, errBadFrame
		}
		if strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || n < 0 {
				return nil, errBadFrame
			}
			contentLength = n
		}
	}
	if contentLength < 0 {
		return nil, errBadFrame
	}
	payload := make([]byte, contentLength)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
