package analyzer

import (
	"fmt"
	"time"
)

// SpawnError reports that the rust-analyzer subprocess could not be started.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn rust-analyzer at %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

func (e *SpawnError) ErrorCode() string { return "spawn_failed" }

// UnavailableError reports that the analyzer subprocess exited or the
// connection to it is gone. Requests in flight at the time fail with this.
type UnavailableError struct {
	Reason string
}

func (e *UnavailableError) Error() string {
	if e.Reason == "" {
		return "rust-analyzer is unavailable"
	}
	return "rust-analyzer is unavailable: " + e.Reason
}

func (e *UnavailableError) ErrorCode() string { return "analyzer_unavailable" }

// ServerError is a JSON-RPC error response from rust-analyzer, forwarded
// with its original code and message.
type ServerError struct {
	Code    int
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("rust-analyzer error %d: %s", e.Code, e.Message)
}

func (e *ServerError) ErrorCode() string { return "analyzer_error" }

// RequestTimeoutError reports that rust-analyzer did not answer a request
// within the client's deadline. The subprocess is up but stalled; this is
// not a compiler guardrail timeout.
type RequestTimeoutError struct {
	Method  string
	Timeout time.Duration
}

func (e *RequestTimeoutError) Error() string {
	return fmt.Sprintf("rust-analyzer did not answer %s within %s", e.Method, e.Timeout)
}

func (e *RequestTimeoutError) ErrorCode() string { return "analyzer_timeout" }

// DocumentNotOpenError reports an operation against a document that is not
// in the open set and could not be opened.
type DocumentNotOpenError struct {
	Path string
}

func (e *DocumentNotOpenError) Error() string {
	return fmt.Sprintf("document not open: %s", e.Path)
}

func (e *DocumentNotOpenError) ErrorCode() string { return "document_not_open" }

// DecodeError reports a frame from the subprocess that could not be parsed.
// Decode failures are counted and skipped; this surfaces only when a reply
// payload cannot be unmarshaled into the caller's result type.
type DecodeError struct {
	Detail string
}

func (e *DecodeError) Error() string {
	return "protocol decode error: " + e.Detail
}

func (e *DecodeError) ErrorCode() string { return "protocol_decode_error" }
