package core

import (
	"context"
	"errors"
	"strings"
)

// JSON-RPC 2.0 error codes used on the wire.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// CodedError is implemented by domain errors that carry a machine-readable code.
type CodedError interface {
	error
	ErrorCode() string
}

type ErrorInfo struct {
	Code    string
	Message string
	RPCCode int
}

// MapError translates a domain error into its stable code and the JSON-RPC
// code it rides out on. Coded errors map directly; everything else falls
// back on message matching, then internal_error.
func MapError(err error) ErrorInfo {
	if err == nil {
		return ErrorInfo{Code: "internal_error", Message: "internal server error", RPCCode: CodeInternalError}
	}

	msg := err.Error()

	var coded CodedError
	if errors.As(err, &coded) {
		code := coded.ErrorCode()
		switch code {
		case "invalid_params":
			return ErrorInfo{Code: code, Message: msg, RPCCode: CodeInvalidParams}
		default:
			return ErrorInfo{Code: code, Message: msg, RPCCode: CodeInternalError}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorInfo{Code: "compiler_timeout", Message: msg, RPCCode: CodeInternalError}
	}

	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "is required"), strings.Contains(lower, "invalid json"):
		return ErrorInfo{Code: "invalid_params", Message: msg, RPCCode: CodeInvalidParams}
	case strings.Contains(lower, "not found"):
		return ErrorInfo{Code: "not_found", Message: msg, RPCCode: CodeInternalError}
	default:
		return ErrorInfo{Code: "internal_error", Message: msg, RPCCode: CodeInternalError}
	}
}
