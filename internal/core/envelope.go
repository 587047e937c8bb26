package core

// ToolEnvelope is the standard response wrapper for all tool calls.
type ToolEnvelope struct {
	OK     bool       `json:"ok"`
	Meta   ToolMeta   `json:"meta"`
	Result any        `json:"result"`
	Error  *ToolError `json:"error,omitempty"`
}

// ToolMeta contains audit metadata for a tool call.
type ToolMeta struct {
	TraceID    string `json:"trace_id"`
	Tool       string `json:"tool"`
	DurationMS int64  `json:"duration_ms"`
	Truncated  bool   `json:"truncated,omitempty"`
}

// ToolError represents a tool-level error (distinct from transport errors).
type ToolError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
