package domain

import (
	"context"
	"encoding/json"
)

// ToolDescriptor describes a single tool advertised by the remote tool host.
// Descriptors are read-only after discovery.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ContentItem is one piece of a tool invocation's output payload.
// Type is "text" for textual output; other types carry raw data.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Data string `json:"data,omitempty"`
}

// InvocationResult is the outcome of a remote tool call. Exactly one of the
// success payload or the failure message is populated; use the Succeeded and
// Failed constructors to preserve that invariant.
type InvocationResult struct {
	Success bool          `json:"success"`
	Content []ContentItem `json:"content,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// Succeeded builds a success result wrapping the host's content items.
func Succeeded(content []ContentItem) InvocationResult {
	return InvocationResult{Success: true, Content: content}
}

// Failed builds a failure result carrying only the error message.
func Failed(msg string) InvocationResult {
	return InvocationResult{Success: false, Error: msg}
}

// ToolHost is the port to a remote tool-execution service. Implementations
// never return Go errors from these methods: discovery failures yield an
// empty catalog, call failures yield a Failed result, and probe failures
// yield false. The component sits behind a user-facing chat turn and must
// not propagate exceptions.
type ToolHost interface {
	// ListTools returns the current tool catalog, or an empty slice on any
	// transport or protocol error.
	ListTools(ctx context.Context) []ToolDescriptor
	// CallTool invokes a tool by name. The result is exactly one of
	// success-with-content or failure-with-message.
	CallTool(ctx context.Context, name string, args map[string]any) InvocationResult
	// Healthy reports whether the host answers its liveness probe.
	Healthy(ctx context.Context) bool
}
