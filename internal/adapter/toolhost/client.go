// Package toolhost talks to an external tool server over a minimal
// JSON-RPC 2.0 surface: tools/list for discovery and tools/call for
// execution. The server is treated as untrusted and flaky; every
// failure is folded into an InvocationResult rather than surfaced as
// a Go error, so a broken tool host can never abort a chat turn.
package toolhost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel/trace"

	"aembot/internal/domain"
	"aembot/internal/infra/config"
	"aembot/internal/infra/tracer"
)

// defaultCallTimeout bounds a single tools/call round trip.
const defaultCallTimeout = 30 * time.Second

// maxResponseBody is the maximum response body size read from the tool host.
const maxResponseBody = 4 * 1024 * 1024 // 4 MB

// Client implements domain.ToolHost against a JSON-RPC tool server.
type Client struct {
	baseURL     string
	prefix      string
	server      string
	token       string
	callTimeout time.Duration
	httpClient  *http.Client
	logger      *slog.Logger
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a tool host client from configuration.
func New(cfg config.ToolHostConfig, logger *slog.Logger, opts ...Option) *Client {
	callTimeout := cfg.CallTimeout
	if callTimeout == 0 {
		callTimeout = defaultCallTimeout
	}

	c := &Client{
		baseURL:     strings.TrimRight(cfg.URL, "/"),
		prefix:      cfg.Prefix,
		server:      cfg.Server,
		token:       cfg.Token,
		callTimeout: callTimeout,
		httpClient:  &http.Client{Timeout: callTimeout},
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// --- JSON-RPC wire types ---

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type listToolsResult struct {
	Tools []domain.ToolDescriptor `json:"tools"`
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type callToolResult struct {
	Content []json.RawMessage `json:"content"`
	IsError bool              `json:"isError"`
}

// ListTools implements domain.ToolHost. A host that cannot be reached
// yields an empty catalog, never an error.
func (c *Client) ListTools(ctx context.Context) []domain.ToolDescriptor {
	ctx, span := tracer.StartSpan(ctx, "toolhost.list_tools")
	defer span.End()

	raw, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		tracer.RecordError(span, err)
		c.logger.Warn("tool discovery failed", "error", err)
		return nil
	}

	var result listToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		tracer.RecordError(span, err)
		c.logger.Warn("tool discovery returned malformed result", "error", err)
		return nil
	}

	span.SetAttributes(tracer.IntAttr("toolhost.tool_count", len(result.Tools)))
	tracer.SetOK(span)
	return result.Tools
}

// CallTool implements domain.ToolHost. Arguments are copied before
// credential injection so the caller's map is never mutated.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) domain.InvocationResult {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Failed("tool name is required")
	}

	ctx, span := tracer.StartSpan(ctx, "toolhost.call_tool",
		trace.WithAttributes(tracer.StringAttr("tool.name", name)),
	)
	defer span.End()

	params := callToolParams{
		Name:      name,
		Arguments: c.injectCredentials(name, args),
	}

	raw, err := c.call(ctx, "tools/call", params)
	if err != nil {
		tracer.RecordError(span, err)
		c.logger.Warn("tool call failed", "tool", name, "error", err)
		return domain.Failed(fmt.Sprintf("tool %q call failed: %v", name, err))
	}

	var result callToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		tracer.RecordError(span, err)
		return domain.Failed(fmt.Sprintf("tool %q returned malformed result: %v", name, err))
	}

	content := decodeContent(result.Content)
	if result.IsError {
		msg := "tool execution failed"
		if len(content) > 0 && content[0].Text != "" {
			msg = content[0].Text
		}
		span.SetAttributes(tracer.StringAttr("tool.error", msg))
		return domain.Failed(msg)
	}

	tracer.SetOK(span)
	c.logger.Debug("tool call completed", "tool", name, "content_items", len(content))
	return domain.Succeeded(content)
}

// Healthy implements domain.ToolHost. It probes GET /health and accepts
// only an explicit healthy status.
func (c *Client) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("tool host health probe failed", "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var status struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&status); err != nil {
		return false
	}
	return status.Status == "healthy"
}

// injectCredentials fills in server and token arguments for tools whose
// name carries the configured prefix. Caller-supplied values always win.
func (c *Client) injectCredentials(name string, args map[string]any) map[string]any {
	out := make(map[string]any, len(args)+2)
	for k, v := range args {
		out[k] = v
	}

	if c.prefix == "" || !strings.HasPrefix(name, c.prefix) {
		return out
	}

	if _, ok := out["server"]; !ok {
		if server := strings.TrimSpace(c.server); server != "" {
			out["server"] = server
		}
	}
	if _, ok := out["token"]; !ok {
		if token := strings.TrimSpace(c.token); token != "" {
			out["token"] = token
		}
	}
	return out
}

// call performs one JSON-RPC round trip and returns the raw result.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rpc", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tool host error %d: %s", httpResp.StatusCode, string(respBody))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}

	return rpcResp.Result, nil
}

// decodeContent converts JSON-RPC content items (MCP content shapes)
// into domain content items. Unknown shapes are preserved as raw JSON
// text rather than dropped.
func decodeContent(items []json.RawMessage) []domain.ContentItem {
	if len(items) == 0 {
		return nil
	}

	out := make([]domain.ContentItem, 0, len(items))
	for _, raw := range items {
		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			continue
		}

		switch probe.Type {
		case "text":
			var tc mcp.TextContent
			if err := json.Unmarshal(raw, &tc); err != nil {
				continue
			}
			out = append(out, domain.ContentItem{Type: "text", Text: tc.Text})
		case "image":
			var ic mcp.ImageContent
			if err := json.Unmarshal(raw, &ic); err != nil {
				continue
			}
			out = append(out, domain.ContentItem{Type: "image", Data: ic.Data})
		default:
			out = append(out, domain.ContentItem{Type: probe.Type, Text: string(raw)})
		}
	}
	return out
}

var _ domain.ToolHost = (*Client)(nil)
