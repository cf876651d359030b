package toolhost

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"aembot/internal/infra/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(url string) config.ToolHostConfig {
	return config.ToolHostConfig{
		URL:         url,
		Prefix:      "aem-",
		Server:      " https://aem.example.com ",
		Token:       "secret-token",
		CallTimeout: 5 * time.Second,
	}
}

// rpcEnvelope captures what the fake server received.
type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

func newRPCServer(t *testing.T, handler func(env rpcEnvelope) any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rpc" {
			http.NotFound(w, r)
			return
		}
		var env rpcEnvelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			t.Errorf("decode rpc request: %v", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if env.JSONRPC != "2.0" {
			t.Errorf("jsonrpc version = %q, want 2.0", env.JSONRPC)
		}
		if env.ID != 1 {
			t.Errorf("rpc id = %d, want 1", env.ID)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      env.ID,
			"result":  handler(env),
		})
	}))
}

func TestListTools(t *testing.T) {
	srv := newRPCServer(t, func(env rpcEnvelope) any {
		if env.Method != "tools/list" {
			t.Errorf("method = %q, want tools/list", env.Method)
		}
		return map[string]any{
			"tools": []map[string]any{
				{
					"name":        "aem-list-pages",
					"description": "List pages under a path",
					"inputSchema": map[string]any{"type": "object"},
				},
				{
					"name":        "weather",
					"description": "Current weather",
					"inputSchema": map[string]any{"type": "object"},
				},
			},
		}
	})
	defer srv.Close()

	c := New(testConfig(srv.URL), testLogger())
	tools := c.ListTools(context.Background())

	if len(tools) != 2 {
		t.Fatalf("got %d tools, want 2", len(tools))
	}
	if tools[0].Name != "aem-list-pages" {
		t.Errorf("tools[0].Name = %q", tools[0].Name)
	}
	if tools[1].Description != "Current weather" {
		t.Errorf("tools[1].Description = %q", tools[1].Description)
	}
}

func TestListToolsServerDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), testLogger())
	if tools := c.ListTools(context.Background()); tools != nil {
		t.Errorf("expected nil catalog on server error, got %v", tools)
	}
}

func TestCallToolSuccess(t *testing.T) {
	srv := newRPCServer(t, func(env rpcEnvelope) any {
		if env.Method != "tools/call" {
			t.Errorf("method = %q, want tools/call", env.Method)
		}
		return map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": "3 pages found"},
			},
			"isError": false,
		}
	})
	defer srv.Close()

	c := New(testConfig(srv.URL), testLogger())
	result := c.CallTool(context.Background(), "aem-list-pages", map[string]any{"path": "/content"})

	if !result.Success {
		t.Fatalf("expected success, got error: %s", result.Error)
	}
	if len(result.Content) != 1 || result.Content[0].Text != "3 pages found" {
		t.Errorf("content = %+v", result.Content)
	}
	if result.Error != "" {
		t.Errorf("error should be empty on success, got %q", result.Error)
	}
}

func TestCallToolBlankName(t *testing.T) {
	srv := newRPCServer(t, func(env rpcEnvelope) any {
		t.Errorf("unexpected rpc call %q for a blank tool name", env.Method)
		return nil
	})
	defer srv.Close()

	c := New(testConfig(srv.URL), testLogger())
	for _, name := range []string{"", "   ", "\t\n"} {
		result := c.CallTool(context.Background(), name, nil)
		if result.Success {
			t.Errorf("CallTool(%q) succeeded, want failure", name)
		}
		if result.Error != "tool name is required" {
			t.Errorf("CallTool(%q) error = %q", name, result.Error)
		}
	}
}

func TestCallToolIsError(t *testing.T) {
	srv := newRPCServer(t, func(env rpcEnvelope) any {
		return map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": "path not found"},
			},
			"isError": true,
		}
	})
	defer srv.Close()

	c := New(testConfig(srv.URL), testLogger())
	result := c.CallTool(context.Background(), "aem-list-pages", nil)

	if result.Success {
		t.Fatal("expected failure")
	}
	if result.Error != "path not found" {
		t.Errorf("error = %q, want %q", result.Error, "path not found")
	}
	if result.Content != nil {
		t.Errorf("content should be nil on failure, got %+v", result.Content)
	}
}

func TestCallToolRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"method not found"}}`)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), testLogger())
	result := c.CallTool(context.Background(), "aem-list-pages", nil)

	if result.Success {
		t.Fatal("expected failure")
	}
	if result.Error == "" {
		t.Error("expected error message")
	}
}

func TestCallToolHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), testLogger())
	result := c.CallTool(context.Background(), "weather", map[string]any{"city": "Hanoi"})

	if result.Success {
		t.Fatal("expected failure on HTTP 500")
	}
	if result.Error == "" {
		t.Error("expected error message")
	}
}

func TestCallToolTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.CallTimeout = 50 * time.Millisecond
	c := New(cfg, testLogger())

	result := c.CallTool(context.Background(), "weather", nil)
	if result.Success {
		t.Fatal("expected failure on timeout")
	}
}

func TestCredentialInjection(t *testing.T) {
	var gotArgs map[string]any
	srv := newRPCServer(t, func(env rpcEnvelope) any {
		var params struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		if err := json.Unmarshal(env.Params, &params); err != nil {
			t.Fatalf("unmarshal params: %v", err)
		}
		gotArgs = params.Arguments
		return map[string]any{"content": []map[string]any{}, "isError": false}
	})
	defer srv.Close()

	c := New(testConfig(srv.URL), testLogger())

	t.Run("prefixed tool gets trimmed credentials", func(t *testing.T) {
		c.CallTool(context.Background(), "aem-list-pages", map[string]any{"path": "/content"})
		if gotArgs["server"] != "https://aem.example.com" {
			t.Errorf("server = %v, want trimmed value", gotArgs["server"])
		}
		if gotArgs["token"] != "secret-token" {
			t.Errorf("token = %v", gotArgs["token"])
		}
		if gotArgs["path"] != "/content" {
			t.Errorf("path = %v", gotArgs["path"])
		}
	})

	t.Run("caller supplied values win", func(t *testing.T) {
		c.CallTool(context.Background(), "aem-list-pages", map[string]any{"server": "https://other"})
		if gotArgs["server"] != "https://other" {
			t.Errorf("server = %v, want caller value", gotArgs["server"])
		}
	})

	t.Run("unprefixed tool untouched", func(t *testing.T) {
		c.CallTool(context.Background(), "weather", map[string]any{"city": "Hanoi"})
		if _, ok := gotArgs["server"]; ok {
			t.Error("server should not be injected for unprefixed tool")
		}
		if _, ok := gotArgs["token"]; ok {
			t.Error("token should not be injected for unprefixed tool")
		}
	})
}

func TestCredentialInjectionDoesNotMutateCaller(t *testing.T) {
	srv := newRPCServer(t, func(env rpcEnvelope) any {
		return map[string]any{"content": []map[string]any{}, "isError": false}
	})
	defer srv.Close()

	c := New(testConfig(srv.URL), testLogger())
	args := map[string]any{"path": "/content"}
	c.CallTool(context.Background(), "aem-list-pages", args)

	if len(args) != 1 {
		t.Errorf("caller args mutated: %v", args)
	}
}

func TestHealthy(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		healthy bool
	}{
		{"healthy", http.StatusOK, `{"status":"healthy"}`, true},
		{"degraded", http.StatusOK, `{"status":"degraded"}`, false},
		{"non-200", http.StatusServiceUnavailable, `{"status":"healthy"}`, false},
		{"malformed", http.StatusOK, `not json`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/health" || r.Method != http.MethodGet {
					http.NotFound(w, r)
					return
				}
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c := New(testConfig(srv.URL), testLogger())
			if got := c.Healthy(context.Background()); got != tt.healthy {
				t.Errorf("Healthy() = %v, want %v", got, tt.healthy)
			}
		})
	}
}

func TestHealthyServerDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := New(testConfig(srv.URL), testLogger())
	if c.Healthy(context.Background()) {
		t.Error("Healthy() = true for unreachable host")
	}
}
