// Package channel exposes the routing pipeline over an HTTP API.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"aembot/internal/domain"
	"aembot/internal/infra/middleware"
	"aembot/internal/usecase"
)

// maxBodyBytes caps inbound request bodies.
const maxBodyBytes = 1 << 20 // 1 MB

// API serves the chat HTTP surface.
type API struct {
	server   *http.Server
	router   *usecase.Router
	sessions *usecase.SessionStore
	logger   *slog.Logger
	addr     string

	// Actual bound address (set after Start)
	boundAddr string

	// Lifecycle management for the rate limiter cleanup goroutine
	ctx    context.Context
	cancel context.CancelFunc

	requestsPerMin int
	burst          int
}

// NewAPI creates the HTTP API. requestsPerMin/burst configure per-IP
// rate limiting; zero values select sensible defaults.
func NewAPI(addr string, router *usecase.Router, sessions *usecase.SessionStore, requestsPerMin, burst int, logger *slog.Logger) *API {
	if requestsPerMin <= 0 {
		requestsPerMin = 100
	}
	if burst <= 0 {
		burst = 20
	}
	return &API{
		addr:           addr,
		router:         router,
		sessions:       sessions,
		logger:         logger,
		requestsPerMin: requestsPerMin,
		burst:          burst,
	}
}

// Start begins the HTTP server. Non-blocking (serves in a goroutine).
func (a *API) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	secureHandler := middleware.SecurityHeaders(
		middleware.RateLimit(a.ctx, a.requestsPerMin, a.burst)(a.routes()),
	)

	a.server = &http.Server{
		Addr:              a.addr,
		Handler:           secureHandler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	ln, err := net.Listen("tcp", a.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.addr, err)
	}
	a.boundAddr = ln.Addr().String()

	go func() {
		a.logger.Info("http api started", "addr", a.boundAddr)
		if err := a.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			a.logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (a *API) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}

// Addr returns the bound listen address (valid after Start).
func (a *API) Addr() string { return a.boundAddr }

func (a *API) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/chat", a.handleChat)
	mux.HandleFunc("/api/v1/reset", a.handleReset)
	mux.HandleFunc("/api/v1/health", a.handleHealth)
	mux.HandleFunc("/api/v1/tools", a.handleTools)
	mux.HandleFunc("/api/v1/tools/execute", a.handleExecute)
	return mux
}

// --- wire types ---

type chatRequest struct {
	Message     string `json:"message"`
	SessionID   string `json:"session_id"`
	AutoExecute *bool  `json:"auto_execute,omitempty"`
}

type chatResponse struct {
	Response  string             `json:"response"`
	SessionID string             `json:"session_id"`
	Mode      string             `json:"mode"`
	ToolName  string             `json:"tool_name,omitempty"`
	Sources   []domain.SourceRef `json:"sources,omitempty"`
}

type resetRequest struct {
	SessionID string `json:"session_id"`
}

type executeRequest struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

type errorResponse struct {
	Error string           `json:"error"`
	Code  domain.ErrorCode `json:"code"`
}

// --- handlers ---

func (a *API) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: malformed request body", domain.ErrInvalidInput))
		return
	}

	result, err := a.router.Respond(r.Context(), domain.TurnRequest{
		SessionID:   req.SessionID,
		Message:     req.Message,
		AutoExecute: req.AutoExecute,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrInvalidInput) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = "default"
	}
	writeJSON(w, http.StatusOK, chatResponse{
		Response:  result.Response,
		SessionID: sessionID,
		Mode:      string(result.Mode),
		ToolName:  result.ToolName,
		Sources:   result.Sources,
	})
}

func (a *API) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: malformed request body", domain.ErrInvalidInput))
		return
	}

	// Idempotent: unknown sessions are left uncreated.
	a.sessions.Reset(req.SessionID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "session_id": req.SessionID})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	health := a.router.Health(r.Context())
	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
		usecase.HealthStatus
	}{
		Status:       "ok",
		HealthStatus: health,
	})
}

func (a *API) handleTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	tools := a.router.Catalog(r.Context())
	if tools == nil {
		tools = []domain.ToolDescriptor{}
	}
	writeJSON(w, http.StatusOK, struct {
		Tools []domain.ToolDescriptor `json:"tools"`
		Count int                     `json:"count"`
	}{Tools: tools, Count: len(tools)})
}

func (a *API) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: malformed request body", domain.ErrInvalidInput))
		return
	}

	result, err := a.router.Execute(r.Context(), req.ToolName, req.Arguments)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{
		Error: err.Error(),
		Code:  domain.ErrorCodeOf(err),
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, errorResponse{
		Error: "method not allowed",
		Code:  domain.CodeInvalidInput,
	})
}
