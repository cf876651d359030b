package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel/trace"

	"aembot/internal/domain"
	"aembot/internal/infra/tracer"
)

// conversationalSystemPrompt frames the plain-chat fallback.
const conversationalSystemPrompt = `You are a friendly assistant for Adobe Experience Manager users. Answer conversationally and keep replies concise.`

// Lexical gate for the knowledge-lookup stage: a question must carry an
// interrogative marker and at least one domain keyword to qualify.
var (
	interrogativeMarkers = []string{
		"what is", "what are", "how does", "how do", "explain",
		"describe", "tell me about",
	}
	domainKeywords = []string{
		"aem", "adobe", "experience manager", "dispatcher", "component",
		"template", "sling", "jcr", "osgi", "replication",
	}
)

// Router maps one user message to exactly one outcome: tool execution,
// tool error, knowledge lookup, or conversational reply.
type Router struct {
	llm        domain.LLMProvider
	classifier *IntentClassifier
	tools      domain.ToolHost
	retriever  *Retriever
	sessions   *SessionStore
	logger     *slog.Logger
}

// NewRouter wires the routing pipeline together.
func NewRouter(llm domain.LLMProvider, classifier *IntentClassifier, tools domain.ToolHost, retriever *Retriever, sessions *SessionStore, logger *slog.Logger) *Router {
	return &Router{
		llm:        llm,
		classifier: classifier,
		tools:      tools,
		retriever:  retriever,
		sessions:   sessions,
		logger:     logger,
	}
}

// HealthStatus aggregates readiness of the router's collaborators.
type HealthStatus struct {
	RetrieverReady  bool `json:"retriever_ready"`
	ToolHostHealthy bool `json:"tool_host_healthy"`
	ToolCount       int  `json:"tool_count"`
}

// Health reports retriever readiness, tool host reachability, and the
// size of the discovered tool catalog.
func (r *Router) Health(ctx context.Context) HealthStatus {
	healthy := r.tools.Healthy(ctx)
	count := 0
	if healthy {
		count = len(r.tools.ListTools(ctx))
	}
	return HealthStatus{
		RetrieverReady:  r.retriever != nil && r.retriever.Ready(),
		ToolHostHealthy: healthy,
		ToolCount:       count,
	}
}

// Catalog returns the current tool catalog from the remote host.
func (r *Router) Catalog(ctx context.Context) []domain.ToolDescriptor {
	return r.tools.ListTools(ctx)
}

// Execute invokes a tool directly, bypassing classification. For
// diagnostic and manual use.
func (r *Router) Execute(ctx context.Context, name string, args map[string]any) (domain.InvocationResult, error) {
	if strings.TrimSpace(name) == "" {
		return domain.InvocationResult{}, domain.NewDomainError("Router.Execute", domain.ErrInvalidInput, "tool_name is required")
	}
	return r.tools.CallTool(ctx, name, args), nil
}

// Respond processes one chat turn. The session gains exactly two
// messages per successful turn: the user message and the final reply,
// regardless of which branch produced the reply. The returned error is
// non-nil only for invalid input and for a failed conversational
// fallback; every other failure is folded into the reply.
func (r *Router) Respond(ctx context.Context, req domain.TurnRequest) (*domain.TurnResult, error) {
	ctx, span := tracer.StartSpan(ctx, "router.respond",
		trace.WithAttributes(tracer.StringAttr("session.id", req.SessionID)),
	)
	defer span.End()

	message := strings.TrimSpace(req.Message)
	if message == "" {
		err := domain.NewDomainError("Router.Respond", domain.ErrInvalidInput, "message is required")
		tracer.RecordError(span, err)
		return nil, err
	}
	if req.SessionID == "" {
		req.SessionID = "default"
	}

	session := r.sessions.GetOrCreate(req.SessionID)
	session.AddMessage(domain.Message{Role: domain.RoleUser, Content: message})

	result, err := r.route(ctx, session, message, req.Executable())
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	session.AddMessage(domain.Message{Role: domain.RoleAssistant, Content: result.Response})
	span.SetAttributes(tracer.StringAttr("turn.mode", string(result.Mode)))
	tracer.SetOK(span)

	r.logger.Info("turn completed",
		"session", req.SessionID,
		"mode", result.Mode,
		"tool", result.ToolName,
	)
	return result, nil
}

// route runs the four routing stages in order. Tool execution, once
// entered, is terminal for the turn whether it succeeds or fails.
func (r *Router) route(ctx context.Context, session *Session, message string, autoExecute bool) (*domain.TurnResult, error) {
	// Stage 1: tool-intent classification.
	if autoExecute && r.tools.Healthy(ctx) {
		catalog := r.tools.ListTools(ctx)
		decision := r.classifier.Classify(ctx, message, catalog)

		// Stage 2: tool execution, terminal on success and failure alike.
		if decision.ShouldExecute {
			return r.executeTool(ctx, catalog, decision), nil
		}
	}

	// Stage 3: lexical knowledge gate. An unready retriever degrades to
	// conversation; a ready one always owns the turn, even when it has
	// to report a lookup problem in its answer.
	if isKnowledgeQuestion(message) && r.retriever != nil && r.retriever.Ready() {
		lookup := r.retriever.Answer(ctx, message)
		return &domain.TurnResult{
			Response: lookup.Answer,
			Mode:     domain.OutcomeKnowledgeLookup,
			Sources:  lookup.Sources,
		}, nil
	}

	// Stage 4: conversational fallback. This is the only stage whose
	// failure surfaces as the turn's error.
	resp, err := r.llm.Chat(ctx, domain.ChatRequest{
		Messages: append(
			[]domain.Message{{Role: domain.RoleSystem, Content: conversationalSystemPrompt}},
			session.Messages()...,
		),
	})
	if err != nil {
		return nil, domain.WrapOp("conversational", err)
	}

	return &domain.TurnResult{
		Response: resp.Message.Content,
		Mode:     domain.OutcomeConversational,
	}, nil
}

// executeTool validates the decision's arguments against the tool's
// declared schema and invokes it. Both validation failure and remote
// failure yield the tool_error outcome.
func (r *Router) executeTool(ctx context.Context, catalog []domain.ToolDescriptor, decision domain.RoutingDecision) *domain.TurnResult {
	descriptor, ok := findTool(catalog, decision.ToolName)
	if !ok {
		// The classifier already filters unknown names; this guards the
		// window between classification and execution.
		return toolError(decision.ToolName, fmt.Sprintf("tool %q is not in the catalog", decision.ToolName))
	}

	if err := validateArguments(descriptor.InputSchema, decision.Arguments); err != nil {
		r.logger.Warn("tool arguments rejected by schema",
			"tool", decision.ToolName, "error", err)
		return toolError(decision.ToolName, fmt.Sprintf("invalid arguments: %v", err))
	}

	invocation := r.tools.CallTool(ctx, decision.ToolName, decision.Arguments)
	if !invocation.Success {
		return toolError(decision.ToolName, invocation.Error)
	}

	return &domain.TurnResult{
		Response: formatToolResult(decision.ToolName, invocation.Content),
		Mode:     domain.OutcomeToolExecution,
		ToolName: decision.ToolName,
	}
}

// validateArguments checks args against a JSON Schema. A missing or null
// schema accepts everything.
func validateArguments(schema json.RawMessage, args map[string]any) error {
	if len(schema) == 0 || string(schema) == "null" {
		return nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(schema)); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	// Round-trip through JSON so numeric types match what the schema
	// library expects.
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal arguments: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal arguments: %w", err)
	}

	return compiled.Validate(v)
}

// formatToolResult renders successful tool output as a chat reply.
func formatToolResult(name string, content []domain.ContentItem) string {
	var parts []string
	for _, item := range content {
		if item.Text != "" {
			parts = append(parts, item.Text)
		}
	}
	body := strings.Join(parts, "\n")
	if body == "" {
		body = "(no output)"
	}
	return fmt.Sprintf("Tool %q executed successfully:\n\n%s", name, body)
}

func toolError(name, message string) *domain.TurnResult {
	return &domain.TurnResult{
		Response: fmt.Sprintf("Tool execution failed: %s", message),
		Mode:     domain.OutcomeToolError,
		ToolName: name,
	}
}

func findTool(catalog []domain.ToolDescriptor, name string) (domain.ToolDescriptor, bool) {
	for _, t := range catalog {
		if t.Name == name {
			return t, true
		}
	}
	return domain.ToolDescriptor{}, false
}

// isKnowledgeQuestion applies the lexical gate: an interrogative marker
// plus a domain keyword.
func isKnowledgeQuestion(message string) bool {
	lower := strings.ToLower(message)

	marked := false
	for _, m := range interrogativeMarkers {
		if strings.Contains(lower, m) {
			marked = true
			break
		}
	}
	if !marked {
		return false
	}

	for _, k := range domainKeywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
