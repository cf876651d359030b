package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"aembot/internal/domain"
)

// classifierSystemPrompt frames the tool-intent decision. The catalog is
// appended at call time so newly discovered tools take effect immediately.
const classifierSystemPrompt = `You are a routing assistant. Decide whether the user's message asks for an action that one of the available tools can perform.

Respond with a single JSON object and nothing else:
{"should_execute": true or false, "tool_name": "<name or empty>", "arguments": {<tool arguments>}, "reasoning": "<one sentence>"}

Rules:
- Set should_execute to true only when the message clearly requests an action a listed tool performs.
- tool_name must exactly match one of the listed tool names.
- arguments must conform to the tool's input schema. Omit arguments you cannot infer from the message.
- Questions asking for explanations or documentation are not tool requests.`

// IntentClassifier asks the LLM whether a message should trigger a tool
// and which one.
type IntentClassifier struct {
	llm    domain.LLMProvider
	logger *slog.Logger
}

// NewIntentClassifier creates a classifier backed by the given provider.
func NewIntentClassifier(llm domain.LLMProvider, logger *slog.Logger) *IntentClassifier {
	return &IntentClassifier{llm: llm, logger: logger}
}

// Classify returns the routing decision for a message given the current
// tool catalog. Any failure, from the LLM call to an unparseable reply,
// degrades to a non-executing decision rather than an error: a confused
// classifier must never break a chat turn.
func (c *IntentClassifier) Classify(ctx context.Context, message string, tools []domain.ToolDescriptor) domain.RoutingDecision {
	if len(tools) == 0 {
		return domain.RoutingDecision{Reasoning: "no tools available"}
	}

	resp, err := c.llm.Chat(ctx, domain.ChatRequest{
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: classifierSystemPrompt + "\n\nAvailable tools:\n" + formatCatalog(tools)},
			{Role: domain.RoleUser, Content: message},
		},
	})
	if err != nil {
		c.logger.Warn("intent classification failed", "error", err)
		return domain.RoutingDecision{Reasoning: "classification unavailable"}
	}

	decision, ok := extractDecision(resp.Message.Content)
	if !ok {
		c.logger.Warn("intent classification returned no parseable decision",
			"reply_prefix", prefix(resp.Message.Content, 120))
		return domain.RoutingDecision{Reasoning: "classification unparseable"}
	}

	// A decision naming a tool we never offered is treated as declined.
	if decision.ShouldExecute && !catalogHas(tools, decision.ToolName) {
		c.logger.Warn("classifier chose unknown tool", "tool", decision.ToolName)
		return domain.RoutingDecision{Reasoning: "classifier chose unknown tool"}
	}

	return decision
}

// formatCatalog renders the tool catalog for the classifier prompt.
func formatCatalog(tools []domain.ToolDescriptor) string {
	var b strings.Builder
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
		if len(t.InputSchema) > 0 && string(t.InputSchema) != "null" {
			fmt.Fprintf(&b, "  input schema: %s\n", string(t.InputSchema))
		}
	}
	return b.String()
}

func catalogHas(tools []domain.ToolDescriptor, name string) bool {
	for _, t := range tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

// extractDecision finds the first balanced JSON object in text and decodes
// it as a routing decision. LLMs wrap JSON in prose and code fences often
// enough that a plain Unmarshal of the whole reply is not an option.
func extractDecision(text string) (domain.RoutingDecision, bool) {
	raw, ok := firstJSONObject(text)
	if !ok {
		return domain.RoutingDecision{}, false
	}

	var wire struct {
		ShouldExecute bool           `json:"should_execute"`
		ToolName      string         `json:"tool_name"`
		Arguments     map[string]any `json:"arguments"`
		Reasoning     string         `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return domain.RoutingDecision{}, false
	}

	decision := domain.RoutingDecision{
		ShouldExecute: wire.ShouldExecute,
		ToolName:      strings.TrimSpace(wire.ToolName),
		Arguments:     wire.Arguments,
		Reasoning:     wire.Reasoning,
	}
	if decision.ShouldExecute && decision.ToolName == "" {
		return domain.RoutingDecision{}, false
	}
	return decision, true
}

// firstJSONObject scans text for the first brace-balanced object,
// honoring string literals and escapes.
func firstJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return text[start : i+1], true
				}
			}
		}
	}
	return "", false
}

func prefix(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
