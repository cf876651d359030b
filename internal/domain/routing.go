package domain

// Outcome tags the branch a chat turn was resolved through.
type Outcome string

const (
	OutcomeToolExecution   Outcome = "tool_execution"
	OutcomeToolError       Outcome = "tool_error"
	OutcomeKnowledgeLookup Outcome = "knowledge_lookup"
	OutcomeConversational  Outcome = "conversational"
)

// RoutingDecision is the structured intent produced by the classifier for one
// user message. It is never mutated after construction. ShouldExecute is only
// honored when ToolName names a tool in the current catalog.
type RoutingDecision struct {
	ShouldExecute bool           `json:"should_execute"`
	ToolName      string         `json:"tool_name,omitempty"`
	Arguments     map[string]any `json:"arguments,omitempty"`
	Reasoning     string         `json:"reasoning,omitempty"`
}

// SourceRef is the provenance of one retrieved fragment surfaced to the user.
type SourceRef struct {
	Excerpt string `json:"excerpt"`
	Source  string `json:"source"`
}

// TurnRequest is one inbound chat turn.
type TurnRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	// AutoExecute gates the tool-intent branch. Nil means true.
	AutoExecute *bool `json:"auto_execute,omitempty"`
}

// Executable reports whether the tool branch is enabled for this turn.
func (r TurnRequest) Executable() bool {
	return r.AutoExecute == nil || *r.AutoExecute
}

// TurnResult is the resolved reply for one chat turn.
type TurnResult struct {
	Response string      `json:"response"`
	Mode     Outcome     `json:"mode"`
	ToolName string      `json:"tool_name,omitempty"`
	Sources  []SourceRef `json:"sources,omitempty"`
}
