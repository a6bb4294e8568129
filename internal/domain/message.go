package domain

// Role constants for message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a single message in a conversation.
// ReasoningContent carries the model's chain-of-thought for assistant
// messages that also carry tool calls; the upstream API rejects it anywhere
// else, which prepareMessages in the llm adapter enforces.
type Message struct {
	Role             string        `json:"role"`
	Content          string        `json:"content"`
	ToolCalls        []ToolCallRef `json:"tool_calls,omitempty"`
	ToolCallID       string        `json:"tool_call_id,omitempty"`
	ReasoningContent string        `json:"reasoning_content,omitempty"`
}

// ChatRequest is the inbound request body for the chat endpoint.
type ChatRequest struct {
	Messages  []Message `json:"messages"`
	Stream    bool      `json:"stream,omitempty"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

// CompletionRequest is sent to the upstream LLM provider.
type CompletionRequest struct {
	Messages  []Message    `json:"messages"`
	Tools     []ToolSchema `json:"tools,omitempty"`
	MaxTokens int          `json:"max_tokens,omitempty"`
}
