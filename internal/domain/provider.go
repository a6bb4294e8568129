package domain

import "context"

// ToolCallDelta is one partial tool-call fragment from a streaming response.
// Fragments are identified by Index (position in the upstream tool-call
// array), not by ID: the id may arrive late or never for some indices.
// Arguments fragments arrive in order within an index and concatenate into
// the full argument JSON string.
type ToolCallDelta struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// StreamDelta is a single incremental chunk from a streaming LLM response.
type StreamDelta struct {
	Reasoning string          `json:"reasoning,omitempty"`
	Content   string          `json:"content,omitempty"`
	ToolCalls []ToolCallDelta `json:"tool_calls,omitempty"`
	Done      bool            `json:"done,omitempty"`
}

// CompletionProvider is the interface for the upstream reasoning API.
type CompletionProvider interface {
	// ChatStream sends a completion request and returns a channel of
	// incremental deltas. The channel is closed when the stream ends or
	// ctx is cancelled.
	ChatStream(ctx context.Context, req CompletionRequest) (<-chan StreamDelta, error)
	// Name returns the provider's identifier (e.g., "deepseek").
	Name() string
}
