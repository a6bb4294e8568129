package domain

import (
	"context"
	"encoding/json"
	"time"
)

// ToolSchema describes a tool for the LLM function-calling protocol.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall is a complete, accumulated tool invocation request.
// Parameters holds the parsed argument object; invalid or empty argument
// JSON falls back to an empty object rather than failing the request.
type ToolCall struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
	Result     any            `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// RawParameters re-encodes the parsed parameters for a tool's Execute
// contract. Never returns invalid JSON.
func (tc ToolCall) RawParameters() json.RawMessage {
	if len(tc.Parameters) == 0 {
		return json.RawMessage(`{}`)
	}
	data, err := json.Marshal(tc.Parameters)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}

// ToolCallRef is the wire form of a tool call on an assistant message:
// the argument string is kept verbatim as the upstream produced it.
type ToolCallRef struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction is the function part of a wire tool call.
type ToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolResult is the outcome of executing a tool.
type ToolResult struct {
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
}

// Tool is the interface every tool must implement.
type Tool interface {
	Name() string
	Description() string
	Schema() ToolSchema
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolExecutor abstracts tool lookup and execution.
type ToolExecutor interface {
	Get(name string) (Tool, error)
	Schemas() []ToolSchema
}
