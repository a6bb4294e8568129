package domain

// EventType identifies the kind of event sent to the client over SSE.
type EventType string

const (
	EventReasoning  EventType = "reasoning"
	EventContent    EventType = "content"
	EventReActStep  EventType = "react_step"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventToolError  EventType = "tool_error"
	EventDone       EventType = "done"
)

// StreamEvent is one client-facing event; framed as a single
// "data: <json>\n\n" line on the wire.
type StreamEvent struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// ToolResultPayload is the data of a tool_result event.
type ToolResultPayload struct {
	ToolCallID string `json:"toolCallId"`
	Result     any    `json:"result,omitempty"`
}

// ToolErrorPayload is the data of a tool_error event.
type ToolErrorPayload struct {
	ToolCallID string `json:"toolCallId"`
	Error      string `json:"error"`
}

// EventSink receives produced events in order. A sink returning an error
// signals that the client is gone and the pipeline should stop.
type EventSink interface {
	Send(event StreamEvent) error
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(event StreamEvent) error

func (f EventSinkFunc) Send(event StreamEvent) error { return f(event) }
