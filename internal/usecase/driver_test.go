package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepchat/internal/domain"
)

// fakeProvider replays scripted delta sequences, one per upstream call.
type fakeProvider struct {
	scripts  [][]domain.StreamDelta
	errs     []error
	calls    int
	requests []domain.CompletionRequest
}

func (p *fakeProvider) ChatStream(_ context.Context, req domain.CompletionRequest) (<-chan domain.StreamDelta, error) {
	idx := p.calls
	p.calls++
	p.requests = append(p.requests, req)
	if idx < len(p.errs) && p.errs[idx] != nil {
		return nil, p.errs[idx]
	}
	var script []domain.StreamDelta
	if idx < len(p.scripts) {
		script = p.scripts[idx]
	}
	ch := make(chan domain.StreamDelta, len(script)+1)
	for _, d := range script {
		ch <- d
	}
	close(ch)
	return ch, nil
}

func (p *fakeProvider) Name() string { return "fake" }

// echoTool answers with a fixed result.
type echoTool struct {
	name   string
	result any
	err    error
	slow   time.Duration
}

func (e *echoTool) Name() string        { return e.name }
func (e *echoTool) Description() string { return "test tool" }
func (e *echoTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: e.name, Description: "test tool", Parameters: json.RawMessage(`{"type":"object"}`)}
}

func (e *echoTool) Execute(ctx context.Context, _ json.RawMessage) (*domain.ToolResult, error) {
	if e.slow > 0 {
		select {
		case <-time.After(e.slow):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.err != nil {
		return nil, e.err
	}
	return &domain.ToolResult{Result: e.result}, nil
}

// fakeExecutor is an in-memory tool registry.
type fakeExecutor struct {
	tools map[string]domain.Tool
}

func (f *fakeExecutor) Get(name string) (domain.Tool, error) {
	tool, ok := f.tools[name]
	if !ok {
		return nil, domain.NewDomainError("registry.get", domain.ErrToolNotFound, name)
	}
	return tool, nil
}

func (f *fakeExecutor) Schemas() []domain.ToolSchema {
	var out []domain.ToolSchema
	for _, tool := range f.tools {
		out = append(out, tool.Schema())
	}
	return out
}

// collectSink records events in production order.
type collectSink struct {
	events []domain.StreamEvent
	failAt int // fail on the nth Send, 0 = never
}

func (c *collectSink) Send(ev domain.StreamEvent) error {
	if c.failAt > 0 && len(c.events)+1 >= c.failAt {
		return errors.New("write: broken pipe")
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *collectSink) types() []domain.EventType {
	out := make([]domain.EventType, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.Type
	}
	return out
}

func (c *collectSink) countType(t domain.EventType) int {
	n := 0
	for _, ev := range c.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func newTestDriver(p domain.CompletionProvider, tools map[string]domain.Tool) *Driver {
	if tools == nil {
		tools = map[string]domain.Tool{}
	}
	return NewDriver(p, &fakeExecutor{tools: tools}, nil, DriverConfig{
		MaxIterations: 10,
		ToolTimeout:   200 * time.Millisecond,
	}, discardLogger())
}

func userMessages(content string) []domain.Message {
	return []domain.Message{{Role: domain.RoleUser, Content: content}}
}

func TestDriveContentOnlySingleDone(t *testing.T) {
	provider := &fakeProvider{scripts: [][]domain.StreamDelta{{
		{Content: "Hel"},
		{Content: "lo"},
		{Done: true},
	}}}
	sink := &collectSink{}

	err := newTestDriver(provider, nil).Drive(context.Background(), userMessages("hi"), sink)
	require.NoError(t, err)

	assert.Equal(t, []domain.EventType{
		domain.EventContent,
		domain.EventContent,
		domain.EventDone,
	}, sink.types())
	assert.Equal(t, "Hel", sink.events[0].Data)
	assert.Equal(t, "lo", sink.events[1].Data)
	assert.Equal(t, 1, provider.calls, "content-only answers must not trigger a second call")
}

func TestDriveToolCallRunsTwoPhases(t *testing.T) {
	provider := &fakeProvider{scripts: [][]domain.StreamDelta{
		{
			{Reasoning: "Let me read the file first."},
			{ToolCalls: []domain.ToolCallDelta{{Index: 0, ID: "t1", Name: "file_read"}}},
			{ToolCalls: []domain.ToolCallDelta{{Index: 0, Arguments: `{"path":`}}},
			{ToolCalls: []domain.ToolCallDelta{{Index: 0, Arguments: `"a.txt"}`}}},
			{Done: true},
		},
		{
			{Content: "The file says hello."},
			{Done: true},
		},
	}}
	tools := map[string]domain.Tool{
		"file_read": &echoTool{name: "file_read", result: "hello"},
	}
	sink := &collectSink{}

	err := newTestDriver(provider, tools).Drive(context.Background(), userMessages("read a.txt"), sink)
	require.NoError(t, err)

	assert.Equal(t, 2, provider.calls)
	assert.Equal(t, 1, sink.countType(domain.EventDone))
	assert.Equal(t, 1, sink.countType(domain.EventToolCall))
	assert.Equal(t, 1, sink.countType(domain.EventToolResult))
	assert.Equal(t, 0, sink.countType(domain.EventToolError))
	assert.Equal(t, domain.EventDone, sink.events[len(sink.events)-1].Type)

	// The accumulated call reached the tool_call event fully assembled.
	var call domain.ToolCall
	for _, ev := range sink.events {
		if ev.Type == domain.EventToolCall {
			call = ev.Data.(domain.ToolCall)
		}
	}
	assert.Equal(t, "t1", call.ID)
	assert.Equal(t, "file_read", call.Name)
	assert.Equal(t, map[string]any{"path": "a.txt"}, call.Parameters)

	// The replayed assistant turn must carry the verbatim argument
	// text and a reasoning_content field.
	require.Len(t, provider.requests, 2)
	var assistant *domain.Message
	for i := range provider.requests[1].Messages {
		msg := &provider.requests[1].Messages[i]
		if msg.Role == domain.RoleAssistant && len(msg.ToolCalls) > 0 {
			assistant = msg
		}
	}
	require.NotNil(t, assistant)
	assert.Equal(t, `{"path":"a.txt"}`, assistant.ToolCalls[0].Function.Arguments)
	assert.Equal(t, "Let me read the file first.", assistant.ReasoningContent)

	// Tool result message follows the assistant turn.
	last := provider.requests[1].Messages[len(provider.requests[1].Messages)-1]
	assert.Equal(t, domain.RoleTool, last.Role)
	assert.Equal(t, "t1", last.ToolCallID)
}

func TestDriveActionPrecedesObservation(t *testing.T) {
	provider := &fakeProvider{scripts: [][]domain.StreamDelta{
		{
			{ToolCalls: []domain.ToolCallDelta{{Index: 0, ID: "t1", Name: "file_read", Arguments: `{}`}}},
			{Done: true},
		},
		{{Content: "done"}, {Done: true}},
	}}
	tools := map[string]domain.Tool{
		"file_read": &echoTool{name: "file_read", result: "ok"},
	}
	sink := &collectSink{}

	err := newTestDriver(provider, tools).Drive(context.Background(), userMessages("go"), sink)
	require.NoError(t, err)

	var kinds []domain.StepKind
	for _, ev := range sink.events {
		if ev.Type == domain.EventReActStep {
			kinds = append(kinds, ev.Data.(domain.Step).Kind())
		}
	}
	actionIdx, obsIdx := -1, -1
	for i, k := range kinds {
		switch k {
		case domain.StepAction:
			actionIdx = i
		case domain.StepObservation:
			obsIdx = i
		}
	}
	require.GreaterOrEqual(t, actionIdx, 0)
	require.GreaterOrEqual(t, obsIdx, 0)
	assert.Less(t, actionIdx, obsIdx, "action must be recorded before its observation")
}

func TestDriveUnknownToolStillRunsFollowUp(t *testing.T) {
	provider := &fakeProvider{scripts: [][]domain.StreamDelta{
		{
			{ToolCalls: []domain.ToolCallDelta{{Index: 0, ID: "t1", Name: "unknown_tool", Arguments: `{}`}}},
			{Done: true},
		},
		{{Content: "I could not use that tool."}, {Done: true}},
	}}
	sink := &collectSink{}

	err := newTestDriver(provider, nil).Drive(context.Background(), userMessages("go"), sink)
	require.NoError(t, err)

	assert.Equal(t, 2, provider.calls, "follow-up call must still happen")
	assert.Equal(t, 1, sink.countType(domain.EventToolCall))
	assert.Equal(t, 1, sink.countType(domain.EventToolError))
	assert.Equal(t, 1, sink.countType(domain.EventDone))

	var payload domain.ToolErrorPayload
	for _, ev := range sink.events {
		if ev.Type == domain.EventToolError {
			payload = ev.Data.(domain.ToolErrorPayload)
		}
	}
	assert.Equal(t, "t1", payload.ToolCallID)
	assert.Contains(t, payload.Error, "tool not found")
}

func TestDriveToolFailureDoesNotAbortSiblings(t *testing.T) {
	provider := &fakeProvider{scripts: [][]domain.StreamDelta{
		{
			{ToolCalls: []domain.ToolCallDelta{
				{Index: 0, ID: "t1", Name: "broken", Arguments: `{}`},
				{Index: 1, ID: "t2", Name: "file_read", Arguments: `{}`},
			}},
			{Done: true},
		},
		{{Content: "partial success"}, {Done: true}},
	}}
	tools := map[string]domain.Tool{
		"broken":    &echoTool{name: "broken", err: errors.New("disk on fire")},
		"file_read": &echoTool{name: "file_read", result: "ok"},
	}
	sink := &collectSink{}

	err := newTestDriver(provider, tools).Drive(context.Background(), userMessages("go"), sink)
	require.NoError(t, err)

	assert.Equal(t, 1, sink.countType(domain.EventToolError))
	assert.Equal(t, 1, sink.countType(domain.EventToolResult))
	assert.Equal(t, 2, provider.calls)
}

func TestDriveToolTimeoutSurfacesAsObservationError(t *testing.T) {
	provider := &fakeProvider{scripts: [][]domain.StreamDelta{
		{
			{ToolCalls: []domain.ToolCallDelta{{Index: 0, ID: "t1", Name: "slow", Arguments: `{}`}}},
			{Done: true},
		},
		{{Content: "moving on"}, {Done: true}},
	}}
	tools := map[string]domain.Tool{
		"slow": &echoTool{name: "slow", slow: time.Second},
	}
	sink := &collectSink{}

	err := newTestDriver(provider, tools).Drive(context.Background(), userMessages("go"), sink)
	require.NoError(t, err)

	assert.Equal(t, 1, sink.countType(domain.EventToolError))
	var foundObsError bool
	for _, ev := range sink.events {
		if ev.Type != domain.EventReActStep {
			continue
		}
		if obs, ok := ev.Data.(*domain.Observation); ok && obs.Error != "" {
			foundObsError = true
		}
	}
	assert.True(t, foundObsError)
	assert.Equal(t, 1, sink.countType(domain.EventDone))
}

func TestDriveUpstreamFailureEmitsErrorContentThenDone(t *testing.T) {
	provider := &fakeProvider{errs: []error{domain.ErrProviderError}}
	sink := &collectSink{}

	err := newTestDriver(provider, nil).Drive(context.Background(), userMessages("hi"), sink)
	require.NoError(t, err)

	require.Len(t, sink.events, 2)
	assert.Equal(t, domain.EventContent, sink.events[0].Type)
	assert.Equal(t, domain.EventDone, sink.events[1].Type)
}

func TestDriveSinkFailureAbortsPipeline(t *testing.T) {
	provider := &fakeProvider{scripts: [][]domain.StreamDelta{{
		{Content: "Hel"},
		{Content: "lo"},
		{Done: true},
	}}}
	sink := &collectSink{failAt: 2}

	err := newTestDriver(provider, nil).Drive(context.Background(), userMessages("hi"), sink)
	assert.Error(t, err)
	assert.Equal(t, 0, sink.countType(domain.EventDone))
}

func TestDriveReasoningEmitsThoughtSteps(t *testing.T) {
	provider := &fakeProvider{scripts: [][]domain.StreamDelta{{
		{Reasoning: "Let me "},
		{Reasoning: "think about this."},
		{Content: "Answer."},
		{Done: true},
	}}}
	sink := &collectSink{}

	err := newTestDriver(provider, nil).Drive(context.Background(), userMessages("hi"), sink)
	require.NoError(t, err)

	assert.Equal(t, 2, sink.countType(domain.EventReasoning))

	// Token-by-token reasoning coalesces into one thought delivered
	// repeatedly with growing content and a stable id.
	var ids []string
	var lastContent string
	for _, ev := range sink.events {
		if ev.Type != domain.EventReActStep {
			continue
		}
		thought := ev.Data.(*domain.Thought)
		ids = append(ids, thought.ID)
		lastContent = thought.Content
	}
	require.Len(t, ids, 2)
	assert.Equal(t, ids[0], ids[1])
	assert.Equal(t, "Let me think about this.", lastContent)
}
