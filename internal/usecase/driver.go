package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"deepchat/internal/domain"
	"deepchat/internal/infra/tracer"
)

// ReActSystemPrompt instructs the model to follow the
// Thought/Action/Observation pattern and to call tools only when the
// question genuinely needs external information or side effects.
const ReActSystemPrompt = `You are an AI assistant that follows the ReAct (Reasoning + Acting) pattern.

When given a task:
1. Thought: think step-by-step about what you need to do and explain your reasoning.
2. Action: use a tool ONLY when necessary to make progress.
3. Observation: after receiving a tool result, analyze what you learned.
4. Repeat the cycle until you can give a final answer.

Call tools only when the request needs real-time information, file system access, code execution, or calculations beyond basic arithmetic. Answer directly for greetings, general knowledge, creative writing, code review, and anything answerable from the conversation context.

After your reasoning and any tool use, always provide a clear, complete final answer.`

// DriverConfig holds the per-request knobs of the completion driver.
type DriverConfig struct {
	MaxIterations int
	MaxTokens     int
	ToolTimeout   time.Duration
}

// Driver runs the two-phase completion pipeline for one request: a
// first upstream call that may decide on tool use, execution of those
// tools, and a second call that narrates the final answer. It never
// issues more than two upstream calls per request.
type Driver struct {
	provider domain.CompletionProvider
	executor domain.ToolExecutor
	guard    *ContextGuard
	cfg      DriverConfig
	logger   *slog.Logger
}

// NewDriver wires a driver. guard may be nil, which skips the token
// budget check.
func NewDriver(provider domain.CompletionProvider, executor domain.ToolExecutor, guard *ContextGuard, cfg DriverConfig, logger *slog.Logger) *Driver {
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		provider: provider,
		executor: executor,
		guard:    guard,
		cfg:      cfg,
		logger:   logger,
	}
}

// Drive processes one chat request end to end, forwarding events to
// the sink in production order. Exactly one done event terminates the
// stream on every path, including upstream failure. A sink error means
// the client is gone; the pipeline stops and the error is returned.
func (d *Driver) Drive(ctx context.Context, messages []domain.Message, sink domain.EventSink) error {
	ctx, span := tracer.StartSpan(ctx, "driver.Drive")
	defer span.End()

	if unmatched := ValidateHistory(messages); len(unmatched) > 0 {
		d.logger.Warn("history has unanswered tool calls",
			"unmatched_ids", unmatched,
		)
	}
	if d.guard != nil {
		d.guard.Check(messages)
	}

	orch := NewOrchestrator(d.cfg.MaxIterations, func(step domain.Step) error {
		return sink.Send(domain.StreamEvent{Type: domain.EventReActStep, Data: step})
	}, d.logger)

	history := append([]domain.Message(nil), messages...)

	phase1, err := d.streamPhase(ctx, history, orch, sink, true)
	if err != nil {
		tracer.RecordError(span, err)
		return d.failStream(sink, err)
	}

	calls := phase1.calls
	if len(calls) == 0 {
		orch.Complete()
		tracer.SetOK(span)
		return sink.Send(domain.StreamEvent{Type: domain.EventDone})
	}

	history = append(history, assistantToolCallMessage(phase1, calls))
	for _, call := range calls {
		resultMsg, sendErr := d.runTool(ctx, call, orch, sink)
		if sendErr != nil {
			return sendErr
		}
		history = append(history, resultMsg)
	}

	if _, err := d.streamPhase(ctx, history, orch, sink, false); err != nil {
		tracer.RecordError(span, err)
		return d.failStream(sink, err)
	}

	orch.Complete()
	tracer.SetOK(span)
	return sink.Send(domain.StreamEvent{Type: domain.EventDone})
}

// phaseResult carries what one upstream call produced.
type phaseResult struct {
	reasoning string
	content   string
	calls     []domain.ToolCall
	rawArgs   map[string]string
}

// streamPhase issues one upstream call and forwards its deltas.
// In the first phase tool-call fragments are accumulated; in the
// follow-up phase they are ignored and reasoning is recorded as
// follow-up thoughts, which the orchestrator drops once complete.
func (d *Driver) streamPhase(ctx context.Context, history []domain.Message, orch *Orchestrator, sink domain.EventSink, initial bool) (*phaseResult, error) {
	spanName := "driver.phase2"
	if initial {
		spanName = "driver.phase1"
	}
	ctx, span := tracer.StartSpan(ctx, spanName)
	defer span.End()

	req := domain.CompletionRequest{
		Messages:  history,
		Tools:     d.executor.Schemas(),
		MaxTokens: d.cfg.MaxTokens,
	}
	deltas, err := d.provider.ChatStream(ctx, req)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	res := &phaseResult{rawArgs: make(map[string]string)}
	acc := newToolCallAccumulator()
	for delta := range deltas {
		if delta.Done {
			break
		}
		if delta.Reasoning != "" {
			res.reasoning += delta.Reasoning
			if err := sink.Send(domain.StreamEvent{Type: domain.EventReasoning, Data: delta.Reasoning}); err != nil {
				return nil, err
			}
			title := ExtractThoughtTitle(res.reasoning)
			var recErr error
			if initial {
				_, recErr = orch.RecordThought(res.reasoning, title, "")
			} else {
				_, recErr = orch.RecordFollowUpThought(res.reasoning, title)
			}
			if recErr != nil {
				return nil, recErr
			}
		}
		if delta.Content != "" {
			res.content += delta.Content
			if err := sink.Send(domain.StreamEvent{Type: domain.EventContent, Data: delta.Content}); err != nil {
				return nil, err
			}
		}
		if initial {
			for _, frag := range delta.ToolCalls {
				acc.add(frag)
			}
		}
	}

	if initial {
		res.calls = acc.finalize()
		for _, e := range acc.entries {
			if e != nil {
				res.rawArgs[e.id] = e.args.String()
			}
		}
		span.SetAttributes(tracer.IntAttr("tool_calls", len(res.calls)))
	}
	tracer.SetOK(span)
	return res, nil
}

// runTool executes one accumulated tool call, recording the Action
// before invocation and the Observation after, and emitting the
// corresponding client events. Tool failures never abort the request;
// they surface as tool_error events and error observations. The
// returned message is the tool-result entry to replay upstream.
func (d *Driver) runTool(ctx context.Context, call domain.ToolCall, orch *Orchestrator, sink domain.EventSink) (domain.Message, error) {
	if err := sink.Send(domain.StreamEvent{Type: domain.EventToolCall, Data: call}); err != nil {
		return domain.Message{}, err
	}

	// Every action belongs to a cycle with a thought; synthesize one
	// when the model called the tool without narrating first.
	steps := orch.Steps()
	if n := len(steps); n == 0 || steps[n-1].Kind() != domain.StepThought {
		thought := fmt.Sprintf("I need to use the %s tool to make progress on this request.", call.Name)
		if _, err := orch.RecordThought(thought, "Using "+call.Name, "action"); err != nil {
			return domain.Message{}, err
		}
	}

	action, err := orch.RecordAction(call)
	if err != nil {
		return domain.Message{}, err
	}

	result, execErr := d.executeTool(ctx, call)

	if execErr != nil {
		d.logger.Warn("tool execution failed",
			"tool", call.Name,
			"tool_call_id", call.ID,
			"error", execErr,
		)
		if err := sink.Send(domain.StreamEvent{
			Type: domain.EventToolError,
			Data: domain.ToolErrorPayload{ToolCallID: call.ID, Error: execErr.Error()},
		}); err != nil {
			return domain.Message{}, err
		}
		if _, err := orch.RecordObservation(action.ID, nil, execErr.Error()); err != nil {
			return domain.Message{}, err
		}
		return toolResultMessage(call.ID, map[string]any{"error": execErr.Error()}), nil
	}

	if err := sink.Send(domain.StreamEvent{
		Type: domain.EventToolResult,
		Data: domain.ToolResultPayload{ToolCallID: call.ID, Result: result},
	}); err != nil {
		return domain.Message{}, err
	}
	if _, err := orch.RecordObservation(action.ID, result, ""); err != nil {
		return domain.Message{}, err
	}
	return toolResultMessage(call.ID, result), nil
}

// executeTool looks up and runs the tool under its own wall-clock
// timeout. Unknown tools and timeouts come back as plain errors for
// the caller to turn into observations.
func (d *Driver) executeTool(ctx context.Context, call domain.ToolCall) (any, error) {
	tool, err := d.executor.Get(call.Name)
	if err != nil {
		return nil, err
	}

	toolCtx, cancel := context.WithTimeout(ctx, d.cfg.ToolTimeout)
	defer cancel()

	res, err := tool.Execute(toolCtx, call.RawParameters())
	if err != nil {
		if toolCtx.Err() == context.DeadlineExceeded {
			return nil, domain.NewDomainError("tool.execute", domain.ErrToolTimeout, call.Name)
		}
		return nil, err
	}
	if res.IsError || res.Error != "" {
		return nil, fmt.Errorf("%s: %s", call.Name, res.Error)
	}
	return res.Result, nil
}

// failStream reports an upstream failure as a single content event so
// the client sees a readable message, then terminates the stream.
func (d *Driver) failStream(sink domain.EventSink, err error) error {
	msg := fmt.Sprintf("The assistant is temporarily unavailable: %v", err)
	if sendErr := sink.Send(domain.StreamEvent{Type: domain.EventContent, Data: msg}); sendErr != nil {
		return sendErr
	}
	return sink.Send(domain.StreamEvent{Type: domain.EventDone})
}

// assistantToolCallMessage rebuilds the assistant turn for replay to
// the upstream API. The argument strings are the verbatim accumulated
// text, and reasoning_content is always present on a tool-call message
// even when empty.
func assistantToolCallMessage(res *phaseResult, calls []domain.ToolCall) domain.Message {
	refs := make([]domain.ToolCallRef, 0, len(calls))
	for _, call := range calls {
		refs = append(refs, domain.ToolCallRef{
			ID:   call.ID,
			Type: "function",
			Function: domain.ToolFunction{
				Name:      call.Name,
				Arguments: res.rawArgs[call.ID],
			},
		})
	}
	return domain.Message{
		Role:             domain.RoleAssistant,
		Content:          res.content,
		ToolCalls:        refs,
		ReasoningContent: res.reasoning,
	}
}

// toolResultMessage serializes a tool outcome as the tool-role message
// the upstream API expects.
func toolResultMessage(callID string, result any) domain.Message {
	content, err := json.Marshal(result)
	if err != nil {
		content = []byte(fmt.Sprintf("%v", result))
	}
	return domain.Message{
		Role:       domain.RoleTool,
		Content:    string(content),
		ToolCallID: callID,
	}
}
