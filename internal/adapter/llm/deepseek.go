package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"deepchat/internal/domain"
	"deepchat/internal/infra/config"
)

// DeepSeekProvider implements domain.CompletionProvider against the
// DeepSeek chat-completions API (OpenAI-compatible wire format plus the
// reasoning_content extension).
type DeepSeekProvider struct {
	name         string
	model        string
	apiKey       string
	baseURL      string
	systemPrompt string
	client       *http.Client
	logger       *slog.Logger
}

// NewDeepSeekProvider creates a provider with configured timeouts.
// systemPrompt, when non-empty, is prepended to every request.
func NewDeepSeekProvider(cfg config.ProviderConfig, systemPrompt string, logger *slog.Logger) *DeepSeekProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.deepseek.com/v1"
	}

	return &DeepSeekProvider{
		name:         cfg.Name,
		model:        cfg.Model,
		apiKey:       cfg.APIKey,
		baseURL:      baseURL,
		systemPrompt: systemPrompt,
		client:       NewHTTPClient(cfg),
		logger:       logger,
	}
}

// Name implements domain.CompletionProvider.
func (p *DeepSeekProvider) Name() string { return p.name }

// --- DeepSeek API wire types ---

type dsRequest struct {
	Model     string      `json:"model"`
	Messages  []dsMessage `json:"messages"`
	Tools     []dsTool    `json:"tools,omitempty"`
	MaxTokens int         `json:"max_tokens,omitempty"`
	Stream    bool        `json:"stream"`
}

type dsMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// ReasoningContent is a pointer: the API requires the field to be
	// present (even empty) on assistant messages with tool calls and
	// absent everywhere else.
	ReasoningContent *string              `json:"reasoning_content,omitempty"`
	ToolCalls        []domain.ToolCallRef `json:"tool_calls,omitempty"`
	ToolCallID       string               `json:"tool_call_id,omitempty"`
}

type dsTool struct {
	Type     string         `json:"type"`
	Function dsToolFunction `json:"function"`
}

type dsToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type dsStreamChunk struct {
	Choices []dsStreamChoice `json:"choices"`
}

type dsStreamChoice struct {
	Delta        dsStreamDelta `json:"delta"`
	FinishReason *string       `json:"finish_reason"`
}

type dsStreamDelta struct {
	ReasoningContent string             `json:"reasoning_content,omitempty"`
	Content          string             `json:"content,omitempty"`
	ToolCalls        []dsStreamToolCall `json:"tool_calls,omitempty"`
}

type dsStreamToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

// prepareMessages converts domain messages to the wire format, prepending
// the system prompt and enforcing the reasoning_content constraint: present
// (possibly empty) iff the assistant message carries tool calls.
func (p *DeepSeekProvider) prepareMessages(messages []domain.Message) []dsMessage {
	out := make([]dsMessage, 0, len(messages)+1)

	if p.systemPrompt != "" {
		out = append(out, dsMessage{Role: domain.RoleSystem, Content: p.systemPrompt})
	}

	for _, m := range messages {
		wm := dsMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
		}
		if m.Role == domain.RoleAssistant && len(m.ToolCalls) > 0 {
			reasoning := m.ReasoningContent
			wm.ReasoningContent = &reasoning
		}
		out = append(out, wm)
	}

	return out
}

// ChatStream implements domain.CompletionProvider.
func (p *DeepSeekProvider) ChatStream(ctx context.Context, req domain.CompletionRequest) (<-chan domain.StreamDelta, error) {
	dsReq := dsRequest{
		Model:     p.model,
		Messages:  p.prepareMessages(req.Messages),
		MaxTokens: req.MaxTokens,
		Stream:    true,
	}

	if len(req.Tools) > 0 {
		dsReq.Tools = make([]dsTool, len(req.Tools))
		for i, t := range req.Tools {
			dsReq.Tools[i] = dsTool{
				Type: "function",
				Function: dsToolFunction{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			}
		}
	}

	body, err := json.Marshal(dsReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	headers := map[string]string{}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}

	p.logger.Debug("sending completion request",
		"provider", p.name,
		"model", p.model,
		"messages", len(dsReq.Messages),
		"tools", len(dsReq.Tools),
	)

	httpResp, err := doStreamRequest(ctx, p.client, p.baseURL+"/chat/completions", body, headers)
	if err != nil {
		return nil, err
	}

	return parseSSEStream(ctx, httpResp.Body, parseDeepSeekLine), nil
}

// parseDeepSeekLine decodes one stream frame into a StreamDelta.
func parseDeepSeekLine(data []byte) (*domain.StreamDelta, error) {
	var chunk dsStreamChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, err
	}

	if len(chunk.Choices) == 0 {
		return nil, nil
	}
	c := chunk.Choices[0]

	delta := &domain.StreamDelta{
		Reasoning: c.Delta.ReasoningContent,
		Content:   c.Delta.Content,
	}
	for _, tc := range c.Delta.ToolCalls {
		delta.ToolCalls = append(delta.ToolCalls, domain.ToolCallDelta{
			Index:     tc.Index,
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	if c.FinishReason != nil && *c.FinishReason != "" {
		delta.Done = true
	}
	return delta, nil
}

// Compile-time interface check.
var _ domain.CompletionProvider = (*DeepSeekProvider)(nil)
