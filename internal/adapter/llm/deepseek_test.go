package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"deepchat/internal/domain"
	"deepchat/internal/infra/config"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *DeepSeekProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.ProviderConfig{
		Name:    "deepseek",
		Model:   "deepseek-reasoner",
		APIKey:  "test-key",
		BaseURL: server.URL,
	}
	return NewDeepSeekProvider(cfg, "system prompt", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func writeSSE(w http.ResponseWriter, lines ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, line := range lines {
		fmt.Fprintf(w, "data: %s\n\n", line)
	}
}

func TestChatStreamParsesDeltas(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		writeSSE(w,
			`{"choices":[{"delta":{"reasoning_content":"thinking"}}]}`,
			`{"choices":[{"delta":{"content":"Hel"}}]}`,
			`{"choices":[{"delta":{"content":"lo"}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
			`[DONE]`,
		)
	})

	ch, err := provider.ChatStream(context.Background(), domain.CompletionRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	var deltas []domain.StreamDelta
	for d := range ch {
		deltas = append(deltas, d)
	}
	if len(deltas) != 4 {
		t.Fatalf("expected 4 deltas, got %d: %v", len(deltas), deltas)
	}
	if deltas[0].Reasoning != "thinking" {
		t.Errorf("delta[0].Reasoning = %q", deltas[0].Reasoning)
	}
	if deltas[1].Content+deltas[2].Content != "Hello" {
		t.Errorf("content = %q%q", deltas[1].Content, deltas[2].Content)
	}
	if !deltas[3].Done {
		t.Error("finish_reason should map to Done")
	}
}

func TestChatStreamToolCallFragments(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"t1","function":{"name":"file_read"}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"path\":"}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"a.txt\"}"}}]}}]}`,
			`[DONE]`,
		)
	})

	ch, err := provider.ChatStream(context.Background(), domain.CompletionRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "read"}},
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	var frags []domain.ToolCallDelta
	for d := range ch {
		frags = append(frags, d.ToolCalls...)
	}
	if len(frags) != 3 {
		t.Fatalf("expected 3 fragments, got %d", len(frags))
	}
	if frags[0].ID != "t1" || frags[0].Name != "file_read" {
		t.Errorf("fragment[0] = %+v", frags[0])
	}
	if frags[1].Arguments+frags[2].Arguments != `{"path":"a.txt"}` {
		t.Errorf("arguments = %q + %q", frags[1].Arguments, frags[2].Arguments)
	}
}

func TestChatStreamHTTPErrorMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, domain.ErrRateLimit},
		{http.StatusUnauthorized, domain.ErrAuthInvalid},
		{http.StatusRequestEntityTooLarge, domain.ErrContextOverflow},
		{http.StatusInternalServerError, domain.ErrProviderError},
	}
	for _, tc := range cases {
		provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tc.status)
		})
		_, err := provider.ChatStream(context.Background(), domain.CompletionRequest{
			Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
		})
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		if !errors.Is(err, tc.want) {
			t.Errorf("status %d: error %v, want %v", tc.status, err, tc.want)
		}
	}
}

func TestPrepareMessagesReasoningContentConstraint(t *testing.T) {
	provider := newTestProvider(t, nil)

	messages := []domain.Message{
		{Role: domain.RoleUser, Content: "hi"},
		{
			Role:             domain.RoleAssistant,
			Content:          "",
			ReasoningContent: "let me check",
			ToolCalls: []domain.ToolCallRef{{
				ID:       "t1",
				Type:     "function",
				Function: domain.ToolFunction{Name: "file_read", Arguments: "{}"},
			}},
		},
		{Role: domain.RoleTool, Content: `"ok"`, ToolCallID: "t1"},
		{Role: domain.RoleAssistant, Content: "final answer", ReasoningContent: "stale"},
	}

	wire := provider.prepareMessages(messages)

	// System prompt is prepended.
	if wire[0].Role != domain.RoleSystem {
		t.Fatalf("wire[0].Role = %q", wire[0].Role)
	}

	// Assistant with tool calls carries the field, even if empty.
	withCalls := wire[2]
	if withCalls.ReasoningContent == nil || *withCalls.ReasoningContent != "let me check" {
		t.Errorf("assistant-with-calls reasoning_content = %v", withCalls.ReasoningContent)
	}

	// Assistant without tool calls must omit the field entirely.
	withoutCalls := wire[4]
	if withoutCalls.ReasoningContent != nil {
		t.Errorf("assistant-without-calls reasoning_content should be nil, got %q", *withoutCalls.ReasoningContent)
	}
	raw, err := json.Marshal(withoutCalls)
	if err != nil {
		t.Fatal(err)
	}
	if containsKey(raw, "reasoning_content") {
		t.Errorf("serialized message leaks reasoning_content: %s", raw)
	}
}

func TestPrepareMessagesEmptyReasoningStillPresent(t *testing.T) {
	provider := newTestProvider(t, nil)

	wire := provider.prepareMessages([]domain.Message{{
		Role: domain.RoleAssistant,
		ToolCalls: []domain.ToolCallRef{{
			ID: "t1", Type: "function",
			Function: domain.ToolFunction{Name: "file_read", Arguments: "{}"},
		}},
	}})

	msg := wire[1]
	if msg.ReasoningContent == nil || *msg.ReasoningContent != "" {
		t.Fatalf("empty reasoning must serialize as empty string, got %v", msg.ReasoningContent)
	}
}

func containsKey(raw []byte, key string) bool {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return false
	}
	_, ok := m[key]
	return ok
}
