package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepchat/internal/domain"
	"deepchat/internal/infra/config"
	"deepchat/internal/usecase"
)

type scriptedProvider struct {
	deltas []domain.StreamDelta
}

func (p *scriptedProvider) ChatStream(_ context.Context, _ domain.CompletionRequest) (<-chan domain.StreamDelta, error) {
	ch := make(chan domain.StreamDelta, len(p.deltas)+1)
	for _, d := range p.deltas {
		ch <- d
	}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

type emptyExecutor struct{}

func (emptyExecutor) Get(name string) (domain.Tool, error) {
	return nil, domain.NewDomainError("registry.get", domain.ErrToolNotFound, name)
}
func (emptyExecutor) Schemas() []domain.ToolSchema { return nil }

func newTestServer(t *testing.T, provider domain.CompletionProvider) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	driver := usecase.NewDriver(provider, emptyExecutor{}, nil, usecase.DriverConfig{
		MaxIterations: 10,
		ToolTimeout:   time.Second,
	}, logger)
	srv := NewServer(config.ServerConfig{Addr: ":0"}, driver, emptyExecutor{}, provider, logger)

	ts := httptest.NewServer(srv.Routes(context.Background()))
	t.Cleanup(ts.Close)
	return ts
}

func postChat(t *testing.T, ts *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/chat", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readEvents(t *testing.T, body io.Reader) []domain.StreamEvent {
	t.Helper()
	var events []domain.StreamEvent
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev domain.StreamEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

func TestChatEndpointStreamsContentAndDone(t *testing.T) {
	ts := newTestServer(t, &scriptedProvider{deltas: []domain.StreamDelta{
		{Content: "Hel"},
		{Content: "lo"},
		{Done: true},
	}})

	resp := postChat(t, ts, `{"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	events := readEvents(t, resp.Body)
	require.Len(t, events, 3)
	assert.Equal(t, domain.EventContent, events[0].Type)
	assert.Equal(t, "Hel", events[0].Data)
	assert.Equal(t, domain.EventDone, events[2].Type)
}

func TestChatEndpointReasoningEvents(t *testing.T) {
	ts := newTestServer(t, &scriptedProvider{deltas: []domain.StreamDelta{
		{Reasoning: "thinking hard about it"},
		{Content: "Answer."},
		{Done: true},
	}})

	resp := postChat(t, ts, `{"messages":[{"role":"user","content":"hi"}]}`)
	events := readEvents(t, resp.Body)

	var types []domain.EventType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, domain.EventReasoning)
	assert.Contains(t, types, domain.EventReActStep)
	assert.Equal(t, domain.EventDone, types[len(types)-1])
}

func TestChatEndpointRejectsEmptyMessages(t *testing.T) {
	ts := newTestServer(t, &scriptedProvider{})

	resp := postChat(t, ts, `{"messages":[]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChatEndpointRejectsMalformedBody(t *testing.T) {
	ts := newTestServer(t, &scriptedProvider{})

	resp := postChat(t, ts, `{"messages":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChatEndpointRejectsGet(t *testing.T) {
	ts := newTestServer(t, &scriptedProvider{})

	resp, err := http.Get(ts.URL + "/api/chat")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, &scriptedProvider{})

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "scripted", body["provider"])
}

func TestToolsEndpoint(t *testing.T) {
	ts := newTestServer(t, &scriptedProvider{})

	resp, err := http.Get(ts.URL + "/api/tools")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Tools []domain.ToolSchema `json:"tools"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Empty(t, body.Tools)
}

func TestSecurityHeadersApplied(t *testing.T) {
	ts := newTestServer(t, &scriptedProvider{})

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}
