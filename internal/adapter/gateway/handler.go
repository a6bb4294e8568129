package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/oklog/ulid/v2"

	"deepchat/internal/domain"
	"deepchat/internal/infra/tracer"
	"deepchat/internal/usecase"
)

// maxRequestBody bounds the inbound chat request body.
const maxRequestBody = 4 << 20 // 4 MiB

// ChatHandler serves the streaming chat endpoint.
type ChatHandler struct {
	driver *usecase.Driver
	logger *slog.Logger
}

// NewChatHandler wires the chat endpoint.
func NewChatHandler(driver *usecase.Driver, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{driver: driver, logger: logger}
}

// HandleChat runs one chat request end to end, streaming SSE events
// until the terminal done event.
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	requestID := ulid.Make().String()
	w.Header().Set("X-Request-ID", requestID)
	log := h.logger.With("request_id", requestID)

	ctx, span := tracer.StartSpan(r.Context(), "gateway.HandleChat")
	defer span.End()
	span.SetAttributes(tracer.StringAttr("request.id", requestID))

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	var req domain.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		tracer.RecordError(span, err)
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		writeJSONError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}

	ew, err := NewEventWriter(w)
	if err != nil {
		tracer.RecordError(span, err)
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	log.Info("chat request started", "messages", len(req.Messages))

	if err := h.driver.Drive(ctx, req.Messages, ew); err != nil {
		// The client is gone; nothing useful can be written anymore.
		tracer.RecordError(span, err)
		log.Warn("chat stream aborted", "error", err)
		return
	}
	tracer.SetOK(span)
	log.Info("chat request completed")
}

// HandleHealth reports liveness and the configured provider.
func HandleHealth(providerName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"provider": providerName,
		})
	}
}

// HandleTools lists the registered tool schemas.
func HandleTools(registry domain.ToolExecutor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"tools": registry.Schemas(),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
