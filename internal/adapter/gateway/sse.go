package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"deepchat/internal/domain"
)

// EventWriter serializes stream events onto an SSE response. Each
// event becomes one "data: <json>\n\n" frame, flushed immediately so
// the client sees tokens as they arrive. Write failures mean the
// client disconnected and propagate to the caller so the pipeline can
// stop.
type EventWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewEventWriter prepares the response for SSE and returns a writer
// for it. Responds with an error when the underlying writer cannot
// flush, which streaming requires.
func NewEventWriter(w http.ResponseWriter) (*EventWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	return &EventWriter{w: w, flusher: flusher}, nil
}

// Send writes one event as a single SSE data frame.
func (ew *EventWriter) Send(event domain.StreamEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(ew.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	ew.flusher.Flush()
	return nil
}
