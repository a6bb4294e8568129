package llm

import (
	"bufio"
	"bytes"
	"context"
	"io"

	"deepchat/internal/domain"
)

// maxLineSize bounds a single SSE line; upstream argument deltas are tiny
// but a full reasoning frame can be large.
const maxLineSize = 1024 * 1024

// parseSSEStream reads SSE-formatted lines from body and converts each data
// payload into a StreamDelta using the provider-specific parseLine function.
// Partial lines are buffered until the next read. Only lines with the
// "data: " prefix are considered; the "[DONE]" terminal marker is dropped
// without emitting a chunk, and unparseable payloads are skipped. The
// returned channel is closed when the stream ends, the body is closed, or
// ctx is cancelled.
func parseSSEStream(ctx context.Context, body io.ReadCloser, parseLine func(data []byte) (*domain.StreamDelta, error)) <-chan domain.StreamDelta {
	ch := make(chan domain.StreamDelta, 16)
	go func() {
		defer close(ch)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line := scanner.Bytes()

			// Skip empty lines and comments.
			if len(line) == 0 || line[0] == ':' {
				continue
			}

			if !bytes.HasPrefix(line, []byte("data: ")) {
				continue
			}
			data := bytes.TrimPrefix(line, []byte("data: "))

			// Common termination signal.
			if bytes.Equal(data, []byte("[DONE]")) {
				return
			}

			delta, err := parseLine(data)
			if err != nil {
				// Providers occasionally emit garbled keep-alive lines;
				// skip them rather than failing the stream.
				continue
			}
			if delta == nil {
				continue
			}

			select {
			case ch <- *delta:
			case <-ctx.Done():
				return
			}

			if delta.Done {
				return
			}
		}
	}()
	return ch
}
