package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/trace"

	"deepchat/internal/domain"
	"deepchat/internal/infra/tracer"
	"deepchat/internal/security"
)

// maxReadSize caps file_read payloads so a huge file cannot blow up
// the conversation context.
const maxReadSize = 1 << 20 // 1 MiB

// ReadFileTool reads a file from the sandboxed working directory.
type ReadFileTool struct {
	sandbox *security.Sandbox
	logger  *slog.Logger
}

// NewReadFileTool creates a file_read tool rooted at the sandbox.
func NewReadFileTool(sandbox *security.Sandbox, logger *slog.Logger) *ReadFileTool {
	return &ReadFileTool{sandbox: sandbox, logger: logger}
}

func (t *ReadFileTool) Name() string { return "file_read" }

func (t *ReadFileTool) Description() string {
	return "Read the contents of a file from the working directory. The path is relative to the working directory."
}

func (t *ReadFileTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "File path relative to the working directory"}
			},
			"required": ["path"]
		}`),
	}
}

type readFileParams struct {
	Path string `json:"path"`
}

func (t *ReadFileTool) Execute(ctx context.Context, rawParams json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "file_read", t.logger, rawParams,
		func(ctx context.Context, span trace.Span, p readFileParams) (any, error) {
			if p.Path == "" {
				return ErrResult("path is required")
			}
			span.SetAttributes(tracer.StringAttr("file.path", p.Path))

			abs, err := t.sandbox.ValidatePath(p.Path)
			if err != nil {
				return nil, err
			}
			info, err := os.Stat(abs)
			if err != nil {
				if os.IsNotExist(err) {
					return ErrResult("file not found: %s", p.Path)
				}
				return nil, err
			}
			if info.IsDir() {
				return ErrResult("%s is a directory", p.Path)
			}
			if info.Size() > maxReadSize {
				return ErrResult("file too large: %d bytes (limit %d)", info.Size(), maxReadSize)
			}

			data, err := os.ReadFile(abs)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"path":    p.Path,
				"size":    info.Size(),
				"content": string(data),
			}, nil
		},
	)
}

// WriteFileTool writes a file inside the sandboxed working directory,
// creating parent directories as needed.
type WriteFileTool struct {
	sandbox *security.Sandbox
	logger  *slog.Logger
}

// NewWriteFileTool creates a file_write tool rooted at the sandbox.
func NewWriteFileTool(sandbox *security.Sandbox, logger *slog.Logger) *WriteFileTool {
	return &WriteFileTool{sandbox: sandbox, logger: logger}
}

func (t *WriteFileTool) Name() string { return "file_write" }

func (t *WriteFileTool) Description() string {
	return "Write content to a file in the working directory, creating it (and parent directories) if needed. Overwrites existing content."
}

func (t *WriteFileTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "File path relative to the working directory"},
				"content": {"type": "string", "description": "Full content to write"}
			},
			"required": ["path", "content"]
		}`),
	}
}

type writeFileParams struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (t *WriteFileTool) Execute(ctx context.Context, rawParams json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "file_write", t.logger, rawParams,
		func(ctx context.Context, span trace.Span, p writeFileParams) (any, error) {
			if p.Path == "" {
				return ErrResult("path is required")
			}
			span.SetAttributes(
				tracer.StringAttr("file.path", p.Path),
				tracer.IntAttr("file.size", len(p.Content)),
			)

			abs, err := t.sandbox.ValidatePath(p.Path)
			if err != nil {
				return nil, err
			}
			if err := os.MkdirAll(filepath.Dir(abs), 0750); err != nil {
				return nil, fmt.Errorf("create parent directory: %w", err)
			}
			if err := os.WriteFile(abs, []byte(p.Content), 0640); err != nil {
				return nil, err
			}
			return map[string]any{
				"path":    p.Path,
				"written": len(p.Content),
			}, nil
		},
	)
}
