package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"go.opentelemetry.io/otel/trace"

	"deepchat/internal/domain"
	"deepchat/internal/infra/tracer"
)

// maxOutputSize caps captured stdout/stderr per execution.
const maxOutputSize = 64 << 10 // 64 KiB

// ExecConfig holds the per-language execution timeouts.
type ExecConfig struct {
	PythonTimeout time.Duration
	JSTimeout     time.Duration
}

// PythonExecTool runs Python snippets as a subprocess in read-only
// mode: the code analyzer rejects filesystem writes, process spawning
// and dynamic evaluation before the interpreter ever starts.
type PythonExecTool struct {
	analyzer *CodeAnalyzer
	timeout  time.Duration
	dir      string
	logger   *slog.Logger
}

// NewPythonExecTool creates a python_exec tool running in dir.
func NewPythonExecTool(analyzer *CodeAnalyzer, cfg ExecConfig, dir string, logger *slog.Logger) *PythonExecTool {
	timeout := cfg.PythonTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PythonExecTool{analyzer: analyzer, timeout: timeout, dir: dir, logger: logger}
}

func (t *PythonExecTool) Name() string { return "python_exec" }

func (t *PythonExecTool) Description() string {
	return fmt.Sprintf("Execute Python code (timeout: %s, read-only mode). Use single quotes for strings inside code.", t.timeout)
}

func (t *PythonExecTool) Schema() domain.ToolSchema {
	return execSchema(t.Name(), t.Description())
}

func (t *PythonExecTool) Execute(ctx context.Context, rawParams json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "python_exec", t.logger, rawParams,
		func(ctx context.Context, span trace.Span, p execParams) (any, error) {
			return runSnippet(ctx, span, t.analyzer, p.Code, "python", t.timeout, t.dir, "python3", "-c", p.Code)
		},
	)
}

// JSExecTool runs JavaScript snippets under node with a short timeout.
type JSExecTool struct {
	analyzer *CodeAnalyzer
	timeout  time.Duration
	dir      string
	logger   *slog.Logger
}

// NewJSExecTool creates a js_exec tool running in dir.
func NewJSExecTool(analyzer *CodeAnalyzer, cfg ExecConfig, dir string, logger *slog.Logger) *JSExecTool {
	timeout := cfg.JSTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &JSExecTool{analyzer: analyzer, timeout: timeout, dir: dir, logger: logger}
}

func (t *JSExecTool) Name() string { return "js_exec" }

func (t *JSExecTool) Description() string {
	return fmt.Sprintf("Execute JavaScript code (timeout: %s, read-only mode)", t.timeout)
}

func (t *JSExecTool) Schema() domain.ToolSchema {
	return execSchema(t.Name(), t.Description())
}

func (t *JSExecTool) Execute(ctx context.Context, rawParams json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "js_exec", t.logger, rawParams,
		func(ctx context.Context, span trace.Span, p execParams) (any, error) {
			return runSnippet(ctx, span, t.analyzer, p.Code, "javascript", t.timeout, t.dir, "node", "-e", p.Code)
		},
	)
}

type execParams struct {
	Code string `json:"code"`
}

func execSchema(name, description string) domain.ToolSchema {
	return domain.ToolSchema{
		Name:        name,
		Description: description,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"code": {"type": "string", "description": "The code to execute"}
			},
			"required": ["code"]
		}`),
	}
}

// runSnippet gates the code through the analyzer and runs the
// interpreter under its own deadline. The timeout is reported as a
// readable error instead of the raw context fault.
func runSnippet(ctx context.Context, span trace.Span, analyzer *CodeAnalyzer, code, language string, timeout time.Duration, dir, bin string, args ...string) (any, error) {
	if code == "" {
		return &domain.ToolResult{IsError: true, Error: "code is required"}, nil
	}
	if err := analyzer.Validate(code, language); err != nil {
		return nil, err
	}
	span.SetAttributes(tracer.IntAttr("code.size", len(code)))

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, bin, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if execCtx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("execution timeout (%s)", timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &domain.ToolResult{
				IsError: true,
				Error:   fmt.Sprintf("exit status %d: %s", exitErr.ExitCode(), truncateOutput(stderr.String())),
			}, nil
		}
		return nil, err
	}

	return map[string]any{
		"stdout": truncateOutput(stdout.String()),
		"stderr": truncateOutput(stderr.String()),
	}, nil
}

func truncateOutput(s string) string {
	if len(s) <= maxOutputSize {
		return s
	}
	return s[:maxOutputSize] + "\n... (output truncated)"
}
