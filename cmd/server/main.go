package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"deepchat/internal/adapter/gateway"
	"deepchat/internal/adapter/llm"
	"deepchat/internal/adapter/tool"
	"deepchat/internal/domain"
	"deepchat/internal/infra/config"
	"deepchat/internal/infra/logger"
	"deepchat/internal/infra/tracer"
	"deepchat/internal/security"
	"deepchat/internal/usecase"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, closeLogger, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closeLogger()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Warn("tracer shutdown", "error", err)
		}
	}()

	sandbox, err := security.NewSandbox(cfg.Tools.WorkingDir)
	if err != nil {
		return fmt.Errorf("init sandbox: %w", err)
	}
	log.Info("sandbox ready", "root", sandbox.Root())

	registry, err := buildRegistry(sandbox, cfg.Tools, log)
	if err != nil {
		return fmt.Errorf("init tools: %w", err)
	}

	var provider domain.CompletionProvider = llm.NewDeepSeekProvider(cfg.Provider, usecase.ReActSystemPrompt, log)
	provider = llm.NewCircuitBreakerProvider(provider, cfg.Provider.Breaker, log)

	guard, err := usecase.NewContextGuard(cfg.Agent.TokenBudget, log)
	if err != nil {
		log.Warn("token estimation disabled", "error", err)
		guard = nil
	}

	driver := usecase.NewDriver(provider, registry, guard, usecase.DriverConfig{
		MaxIterations: cfg.Agent.MaxIterations,
		MaxTokens:     cfg.Agent.MaxTokens,
		ToolTimeout:   cfg.Tools.PythonTimeout,
	}, log)

	srv := gateway.NewServer(cfg.Server, driver, registry, provider, log)
	if err := srv.Start(ctx); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}

func buildRegistry(sandbox *security.Sandbox, cfg config.ToolsConfig, log *slog.Logger) (*tool.Registry, error) {
	registry := tool.NewRegistry(log)
	analyzer := tool.NewCodeAnalyzer()
	execCfg := tool.ExecConfig{
		PythonTimeout: cfg.PythonTimeout,
		JSTimeout:     cfg.JSTimeout,
	}

	tools := []domain.Tool{
		tool.NewReadFileTool(sandbox, log),
		tool.NewWriteFileTool(sandbox, log),
		tool.NewPythonExecTool(analyzer, execCfg, sandbox.Root(), log),
		tool.NewJSExecTool(analyzer, execCfg, sandbox.Root(), log),
	}
	for _, t := range tools {
		if err := registry.Register(t); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
