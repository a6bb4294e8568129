package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"deepchat/internal/domain"
	"deepchat/internal/infra/config"
	"deepchat/internal/infra/middleware"
	"deepchat/internal/usecase"
)

// Server is the HTTP gateway: the chat SSE endpoint plus health and
// tool discovery.
type Server struct {
	cfg       config.ServerConfig
	handler   *ChatHandler
	registry  domain.ToolExecutor
	provider  domain.CompletionProvider
	logger    *slog.Logger
	httpSrv   *http.Server
	boundAddr string
}

// NewServer wires the gateway routes.
func NewServer(cfg config.ServerConfig, driver *usecase.Driver, registry domain.ToolExecutor, provider domain.CompletionProvider, logger *slog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		handler:  NewChatHandler(driver, logger),
		registry: registry,
		provider: provider,
		logger:   logger,
	}
}

// Routes builds the gateway's handler chain.
func (s *Server) Routes(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", s.handler.HandleChat)
	mux.HandleFunc("/api/health", HandleHealth(s.provider.Name()))
	mux.HandleFunc("/api/tools", HandleTools(s.registry))

	var handler http.Handler = mux
	if s.cfg.RequestsPerMin > 0 {
		handler = middleware.RateLimit(ctx, s.cfg.RequestsPerMin, s.cfg.Burst)(handler)
	}
	return middleware.SecurityHeaders(handler)
}

// Start binds the listener and serves until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.boundAddr = listener.Addr().String()

	// No write timeout: chat responses stream for as long as the
	// upstream keeps producing tokens.
	s.httpSrv = &http.Server{
		Handler:           s.Routes(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("gateway started", "addr", s.boundAddr)

	go func() {
		<-ctx.Done()
		if err := s.Stop(context.Background()); err != nil {
			s.logger.Warn("gateway shutdown", "error", err)
		}
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the gateway server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

// BoundAddr returns the actual address the server bound to. Only valid after Start.
func (s *Server) BoundAddr() string { return s.boundAddr }
