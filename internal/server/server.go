// Package server exposes the HTTP surface: the streaming chat endpoint, the
// conversation read API, model listing, health, and metrics.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"openchat/internal/domain"
	"openchat/internal/metrics"
)

const (
	maxBodySize            = 1 << 20 // 1MB
	defaultShutdownTimeout = 5 * time.Second
)

// ChatRunner runs one chat request, emitting events as they happen.
type ChatRunner interface {
	Run(ctx context.Context, req domain.ChatRequest, emit domain.EmitFunc) error
}

// ModelLister reports the models the inference server has available.
type ModelLister interface {
	Models(ctx context.Context) ([]domain.ModelInfo, error)
}

// Server owns the HTTP listener, routes, and middleware chain.
type Server struct {
	chat            ChatRunner
	store           domain.ConversationStore
	models          ModelLister
	httpServer      *http.Server
	shutdownTimeout time.Duration
}

type Config struct {
	Addr            string
	Chat            ChatRunner
	Store           domain.ConversationStore
	Models          ModelLister
	ShutdownTimeout time.Duration
}

func New(cfg Config) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	s := &Server{
		chat:            cfg.Chat,
		store:           cfg.Store,
		models:          cfg.Models,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		// No WriteTimeout: chat responses stream for as long as the model
		// generates. Stalled upstreams are bounded by the provider's idle
		// watchdog instead.
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/history/{id}", s.handleConversation)
	mux.HandleFunc("GET /api/models", s.handleModels)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Collector.Handler())

	return chain(mux,
		recoveryMiddleware,
		requestIDMiddleware,
		corsMiddleware,
		loggingMiddleware,
		metricsMiddleware,
	)
}

// Run serves until ctx is canceled, then drains connections within the
// shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("server shutdown incomplete", "error", err)
		}
	}()

	slog.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
