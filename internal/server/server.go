// Package server provides the HTTP API: streaming chat, index rebuilds,
// and status.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/kotae/internal/chat"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/search"
	"github.com/hyperjump/kotae/internal/store"
	"go.uber.org/zap"
)

// Server is the HTTP server for the question-answering API.
type Server struct {
	chat      *chat.Service
	retriever *search.Retriever
	builder   *indexer.Builder
	store     store.Store
	config    *config.Config
	logger    *zap.Logger
	server    *http.Server

	// rebuildMu rejects concurrent rebuild requests with 409 instead of
	// queueing them. The Builder itself serializes all builds, including
	// watcher-triggered ones.
	rebuildMu sync.Mutex
}

// NewServer creates a server with the given dependencies.
func NewServer(
	chatSvc *chat.Service,
	retriever *search.Retriever,
	builder *indexer.Builder,
	st store.Store,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		chat:      chatSvc,
		retriever: retriever,
		builder:   builder,
		store:     st,
		config:    cfg,
		logger:    logger,
	}
}

// Router builds the chi router with all routes and middleware attached.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	// No Timeout or Compress middleware: both would break long-lived
	// streaming responses.

	r.Post("/api/v1/chat", s.handleChat)
	r.Post("/api/v1/index", s.handleRebuild)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/health", s.handleHealth)

	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
