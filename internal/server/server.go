// Package server provides the HTTP API for the notebook.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/squarest/notebook/internal/ai"
	"github.com/squarest/notebook/internal/chat"
	"github.com/squarest/notebook/internal/config"
	"github.com/squarest/notebook/internal/ingest"
	"github.com/squarest/notebook/internal/storage"
)

// Server is the HTTP server for the notebook API. It is the application shell
// around the core: every handler delegates to the ingester, the storage
// layer, or the chat orchestrator.
type Server struct {
	ingester     *ingest.Ingester
	store        storage.Storage
	orchestrator *chat.Orchestrator
	registry     *ai.Registry
	cfg          *config.Config
	logger       *zap.Logger
	server       *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	ingester *ingest.Ingester,
	store storage.Storage,
	orchestrator *chat.Orchestrator,
	registry *ai.Registry,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		ingester:     ingester,
		store:        store,
		orchestrator: orchestrator,
		registry:     registry,
		cfg:          cfg,
		logger:       logger,
	}
}

// Router builds the chi router with all routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sources", s.handleUploadSource)
		r.Get("/sources", s.handleListSources)
		r.Get("/sources/{id}", s.handleGetSource)
		r.Delete("/sources/{id}", s.handleDeleteSource)
		r.Get("/sources/{id}/chunks", s.handleSourceChunks)

		r.Post("/notes", s.handleCreateNote)
		r.Get("/notes", s.handleListNotes)
		r.Get("/notes/{id}", s.handleGetNote)
		r.Put("/notes/{id}", s.handleUpdateNote)
		r.Delete("/notes/{id}", s.handleDeleteNote)

		r.Post("/chat", s.handleChat)
		r.Get("/conversations/{id}/messages", s.handleHistory)
		r.Delete("/conversations/{id}", s.handleClearConversation)

		r.Get("/providers", s.handleProviders)
		r.Get("/status", s.handleStatus)
	})
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
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
