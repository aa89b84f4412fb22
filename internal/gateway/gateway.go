// ABOUTME: HTTP server wiring the WebSocket and REST transports to the core
// ABOUTME: Owns the http.Server lifecycle; the core components are injected

package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/confab-dev/confab/internal/dispatch"
	"github.com/confab-dev/confab/internal/hub"
	"github.com/confab-dev/confab/internal/store"
)

// Server terminates client transports and forwards every inbound action to
// the dispatcher. It holds no conversation state of its own.
type Server struct {
	store      *store.ConversationStore
	hub        *hub.Hub
	dispatcher *dispatch.Dispatcher
	httpServer *http.Server
	logger     *slog.Logger
}

// New builds the server. All core components are injected; the gateway
// never constructs its own store or hub.
func New(addr string, st *store.ConversationStore, h *hub.Hub, d *dispatch.Dispatcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:      st,
		hub:        h,
		dispatcher: d,
		logger:     logger.With("component", "gateway"),
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Get("/ws", s.handleWebSocket)
	router.Get("/health", s.handleHealth)

	router.Route("/api", func(r chi.Router) {
		r.Post("/messages", s.handleSubmitMessage)
		r.Get("/conversations", s.handleListConversations)
		r.Get("/conversations/{id}", s.handleGetConversation)
		r.Get("/conversations/{id}/messages", s.handleGetMessages)
		r.Put("/conversations/{id}/metadata", s.handleUpdateMetadata)
		r.Delete("/conversations/{id}", s.handleDeleteConversation)
		r.Get("/search", s.handleSearch)
		r.Get("/stats", s.handleStats)
	})

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for httptest
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start blocks serving HTTP until Shutdown or a listener error
func (s *Server) Start() error {
	s.logger.Info("gateway listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("gateway shutting down")
	return s.httpServer.Shutdown(ctx)
}
