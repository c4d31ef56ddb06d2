package confsyncserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	confsynclogger "github.com/vitaliisemenov/confsync/pkg/logger"
)

// Server wires the Hub and Handler onto a gorilla/mux router, grounded on
// internal/api/router.go's NewRouter convention.
type Server struct {
	Hub    *Hub
	router *mux.Router
	http   *http.Server
	logger *slog.Logger
}

// NewServer builds a Server listening on addr.
func NewServer(addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	hub := NewHub(logger)
	router := mux.NewRouter()
	router.Use(confsynclogger.HTTPMiddleware(logger))
	router.Handle("/notifications/v2", NewHandler(hub, logger)).Methods(http.MethodGet)

	return &Server{
		Hub:    hub,
		router: router,
		logger: logger,
		http: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// ListenAndServe starts serving; it blocks until the server stops or
// errors.
func (s *Server) ListenAndServe() error {
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Router exposes the underlying router for tests that want to drive
// requests via httptest without a live listener.
func (s *Server) Router() http.Handler {
	return s.router
}
