package apiserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/klubi/scout/internal/agent"
	"github.com/klubi/scout/internal/store"
	"github.com/klubi/scout/internal/tools"
)

// Server is the scout REST API server. It launches runs on the Runtime and
// serves run records from the Store.
type Server struct {
	router   *mux.Router
	store    store.Store
	runtime  *agent.Runtime
	registry *tools.Registry
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a fully-wired Server ready to Start().
func NewServer(addr string, s store.Store, rt *agent.Runtime, reg *tools.Registry, logger *zap.Logger) *Server {
	srv := &Server{
		router:   mux.NewRouter(),
		store:    s,
		runtime:  rt,
		registry: reg,
		logger:   logger,
	}
	srv.server = &http.Server{
		Addr:        addr,
		Handler:     srv.router,
		ReadTimeout: 15 * time.Second,
		// Responses are small JSON documents; runs execute in the background.
		WriteTimeout: 30 * time.Second,
	}
	srv.registerRoutes()
	return srv
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening and serving HTTP requests. It blocks until the
// server is shut down or encounters a fatal error.
func (s *Server) Start() error {
	s.logger.Info("API server starting", zap.String("addr", s.server.Addr))
	return s.server.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
