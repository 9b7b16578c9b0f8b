package server

import (
	"log/slog"
	"net/http"

	"sales-insight/internal/handlers"
)

type Server struct {
	mux          *http.ServeMux
	logger       *slog.Logger
	apiHandlers  *handlers.APIHandlers
	sseHandlers  *handlers.SSEHandlers
	pageHandlers *handlers.PageHandlers
	metrics      http.Handler
}

type Deps struct {
	Store    handlers.SnapshotReader
	Runner   handlers.RunController
	Notifier handlers.ChangeNotifier
	Metrics  http.Handler
	Version  string
}

func NewServer(deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		mux:          http.NewServeMux(),
		logger:       logger,
		apiHandlers:  handlers.NewAPIHandlers(deps.Store, deps.Runner, deps.Version, logger),
		sseHandlers:  handlers.NewSSEHandlers(deps.Store, deps.Notifier, logger),
		pageHandlers: handlers.NewPageHandlers(deps.Store, logger),
		metrics:      deps.Metrics,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Dashboard routes
	s.mux.HandleFunc("GET /{$}", s.pageHandlers.HandleDashboard)
	s.mux.HandleFunc("GET /health", s.apiHandlers.HandleHealth)

	// Snapshot API
	s.mux.HandleFunc("GET /api/snapshot", s.apiHandlers.HandleSnapshot)
	s.mux.HandleFunc("GET /api/history", s.apiHandlers.HandleHistory)

	// Scheduler administration
	s.mux.HandleFunc("GET /admin/status", s.apiHandlers.HandleStatus)
	s.mux.HandleFunc("POST /admin/run", s.apiHandlers.HandleRun)

	// Datastar SSE endpoints
	s.mux.HandleFunc("GET /sse/snapshot", s.sseHandlers.HandleSnapshot)

	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
