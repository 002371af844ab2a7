package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route - push stream per session
	mux.HandleFunc("/ws/progress/", s.app.StreamHandler.HandleStream)

	// API routes - Progress (pull transport)
	mux.HandleFunc("/api/progress", s.app.ProgressHandler.ListHandler) // GET - discovery candidates
	mux.HandleFunc("/api/progress/", s.handleProgressRoutes)           // GET /{id}/status, DELETE /{id}

	// API routes - Job runner
	mux.HandleFunc("/api/ingest", s.app.ProgressHandler.IngestHandler) // POST - start a batch

	// API routes - System
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)
	mux.HandleFunc("/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleProgressRoutes routes /api/progress/{id}[/status] by method
func (s *Server) handleProgressRoutes(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{
		http.MethodGet:    s.app.ProgressHandler.ItemHandler,
		http.MethodDelete: s.app.ProgressHandler.ItemHandler,
	})
}
