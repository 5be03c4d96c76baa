package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	// Register routes with method-based patterns (Go 1.22+)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /jobs", h.CreateJob)
	mux.HandleFunc("POST /batches", h.CreateBatch)
	mux.HandleFunc("GET /batches/{id}/progress", h.BatchProgress)
	mux.HandleFunc("POST /batches/{id}/pause", h.PauseBatch)
	mux.HandleFunc("POST /batches/{id}/resume", h.ResumeBatch)
	mux.HandleFunc("POST /batches/{id}/cancel", h.CancelBatch)
	mux.HandleFunc("POST /callback/{workflowID}", h.Callback)
	mux.HandleFunc("GET /workflows", h.List)
	mux.HandleFunc("GET /workflows/count", h.Count)
	mux.HandleFunc("GET /workflows/{id}/progress", h.Progress)
	mux.HandleFunc("GET /workflows/{id}/status", h.Status)
	mux.HandleFunc("GET /workflows/{id}/audit", h.AuditHistory)
	mux.HandleFunc("POST /workflows/{id}/cancel", h.Cancel)
	mux.HandleFunc("POST /workflows/{id}/progress", h.PushProgress)

	// Apply middleware chain
	chain := ChainMiddleware(
		RequestIDMiddleware(),
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
