package server

import (
	"log/slog"
	"net/http"
)

// Config holds router options.
type Config struct {
	// AllowedOrigins lists the CORS origins; "*" allows any.
	AllowedOrigins []string
}

// DefaultConfig allows every origin.
func DefaultConfig() Config {
	return Config{AllowedOrigins: []string{"*"}}
}

// NewRouter registers the batch API on a method-pattern ServeMux and wraps
// it in the middleware chain. The request ID is assigned first so that
// recovery and access logs can both report it.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /batches", h.ListBatches)
	mux.HandleFunc("POST /batches", h.CreateBatch)
	mux.HandleFunc("GET /batches/{id}", h.GetBatch)

	return ChainMiddleware(
		RequestIDMiddleware(),
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)(mux)
}
