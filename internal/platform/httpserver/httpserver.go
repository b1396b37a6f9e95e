package httpserver

import (
	"net/http"

	"signet/internal/platform/config"
)

// New builds an HTTP server with sane defaults for this project.
func New(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
