package httpserver

import (
	"net/http"
	"time"
)

// New builds an HTTP server with the timeouts used by both binaries.
// WriteTimeout stays unset: session handlers wait on remote calls that carry
// their own client timeout.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
