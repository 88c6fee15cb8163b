package httpserver

import (
	"net/http"
	"time"
)

// New builds an HTTP server with timeouts sized for the oracle round trip:
// a recommendation request may wait up to ten seconds on the scoring service.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
