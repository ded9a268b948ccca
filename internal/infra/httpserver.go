package infra

import (
	"context"
	"net/http"
	"time"
)

// HTTPServer wraps http.Server with the configured timeouts and graceful
// shutdown. Both the API and the local file server go through it.
type HTTPServer struct {
	server *http.Server
}

// NewHTTPServer builds a server listening on the configured port.
func NewHTTPServer(cfg *Config, handler http.Handler) *HTTPServer {
	return &HTTPServer{server: &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
	}}
}

// Addr returns the listen address, for startup logging.
func (s *HTTPServer) Addr() string {
	return s.server.Addr
}

// Start blocks serving requests until Shutdown is called or the listener
// fails. It returns http.ErrServerClosed after a clean shutdown.
func (s *HTTPServer) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
