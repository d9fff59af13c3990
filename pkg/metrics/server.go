package metrics

import (
	"context"
	"net/http"
	"time"
)

// Server exposes /metrics and /health on one listener, for
// `cmd/archiver serve-metrics`. Disabled by default: nothing in this
// package starts one on its own.
type Server struct {
	http *http.Server
}

// NewServer wires a Server against addr, backed by checker for
// /health.
func NewServer(addr string, checker *HealthChecker) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", checker.Handler())

	return &Server{http: &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}}
}

// ListenAndServe blocks until the server stops or ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.http.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}
