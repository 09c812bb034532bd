package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/autopeer-io/pathrunner/internal/pkg/metrics"
	"github.com/autopeer-io/pathrunner/pkg/log"
	"github.com/autopeer-io/pathrunner/pkg/options"
)

// ReadinessCheck reports an error while a dependency is unavailable.
type ReadinessCheck func(ctx context.Context) error

// HTTPServer serves a handler until its context is done.
type HTTPServer struct {
	server *http.Server
}

func NewHTTPServer(opts *options.HttpOptions, handler http.Handler) *HTTPServer {
	return &HTTPServer{
		server: &http.Server{
			Addr:              opts.Addr,
			Handler:           handler,
			ReadHeaderTimeout: opts.Timeout,
			WriteTimeout:      opts.Timeout,
		},
	}
}

func (s *HTTPServer) Start(ctx context.Context) error {
	log.Info("Starting HTTP Server", "addr", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

// RegisterProbes mounts /healthz, /readyz and /metrics on r. /readyz fails
// with 503 while any check fails.
func RegisterProbes(r *mux.Router, checks ...ReadinessCheck) {
	// Basic Liveness Probe
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.HandleFunc("/readyz", func(w http.ResponseWriter, req *http.Request) {
		for _, check := range checks {
			if err := check(req.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
}

// BrokerCheck fails while connected reports false.
func BrokerCheck(connected func() bool) ReadinessCheck {
	return func(context.Context) error {
		if !connected() {
			return errBrokerDown
		}
		return nil
	}
}
