package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthFunc reports whether the process is healthy. A nil HealthFunc always
// reports healthy.
type HealthFunc func() error

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Server exposes /metrics and /health over HTTP for the lifetime of a
// migration run.
type Server struct {
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a metrics server for addr (e.g. ":9090"). health backs
// the /health endpoint.
func NewServer(addr string, gatherer prometheus.Gatherer, health HealthFunc) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           newHandler(gatherer, health),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func newHandler(gatherer prometheus.Gatherer, health HealthFunc) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		resp, code := healthResponse{Status: "ok"}, http.StatusOK
		if health != nil {
			if err := health(); err != nil {
				resp, code = healthResponse{Status: "unhealthy", Error: err.Error()}, http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(resp) //nolint:errcheck // client may have gone away
	})
	return mux
}

// Start binds the address and serves in the background. Bind and serve
// failures are delivered on the returned channel, which is closed when the
// server stops.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		errCh <- fmt.Errorf("metrics server: %w", err)
		close(errCh)
		return errCh
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		defer close(errCh)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()
	return errCh
}

// Addr returns the bound address once Start succeeded, the configured one
// otherwise.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Shutdown stops the server, waiting for active requests until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
