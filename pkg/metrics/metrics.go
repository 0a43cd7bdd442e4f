// Package metrics provides the Prometheus registry and exposition server for
// bulk lookups. Collectors are defined in their respective packages (client,
// pipeline, sink) and registered via promauto.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the default Prometheus registry used by the lookup packages.
var Registry = prometheus.DefaultRegisterer

// Server exposes /metrics and /health while a run is in progress.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	logger     zerolog.Logger
}

// NewServer binds addr and prepares the exposition handlers. Use ":0" to let
// the system pick a port.
func NewServer(addr string, logger zerolog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", HealthHandler)

	return &Server{
		httpServer: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: ln,
		logger:   logger.With().Str("component", "metrics").Logger(),
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Start serves in the background.
func (s *Server) Start() {
	go func() {
		s.logger.Info().Str("addr", s.Addr()).Msg("Serving metrics")
		if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// HealthHandler answers liveness probes.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - lookup_requests_total{status} (Counter): HTTP attempts by status ("200", "404", "network_error", ...)
//   - lookup_request_duration_seconds (Histogram): attempt duration
//   - lookup_failures_total{class} (Counter): keys that ended without a value, by error class
//
// Retry Metrics (pkg/client):
//   - lookup_retries_total{error_class} (Counter): retries by error class
//   - lookup_retry_backoff_seconds{error_class} (Histogram): backoff slept before a retry
//   - lookup_retry_exhausted_total{error_class} (Counter): keys that used every attempt
//
// Batch Metrics (pkg/pipeline):
//   - lookup_batches_total (Counter): flushed batches
//   - lookup_batch_size (Histogram): keys per batch
//   - lookup_batch_duration_seconds (Histogram): dispatch to completed flush
//   - lookup_outcomes_total{result} (Counter): "found" / "missing"
//
// Sink Metrics (pkg/sink):
//   - lookup_sink_records_total{sink} (Counter): records written by sink kind
//   - lookup_sink_errors_total{sink} (Counter): failed flushes by sink kind
//
// Example Prometheus Queries:
//
//   # Hit rate
//   sum(rate(lookup_outcomes_total{result="found"}[5m])) / sum(rate(lookup_outcomes_total[5m]))
//
//   # Transport failure rate
//   rate(lookup_requests_total{status="network_error"}[5m])
//
//   # P95 attempt latency
//   histogram_quantile(0.95, rate(lookup_request_duration_seconds_bucket[5m]))
