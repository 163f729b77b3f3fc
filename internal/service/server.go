package service

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sfs-coordinator/internal/graph"
	"github.com/sfs-coordinator/pkg/utils"
)

// statusServer exposes the monitor's view of the region over HTTP:
// /api/status (JSON snapshot), /healthz and /metrics (Prometheus).
type statusServer struct {
	logger   utils.Logger
	server   *http.Server
	snapshot func(ctx context.Context) (*graph.Snapshot, error)
}

func newStatusServer(addr string, logger utils.Logger, registry *prometheus.Registry,
	snapshot func(ctx context.Context) (*graph.Snapshot, error)) *statusServer {

	s := &statusServer{
		logger:   logger,
		snapshot: snapshot,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start serves until Shutdown. Blocks.
func (s *statusServer) Start() error {
	s.logger.Info("status server listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *statusServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *statusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap, err := s.snapshot(r.Context())
	if err != nil {
		s.logger.Warn("status snapshot failed: %v", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		s.logger.Warn("failed to encode status: %v", err)
	}
}

func (s *statusServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
