package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"git.home.luguber.info/inful/buildgraph/internal/config"
	"git.home.luguber.info/inful/buildgraph/internal/metrics"
)

// HTTPServer exposes metrics, health and active runs.
type HTTPServer struct {
	cfg    config.MonitoringMetrics
	daemon *Daemon
	server *http.Server
	addr   string
}

type runView struct {
	RunID        string     `json:"run_id"`
	Build        string     `json:"build"`
	Strategy     string     `json:"strategy"`
	Trigger      string     `json:"trigger"`
	Layers       [][]string `json:"layers"`
	CurrentLayer int        `json:"current_layer"`
	Canceled     bool       `json:"canceled"`
	StartedAt    time.Time  `json:"started_at"`
}

// NewHTTPServer creates a server for the configured listen address.
func NewHTTPServer(cfg config.MonitoringMetrics, d *Daemon) *HTTPServer {
	return &HTTPServer{cfg: cfg, daemon: d}
}

// Handler returns the routed handler.
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET "+s.cfg.Path, metrics.HTTPHandler(s.daemon.svc.Metrics))
	mux.HandleFunc("GET /healthz", s.daemon.handleHealth)
	mux.HandleFunc("GET /runs", s.handleRuns)
	return mux
}

func (s *HTTPServer) handleRuns(w http.ResponseWriter, _ *http.Request) {
	active := s.daemon.svc.Orchestrator.ActiveRuns()
	out := make([]runView, 0, len(active))
	for _, r := range active {
		out = append(out, runView{
			RunID:        r.ID,
			Build:        r.Build,
			Strategy:     r.Strategy,
			Trigger:      r.Trigger,
			Layers:       r.Layers,
			CurrentLayer: r.CurrentLayer,
			Canceled:     r.Canceled,
			StartedAt:    r.StartedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// Start binds the listener and serves in the background.
func (s *HTTPServer) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Listen, err)
	}
	s.addr = ln.Addr().String()
	s.server = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	slog.Info("HTTP server started", "addr", s.addr, "metrics_path", s.cfg.Path)
	return nil
}

// Addr returns the bound address once started.
func (s *HTTPServer) Addr() string { return s.addr }

// Stop gracefully shuts down the server.
func (s *HTTPServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
