package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"git.home.luguber.info/inful/buildgraph/internal/version"
)

// HealthStatus represents the overall health of the daemon
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck represents a single health check
type HealthCheck struct {
	Name     string        `json:"name"`
	Status   HealthStatus  `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

// HealthResponse represents the complete health check response
type HealthResponse struct {
	Status     HealthStatus  `json:"status"`
	Timestamp  time.Time     `json:"timestamp"`
	Uptime     string        `json:"uptime"`
	Version    string        `json:"version"`
	ActiveRuns int           `json:"active_runs"`
	Checks     []HealthCheck `json:"checks"`
}

// PerformHealthChecks executes all health checks and returns the overall status
func (d *Daemon) PerformHealthChecks(ctx context.Context) *HealthResponse {
	checks := []HealthCheck{d.checkDaemon(), d.checkStorage(ctx)}

	overall := HealthStatusHealthy
	for _, c := range checks {
		switch {
		case c.Status == HealthStatusUnhealthy:
			overall = HealthStatusUnhealthy
		case c.Status == HealthStatusDegraded && overall == HealthStatusHealthy:
			overall = HealthStatusDegraded
		}
	}

	return &HealthResponse{
		Status:     overall,
		Timestamp:  time.Now().UTC(),
		Uptime:     d.Uptime().Truncate(time.Second).String(),
		Version:    version.String(),
		ActiveRuns: len(d.svc.Orchestrator.ActiveRuns()),
		Checks:     checks,
	}
}

func (d *Daemon) checkDaemon() HealthCheck {
	c := HealthCheck{Name: "daemon", Status: HealthStatusHealthy}
	if s := d.GetStatus(); s != StatusRunning {
		c.Status = HealthStatusDegraded
		c.Message = "daemon is " + string(s)
	}
	return c
}

func (d *Daemon) checkStorage(ctx context.Context) HealthCheck {
	start := time.Now()
	c := HealthCheck{Name: "storage", Status: HealthStatusHealthy}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := d.svc.states.DB().PingContext(ctx); err != nil {
		c.Status = HealthStatusUnhealthy
		c.Message = err.Error()
	}
	c.Duration = time.Since(start)
	return c
}

// handleHealth serves the health report. Unhealthy reports use 503.
func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := d.PerformHealthChecks(r.Context())
	code := http.StatusOK
	if resp.Status == HealthStatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
