package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDaemonRunsScheduledBuilds(t *testing.T) {
	svc := newTestServices(t, "schedules:\n  - build: ci\n    interval: 50ms\n")
	d, err := New(svc)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		for _, h := range svc.History.History("ci") {
			if h.Trigger == ScheduleTrigger && h.Status == "success" {
				return true
			}
		}
		return false
	}, 10*time.Second, 20*time.Millisecond)
	require.Equal(t, StatusRunning, d.GetStatus())

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}
	require.Equal(t, StatusStopped, d.GetStatus())
}

func TestDaemonRejectsDoubleStart(t *testing.T) {
	d, err := New(newTestServices(t, ""))
	require.NoError(t, err)

	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() { _ = d.Stop(context.Background()) })
	require.Error(t, d.Start(context.Background()))
}

func TestHTTPHandler(t *testing.T) {
	d, err := New(newTestServices(t, "monitoring:\n  metrics:\n    enabled: true\n    listen: 127.0.0.1:0\n"))
	require.NoError(t, err)
	require.NotNil(t, d.httpServer)
	srv := httptest.NewServer(d.httpServer.Handler())
	t.Cleanup(srv.Close)

	t.Run("health reports stopped daemon as degraded", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var health HealthResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
		require.Equal(t, HealthStatusDegraded, health.Status)
		require.Len(t, health.Checks, 2)
	})

	t.Run("runs lists nothing when idle", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/runs")
		require.NoError(t, err)
		defer resp.Body.Close()

		var runs []runView
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&runs))
		require.Empty(t, runs)
	})

	t.Run("metrics exposes engine collectors", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})
}
