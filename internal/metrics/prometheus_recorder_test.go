package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.ObserveBuildDuration(500 * time.Millisecond)
	pr.IncBuildOutcome(ResultFailed)
	pr.IncBuildOutcome(ResultFailed)
	pr.ObserveTaskDuration(150*time.Millisecond, ResultTimeout)
	pr.ObserveSortDuration("kahn", time.Millisecond)
	pr.IncOrderCache(true)
	pr.IncOrderCache(false)
	pr.IncOrderCache(false)
	pr.IncPersistenceRetry("task")
	pr.IncPersistenceRetryExhausted("build")
	pr.SetTasksInFlight(3)

	require.InDelta(t, 2, testutil.ToFloat64(pr.buildOutcome.WithLabelValues("failed")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(pr.orderCache.WithLabelValues("hit")), 0)
	require.InDelta(t, 2, testutil.ToFloat64(pr.orderCache.WithLabelValues("miss")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(pr.retries.WithLabelValues("task")), 0)
	require.InDelta(t, 3, testutil.ToFloat64(pr.inFlight), 0)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, mfs)
}

func TestNilRecorderIsSafe(t *testing.T) {
	var pr *PrometheusRecorder
	require.NotPanics(t, func() {
		pr.ObserveBuildDuration(time.Second)
		pr.IncBuildOutcome(ResultSuccess)
		pr.SetTasksInFlight(1)
	})
	require.Equal(t, NoopRecorder{}, OrNoop(nil))
}

func TestHTTPHandlerServesRegistry(t *testing.T) {
	reg := prom.NewRegistry()
	NewPrometheusRecorder(reg).IncBuildOutcome(ResultSuccess)

	srv := httptest.NewServer(HTTPHandler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `buildgraph_build_outcomes_total{outcome="success"} 1`)
}
