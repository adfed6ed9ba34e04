package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/buildgraph/internal/foundation/errors"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("definitions: defs.yaml\n"))
	require.NoError(t, err)

	require.Equal(t, SortStrategyKahn, cfg.Orchestrator.Strategy)
	require.Equal(t, CacheMemory, cfg.Orchestrator.Cache)
	require.Equal(t, DispatchLocal, cfg.Dispatch.Mode)
	require.Equal(t, 4, cfg.Dispatch.Workers)
	require.Equal(t, 30*time.Minute, cfg.TaskTimeout())
	require.Equal(t, RetryBackoffExponential, cfg.Persistence.RetryBackoff)
	require.Equal(t, 3, cfg.Persistence.MaxRetries)
	initial, maxDelay := cfg.RetryDelays()
	require.Equal(t, 100*time.Millisecond, initial)
	require.Equal(t, 2*time.Second, maxDelay)
	require.Equal(t, LogLevelInfo, cfg.Monitoring.Logging.Level)
	require.Equal(t, LogFormatText, cfg.Monitoring.Logging.Format)
	require.Equal(t, 168*time.Hour, cfg.EventRetention())
}

func TestParseNormalizesEnums(t *testing.T) {
	cfg, err := Parse([]byte(`
orchestrator:
  strategy: " DFS "
  cache: NATS
dispatch:
  mode: Nats
persistence:
  retry_backoff: Linear
monitoring:
  logging:
    level: WARNING
    format: JSON
`))
	require.NoError(t, err)
	require.Equal(t, SortStrategyDFS, cfg.Orchestrator.Strategy)
	require.Equal(t, CacheNATS, cfg.Orchestrator.Cache)
	require.Equal(t, DispatchNATS, cfg.Dispatch.Mode)
	require.Equal(t, RetryBackoffLinear, cfg.Persistence.RetryBackoff)
	require.Equal(t, LogLevelWarn, cfg.Monitoring.Logging.Level)
	require.Equal(t, LogFormatJSON, cfg.Monitoring.Logging.Format)
}

func TestParseRejectsInvalidValues(t *testing.T) {
	_, err := Parse([]byte(`
orchestrator:
  strategy: random
  task_timeout: soon
schedules:
  - build: ""
    interval: 0s
`))
	require.Error(t, err)
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
	require.Contains(t, err.Error(), `orchestrator.strategy: unknown value "random"`)
	require.Contains(t, err.Error(), `orchestrator.task_timeout: invalid duration "soon"`)
	require.Contains(t, err.Error(), "schedules[0].build: required")
	require.Contains(t, err.Error(), `schedules[0].interval: invalid duration "0s"`)
}

func TestLoadExpandsEnvAndResolvesDefinitions(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("BUILDGRAPH_TEST_NATS", "nats://broker:4222")
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("definitions: defs.hcl\nnats:\n  url: ${BUILDGRAPH_TEST_NATS}\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "nats://broker:4222", cfg.NATS.URL)
	require.Equal(t, filepath.Join(dir, "defs.hcl"), cfg.Definitions)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
}

func TestInitWritesLoadableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, Init(path, false))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.True(t, cfg.Monitoring.Metrics.Enabled)
	require.Len(t, cfg.Schedules, 1)

	err = Init(path, false)
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryConflict))
	require.NoError(t, Init(path, true))
}
