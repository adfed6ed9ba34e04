package config

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	ferrors "git.home.luguber.info/inful/buildgraph/internal/foundation/errors"
)

// Validate reports every impossible setting in one error.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	if NormalizeSortStrategy(string(c.Orchestrator.Strategy)) == "" {
		add("orchestrator.strategy: unknown value %q (kahn|dfs)", c.Orchestrator.Strategy)
	}
	if NormalizeCacheBackend(string(c.Orchestrator.Cache)) == "" {
		add("orchestrator.cache: unknown value %q (none|memory|nats)", c.Orchestrator.Cache)
	}
	if NormalizeDispatchMode(string(c.Dispatch.Mode)) == "" {
		add("dispatch.mode: unknown value %q (local|nats)", c.Dispatch.Mode)
	}
	if NormalizeRetryBackoff(string(c.Persistence.RetryBackoff)) == "" {
		add("persistence.retry_backoff: unknown value %q (fixed|linear|exponential)", c.Persistence.RetryBackoff)
	}
	if c.Persistence.MaxRetries < 0 {
		add("persistence.max_retries: cannot be negative")
	}

	durations := map[string]string{
		"orchestrator.task_timeout":       c.Orchestrator.TaskTimeout,
		"nats.cache_ttl":                  c.NATS.CacheTTL,
		"persistence.retry_initial_delay": c.Persistence.RetryInitialDelay,
		"persistence.retry_max_delay":     c.Persistence.RetryMaxDelay,
		"maintenance.event_retention":     c.Maintenance.EventRetention,
		"maintenance.prune_interval":      c.Maintenance.PruneInterval,
	}
	for _, key := range slices.Sorted(maps.Keys(durations)) {
		if d, err := time.ParseDuration(durations[key]); err != nil || d <= 0 {
			add("%s: invalid duration %q", key, durations[key])
		}
	}

	for i, s := range c.Schedules {
		if strings.TrimSpace(s.Build) == "" {
			add("schedules[%d].build: required", i)
		}
		if d, err := time.ParseDuration(s.Interval); err != nil || d <= 0 {
			add("schedules[%d].interval: invalid duration %q", i, s.Interval)
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return ferrors.ConfigError("invalid configuration: " + strings.Join(problems, "; ")).Build()
}

// TaskTimeout returns the global task timeout.
func (c *Config) TaskTimeout() time.Duration { return mustDuration(c.Orchestrator.TaskTimeout) }

// CacheTTL returns the NATS KV entry lifetime.
func (c *Config) CacheTTL() time.Duration { return mustDuration(c.NATS.CacheTTL) }

// EventRetention returns how long lifecycle events are kept.
func (c *Config) EventRetention() time.Duration { return mustDuration(c.Maintenance.EventRetention) }

// PruneInterval returns how often history is pruned.
func (c *Config) PruneInterval() time.Duration { return mustDuration(c.Maintenance.PruneInterval) }

// RetryDelays returns the parsed persistence backoff bounds.
func (c *Config) RetryDelays() (initial, maxDelay time.Duration) {
	return mustDuration(c.Persistence.RetryInitialDelay), mustDuration(c.Persistence.RetryMaxDelay)
}

// mustDuration parses values already checked by Validate; zero is returned on error.
func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}
