package config

import "strings"

// RetryBackoffMode enumerates supported backoff strategies for retries.
type RetryBackoffMode string

const (
	RetryBackoffFixed       RetryBackoffMode = "fixed"
	RetryBackoffLinear      RetryBackoffMode = "linear"
	RetryBackoffExponential RetryBackoffMode = "exponential"
)

// NormalizeRetryBackoff converts user input (case-insensitive) into a typed mode, returning empty string for unknown.
func NormalizeRetryBackoff(raw string) RetryBackoffMode {
	switch RetryBackoffMode(clean(raw)) {
	case RetryBackoffFixed:
		return RetryBackoffFixed
	case RetryBackoffLinear:
		return RetryBackoffLinear
	case RetryBackoffExponential:
		return RetryBackoffExponential
	default:
		return ""
	}
}

// SortStrategy selects the topological sorting algorithm.
type SortStrategy string

const (
	SortStrategyKahn SortStrategy = "kahn"
	SortStrategyDFS  SortStrategy = "dfs"
)

// NormalizeSortStrategy canonicalizes user input returning empty string if unknown.
func NormalizeSortStrategy(raw string) SortStrategy {
	switch s := clean(raw); s {
	case string(SortStrategyKahn), "bfs":
		return SortStrategyKahn
	case string(SortStrategyDFS), "depth-first":
		return SortStrategyDFS
	default:
		return ""
	}
}

// DispatchMode selects the worker transport.
type DispatchMode string

const (
	DispatchLocal DispatchMode = "local"
	DispatchNATS  DispatchMode = "nats"
)

func NormalizeDispatchMode(raw string) DispatchMode {
	switch DispatchMode(clean(raw)) {
	case DispatchLocal:
		return DispatchLocal
	case DispatchNATS:
		return DispatchNATS
	default:
		return ""
	}
}

// CacheBackend selects where computed execution orders are cached.
type CacheBackend string

const (
	CacheNone   CacheBackend = "none"
	CacheMemory CacheBackend = "memory"
	CacheNATS   CacheBackend = "nats"
)

func NormalizeCacheBackend(raw string) CacheBackend {
	switch CacheBackend(clean(raw)) {
	case CacheNone:
		return CacheNone
	case CacheMemory:
		return CacheMemory
	case CacheNATS:
		return CacheNATS
	default:
		return ""
	}
}

// LogLevel enumerates supported logging levels.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// NormalizeLogLevel falls back to info for unknown input.
func NormalizeLogLevel(raw string) LogLevel {
	switch s := clean(raw); s {
	case "debug":
		return LogLevelDebug
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// LogFormat enumerates supported log output formats.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

// NormalizeLogFormat falls back to text for unknown input.
func NormalizeLogFormat(raw string) LogFormat {
	if clean(raw) == string(LogFormatJSON) {
		return LogFormatJSON
	}
	return LogFormatText
}

func clean(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
