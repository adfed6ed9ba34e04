package config

const (
	defaultTaskTimeout    = "30m"
	defaultWorkers        = 4
	defaultQueueSize      = 100
	defaultNATSURL        = "nats://127.0.0.1:4222"
	defaultNATSSubject    = "buildgraph.tasks"
	defaultQueueGroup     = "buildgraph-workers"
	defaultKVBucket       = "buildgraph-orders"
	defaultCacheTTL       = "1h"
	defaultStoragePath    = "buildgraph.db"
	defaultMaxRetries     = 3
	defaultInitialDelay   = "100ms"
	defaultMaxDelay       = "2s"
	defaultMetricsListen  = ":9464"
	defaultMetricsPath    = "/metrics"
	defaultEventRetention = "168h"
	defaultPruneInterval  = "1h"
)

// applyDefaults fills zero values and canonicalizes enum fields. Unknown enum
// values are kept verbatim so Validate can report them.
func applyDefaults(cfg *Config) {
	o := &cfg.Orchestrator
	o.Strategy = orDefault(NormalizeSortStrategy(string(o.Strategy)), o.Strategy, SortStrategyKahn)
	o.Cache = orDefault(NormalizeCacheBackend(string(o.Cache)), o.Cache, CacheMemory)
	if o.TaskTimeout == "" {
		o.TaskTimeout = defaultTaskTimeout
	}

	d := &cfg.Dispatch
	d.Mode = orDefault(NormalizeDispatchMode(string(d.Mode)), d.Mode, DispatchLocal)
	if d.Workers <= 0 {
		d.Workers = defaultWorkers
	}
	if d.QueueSize <= 0 {
		d.QueueSize = defaultQueueSize
	}

	n := &cfg.NATS
	setIfEmpty(&n.URL, defaultNATSURL)
	setIfEmpty(&n.Subject, defaultNATSSubject)
	setIfEmpty(&n.QueueGroup, defaultQueueGroup)
	setIfEmpty(&n.KVBucket, defaultKVBucket)
	setIfEmpty(&n.CacheTTL, defaultCacheTTL)

	setIfEmpty(&cfg.Storage.Path, defaultStoragePath)

	p := &cfg.Persistence
	if p.MaxRetries == 0 {
		p.MaxRetries = defaultMaxRetries
	}
	p.RetryBackoff = orDefault(NormalizeRetryBackoff(string(p.RetryBackoff)), p.RetryBackoff, RetryBackoffExponential)
	setIfEmpty(&p.RetryInitialDelay, defaultInitialDelay)
	setIfEmpty(&p.RetryMaxDelay, defaultMaxDelay)

	m := &cfg.Monitoring
	setIfEmpty(&m.Metrics.Listen, defaultMetricsListen)
	setIfEmpty(&m.Metrics.Path, defaultMetricsPath)
	m.Logging.Level = NormalizeLogLevel(string(m.Logging.Level))
	m.Logging.Format = NormalizeLogFormat(string(m.Logging.Format))

	setIfEmpty(&cfg.Maintenance.EventRetention, defaultEventRetention)
	setIfEmpty(&cfg.Maintenance.PruneInterval, defaultPruneInterval)
}

// orDefault returns normalized when recognized, def when raw is empty and raw otherwise.
func orDefault[T ~string](normalized, raw, def T) T {
	if normalized != "" {
		return normalized
	}
	if raw == "" {
		return def
	}
	return raw
}

func setIfEmpty(field *string, value string) {
	if *field == "" {
		*field = value
	}
}
