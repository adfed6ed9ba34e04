package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/buildgraph/internal/foundation/errors"
)

// Config represents the buildgraph configuration file.
type Config struct {
	// Definitions points at the tasks+builds file (.yaml, .yml or .hcl).
	// Relative paths are resolved against the directory of the config file.
	Definitions      string             `yaml:"definitions"`
	WatchDefinitions bool               `yaml:"watch_definitions,omitempty"`
	Orchestrator     OrchestratorConfig `yaml:"orchestrator"`
	Dispatch         DispatchConfig     `yaml:"dispatch"`
	NATS             NATSConfig         `yaml:"nats"`
	Storage          StorageConfig      `yaml:"storage"`
	Persistence      PersistenceConfig  `yaml:"persistence"`
	Monitoring       MonitoringConfig   `yaml:"monitoring"`
	Schedules        []ScheduleConfig   `yaml:"schedules,omitempty"`
	Maintenance      MaintenanceConfig  `yaml:"maintenance"`
}

// OrchestratorConfig controls ordering and task timeouts.
type OrchestratorConfig struct {
	Strategy    SortStrategy `yaml:"strategy,omitempty"`
	TaskTimeout string       `yaml:"task_timeout,omitempty"` // global default, tasks may override
	Cache       CacheBackend `yaml:"cache,omitempty"`
}

// DispatchConfig selects how tasks reach workers.
type DispatchConfig struct {
	Mode      DispatchMode `yaml:"mode,omitempty"`
	Workers   int          `yaml:"workers,omitempty"`    // local pool size
	QueueSize int          `yaml:"queue_size,omitempty"` // initial local backlog capacity; the backlog grows past it
}

// NATSConfig holds transport and KV cache settings for NATS.
type NATSConfig struct {
	URL        string `yaml:"url,omitempty"`
	Subject    string `yaml:"subject,omitempty"`
	QueueGroup string `yaml:"queue_group,omitempty"`
	KVBucket   string `yaml:"kv_bucket,omitempty"`
	CacheTTL   string `yaml:"cache_ttl,omitempty"`
}

// StorageConfig points at the SQLite database holding status and history.
type StorageConfig struct {
	Path string `yaml:"path,omitempty"`
}

// PersistenceConfig is the bounded backoff applied to status writes.
type PersistenceConfig struct {
	MaxRetries        int              `yaml:"max_retries,omitempty"`
	RetryBackoff      RetryBackoffMode `yaml:"retry_backoff,omitempty"`
	RetryInitialDelay string           `yaml:"retry_initial_delay,omitempty"`
	RetryMaxDelay     string           `yaml:"retry_max_delay,omitempty"`
}

// MonitoringConfig represents monitoring and observability configuration.
type MonitoringConfig struct {
	Metrics MonitoringMetrics `yaml:"metrics"`
	Logging MonitoringLogging `yaml:"logging"`
}

type MonitoringMetrics struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

type MonitoringLogging struct {
	Level  LogLevel  `yaml:"level,omitempty"`
	Format LogFormat `yaml:"format,omitempty"`
}

// ScheduleConfig triggers a build periodically while the daemon runs.
type ScheduleConfig struct {
	Build    string `yaml:"build"`
	Interval string `yaml:"interval"`
}

// MaintenanceConfig controls history pruning.
type MaintenanceConfig struct {
	EventRetention string `yaml:"event_retention,omitempty"`
	PruneInterval  string `yaml:"prune_interval,omitempty"`
}

// Load loads configuration from the specified file. Environment variables from
// .env/.env.local are loaded first and ${VAR} references in the file are expanded.
func Load(configPath string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ferrors.ConfigError(fmt.Sprintf("configuration file not found: %s", configPath)).Build()
		}
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "read config file").Fatal().Build()
	}

	cfg, err := Parse([]byte(os.ExpandEnv(string(data))))
	if err != nil {
		return nil, err
	}
	if cfg.Definitions != "" && !filepath.IsAbs(cfg.Definitions) {
		cfg.Definitions = filepath.Join(filepath.Dir(configPath), cfg.Definitions)
	}
	return cfg, nil
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to unmarshal config").Fatal().Build()
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Init writes an example configuration file.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return ferrors.ConflictError(fmt.Sprintf("configuration file already exists: %s (use --force to overwrite)", configPath)).Build()
	}

	example := Config{
		Definitions:      "definitions.yaml",
		WatchDefinitions: true,
		Schedules:        []ScheduleConfig{{Build: "nightly", Interval: "24h"}},
	}
	applyDefaults(&example)
	example.Monitoring.Metrics.Enabled = true

	data, err := yaml.Marshal(&example)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func loadEnvFiles() {
	for _, envPath := range []string{".env", ".env.local"} {
		if _, err := os.Stat(envPath); err != nil {
			continue
		}
		// godotenv.Load never overrides variables already present in the environment.
		if err := godotenv.Load(envPath); err != nil {
			slog.Warn("Failed to load env file", "path", envPath, "error", err)
			continue
		}
		slog.Debug("Loaded environment variables", "path", envPath)
	}
}
