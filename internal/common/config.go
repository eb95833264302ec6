package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Environment   string              `toml:"environment" yaml:"environment"`
	Service       ServiceConfig       `toml:"service" yaml:"service"`
	Elasticsearch ElasticsearchConfig `toml:"elasticsearch" yaml:"elasticsearch"`
	Bulk          BulkConfig          `toml:"bulk" yaml:"bulk"`
	Logging       LoggingConfig       `toml:"logging" yaml:"logging"`
}

// ServiceConfig controls the orchestrator poll loop
type ServiceConfig struct {
	IdleSeconds        int      `toml:"idling" yaml:"idling" validate:"gte=1"`                             // Seconds between poll ticks
	HeartbeatSeconds   int      `toml:"heartbeat" yaml:"heartbeat" validate:"gte=1"`                       // Connector heartbeat interval
	StuckJobsThreshold int      `toml:"stuck_jobs_threshold" yaml:"stuck_jobs_threshold" validate:"gte=1"` // Seconds of heartbeat silence before a job counts as stuck
	MaxErrors          int      `toml:"max_errors" yaml:"max_errors" validate:"gte=1"`                     // Consecutive sync failures before the connector is left in error
	ServiceTypes       []string `toml:"service_types" yaml:"service_types"`                                // Service types this replica handles (empty = all registered)
}

// ElasticsearchConfig holds search cluster connection settings
type ElasticsearchConfig struct {
	Host            string `toml:"host" yaml:"host" validate:"required,url"`
	Username        string `toml:"username" yaml:"username"`
	Password        string `toml:"password" yaml:"password"`
	TimeoutSeconds  int    `toml:"timeout" yaml:"timeout" validate:"gte=1"`
	RetryOnConflict int    `toml:"retry_on_conflict" yaml:"retry_on_conflict" validate:"gte=0"`
	PageSize        int    `toml:"page_size" yaml:"page_size" validate:"gte=1"` // from/size page used by index iterators
}

// Timeout returns the request timeout as a duration
func (c ElasticsearchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// BulkConfig holds defaults for the bulk ingestion coordinator.
// Sources may lower concurrent_downloads via their bulk-option tweaks.
type BulkConfig struct {
	ChunkSize           int     `toml:"chunk_size" yaml:"chunk_size" validate:"gte=1"`
	ConcurrentDownloads int     `toml:"concurrent_downloads" yaml:"concurrent_downloads" validate:"gte=1"`
	Pipeline            string  `toml:"pipeline" yaml:"pipeline" validate:"required"`
	MaxRequestsPerSec   float64 `toml:"max_requests_per_sec" yaml:"max_requests_per_sec" validate:"gte=0"` // 0 disables throttling
}

type LoggingConfig struct {
	Level  string   `toml:"level" yaml:"level"`   // "debug", "info", "warn", "error"
	Output []string `toml:"output" yaml:"output"` // "stdout", "file"
}

// DefaultConfig returns the configuration defaults applied before any file
// or environment override.
func DefaultConfig() *Config {
	return &Config{
		Environment: "production",
		Service: ServiceConfig{
			IdleSeconds:        3,
			HeartbeatSeconds:   300,
			StuckJobsThreshold: 60,
			MaxErrors:          20,
		},
		Elasticsearch: ElasticsearchConfig{
			Host:            "http://localhost:9200",
			TimeoutSeconds:  30,
			RetryOnConflict: 3,
			PageSize:        100,
		},
		Bulk: BulkConfig{
			ChunkSize:           500,
			ConcurrentDownloads: 10,
			Pipeline:            "ent-search-generic-ingestion",
			MaxRequestsPerSec:   0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
	}
}

// LoadConfig loads configuration in priority order:
// defaults -> config file -> environment variables.
// TOML and YAML files are both accepted, selected by extension.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yml", ".yaml":
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse YAML config %s: %w", path, err)
			}
		default:
			if err := toml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse TOML config %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if host := os.Getenv("ELASTICSEARCH_HOST"); host != "" {
		config.Elasticsearch.Host = host
	}
	if user := os.Getenv("ELASTICSEARCH_USERNAME"); user != "" {
		config.Elasticsearch.Username = user
	}
	if password := os.Getenv("ELASTICSEARCH_PASSWORD"); password != "" {
		config.Elasticsearch.Password = password
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

// Validate checks the configuration using struct tags
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
