package cfg

import (
	"errors"
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// ErrUnknownEnvironment is returned when an environment name is not configured
var ErrUnknownEnvironment = errors.New("unknown environment")

// Environment is a named deployment target
type Environment struct {
	Name        string `toml:"name"`
	AWSProfile  string `toml:"aws_profile"`
	Bucket      string `toml:"bucket"`
	Table       string `toml:"table"`        // KV table receiving item records
	ConfigTable string `toml:"config_table"` // KV table receiving config snapshots
	CDNURL      string `toml:"cdn_url"`
	CDNKeyID    string `toml:"cdn_key_id"`
}

// APIConfiguration controls the HTTP listener
type APIConfiguration struct {
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
	Token       string `toml:"token"` // Shared token, empty disables auth
}

// DatabaseConfiguration selects the relational backend
type DatabaseConfiguration struct {
	Driver        string `toml:"driver"` // "sqlite3", "postgres" or "mysql"
	DSN           string `toml:"dsn"`
	BusyTimeoutMS int    `toml:"busy_timeout_ms"` // sqlite only
	MaxOpenConns  int    `toml:"max_open_conns"`
}

// KVConfiguration controls the Pebble-backed versioned store
type KVConfiguration struct {
	Dir             string `toml:"dir"`
	WriteAttempts   int    `toml:"write_attempts"`
	RetryInitialMS  int    `toml:"retry_initial_ms"`
	RetryMaxMS      int    `toml:"retry_max_ms"`
	ConfigCacheSize int    `toml:"config_cache_size"`
}

// QueueConfiguration controls the message worker
type QueueConfiguration struct {
	PollIntervalMS      int `toml:"poll_interval_ms"`
	BatchSize           int `toml:"batch_size"`
	Concurrency         int `toml:"concurrency"`
	VisibilityTimeoutMS int `toml:"visibility_timeout_ms"`
	MaxAttempts         int `toml:"max_attempts"`
}

// TaskConfiguration controls task defaults
type TaskConfiguration struct {
	DefaultDeadlineHours int `toml:"default_deadline_hours"`
}

// CDNConfiguration controls cache flushing
type CDNConfiguration struct {
	Sink            string   `toml:"sink"` // "log", "kafka" or "nats"
	Brokers         []string `toml:"brokers"`
	NatsURL         string   `toml:"nats_url"`
	TopicPrefix     string   `toml:"topic_prefix"`
	BatchSize       int      `toml:"batch_size"`
	ListingFlush    bool     `toml:"listing_flush"`
	FlushExclude    []string `toml:"flush_exclude"` // Glob patterns never flushed
	CacheTTLSeconds int      `toml:"cache_ttl_seconds"`
	RetryInitialMS  int      `toml:"retry_initial_ms"`
	RetryMaxMS      int      `toml:"retry_max_ms"`
	MaxRetries      int      `toml:"max_retries"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// Configuration is the main configuration structure
type Configuration struct {
	WorkerID string `toml:"worker_id"`

	API          APIConfiguration        `toml:"api"`
	Database     DatabaseConfiguration   `toml:"database"`
	KV           KVConfiguration         `toml:"kv"`
	Queue        QueueConfiguration      `toml:"queue"`
	Task         TaskConfiguration       `toml:"task"`
	CDN          CDNConfiguration        `toml:"cdn"`
	Environments []Environment           `toml:"environments"`
	Logging      LoggingConfiguration    `toml:"logging"`
	Prometheus   PrometheusConfiguration `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "edgepub.toml", "Path to configuration file")
	PortFlag       = flag.Int("port", 0, "API port (overrides config)")
	DSNFlag        = flag.String("db-dsn", "", "Database DSN (overrides config)")
	WorkerIDFlag   = flag.String("worker-id", "", "Worker ID (overrides config, empty=auto)")
)

// Default configuration
var Config = &Configuration{
	WorkerID: "", // Auto-generate

	API: APIConfiguration{
		BindAddress: "0.0.0.0",
		Port:        8000,
	},

	Database: DatabaseConfiguration{
		Driver:        "sqlite3",
		DSN:           "./edgepub-data/edgepub.db",
		BusyTimeoutMS: 5000,
		MaxOpenConns:  8,
	},

	KV: KVConfiguration{
		Dir:             "./edgepub-data/kv",
		WriteAttempts:   10,
		RetryInitialMS:  100,
		RetryMaxMS:      5000,
		ConfigCacheSize: 64,
	},

	Queue: QueueConfiguration{
		PollIntervalMS:      500,
		BatchSize:           16,
		Concurrency:         4,
		VisibilityTimeoutMS: 10 * 60 * 1000,
		MaxAttempts:         20,
	},

	Task: TaskConfiguration{
		DefaultDeadlineHours: 2,
	},

	CDN: CDNConfiguration{
		Sink:            "log",
		TopicPrefix:     "edgepub.purge",
		BatchSize:       100,
		ListingFlush:    true,
		CacheTTLSeconds: 120,
		RetryInitialMS:  100,
		RetryMaxMS:      30000,
		MaxRetries:      10,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	if *PortFlag != 0 {
		Config.API.Port = *PortFlag
	}
	if *DSNFlag != "" {
		Config.Database.DSN = *DSNFlag
	}
	if *WorkerIDFlag != "" {
		Config.WorkerID = *WorkerIDFlag
	}

	if Config.WorkerID == "" {
		id, err := generateWorkerID()
		if err != nil {
			return fmt.Errorf("failed to generate worker ID: %w", err)
		}
		Config.WorkerID = id
		log.Info().Str("worker_id", Config.WorkerID).Msg("Auto-generated worker ID")
	}

	if Config.KV.Dir != "" {
		if err := os.MkdirAll(Config.KV.Dir, 0755); err != nil {
			return fmt.Errorf("failed to create kv directory: %w", err)
		}
	}

	return nil
}

// generateWorkerID derives a stable worker ID from the machine ID
func generateWorkerID() (string, error) {
	id, err := machineid.ProtectedID("edgepub")
	if err != nil {
		return "", err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return "w" + strconv.FormatUint(h.Sum64(), 36), nil
}

// Validate checks configuration for errors
func Validate() error {
	if Config.API.Port < 1 || Config.API.Port > 65535 {
		return fmt.Errorf("invalid API port: %d", Config.API.Port)
	}

	switch Config.Database.Driver {
	case "sqlite3", "postgres", "mysql":
	default:
		return fmt.Errorf("invalid database driver: %s", Config.Database.Driver)
	}

	if Config.Database.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}

	if Config.KV.WriteAttempts < 1 {
		return fmt.Errorf("kv write attempts must be >= 1")
	}

	if Config.Queue.PollIntervalMS < 1 {
		return fmt.Errorf("queue poll interval must be >= 1ms")
	}

	if Config.Queue.BatchSize < 1 {
		return fmt.Errorf("queue batch size must be >= 1")
	}

	if Config.Queue.Concurrency < 1 {
		return fmt.Errorf("queue concurrency must be >= 1")
	}

	if Config.Queue.VisibilityTimeoutMS < 1000 {
		return fmt.Errorf("queue visibility timeout must be >= 1000ms")
	}

	if Config.Task.DefaultDeadlineHours < 1 {
		return fmt.Errorf("default task deadline must be >= 1 hour")
	}

	switch Config.CDN.Sink {
	case "log", "kafka", "nats":
	default:
		return fmt.Errorf("invalid cdn sink: %s", Config.CDN.Sink)
	}

	if Config.CDN.CacheTTLSeconds < 0 {
		return fmt.Errorf("cdn cache TTL must be >= 0")
	}

	if len(Config.Environments) == 0 {
		return fmt.Errorf("at least one environment is required")
	}

	seen := make(map[string]bool, len(Config.Environments))
	for _, env := range Config.Environments {
		if env.Name == "" {
			return fmt.Errorf("environment name is required")
		}
		if seen[env.Name] {
			return fmt.Errorf("duplicate environment: %s", env.Name)
		}
		seen[env.Name] = true

		if env.Table == "" || env.ConfigTable == "" {
			return fmt.Errorf("environment %s requires table and config_table", env.Name)
		}
	}

	return nil
}

// GetEnvironment looks up a configured environment by name
func GetEnvironment(name string) (Environment, error) {
	for _, env := range Config.Environments {
		if env.Name == name {
			return env, nil
		}
	}
	return Environment{}, fmt.Errorf("%w: %s", ErrUnknownEnvironment, name)
}

// CacheTTL returns the edge cache TTL window
func CacheTTL() time.Duration {
	return time.Duration(Config.CDN.CacheTTLSeconds) * time.Second
}

// DefaultDeadline returns the deadline applied to tasks created without one
func DefaultDeadline() time.Duration {
	return time.Duration(Config.Task.DefaultDeadlineHours) * time.Hour
}
