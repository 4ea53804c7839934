// Package config loads the server bootstrap configuration.
//
// Bootstrap configuration is distinct from the runtime configuration store
// served by the core: this package decides how the process starts (listen
// address, backing stores, log level), while the runtime store holds settings
// analysis modules read and write while the system is running.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names accepted for backend selection.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Config holds all server configuration.
type Config struct {
	// Server configuration
	ListenAddress string `yaml:"listen_address"`
	Environment   string `yaml:"environment"`

	// Backing stores
	Backend      string `yaml:"backend"`
	DatabaseURL  string `yaml:"database_url"`
	RedisAddress string `yaml:"redis_address"`
	StorageRoot  string `yaml:"storage_root"`

	// Core behavior
	RootUpdateRetries int           `yaml:"root_update_retries"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	MaxPollTimeout    time.Duration `yaml:"max_poll_timeout"`

	// HTTP timeouts
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Authentication
	BootstrapAPIKey string `yaml:"bootstrap_api_key"`

	// Requests allowed per credential per minute, zero disables limiting.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`

	// Logging and features
	LogLevel       string   `yaml:"log_level"`
	EnableMetrics  bool     `yaml:"enable_metrics"`
	EnableCORS     bool     `yaml:"enable_cors"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Load builds the configuration from defaults, an optional YAML file named by
// ACE_CONFIG, and finally environment variables. Later sources win.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("ACE_CONFIG"))
}

// LoadFile is Load with an explicit YAML path. An empty path skips the file
// layer entirely.
func LoadFile(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		ListenAddress:     ":8080",
		Environment:       "development",
		Backend:           BackendMemory,
		StorageRoot:       "./storage",
		RootUpdateRetries: 3,
		SweepInterval:     30 * time.Second,
		MaxPollTimeout:    30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		ShutdownTimeout:   15 * time.Second,
		LogLevel:          "info",
		EnableMetrics:     true,
		EnableCORS:        true,
	}
}

// applyEnv overrides fields whose environment variable is set. ACE_DB_URL and
// ACE_STORAGE_ROOT are shared with the runtime configuration overrides so a
// deployment only defines them once.
func (c *Config) applyEnv() {
	c.ListenAddress = getEnv("ACE_LISTEN_ADDRESS", c.ListenAddress)
	c.Environment = getEnv("ACE_ENVIRONMENT", c.Environment)
	c.Backend = getEnv("ACE_BACKEND", c.Backend)
	c.DatabaseURL = getEnv("ACE_DB_URL", c.DatabaseURL)
	c.RedisAddress = getEnv("ACE_REDIS_ADDRESS", c.RedisAddress)
	c.StorageRoot = getEnv("ACE_STORAGE_ROOT", c.StorageRoot)
	c.RootUpdateRetries = getEnvInt("ACE_ROOT_UPDATE_RETRIES", c.RootUpdateRetries)
	c.SweepInterval = getEnvDuration("ACE_SWEEP_INTERVAL", c.SweepInterval)
	c.MaxPollTimeout = getEnvDuration("ACE_MAX_POLL_TIMEOUT", c.MaxPollTimeout)
	c.ReadTimeout = getEnvDuration("ACE_READ_TIMEOUT", c.ReadTimeout)
	c.WriteTimeout = getEnvDuration("ACE_WRITE_TIMEOUT", c.WriteTimeout)
	c.ShutdownTimeout = getEnvDuration("ACE_SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	c.BootstrapAPIKey = getEnv("ACE_BOOTSTRAP_API_KEY", c.BootstrapAPIKey)
	c.RateLimitPerMinute = getEnvInt("ACE_RATE_LIMIT_PER_MINUTE", c.RateLimitPerMinute)
	c.LogLevel = getEnv("ACE_LOG_LEVEL", c.LogLevel)
	c.EnableMetrics = getEnvBool("ACE_ENABLE_METRICS", c.EnableMetrics)
	c.EnableCORS = getEnvBool("ACE_ENABLE_CORS", c.EnableCORS)
	if origins := os.Getenv("ACE_ALLOWED_ORIGINS"); origins != "" {
		c.AllowedOrigins = strings.Split(origins, ",")
	}
}

// Validate checks if all required configuration is present.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendPostgres:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Backend == BackendPostgres && c.DatabaseURL == "" {
		return fmt.Errorf("ACE_DB_URL is required with the postgres backend")
	}
	if c.ListenAddress == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.StorageRoot == "" {
		return fmt.Errorf("storage root must not be empty")
	}
	if c.RootUpdateRetries < 1 {
		return fmt.Errorf("root update retries must be at least 1")
	}
	if c.WriteTimeout > 0 && c.MaxPollTimeout >= c.WriteTimeout {
		return fmt.Errorf("max poll timeout %s must be shorter than the write timeout %s", c.MaxPollTimeout, c.WriteTimeout)
	}
	if c.RateLimitPerMinute < 0 {
		return fmt.Errorf("rate limit per minute must not be negative")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	if c.Environment == "production" && c.Backend == BackendMemory {
		return fmt.Errorf("the memory backend is not supported in production")
	}
	return nil
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable with a default value.
// Values use time.ParseDuration syntax, bare integers are taken as seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
