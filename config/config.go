package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"questkit/adapters/redis"
	"questkit/adapters/sqlx"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config holds the complete application configuration
type Config struct {
	// Environment and profile settings
	Environment Environment `json:"environment" env:"QUESTKIT_ENV"`
	Profile     string      `json:"profile" env:"QUESTKIT_PROFILE"`

	Server   ServerConfig   `json:"server"`
	Storage  StorageConfig  `json:"storage"`
	Logging  LoggingConfig  `json:"logging"`
	Quests   QuestsConfig   `json:"quests"`
	Events   EventsConfig   `json:"events"`
	Webhooks WebhookConfig  `json:"webhooks"`
	Security SecurityConfig `json:"security"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Address           string        `json:"address" env:"QUESTKIT_SERVER_ADDR"`
	PathPrefix        string        `json:"path_prefix" env:"QUESTKIT_SERVER_PATH_PREFIX"`
	CORSOrigin        string        `json:"cors_origin" env:"QUESTKIT_SERVER_CORS_ORIGIN"`
	ReadTimeout       time.Duration `json:"read_timeout" env:"QUESTKIT_SERVER_READ_TIMEOUT"`
	WriteTimeout      time.Duration `json:"write_timeout" env:"QUESTKIT_SERVER_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `json:"idle_timeout" env:"QUESTKIT_SERVER_IDLE_TIMEOUT"`
	ReadHeaderTimeout time.Duration `json:"read_header_timeout" env:"QUESTKIT_SERVER_READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" env:"QUESTKIT_SERVER_SHUTDOWN_TIMEOUT"`
}

// StorageConfig holds storage adapter configuration
type StorageConfig struct {
	Adapter string       `json:"adapter" env:"QUESTKIT_STORAGE_ADAPTER"`
	Redis   redis.Config `json:"redis,omitempty"`
	SQL     sqlx.Config  `json:"sql,omitempty"`
	File    FileConfig   `json:"file,omitempty"`
}

// FileConfig holds JSON file storage configuration
type FileConfig struct {
	Path string `json:"path" env:"QUESTKIT_STORAGE_FILE_PATH"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string            `json:"level" env:"QUESTKIT_LOG_LEVEL"`
	Format     string            `json:"format" env:"QUESTKIT_LOG_FORMAT"`
	Output     string            `json:"output" env:"QUESTKIT_LOG_OUTPUT"`
	Attributes map[string]string `json:"attributes,omitempty" env:"QUESTKIT_LOG_ATTRIBUTES"`
}

// QuestsConfig holds quest evaluation settings
type QuestsConfig struct {
	DefaultTimezone string `json:"default_timezone" env:"QUESTKIT_QUESTS_DEFAULT_TIMEZONE"`
	CatalogPath     string `json:"catalog_path" env:"QUESTKIT_QUESTS_CATALOG_PATH"`
	MaxParallel     int    `json:"max_parallel" env:"QUESTKIT_QUESTS_MAX_PARALLEL"`
}

// EventsConfig controls event dispatch and fan-out
type EventsConfig struct {
	Dispatch string `json:"dispatch" env:"QUESTKIT_EVENTS_DISPATCH"`
	Realtime bool   `json:"realtime" env:"QUESTKIT_EVENTS_REALTIME"`
}

// WebhookConfig lists endpoints receiving quest events
type WebhookConfig struct {
	Endpoints  []string `json:"endpoints,omitempty" env:"QUESTKIT_WEBHOOK_ENDPOINTS"`
	EventTypes []string `json:"event_types,omitempty" env:"QUESTKIT_WEBHOOK_EVENT_TYPES"`
	Secret     string   `json:"secret,omitempty"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	EnableRateLimit bool            `json:"enable_rate_limit" env:"QUESTKIT_SECURITY_RATE_LIMIT_ENABLED"`
	RateLimit       RateLimitConfig `json:"rate_limit,omitempty"`
	APIKeys         []string        `json:"api_keys,omitempty" env:"QUESTKIT_SECURITY_API_KEYS"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int           `json:"requests_per_minute" env:"QUESTKIT_SECURITY_RATE_LIMIT_RPM"`
	BurstSize         int           `json:"burst_size" env:"QUESTKIT_SECURITY_RATE_LIMIT_BURST"`
	CleanupInterval   time.Duration `json:"cleanup_interval" env:"QUESTKIT_SECURITY_RATE_LIMIT_CLEANUP"`
}

// Validate validates security settings.
func (s SecurityConfig) Validate() error {
	var errs []string
	if s.EnableRateLimit {
		if s.RateLimit.RequestsPerMinute <= 0 {
			errs = append(errs, "rate_limit.requests_per_minute must be > 0 when rate limiting is enabled")
		}
		if s.RateLimit.BurstSize <= 0 {
			errs = append(errs, "rate_limit.burst_size must be > 0 when rate limiting is enabled")
		}
	}
	for i, key := range s.APIKeys {
		if strings.TrimSpace(key) == "" {
			errs = append(errs, fmt.Sprintf("api_keys[%d] is empty", i))
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Load loads configuration from environment variables and validates it.
// QUESTKIT_PROFILE, when set, selects the base profile instead of the defaults.
func Load() (*Config, error) {
	cfg, err := baseConfig()
	if err != nil {
		return nil, err
	}
	return finalize(cfg)
}

// LoadFromFile overlays a JSON file on the profile defaults, then the
// environment.
func LoadFromFile(path string) (*Config, error) {
	data, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}

	cfg, err := baseConfig()
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return finalize(cfg)
}

func baseConfig() (*Config, error) {
	if name := strings.TrimSpace(os.Getenv("QUESTKIT_PROFILE")); name != "" && name != "default" {
		return LoadProfile(name)
	}
	return DefaultConfig(), nil
}

// finalize applies environment overrides and validates.
func finalize(cfg *Config) (*Config, error) {
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("invalid config file path: empty")
	}
	clean := filepath.Clean(path)
	if !strings.EqualFold(filepath.Ext(clean), ".json") {
		return nil, fmt.Errorf("invalid config file path: %s is not a .json file", path)
	}
	data, err := os.ReadFile(clean) // #nosec G304 -- operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return data, nil
}

// DefaultConfig returns a configuration with sensible defaults for development
func DefaultConfig() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Profile:     "default",
		Server: ServerConfig{
			Address:           ":8080",
			PathPrefix:        "/api",
			CORSOrigin:        "*",
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Storage: StorageConfig{
			Adapter: "memory",
			Redis:   redis.DefaultConfig(),
			SQL:     sqlx.DefaultConfig(sqlx.DriverPostgres),
			File: FileConfig{
				Path: "./data/questkit.json",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Quests: QuestsConfig{
			DefaultTimezone: "UTC",
			MaxParallel:     4,
		},
		Events: EventsConfig{
			Dispatch: "async",
			Realtime: true,
		},
		Security: SecurityConfig{
			EnableRateLimit: false,
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 60,
				BurstSize:         10,
				CleanupInterval:   5 * time.Minute,
			},
			APIKeys: []string{},
		},
	}
}

// Validate validates the configuration and returns detailed error messages
func (c *Config) Validate() error {
	var errs []string

	if c.Environment == "" {
		errs = append(errs, "environment cannot be empty")
	}

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Storage.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("storage config: %v", err))
	}

	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("logging config: %v", err))
	}

	if err := c.Quests.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("quests config: %v", err))
	}

	if err := c.Events.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("events config: %v", err))
	}

	if err := c.Webhooks.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("webhooks config: %v", err))
	}

	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// Location resolves the default quest timezone.
func (q QuestsConfig) Location() (*time.Location, error) {
	if q.DefaultTimezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(q.DefaultTimezone)
}

// String returns a JSON representation of the config (with secrets redacted)
func (c *Config) String() string {
	cfg := *c

	if cfg.Storage.SQL.DSN != "" {
		cfg.Storage.SQL.DSN = "[REDACTED]"
	}
	if cfg.Storage.Redis.Password != "" {
		cfg.Storage.Redis.Password = "[REDACTED]"
	}
	if cfg.Webhooks.Secret != "" {
		cfg.Webhooks.Secret = "[REDACTED]"
	}
	if len(cfg.Security.APIKeys) > 0 {
		cfg.Security.APIKeys = []string{fmt.Sprintf("[REDACTED x%d]", len(c.Security.APIKeys))}
	}

	data, _ := json.MarshalIndent(cfg, "", "  ")
	return string(data)
}
