package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultJWTSecret is only fit for local development.
const DefaultJWTSecret = "habithero-dev-secret-change-me"

// Config holds all application configuration.
// Precedence: environment variables, then the optional TOML file, then defaults.
type Config struct {
	// Server
	Port     int    `toml:"port"`
	LogLevel string `toml:"log_level"`

	// Storage
	DBPath   string `toml:"db_path"`
	Timezone string `toml:"timezone"`

	// Parent session / admin
	JWTSecret        string        `toml:"jwt_secret"`
	ParentSessionTTL time.Duration `toml:"parent_session_ttl"`
	AdminSecret      string        `toml:"admin_secret"`
	AdminSecretHash  string        `toml:"admin_secret_hash"`

	// HTTP client (remote CLI mode)
	HTTPTimeout time.Duration `toml:"http_timeout"`

	// Resilience
	MaxRetries     int           `toml:"max_retries"`
	InitialBackoff time.Duration `toml:"initial_backoff"`
	MaxConcurrency int           `toml:"max_concurrency"`

	// Cache
	CacheTTL time.Duration `toml:"cache_ttl"`

	// Settings writer
	SettingsWriteTimeout time.Duration `toml:"settings_write_timeout"`

	// Observability
	OTLPEndpoint string `toml:"otlp_endpoint"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Port:     8080,
		LogLevel: "info",

		DBPath:   "data/habit-hero.db",
		Timezone: "Local",

		JWTSecret:        DefaultJWTSecret,
		ParentSessionTTL: 30 * time.Minute,

		HTTPTimeout: 10 * time.Second,

		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxConcurrency: 8,

		CacheTTL: 5 * time.Minute,

		SettingsWriteTimeout: 5 * time.Second,
	}
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := Defaults()
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile layers the TOML file at path (if non-empty) over the defaults, then the
// environment over both.
func LoadFile(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	durations := []struct {
		key string
		d   time.Duration
	}{
		{"PARENT_SESSION_TTL", c.ParentSessionTTL},
		{"HTTP_TIMEOUT", c.HTTPTimeout},
		{"CACHE_TTL", c.CacheTTL},
		{"SETTINGS_WRITE_TIMEOUT", c.SettingsWriteTimeout},
	}
	for _, v := range durations {
		if v.d <= 0 {
			return fmt.Errorf("invalid %s %v: must be positive", v.key, v.d)
		}
	}
	if c.InitialBackoff < 0 {
		return fmt.Errorf("invalid INITIAL_BACKOFF %v: must not be negative", c.InitialBackoff)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("invalid MAX_RETRIES %d: must not be negative", c.MaxRetries)
	}
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("invalid MAX_CONCURRENCY %d: must be positive", c.MaxConcurrency)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	return nil
}

// Location resolves Timezone. The calendar day used by completed-today is computed
// in this location.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func applyEnv(cfg *Config) {
	cfg.Port = getEnvInt("PORT", cfg.Port)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	cfg.DBPath = getEnv("DB_PATH", cfg.DBPath)
	cfg.Timezone = getEnv("TIMEZONE", cfg.Timezone)

	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.ParentSessionTTL = getEnvDuration("PARENT_SESSION_TTL", cfg.ParentSessionTTL)
	cfg.AdminSecret = getEnv("ADMIN_SECRET", cfg.AdminSecret)
	cfg.AdminSecretHash = getEnv("ADMIN_SECRET_HASH", cfg.AdminSecretHash)

	cfg.HTTPTimeout = getEnvDuration("HTTP_TIMEOUT", cfg.HTTPTimeout)

	cfg.MaxRetries = getEnvInt("MAX_RETRIES", cfg.MaxRetries)
	cfg.InitialBackoff = getEnvDuration("INITIAL_BACKOFF", cfg.InitialBackoff)
	cfg.MaxConcurrency = getEnvInt("MAX_CONCURRENCY", cfg.MaxConcurrency)

	cfg.CacheTTL = getEnvDuration("CACHE_TTL", cfg.CacheTTL)
	cfg.SettingsWriteTimeout = getEnvDuration("SETTINGS_WRITE_TIMEOUT", cfg.SettingsWriteTimeout)

	cfg.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
