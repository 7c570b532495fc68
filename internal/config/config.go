package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for ldawatch.
type Config struct {
	Service  ServiceConfig
	Poll     PollConfig
	Server   ServerConfig
	Log      LogConfig
	Database DatabaseConfig
	Redis    RedisConfig
}

// ServiceConfig describes the training service and the job being driven.
type ServiceConfig struct {
	BaseURL string
	JobID   string
	Timeout time.Duration
}

type PollConfig struct {
	Interval       time.Duration
	StopOnTerminal bool
}

type ServerConfig struct {
	Port int
	Env  string
}

type LogConfig struct {
	Level slog.Level
}

// DatabaseConfig is optional; an empty URL disables run history.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig is optional; an empty URL disables snapshots and the launch lock.
type RedisConfig struct {
	URL         string
	SnapshotTTL time.Duration
}

// DefaultPollInterval is the cadence of progress queries.
const DefaultPollInterval = 2000 * time.Millisecond

// Option overrides a value read from the environment.
type Option func(*Config)

// WithBaseURL overrides LDAWATCH_BASE_URL. An empty value keeps the environment's.
func WithBaseURL(u string) Option {
	return func(c *Config) {
		if u != "" {
			c.Service.BaseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithJobID overrides LDAWATCH_JOB_ID. An empty value keeps the environment's.
func WithJobID(id string) Option {
	return func(c *Config) {
		if id != "" {
			c.Service.JobID = id
		}
	}
}

// Load reads configuration from environment variables, applies opts, and
// returns a validated Config. Returns an error with a descriptive message if
// any required value is missing or invalid.
func Load(opts ...Option) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			BaseURL: strings.TrimRight(os.Getenv("LDAWATCH_BASE_URL"), "/"),
			JobID:   os.Getenv("LDAWATCH_JOB_ID"),
			Timeout: envDuration("LDAWATCH_HTTP_TIMEOUT", 10*time.Second),
		},
		Poll: PollConfig{
			Interval:       envDuration("LDAWATCH_POLL_INTERVAL", DefaultPollInterval),
			StopOnTerminal: envBool("LDAWATCH_STOP_ON_TERMINAL", true),
		},
		Server: ServerConfig{
			Port: envInt("LDAWATCH_PORT", 8081),
			Env:  envString("LDAWATCH_ENV", "development"),
		},
		Log: LogConfig{
			Level: envLevel("LDAWATCH_LOG_LEVEL", slog.LevelInfo),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:         os.Getenv("REDIS_URL"),
			SnapshotTTL: envDuration("PROGRESS_SNAPSHOT_TTL", time.Hour),
		},
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required values.
func (c *Config) Validate() error {
	if c.Service.BaseURL == "" {
		return fmt.Errorf("LDAWATCH_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Service.BaseURL, "http://") && !strings.HasPrefix(c.Service.BaseURL, "https://") {
		return fmt.Errorf("LDAWATCH_BASE_URL must start with http:// or https://, got %q", c.Service.BaseURL)
	}

	if strings.TrimSpace(c.Service.JobID) == "" {
		return fmt.Errorf("LDAWATCH_JOB_ID is required")
	}

	if c.Poll.Interval <= 0 {
		return fmt.Errorf("LDAWATCH_POLL_INTERVAL must be positive, got %s", c.Poll.Interval)
	}
	if c.Service.Timeout <= 0 {
		return fmt.Errorf("LDAWATCH_HTTP_TIMEOUT must be positive, got %s", c.Service.Timeout)
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("LDAWATCH_PORT must be between 0 and 65535, got %d", c.Server.Port)
	}

	if c.Redis.URL != "" && !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envLevel(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		return defaultVal
	}
	return lvl
}
