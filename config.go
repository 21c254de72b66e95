package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apihttp "envsurveillance/internal/api/http"
	devices "envsurveillance/internal/devices/domain"
)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
	driverMemory   = "memory"
)

type config struct {
	HTTPAddr        string        `yaml:"http_addr"`
	DBDriver        string        `yaml:"db_driver"`
	DatabaseURL     string        `yaml:"database_url"`
	SQLitePath      string        `yaml:"sqlite_path"`
	MigrateOnStart  bool          `yaml:"migrate_on_start"`
	RedisAddr       string        `yaml:"redis_addr"`
	RedisPassword   string        `yaml:"redis_password"`
	RedisDB         int           `yaml:"redis_db"`
	LatestCacheTTL  time.Duration `yaml:"latest_cache_ttl"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	StreamEnabled   bool          `yaml:"stream_enabled"`
	StreamOrigins   []string      `yaml:"stream_origins"`
	EUIMaxAttempts  int           `yaml:"eui_max_attempts"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

func defaultConfig() config {
	return config{
		HTTPAddr:        ":8080",
		DBDriver:        driverSQLite,
		SQLitePath:      "envsurveillance.db",
		MigrateOnStart:  true,
		LatestCacheTTL:  10 * time.Minute,
		LogLevel:        "info",
		LogFormat:       "json",
		MaxBodyBytes:    apihttp.DefaultMaxBodyBytes,
		StreamEnabled:   true,
		EUIMaxAttempts:  devices.DefaultEUIAttempts,
		ShutdownTimeout: 10 * time.Second,
	}
}

// loadConfig applies defaults, then the YAML file named by CONFIG_FILE, then
// environment variables.
func loadConfig() (config, error) {
	cfg := defaultConfig()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.DBDriver = strings.ToLower(strings.TrimSpace(getenvDefault("DB_DRIVER", cfg.DBDriver)))
	cfg.DatabaseURL = getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", cfg.DatabaseURL))
	cfg.SQLitePath = getenvDefault("SQLITE_PATH", cfg.SQLitePath)
	cfg.MigrateOnStart = getenvBoolDefault("MIGRATE_ON_START", cfg.MigrateOnStart)
	cfg.RedisAddr = getenvDefault("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getenvDefault("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = getenvIntDefault("REDIS_DB", cfg.RedisDB)
	cfg.LatestCacheTTL = getenvDuration("LATEST_CACHE_TTL", cfg.LatestCacheTTL)
	cfg.LogLevel = getenvDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getenvDefault("LOG_FORMAT", cfg.LogFormat)
	cfg.MaxBodyBytes = int64(getenvIntDefault("MAX_BODY_BYTES", int(cfg.MaxBodyBytes)))
	cfg.StreamEnabled = getenvBoolDefault("STREAM_ENABLED", cfg.StreamEnabled)
	if origins := os.Getenv("STREAM_ORIGINS"); origins != "" {
		cfg.StreamOrigins = splitCSV(origins)
	}
	cfg.EUIMaxAttempts = getenvIntDefault("EUI_MAX_ATTEMPTS", cfg.EUIMaxAttempts)
	cfg.ShutdownTimeout = getenvDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)

	return cfg, cfg.validate()
}

func (c config) validate() error {
	switch c.DBDriver {
	case driverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL or PG_DSN is required for the postgres driver")
		}
	case driverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return errors.New("SQLITE_PATH is required for the sqlite driver")
		}
	case driverMemory:
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver)
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("MAX_BODY_BYTES must be positive")
	}
	if c.EUIMaxAttempts <= 0 {
		return errors.New("EUI_MAX_ATTEMPTS must be positive")
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBoolDefault(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
