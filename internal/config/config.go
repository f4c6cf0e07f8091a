package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingDatabaseDSN  = errors.New("DB_DSN is required")
	ErrMissingSettingsFile = errors.New("SETTINGS_FILE is required")
)

type Config struct {
	HTTP     HTTPConfig
	DB       DBConfig
	Settings SettingsConfig
	Legacy   LegacyConfig
	Log      LogConfig
}

type HTTPConfig struct {
	ListenAddr      string
	HealthPath      string
	MetricsPath     string
	ClientTimeout   time.Duration
	ShutdownTimeout time.Duration
	CORSOrigin      string
}

type DBConfig struct {
	Driver        string
	DSN           string
	AutoMigrate   bool
	MigrationsDir string
}

type SettingsConfig struct {
	Path string
}

type LegacyConfig struct {
	LogPath string
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		HTTP: HTTPConfig{
			ListenAddr:      mustEnv("LISTEN_ADDR", ":8080"),
			HealthPath:      mustEnv("HEALTH_PATH", "/healthz"),
			MetricsPath:     mustEnv("METRICS_PATH", "/metrics"),
			ClientTimeout:   mustDuration("HTTP_TIMEOUT", 60*time.Second),
			ShutdownTimeout: mustDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
			CORSOrigin:      mustEnv("CORS_ALLOW_ORIGIN", "*"),
		},
		DB: DBConfig{
			Driver:        strings.ToLower(mustEnv("DB_DRIVER", "sqlite")),
			DSN:           mustEnv("DB_DSN", "data/logs.db"),
			AutoMigrate:   mustBool("AUTO_MIGRATE", true),
			MigrationsDir: mustEnv("MIGRATIONS_DIR", "migrations"),
		},
		Settings: SettingsConfig{
			Path: mustEnv("SETTINGS_FILE", "data/settings.json"),
		},
		Legacy: LegacyConfig{
			LogPath: mustEnv("LEGACY_LOG_FILE", "logs/llm.jsonl"),
		},
		Log: LogConfig{
			Level: strings.ToLower(mustEnv("LOG_LEVEL", "info")),
		},
	}

	if cfg.DB.DSN == "" {
		return nil, ErrMissingDatabaseDSN
	}
	if cfg.Settings.Path == "" {
		return nil, ErrMissingSettingsFile
	}
	switch cfg.DB.Driver {
	case "sqlite", "sqlite3", "postgres", "pgx":
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DB.Driver)
	}

	return cfg, nil
}

func mustEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func mustBool(key string, def bool) bool {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func mustDuration(key string, def time.Duration) time.Duration {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
