package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Config holds every environment-derived setting the scheduler daemon
// needs.
type Config struct {
	Env string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`

	PollIntervalMs     int `env:"POLL_INTERVAL_MS" envDefault:"600000" validate:"min=1"`
	MaxConcurrentTasks int `env:"MAX_CONCURRENT_TASKS" envDefault:"10" validate:"min=1"`

	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"file" validate:"required,oneof=file postgres"`
	StateFilePath  string `env:"STATE_FILE_PATH" envDefault:"./data/scheduler-state.json"`
	DatabaseURL    string `env:"DATABASE_URL" validate:"required_if=StorageBackend postgres"`

	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"required,oneof=debug info warn error"`
}

// Load reads Config from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SlogLevel converts LogLevel to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
