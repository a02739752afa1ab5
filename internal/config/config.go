package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Config is the server process configuration, read from the environment
type Config struct {
	Host     string `env:"ROUNDSYNC_HOST"`
	Port     int    `env:"ROUNDSYNC_PORT" envDefault:"8080"`
	LogLevel string `env:"ROUNDSYNC_LOG_LEVEL" envDefault:"info"`

	// Storage selects the backend: "memory" or "redis"
	Storage  string `env:"ROUNDSYNC_STORAGE" envDefault:"memory"`
	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379"`
	// InstanceID names this process's change stream consumer group. When
	// unset a random ID is used and the group is removed on shutdown.
	InstanceID string `env:"ROUNDSYNC_INSTANCE_ID"`

	SessionTTL time.Duration `env:"ROUNDSYNC_SESSION_TTL" envDefault:"12h"`

	BroadcastEmptyRetryDelay time.Duration `env:"ROUNDSYNC_BROADCAST_EMPTY_RETRY" envDefault:"150ms"`
	BroadcastParallelSends   int           `env:"ROUNDSYNC_BROADCAST_PARALLEL_SENDS" envDefault:"32"`

	PingInterval time.Duration `env:"ROUNDSYNC_WS_PING_INTERVAL" envDefault:"30s"`
	SendBuffer   int           `env:"ROUNDSYNC_WS_SEND_BUFFER" envDefault:"64"`
}

// Load reads an optional .env file, then parses the environment. Variables
// already set in the environment take precedence over the file.
func Load(dotenvFiles ...string) (Config, error) {
	if err := godotenv.Load(dotenvFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Storage {
	case "memory", "redis":
	default:
		return fmt.Errorf("ROUNDSYNC_STORAGE must be memory or redis, got %q", c.Storage)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("ROUNDSYNC_PORT out of range: %d", c.Port)
	}
	return nil
}

// Level returns the slog level named by LogLevel, defaulting to info
func (c Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Instance returns the consumer identity of this process and whether it
// was generated for this run only
func (c Config) Instance() (id string, ephemeral bool) {
	if c.InstanceID != "" {
		return c.InstanceID, false
	}
	return "server-" + uuid.NewString(), true
}
