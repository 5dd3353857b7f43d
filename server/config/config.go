// Package config loads relay settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config holds every setting the relay reads at startup.
type Config struct {
	Addr     string `env:"CHAT_ADDR" envDefault:":8080"`
	LogLevel string `env:"CHAT_LOG_LEVEL" envDefault:"info"`

	Store       string `env:"CHAT_STORE" envDefault:"memory"`
	SQLitePath  string `env:"CHAT_SQLITE_PATH" envDefault:"chat.db"`
	DatabaseURL string `env:"DATABASE_URL"`

	RedisAddr     string   `env:"CHAT_REDIS_ADDR"`
	RedisPassword string   `env:"CHAT_REDIS_PASSWORD"`
	AdminIDs      []string `env:"CHAT_ADMIN_IDS" envSeparator:","`

	HistoryLimit      int `env:"CHAT_HISTORY_LIMIT" envDefault:"500"`
	AdminHistoryLimit int `env:"CHAT_ADMIN_HISTORY_LIMIT" envDefault:"100"`

	HeartbeatInterval time.Duration `env:"CHAT_HEARTBEAT_INTERVAL" envDefault:"30s"`
	MaxMissedProbes   int           `env:"CHAT_MAX_MISSED_PROBES" envDefault:"3"`
	WriteTimeout      time.Duration `env:"CHAT_WRITE_TIMEOUT" envDefault:"10s"`
	MaxMessageBytes   int64         `env:"CHAT_MAX_MESSAGE_BYTES" envDefault:"8192"`
	MaxMessageRunes   int           `env:"CHAT_MAX_MESSAGE_RUNES" envDefault:"2000"`
	AllowedOrigins    []string      `env:"CHAT_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	ShutdownTimeout   time.Duration `env:"CHAT_SHUTDOWN_TIMEOUT" envDefault:"5s"`
}

// Load reads optional dotenv files (default ".env"), then the environment.
// Variables already set in the environment win over dotenv values.
func Load(dotenvFiles ...string) (Config, error) {
	if len(dotenvFiles) == 0 {
		dotenvFiles = []string{".env"}
	}
	for _, file := range dotenvFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", file, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the relay cannot run with.
func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return errors.New("config: DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("config: unknown store %q", c.Store)
	}
	if c.Store == StoreSQLite && strings.TrimSpace(c.SQLitePath) == "" {
		return errors.New("config: CHAT_SQLITE_PATH is required for the sqlite store")
	}
	if c.HistoryLimit <= 0 || c.AdminHistoryLimit <= 0 {
		return errors.New("config: history limits must be positive")
	}
	if c.HeartbeatInterval <= 0 || c.WriteTimeout <= 0 {
		return errors.New("config: heartbeat interval and write timeout must be positive")
	}
	if c.MaxMissedProbes < 0 {
		return errors.New("config: CHAT_MAX_MISSED_PROBES cannot be negative")
	}
	if c.MaxMessageBytes <= 0 || c.MaxMessageRunes <= 0 {
		return errors.New("config: message limits must be positive")
	}
	return nil
}
