// Package config loads ledgercache settings from the environment and builds
// the runtime stack from them.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StoreMySQL    = "mysql"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

type Config struct {
	Store      StoreConfig
	Pool       PoolConfig
	Dispatcher DispatcherConfig
	Purge      PurgeConfig
	Log        LogConfig
}

type StoreConfig struct {
	Backend string
	// DSN for sqlite (file path), mysql and postgres
	DSN   string
	Table string
	// Redis settings
	RedisURL    string
	RedisPrefix string
}

type PoolConfig struct {
	GenesisFile    string
	Timeout        time.Duration
	ReplyFreshness time.Duration
}

type DispatcherConfig struct {
	MaxInflight int
}

type PurgeConfig struct {
	Interval time.Duration
	MinFresh int64
}

type LogConfig struct {
	Level  string
	Format string // json or text
}

// Load reads the environment, after loading the given .env files (or ./.env
// when none are given) if they exist.
func Load(files ...string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(files...)

	cfg := &Config{
		Store: StoreConfig{
			Backend:     strings.ToLower(getEnv("LEDGERCACHE_STORE", StoreMemory)),
			DSN:         getEnv("LEDGERCACHE_STORE_DSN", ""),
			Table:       getEnv("LEDGERCACHE_STORE_TABLE", "ledgercache_records"),
			RedisURL:    getEnv("LEDGERCACHE_REDIS_URL", "redis://localhost:6379/0"),
			RedisPrefix: getEnv("LEDGERCACHE_REDIS_PREFIX", "ledgercache:"),
		},
		Pool: PoolConfig{
			GenesisFile:    getEnv("LEDGERCACHE_GENESIS_FILE", ""),
			Timeout:        getDurationEnv("LEDGERCACHE_POOL_TIMEOUT", 20*time.Second),
			ReplyFreshness: getDurationEnv("LEDGERCACHE_REPLY_FRESHNESS", 0),
		},
		Dispatcher: DispatcherConfig{
			MaxInflight: getIntEnv("LEDGERCACHE_MAX_INFLIGHT", 8),
		},
		Purge: PurgeConfig{
			Interval: getDurationEnv("LEDGERCACHE_PURGE_INTERVAL", time.Hour),
			MinFresh: int64(getIntEnv("LEDGERCACHE_PURGE_MIN_FRESH", 86400)),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail late.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case StoreMemory, StoreRedis:
	case StoreSQLite, StoreMySQL, StorePostgres:
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("LEDGERCACHE_STORE_DSN is required for the %s store", c.Store.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown LEDGERCACHE_STORE %q", c.Store.Backend))
	}
	if c.Dispatcher.MaxInflight < 1 {
		errs = append(errs, errors.New("LEDGERCACHE_MAX_INFLIGHT must be at least 1"))
	}
	if c.Pool.Timeout <= 0 {
		errs = append(errs, errors.New("LEDGERCACHE_POOL_TIMEOUT must be positive"))
	}
	if c.Purge.MinFresh < -1 {
		errs = append(errs, errors.New("LEDGERCACHE_PURGE_MIN_FRESH must be -1 or non-negative"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unknown LOG_FORMAT %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
