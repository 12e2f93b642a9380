// Package config loads server settings from outpack.yaml and OUTPACK_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/mrc-ide/outpack-server/internal/cache"
)

// Config is the server configuration
type Config struct {
	Root   string       `mapstructure:"root"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	Cache  CacheConfig  `mapstructure:"cache"`
	Watch  WatchConfig  `mapstructure:"watch"`
}

// ServerConfig is where the API listens
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// Profiling serves pprof under /debug/pprof
	Profiling bool `mapstructure:"profiling"`
}

// Address returns host:port
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LogConfig controls logging
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// CacheConfig selects and tunes the query result cache
type CacheConfig struct {
	Backend    string        `mapstructure:"backend"`
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
	Redis      RedisConfig   `mapstructure:"redis"`
}

// RedisConfig is the redis cache connection
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WatchConfig controls the metadata directory watcher
type WatchConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Delay   time.Duration `mapstructure:"delay"`
}

// CacheOptions converts the cache settings to cache.Options
func (c CacheConfig) CacheOptions() cache.Options {
	base := cache.DefaultConfig()
	base.DefaultTTL = c.TTL
	if c.MaxEntries > 0 {
		base.MaxEntries = c.MaxEntries
	}

	redisConfig := cache.DefaultRedisConfig()
	redisConfig.Addr = c.Redis.Addr
	redisConfig.Password = c.Redis.Password
	redisConfig.DB = c.Redis.DB
	redisConfig.Config = base

	return cache.Options{
		Backend: c.Backend,
		Config:  base,
		Redis:   redisConfig,
	}
}

// Load reads configuration. With an empty path, outpack.yaml (or .yml) in
// the working directory is used if it exists. Environment variables such as
// OUTPACK_SERVER_PORT or OUTPACK_CACHE_BACKEND override the file.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("root", ".")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.profiling", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("cache.backend", cache.BackendMemory)
	v.SetDefault("cache.ttl", "10m")
	v.SetDefault("cache.max_entries", 10000)
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("watch.enabled", true)
	v.SetDefault("watch.delay", "100ms")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("outpack")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("OUTPACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	switch cfg.Cache.Backend {
	case cache.BackendNone, cache.BackendMemory, cache.BackendRedis:
	default:
		return fmt.Errorf("cache.backend must be one of none, memory or redis, got: %s", cfg.Cache.Backend)
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", cfg.Server.Port)
	}
	if _, err := zapcore.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if cfg.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative, got: %s", cfg.Cache.TTL)
	}
	return nil
}
