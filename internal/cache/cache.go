// Package cache stores encoded query results. Entries are keyed by the digest
// of the packet set they were computed against, so ingesting a packet makes
// every older entry unreachable without an explicit purge.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Cache defines the interface for all cache backends
type Cache interface {
	// Get retrieves a value from the cache
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with a TTL
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the cache
	Delete(ctx context.Context, key string) error

	// Clear removes all values from the cache
	Clear(ctx context.Context) error

	// Close releases any resources held by the backend
	Close() error
}

// Backend names accepted by New
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds common configuration for cache backends
type Config struct {
	// DefaultTTL is the time-to-live used when Set is given zero
	DefaultTTL time.Duration
	// Prefix is prepended to all cache keys
	Prefix string
	// MaxEntries bounds the memory backend; zero means unbounded
	MaxEntries int
}

// DefaultConfig returns a default cache configuration
func DefaultConfig() Config {
	return Config{
		DefaultTTL: 5 * time.Minute,
		Prefix:     "outpack:",
		MaxEntries: 10000,
	}
}

// Options selects and configures a backend
type Options struct {
	Backend string
	Config  Config
	Redis   RedisConfig
}

// New creates the backend named by opts.Backend. BackendNone returns nil,
// which callers treat as "caching disabled".
func New(opts Options) (Cache, error) {
	switch opts.Backend {
	case "", BackendNone:
		return nil, nil
	case BackendMemory:
		return NewMemoryCache(opts.Config), nil
	case BackendRedis:
		redisConfig := opts.Redis
		redisConfig.Config = opts.Config
		c, err := NewRedisCache(redisConfig)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown cache backend '%s'", opts.Backend)
	}
}

// ErrCacheMiss is returned when a key is not found in the cache
type ErrCacheMiss struct {
	Key string
}

func (e ErrCacheMiss) Error() string {
	return "cache miss: " + e.Key
}

// IsCacheMiss checks if an error is a cache miss
func IsCacheMiss(err error) bool {
	var miss ErrCacheMiss
	return errors.As(err, &miss)
}
