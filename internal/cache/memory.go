package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryCache implements an in-process cache on an expirable LRU. When
// MaxEntries is set the least recently used entries are evicted first.
// Entries live at most DefaultTTL; a shorter ttl given to Set is honoured on
// Get.
type MemoryCache struct {
	lru    *expirable.LRU[string, cacheItem]
	config Config
}

// cacheItem represents an item stored in the cache
type cacheItem struct {
	value      []byte
	expiration time.Time
}

func (i cacheItem) expired(now time.Time) bool {
	return !i.expiration.IsZero() && now.After(i.expiration)
}

// NewMemoryCache creates a new in-memory cache. A non-positive DefaultTTL
// turns cache-wide expiry off.
func NewMemoryCache(config Config) *MemoryCache {
	size := config.MaxEntries
	if size < 0 {
		size = 0
	}
	ttl := config.DefaultTTL
	if ttl < 0 {
		ttl = 0
	}
	return &MemoryCache{
		lru:    expirable.NewLRU[string, cacheItem](size, nil, ttl),
		config: config,
	}
}

// Get retrieves a value from the cache
func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	item, ok := m.lru.Get(m.config.Prefix + key)
	if !ok {
		return nil, ErrCacheMiss{Key: key}
	}
	if item.expired(time.Now()) {
		m.lru.Remove(m.config.Prefix + key)
		return nil, ErrCacheMiss{Key: key}
	}

	return item.value, nil
}

// Set stores a value in the cache with a TTL. Zero uses DefaultTTL; a
// negative ttl leaves only the cache-wide limit.
func (m *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if ttl == 0 {
		ttl = m.config.DefaultTTL
	}

	item := cacheItem{value: value}
	if ttl > 0 {
		item.expiration = time.Now().Add(ttl)
	}
	m.lru.Add(m.config.Prefix+key, item)
	return nil
}

// Delete removes a value from the cache
func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.lru.Remove(m.config.Prefix + key)
	return nil
}

// Clear removes all values from the cache
func (m *MemoryCache) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.lru.Purge()
	return nil
}

// Len returns the number of stored entries, including expired ones not yet
// cleaned up
func (m *MemoryCache) Len() int {
	return m.lru.Len()
}

// Close empties the cache
func (m *MemoryCache) Close() error {
	m.lru.Purge()
	return nil
}
