package classifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/commco/backend/internal/logging"
	"github.com/commco/backend/internal/models"
)

// Cache stores category labels keyed by comment text digest.
type Cache interface {
	Get(ctx context.Context, key string) (models.Category, bool, error)
	Set(ctx context.Context, key string, category models.Category, ttl time.Duration) error
}

type cacheEntry struct {
	category models.Category
	expires  time.Time
}

// MemoryCache is a process-local TTL cache. Expired entries are dropped on
// read and swept from Set at most once per sweep interval.
type MemoryCache struct {
	mu         sync.Mutex
	items      map[string]cacheEntry
	sweepEvery time.Duration
	lastSweep  time.Time
	now        func() time.Time
}

// NewMemoryCache constructs an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]cacheEntry), sweepEvery: time.Minute, now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) (models.Category, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.items[key]
	if !ok {
		return "", false, nil
	}
	if !c.now().Before(entry.expires) {
		delete(c.items, key)
		return "", false, nil
	}
	return entry.category, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, category models.Category, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.sweepLocked(now, ttl)
	c.items[key] = cacheEntry{category: category, expires: now.Add(ttl)}
	return nil
}

// Len reports how many entries are held, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *MemoryCache) sweepLocked(now time.Time, ttl time.Duration) {
	interval := min(c.sweepEvery, ttl)
	if now.Sub(c.lastSweep) < interval {
		return
	}
	c.lastSweep = now
	for key, entry := range c.items {
		if !now.Before(entry.expires) {
			delete(c.items, key)
		}
	}
}

// RedisCache shares labels between processes through Redis.
type RedisCache struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(ctx context.Context, redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisCache{rdb: rdb, prefix: "commco:category:"}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (models.Category, bool, error) {
	value, err := c.rdb.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return models.Category(value), true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, category models.Category, ttl time.Duration) error {
	return c.rdb.Set(ctx, c.prefix+key, string(category), ttl).Err()
}

// Close shuts down the Redis connection.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

// CachingClassifier remembers successful labels for identical comment text.
// Fallbacks caused by a failed model call are not cached. Hits are reported
// to the observer as MatchCached; misses are observed by base.
type CachingClassifier struct {
	base     Labeler
	cache    Cache
	ttl      time.Duration
	taxonomy models.Taxonomy
	observer Observer
}

// NewCachingClassifier wraps base with cache. observer may be nil.
func NewCachingClassifier(base Labeler, cache Cache, ttl time.Duration, taxonomy models.Taxonomy, observer Observer) *CachingClassifier {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachingClassifier{base: base, cache: cache, ttl: ttl, taxonomy: taxonomy, observer: observer}
}

func (c *CachingClassifier) Classify(ctx context.Context, text string) models.Category {
	category, _, _ := c.Label(ctx, text)
	return category
}

func (c *CachingClassifier) Label(ctx context.Context, text string) (models.Category, MatchKind, error) {
	key := cacheKey(text)
	logger := logging.FromContext(ctx)

	cached, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		logger.Warn("classification cache read failed", slog.Any("error", err))
	}
	// Entries from an older taxonomy are ignored.
	if ok && c.taxonomy.Contains(cached) {
		if c.observer != nil {
			c.observer.ObserveClassification(string(MatchCached))
		}
		return cached, MatchCached, nil
	}

	category, kind, err := c.base.Label(ctx, text)
	if err != nil {
		return category, kind, err
	}

	if err := c.cache.Set(ctx, key, category, c.ttl); err != nil {
		logger.Warn("classification cache write failed", slog.Any("error", err))
	}
	return category, kind, nil
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

var (
	_ Cache   = (*MemoryCache)(nil)
	_ Cache   = (*RedisCache)(nil)
	_ Labeler = (*CachingClassifier)(nil)
)
