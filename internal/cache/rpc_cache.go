// Package cache implements the Response Cache: a method-keyed, TTL-bounded
// store behind one interface with two interchangeable backends.
package cache

import (
	"context"
	"fmt"
	"time"

	rediscache "github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/towns-protocol/rpc-gateway/internal/config"
)

// Cache stores successful JSON-RPC result payloads keyed by the caller's
// semantic key. It never stores errors; backend failures are swallowed and
// logged rather than propagated, so a cache outage degrades to cache misses.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// Disabled is the no-op backend used when cache.type is "disabled".
type Disabled struct{}

func (Disabled) Get(context.Context, string) ([]byte, bool) { return nil, false }
func (Disabled) Set(context.Context, string, []byte, time.Duration) {}

// tinyLFUAdmissionWindow bounds how long the local backend's W-TinyLFU
// admission policy is willing to retain any entry at all. It has nothing to
// do with the per-request TTL the TTL Manager computes: TinyLFU's
// LocalCache.Set(key, b) takes no TTL argument, so it cannot itself honor a
// 12s eth_blockNumber TTL versus a one-year deep-history TTL. Real per-entry
// expiry is enforced by localEntry.ExpiresAt below; this window is just a
// generous ceiling so unbounded-TTL entries don't pin memory forever.
const tinyLFUAdmissionWindow = 24 * time.Hour

// localEntry is what Local actually stores: the cached payload plus the
// absolute time it stops being valid, checked on every Get.
type localEntry struct {
	Value     []byte
	ExpiresAt time.Time
}

// Local is an in-process backend bounded by capacity, with per-entry
// expiry enforced against the caller-supplied TTL rather than a single
// fixed window.
type Local struct {
	cache *rediscache.Cache
}

func NewLocal(capacity int) *Local {
	return &Local{
		cache: rediscache.New(&rediscache.Options{
			LocalCache: rediscache.NewTinyLFU(capacity, tinyLFUAdmissionWindow),
		}),
	}
}

func (c *Local) Get(ctx context.Context, key string) ([]byte, bool) {
	var entry localEntry
	if err := c.cache.Get(ctx, key, &entry); err != nil {
		return nil, false
	}

	if time.Now().After(entry.ExpiresAt) {
		return nil, false
	}

	return entry.Value, true
}

func (c *Local) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	entry := localEntry{Value: value, ExpiresAt: time.Now().Add(ttl)}

	err := c.cache.Set(&rediscache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: entry,
		TTL:   tinyLFUAdmissionWindow,
	})
	if err != nil {
		zap.L().Warn("Local cache write failed.", zap.String("key", key), zap.Error(err))
	}
}

// Remote is backed by a shared Redis instance. Keys are namespaced with the
// chain id and an optional operator-configured prefix so that a single
// Redis instance can serve multiple chains/tenants without collisions.
type Remote struct {
	cache     *rediscache.Cache
	chainID   uint64
	keyPrefix string
}

func NewRemote(redisURL string, chainID uint64, keyPrefix string) (*Remote, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing cache.redis_url: %w", err)
	}

	rdb := redis.NewClient(opts)

	return &Remote{
		cache:     rediscache.New(&rediscache.Options{Redis: rdb}),
		chainID:   chainID,
		keyPrefix: keyPrefix,
	}, nil
}

func (c *Remote) namespacedKey(key string) string {
	if c.keyPrefix != "" {
		return fmt.Sprintf("%d:%s:%s", c.chainID, c.keyPrefix, key)
	}

	return fmt.Sprintf("%d:%s", c.chainID, key)
}

func (c *Remote) Get(ctx context.Context, key string) ([]byte, bool) {
	var value []byte

	fullKey := c.namespacedKey(key)
	if err := c.cache.Get(ctx, fullKey, &value); err != nil {
		if err != rediscache.ErrCacheMiss {
			zap.L().Warn("Remote cache read failed.", zap.String("key", fullKey), zap.Error(err))
		}

		return nil, false
	}

	return value, true
}

func (c *Remote) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	fullKey := c.namespacedKey(key)

	err := c.cache.Set(&rediscache.Item{
		Ctx:   ctx,
		Key:   fullKey,
		Value: value,
		TTL:   ttl,
	})
	if err != nil {
		zap.L().Warn("Remote cache write failed.", zap.String("key", fullKey), zap.Error(err))
	}
}

// New constructs the cache backend configured for one chain.
func New(cfg config.CacheConfig, chainID uint64) (Cache, error) {
	switch cfg.Type {
	case config.CacheLocal:
		return NewLocal(cfg.Capacity), nil
	case config.CacheRedis:
		return NewRemote(cfg.RedisURL, chainID, cfg.KeyPrefix)
	default:
		return Disabled{}, nil
	}
}
