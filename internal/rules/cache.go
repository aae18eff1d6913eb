package rules

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/vaayugo-api/internal/obs"
	"github.com/noah-isme/vaayugo-api/internal/pricing"
)

// VersionKey holds the rule set generation. Every write bumps it so cached entries for older
// generations are never read again and simply expire.
const VersionKey = "rules:version"

// Loader fetches the rules relevant to a lookup.
type Loader interface {
	Load(ctx context.Context, l Lookup) (pricing.RuleSet, error)
}

// CachedReader serves rule sets from Redis, falling back to the underlying loader.
type CachedReader struct {
	Loader Loader
	Redis  *redis.Client
	TTL    time.Duration

	group singleflight.Group
}

// NewCachedReader wraps loader with a Redis JSON cache.
func NewCachedReader(loader Loader, client *redis.Client, ttl time.Duration) *CachedReader {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedReader{Loader: loader, Redis: client, TTL: ttl}
}

// Load returns the cached rule set for the lookup, loading and caching it on a miss.
// Concurrent misses for the same key share a single store read. Redis failures are logged
// and the store is used directly.
func (c *CachedReader) Load(ctx context.Context, l Lookup) (pricing.RuleSet, error) {
	if c == nil || c.Loader == nil {
		return pricing.RuleSet{}, errors.New("rules: loader not configured")
	}
	if c.Redis == nil {
		return c.Loader.Load(ctx, l)
	}
	logger := zerolog.Ctx(ctx)

	version, err := c.version(ctx)
	if err != nil {
		obs.CountRuleCache("error")
		logger.Warn().Err(err).Msg("rule cache version unavailable")
		return c.Loader.Load(ctx, l)
	}
	key := l.CacheKey(version)

	var cached pricing.RuleSet
	hit, err := c.get(ctx, key, &cached)
	if err != nil {
		obs.CountRuleCache("error")
		logger.Warn().Err(err).Str("key", key).Msg("rule cache read failed")
	} else if hit {
		obs.CountRuleCache("hit")
		return cached, nil
	} else {
		obs.CountRuleCache("miss")
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		set, err := c.Loader.Load(ctx, l)
		if err != nil {
			return pricing.RuleSet{}, err
		}
		if err := c.set(ctx, key, set); err != nil {
			logger.Warn().Err(err).Str("key", key).Msg("rule cache write failed")
		}
		return set, nil
	})
	if err != nil {
		return pricing.RuleSet{}, err
	}
	return v.(pricing.RuleSet), nil
}

// Invalidate advances the rule set generation.
func (c *CachedReader) Invalidate(ctx context.Context) error {
	if c == nil || c.Redis == nil {
		return nil
	}
	return c.Redis.Incr(ctx, VersionKey).Err()
}

func (c *CachedReader) version(ctx context.Context) (int64, error) {
	v, err := c.Redis.Get(ctx, VersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (c *CachedReader) get(ctx context.Context, key string, dst *pricing.RuleSet) (bool, error) {
	data, err := c.Redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

func (c *CachedReader) set(ctx context.Context, key string, v pricing.RuleSet) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Redis.Set(ctx, key, data, c.TTL).Err()
}
