package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/price-research-scraper/internal/metrics"
)

const cacheKeyPrefix = "price_research:html:"

// CacheClient is the subset of *redis.Client the HTML cache needs.
type CacheClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// CachedFetcher serves pages from Redis when present and stores fresh ones
// for ttl. Cache failures are logged and never fail a fetch.
type CachedFetcher struct {
	next    Fetcher
	cache   CacheClient
	ttl     time.Duration
	logger  *slog.Logger
	metrics *metrics.Registry
}

// NewCachedFetcher wraps next with a Redis cache of page bodies kept for ttl.
func NewCachedFetcher(next Fetcher, cache CacheClient, ttl time.Duration, logger *slog.Logger) *CachedFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedFetcher{
		next:   next,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With("component", "html_cache"),
	}
}

func (c *CachedFetcher) WithMetrics(m *metrics.Registry) *CachedFetcher {
	c.metrics = m
	return c
}

func (c *CachedFetcher) Fetch(ctx context.Context, url string) (string, error) {
	key := CacheKey(url)

	html, err := c.cache.Get(ctx, key).Result()
	switch {
	case err == nil:
		c.metrics.ObserveCache(true)
		c.logger.Debug("cache hit", "url", url)
		return html, nil
	case errors.Is(err, redis.Nil):
		c.metrics.ObserveCache(false)
	default:
		c.metrics.ObserveCache(false)
		c.logger.Warn("cache lookup failed", "url", url, "error", err)
	}

	html, err = c.next.Fetch(ctx, url)
	if err != nil {
		return "", err
	}

	if err := c.cache.Set(ctx, key, html, c.ttl).Err(); err != nil {
		c.logger.Warn("cache store failed", "url", url, "error", err)
	}
	return html, nil
}

// CacheKey is the Redis key holding the body for url.
func CacheKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}
