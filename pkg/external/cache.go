package external

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cart-safety-engine/internal/domain"
)

// ReportCache wraps a Redis client with caching for report-count queries.
// The external request budget is small, so every fetched contingency is
// kept for the configured TTL.
type ReportCache struct {
	redis      *redis.Client
	defaultTTL time.Duration
}

// NewReportCache creates a new cache client.
func NewReportCache(config domain.CacheConfig) (*ReportCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = config.PoolSize
	opts.PoolTimeout = config.PoolTimeout
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &ReportCache{
		redis:      client,
		defaultTTL: config.DefaultTTL,
	}, nil
}

// cachedReportCounts carries the fetched contingency with cache metadata.
type cachedReportCounts struct {
	Data      *domain.ReportCounts `json:"data"`
	CachedAt  time.Time            `json:"cached_at"`
	ExpiresAt time.Time            `json:"expires_at"`
}

// Get retrieves cached report counts for a product-reaction pair.
func (c *ReportCache) Get(ctx context.Context, drug, event string) (*domain.ReportCounts, bool, error) {
	key := reportKey(drug, event)

	val, err := c.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil // Cache miss
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get report cache: %w", err)
	}

	var cached cachedReportCounts
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		// Remove corrupted cache entry
		c.redis.Del(ctx, key)
		return nil, false, nil
	}

	if time.Now().After(cached.ExpiresAt) {
		c.redis.Del(ctx, key)
		return nil, false, nil
	}

	return cached.Data, true, nil
}

// Set caches report counts for a product-reaction pair.
func (c *ReportCache) Set(ctx context.Context, drug, event string, data *domain.ReportCounts, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	cached := cachedReportCounts{
		Data:      data,
		CachedAt:  time.Now(),
		ExpiresAt: time.Now().Add(ttl),
	}

	jsonData, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("failed to marshal report cache data: %w", err)
	}

	return c.redis.Set(ctx, reportKey(drug, event), jsonData, ttl).Err()
}

// Invalidate removes the cached counts for a product-reaction pair.
func (c *ReportCache) Invalidate(ctx context.Context, drug, event string) error {
	return c.redis.Del(ctx, reportKey(drug, event)).Err()
}

// Ping checks if the Redis connection is alive.
func (c *ReportCache) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *ReportCache) Close() error {
	return c.redis.Close()
}

// reportKey builds a normalized cache key for a product-reaction pair.
// Terms are case folded so "CRS" and "crs" share an entry.
func reportKey(drug, event string) string {
	data := fmt.Sprintf("%s:%s", strings.ToLower(drug), strings.ToLower(event))
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("reports:pair:%x", hash[:8])
}
