package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/portfolio-guardian/internal/logging"
	"github.com/portfolio-guardian/internal/models"
	"github.com/portfolio-guardian/internal/provider"
	"github.com/redis/go-redis/v9"
)

const priceCachePrefix = "guardian:prices:"

// CachedPriceProvider is a read-through Redis cache in front of another
// price provider. Only successful lookups are cached and a Redis outage
// falls through to the inner provider.
type CachedPriceProvider struct {
	inner  provider.PriceSeriesProvider
	client redis.Cmdable
	ttl    time.Duration
	logger *logging.Logger
}

// NewCachedPriceProvider wraps inner
func NewCachedPriceProvider(inner provider.PriceSeriesProvider, client redis.Cmdable, ttl time.Duration, logger *logging.Logger) *CachedPriceProvider {
	return &CachedPriceProvider{
		inner:  inner,
		client: client,
		ttl:    ttl,
		logger: logger.WithField("component", "price_cache"),
	}
}

func priceCacheKey(symbol string, days int) string {
	return fmt.Sprintf("%s%s:%d", priceCachePrefix, strings.ToUpper(symbol), days)
}

// GetPriceSeries implements provider.PriceSeriesProvider
func (c *CachedPriceProvider) GetPriceSeries(ctx context.Context, symbol string, days int) (models.PriceSeries, error) {
	key := priceCacheKey(symbol, days)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var series models.PriceSeries
		if jsonErr := json.Unmarshal(raw, &series); jsonErr == nil {
			return series, nil
		}
		c.logger.WithField("key", key).Warn("discarding unreadable cached price series")
	case !errors.Is(err, redis.Nil):
		c.logger.WithError(err).WithField("key", key).Warn("price cache read failed")
	}

	series, err := c.inner.GetPriceSeries(ctx, symbol, days)
	if err != nil {
		return series, err
	}

	if out, err := json.Marshal(series); err == nil {
		if err := c.client.Set(ctx, key, out, c.ttl).Err(); err != nil {
			c.logger.WithError(err).WithField("key", key).Warn("price cache write failed")
		}
	}
	return series, nil
}

// Invalidate drops every cached window for symbol
func (c *CachedPriceProvider) Invalidate(ctx context.Context, symbol string) error {
	pattern := priceCachePrefix + strings.ToUpper(symbol) + ":*"
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("scan price cache: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("invalidate price cache: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
