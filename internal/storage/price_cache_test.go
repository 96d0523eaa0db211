package storage

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/portfolio-guardian/internal/logging"
	"github.com/portfolio-guardian/internal/models"
	"github.com/portfolio-guardian/internal/provider"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingPrices struct {
	calls  atomic.Int32
	series map[string]models.PriceSeries
	err    error
}

func (c *countingPrices) GetPriceSeries(ctx context.Context, symbol string, days int) (models.PriceSeries, error) {
	c.calls.Add(1)
	if c.err != nil {
		return models.PriceSeries{}, c.err
	}
	s, ok := c.series[symbol]
	if !ok {
		return models.PriceSeries{}, provider.ErrPriceNotFound
	}
	return s.Tail(days), nil
}

func threeDays(symbol string) models.PriceSeries {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return models.PriceSeries{Symbol: symbol, Points: []models.PricePoint{
		{Symbol: symbol, Date: start, PriceUSD: 1},
		{Symbol: symbol, Date: start.AddDate(0, 0, 1), PriceUSD: 2},
		{Symbol: symbol, Date: start.AddDate(0, 0, 2), PriceUSD: 3},
	}}
}

func setupPriceCache(t *testing.T, inner provider.PriceSeriesProvider) (*CachedPriceProvider, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCachedPriceProvider(inner, client, time.Hour, logging.NewNopLogger()), mr
}

func TestCachedPriceProvider_ReadThrough(t *testing.T) {
	inner := &countingPrices{series: map[string]models.PriceSeries{"ETH": threeDays("ETH")}}
	cache, mr := setupPriceCache(t, inner)
	ctx := context.Background()

	first, err := cache.GetPriceSeries(ctx, "ETH", 91)
	require.NoError(t, err)
	second, err := cache.GetPriceSeries(ctx, "ETH", 91)
	require.NoError(t, err)

	assert.Equal(t, int32(1), inner.calls.Load())
	assert.Equal(t, first.Len(), second.Len())
	assert.True(t, first.Points[2].Date.Equal(second.Points[2].Date))
	assert.Equal(t, time.Hour, mr.TTL(priceCacheKey("ETH", 91)))

	_, err = cache.GetPriceSeries(ctx, "ETH", 2)
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.calls.Load(), "different window is a different key")
}

func TestCachedPriceProvider_MissesAreNotCached(t *testing.T) {
	inner := &countingPrices{series: map[string]models.PriceSeries{}}
	cache, _ := setupPriceCache(t, inner)

	for i := 0; i < 2; i++ {
		_, err := cache.GetPriceSeries(context.Background(), "NOPE", 91)
		assert.ErrorIs(t, err, provider.ErrPriceNotFound)
	}
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestCachedPriceProvider_RedisDownFallsThrough(t *testing.T) {
	inner := &countingPrices{series: map[string]models.PriceSeries{"UNI": threeDays("UNI")}}
	cache, mr := setupPriceCache(t, inner)
	mr.Close()

	series, err := cache.GetPriceSeries(context.Background(), "UNI", 91)
	require.NoError(t, err)
	assert.Equal(t, 3, series.Len())
}

func TestCachedPriceProvider_InnerErrorsPropagate(t *testing.T) {
	boom := errors.New("clickhouse down")
	cache, _ := setupPriceCache(t, &countingPrices{err: boom})

	_, err := cache.GetPriceSeries(context.Background(), "UNI", 91)
	assert.ErrorIs(t, err, boom)
}

func TestCachedPriceProvider_Invalidate(t *testing.T) {
	inner := &countingPrices{series: map[string]models.PriceSeries{"ETH": threeDays("ETH"), "UNI": threeDays("UNI")}}
	cache, mr := setupPriceCache(t, inner)
	ctx := context.Background()

	_, _ = cache.GetPriceSeries(ctx, "ETH", 91)
	_, _ = cache.GetPriceSeries(ctx, "ETH", 30)
	_, _ = cache.GetPriceSeries(ctx, "UNI", 91)

	require.NoError(t, cache.Invalidate(ctx, "eth"))
	assert.False(t, mr.Exists(priceCacheKey("ETH", 91)))
	assert.False(t, mr.Exists(priceCacheKey("ETH", 30)))
	assert.True(t, mr.Exists(priceCacheKey("UNI", 91)))
}
