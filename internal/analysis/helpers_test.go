package analysis

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/portfolio-guardian/internal/logging"
	"github.com/portfolio-guardian/internal/models"
	"github.com/portfolio-guardian/internal/provider"
	"github.com/stretchr/testify/require"
)

const testWallet = "0x9aabD891ab1FaA750FAE5aba9b55623c7F69fD58"

var seriesStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fakePrices struct {
	series map[string]models.PriceSeries
	errs   map[string]error
}

func newFakePrices() *fakePrices {
	return &fakePrices{series: map[string]models.PriceSeries{}, errs: map[string]error{}}
}

func (f *fakePrices) GetPriceSeries(ctx context.Context, symbol string, days int) (models.PriceSeries, error) {
	if err, ok := f.errs[symbol]; ok {
		return models.PriceSeries{}, err
	}
	s, ok := f.series[symbol]
	if !ok {
		return models.PriceSeries{}, fmt.Errorf("%w: %s", provider.ErrPriceNotFound, symbol)
	}
	s = s.Tail(days)
	if s.Len() < 2 {
		return models.PriceSeries{}, fmt.Errorf("%w: %s", provider.ErrInsufficientHistory, symbol)
	}
	return s, nil
}

func (f *fakePrices) add(symbol string, start time.Time, startPrice float64, returns []float64) {
	points := []models.PricePoint{{Symbol: symbol, Date: start, PriceUSD: startPrice}}
	price := startPrice
	for i, r := range returns {
		price *= 1 + r
		points = append(points, models.PricePoint{Symbol: symbol, Date: start.AddDate(0, 0, i+1), PriceUSD: price})
	}
	f.series[symbol] = models.PriceSeries{Symbol: symbol, Points: points}
}

func randomReturns(seed int64, n int) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = (rng.Float64() - 0.5) / 10
	}
	return out
}

func negate(rs []float64) []float64 {
	out := make([]float64, len(rs))
	for i, r := range rs {
		out[i] = -r / 2
	}
	return out
}

func testCrashes() *provider.CrashDataset {
	return provider.NewCrashDataset("", logging.NewNopLogger())
}

func mustPortfolio(t *testing.T, holdings ...models.TokenHolding) *models.Portfolio {
	t.Helper()
	var total float64
	for _, h := range holdings {
		total += h.ValueUSD
	}
	p, err := models.NewPortfolio(testWallet, holdings, total)
	require.NoError(t, err)
	return p
}

func holding(symbol string, value float64) models.TokenHolding {
	return models.TokenHolding{Symbol: symbol, Amount: value, PriceUSD: 1, ValueUSD: value}
}
