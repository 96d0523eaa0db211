package analysis

import (
	"context"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	apperrors "github.com/portfolio-guardian/internal/errors"
	"github.com/portfolio-guardian/internal/logging"
	"github.com/portfolio-guardian/internal/models"
	"github.com/portfolio-guardian/internal/provider"
	"github.com/portfolio-guardian/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(prices provider.PriceSeriesProvider) *CorrelationEngine {
	return NewCorrelationEngine(prices, testCrashes(), logging.NewNopLogger())
}

func TestCorrelationEngine_TracksReference(t *testing.T) {
	eth := randomReturns(42, 90)
	prices := newFakePrices()
	prices.add("ETH", seriesStart, 2000, eth)
	prices.add("UNI", seriesStart, 6, eth)
	prices.add("AAVE", seriesStart, 90, eth)

	p := mustPortfolio(t, holding("UNI", 600), holding("AAVE", 400))
	res, err := newEngine(prices).Analyze(context.Background(), p, DefaultCorrelationParams())
	require.NoError(t, err)

	assert.InDelta(t, 1.0, res.Coefficient, 1e-9)
	assert.LessOrEqual(t, res.Coefficient, 1.0)
	assert.Equal(t, 100, res.Percentage)
	assert.Equal(t, types.InterpretationHigh, res.Interpretation)
	assert.Equal(t, 90, res.DataPoints)
	assert.Equal(t, 90, res.CalculationPeriodDays)
	require.Len(t, res.HistoricalContext, 3)
	assert.Equal(t, models.BracketAbove90, res.HistoricalContext[0].CorrelationBracket)
	assert.Equal(t, -73.0, res.HistoricalContext[0].PortfolioLossPct)
	assert.Contains(t, res.Narrative, "Your portfolio is 100% positively correlated to ETH over the past 90 days")
	assert.Contains(t, res.Narrative, "2022 Bear Market (Nov 2021 - Jun 2022)")
}

func TestCorrelationEngine_NegativeCorrelation(t *testing.T) {
	eth := randomReturns(7, 90)
	prices := newFakePrices()
	prices.add("ETH", seriesStart, 2000, eth)
	prices.add("HEDGE", seriesStart, 10, negate(eth))

	res, err := newEngine(prices).Analyze(context.Background(), mustPortfolio(t, holding("HEDGE", 100)), DefaultCorrelationParams())
	require.NoError(t, err)
	assert.InDelta(t, -1.0, res.Coefficient, 1e-9)
	assert.Equal(t, types.InterpretationHigh, res.Interpretation)
	assert.Contains(t, res.Narrative, "negatively correlated")
}

func TestCorrelationEngine_ConstantSeriesYieldsZero(t *testing.T) {
	prices := newFakePrices()
	prices.add("ETH", seriesStart, 2000, randomReturns(1, 90))
	prices.add("USDC", seriesStart, 1, make([]float64, 90))

	res, err := newEngine(prices).Analyze(context.Background(), mustPortfolio(t, holding("USDC", 100)), DefaultCorrelationParams())
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Coefficient)
	assert.Equal(t, 0, res.Percentage)
	assert.Equal(t, types.InterpretationLow, res.Interpretation)
}

func TestCorrelationEngine_ExclusionBoundary(t *testing.T) {
	eth := randomReturns(3, 90)
	prices := newFakePrices()
	prices.add("ETH", seriesStart, 2000, eth)
	prices.add("UNI", seriesStart, 6, eth)
	engine := newEngine(prices)
	ctx := context.Background()

	t.Run("exactly at the cap succeeds", func(t *testing.T) {
		res, err := engine.Analyze(ctx, mustPortfolio(t, holding("UNI", 50), holding("MISSING", 50)), DefaultCorrelationParams())
		require.NoError(t, err)
		require.Len(t, res.ExcludedHoldings, 1)
		assert.Equal(t, "MISSING", res.ExcludedHoldings[0].Symbol)
		assert.Equal(t, "no price data", res.ExcludedHoldings[0].Reason)
		assert.Contains(t, res.Narrative, "Excluded from the calculation: MISSING")
	})

	t.Run("above the cap fails", func(t *testing.T) {
		_, err := engine.Analyze(ctx, mustPortfolio(t, holding("UNI", 49), holding("MISSING", 51)), DefaultCorrelationParams())
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.CategoryInsufficientData))
	})

	t.Run("order does not change the verdict", func(t *testing.T) {
		_, err1 := engine.Analyze(ctx, mustPortfolio(t, holding("MISSING", 51), holding("UNI", 49)), DefaultCorrelationParams())
		_, err2 := engine.Analyze(ctx, mustPortfolio(t, holding("UNI", 49), holding("MISSING", 51)), DefaultCorrelationParams())
		assert.Equal(t, err1 != nil, err2 != nil)
	})
}

func TestCorrelationEngine_ShortHistoryIsExcluded(t *testing.T) {
	eth := randomReturns(5, 90)
	prices := newFakePrices()
	prices.add("ETH", seriesStart, 2000, eth)
	prices.add("UNI", seriesStart, 6, eth)
	prices.add("ARB", seriesStart.AddDate(0, 0, 60), 1, eth[60:]) // 30 returns

	res, err := newEngine(prices).Analyze(context.Background(), mustPortfolio(t, holding("UNI", 80), holding("ARB", 20)), DefaultCorrelationParams())
	require.NoError(t, err)
	require.Len(t, res.ExcludedHoldings, 1)
	assert.Equal(t, "ARB", res.ExcludedHoldings[0].Symbol)
	assert.Contains(t, res.ExcludedHoldings[0].Reason, "only 30 of 60")
	assert.InDelta(t, 1.0, res.Coefficient, 1e-9)
}

func TestCorrelationEngine_NoSurvivors(t *testing.T) {
	prices := newFakePrices()
	prices.add("ETH", seriesStart, 2000, randomReturns(9, 90))

	params := DefaultCorrelationParams()
	params.MaxExcludedRatio = 1.0
	_, err := newEngine(prices).Analyze(context.Background(), mustPortfolio(t, holding("AAA", 10), holding("BBB", 10)), params)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CategoryInsufficientData))
}

func TestCorrelationEngine_ThinOverlap(t *testing.T) {
	eth := randomReturns(11, 180)
	prices := newFakePrices()
	prices.add("ETH", seriesStart, 2000, eth)
	// each has 70 returns but they only share 40 dates
	prices.add("UNI", seriesStart, 6, eth[:70])
	prices.add("AAVE", seriesStart.AddDate(0, 0, 30), 90, eth[30:100])

	params := DefaultCorrelationParams()
	params.WindowDays = 200
	_, err := newEngine(prices).Analyze(context.Background(), mustPortfolio(t, holding("UNI", 50), holding("AAVE", 50)), params)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CategoryInsufficientData))
}

func TestCorrelationEngine_ReferenceProblems(t *testing.T) {
	eth := randomReturns(13, 90)
	ctx := context.Background()

	t.Run("missing reference", func(t *testing.T) {
		prices := newFakePrices()
		prices.add("UNI", seriesStart, 6, eth)
		_, err := newEngine(prices).Analyze(ctx, mustPortfolio(t, holding("UNI", 10)), DefaultCorrelationParams())
		assert.True(t, apperrors.Is(err, apperrors.CategoryInsufficientData))
	})

	t.Run("reference misaligned", func(t *testing.T) {
		prices := newFakePrices()
		prices.add("UNI", seriesStart, 6, eth)
		prices.add("ETH", seriesStart.AddDate(0, 0, 45), 2000, eth)
		params := DefaultCorrelationParams()
		params.WindowDays = 200
		_, err := newEngine(prices).Analyze(ctx, mustPortfolio(t, holding("UNI", 10)), params)
		assert.True(t, apperrors.Is(err, apperrors.CategoryInsufficientData))
	})
}

func TestCorrelationEngine_ProviderUnavailableBubbles(t *testing.T) {
	prices := newFakePrices()
	prices.add("ETH", seriesStart, 2000, randomReturns(17, 90))
	prices.errs["UNI"] = errors.New("connection refused")

	_, err := newEngine(prices).Analyze(context.Background(), mustPortfolio(t, holding("UNI", 10)), DefaultCorrelationParams())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CategoryProvider))
	assert.True(t, apperrors.IsRetryable(err))
}

func TestCorrelationEngine_NoCrashData(t *testing.T) {
	eth := randomReturns(19, 90)
	prices := newFakePrices()
	prices.add("ETH", seriesStart, 2000, eth)
	prices.add("UNI", seriesStart, 6, eth)

	engine := NewCorrelationEngine(prices, provider.NewCrashDatasetFromRecords(nil, logging.NewNopLogger()), logging.NewNopLogger())
	res, err := engine.Analyze(context.Background(), mustPortfolio(t, holding("UNI", 10)), DefaultCorrelationParams())
	require.NoError(t, err)
	assert.Empty(t, res.HistoricalContext)
	assert.Contains(t, res.Narrative, "This indicates high positive correlation. Historical crash data unavailable.")
}

func TestCorrelationEngine_ExclusionCapProperty(t *testing.T) {
	eth := randomReturns(23, 90)
	prices := newFakePrices()
	prices.add("ETH", seriesStart, 2000, eth)
	prices.add("UNI", seriesStart, 6, eth)
	engine := newEngine(prices)

	properties := gopter.NewProperties(nil)
	properties.Property("fails iff excluded share exceeds the cap", prop.ForAll(
		func(includedCents, excludedCents int) bool {
			inc, exc := float64(includedCents), float64(excludedCents)
			p, err := models.NewPortfolio(testWallet, []models.TokenHolding{holding("UNI", inc), holding("GONE", exc)}, inc+exc)
			if err != nil {
				return false
			}
			_, err = engine.Analyze(context.Background(), p, DefaultCorrelationParams())
			overCap := exc/(inc+exc) > 0.5
			return (err != nil) == overCap
		},
		gen.IntRange(1, 1000),
		gen.IntRange(1, 1000),
	))
	properties.TestingRun(t)
}
