package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	apperrors "github.com/portfolio-guardian/internal/errors"
	"github.com/portfolio-guardian/internal/logging"
	"github.com/portfolio-guardian/internal/models"
	"github.com/portfolio-guardian/internal/provider"
	"github.com/portfolio-guardian/internal/types"
)

// excludedRatioSlack absorbs float noise so a ratio exactly at the cap passes
const excludedRatioSlack = 1e-12

// CorrelationParams configures one correlation run
type CorrelationParams struct {
	ReferenceSymbol   string
	WindowDays        int
	MinDays           int
	MaxExcludedRatio  float64
	HighThreshold     float64
	ModerateThreshold float64
}

// DefaultCorrelationParams returns ETH over 90 days with 60 required days
func DefaultCorrelationParams() CorrelationParams {
	return CorrelationParams{
		ReferenceSymbol:   "ETH",
		WindowDays:        90,
		MinDays:           60,
		MaxExcludedRatio:  0.5,
		HighThreshold:     0.85,
		ModerateThreshold: 0.70,
	}
}

// Classify maps |r| onto an interpretation tier
func (p CorrelationParams) Classify(r float64) types.Interpretation {
	abs := math.Abs(r)
	switch {
	case abs > p.HighThreshold:
		return types.InterpretationHigh
	case abs >= p.ModerateThreshold:
		return types.InterpretationModerate
	default:
		return types.InterpretationLow
	}
}

// holdingOutcome is the per-holding result of fetching price history.
// Exactly one of the three implementations below is produced per holding.
type holdingOutcome interface {
	holding() models.TokenHolding
}

type includedHolding struct {
	token   models.TokenHolding
	returns models.ReturnSeries
}

type excludedHolding struct {
	token  models.TokenHolding
	reason string
}

type insufficientHolding struct {
	token models.TokenHolding
	days  int
}

func (h includedHolding) holding() models.TokenHolding     { return h.token }
func (h excludedHolding) holding() models.TokenHolding     { return h.token }
func (h insufficientHolding) holding() models.TokenHolding { return h.token }

// CorrelationEngine measures how closely a portfolio tracks a reference asset
type CorrelationEngine struct {
	prices  provider.PriceSeriesProvider
	crashes provider.HistoricalCrashProvider
	logger  *logging.Logger
}

// NewCorrelationEngine creates a correlation engine
func NewCorrelationEngine(prices provider.PriceSeriesProvider, crashes provider.HistoricalCrashProvider, logger *logging.Logger) *CorrelationEngine {
	return &CorrelationEngine{prices: prices, crashes: crashes, logger: logger}
}

// Analyze computes the weighted portfolio return series, correlates it with
// the reference asset and attaches historical crash context. Every holding is
// evaluated before the excluded-value cap is checked, so the outcome does not
// depend on holding order. The engine never retries.
func (e *CorrelationEngine) Analyze(ctx context.Context, p *models.Portfolio, params CorrelationParams) (*models.CorrelationAnalysis, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	log := e.logger.WithFields(map[string]interface{}{
		"wallet":    p.WalletAddress,
		"reference": params.ReferenceSymbol,
		"window":    params.WindowDays,
	})

	outcomes := make([]holdingOutcome, 0, len(p.Tokens))
	for _, token := range p.Tokens {
		o, err := e.evaluateHolding(ctx, token, params)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, o)
	}

	var (
		included      []includedHolding
		excluded      []models.ExcludedHolding
		excludedValue float64
	)
	for _, o := range outcomes {
		switch o := o.(type) {
		case includedHolding:
			included = append(included, o)
		case excludedHolding:
			excludedValue += o.token.ValueUSD
			excluded = append(excluded, models.ExcludedHolding{Symbol: o.token.Symbol, ValueUSD: o.token.ValueUSD, Reason: o.reason})
		case insufficientHolding:
			excludedValue += o.token.ValueUSD
			excluded = append(excluded, models.ExcludedHolding{
				Symbol:   o.token.Symbol,
				ValueUSD: o.token.ValueUSD,
				Reason:   fmt.Sprintf("only %d of %d required days of history", o.days, params.MinDays),
			})
		default:
			return nil, apperrors.NewInternalError(fmt.Sprintf("unhandled holding outcome %T", o), nil)
		}
	}

	ratio := excludedValue / p.TotalValueUSD
	if ratio > params.MaxExcludedRatio+excludedRatioSlack {
		return nil, apperrors.NewInsufficientDataError(
			fmt.Sprintf("%.1f%% of portfolio value lacks usable price history (limit %.1f%%)",
				ratio*100, params.MaxExcludedRatio*100),
			map[string]interface{}{"excluded": excluded, "excludedRatio": ratio})
	}
	if len(included) == 0 {
		return nil, apperrors.NewInsufficientDataError("no holdings have usable price history", nil)
	}

	dates := commonDates(included)
	if len(dates) < params.MinDays {
		return nil, apperrors.NewInsufficientDataError(
			fmt.Sprintf("holdings share only %d overlapping days, need %d", len(dates), params.MinDays), nil)
	}
	portfolioReturns := weightedReturns(included, dates)

	refReturns, err := e.referenceReturns(ctx, params)
	if err != nil {
		return nil, err
	}
	xs, ys := align(portfolioReturns, refReturns)
	if len(xs) < params.MinDays {
		return nil, apperrors.NewInsufficientDataError(
			fmt.Sprintf("portfolio and %s share only %d days, need %d", params.ReferenceSymbol, len(xs), params.MinDays), nil)
	}

	r := Pearson(xs, ys)
	pct := int(math.Round(math.Abs(r) * 100))
	result := &models.CorrelationAnalysis{
		ReferenceSymbol:       params.ReferenceSymbol,
		Coefficient:           r,
		Percentage:            pct,
		Interpretation:        params.Classify(r),
		CalculationPeriodDays: params.WindowDays,
		DataPoints:            len(xs),
		ExcludedHoldings:      excluded,
	}
	result.HistoricalContext = e.crashContext(ctx, pct)
	result.Narrative = CorrelationNarrative(result)

	log.WithFields(map[string]interface{}{
		"coefficient": r,
		"excluded":    len(excluded),
		"points":      len(xs),
	}).Info("correlation analysis complete")
	return result, nil
}

func (e *CorrelationEngine) evaluateHolding(ctx context.Context, token models.TokenHolding, params CorrelationParams) (holdingOutcome, error) {
	series, err := e.prices.GetPriceSeries(ctx, token.Symbol, params.WindowDays+1)
	switch {
	case errors.Is(err, provider.ErrPriceNotFound):
		return excludedHolding{token: token, reason: "no price data"}, nil
	case errors.Is(err, provider.ErrInsufficientHistory):
		return insufficientHolding{token: token, days: 0}, nil
	case err != nil:
		return nil, apperrors.NewProviderError("price series for "+token.Symbol, err)
	}

	returns, err := Returns(series)
	if err != nil {
		return excludedHolding{token: token, reason: "unusable price data"}, nil
	}
	if len(returns) < params.MinDays {
		return insufficientHolding{token: token, days: len(returns)}, nil
	}
	return includedHolding{token: token, returns: returns}, nil
}

func (e *CorrelationEngine) referenceReturns(ctx context.Context, params CorrelationParams) (models.ReturnSeries, error) {
	series, err := e.prices.GetPriceSeries(ctx, params.ReferenceSymbol, params.WindowDays+1)
	switch {
	case errors.Is(err, provider.ErrPriceNotFound), errors.Is(err, provider.ErrInsufficientHistory):
		return nil, apperrors.NewInsufficientDataError(
			fmt.Sprintf("reference asset %s has no usable price history", params.ReferenceSymbol), nil)
	case err != nil:
		return nil, apperrors.NewProviderError("price series for "+params.ReferenceSymbol, err)
	}

	returns, err := Returns(series)
	if err != nil {
		return nil, apperrors.NewInsufficientDataError(
			fmt.Sprintf("reference asset %s: %v", params.ReferenceSymbol, err), nil)
	}
	return returns, nil
}

func (e *CorrelationEngine) crashContext(ctx context.Context, pct int) []models.CrashPerformance {
	bracket := models.BracketForPercentage(pct)
	records := e.crashes.Query(ctx, models.CrashFilter{CorrelationBracket: bracket})

	out := make([]models.CrashPerformance, 0, len(records))
	for _, c := range records {
		out = append(out, models.CrashPerformance{
			CrashName:          c.Name,
			Period:             c.Period,
			CorrelationBracket: bracket,
			PortfolioLossPct:   c.CorrelationBrackets[bracket],
			ReferenceLossPct:   c.ReferenceDrawdownPct,
			MarketAvgLossPct:   c.MarketAvgLossPct,
		})
	}
	return out
}

// commonDates returns the ascending dates present in every holding's series
func commonDates(holdings []includedHolding) []time.Time {
	counts := make(map[time.Time]int)
	for _, h := range holdings {
		for _, rp := range h.returns {
			counts[rp.Date]++
		}
	}

	dates := make([]time.Time, 0, len(counts))
	for d, n := range counts {
		if n == len(holdings) {
			dates = append(dates, d)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// weightedReturns renormalizes weights over the surviving value and sums
// the aligned per-holding returns on each common date.
func weightedReturns(holdings []includedHolding, dates []time.Time) models.ReturnSeries {
	var remaining float64
	for _, h := range holdings {
		remaining += h.token.ValueUSD
	}

	byDate := make([]map[time.Time]float64, len(holdings))
	for i, h := range holdings {
		m := make(map[time.Time]float64, len(h.returns))
		for _, rp := range h.returns {
			m[rp.Date] = rp.Return
		}
		byDate[i] = m
	}

	out := make(models.ReturnSeries, len(dates))
	for di, d := range dates {
		var sum float64
		for i, h := range holdings {
			sum += (h.token.ValueUSD / remaining) * byDate[i][d]
		}
		out[di] = models.ReturnPoint{Date: d, Return: sum}
	}
	return out
}

// align pairs the two series on the dates they share, in date order
func align(a, b models.ReturnSeries) ([]float64, []float64) {
	bv := make(map[time.Time]float64, len(b))
	for _, rp := range b {
		bv[rp.Date] = rp.Return
	}

	xs := make([]float64, 0, len(a))
	ys := make([]float64, 0, len(a))
	for _, rp := range a {
		if v, ok := bv[rp.Date]; ok {
			xs = append(xs, rp.Return)
			ys = append(ys, v)
		}
	}
	return xs, ys
}
