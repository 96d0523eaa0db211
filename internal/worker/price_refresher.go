// Package worker runs the background price refresh that keeps the daily
// price store current for the correlation engine.
package worker

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/portfolio-guardian/internal/logging"
	"github.com/portfolio-guardian/internal/models"
)

// MinCoverage is the share of requested days below which a download is
// logged as thin. Thin downloads are still stored.
const MinCoverage = 0.9

// PriceFetcher downloads daily closes for one coin
type PriceFetcher interface {
	FetchDailyPrices(ctx context.Context, symbol, coinID string, days int) ([]models.PricePoint, error)
}

// PriceSink persists daily closes for one symbol
type PriceSink interface {
	SavePrices(ctx context.Context, symbol string, points []models.PricePoint) error
}

// CacheInvalidator drops cached series after a refresh
type CacheInvalidator interface {
	Invalidate(ctx context.Context, symbol string) error
}

// RefreshReport summarizes one refresh run
type RefreshReport struct {
	Refreshed []string          `json:"refreshed"`
	Failed    map[string]string `json:"failed"`
	Duration  time.Duration     `json:"duration"`
}

// PriceRefresher downloads and stores history for every mapped symbol
type PriceRefresher struct {
	fetcher PriceFetcher
	sink    PriceSink
	cache   CacheInvalidator
	coins   map[string]string
	days    int
	logger  *logging.Logger

	running atomic.Bool
}

// NewPriceRefresher creates a refresher for coins (symbol -> CoinGecko id).
// cache may be nil.
func NewPriceRefresher(fetcher PriceFetcher, sink PriceSink, cache CacheInvalidator, coins map[string]string, days int, logger *logging.Logger) *PriceRefresher {
	return &PriceRefresher{
		fetcher: fetcher,
		sink:    sink,
		cache:   cache,
		coins:   coins,
		days:    days,
		logger:  logger.WithField("job", "price_refresh"),
	}
}

// Name implements Job
func (r *PriceRefresher) Name() string { return "price_refresh" }

// Run implements Job
func (r *PriceRefresher) Run(ctx context.Context) error {
	_, err := r.Refresh(ctx)
	return err
}

// Refresh downloads every symbol in turn. A failing symbol is recorded and
// skipped; the run fails only if nothing could be refreshed. Overlapping
// runs are refused.
func (r *PriceRefresher) Refresh(ctx context.Context) (*RefreshReport, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("price refresh already running")
	}
	defer r.running.Store(false)

	start := time.Now()
	report := &RefreshReport{Failed: make(map[string]string)}

	symbols := make([]string, 0, len(r.coins))
	for sym := range r.coins {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := r.refreshSymbol(ctx, sym, r.coins[sym]); err != nil {
			report.Failed[sym] = err.Error()
			r.logger.WithField("symbol", sym).WithError(err).Warn("price refresh failed for symbol")
			continue
		}
		report.Refreshed = append(report.Refreshed, sym)
	}

	report.Duration = time.Since(start)
	r.logger.WithFields(map[string]interface{}{
		"refreshed": len(report.Refreshed),
		"failed":    len(report.Failed),
		"duration":  report.Duration,
	}).Info("price refresh complete")

	if len(report.Refreshed) == 0 && len(report.Failed) > 0 {
		return report, fmt.Errorf("price refresh failed for all %d symbols", len(report.Failed))
	}
	return report, nil
}

func (r *PriceRefresher) refreshSymbol(ctx context.Context, symbol, coinID string) error {
	points, err := r.fetcher.FetchDailyPrices(ctx, symbol, coinID, r.days)
	if err != nil {
		return err
	}
	if err := ValidatePrices(points); err != nil {
		return err
	}
	if float64(len(points)) < float64(r.days)*MinCoverage {
		r.logger.WithFields(map[string]interface{}{
			"symbol":   symbol,
			"points":   len(points),
			"expected": r.days,
		}).Warn("downloaded fewer days than requested")
	}

	if err := r.sink.SavePrices(ctx, symbol, points); err != nil {
		return err
	}
	if r.cache != nil {
		if err := r.cache.Invalidate(ctx, symbol); err != nil {
			r.logger.WithField("symbol", symbol).WithError(err).Warn("failed to invalidate cached prices")
		}
	}
	return nil
}

// ValidatePrices rejects empty downloads and any zero or negative value
func ValidatePrices(points []models.PricePoint) error {
	if len(points) == 0 {
		return fmt.Errorf("no price points returned")
	}
	zero := 0
	for _, p := range points {
		if p.PriceUSD < 0 || p.VolumeUSD < 0 {
			return fmt.Errorf("negative value on %s", p.Date.Format("2006-01-02"))
		}
		if p.PriceUSD == 0 {
			zero++
		}
	}
	if zero > 0 {
		return fmt.Errorf("%d zero prices found", zero)
	}
	return nil
}
