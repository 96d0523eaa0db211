// Package provider defines the data collaborators the analysis engines consume
// and the file-backed implementations shipped with the service.
//
// Failure contract shared by every collaborator:
//   - ErrPriceNotFound: the source has no data for the symbol
//   - ErrInsufficientHistory: the source has fewer than two points for the symbol
//   - any other error: the source is unavailable and the caller decides what to do
//
// HistoricalCrashProvider never returns an error; unavailability degrades to an
// empty result which callers treat as valid.
package provider

import (
	"context"
	"errors"

	"github.com/portfolio-guardian/internal/models"
)

var (
	// ErrPriceNotFound means no price data exists for a symbol
	ErrPriceNotFound = errors.New("price series not found")
	// ErrInsufficientHistory means too few points exist to compute a return
	ErrInsufficientHistory = errors.New("insufficient price history")
)

// PriceSeriesProvider returns the most recent days daily points for a symbol,
// ascending by date.
type PriceSeriesProvider interface {
	GetPriceSeries(ctx context.Context, symbol string, days int) (models.PriceSeries, error)
}

// SectorMapProvider returns symbol -> sector name
type SectorMapProvider interface {
	SectorMap(ctx context.Context) (map[string]string, error)
}

// HistoricalCrashProvider answers historical crash queries
type HistoricalCrashProvider interface {
	Query(ctx context.Context, filter models.CrashFilter) []models.CrashRecord
}

// PortfolioSource resolves a wallet address to its holdings
type PortfolioSource interface {
	LoadPortfolio(ctx context.Context, wallet string) (*models.Portfolio, error)
}
