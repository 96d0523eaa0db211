package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/portfolio-guardian/internal/errors"
	"github.com/portfolio-guardian/internal/models"
	"github.com/portfolio-guardian/internal/provider"
)

// PriceRepository stores daily closes in ClickHouse. The daily_prices table
// is a ReplacingMergeTree keyed by (symbol, date), so re-inserting a day
// replaces it.
type PriceRepository struct {
	db *ClickHouseDB
}

// NewPriceRepository creates a new price repository
func NewPriceRepository(db *ClickHouseDB) *PriceRepository {
	return &PriceRepository{db: db}
}

// GetPriceSeries implements provider.PriceSeriesProvider
func (r *PriceRepository) GetPriceSeries(ctx context.Context, symbol string, days int) (models.PriceSeries, error) {
	symbol = strings.ToUpper(symbol)
	query := `
		SELECT date, price_usd, volume_usd
		FROM daily_prices FINAL
		WHERE symbol = ?
		ORDER BY date DESC
		LIMIT ?
	`
	rows, err := r.db.Conn().Query(ctx, query, symbol, uint64(days))
	if err != nil {
		return models.PriceSeries{}, apperrors.NewDatabaseError("query daily prices", err)
	}
	defer rows.Close()

	var desc []models.PricePoint
	for rows.Next() {
		p := models.PricePoint{Symbol: symbol}
		if err := rows.Scan(&p.Date, &p.PriceUSD, &p.VolumeUSD); err != nil {
			return models.PriceSeries{}, apperrors.NewDatabaseError("scan daily price", err)
		}
		p.Date = models.DayKey(p.Date)
		desc = append(desc, p)
	}
	if err := rows.Err(); err != nil {
		return models.PriceSeries{}, apperrors.NewDatabaseError("iterate daily prices", err)
	}

	switch len(desc) {
	case 0:
		return models.PriceSeries{}, fmt.Errorf("%w: %s", provider.ErrPriceNotFound, symbol)
	case 1:
		return models.PriceSeries{}, fmt.Errorf("%w: %s has 1 point", provider.ErrInsufficientHistory, symbol)
	}

	points := make([]models.PricePoint, len(desc))
	for i, p := range desc {
		points[len(desc)-1-i] = p
	}
	return models.PriceSeries{Symbol: symbol, Points: points}, nil
}

// SavePrices batch-inserts points for symbol
func (r *PriceRepository) SavePrices(ctx context.Context, symbol string, points []models.PricePoint) error {
	if len(points) == 0 {
		return nil
	}
	symbol = strings.ToUpper(symbol)

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO daily_prices (symbol, date, price_usd, volume_usd, updated_at)
	`)
	if err != nil {
		return apperrors.NewDatabaseError("prepare price batch", err)
	}

	now := time.Now().UTC()
	for _, p := range points {
		if err := batch.Append(symbol, models.DayKey(p.Date), p.PriceUSD, p.VolumeUSD, now); err != nil {
			_ = batch.Abort()
			return apperrors.NewDatabaseError("append price", err)
		}
	}
	if err := batch.Send(); err != nil {
		return apperrors.NewDatabaseError("send price batch", err)
	}
	return nil
}

// Symbols lists every symbol with stored prices
func (r *PriceRepository) Symbols(ctx context.Context) ([]string, error) {
	rows, err := r.db.Conn().Query(ctx, `SELECT DISTINCT symbol FROM daily_prices ORDER BY symbol`)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list price symbols", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, apperrors.NewDatabaseError("scan price symbol", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
