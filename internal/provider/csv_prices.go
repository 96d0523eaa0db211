package provider

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/portfolio-guardian/internal/models"
)

// CSVPriceProvider reads daily prices from <dir>/<SYMBOL>.csv files with a
// date,price_usd,volume_usd header.
type CSVPriceProvider struct {
	dir string
}

// NewCSVPriceProvider creates a provider rooted at dir
func NewCSVPriceProvider(dir string) *CSVPriceProvider {
	return &CSVPriceProvider{dir: dir}
}

// GetPriceSeries implements PriceSeriesProvider
func (p *CSVPriceProvider) GetPriceSeries(ctx context.Context, symbol string, days int) (models.PriceSeries, error) {
	symbol = strings.ToUpper(symbol)
	f, err := os.Open(filepath.Join(p.dir, symbol+".csv"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return models.PriceSeries{}, fmt.Errorf("%w: %s", ErrPriceNotFound, symbol)
		}
		return models.PriceSeries{}, fmt.Errorf("open prices for %s: %w", symbol, err)
	}
	defer f.Close()

	points, err := parsePriceCSV(symbol, f)
	if err != nil {
		return models.PriceSeries{}, err
	}

	series := models.PriceSeries{Symbol: symbol, Points: points}.Tail(days)
	if series.Len() < 2 {
		return models.PriceSeries{}, fmt.Errorf("%w: %s has %d points", ErrInsufficientHistory, symbol, series.Len())
	}
	return series, nil
}

func parsePriceCSV(symbol string, r io.Reader) ([]models.PricePoint, error) {
	reader := csv.NewReader(r)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read prices for %s: %w", symbol, err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	col := map[string]int{}
	for i, h := range records[0] {
		col[strings.TrimSpace(strings.ToLower(h))] = i
	}
	dateCol, okDate := col["date"]
	priceCol, okPrice := col["price_usd"]
	volCol, okVol := col["volume_usd"]
	if !okDate || !okPrice {
		return nil, fmt.Errorf("prices for %s: header must contain date and price_usd", symbol)
	}

	byDay := make(map[time.Time]models.PricePoint, len(records)-1)
	for line, rec := range records[1:] {
		day, err := time.Parse("2006-01-02", strings.TrimSpace(rec[dateCol]))
		if err != nil {
			return nil, fmt.Errorf("prices for %s line %d: %w", symbol, line+2, err)
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(rec[priceCol]), 64)
		if err != nil {
			return nil, fmt.Errorf("prices for %s line %d: %w", symbol, line+2, err)
		}
		var volume float64
		if okVol && volCol < len(rec) {
			volume, _ = strconv.ParseFloat(strings.TrimSpace(rec[volCol]), 64)
		}
		// later rows for the same day win
		byDay[day] = models.PricePoint{Symbol: symbol, Date: day, PriceUSD: price, VolumeUSD: volume}
	}

	points := make([]models.PricePoint, 0, len(byDay))
	for _, p := range byDay {
		points = append(points, p)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	return points, nil
}

// writePriceCSV is swapped in tests to simulate a failed write
var writePriceCSV = WritePriceCSV

// SavePrices replaces the CSV file for symbol with points. The temporary file
// is removed whenever the replace does not complete.
func (p *CSVPriceProvider) SavePrices(ctx context.Context, symbol string, points []models.PricePoint) (err error) {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(p.dir, strings.ToUpper(symbol)+".csv")
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(tmp)
		}
	}()

	if err := writePriceCSV(f, points); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// WritePriceCSV writes points in the format CSVPriceProvider reads
func WritePriceCSV(w io.Writer, points []models.PricePoint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"date", "price_usd", "volume_usd"}); err != nil {
		return err
	}
	for _, p := range points {
		if err := cw.Write([]string{
			p.Date.UTC().Format("2006-01-02"),
			strconv.FormatFloat(p.PriceUSD, 'f', -1, 64),
			strconv.FormatFloat(p.VolumeUSD, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
