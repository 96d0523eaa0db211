// Package analysis holds the statistical engines: day-over-day returns,
// portfolio correlation against a reference asset and sector concentration.
package analysis

import (
	"fmt"
	"math"

	apperrors "github.com/portfolio-guardian/internal/errors"
	"github.com/portfolio-guardian/internal/models"
	"gonum.org/v1/gonum/stat"
)

// Returns converts N prices into N-1 fractional returns dated by the later day
func Returns(series models.PriceSeries) (models.ReturnSeries, error) {
	n := series.Len()
	if n < 2 {
		return nil, apperrors.NewInvalidDataError("price_series",
			fmt.Sprintf("%s needs at least 2 prices to compute returns, got %d", series.Symbol, n))
	}

	out := make(models.ReturnSeries, 0, n-1)
	for i := 1; i < n; i++ {
		prev := series.Points[i-1].PriceUSD
		if prev <= 0 || math.IsNaN(prev) {
			return nil, apperrors.NewInvalidDataError("price_series",
				fmt.Sprintf("%s has non-positive price %v on %s", series.Symbol, prev,
					series.Points[i-1].Date.Format("2006-01-02")))
		}
		out = append(out, models.ReturnPoint{
			Date:   models.DayKey(series.Points[i].Date),
			Return: (series.Points[i].PriceUSD - prev) / prev,
		})
	}
	return out, nil
}

// Pearson returns the correlation of x and y in [-1, 1]. Undefined results
// (constant or mismatched series) are 0.
func Pearson(x, y []float64) float64 {
	if len(x) != len(y) || len(x) < 2 {
		return 0
	}
	if identical(x, y) {
		if stat.Variance(x, nil) == 0 {
			return 0
		}
		return 1
	}

	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return math.Max(-1, math.Min(1, r))
}

func identical(x, y []float64) bool {
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}
