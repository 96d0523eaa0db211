package models

import "time"

// PricePoint is one daily close for a symbol
type PricePoint struct {
	Symbol    string    `json:"symbol" ch:"symbol"`
	Date      time.Time `json:"date" ch:"date"`
	PriceUSD  float64   `json:"price_usd" ch:"price_usd"`
	VolumeUSD float64   `json:"volume_usd" ch:"volume_usd"`
}

// PriceSeries is an ascending run of daily prices for one symbol
type PriceSeries struct {
	Symbol string       `json:"symbol"`
	Points []PricePoint `json:"points"`
}

// Len returns the number of price points
func (s PriceSeries) Len() int { return len(s.Points) }

// Tail returns the last n points (all of them when n exceeds the length)
func (s PriceSeries) Tail(n int) PriceSeries {
	if n <= 0 || n >= len(s.Points) {
		return s
	}
	return PriceSeries{Symbol: s.Symbol, Points: s.Points[len(s.Points)-n:]}
}

// ReturnPoint is a day-over-day fractional return dated by the later day
type ReturnPoint struct {
	Date   time.Time `json:"date"`
	Return float64   `json:"return"`
}

// ReturnSeries is ascending by date with no duplicate dates
type ReturnSeries []ReturnPoint

// Values returns the bare return values in date order
func (r ReturnSeries) Values() []float64 {
	out := make([]float64, len(r))
	for i, p := range r {
		out[i] = p.Return
	}
	return out
}

// DayKey normalizes a timestamp to its UTC calendar day
func DayKey(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
