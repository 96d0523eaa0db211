// Package adapter holds HTTP clients for external services: CoinGecko price
// history and remote analyzer roles.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/portfolio-guardian/internal/circuitbreaker"
	apperrors "github.com/portfolio-guardian/internal/errors"
	"github.com/portfolio-guardian/internal/logging"
	"github.com/portfolio-guardian/internal/models"
	"github.com/portfolio-guardian/internal/retry"
	"golang.org/x/time/rate"
)

const coinGeckoProvider = "coingecko"

// CoinGeckoClient downloads daily USD price history. Every call is paced by
// a shared limiter, guarded by a circuit breaker and retried with backoff.
type CoinGeckoClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *circuitbreaker.CircuitBreaker
	retry      *retry.RetryConfig
	logger     *logging.Logger
}

// CoinGeckoOption customizes a client
type CoinGeckoOption func(*CoinGeckoClient)

// WithRetryConfig overrides the backoff schedule
func WithRetryConfig(cfg *retry.RetryConfig) CoinGeckoOption {
	return func(c *CoinGeckoClient) { c.retry = cfg }
}

// WithHTTPClient overrides the HTTP client
func WithHTTPClient(hc *http.Client) CoinGeckoOption {
	return func(c *CoinGeckoClient) { c.httpClient = hc }
}

// NewCoinGeckoClient creates a client. requestsPerSecond <= 0 disables pacing.
func NewCoinGeckoClient(baseURL, apiKey string, requestsPerSecond float64, logger *logging.Logger, opts ...CoinGeckoOption) *CoinGeckoClient {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	c := &CoinGeckoClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(limit, 1),
		breaker:    circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig(coinGeckoProvider), logger),
		retry:      retry.DefaultRetryConfig(),
		logger:     logger.WithField("provider", coinGeckoProvider),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// marketChartResponse is the subset of /coins/{id}/market_chart we read
type marketChartResponse struct {
	Prices       [][2]float64 `json:"prices"`
	TotalVolumes [][2]float64 `json:"total_volumes"`
}

// FetchDailyPrices returns up to days daily closes for coinID, ascending and
// one point per UTC day. The most recent sample of a day wins.
func (c *CoinGeckoClient) FetchDailyPrices(ctx context.Context, symbol, coinID string, days int) ([]models.PricePoint, error) {
	var chart marketChartResponse
	err := retry.Do(ctx, c.retry, func(ctx context.Context, attempt int) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		return c.breaker.Execute(ctx, func(ctx context.Context) error {
			return c.getMarketChart(ctx, coinID, days, &chart)
		})
	})
	if err != nil {
		return nil, err
	}

	byDay := make(map[time.Time]float64, len(chart.Prices))
	for _, sample := range chart.Prices {
		byDay[sampleDay(sample)] = sample[1]
	}
	volumes := make(map[time.Time]float64, len(chart.TotalVolumes))
	for _, sample := range chart.TotalVolumes {
		volumes[sampleDay(sample)] = sample[1]
	}

	points := make([]models.PricePoint, 0, len(byDay))
	for day, price := range byDay {
		points = append(points, models.PricePoint{Symbol: symbol, Date: day, PriceUSD: price, VolumeUSD: volumes[day]})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })

	c.logger.WithFields(map[string]interface{}{
		"symbol": symbol,
		"coin":   coinID,
		"points": len(points),
	}).Debug("downloaded price history")
	return points, nil
}

func (c *CoinGeckoClient) getMarketChart(ctx context.Context, coinID string, days int, out *marketChartResponse) error {
	q := url.Values{}
	q.Set("vs_currency", "usd")
	q.Set("days", fmt.Sprintf("%d", days))
	q.Set("interval", "daily")
	reqURL := fmt.Sprintf("%s/coins/%s/market_chart?%s", c.baseURL, url.PathEscape(coinID), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.NewProviderError(coinGeckoProvider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.NewProviderError(coinGeckoProvider, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return apperrors.NewProviderRateLimitError(coinGeckoProvider)
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.NewNotFoundError("coin", coinID)
	case resp.StatusCode != http.StatusOK:
		return apperrors.NewProviderError(coinGeckoProvider,
			fmt.Errorf("status=%d, body=%s", resp.StatusCode, truncate(string(body), 200)))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return apperrors.NewInvalidDataError("market_chart", err.Error())
	}
	return nil
}

func sampleDay(sample [2]float64) time.Time {
	return models.DayKey(time.UnixMilli(int64(sample[0])))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
