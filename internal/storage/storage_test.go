package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/portfolio-guardian/internal/config"
	apperrors "github.com/portfolio-guardian/internal/errors"
	"github.com/portfolio-guardian/internal/logging"
	"github.com/portfolio-guardian/internal/models"
	"github.com/portfolio-guardian/internal/provider"
	"github.com/portfolio-guardian/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitSQLStatements(t *testing.T) {
	content := `
-- leading comment
CREATE TABLE a (
    x Int32
) ENGINE = Memory;

CREATE TABLE b (y Int32) ENGINE = Memory;
SELECT 1`

	got := splitSQLStatements(content)
	require.Len(t, got, 3)
	assert.Contains(t, got[0], "CREATE TABLE a")
	assert.NotContains(t, got[0], ";")
	assert.Equal(t, "CREATE TABLE b (y Int32) ENGINE = Memory", got[1])
	assert.Equal(t, "SELECT 1", got[2])
	assert.Empty(t, splitSQLStatements("-- only a comment\n\n"))
}

func TestPostgresURL(t *testing.T) {
	cfg := &config.PostgresConfig{Host: "db", Port: "5432", Database: "portfolio_guardian", User: "guardian", Password: "p@ss"}
	assert.Equal(t, "postgres://guardian:p%40ss@db:5432/portfolio_guardian?sslmode=disable", PostgresURL(cfg))
}

func TestAnalysisRepository(t *testing.T) {
	db := testPostgres(t)
	repo := NewAnalysisRepository(db)
	ctx := testContext(t)

	wallet := "0x9aabD891ab1FaA750FAE5aba9b55623c7F69fD58"
	resp := &models.GuardianAnalysisResponse{
		RequestID:           uuid.NewString(),
		WalletAddress:       wallet,
		CorrelationAnalysis: &models.CorrelationAnalysis{Percentage: 95},
		Synthesis:           &models.GuardianSynthesis{OverallRiskLevel: types.RiskCritical, CompoundingRiskDetected: true},
		ResponseText:        "report",
		CreatedAt:           time.Now().UTC(),
	}
	require.NoError(t, repo.SaveAnalysis(ctx, resp))
	require.NoError(t, repo.SaveAnalysis(ctx, resp), "repeat save is ignored")

	got, err := repo.GetByRequestID(ctx, resp.RequestID)
	require.NoError(t, err)
	assert.Equal(t, "report", got.ResponseText)
	assert.Equal(t, types.RiskCritical, got.Synthesis.OverallRiskLevel)

	list, err := repo.ListByWallet(ctx, "0x9AABD891AB1FAA750FAE5ABA9B55623C7F69FD58", 5)
	require.NoError(t, err)
	assert.NotEmpty(t, list)

	_, err = repo.GetByRequestID(ctx, uuid.NewString())
	assert.True(t, apperrors.Is(err, apperrors.CategoryNotFound))
}

func TestPriceRepository(t *testing.T) {
	db := testClickHouse(t)
	ctx := testContext(t)
	require.NoError(t, RunClickHouseMigrations(ctx, db, "../../migrations/clickhouse", logging.NewNopLogger()))
	repo := NewPriceRepository(db)

	symbol := "T" + uuid.NewString()[:8]
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var points []models.PricePoint
	for i := 0; i < 5; i++ {
		points = append(points, models.PricePoint{Date: start.AddDate(0, 0, i), PriceUSD: float64(10 + i)})
	}
	require.NoError(t, repo.SavePrices(ctx, symbol, points))

	series, err := repo.GetPriceSeries(ctx, symbol, 3)
	require.NoError(t, err)
	require.Equal(t, 3, series.Len())
	assert.Equal(t, 12.0, series.Points[0].PriceUSD)
	assert.Equal(t, 14.0, series.Points[2].PriceUSD)

	_, err = repo.GetPriceSeries(ctx, "MISSING"+symbol, 3)
	assert.True(t, errors.Is(err, provider.ErrPriceNotFound))
}
