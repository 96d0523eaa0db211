package analysis

import (
	"context"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/portfolio-guardian/internal/logging"
	"github.com/portfolio-guardian/internal/models"
	"github.com/portfolio-guardian/internal/provider"
	"github.com/portfolio-guardian/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultSectorMap(t *testing.T) map[string]string {
	t.Helper()
	m, err := provider.NewFileSectorMap("")
	require.NoError(t, err)
	sectors, err := m.SectorMap(context.Background())
	require.NoError(t, err)
	return sectors
}

func newClassifier() *SectorClassifier {
	return NewSectorClassifier(testCrashes(), "", logging.NewNopLogger())
}

func TestSectorClassifier_GovernanceMaximalist(t *testing.T) {
	p := mustPortfolio(t,
		holding("UNI", 32100),
		holding("AAVE", 23575),
		holding("COMP", 23760),
		holding("MKR", 18966),
		holding("MATIC", 9360),
	)

	res := newClassifier().Analyze(context.Background(), p, defaultSectorMap(t), DefaultConcentrationThreshold)
	require.NoError(t, res.Validate())

	gov := res.SectorBreakdown["DeFi Governance"]
	assert.InDelta(t, 91.3, gov.Percentage, 0.05)
	assert.Equal(t, []string{"UNI", "AAVE", "COMP", "MKR"}, gov.TokenSymbols)
	assert.Equal(t, []string{"DeFi Governance"}, res.ConcentratedSectors)
	assert.Equal(t, types.ScoreHighConcentration, res.DiversificationScore)

	require.Len(t, res.SectorRisks, 1)
	risk := res.SectorRisks[0]
	assert.Equal(t, "DeFi Governance", risk.SectorName)
	assert.Equal(t, "2022 Bear Market", risk.CrashScenario)
	assert.Equal(t, -75.0, risk.SectorLossPct)
	assert.Equal(t, -55.0, risk.MarketAvgLossPct)
	require.NotNil(t, risk.OpportunityCost)
	assert.Equal(t, "Layer-1 Alts", risk.OpportunityCost.MissedSector)
	assert.Equal(t, "SOL", risk.OpportunityCost.MissedToken)
	assert.Equal(t, 500.0, risk.OpportunityCost.RecoveryGainPct)

	assert.Contains(t, res.Narrative, "⚠️ HIGH CONCENTRATION: 91.3% of your portfolio is in DeFi Governance tokens")
	assert.Contains(t, res.Narrative, "Diversification Score: High Concentration")
	assert.Contains(t, res.Narrative, "lost 75% during the 2022 Bear Market")
	assert.Contains(t, res.Narrative, "SOL gained 500%")
}

func TestSectorClassifier_Scoring(t *testing.T) {
	sectors := defaultSectorMap(t)
	ctx := context.Background()

	tests := []struct {
		name         string
		holdings     []models.TokenHolding
		threshold    float64
		concentrated []string
		score        types.DiversificationScore
		risks        int
	}{
		{
			name:      "balanced",
			holdings:  []models.TokenHolding{holding("UNI", 30), holding("OP", 30), holding("SOL", 40)},
			threshold: 60,
			score:     types.ScoreWellDiversified,
		},
		{
			name:      "exactly at threshold is not concentrated",
			holdings:  []models.TokenHolding{holding("UNI", 60), holding("OP", 40)},
			threshold: 60,
			score:     types.ScoreWellDiversified,
		},
		{
			name:         "single sector below extreme level",
			holdings:     []models.TokenHolding{holding("UNI", 70), holding("OP", 30)},
			threshold:    60,
			concentrated: []string{"DeFi Governance"},
			score:        types.ScoreModerateConcentration,
			risks:        1,
		},
		{
			name:         "two concentrated sectors",
			holdings:     []models.TokenHolding{holding("UNI", 45), holding("OP", 40), holding("USDC", 15)},
			threshold:    30,
			concentrated: []string{"DeFi Governance", "Layer-2"},
			score:        types.ScoreHighConcentration,
			risks:        1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := newClassifier().Analyze(ctx, mustPortfolio(t, tt.holdings...), sectors, tt.threshold)
			if tt.concentrated == nil {
				assert.Empty(t, res.ConcentratedSectors)
			} else {
				assert.Equal(t, tt.concentrated, res.ConcentratedSectors)
			}
			assert.Equal(t, tt.score, res.DiversificationScore)
			assert.Len(t, res.SectorRisks, tt.risks)
		})
	}
}

func TestSectorClassifier_RiskOnlyForFirstConcentratedSector(t *testing.T) {
	p := mustPortfolio(t, holding("UNI", 45), holding("SOL", 40), holding("USDC", 15))
	res := newClassifier().Analyze(context.Background(), p, defaultSectorMap(t), 30)

	require.Len(t, res.SectorRisks, 1)
	assert.Equal(t, "DeFi Governance", res.SectorRisks[0].SectorName)
	// Layer-1 Alts is concentrated, so the next best recovery is Layer-2
	assert.Equal(t, "Layer-2", res.SectorRisks[0].OpportunityCost.MissedSector)
	assert.Equal(t, "OP", res.SectorRisks[0].OpportunityCost.MissedToken)
}

func TestSectorClassifier_UnknownSector(t *testing.T) {
	p := mustPortfolio(t, holding("UNI", 50), holding("PEPE2", 50))
	res := newClassifier().Analyze(context.Background(), p, defaultSectorMap(t), DefaultConcentrationThreshold)

	unknown, ok := res.SectorBreakdown[types.UnknownSector]
	require.True(t, ok)
	assert.Equal(t, []string{"PEPE2"}, unknown.TokenSymbols)
	assert.InDelta(t, 50.0, unknown.Percentage, 1e-9)
	assert.Equal(t, types.ScoreWellDiversified, res.DiversificationScore)
	assert.Contains(t, res.Narrative, "Well-diversified across sectors, no concentration warnings.")
}

func TestSectorClassifier_CrashDataUnavailable(t *testing.T) {
	classifier := NewSectorClassifier(provider.NewCrashDatasetFromRecords(nil, logging.NewNopLogger()), "", logging.NewNopLogger())
	p := mustPortfolio(t, holding("UNI", 95), holding("OP", 5))

	res := classifier.Analyze(context.Background(), p, defaultSectorMap(t), DefaultConcentrationThreshold)
	assert.Equal(t, []string{"DeFi Governance"}, res.ConcentratedSectors)
	assert.NotNil(t, res.SectorRisks)
	assert.Empty(t, res.SectorRisks)
	assert.Contains(t, res.Narrative, "Historical sector crash data unavailable.")
	assert.NotContains(t, res.Narrative, "no concentration warnings")
}

func TestSectorClassifier_ExtremeThresholdOverride(t *testing.T) {
	p := mustPortfolio(t, holding("UNI", 80), holding("OP", 20))
	res := newClassifier().WithExtremeThreshold(75).Analyze(context.Background(), p, defaultSectorMap(t), DefaultConcentrationThreshold)
	assert.Equal(t, types.ScoreHighConcentration, res.DiversificationScore)
}

func TestSectorClassifierProperties(t *testing.T) {
	sectors := map[string]string{"A": "Alpha", "B": "Beta", "C": "Gamma", "D": "Alpha"}
	classifier := newClassifier()

	properties := gopter.NewProperties(nil)
	properties.Property("sector percentages sum to 100 and values to the total", prop.ForAll(
		func(a, b, c, d int) bool {
			holdings := []models.TokenHolding{
				holding("A", float64(a)), holding("B", float64(b)),
				holding("C", float64(c)), holding("D", float64(d)),
			}
			total := float64(a + b + c + d)
			p, err := models.NewPortfolio(testWallet, holdings, total)
			if err != nil {
				return false
			}
			res := classifier.Analyze(context.Background(), p, sectors, DefaultConcentrationThreshold)

			var pct, value float64
			for _, h := range res.SectorBreakdown {
				pct += h.Percentage
				value += h.ValueUSD
			}
			return math.Abs(pct-100) < 1e-6 && math.Abs(value-total) < 1e-6 && len(res.SectorBreakdown) == 3
		},
		gen.IntRange(1, 100000),
		gen.IntRange(1, 100000),
		gen.IntRange(1, 100000),
		gen.IntRange(1, 100000),
	))

	properties.Property("concentrated sectors are exactly those above the threshold", prop.ForAll(
		func(a, b, c int, threshold float64) bool {
			p, err := models.NewPortfolio(testWallet, []models.TokenHolding{
				holding("A", float64(a)), holding("B", float64(b)), holding("C", float64(c)),
			}, float64(a+b+c))
			if err != nil {
				return false
			}
			res := classifier.Analyze(context.Background(), p, sectors, threshold)
			flagged := make(map[string]bool)
			for _, s := range res.ConcentratedSectors {
				flagged[s] = true
			}
			for name, h := range res.SectorBreakdown {
				if flagged[name] != (h.Percentage > threshold) {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 1000),
		gen.IntRange(1, 1000),
		gen.IntRange(1, 1000),
		gen.Float64Range(10, 90),
	))

	properties.TestingRun(t)
}
