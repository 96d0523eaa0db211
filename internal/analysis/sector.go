package analysis

import (
	"context"

	"github.com/portfolio-guardian/internal/logging"
	"github.com/portfolio-guardian/internal/models"
	"github.com/portfolio-guardian/internal/provider"
	"github.com/portfolio-guardian/internal/types"
)

// DefaultConcentrationThreshold is the sector share above which a sector is flagged
const DefaultConcentrationThreshold = 60.0

// DefaultExtremeConcentration is the single-sector share scored as High
// Concentration on its own.
const DefaultExtremeConcentration = 90.0

// DefaultSectorCrashScenario is the crash used for sector risk and opportunity cost
const DefaultSectorCrashScenario = "crash_2022_bear"

// SectorClassifier groups holdings into sectors and scores concentration
type SectorClassifier struct {
	crashes  provider.HistoricalCrashProvider
	scenario string
	extreme  float64
	logger   *logging.Logger
}

// NewSectorClassifier creates a classifier that attributes sector risk using
// the given crash scenario.
func NewSectorClassifier(crashes provider.HistoricalCrashProvider, scenario string, logger *logging.Logger) *SectorClassifier {
	if scenario == "" {
		scenario = DefaultSectorCrashScenario
	}
	return &SectorClassifier{crashes: crashes, scenario: scenario, extreme: DefaultExtremeConcentration, logger: logger}
}

// WithExtremeThreshold overrides the single-sector High Concentration level
func (c *SectorClassifier) WithExtremeThreshold(pct float64) *SectorClassifier {
	c.extreme = pct
	return c
}

// Analyze never fails: unmapped symbols land in the Unknown Sector bucket and
// missing crash data yields an empty risk list.
func (c *SectorClassifier) Analyze(ctx context.Context, p *models.Portfolio, sectorMap map[string]string, threshold float64) *models.SectorAnalysis {
	breakdown := make(map[string]models.SectorHolding)
	var order []string
	var unknown []string

	for _, t := range p.Tokens {
		name, ok := sectorMap[t.Symbol]
		if !ok || name == "" {
			name = types.UnknownSector
			unknown = append(unknown, t.Symbol)
		}
		h, seen := breakdown[name]
		if !seen {
			h = models.SectorHolding{SectorName: name}
			order = append(order, name)
		}
		h.ValueUSD += t.ValueUSD
		h.TokenSymbols = append(h.TokenSymbols, t.Symbol)
		breakdown[name] = h
	}

	concentrated := []string{}
	for _, name := range order {
		h := breakdown[name]
		h.Percentage = h.ValueUSD / p.TotalValueUSD * 100
		breakdown[name] = h
		if h.Percentage > threshold {
			concentrated = append(concentrated, name)
		}
	}

	result := &models.SectorAnalysis{
		SectorBreakdown:      breakdown,
		ConcentratedSectors:  concentrated,
		DiversificationScore: c.score(breakdown, concentrated),
		SectorRisks:          c.sectorRisks(ctx, concentrated),
	}
	result.Narrative = SectorNarrative(result, threshold)

	log := c.logger.WithFields(map[string]interface{}{
		"wallet":       p.WalletAddress,
		"sectors":      len(order),
		"concentrated": len(concentrated),
	})
	if len(unknown) > 0 {
		log.WithField("unknown_tokens", unknown).Warn("tokens missing from sector map")
	}
	log.Info("sector analysis complete")
	return result
}

// score: none concentrated is Well-Diversified, two or more is High
// Concentration, and a single concentrated sector is Moderate unless its
// share reaches the extreme level.
func (c *SectorClassifier) score(breakdown map[string]models.SectorHolding, concentrated []string) types.DiversificationScore {
	switch len(concentrated) {
	case 0:
		return types.ScoreWellDiversified
	case 1:
		if breakdown[concentrated[0]].Percentage >= c.extreme {
			return types.ScoreHighConcentration
		}
		return types.ScoreModerateConcentration
	default:
		return types.ScoreHighConcentration
	}
}

// sectorRisks attributes historical loss and opportunity cost to the first
// concentrated sector only, so the same missed recovery is not repeated.
func (c *SectorClassifier) sectorRisks(ctx context.Context, concentrated []string) []models.SectorRisk {
	risks := []models.SectorRisk{}
	if len(concentrated) == 0 {
		return risks
	}

	records := c.crashes.Query(ctx, models.CrashFilter{ScenarioID: c.scenario})
	if len(records) == 0 {
		return risks
	}
	crash := records[0]

	sector := concentrated[0]
	loss, ok := crash.SectorPerformance[sector]
	if !ok {
		return risks
	}
	opp := bestOpportunity(crash, concentrated)
	if opp == nil {
		return risks
	}

	return append(risks, models.SectorRisk{
		SectorName:       sector,
		CrashScenario:    crash.Name,
		SectorLossPct:    loss,
		MarketAvgLossPct: crash.MarketAvgLossPct,
		CrashPeriod:      crash.Period,
		OpportunityCost:  opp,
	})
}

// bestOpportunity picks the highest recovery gain among sectors the portfolio
// is not concentrated in. Ties go to the alphabetically first sector.
func bestOpportunity(crash models.CrashRecord, concentrated []string) *models.OpportunityCost {
	skip := make(map[string]bool, len(concentrated))
	for _, s := range concentrated {
		skip[s] = true
	}

	var best *models.OpportunityCost
	for name, o := range crash.OpportunityCostSectors {
		if skip[name] {
			continue
		}
		if best == nil || o.RecoveryGainPct > best.RecoveryGainPct ||
			(o.RecoveryGainPct == best.RecoveryGainPct && name < best.MissedSector) {
			best = &models.OpportunityCost{
				MissedSector:    name,
				MissedToken:     o.BestPerformer,
				RecoveryGainPct: o.RecoveryGainPct,
				Narrative:       o.Reason,
			}
		}
	}
	return best
}
