// Package synthesis fuses a correlation result and a sector result into one
// verdict: compounding risk, an overall risk tier, a narrative that names both
// analyses, and up to three prioritized recommendations.
package synthesis

import (
	"context"
	"fmt"
	"math"
	"strings"

	apperrors "github.com/portfolio-guardian/internal/errors"
	"github.com/portfolio-guardian/internal/logging"
	"github.com/portfolio-guardian/internal/models"
	"github.com/portfolio-guardian/internal/provider"
	"github.com/portfolio-guardian/internal/types"
)

// Tier boundaries on the correlation percentage
const (
	HighCorrelationPct     = 85
	ModerateCorrelationPct = 70
	ModerateSectorPct      = 40.0
	dualRiskLossBelow      = -70.0
)

// Figures used when no historical record backs a statement
const (
	FallbackCorrelationLossPct = 73.0
	FallbackMarketLossPct      = 55.0
	FallbackCrashName          = "2022 Bear Market"
	FallbackSectorLossPct      = 75.0
	FallbackMissedGainPct      = 500.0
)

// Engine performs the synthesis step
type Engine struct {
	crashes provider.HistoricalCrashProvider
	logger  *logging.Logger
}

// NewEngine creates a synthesis engine. crashes may be nil, in which case the
// fallback crash example is always used.
func NewEngine(crashes provider.HistoricalCrashProvider, logger *logging.Logger) *Engine {
	return &Engine{crashes: crashes, logger: logger}
}

// DetectCompoundingRisk is true when correlation is high and at least one
// sector is concentrated
func DetectCompoundingRisk(correlationPct, concentratedSectors int) bool {
	return correlationPct > HighCorrelationPct && concentratedSectors > 0
}

// OverallRiskLevel ranks the two risk dimensions together
func OverallRiskLevel(correlationPct, concentratedSectors int) types.RiskLevel {
	highCorr := correlationPct > HighCorrelationPct
	concentrated := concentratedSectors > 0
	switch {
	case highCorr && concentrated:
		return types.RiskCritical
	case highCorr || concentrated:
		return types.RiskHigh
	case correlationPct >= ModerateCorrelationPct:
		return types.RiskModerate
	default:
		return types.RiskLow
	}
}

// Leverage expresses correlation as an equivalent leverage multiple
func Leverage(correlationPct int) float64 {
	return math.Round(float64(correlationPct)/30.0*10) / 10
}

// Synthesize combines both analyses. It only fails on structurally invalid
// input; missing crash history degrades to fallback figures.
func (e *Engine) Synthesize(ctx context.Context, corr *models.CorrelationAnalysis, sector *models.SectorAnalysis) (*models.GuardianSynthesis, error) {
	if corr == nil {
		return nil, apperrors.NewInvalidDataError("correlation_analysis", "missing")
	}
	if sector == nil {
		return nil, apperrors.NewInvalidDataError("sector_analysis", "missing")
	}
	if corr.Percentage < 0 || corr.Percentage > 100 {
		return nil, apperrors.NewInvalidDataError("correlation_percentage", fmt.Sprintf("%d outside [0, 100]", corr.Percentage))
	}

	pct := corr.Percentage
	concentrated := len(sector.ConcentratedSectors)
	compounding := DetectCompoundingRisk(pct, concentrated)
	level := OverallRiskLevel(pct, concentrated)

	var crash crashExample
	if compounding {
		crash = e.dualRiskCrash(ctx, pct)
	}

	result := &models.GuardianSynthesis{
		CorrelationAnalysis:     corr,
		SectorAnalysis:          sector,
		CompoundingRiskDetected: compounding,
		OverallRiskLevel:        level,
		RiskMultiplierEffect:    multiplierEffect(corr, sector, compounding),
		SynthesisNarrative:      narrative(corr, sector, compounding, crash),
		Recommendations:         recommendations(corr, sector, compounding, level),
	}

	e.logger.WithFields(map[string]interface{}{
		"correlation_pct": pct,
		"concentrated":    concentrated,
		"risk_level":      level,
		"compounding":     compounding,
		"recommendations": len(result.Recommendations),
	}).Info("synthesis complete")
	return result, nil
}

// crashExample is the historical loss quoted in a compounding-risk narrative
type crashExample struct {
	name      string
	lossPct   float64
	marketPct float64
}

// dualRiskCrash looks up the worst crash recorded for the correlation bracket
// with a loss deeper than -70%. Without history it returns the fallback example.
func (e *Engine) dualRiskCrash(ctx context.Context, pct int) crashExample {
	fallback := crashExample{name: FallbackCrashName, lossPct: FallbackCorrelationLossPct, marketPct: FallbackMarketLossPct}
	if e.crashes == nil {
		return fallback
	}
	bracket := models.Bracket80To90
	if pct > 90 {
		bracket = models.BracketAbove90
	}
	loss := dualRiskLossBelow
	records := e.crashes.Query(ctx, models.CrashFilter{CorrelationBracket: bracket, LossBelow: &loss})
	if len(records) == 0 {
		e.logger.WithField("bracket", bracket).Warn("no dual-risk crash history, using fallback example")
		return fallback
	}

	worst := records[0]
	for _, r := range records[1:] {
		if r.CorrelationBrackets[bracket] < worst.CorrelationBrackets[bracket] {
			worst = r
		}
	}
	return crashExample{
		name:      worst.Name,
		lossPct:   math.Abs(worst.CorrelationBrackets[bracket]),
		marketPct: math.Abs(worst.MarketAvgLossPct),
	}
}

func primarySector(sector *models.SectorAnalysis) (string, float64) {
	if len(sector.ConcentratedSectors) == 0 {
		return "", 0
	}
	name := sector.ConcentratedSectors[0]
	return name, sector.SectorBreakdown[name].Percentage
}

func multiplierEffect(corr *models.CorrelationAnalysis, sector *models.SectorAnalysis, compounding bool) string {
	if !compounding {
		return fmt.Sprintf("Your %d%% correlation creates moderate %s exposure, but diversified sector allocation limits amplification risk.",
			corr.Percentage, reference(corr))
	}
	name, share := primarySector(sector)
	return fmt.Sprintf("Your %d%% %s correlation acts like %.1fx leverage, and %.0f%% %s concentration means when %s crashes, your entire portfolio amplifies the loss.",
		corr.Percentage, reference(corr), Leverage(corr.Percentage), share, name, name)
}

func narrative(corr *models.CorrelationAnalysis, sector *models.SectorAnalysis, compounding bool, crash crashExample) string {
	ref := reference(corr)
	correlationAgent := types.RoleCorrelation.DisplayName()
	sectorAgent := types.RoleSector.DisplayName()

	var b strings.Builder
	if compounding {
		name, share := primarySector(sector)
		fmt.Fprintf(&b, "As %s showed, your %d%% %s correlation creates significant exposure to %s price movements. ",
			correlationAgent, corr.Percentage, ref, ref)
		fmt.Fprintf(&b, "%s revealed that your %.0f%% %s concentration amplifies this risk through sector-specific vulnerabilities. ",
			sectorAgent, share, name)
		fmt.Fprintf(&b, "Combining these insights reveals a compounding risk pattern: this structure acts like %.1fx leverage to %s movements. ",
			Leverage(corr.Percentage), ref)
		fmt.Fprintf(&b, "In the %s, portfolios with this dual-risk structure lost %.0f%%, against a %.0f%% market average. ",
			crash.name, crash.lossPct, crash.marketPct)
		fmt.Fprintf(&b, "%s sector exposure amplifies %s correlation: when both crash together, losses multiply.", name, ref)
		return b.String()
	}

	fmt.Fprintf(&b, "%s measured your %s correlation at %d%% (%s). ", correlationAgent, ref, corr.Percentage, corr.Interpretation)
	if name, share := primarySector(sector); name != "" {
		fmt.Fprintf(&b, "%s flagged %.0f%% concentration in %s. ", sectorAgent, share, name)
	} else {
		fmt.Fprintf(&b, "According to %s, no sector is concentrated (score: %s). ", sectorAgent, sector.DiversificationScore)
	}
	if corr.Percentage > HighCorrelationPct {
		b.WriteString("The correlation risk stands on its own without sector amplification, so the two risks do not compound.")
	} else {
		b.WriteString("Combining these findings, this structure limits compounding risk.")
	}
	if len(corr.HistoricalContext) > 0 {
		c := corr.HistoricalContext[0]
		fmt.Fprintf(&b, " During the %s, portfolios at your correlation level lost around %.0f%%, against a %.0f%% market average.",
			c.CrashName, math.Abs(c.PortfolioLossPct), math.Abs(c.MarketAvgLossPct))
	}
	return b.String()
}

func reference(corr *models.CorrelationAnalysis) string {
	if corr.ReferenceSymbol == "" {
		return "ETH"
	}
	return corr.ReferenceSymbol
}

// recommendations returns at most three actions ordered by priority:
// Low gets one maintain action, compounding gets sector then correlation then
// ordering advice, single-dimension High gets that dimension, Moderate gets
// one per dimension past its moderate line.
func recommendations(corr *models.CorrelationAnalysis, sector *models.SectorAnalysis, compounding bool, level types.RiskLevel) []models.Recommendation {
	recs := []models.Recommendation{}
	switch {
	case level == types.RiskLow:
		recs = append(recs, maintainRecommendation(corr, sector))
	case compounding:
		name, share := primarySector(sector)
		recs = append(recs,
			sectorRecommendation(sector, name, share, 1),
			correlationRecommendation(corr, 2),
			prioritizationRecommendation(),
		)
	case corr.Percentage > HighCorrelationPct:
		recs = append(recs, correlationRecommendation(corr, 1))
	case len(sector.ConcentratedSectors) > 0:
		name, share := primarySector(sector)
		recs = append(recs, sectorRecommendation(sector, name, share, 1))
	default:
		if corr.Percentage >= ModerateCorrelationPct {
			recs = append(recs, correlationRecommendation(corr, len(recs)+1))
		}
		if sectors := sector.SectorsByPercentage(); len(sectors) > 0 && sectors[0].Percentage > ModerateSectorPct {
			recs = append(recs, sectorRecommendation(sector, sectors[0].SectorName, sectors[0].Percentage, len(recs)+1))
		}
	}
	return recs
}

func correlationRecommendation(corr *models.CorrelationAnalysis, priority int) models.Recommendation {
	ref := reference(corr)
	loss, market, crash := FallbackCorrelationLossPct, FallbackMarketLossPct, FallbackCrashName
	if len(corr.HistoricalContext) > 0 {
		c := corr.HistoricalContext[0]
		loss, market, crash = math.Abs(c.PortfolioLossPct), math.Abs(c.MarketAvgLossPct), c.CrashName
	}

	return models.Recommendation{
		Priority: priority,
		Action: fmt.Sprintf("Add uncorrelated assets (Bitcoin, Alternative Layer-1s, or Stablecoins) to reduce %s correlation from %d%% to below 80%%",
			ref, corr.Percentage),
		Rationale: fmt.Sprintf("High %s correlation means your portfolio moves in lockstep with %s. Portfolios at your %d%% correlation lost %.0f%% in the %s.",
			ref, ref, corr.Percentage, loss, crash),
		ExpectedImpact: fmt.Sprintf("Reducing correlation to 75-80%% would have limited %s losses to roughly %.0f%% instead of %.0f%%.",
			crash, market*0.9, loss),
	}
}

func sectorRecommendation(sector *models.SectorAnalysis, name string, share float64, priority int) models.Recommendation {
	loss, crash, missed := FallbackSectorLossPct, FallbackCrashName, FallbackMissedGainPct
	for _, r := range sector.SectorRisks {
		if r.SectorName != name {
			continue
		}
		loss, crash = math.Abs(r.SectorLossPct), r.CrashScenario
		if r.OpportunityCost != nil {
			missed = r.OpportunityCost.RecoveryGainPct
		}
		break
	}

	return models.Recommendation{
		Priority: priority,
		Action:   fmt.Sprintf("Reduce %s token concentration from %.0f%% to below 40%%", name, share),
		Rationale: fmt.Sprintf("Over-concentration in %s means single-sector crashes disproportionately impact your portfolio. %s lost %.0f%% in the %s.",
			name, name, loss, crash),
		ExpectedImpact: fmt.Sprintf("Reducing sector concentration would have limited losses and positioned the portfolio for the %.0f%% recovery gains missed afterwards.",
			missed),
	}
}

func prioritizationRecommendation() models.Recommendation {
	return models.Recommendation{
		Priority: 3,
		Action:   "Prioritize sector diversification before correlation reduction",
		Rationale: "When high correlation and high sector concentration are both present, sector concentration amplifies correlation risk. " +
			"Bringing every sector below 40% also lowers correlation as diversified assets are added.",
		ExpectedImpact: "Addressing sector concentration first reduces both risk dimensions at once.",
	}
}

func maintainRecommendation(corr *models.CorrelationAnalysis, sector *models.SectorAnalysis) models.Recommendation {
	sectors := sector.SectorsByPercentage()
	if len(sectors) > 3 {
		sectors = sectors[:3]
	}
	parts := make([]string, len(sectors))
	for i, s := range sectors {
		parts[i] = fmt.Sprintf("%s (%.0f%%)", s.SectorName, s.Percentage)
	}

	market := FallbackMarketLossPct
	if len(corr.HistoricalContext) > 0 {
		market = math.Abs(corr.HistoricalContext[0].MarketAvgLossPct)
	}

	return models.Recommendation{
		Priority: 1,
		Action:   "Maintain current balanced portfolio structure",
		Rationale: fmt.Sprintf("Your %d%% %s correlation and diversified sector allocation (%s) limit compounding risk. Comparable portfolios tracked the %.0f%% market average in past crashes.",
			corr.Percentage, reference(corr), strings.Join(parts, ", "), market),
		ExpectedImpact: "Review correlation and sector concentration quarterly. Set alerts if any sector exceeds 40% or correlation exceeds 80%.",
	}
}
