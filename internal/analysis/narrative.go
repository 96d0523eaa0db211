package analysis

import (
	"fmt"
	"math"
	"strings"

	"github.com/portfolio-guardian/internal/models"
	"github.com/portfolio-guardian/internal/types"
)

// CorrelationNarrative renders the plain-English explanation of a correlation result
func CorrelationNarrative(c *models.CorrelationAnalysis) string {
	direction, adjective := "positively", "positive"
	if c.Coefficient < 0 {
		direction, adjective = "negatively", "negative"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Your portfolio is %d%% %s correlated to %s over the past %d days. This is %s correlation.",
		c.Percentage, direction, c.ReferenceSymbol, c.CalculationPeriodDays, c.Interpretation)

	if len(c.HistoricalContext) == 0 {
		fmt.Fprintf(&b, " This indicates %s %s correlation. Historical crash data unavailable.",
			strings.ToLower(string(c.Interpretation)), adjective)
	} else {
		b.WriteString("\n\nHistorical crash performance for portfolios at your correlation level:")
		for _, cp := range c.HistoricalContext {
			fmt.Fprintf(&b, "\n- %s (%s): Portfolios at your correlation level lost an average of %.0f%% (%s dropped %.0f%%), compared to %.0f%% market average.",
				cp.CrashName, cp.Period, math.Abs(cp.PortfolioLossPct), c.ReferenceSymbol,
				math.Abs(cp.ReferenceLossPct), math.Abs(cp.MarketAvgLossPct))
		}

		switch c.Interpretation {
		case types.InterpretationHigh:
			fmt.Fprintf(&b, "\n\nThis high correlation means your portfolio moves almost in lockstep with %s, amplifying both gains and losses. "+
				"When %s crashes, your portfolio will likely crash just as hard. "+
				"Adding uncorrelated assets such as Bitcoin, stablecoins or alternative Layer-1s would reduce this exposure.",
				c.ReferenceSymbol, c.ReferenceSymbol)
		case types.InterpretationModerate:
			fmt.Fprintf(&b, "\n\nThis moderate correlation gives your portfolio some independence from %s, but exposure is still significant. "+
				"Keep balancing %s-linked positions with uncorrelated assets to improve risk-adjusted returns.",
				c.ReferenceSymbol, c.ReferenceSymbol)
		case types.InterpretationLow:
			fmt.Fprintf(&b, "\n\nYour portfolio is well diversified away from %s price movements. "+
				"Keep holding uncorrelated assets to preserve this benefit.", c.ReferenceSymbol)
		}
	}

	if len(c.ExcludedHoldings) > 0 {
		parts := make([]string, len(c.ExcludedHoldings))
		for i, e := range c.ExcludedHoldings {
			parts[i] = fmt.Sprintf("%s ($%.2f, %s)", e.Symbol, e.ValueUSD, e.Reason)
		}
		fmt.Fprintf(&b, "\n\nExcluded from the calculation: %s.", strings.Join(parts, "; "))
	}
	return b.String()
}

// SectorNarrative renders the sector breakdown, warnings and historical risk
func SectorNarrative(s *models.SectorAnalysis, threshold float64) string {
	var b strings.Builder

	sectors := s.SectorsByPercentage()
	if s.DiversificationScore == types.ScoreWellDiversified {
		fmt.Fprintf(&b, "Your portfolio is well-diversified across %d sectors:\n", len(sectors))
	} else {
		fmt.Fprintf(&b, "Your portfolio is distributed across %d sectors:\n", len(sectors))
	}
	for _, h := range sectors {
		fmt.Fprintf(&b, "\n- %s: %.1f%% ($%.2f USD) - %s", h.SectorName, h.Percentage, h.ValueUSD, strings.Join(h.TokenSymbols, ", "))
	}

	if len(s.ConcentratedSectors) > 0 {
		b.WriteString("\n")
		for _, name := range s.ConcentratedSectors {
			fmt.Fprintf(&b, "\n⚠️ HIGH CONCENTRATION: %.1f%% of your portfolio is in %s tokens. "+
				"This creates dangerous sector risk - if %s crashes, your entire portfolio is exposed.",
				s.SectorBreakdown[name].Percentage, name, name)
		}
	}

	fmt.Fprintf(&b, "\n\nDiversification Score: %s", s.DiversificationScore)
	switch s.DiversificationScore {
	case types.ScoreWellDiversified:
		fmt.Fprintf(&b, "\n\nNo sector exceeds %.0f%% concentration. Spreading value across sectors limits the damage a single-sector crash can do.", threshold)
	case types.ScoreModerateConcentration:
		fmt.Fprintf(&b, "\n\nOne sector exceeds %.0f%% concentration. Diversifying into uncorrelated sectors would reduce this risk.", threshold)
	case types.ScoreHighConcentration:
		b.WriteString("\n\nYour portfolio is extremely concentrated. Diversifying into uncorrelated sectors such as Stablecoins, "+
			"Layer-1 Alts or different DeFi categories would reduce this compounding risk.")
	}

	switch {
	case len(s.SectorRisks) > 0:
		b.WriteString(SectorRiskNarrative(s.SectorRisks))
	case len(s.ConcentratedSectors) > 0:
		b.WriteString("\n\nHistorical sector crash data unavailable.")
	default:
		b.WriteString(SectorRiskNarrative(nil))
	}
	return b.String()
}

// SectorRiskNarrative describes historical losses and missed recoveries
func SectorRiskNarrative(risks []models.SectorRisk) string {
	if len(risks) == 0 {
		return "\n\nWell-diversified across sectors, no concentration warnings."
	}

	var b strings.Builder
	for _, r := range risks {
		fmt.Fprintf(&b, "\n\n📉 Historical Risk:\nYour %s concentration lost %.0f%% during the %s (%s), compared to %.0f%% market average.",
			r.SectorName, math.Abs(r.SectorLossPct), r.CrashScenario, r.CrashPeriod, math.Abs(r.MarketAvgLossPct))
		if o := r.OpportunityCost; o != nil {
			fmt.Fprintf(&b, " Meanwhile, %s tokens like %s gained %.0f%% during recovery. %s",
				o.MissedSector, o.MissedToken, o.RecoveryGainPct, o.Narrative)
		}
	}
	return b.String()
}
