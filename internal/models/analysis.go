package models

import (
	"fmt"
	"math"
	"sort"

	apperrors "github.com/portfolio-guardian/internal/errors"
	"github.com/portfolio-guardian/internal/types"
)

// CrashPerformance is how portfolios in one correlation bracket fared in a crash
type CrashPerformance struct {
	CrashName          string  `json:"crash_name"`
	Period             string  `json:"period"`
	CorrelationBracket string  `json:"correlation_bracket"`
	PortfolioLossPct   float64 `json:"portfolio_loss_pct"`
	ReferenceLossPct   float64 `json:"reference_loss_pct"`
	MarketAvgLossPct   float64 `json:"market_avg_loss_pct"`
}

// ExcludedHolding records a holding dropped from the correlation calculation
type ExcludedHolding struct {
	Symbol   string  `json:"symbol"`
	ValueUSD float64 `json:"value_usd"`
	Reason   string  `json:"reason"`
}

// CorrelationAnalysis is the output of the correlation engine
type CorrelationAnalysis struct {
	ReferenceSymbol       string               `json:"reference_symbol"`
	Coefficient           float64              `json:"correlation_coefficient"`
	Percentage            int                  `json:"correlation_percentage"`
	Interpretation        types.Interpretation `json:"interpretation"`
	HistoricalContext     []CrashPerformance   `json:"historical_context"`
	CalculationPeriodDays int                  `json:"calculation_period_days"`
	DataPoints            int                  `json:"data_points"`
	ExcludedHoldings      []ExcludedHolding    `json:"excluded_holdings,omitempty"`
	Narrative             string               `json:"narrative"`
}

// Validate checks the ranges a correlation result must respect
func (c *CorrelationAnalysis) Validate() error {
	if c == nil {
		return apperrors.NewInvalidDataError("correlation_analysis", "missing")
	}
	if math.IsNaN(c.Coefficient) || c.Coefficient < -1 || c.Coefficient > 1 {
		return apperrors.NewInvalidDataError("correlation_coefficient", fmt.Sprintf("%v outside [-1, 1]", c.Coefficient))
	}
	if c.Percentage < 0 || c.Percentage > 100 {
		return apperrors.NewInvalidDataError("correlation_percentage", fmt.Sprintf("%d outside [0, 100]", c.Percentage))
	}
	switch c.Interpretation {
	case types.InterpretationHigh, types.InterpretationModerate, types.InterpretationLow:
	default:
		return apperrors.NewInvalidDataError("interpretation", fmt.Sprintf("unknown tier %q", c.Interpretation))
	}
	return nil
}

// SectorHolding aggregates the holdings of one sector
type SectorHolding struct {
	SectorName   string   `json:"sector_name"`
	ValueUSD     float64  `json:"total_value_usd"`
	Percentage   float64  `json:"percentage"`
	TokenSymbols []string `json:"tokens"`
}

// OpportunityCost is the recovery gain of a sector the portfolio missed
type OpportunityCost struct {
	MissedSector    string  `json:"missed_sector"`
	MissedToken     string  `json:"missed_token"`
	RecoveryGainPct float64 `json:"recovery_gain_pct"`
	Narrative       string  `json:"narrative"`
}

// SectorRisk pairs a concentrated sector's crash loss with its opportunity cost
type SectorRisk struct {
	SectorName       string           `json:"sector_name"`
	CrashScenario    string           `json:"crash_scenario"`
	SectorLossPct    float64          `json:"sector_loss_pct"`
	MarketAvgLossPct float64          `json:"market_avg_loss_pct"`
	CrashPeriod      string           `json:"crash_period"`
	OpportunityCost  *OpportunityCost `json:"opportunity_cost,omitempty"`
}

// SectorAnalysis is the output of the sector classifier
type SectorAnalysis struct {
	SectorBreakdown      map[string]SectorHolding   `json:"sector_breakdown"`
	ConcentratedSectors  []string                   `json:"concentrated_sectors"`
	DiversificationScore types.DiversificationScore `json:"diversification_score"`
	SectorRisks          []SectorRisk               `json:"sector_risks"`
	Narrative            string                     `json:"narrative"`
}

// Validate checks the structural shape of a sector result
func (s *SectorAnalysis) Validate() error {
	if s == nil {
		return apperrors.NewInvalidDataError("sector_analysis", "missing")
	}
	switch s.DiversificationScore {
	case types.ScoreWellDiversified, types.ScoreModerateConcentration, types.ScoreHighConcentration:
	default:
		return apperrors.NewInvalidDataError("diversification_score", fmt.Sprintf("unknown tier %q", s.DiversificationScore))
	}
	for _, name := range s.ConcentratedSectors {
		if _, ok := s.SectorBreakdown[name]; !ok {
			return apperrors.NewInvalidDataError("concentrated_sectors", fmt.Sprintf("%q missing from breakdown", name))
		}
	}
	return nil
}

// SectorsByPercentage returns the breakdown ordered by descending share,
// ties broken by name.
func (s *SectorAnalysis) SectorsByPercentage() []SectorHolding {
	out := make([]SectorHolding, 0, len(s.SectorBreakdown))
	for _, h := range s.SectorBreakdown {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Percentage != out[j].Percentage {
			return out[i].Percentage > out[j].Percentage
		}
		return out[i].SectorName < out[j].SectorName
	})
	return out
}

// Recommendation is one prioritized remediation action
type Recommendation struct {
	Priority       int    `json:"priority"`
	Action         string `json:"action"`
	Rationale      string `json:"rationale"`
	ExpectedImpact string `json:"expected_impact"`
}

// GuardianSynthesis fuses one correlation result with one sector result
type GuardianSynthesis struct {
	CorrelationAnalysis     *CorrelationAnalysis `json:"correlation_analysis"`
	SectorAnalysis          *SectorAnalysis      `json:"sector_analysis"`
	CompoundingRiskDetected bool                 `json:"compounding_risk_detected"`
	OverallRiskLevel        types.RiskLevel      `json:"overall_risk_level"`
	RiskMultiplierEffect    string               `json:"risk_multiplier_effect"`
	Recommendations         []Recommendation     `json:"recommendations"`
	SynthesisNarrative      string               `json:"synthesis_narrative"`
}
