package service

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/portfolio-guardian/internal/analysis"
	"github.com/portfolio-guardian/internal/models"
	"github.com/portfolio-guardian/internal/session"
)

func (s *GuardianService) answerFollowUp(ctx context.Context, state *models.ConversationState, kind session.FollowUpKind) string {
	switch kind {
	case session.FollowUpCorrelation:
		return correlationAnswer(state.Correlation)
	case session.FollowUpSector:
		return sectorAnswer(state.Sector)
	case session.FollowUpRecommendation:
		return recommendationAnswer(state.Synthesis)
	case session.FollowUpCrashContext:
		return s.crashAnswer(ctx, state)
	default:
		return fmt.Sprintf("I can tell you more about the last analysis of %s: its correlation with %s, "+
			"its sector concentration, my recommendations, or how similar portfolios did in past crashes. "+
			"Send a new wallet address to start over.", state.WalletAddress, referenceSymbol(state))
	}
}

func correlationAnswer(corr *models.CorrelationAnalysis) string {
	if corr == nil {
		return "Correlation analysis was not available for this wallet."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Your portfolio is %d%% correlated with %s (%s correlation, coefficient %.2f over %d days).\n",
		corr.Percentage, corr.ReferenceSymbol, corr.Interpretation, corr.Coefficient, corr.CalculationPeriodDays)
	if corr.Narrative != "" {
		b.WriteString("\n")
		b.WriteString(corr.Narrative)
	}
	return strings.TrimRight(b.String(), "\n")
}

func sectorAnswer(sector *models.SectorAnalysis) string {
	if sector == nil {
		return "Sector analysis was not available for this wallet."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Diversification: %s\n", sector.DiversificationScore)
	for _, h := range sector.SectorsByPercentage() {
		fmt.Fprintf(&b, "- %s: %.1f%% (%s)\n", h.SectorName, h.Percentage, strings.Join(h.TokenSymbols, ", "))
	}
	if sector.Narrative != "" {
		b.WriteString("\n")
		b.WriteString(sector.Narrative)
	}
	return strings.TrimRight(b.String(), "\n")
}

func recommendationAnswer(synth *models.GuardianSynthesis) string {
	if synth == nil || len(synth.Recommendations) == 0 {
		return "I don't have recommendations for this wallet yet. Both analyses are needed to build them."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Overall risk: %s\n", synth.OverallRiskLevel)
	for _, r := range synth.Recommendations {
		fmt.Fprintf(&b, "%d. %s\n   %s\n", r.Priority, r.Action, r.Rationale)
		if r.ExpectedImpact != "" {
			fmt.Fprintf(&b, "   Expected impact: %s\n", r.ExpectedImpact)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *GuardianService) crashAnswer(ctx context.Context, state *models.ConversationState) string {
	var b strings.Builder
	if state.Correlation != nil {
		ref := referenceSymbol(state)
		for _, h := range state.Correlation.HistoricalContext {
			fmt.Fprintf(&b, "- %s (%s): portfolios in the %s bracket lost %.0f%% while %s fell %.0f%%\n",
				h.CrashName, h.Period, h.CorrelationBracket, math.Abs(h.PortfolioLossPct), ref, math.Abs(h.ReferenceLossPct))
		}
	}
	if state.Sector != nil {
		for _, r := range state.Sector.SectorRisks {
			fmt.Fprintf(&b, "- %s fell %.0f%% in %s (market average %.0f%%)\n",
				r.SectorName, math.Abs(r.SectorLossPct), r.CrashScenario, math.Abs(r.MarketAvgLossPct))
		}
	}
	if s.winners != nil {
		if winners := s.winners.RecoveryWinners(ctx, s.cfg.CrashScenario); len(winners) > 0 {
			fmt.Fprintf(&b, "Tokens that led the recovery: %s\n", strings.Join(winners, ", "))
		}
	}
	if b.Len() == 0 {
		return "I don't have historical crash data for this portfolio."
	}
	return "Historical crash context:\n" + strings.TrimRight(b.String(), "\n")
}

// referenceSymbol is the asset the stored correlation was measured against
func referenceSymbol(state *models.ConversationState) string {
	if state.Correlation != nil && state.Correlation.ReferenceSymbol != "" {
		return state.Correlation.ReferenceSymbol
	}
	return analysis.DefaultCorrelationParams().ReferenceSymbol
}
