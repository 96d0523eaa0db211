package models

// OpportunitySector is a sector that recovered strongly after a crash
type OpportunitySector struct {
	BestPerformer   string  `json:"best_performer"`
	RecoveryGainPct float64 `json:"recovery_gain_pct"`
	Reason          string  `json:"reason"`
}

// CrashRecord is one historical market crash with bracket and sector figures.
// Loss figures are negative percentages.
type CrashRecord struct {
	ScenarioID             string                       `json:"scenario_id"`
	Name                   string                       `json:"name"`
	Period                 string                       `json:"period"`
	ReferenceDrawdownPct   float64                      `json:"eth_drawdown_pct"`
	MarketAvgLossPct       float64                      `json:"market_avg_loss_pct"`
	CorrelationBrackets    map[string]float64           `json:"correlation_brackets"`
	SectorPerformance      map[string]float64           `json:"sector_performance"`
	RecoveryPeriod         string                       `json:"recovery_period"`
	RecoveryWinners        []string                     `json:"recovery_winners"`
	OpportunityCostSectors map[string]OpportunitySector `json:"opportunity_cost_sectors,omitempty"`
}

// CrashFilter narrows a historical crash query. Zero values match everything.
type CrashFilter struct {
	ScenarioID         string
	CorrelationBracket string
	// LossBelow keeps records whose bracket loss is strictly below this value.
	// Only applied together with CorrelationBracket.
	LossBelow *float64
	Sector    string
}

// Correlation brackets used by the crash dataset
const (
	BracketAbove90 = ">90%"
	Bracket80To90  = "80-90%"
	Bracket70To80  = "70-80%"
	BracketBelow70 = "<70%"
)

// BracketForPercentage maps a correlation percentage onto a crash bracket
func BracketForPercentage(pct int) string {
	switch {
	case pct > 90:
		return BracketAbove90
	case pct >= 80:
		return Bracket80To90
	case pct >= 70:
		return Bracket70To80
	default:
		return BracketBelow70
	}
}
